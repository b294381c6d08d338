package app

import (
	"context"
	"database/sql"
	"fmt"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/logger"
	"caseline/internal/migrate"
)

// Options select the workspace to open.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/caseline.yml.
	ConfigPath string
	Logger     *logger.Logger
}

// ResolveConfig loads the workspace config, falling back to the built-in
// surrogacy pipeline when no file exists.
func ResolveConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		opts.Logger.Debug("no config file, using default pipeline", "workspace", opts.Workspace)
		cfg = config.Default("surrogacy")
	}
	return cfg, nil
}

// Open prepares a ready engine: db opened and migrated, config loaded and
// stages synced. The caller closes the returned db.
func Open(ctx context.Context, opts Options) (engine.Engine, *sql.DB, error) {
	cfg, err := ResolveConfig(opts)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	applied, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		opts.Logger.Info("applied migrations", "workspace", opts.Workspace, "migrations", applied)
	}
	e := engine.New(conn, cfg)
	if opts.Logger != nil {
		e.Log = opts.Logger
	}
	if err := e.SyncStages(ctx); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("sync stages: %w", err)
	}
	return e, conn, nil
}
