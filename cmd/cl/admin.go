package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/server"
)

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Pipeline and access config",
		Long:  "caseline.yml defines the stage pipeline, the back-entry tolerance, RBAC roles and webhooks. Without a file the built-in surrogacy pipeline is used.",
	}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var pipelineID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(pipelineID)), 0o644); err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]string{"path": path})
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&pipelineID, "pipeline", "surrogacy", "pipeline id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func loadConfig() (*config.Config, error) {
	log, err := newLogger("")
	if err != nil {
		return nil, err
	}
	defer log.Sync()
	return app.ResolveConfig(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     log,
	})
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cfg)
			}
			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if jsonOutput() {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				return printJSON(map[string]any{"ok": err == nil, "error": msg})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	c.AddCommand(apikeyCreateCmd())
	c.AddCommand(apikeyListCmd())
	c.AddCommand(apikeyRevokeCmd())
	return c
}

func checkRoles(cfg *config.Config, roles []string) error {
	svc := auth.Service{Config: cfg}
	for _, role := range roles {
		if !svc.KnownRole(role) {
			return fmt.Errorf("invalid role %q", role)
		}
	}
	return nil
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, key, err := e.CreateAPIKey(ctx, engine.APIKeyCreateOptions{
					ActorID: actorID(),
					Name:    name,
					Roles:   splitFlags(roles),
				})
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"id": rec.ID, "actor_id": rec.ActorID, "roles": rec.Roles, "key": key})
				}
				fmt.Printf("API key %s for %s\n%s\nStore it now; it is not shown again.\n", rec.ID, rec.ActorID, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles granted to the key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.ActorID, k.Name, strings.Join(k.Roles, ","), k.CreatedAt})
				}
				return printTable(keys, table.Row{"ID", "Actor", "Name", "Roles", "Created"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke KEY_ID",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

func jwtSecret() (string, error) {
	secret := viper.GetString("jwt-secret")
	if secret == "" {
		return "", errors.New("CASELINE_JWT_SECRET is required")
	}
	return secret, nil
}

func tokenCmd() *cobra.Command {
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := jwtSecret()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			roles := splitFlags(roles)
			if err := checkRoles(cfg, roles); err != nil {
				return err
			}
			token, err := server.SignTokenTTL(secret, actorID(), roles, ttl)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 for no expiry")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := jwtSecret()
			if err != nil {
				return err
			}
			mode := viper.GetString("log-mode")
			if mode == "off" {
				mode = "prod"
			}
			log, err := newLogger(mode)
			if err != nil {
				return err
			}
			defer log.Sync()
			ctx := cmd.Context()
			e, conn, err := app.Open(ctx, app.Options{
				Workspace:  viper.GetString("workspace"),
				ConfigPath: viper.GetString("config"),
				Logger:     log,
			})
			if err != nil {
				return err
			}
			defer conn.Close()
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, AllowLegacyActorHeader: legacyActor, Logger: log},
			})
			if err != nil {
				return err
			}
			server.StartWebhooks(ctx, e)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			log.Info("serving caseline api", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyActor, "allow-actor-header", false, "accept X-Actor-Id without a token (local use only)")
	return cmd
}
