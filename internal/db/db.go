// Package db opens the workspace's SQLite database.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// StateDir holds caseline's on-disk state inside a workspace.
const StateDir = ".caseline"

const fileName = "caseline.db"

type Config struct {
	Workspace string
	// BusyTimeout bounds how long a writer waits on a locked database.
	// Zero means five seconds.
	BusyTimeout time.Duration
}

func (c Config) workspace() string {
	if c.Workspace == "" {
		return "."
	}
	return c.Workspace
}

func (c Config) dsn() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + Path(c.workspace()) + "?" + q.Encode()
}

// EnsureWorkspace creates <workspace>/.caseline and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	dir := filepath.Join(workspace, StateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// Open opens (creating if needed) the workspace database and checks that it
// answers.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.workspace()); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", Path(cfg.workspace()), err)
	}
	return conn, nil
}

// Path is the database file for workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, StateDir, fileName)
}
