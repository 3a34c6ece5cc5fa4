package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sydlexius/alldbs/internal/database"
)

// SQLiteAdapterName is the selector of the file-backed adapter.
const SQLiteAdapterName = "sqlite"

// SQLiteAdapter stores each database as <dir>/<name>.db.
type SQLiteAdapter struct {
	dir string
}

// NewSQLiteAdapter creates an adapter rooted at dir.
func NewSQLiteAdapter(dir string) *SQLiteAdapter {
	return &SQLiteAdapter{dir: dir}
}

// Name returns "sqlite".
func (a *SQLiteAdapter) Name() string { return SQLiteAdapterName }

// Path returns the file backing name.
func (a *SQLiteAdapter) Path(name string) string {
	return filepath.Join(a.dir, name+".db")
}

// Create opens (and so creates) the database file.
func (a *SQLiteAdapter) Create(ctx context.Context, name string) error {
	if err := validateLocalName(name); err != nil {
		return err
	}
	db, err := database.Open(a.Path(name))
	if err != nil {
		return fmt.Errorf("creating sqlite database %q: %w", name, err)
	}
	// An empty SQLite file is not materialized until something is written.
	if _, err := db.ExecContext(ctx, "PRAGMA user_version = 1"); err != nil {
		_ = db.Close()
		return fmt.Errorf("initializing sqlite database %q: %w", name, err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing sqlite database %q: %w", name, err)
	}
	return nil
}

// Destroy removes the database file and its WAL companions.
func (a *SQLiteAdapter) Destroy(_ context.Context, name string) error {
	if err := validateLocalName(name); err != nil {
		return err
	}
	path := a.Path(name)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}
