// Package sqlite provides the embedded kv.Store backend on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kvorm/internal/infra/persistence/sqlkv"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "kvorm.db"

var sqlOpen = sql.Open

// Store persists the three kv namespaces to a single SQLite file.
type Store struct {
	*sqlkv.Store
	path string
}

// NewStore opens (creating when needed) the database at path. ":memory:" opens
// a private in-memory database.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sqlOpen("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	kvs, err := sqlkv.New(ctx, db, sqlkv.SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: kvs, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
