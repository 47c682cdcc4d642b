// Package storage selects and opens a kv.Store backend.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"kvorm/internal/infra/persistence/memory"
	"kvorm/internal/infra/persistence/postgres"
	"kvorm/internal/infra/persistence/sqlite"
	"kvorm/pkg/kv"
)

// Driver identifies a concrete backend.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Environment variables read by ConfigFromEnv.
const (
	EnvDriver      = "KVORM_STORAGE_DRIVER"
	EnvSQLitePath  = "KVORM_SQLITE_PATH"
	EnvPostgresDSN = "KVORM_POSTGRES_DSN"
)

// Store is an opened backend. Every backend can be dumped and cleared.
type Store interface {
	kv.Store
	kv.Dumper
	kv.Clearer
	io.Closer
}

// Config selects a backend. Empty fields take the backend defaults.
type Config struct {
	Driver      Driver `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// ConfigFromEnv reads the backend selection from the environment. The driver
// defaults to sqlite.
//
//	KVORM_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	KVORM_SQLITE_PATH: path to sqlite file (default ./kvorm.db)
//	KVORM_POSTGRES_DSN: postgres DSN when driver=postgres
func ConfigFromEnv() Config {
	return Config{
		Driver:      Driver(os.Getenv(EnvDriver)),
		SQLitePath:  os.Getenv(EnvSQLitePath),
		PostgresDSN: os.Getenv(EnvPostgresDSN),
	}
}

// Open opens the backend selected by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		s, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
