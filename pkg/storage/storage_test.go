package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvorm/internal/infra/persistence/memory"
	"kvorm/internal/infra/persistence/sqlite"
)

func TestOpenMemory(t *testing.T) {
	store, err := Open(context.Background(), Config{Driver: DriverMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.IsType(t, &memory.Store{}, store)
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	store, err := Open(context.Background(), Config{SQLitePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	lite, ok := store.(*sqlite.Store)
	require.True(t, ok, "expected sqlite store, got %T", store)
	assert.Equal(t, path, lite.Path())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver redis")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvDriver, "postgres")
	t.Setenv(EnvSQLitePath, "/tmp/x.db")
	t.Setenv(EnvPostgresDSN, "postgres://db/kv")
	assert.Equal(t, Config{Driver: DriverPostgres, SQLitePath: "/tmp/x.db", PostgresDSN: "postgres://db/kv"}, ConfigFromEnv())
}
