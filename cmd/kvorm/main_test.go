package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvorm/internal/infra/archive/core"
	"kvorm/pkg/kv"
	"kvorm/pkg/orm"
	"kvorm/pkg/storage"
)

const testSchema = `
User:
  first_name: String
  habtm:
    - model: Post
      method: posts
Post:
  title: String
  views: Integer
  habtm:
    - {model: User, method: authors, inverse_of: posts}
`

type env struct {
	dir    string
	config string
	db     string
}

// newEnv writes a schema and a config using a sqlite file and a filesystem
// archive under a temporary directory.
func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{dir: dir, config: filepath.Join(dir, "kvorm.yaml"), db: filepath.Join(dir, "kvorm.db")}
	schema := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schema, []byte(testSchema), 0o644))
	cfg := fmt.Sprintf(`storage:
  driver: sqlite
  sqlite_path: %s
archive:
  driver: fs
  root: %s
log:
  level: error
schema: %s
`, e.db, filepath.Join(dir, "archive"), schema)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o644))
	return e
}

// withStore opens the environment's store outside the CLI.
func (e env) withStore(t *testing.T, fn func(storage.Store, *orm.Mapper)) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Driver: storage.DriverSQLite, SQLitePath: e.db})
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	schemas, err := orm.DecodeSchemas([]byte(testSchema))
	require.NoError(t, err)
	reg := orm.NewRegistry()
	require.NoError(t, reg.RegisterAll(schemas...))
	require.NoError(t, reg.Finalize())
	m, err := orm.NewMapper(store, reg)
	require.NoError(t, err)
	fn(store, m)
}

// seed stores User#1 authoring Post#1.
func (e env) seed(t *testing.T) {
	e.withStore(t, func(_ storage.Store, m *orm.Mapper) {
		ctx := context.Background()
		user, err := m.New("User")
		require.NoError(t, err)
		require.NoError(t, user.SetString("first_name", "Ada"))
		require.NoError(t, user.Save(ctx))

		post, err := m.New("Post")
		require.NoError(t, err)
		require.NoError(t, post.SetString("title", "Hello"))
		require.NoError(t, post.SetInt("views", 7))
		require.NoError(t, post.SetIDs("authors_ids", 1))
		require.NoError(t, post.Save(ctx))
	})
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"--config", e.config}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out, &out))
	assert.Equal(t, "kvorm dev\n", out.String())

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"version", "--json"}, &out, &out))
	assert.JSONEq(t, `{"version":"dev"}`, out.String())
}

func TestGet(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	out, err := e.run(t, "get", "Post", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"Hello"`)
	assert.Contains(t, out, "[1]")
	assert.Regexp(t, `views\s+7`, out)

	out, err = e.run(t, "get", "User", "1", "first_name", "posts_ids", "--json")
	require.NoError(t, err)
	var values map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &values))
	assert.Equal(t, map[string]any{"first_name": "Ada", "posts_ids": []any{float64(1)}}, values)

	out, err = e.run(t, "get", "User", "9")
	require.NoError(t, err)
	assert.Regexp(t, `first_name\s+null`, out)
}

func TestGetErrors(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "get", "Ghost", "1")
	assert.ErrorIs(t, err, orm.ErrUnknownModel)

	_, err = e.run(t, "get", "Post", "abc")
	assert.ErrorIs(t, err, orm.ErrInvalidID)

	_, err = e.run(t, "get", "Post", "1", "subtitle")
	assert.Error(t, err)

	_, err = e.run(t, "get", "Post")
	assert.Error(t, err)
}

func TestMissingSchema(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.Remove(filepath.Join(e.dir, "schema.yaml")))
	_, err := e.run(t, "verify")
	assert.ErrorContains(t, err, "read schema")

	// Commands that do not need the schema still work.
	_, err = e.run(t, "stats")
	assert.NoError(t, err)
}

func TestVerify(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	out, err := e.run(t, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "checked 2 entities")

	e.withStore(t, func(s storage.Store, _ *orm.Mapper) {
		require.NoError(t, s.SetDelete(context.Background(), "Post#1:authors_ids"))
	})
	out, err = e.run(t, "verify", "--json")
	require.EqualError(t, err, "1 integrity issue found")
	var report struct {
		Issues []struct {
			Key      string `json:"key"`
			Expected string `json:"expected"`
		} `json:"issues"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "Post#1:authors_ids", report.Issues[0].Key)
	assert.Equal(t, "1", report.Issues[0].Expected)
}

func TestExportListImport(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	out, err := e.run(t, "export", "--codec", "bson")
	require.NoError(t, err)
	assert.Regexp(t, `^exported snapshots/[0-9a-f-]{36}\.bson \(`, out)

	out, err = e.run(t, "list-snapshots", "--json")
	require.NoError(t, err)
	var infos []core.Info
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "bson", infos[0].Metadata["codec"])
	name := strings.TrimPrefix(infos[0].Key, "snapshots/")

	out, err = e.run(t, "list-snapshots")
	require.NoError(t, err)
	assert.Contains(t, out, infos[0].Key)

	e.withStore(t, func(s storage.Store, _ *orm.Mapper) {
		require.NoError(t, s.Clear(context.Background()))
	})
	out, err = e.run(t, "get", "Post", "1", "title")
	require.NoError(t, err)
	assert.Regexp(t, `title\s+null`, out)

	out, err = e.run(t, "import", name)
	require.NoError(t, err)
	assert.Contains(t, out, "imported "+name)

	out, err = e.run(t, "get", "Post", "1", "title")
	require.NoError(t, err)
	assert.Contains(t, out, `"Hello"`)

	_, err = e.run(t, "import", "missing.json")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExportRejectsUnknownCodec(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "export", "--codec", "xml")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	out, err := e.run(t, "stats", "--json")
	require.NoError(t, err)
	var stats storeStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats.Models, 2)
	assert.Equal(t, "Post", stats.Models[0].Model)
	assert.Equal(t, int64(1), stats.Models[0].LastID)
	assert.Equal(t, "User", stats.Models[1].Model)

	out, err = e.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "MODEL")
	assert.Contains(t, out, "total")
}

func TestCollectStats(t *testing.T) {
	stats := collectStats(kv.Snapshot{
		Scalars:  map[string]string{"Post#1:title": "Hi", "Post#2:title": "Yo"},
		Counters: map[string]int64{"Post:last_id": 2, "Post#1:views": 3},
		Sets:     map[string][]string{"Post#1:authors_ids": {"1", "2"}, "User#1:posts_ids": {"1"}},
	})
	require.Len(t, stats.Models, 2)
	post := stats.Models[0]
	assert.Equal(t, modelStats{
		Model: "Post", LastID: 2, Scalars: 2, Sets: 1, Members: 2,
		Bytes: uint64(len("Post#1:title") + 2 + len("Post#2:title") + 2 +
			len("Post:last_id") + 8 + len("Post#1:views") + 8 +
			len("Post#1:authors_ids") + 2),
	}, post)
	assert.Equal(t, 2, stats.Total.Scalars)
	assert.Equal(t, 2, stats.Total.Sets)
	assert.Equal(t, 3, stats.Total.Members)
}

func TestMetricsFlag(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	out, err := e.run(t, "get", "Post", "1", "title", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, `kvorm_store_calls_total{primitive="get",status="success"} 1`)
	assert.Contains(t, out, `kvorm_operations_total{operation="load",status="success"} 1`)
	assert.Contains(t, out, `kvorm_operation_duration_seconds_count{operation="load"} 1`)
}

func TestTraceFlag(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--config", e.config, "--trace", "get", "Post", "1", "title"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), `"operation":"load"`)
}

func TestConfigErrors(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "stats"}, &out, &out)
	assert.ErrorContains(t, err, "load config")
}
