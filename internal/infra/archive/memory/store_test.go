package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvorm/internal/infra/archive/core"
)

func TestMemoryArchiveLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	assert.Equal(t, core.DriverMemory, s.Driver())

	info, err := s.Put(ctx, "snapshots/a.json", strings.NewReader("{}"), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"keys": "0"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)
	assert.NotEmpty(t, info.ETag)
	_, err = s.Put(ctx, "snapshots/a.json", strings.NewReader("x"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := s.Get(ctx, "snapshots/a.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "{}", string(body))
	assert.Equal(t, "0", got.Metadata["keys"])

	got.Metadata["keys"] = "mutated"
	head, err := s.Head(ctx, "snapshots/a.json")
	require.NoError(t, err)
	assert.Equal(t, "0", head.Metadata["keys"], "metadata leaked")

	_, err = s.Put(ctx, "other/b.json", strings.NewReader("[]"), core.PutOptions{})
	require.NoError(t, err)
	list, err := s.List(ctx, "snapshots/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "snapshots/a.json", list[0].Key)
	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "other/b.json", all[0].Key, "listing is sorted")

	ok, err := s.Delete(ctx, "snapshots/a.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "snapshots/a.json")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Head(ctx, "snapshots/a.json")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = s.Get(ctx, "../x")
	assert.ErrorIs(t, err, core.ErrInvalidKey)
}

func TestMemoryArchiveCancelledPut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Put(ctx, "a", strings.NewReader("x"), core.PutOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
