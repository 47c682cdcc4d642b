package s3

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvorm/internal/infra/archive/core"
)

func TestS3ArchiveLifecycle(t *testing.T) {
	ctx := context.Background()
	s, fb := newMockStore(t, "")
	assert.Equal(t, core.DriverS3, s.Driver())
	assert.Equal(t, "kvorm-test", s.Bucket())

	info, err := s.Put(ctx, "snapshots/a.json", strings.NewReader(`{"sets":{}}`), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"codec": "json"}})
	require.NoError(t, err)
	assert.Equal(t, "snapshots/a.json", info.Key)
	assert.Equal(t, int64(11), info.Size)
	assert.Equal(t, "etag123", info.ETag)
	assert.Equal(t, `{"sets":{}}`, string(fb.objects["snapshots/a.json"].body))
	_, err = s.Put(ctx, "snapshots/a.json", strings.NewReader("x"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := s.Get(ctx, "snapshots/a.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"sets":{}}`, string(body))
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, "json", got.Metadata["codec"])
	assert.Equal(t, "etag123", got.ETag)

	_, err = s.Put(ctx, "snapshots/b.json", strings.NewReader("{}"), core.PutOptions{})
	require.NoError(t, err)
	list, err := s.List(ctx, "snapshots/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "snapshots/a.json", list[0].Key)
	assert.Equal(t, int64(2), list[1].Size)

	ok, err := s.Delete(ctx, "snapshots/a.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "snapshots/a.json")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Head(ctx, "snapshots/a.json")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = s.Get(ctx, "snapshots/a.json")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFakeBucketHeadersAreCanonical(t *testing.T) {
	h := fakeObject{body: []byte("{}"), contentType: "application/json", metadata: map[string]string{"codec": "json"}}.header()
	assert.Equal(t, `"etag123"`, h.Get("ETag"))
	assert.Equal(t, "2", h.Get("Content-Length"))
	assert.Equal(t, "json", h.Get("X-Amz-Meta-Codec"))
}

func TestS3ArchivePrefix(t *testing.T) {
	ctx := context.Background()
	s, fb := newMockStore(t, "/team/kvorm/")
	_, err := s.Put(ctx, "snapshots/a.json", strings.NewReader("{}"), core.PutOptions{})
	require.NoError(t, err)
	assert.Contains(t, fb.objects, "team/kvorm/snapshots/a.json", "object stored under prefix")

	list, err := s.List(ctx, "snapshots/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "snapshots/a.json", list[0].Key, "prefix stripped from listing")
}

func TestS3ArchiveErrors(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, Config{})
	assert.Error(t, err, "bucket required")

	s, fb := newMockStore(t, "")
	_, err = s.Put(ctx, "../x", strings.NewReader("x"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidKey)

	fb.fail[http.MethodHead] = http.StatusForbidden
	_, err = s.Put(ctx, "a", strings.NewReader("x"), core.PutOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrExists)
	_, err = s.Delete(ctx, "a")
	assert.Error(t, err, "delete surfaces the head failure")
	delete(fb.fail, http.MethodHead)

	fb.fail[http.MethodGet] = http.StatusForbidden
	_, err = s.List(ctx, "")
	assert.Error(t, err)
}
