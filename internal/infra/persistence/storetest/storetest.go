// Package storetest holds the behavioural contract every kv.Store backend must
// satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvorm/pkg/kv"
)

// Factory returns an empty store. It is called once per subtest; cleanup is
// the factory's responsibility (t.Cleanup).
type Factory func(t *testing.T) kv.Store

// Run executes the contract suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, kv.Store)
	}{
		{"scalars", testScalars},
		{"counters", testCounters},
		{"counter increment is atomic", testCounterConcurrency},
		{"sets", testSets},
		{"namespaces are independent", testNamespaces},
		{"empty key", testEmptyKey},
		{"dump and restore", testDumpRestore},
		{"clear", testClear},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

func testScalars(t *testing.T, s kv.Store) {
	ctx := context.Background()
	_, ok, err := s.Get(ctx, "Post#1:title")
	require.NoError(t, err)
	assert.False(t, ok, "absent key")

	require.NoError(t, s.Put(ctx, "Post#1:title", "hello"))
	require.NoError(t, s.Put(ctx, "Post#1:title", "hello again"))
	v, ok, err := s.Get(ctx, "Post#1:title")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello again", v)

	require.NoError(t, s.Put(ctx, "Post#1:body", ""))
	v, ok, err = s.Get(ctx, "Post#1:body")
	require.NoError(t, err)
	assert.True(t, ok, "empty value must be present")
	assert.Empty(t, v)

	require.NoError(t, s.Delete(ctx, "Post#1:title"))
	_, ok, err = s.Get(ctx, "Post#1:title")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Delete(ctx, "Post#1:title"), "deleting an absent key")
}

func testCounters(t *testing.T, s kv.Store) {
	ctx := context.Background()
	n, err := s.CounterGet(ctx, "Post:last_id")
	require.NoError(t, err)
	assert.Zero(t, n)
	for want := int64(1); want <= 3; want++ {
		n, err := s.CounterIncrement(ctx, "Post:last_id")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, s.CounterSet(ctx, "Post:last_id", 40))
	n, err = s.CounterIncrement(ctx, "Post:last_id")
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)

	require.NoError(t, s.CounterSet(ctx, "Post#1:views", -5))
	n, err = s.CounterGet(ctx, "Post#1:views")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), n)

	require.NoError(t, s.CounterDelete(ctx, "Post:last_id"))
	n, err = s.CounterGet(ctx, "Post:last_id")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCounterConcurrency(t *testing.T, s kv.Store) {
	ctx := context.Background()
	const workers, per = 8, 25
	var (
		mu   sync.Mutex
		seen = make(map[int64]int, workers*per)
		errs []error
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Go(func() {
			for range per {
				n, err := s.CounterIncrement(ctx, "User:last_id")
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					seen[n]++
				}
				mu.Unlock()
				if err != nil {
					return
				}
			}
		})
	}
	wg.Wait()
	require.Empty(t, errs)
	assert.Len(t, seen, workers*per, "every increment returns a distinct value")
	n, err := s.CounterGet(ctx, "User:last_id")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*per), n)
}

func testSets(t *testing.T, s kv.Store) {
	ctx := context.Background()
	key := "Post#1:authors_ids"
	members, err := s.SetMembers(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, s.SetAdd(ctx, key, "3", "10", "2"))
	require.NoError(t, s.SetAdd(ctx, key, "3"))
	require.NoError(t, s.SetAdd(ctx, key))
	members, err = s.SetMembers(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "2", "3"}, members, "unique and lexically sorted")

	ok, err := s.SetIsMember(ctx, key, "10")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SetIsMember(ctx, key, "1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetRemove(ctx, key, "10", "99"))
	members, err = s.SetMembers(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, members)
	assert.NoError(t, s.SetRemove(ctx, "Post#404:authors_ids", "1"), "remove from absent set")

	require.NoError(t, s.SetDelete(ctx, key))
	members, err = s.SetMembers(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testNamespaces(t *testing.T, s kv.Store) {
	ctx := context.Background()
	key := "Post#7:shared"
	require.NoError(t, s.Put(ctx, key, "scalar"))
	require.NoError(t, s.CounterSet(ctx, key, 7))
	require.NoError(t, s.SetAdd(ctx, key, "m"))

	require.NoError(t, s.Delete(ctx, key))
	n, err := s.CounterGet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n, "counter disturbed by scalar delete")
	ok, err := s.SetIsMember(ctx, key, "m")
	require.NoError(t, err)
	assert.True(t, ok, "set disturbed by scalar delete")

	require.NoError(t, s.SetDelete(ctx, key))
	n, err = s.CounterGet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n, "counter disturbed by set delete")
}

func testEmptyKey(t *testing.T, s kv.Store) {
	ctx := context.Background()
	assert.ErrorIs(t, s.Put(ctx, "", "x"), kv.ErrEmptyKey)
	_, err := s.CounterIncrement(ctx, "")
	assert.ErrorIs(t, err, kv.ErrEmptyKey)
	assert.ErrorIs(t, s.SetAdd(ctx, "", "x"), kv.ErrEmptyKey)
}

func testDumpRestore(t *testing.T, s kv.Store) {
	d, ok := s.(kv.Dumper)
	if !ok {
		t.Skip("store does not implement kv.Dumper")
	}
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "Media#42:location", "/tmp/hello.png"))
	require.NoError(t, s.CounterSet(ctx, "Media:last_id", 42))
	require.NoError(t, s.SetAdd(ctx, "User#1:posts_ids", "1", "2"))

	snap, err := d.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, "/tmp/hello.png", snap.Scalars["Media#42:location"])
	assert.Equal(t, int64(42), snap.Counters["Media:last_id"])
	assert.Equal(t, []string{"1", "2"}, snap.Sets["User#1:posts_ids"])

	require.NoError(t, s.Put(ctx, "Other#1:x", "y"))
	require.NoError(t, d.Restore(ctx, snap))
	_, ok, err = s.Get(ctx, "Other#1:x")
	require.NoError(t, err)
	assert.False(t, ok, "restore replaces existing state")
	v, _, err := s.Get(ctx, "Media#42:location")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/hello.png", v)
	members, err := s.SetMembers(ctx, "User#1:posts_ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, members)
}

func testClear(t *testing.T, s kv.Store) {
	c, ok := s.(kv.Clearer)
	if !ok {
		t.Skip("store does not implement kv.Clearer")
	}
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", "1"))
	require.NoError(t, s.CounterSet(ctx, "b", 2))
	require.NoError(t, s.SetAdd(ctx, "c", "3"))
	require.NoError(t, c.Clear(ctx))

	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "scalar survived clear")
	n, err := s.CounterGet(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, n, "counter survived clear")
	members, err := s.SetMembers(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, members, "set survived clear")
}
