// Package memory provides an in-memory kv.Store used for tests and ephemeral
// environments.
package memory

import (
	"context"
	"slices"
	"sync"

	"kvorm/pkg/kv"
)

// Compile-time contract assertions.
var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Dumper  = (*Store)(nil)
	_ kv.Clearer = (*Store)(nil)
)

type memoryState struct {
	scalars  map[string]string
	counters map[string]int64
	sets     map[string]map[string]struct{}
}

func newMemoryState() memoryState {
	return memoryState{
		scalars:  make(map[string]string),
		counters: make(map[string]int64),
		sets:     make(map[string]map[string]struct{}),
	}
}

func snapshotFromMemoryState(state memoryState) kv.Snapshot {
	snap := kv.Snapshot{
		Scalars:  make(map[string]string, len(state.scalars)),
		Counters: make(map[string]int64, len(state.counters)),
		Sets:     make(map[string][]string, len(state.sets)),
	}
	for k, v := range state.scalars {
		snap.Scalars[k] = v
	}
	for k, v := range state.counters {
		snap.Counters[k] = v
	}
	for k, set := range state.sets {
		snap.Sets[k] = sortedMembers(set)
	}
	return snap
}

func memoryStateFromSnapshot(snap kv.Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range snap.Scalars {
		state.scalars[k] = v
	}
	for k, v := range snap.Counters {
		state.counters[k] = v
	}
	for k, members := range snap.Sets {
		if len(members) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		state.sets[k] = set
	}
	return state
}

func sortedMembers(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Store is a mutex-guarded map-backed kv.Store.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	closed bool
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

func (s *Store) check(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return kv.ErrStoreClosed
	}
	return kv.ValidKey(key)
}

func (s *Store) read(ctx context.Context, key string, fn func(*memoryState)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, key); err != nil {
		return err
	}
	fn(&s.state)
	return nil
}

func (s *Store) write(ctx context.Context, key string, fn func(*memoryState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, key); err != nil {
		return err
	}
	fn(&s.state)
	return nil
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.read(ctx, key, func(st *memoryState) { value, ok = st.scalars[key] })
	return value, ok, err
}

// Put implements kv.Store.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return s.write(ctx, key, func(st *memoryState) { st.scalars[key] = value })
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, func(st *memoryState) { delete(st.scalars, key) })
}

// CounterGet implements kv.Store.
func (s *Store) CounterGet(ctx context.Context, key string) (n int64, err error) {
	err = s.read(ctx, key, func(st *memoryState) { n = st.counters[key] })
	return n, err
}

// CounterSet implements kv.Store.
func (s *Store) CounterSet(ctx context.Context, key string, value int64) error {
	return s.write(ctx, key, func(st *memoryState) { st.counters[key] = value })
}

// CounterIncrement implements kv.Store.
func (s *Store) CounterIncrement(ctx context.Context, key string) (n int64, err error) {
	err = s.write(ctx, key, func(st *memoryState) {
		st.counters[key]++
		n = st.counters[key]
	})
	return n, err
}

// CounterDelete implements kv.Store.
func (s *Store) CounterDelete(ctx context.Context, key string) error {
	return s.write(ctx, key, func(st *memoryState) { delete(st.counters, key) })
}

// SetAdd implements kv.Store.
func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	return s.write(ctx, key, func(st *memoryState) {
		if len(members) == 0 {
			return
		}
		set, ok := st.sets[key]
		if !ok {
			set = make(map[string]struct{}, len(members))
			st.sets[key] = set
		}
		for _, m := range members {
			set[m] = struct{}{}
		}
	})
}

// SetRemove implements kv.Store. A set left empty is dropped.
func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	return s.write(ctx, key, func(st *memoryState) {
		set, ok := st.sets[key]
		if !ok {
			return
		}
		for _, m := range members {
			delete(set, m)
		}
		if len(set) == 0 {
			delete(st.sets, key)
		}
	})
}

// SetMembers implements kv.Store.
func (s *Store) SetMembers(ctx context.Context, key string) (members []string, err error) {
	err = s.read(ctx, key, func(st *memoryState) { members = sortedMembers(st.sets[key]) })
	return members, err
}

// SetIsMember implements kv.Store.
func (s *Store) SetIsMember(ctx context.Context, key, member string) (ok bool, err error) {
	err = s.read(ctx, key, func(st *memoryState) { _, ok = st.sets[key][member] })
	return ok, err
}

// SetDelete implements kv.Store.
func (s *Store) SetDelete(ctx context.Context, key string) error {
	return s.write(ctx, key, func(st *memoryState) { delete(st.sets, key) })
}

// Dump clones the current store state.
func (s *Store) Dump(ctx context.Context) (kv.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return kv.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.Snapshot{}, kv.ErrStoreClosed
	}
	return snapshotFromMemoryState(s.state), nil
}

// Restore replaces the store state with the snapshot.
func (s *Store) Restore(ctx context.Context, snap kv.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrStoreClosed
	}
	s.state = memoryStateFromSnapshot(snap)
	return nil
}

// Clear drops every key.
func (s *Store) Clear(ctx context.Context) error {
	return s.Restore(ctx, kv.Snapshot{})
}

// Close marks the store closed; later calls fail with kv.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
