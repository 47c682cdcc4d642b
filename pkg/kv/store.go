// Package kv defines the key-value primitive surface the mapping layer is built
// on. Backends live under internal/infra/persistence and are selected through
// pkg/storage.
package kv

import (
	"context"
	"errors"
)

// Store is the complete primitive surface required by the mapping layer.
// Scalars, counters and sets live in separate namespaces: the same key may hold
// a scalar and a set at the same time without interfering.
// All implementations must be safe for concurrent use.
type Store interface {
	// Get returns the scalar stored at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Put stores a scalar, overwriting any previous value.
	Put(ctx context.Context, key, value string) error
	// Delete removes a scalar. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CounterGet returns the counter value, 0 when absent.
	CounterGet(ctx context.Context, key string) (int64, error)
	// CounterSet overwrites the counter value.
	CounterSet(ctx context.Context, key string, value int64) error
	// CounterIncrement atomically adds one and returns the new value.
	CounterIncrement(ctx context.Context, key string) (int64, error)
	// CounterDelete removes the counter.
	CounterDelete(ctx context.Context, key string) error

	// SetAdd adds members to the set at key, creating it when needed.
	SetAdd(ctx context.Context, key string, members ...string) error
	// SetRemove removes members; absent members are ignored.
	SetRemove(ctx context.Context, key string, members ...string) error
	// SetMembers returns the members in ascending lexical order.
	SetMembers(ctx context.Context, key string) ([]string, error)
	// SetIsMember reports whether member belongs to the set at key.
	SetIsMember(ctx context.Context, key, member string) (bool, error)
	// SetDelete removes the whole set.
	SetDelete(ctx context.Context, key string) error
}

// Snapshot is a full copy of a store's three namespaces.
type Snapshot struct {
	Scalars  map[string]string   `json:"scalars" bson:"scalars"`
	Counters map[string]int64    `json:"counters" bson:"counters"`
	Sets     map[string][]string `json:"sets" bson:"sets"`
}

// Len returns the number of keys across all namespaces.
func (s Snapshot) Len() int {
	return len(s.Scalars) + len(s.Counters) + len(s.Sets)
}

// Dumper is implemented by stores able to export and replace their whole state.
type Dumper interface {
	Dump(ctx context.Context) (Snapshot, error)
	// Restore replaces the current state with the snapshot.
	Restore(ctx context.Context, snapshot Snapshot) error
}

// Clearer is implemented by stores that can drop every key at once.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Store lifecycle and validation errors.
var (
	ErrStoreClosed = errors.New("kv: store is closed")
	ErrEmptyKey    = errors.New("kv: empty key")
)

// ValidKey returns ErrEmptyKey for the empty key.
func ValidKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
