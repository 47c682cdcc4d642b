package orm

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"kvorm/pkg/kv"
)

// storeOps is the per-type table of store primitives used to read, write and
// delete one attribute key.
type storeOps struct {
	get     func(ctx context.Context, s kv.Store, key string) (any, error)
	put     func(ctx context.Context, s kv.Store, key string, v any) error
	del     func(ctx context.Context, s kv.Store, key string) error
	initial func() any
}

var (
	stringOps = storeOps{
		get: func(ctx context.Context, s kv.Store, key string) (any, error) {
			v, ok, err := s.Get(ctx, key)
			if err != nil || !ok {
				return nil, err
			}
			return v, nil
		},
		put: func(ctx context.Context, s kv.Store, key string, v any) error {
			if v == nil {
				return s.Delete(ctx, key)
			}
			return s.Put(ctx, key, v.(string))
		},
		del:     func(ctx context.Context, s kv.Store, key string) error { return s.Delete(ctx, key) },
		initial: func() any { return nil },
	}

	integerOps = storeOps{
		get: func(ctx context.Context, s kv.Store, key string) (any, error) {
			n, err := s.CounterGet(ctx, key)
			if err != nil {
				return nil, err
			}
			return n, nil
		},
		put: func(ctx context.Context, s kv.Store, key string, v any) error {
			return s.CounterSet(ctx, key, v.(int64))
		},
		del:     func(ctx context.Context, s kv.Store, key string) error { return s.CounterDelete(ctx, key) },
		initial: func() any { return int64(0) },
	}

	refOps = storeOps{
		get: func(ctx context.Context, s kv.Store, key string) (any, error) {
			v, ok, err := s.Get(ctx, key)
			if err != nil || !ok {
				return nil, err
			}
			id, err := parseID(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			return id, nil
		},
		put: func(ctx context.Context, s kv.Store, key string, v any) error {
			if v == nil {
				return s.Delete(ctx, key)
			}
			return s.Put(ctx, key, formatID(v.(int64)))
		},
		del:     func(ctx context.Context, s kv.Store, key string) error { return s.Delete(ctx, key) },
		initial: func() any { return nil },
	}

	idSetOps = storeOps{
		get: func(ctx context.Context, s kv.Store, key string) (any, error) {
			members, err := s.SetMembers(ctx, key)
			if err != nil {
				return nil, err
			}
			return parseIDs(key, members)
		},
		// The set is recreated so that it matches the new membership exactly.
		put: func(ctx context.Context, s kv.Store, key string, v any) error {
			if err := s.SetDelete(ctx, key); err != nil {
				return err
			}
			ids := v.([]int64)
			if len(ids) == 0 {
				return nil
			}
			return s.SetAdd(ctx, key, formatIDs(ids)...)
		},
		del:     func(ctx context.Context, s kv.Store, key string) error { return s.SetDelete(ctx, key) },
		initial: func() any { return []int64{} },
	}
)

var opsByType = map[AttrType]storeOps{
	TypeString:     stringOps,
	TypeInteger:    integerOps,
	TypeManyToMany: idSetOps,
	TypeOneToMany:  idSetOps,
	TypeManyToOne:  refOps,
	TypeOneToOne:   refOps,
}

// field is the accessor binding compiled for one attribute at registration.
type field struct {
	typ AttrType
	ops storeOps
	// coerce validates a value assigned through Set and returns the canonical
	// in-memory representation.
	coerce func(v any) (any, error)
}

func compileField(model, attr string, typ AttrType) field {
	f := field{typ: typ, ops: opsByType[typ]}
	mismatch := func(v any) error { return typeMismatch(model, attr, typ, v) }
	switch typ {
	case TypeString:
		f.coerce = func(v any) (any, error) {
			switch s := v.(type) {
			case nil:
				return nil, nil
			case string:
				return s, nil
			case *string:
				if s == nil {
					return nil, nil
				}
				return *s, nil
			}
			return nil, mismatch(v)
		}
	case TypeInteger:
		f.coerce = func(v any) (any, error) {
			if n, ok := toInt64(v); ok {
				return n, nil
			}
			return nil, mismatch(v)
		}
	case TypeManyToOne, TypeOneToOne:
		f.coerce = func(v any) (any, error) {
			if v == nil {
				return nil, nil
			}
			id, ok := toInt64(v)
			if !ok {
				return nil, mismatch(v)
			}
			if id <= 0 {
				return nil, fmt.Errorf("%s.%s = %d: %w", model, attr, id, ErrInvalidID)
			}
			return id, nil
		}
	case TypeManyToMany, TypeOneToMany:
		f.coerce = func(v any) (any, error) {
			var ids []int64
			switch list := v.(type) {
			case nil:
			case []int64:
				ids = slices.Clone(list)
			case []int:
				ids = make([]int64, len(list))
				for i, id := range list {
					ids[i] = int64(id)
				}
			default:
				return nil, mismatch(v)
			}
			out := make([]int64, 0, len(ids))
			for _, id := range ids {
				if id <= 0 {
					return nil, fmt.Errorf("%s.%s contains %d: %w", model, attr, id, ErrInvalidID)
				}
				if !slices.Contains(out, id) {
					out = append(out, id)
				}
			}
			return out, nil
		}
	}
	return f
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed id %q: %w", s, err)
	}
	return id, nil
}

func formatIDs(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = formatID(id)
	}
	return out
}

// parseIDs converts set members to ids in ascending numeric order.
func parseIDs(key string, members []string) ([]int64, error) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := parseID(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
