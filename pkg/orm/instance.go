package orm

import (
	"fmt"
	"slices"
	"sort"

	"kvorm/pkg/keyspace"
)

// Instance is one live entity of a model. Attribute values are held in
// memory; assignments mark the attribute dirty until the next Save or Load.
// An Instance is not safe for concurrent mutation.
type Instance struct {
	mapper *Mapper
	model  *Model
	id     int64
	values map[string]any
	dirty  map[string]bool
}

func newInstance(m *Mapper, model *Model) *Instance {
	in := &Instance{
		mapper: m,
		model:  model,
		values: make(map[string]any, len(model.fields)),
		dirty:  make(map[string]bool),
	}
	in.reset()
	return in
}

func (in *Instance) reset() {
	in.id = 0
	for attr, f := range in.model.fields {
		in.values[attr] = f.ops.initial()
	}
	clear(in.dirty)
}

// ID returns the identifier and whether one has been assigned.
func (in *Instance) ID() (int64, bool) { return in.id, in.id != 0 }

// IsNew reports whether the instance has no identifier yet.
func (in *Instance) IsNew() bool { return in.id == 0 }

// Model returns the instance's model.
func (in *Instance) Model() *Model { return in.model }

func (in *Instance) String() string {
	if in.id == 0 {
		return in.model.name + "#new"
	}
	return keyspace.Entity(in.model.name, in.id)
}

func (in *Instance) key(attr string) string {
	return keyspace.Attr(in.model.name, in.id, attr)
}

func (in *Instance) requireID() error {
	if in.id == 0 {
		return fmt.Errorf("%s: %w", in.model.name, ErrNotPersisted)
	}
	return nil
}

// Dirty returns the attributes changed since the last Save or Load, sorted.
func (in *Instance) Dirty() []string {
	out := make([]string, 0, len(in.dirty))
	for attr := range in.dirty {
		out = append(out, attr)
	}
	sort.Strings(out)
	return out
}

// IsDirty reports whether attr has an unsaved assignment.
func (in *Instance) IsDirty(attr string) bool { return in.dirty[attr] }

// Get returns the in-memory value of attr: nil or string for String
// attributes, int64 for Integer, nil or int64 for single-valued relations and
// []int64 for multi-valued ones. For "id" it returns nil until assigned.
func (in *Instance) Get(attr string) (any, error) {
	if attr == IDAttr {
		if in.id == 0 {
			return nil, nil
		}
		return in.id, nil
	}
	if _, err := in.model.field(attr); err != nil {
		return nil, err
	}
	if ids, ok := in.values[attr].([]int64); ok {
		return slices.Clone(ids), nil
	}
	return in.values[attr], nil
}

// Set assigns attr and marks it dirty. The identifier cannot be assigned;
// use Mapper.Ref for fixed ids.
func (in *Instance) Set(attr string, v any) error {
	if attr == IDAttr {
		return fmt.Errorf("%s.id is assigned by Save: %w", in.model.name, ErrInvalidArgument)
	}
	f, err := in.model.field(attr)
	if err != nil {
		return err
	}
	val, err := f.coerce(v)
	if err != nil {
		return err
	}
	in.values[attr] = val
	in.dirty[attr] = true
	return nil
}

func (in *Instance) typed(attr string, want ...AttrType) error {
	f, err := in.model.field(attr)
	if err != nil {
		return err
	}
	if !slices.Contains(want, f.typ) {
		return fmt.Errorf("%s.%s is %s: %w", in.model.name, attr, f.typ, ErrTypeMismatch)
	}
	return nil
}

// GetString returns a String attribute; ok is false when it is null.
func (in *Instance) GetString(attr string) (s string, ok bool, err error) {
	if err := in.typed(attr, TypeString); err != nil {
		return "", false, err
	}
	s, ok = in.values[attr].(string)
	return s, ok, nil
}

// SetString assigns a String attribute.
func (in *Instance) SetString(attr, s string) error {
	if err := in.typed(attr, TypeString); err != nil {
		return err
	}
	return in.Set(attr, s)
}

// GetInt returns an Integer attribute.
func (in *Instance) GetInt(attr string) (int64, error) {
	if err := in.typed(attr, TypeInteger); err != nil {
		return 0, err
	}
	return in.values[attr].(int64), nil
}

// SetInt assigns an Integer attribute.
func (in *Instance) SetInt(attr string, n int64) error {
	if err := in.typed(attr, TypeInteger); err != nil {
		return err
	}
	return in.Set(attr, n)
}

// GetIDs returns a copy of a multi-valued relationship attribute.
func (in *Instance) GetIDs(attr string) ([]int64, error) {
	if err := in.typed(attr, TypeManyToMany, TypeOneToMany); err != nil {
		return nil, err
	}
	return slices.Clone(in.values[attr].([]int64)), nil
}

// SetIDs assigns a multi-valued relationship attribute. Duplicates are
// dropped.
func (in *Instance) SetIDs(attr string, ids ...int64) error {
	if err := in.typed(attr, TypeManyToMany, TypeOneToMany); err != nil {
		return err
	}
	if ids == nil {
		ids = []int64{}
	}
	return in.Set(attr, ids)
}

// GetRef returns a single-valued relationship attribute; ok is false when it
// is null.
func (in *Instance) GetRef(attr string) (id int64, ok bool, err error) {
	if err := in.typed(attr, TypeManyToOne, TypeOneToOne); err != nil {
		return 0, false, err
	}
	id, ok = in.values[attr].(int64)
	return id, ok, nil
}

// SetRef assigns a single-valued relationship attribute.
func (in *Instance) SetRef(attr string, id int64) error {
	if err := in.typed(attr, TypeManyToOne, TypeOneToOne); err != nil {
		return err
	}
	return in.Set(attr, id)
}

// ClearRef sets a single-valued relationship attribute to null.
func (in *Instance) ClearRef(attr string) error {
	if err := in.typed(attr, TypeManyToOne, TypeOneToOne); err != nil {
		return err
	}
	return in.Set(attr, nil)
}

// SetNull sets a String or single-valued relationship attribute to null.
func (in *Instance) SetNull(attr string) error {
	if err := in.typed(attr, TypeString, TypeManyToOne, TypeOneToOne); err != nil {
		return err
	}
	return in.Set(attr, nil)
}
