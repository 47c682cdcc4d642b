package orm

import (
	"errors"
	"fmt"

	"kvorm/pkg/keyspace"
)

type relKey struct {
	model  string
	method string
}

// Registry holds the compiled models, the inverse table and the observed-by
// table. It is populated with RegisterAll, sealed with Finalize and read-only
// afterwards. Registration is not safe for concurrent use.
type Registry struct {
	models    map[string]*Model
	order     []string
	inverses  map[relKey]InverseRef
	observers map[string][]Observer
	pending   []func() error
	finalized bool
	err       error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models:    make(map[string]*Model),
		inverses:  make(map[relKey]InverseRef),
		observers: make(map[string][]Observer),
	}
}

// RegisterAll compiles and records a batch of schemas. The batch is validated
// as a whole: on error nothing from it is recorded.
func (r *Registry) RegisterAll(schemas ...Schema) error {
	if r.finalized {
		return ErrRegistryFinalized
	}
	if r.err != nil {
		return r.err
	}

	batch := make(map[string]*Model, len(schemas))
	inverses := make(map[relKey]InverseRef)
	var order []string
	var pending []func() error

	lookupInverse := func(k relKey) (InverseRef, bool) {
		if inv, ok := inverses[k]; ok {
			return inv, true
		}
		inv, ok := r.inverses[k]
		return inv, ok
	}
	putInverse := func(k relKey, inv InverseRef) error {
		if prev, ok := lookupInverse(k); ok && prev != inv {
			return &ConfigError{
				Model: k.model,
				Field: k.method,
				Err:   fmt.Errorf("inverse declared as %s.%s (%s) and %s.%s (%s): %w", prev.Model, prev.Method, prev.Kind, inv.Model, inv.Method, inv.Kind, ErrInverseMismatch),
			}
		}
		inverses[k] = inv
		return nil
	}

	for _, s := range schemas {
		if s.Name == "" {
			return &ConfigError{Err: errors.New("empty model name")}
		}
		if _, dup := r.models[s.Name]; dup {
			return &ConfigError{Model: s.Name, Err: ErrDuplicateModel}
		}
		if _, dup := batch[s.Name]; dup {
			return &ConfigError{Model: s.Name, Err: ErrDuplicateModel}
		}

		m := newModel(s.Name)
		for _, a := range s.Attributes {
			if a.Type != TypeString && a.Type != TypeInteger {
				return &ConfigError{Model: s.Name, Field: a.Name, Err: fmt.Errorf("%s: %w", a.Type, ErrInvalidType)}
			}
			if err := m.addAttr(a.Name, a.Type); err != nil {
				return err
			}
		}
		for _, g := range s.groups() {
			for _, d := range g.decls {
				rel, err := m.addRelation(g.kind, d)
				if err != nil {
					return err
				}
				if d.InverseOf != "" {
					if err := putInverse(relKey{rel.Owner, rel.Method}, InverseRef{Model: rel.Target, Method: d.InverseOf, Kind: g.kind.Pair()}); err != nil {
						return err
					}
					if err := putInverse(relKey{rel.Target, d.InverseOf}, InverseRef{Model: rel.Owner, Method: rel.Method, Kind: g.kind}); err != nil {
						return err
					}
				}
				pending = append(pending, func() error { return r.wire(rel) })
			}
		}
		batch[s.Name] = m
		order = append(order, s.Name)
	}

	for k, inv := range inverses {
		r.inverses[k] = inv
	}
	for _, name := range order {
		r.models[name] = batch[name]
	}
	r.order = append(r.order, order...)
	r.pending = append(r.pending, pending...)
	return nil
}

// Finalize runs the deferred wiring of every registered relationship: it
// resolves targets and inverses, checks kind pairing and builds the
// observed-by table. Calling it again is a no-op; a failed Finalize leaves the
// registry unusable.
func (r *Registry) Finalize() error {
	if r.finalized {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	for _, task := range r.pending {
		if err := task(); err != nil {
			r.err = err
			return err
		}
	}
	r.pending = nil
	r.finalized = true
	return nil
}

// wire resolves one relationship against the complete set of models.
func (r *Registry) wire(rel *Relationship) error {
	target, ok := r.models[rel.Target]
	if !ok {
		return &ConfigError{
			Model: rel.Owner,
			Field: rel.Method,
			Err:   fmt.Errorf("target %s: %w", rel.Target, ErrUnknownModel),
		}
	}
	if inv, ok := r.inverses[relKey{rel.Owner, rel.Method}]; ok {
		if inv.Model != rel.Target || inv.Kind != rel.Kind.Pair() {
			return &ConfigError{
				Model: rel.Owner,
				Field: rel.Method,
				Err:   fmt.Errorf("inverse %s.%s is %s, want %s: %w", inv.Model, inv.Method, inv.Kind, rel.Kind.Pair(), ErrInverseMismatch),
			}
		}
		if mirror, declared := target.Relation(inv.Method); declared {
			if mirror.Kind != inv.Kind || mirror.Target != rel.Owner {
				return &ConfigError{
					Model: rel.Owner,
					Field: rel.Method,
					Err:   fmt.Errorf("%s.%s is %s to %s: %w", target.name, inv.Method, mirror.Kind, mirror.Target, ErrInverseMismatch),
				}
			}
		} else if _, taken := target.types[inv.Method+inv.Kind.Suffix()]; taken {
			return &ConfigError{
				Model: rel.Owner,
				Field: rel.Method,
				Err:   fmt.Errorf("inverse attribute %s.%s%s is already declared: %w", target.name, inv.Method, inv.Kind.Suffix(), ErrInverseMismatch),
			}
		}
		rel.inverse = &inv
	}
	rel.target = target
	obs := Observer{Model: rel.Owner, Attr: rel.Attr}
	for _, o := range r.observers[rel.Target] {
		if o == obs {
			return nil
		}
	}
	r.observers[rel.Target] = append(r.observers[rel.Target], obs)
	return nil
}

// Finalized reports whether Finalize has completed successfully.
func (r *Registry) Finalized() bool { return r.finalized }

// Model returns the registered model called name.
func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Models returns the registered models in registration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.models[name])
	}
	return out
}

// ObservedBy returns the (foreign model, foreign attribute) pairs that
// reference model.
func (r *Registry) ObservedBy(model string) []Observer {
	return append([]Observer(nil), r.observers[model]...)
}

// InverseOf returns the relationship mirroring model.method, if one was
// declared on either side.
func (r *Registry) InverseOf(model, method string) (InverseRef, bool) {
	inv, ok := r.inverses[relKey{model, method}]
	return inv, ok
}

// BacklinkKey returns the key on owningModel#owningID recording the
// foreignModel instances that reference it through foreignAttr.
func (r *Registry) BacklinkKey(owningModel string, owningID int64, foreignModel, foreignAttr string) string {
	var inverse *keyspace.Inverse
	if fm, ok := r.models[foreignModel]; ok {
		if rel, ok := fm.RelationByAttr(foreignAttr); ok {
			if inv, ok := r.inverses[relKey{foreignModel, rel.Method}]; ok {
				inverse = &keyspace.Inverse{Method: inv.Method, Multi: inv.Kind.Multi()}
			}
		}
	}
	return keyspace.Backlink(owningModel, owningID, foreignModel, foreignAttr, inverse)
}

// backlinkKey is BacklinkKey for a resolved relationship.
func (rel *Relationship) backlinkKey(targetID int64) string {
	var inverse *keyspace.Inverse
	if rel.inverse != nil {
		inverse = &keyspace.Inverse{Method: rel.inverse.Method, Multi: rel.inverse.Kind.Multi()}
	}
	return keyspace.Backlink(rel.Target, targetID, rel.Owner, rel.Attr, inverse)
}
