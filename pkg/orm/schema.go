package orm

import (
	"errors"
	"fmt"
	"slices"

	"kvorm/pkg/keyspace"
)

// IDAttr is the identifier attribute every model carries.
const IDAttr = "id"

// AttrType is the declared type of a model attribute.
type AttrType uint8

const (
	TypeIdentifier AttrType = iota + 1
	TypeString
	TypeInteger
	TypeManyToMany
	TypeOneToMany
	TypeManyToOne
	TypeOneToOne
)

var attrTypeNames = map[AttrType]string{
	TypeIdentifier: "ID",
	TypeString:     "String",
	TypeInteger:    "Integer",
	TypeManyToMany: "ManyToMany",
	TypeOneToMany:  "OneToMany",
	TypeManyToOne:  "ManyToOne",
	TypeOneToOne:   "OneToOne",
}

func (t AttrType) String() string {
	if name, ok := attrTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("AttrType(%d)", uint8(t))
}

// ParseAttrType maps a declared scalar type name to its AttrType. Only
// scalar types can be declared directly; relationship attributes come from the
// relationship groups.
func ParseAttrType(name string) (AttrType, error) {
	switch name {
	case "String":
		return TypeString, nil
	case "Integer":
		return TypeInteger, nil
	}
	return 0, fmt.Errorf("%q: %w", name, ErrInvalidType)
}

// Kind is the relationship kind carried by every relationship descriptor.
type Kind uint8

const (
	ManyToMany Kind = iota + 1
	OneToMany
	ManyToOne
	OneToOne
)

func (k Kind) String() string { return k.AttrType().String() }

// Multi reports whether the own-side attribute is a set of ids.
func (k Kind) Multi() bool { return k == ManyToMany || k == OneToMany }

// Suffix returns the own-side attribute suffix.
func (k Kind) Suffix() string {
	if k.Multi() {
		return keyspace.SuffixMany
	}
	return keyspace.SuffixOne
}

// Pair returns the kind the other side of the relationship must have.
func (k Kind) Pair() Kind {
	switch k {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	}
	return k
}

// AttrType returns the attribute type of the own-side attribute.
func (k Kind) AttrType() AttrType {
	switch k {
	case ManyToMany:
		return TypeManyToMany
	case OneToMany:
		return TypeOneToMany
	case ManyToOne:
		return TypeManyToOne
	case OneToOne:
		return TypeOneToOne
	}
	return 0
}

// Relationship group names used in declarations.
const (
	GroupHABTM     = "habtm"
	GroupHasMany   = "has_many"
	GroupBelongsTo = "belongs_to"
	GroupHasOne    = "has_one"
)

var groupKinds = map[string]Kind{
	GroupHABTM:     ManyToMany,
	GroupHasMany:   OneToMany,
	GroupBelongsTo: ManyToOne,
	GroupHasOne:    OneToOne,
}

// Schema declares one model. Attribute order is preserved.
type Schema struct {
	Name       string
	Attributes []AttributeDecl
	HABTM      []RelationDecl
	HasMany    []RelationDecl
	BelongsTo  []RelationDecl
	HasOne     []RelationDecl
}

// AttributeDecl declares a scalar attribute.
type AttributeDecl struct {
	Name string
	Type AttrType
}

// RelationDecl declares one relationship: the target model, the method name on
// this model and, optionally, the method name of the mirroring relationship on
// the target.
type RelationDecl struct {
	Model     string `yaml:"model"`
	Method    string `yaml:"method"`
	InverseOf string `yaml:"inverse_of,omitempty"`
}

func (s Schema) groups() []struct {
	kind  Kind
	decls []RelationDecl
} {
	return []struct {
		kind  Kind
		decls []RelationDecl
	}{
		{ManyToMany, s.HABTM},
		{OneToMany, s.HasMany},
		{ManyToOne, s.BelongsTo},
		{OneToOne, s.HasOne},
	}
}

// InverseRef identifies the relationship mirroring another one.
type InverseRef struct {
	Model  string
	Method string
	Kind   Kind
}

// Relationship is a compiled relationship descriptor.
type Relationship struct {
	Kind          Kind
	Owner         string
	Method        string
	Attr          string
	Target        string
	InverseMethod string

	// inverse is resolved by Finalize.
	inverse *InverseRef
	target  *Model
}

// Inverse returns the resolved inverse, if any.
func (r *Relationship) Inverse() (InverseRef, bool) {
	if r.inverse == nil {
		return InverseRef{}, false
	}
	return *r.inverse, true
}

// Observer is a (foreign model, foreign attribute) pair pointing at a model.
type Observer struct {
	Model string
	Attr  string
}

// Model is the compiled, immutable description of a registered model.
type Model struct {
	name      string
	attrs     []string
	types     map[string]AttrType
	relations map[string]*Relationship
	methods   map[string]*Relationship
	fields    map[string]field
}

func newModel(name string) *Model {
	return &Model{
		name:      name,
		attrs:     []string{IDAttr},
		types:     map[string]AttrType{IDAttr: TypeIdentifier},
		relations: make(map[string]*Relationship),
		methods:   make(map[string]*Relationship),
		fields:    make(map[string]field),
	}
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Attributes returns the declared attributes in order, starting with id.
func (m *Model) Attributes() []string { return slices.Clone(m.attrs) }

// Type returns the type of attr.
func (m *Model) Type(attr string) (AttrType, bool) {
	t, ok := m.types[attr]
	return t, ok
}

// Relation returns the relationship declared under method.
func (m *Model) Relation(method string) (*Relationship, bool) {
	r, ok := m.methods[method]
	return r, ok
}

// RelationByAttr returns the relationship stored under attr.
func (m *Model) RelationByAttr(attr string) (*Relationship, bool) {
	r, ok := m.relations[attr]
	return r, ok
}

// Relations returns the relationships in declaration order.
func (m *Model) Relations() []*Relationship {
	out := make([]*Relationship, 0, len(m.relations))
	for _, attr := range m.attrs {
		if r, ok := m.relations[attr]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (m *Model) field(attr string) (field, error) {
	f, ok := m.fields[attr]
	if !ok {
		return field{}, &AttributeError{Model: m.name, Attr: attr}
	}
	return f, nil
}

func (m *Model) addAttr(name string, typ AttrType) error {
	if name == "" {
		return &ConfigError{Model: m.name, Err: errors.New("empty attribute name")}
	}
	if _, dup := m.types[name]; dup {
		return &ConfigError{Model: m.name, Field: name, Err: errors.New("attribute declared twice")}
	}
	m.attrs = append(m.attrs, name)
	m.types[name] = typ
	m.fields[name] = compileField(m.name, name, typ)
	return nil
}

func (m *Model) addRelation(kind Kind, d RelationDecl) (*Relationship, error) {
	if d.Method == "" {
		return nil, &ConfigError{Model: m.name, Err: fmt.Errorf("%s relationship to %q has no method", kind, d.Model)}
	}
	if d.Model == "" {
		return nil, &ConfigError{Model: m.name, Field: d.Method, Err: errors.New("relationship has no target model")}
	}
	if _, dup := m.methods[d.Method]; dup {
		return nil, &ConfigError{Model: m.name, Field: d.Method, Err: errors.New("relationship declared twice")}
	}
	rel := &Relationship{
		Kind:          kind,
		Owner:         m.name,
		Method:        d.Method,
		Attr:          d.Method + kind.Suffix(),
		Target:        d.Model,
		InverseMethod: d.InverseOf,
	}
	if err := m.addAttr(rel.Attr, kind.AttrType()); err != nil {
		return nil, err
	}
	m.relations[rel.Attr] = rel
	m.methods[rel.Method] = rel
	return rel, nil
}
