package orm

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"kvorm/internal/infra/persistence/memory"
	"kvorm/pkg/kv"
)

// Models with inverses declared on one side of each relationship.
var withInverse = []Schema{
	{
		Name: "User",
		Attributes: []AttributeDecl{
			{Name: "first_name", Type: TypeString},
			{Name: "email", Type: TypeString},
		},
		HABTM:   []RelationDecl{{Model: "Post", Method: "posts"}},
		HasMany: []RelationDecl{{Model: "Post", Method: "approved_articles"}},
	},
	{
		Name: "Post",
		Attributes: []AttributeDecl{
			{Name: "title", Type: TypeString},
			{Name: "body", Type: TypeString},
			{Name: "views", Type: TypeInteger},
		},
		HABTM:     []RelationDecl{{Model: "User", Method: "authors", InverseOf: "posts"}},
		BelongsTo: []RelationDecl{{Model: "User", Method: "approver", InverseOf: "approved_articles"}},
		HasOne:    []RelationDecl{{Model: "Media", Method: "featured_image"}},
	},
	{
		Name: "Media",
		Attributes: []AttributeDecl{
			{Name: "location", Type: TypeString},
			{Name: "attributes", Type: TypeString},
		},
		HasOne: []RelationDecl{{Model: "Post", Method: "post_featured", InverseOf: "featured_image"}},
	},
}

// Models without any inverse, exercising the model-qualified backlink keys.
var withoutInverse = []Schema{
	{
		Name:       "Person",
		Attributes: []AttributeDecl{{Name: "username", Type: TypeString}},
		HABTM:      []RelationDecl{{Model: "Article", Method: "articles"}},
		HasMany:    []RelationDecl{{Model: "Article", Method: "approved_articles"}},
	},
	{
		Name: "Article",
		Attributes: []AttributeDecl{
			{Name: "title", Type: TypeString},
			{Name: "views", Type: TypeInteger},
		},
		BelongsTo: []RelationDecl{{Model: "Person", Method: "editor"}},
		HasOne:    []RelationDecl{{Model: "Picture", Method: "featured_image"}},
	},
	{
		Name:       "Picture",
		Attributes: []AttributeDecl{{Name: "location", Type: TypeString}},
	},
}

func newTestMapper(t *testing.T, schemas []Schema, opts ...Option) (*Mapper, *memory.Store) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterAll(schemas...))
	require.NoError(t, reg.Finalize())
	store := memory.NewStore()
	m, err := NewMapper(store, reg, opts...)
	require.NoError(t, err)
	return m, store
}

func newInst(t *testing.T, m *Mapper, model string) *Instance {
	t.Helper()
	in, err := m.New(model)
	require.NoError(t, err)
	return in
}

func saved(t *testing.T, m *Mapper, model string) *Instance {
	t.Helper()
	in := newInst(t, m, model)
	require.NoError(t, in.Save(context.Background()))
	return in
}

func idOf(t *testing.T, in *Instance) int64 {
	t.Helper()
	id, ok := in.ID()
	require.True(t, ok, "%s has no id", in)
	return id
}

func members(t *testing.T, s kv.Store, key string) []string {
	t.Helper()
	out, err := s.SetMembers(context.Background(), key)
	require.NoError(t, err)
	return out
}

func scalar(t *testing.T, s kv.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

// nonCounterKeys lists every scalar and set key plus the counters that are
// not id counters.
func nonCounterKeys(t *testing.T, s *memory.Store) []string {
	t.Helper()
	snap, err := s.Dump(context.Background())
	require.NoError(t, err)
	var keys []string
	for k := range snap.Scalars {
		keys = append(keys, k)
	}
	for k := range snap.Sets {
		keys = append(keys, k)
	}
	for k := range snap.Counters {
		if !strings.HasSuffix(k, ":last_id") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
