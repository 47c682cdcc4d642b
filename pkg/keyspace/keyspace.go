// Package keyspace generates the persisted key layout. The layout is an
// interoperability contract with existing data and must not change:
//
//	<Model>:last_id                               id counter
//	<Model>#<id>                                  entity
//	<Model>#<id>:<attr>                           attribute
//	<Model>#<id>:<ForeignModel>:<foreignAttr>     backlink, no inverse declared
//	<Model>#<id>:<inverseMethod><suffix>          backlink, inverse declared
//
// All functions are pure.
package keyspace

import (
	"strconv"
	"strings"
)

// Attribute name suffixes for relationship attributes.
const (
	SuffixMany = "_ids"
	SuffixOne  = "_id"
)

// Inverse names the relationship on the owning side that mirrors a foreign
// relationship. Multi selects the "_ids" suffix.
type Inverse struct {
	Method string
	Multi  bool
}

// Suffix returns the attribute suffix for the inverse kind.
func (i Inverse) Suffix() string {
	if i.Multi {
		return SuffixMany
	}
	return SuffixOne
}

// Counter returns the id counter key of a model.
func Counter(model string) string {
	return model + ":last_id"
}

// Entity returns the entity key of an instance.
func Entity(model string, id int64) string {
	return model + "#" + strconv.FormatInt(id, 10)
}

// Attr returns the key holding one attribute of an instance.
func Attr(model string, id int64, attr string) string {
	return Entity(model, id) + ":" + attr
}

// Backlink returns the key on the owning instance that records which
// foreignModel instances reference it through foreignAttr. When inverse is nil
// the model-qualified fallback form is used.
func Backlink(owningModel string, owningID int64, foreignModel, foreignAttr string, inverse *Inverse) string {
	if inverse != nil {
		return Attr(owningModel, owningID, inverse.Method+inverse.Suffix())
	}
	return Entity(owningModel, owningID) + ":" + foreignModel + ":" + foreignAttr
}

// Model returns the model name a key belongs to.
func Model(key string) string {
	if i := strings.IndexAny(key, "#:"); i >= 0 {
		return key[:i]
	}
	return key
}
