// Package orm maps declared models onto a kv.Store.
//
// Models are declared as Schema values (or decoded from YAML with
// DecodeSchemas), registered with Registry.RegisterAll and sealed with
// Registry.Finalize. A Mapper binds the finalized registry to a store and
// hands out Instances.
//
// Scalar attributes are String (stored as a scalar key) or Integer (stored as
// a counter so that Instance.Inc is atomic). Relationships come in four kinds:
//
//	habtm       ManyToMany  <method>_ids  set     backlink set
//	has_many    OneToMany   <method>_ids  set     backlink scalar
//	belongs_to  ManyToOne   <method>_id   scalar  backlink set
//	has_one     OneToOne    <method>_id   scalar  backlink scalar
//
// Every relationship is stored twice: as the forward attribute on the owner
// and as a backlink on each target. Save diffs the forward value against the
// store and updates the backlinks of removed and added targets; OneToMany and
// OneToOne targets are taken from their previous holder. Delete walks the
// observed-by table to remove the deleted instance from every holder. None of
// this is transactional.
package orm
