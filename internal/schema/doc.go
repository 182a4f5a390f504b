// Package schema holds model definitions: the collection name, typed
// fields, primary key, uniqueness guarantees and the optional extension
// of a parent model.
//
// A Model is immutable once New returns. All configuration happens through
// Options, which lets New validate the complete definition in one place:
//
//	person, err := schema.New("person",
//	    []schema.Field{{Name: "id", Type: schema.UUID}, {Name: "name", Type: schema.String}},
//	    schema.WithPrimaryKey("id"),
//	)
//	employee, err := schema.New("employee",
//	    []schema.Field{{Name: "person_id", Type: schema.UUID}, {Name: "title", Type: schema.String}},
//	    schema.WithUniqueIndex("person_id"),
//	    schema.Extends(person, "person_id"),
//	)
//
// # Extended models
//
// An extended model's records are the child half of a logical record whose
// other half lives in the parent's collection. The child's foreign key holds
// the parent's primary key value. When both halves carry a field with the
// same name, the child's value wins (see Merge).
//
// # Upsert conflict targets
//
// SelectConflictTarget picks the single uniqueness guarantee an upsert
// resolves conflicts on, or fails with BAD_INDEXES_FOR_UPSERT.
package schema
