package schema

import (
	"sort"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/naming"
)

// Field is a named, typed model field. Names are stored in snake_case.
type Field struct {
	Name string
	Type FieldType
}

// Extension links a model to the parent model owning the other half of
// its logical records.
type Extension struct {
	Parent     *Model
	ForeignKey string
}

// Model describes one collection.
type Model struct {
	collection string
	fields     []Field
	types      map[string]FieldType
	primaryKey string

	uniqueIndex    string
	uniqueDeclared int

	combined  [][]string
	extension *Extension
}

// Option configures a Model during New.
type Option func(*Model)

// WithPrimaryKey declares the primary key field.
func WithPrimaryKey(field string) Option {
	return func(m *Model) {
		m.primaryKey = naming.ToSnake(field)
	}
}

// WithUniqueIndex declares a single-field unique index. Only the first
// declaration is stored; further declarations are counted so that
// SelectConflictTarget can reject the ambiguous configuration.
func WithUniqueIndex(field string) Option {
	return func(m *Model) {
		m.uniqueDeclared++
		if m.uniqueIndex == "" {
			m.uniqueIndex = naming.ToSnake(field)
		}
	}
}

// WithCombinedIndex declares a group of fields that are jointly unique.
func WithCombinedIndex(fields ...string) Option {
	return func(m *Model) {
		group := make([]string, len(fields))
		for i, f := range fields {
			group[i] = naming.ToSnake(f)
		}
		m.combined = append(m.combined, group)
	}
}

// Extends makes the model the child half of parent's records. foreignKey
// names the child field holding the parent's primary key.
func Extends(parent *Model, foreignKey string) Option {
	return func(m *Model) {
		m.extension = &Extension{Parent: parent, ForeignKey: naming.ToSnake(foreignKey)}
	}
}

// New validates and builds a Model.
func New(collection string, fields []Field, opts ...Option) (*Model, error) {
	if collection == "" {
		return nil, dberr.BadInput("model collection name is required")
	}
	if len(fields) == 0 {
		return nil, dberr.BadInput("model %s declares no fields", collection)
	}

	m := &Model{
		collection: collection,
		fields:     make([]Field, 0, len(fields)),
		types:      make(map[string]FieldType, len(fields)),
	}
	for _, f := range fields {
		name := naming.ToSnake(f.Name)
		if name == "" {
			return nil, dberr.BadInput("model %s has a field without a name", collection)
		}
		if !f.Type.Valid() {
			return nil, dberr.BadInput("model %s field %s: unknown field type %q", collection, name, f.Type)
		}
		if _, dup := m.types[name]; dup {
			return nil, dberr.BadInput("model %s declares field %s twice", collection, name)
		}
		m.fields = append(m.fields, Field{Name: name, Type: f.Type})
		m.types[name] = f.Type
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

// check verifies that every field referenced by keys, indexes and the
// extension is declared.
func (m *Model) check() error {
	if m.primaryKey != "" && !m.HasOwn(m.primaryKey) {
		return dberr.BadInput("model %s: primary key %s is not a declared field", m.collection, m.primaryKey)
	}
	if m.uniqueIndex != "" && !m.HasOwn(m.uniqueIndex) {
		return dberr.BadInput("model %s: unique index field %s is not declared", m.collection, m.uniqueIndex)
	}
	for _, group := range m.combined {
		if len(group) == 0 {
			return dberr.BadInput("model %s: combined unique index without fields", m.collection)
		}
		for _, f := range group {
			if !m.HasOwn(f) {
				return dberr.BadInput("model %s: combined unique index field %s is not declared", m.collection, f)
			}
		}
	}
	if ext := m.extension; ext != nil {
		switch {
		case ext.Parent == nil:
			return dberr.BadInput("model %s extends a nil parent", m.collection)
		case ext.Parent.IsExtended():
			return dberr.BadInput("model %s: parent %s is itself extended", m.collection, ext.Parent.collection)
		case ext.Parent.primaryKey == "":
			return dberr.BadInput("model %s: parent %s has no primary key", m.collection, ext.Parent.collection)
		case !m.HasOwn(ext.ForeignKey):
			return dberr.BadInput("model %s: foreign key %s is not a declared field", m.collection, ext.ForeignKey)
		}
	}
	return nil
}

// Collection returns the collection (table) name.
func (m *Model) Collection() string { return m.collection }

// Fields returns the model's own fields in declaration order.
func (m *Model) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// PrimaryKey returns the primary key field, or "".
func (m *Model) PrimaryKey() string { return m.primaryKey }

// UniqueIndex returns the single-field unique index, or "".
func (m *Model) UniqueIndex() string { return m.uniqueIndex }

// CombinedIndexes returns the combined unique indexes.
func (m *Model) CombinedIndexes() [][]string {
	out := make([][]string, len(m.combined))
	for i, g := range m.combined {
		out[i] = append([]string(nil), g...)
	}
	return out
}

// HasOwn reports whether field is declared by this model itself.
func (m *Model) HasOwn(field string) bool {
	_, ok := m.types[field]
	return ok
}

// Has reports whether field is known to the model, including fields owned
// by an extended model's parent.
func (m *Model) Has(field string) bool {
	if m.HasOwn(field) {
		return true
	}
	return m.extension != nil && m.extension.Parent.HasOwn(field)
}

// TypeOf returns the type of a known field. The child's declaration wins
// over the parent's.
func (m *Model) TypeOf(field string) (FieldType, bool) {
	if t, ok := m.types[field]; ok {
		return t, true
	}
	if m.extension != nil {
		t, ok := m.extension.Parent.types[field]
		return t, ok
	}
	return "", false
}

// KnownFields returns every field name known to the model, sorted.
func (m *Model) KnownFields() []string {
	seen := make(map[string]struct{}, len(m.types))
	for name := range m.types {
		seen[name] = struct{}{}
	}
	if m.extension != nil {
		for name := range m.extension.Parent.types {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
