package schema

// IsExtended reports whether the model extends a parent model.
func (m *Model) IsExtended() bool { return m.extension != nil }

// Extension returns the extension descriptor, or nil.
func (m *Model) Extension() *Extension { return m.extension }

// Parent returns the parent model of an extended model, or nil.
func (m *Model) Parent() *Model {
	if m.extension == nil {
		return nil
	}
	return m.extension.Parent
}

// ForeignKey returns the child field holding the parent's primary key, or "".
func (m *Model) ForeignKey() string {
	if m.extension == nil {
		return ""
	}
	return m.extension.ForeignKey
}

// Owner returns the model that stores field: the model itself when it
// declares the field, otherwise the parent. It returns nil for unknown fields.
func (m *Model) Owner(field string) *Model {
	if m.HasOwn(field) {
		return m
	}
	if p := m.Parent(); p != nil && p.HasOwn(field) {
		return p
	}
	return nil
}

// SplitRecord divides a record into the part stored by the parent and the
// part stored by the child. Fields declared by both land in both halves.
// The child's foreign key is never written to the parent half. Fields
// unknown to both are dropped.
func (m *Model) SplitRecord(rec map[string]any) (parent, child map[string]any) {
	parent = make(map[string]any)
	child = make(map[string]any)
	p := m.Parent()
	for k, v := range rec {
		if m.HasOwn(k) {
			child[k] = v
		}
		if p != nil && p.HasOwn(k) && k != m.ForeignKey() {
			parent[k] = v
		}
	}
	return parent, child
}

// Merge combines a parent record with its child record. Child fields take
// precedence over parent fields of the same name. The result is a new map.
func Merge(parent, child map[string]any) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}
