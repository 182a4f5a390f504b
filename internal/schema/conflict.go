package schema

import "github.com/roach88/uql/internal/dberr"

// SelectConflictTarget picks the fields an upsert resolves conflicts on.
//
// A declared unique index takes precedence over the primary key, because
// the primary key is usually generated and absent from upsert payloads:
//   - more than one single unique index declared: error
//   - a single unique index and a combined index: error
//   - more than one combined index: error
//   - a single unique index: that field
//   - one combined index: its fields
//   - only a primary key: the primary key
//   - nothing: error
func SelectConflictTarget(m *Model) ([]string, error) {
	if m.uniqueDeclared > 1 {
		return nil, dberr.BadIndexesForUpsert(m.collection, "more than one single unique index declared")
	}
	single := m.uniqueIndex != ""
	switch {
	case single && len(m.combined) > 0:
		return nil, dberr.BadIndexesForUpsert(m.collection, "both a single and a combined unique index declared")
	case len(m.combined) > 1:
		return nil, dberr.BadIndexesForUpsert(m.collection, "more than one combined unique index declared")
	case single:
		return []string{m.uniqueIndex}, nil
	case len(m.combined) == 1:
		return append([]string(nil), m.combined[0]...), nil
	case m.primaryKey != "":
		return []string{m.primaryKey}, nil
	}
	return nil, dberr.BadIndexesForUpsert(m.collection, "no primary key or unique index declared")
}

// CheckConflictValues fails with BAD_INPUT when rec lacks a value for a
// conflict target field. An extended model's foreign key is exempt: it is
// filled in from the parent row.
func CheckConflictValues(m *Model, target []string, rec map[string]any) error {
	var missing []string
	for _, f := range target {
		if _, ok := rec[f]; !ok && f != m.ForeignKey() {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &dberr.Error{
			Code:    dberr.CodeBadInput,
			Message: "upsert on " + m.collection + " needs values for its conflict fields",
			Fields:  missing,
		}
	}
	return nil
}
