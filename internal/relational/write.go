package relational

import (
	"fmt"
	"strings"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/uql"
)

// CTE names used by the extended write forms.
const (
	parentRow = "parent_row"
	childRow  = "child_row"
	targetCTE = "target"
	targetID  = "target_id"
)

// columns renders the fields of rec that m declares, in declaration order.
// skip names fields to leave out.
func columns(m *schema.Model, rec map[string]any, skip ...string) (cols, vals []string, err error) {
	for _, f := range m.Fields() {
		v, ok := rec[f.Name]
		if !ok || contains(skip, f.Name) {
			continue
		}
		lit, err := renderValue(f.Type, v)
		if err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		cols = append(cols, f.Name)
		vals = append(vals, lit)
	}
	return cols, vals, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// insertValues renders "INSERT INTO t (cols) VALUES (vals)", or the
// DEFAULT VALUES form for an empty payload.
func insertValues(table string, cols, vals []string) string {
	if len(cols) == 0 {
		return "INSERT INTO " + table + " DEFAULT VALUES"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(vals, ", "))
}

// insertChild renders the child half of an extended write. The foreign key
// is taken from the parent row produced earlier in the same statement.
func insertChild(m *schema.Model, cols, vals []string) string {
	ref := parentRow + "." + m.Parent().PrimaryKey()
	cols = append(append([]string(nil), cols...), m.ForeignKey())
	vals = append(append([]string(nil), vals...), ref)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		m.Collection(), strings.Join(cols, ", "), strings.Join(vals, ", "), parentRow)
}

// joinRows selects the merged row produced by an extended insert or upsert.
func joinRows(m *schema.Model) string {
	return fmt.Sprintf("SELECT %s.*, %s.* FROM %s INNER JOIN %s ON %s.%s=%s.%s",
		parentRow, childRow, parentRow, childRow,
		parentRow, m.Parent().PrimaryKey(), childRow, m.ForeignKey())
}

func (c *Compiler) compileInsert(m *schema.Model, data uql.Record) (*Statement, error) {
	if !m.IsExtended() {
		cols, vals, err := columns(m, data)
		if err != nil {
			return nil, err
		}
		return &Statement{Text: insertValues(m.Collection(), cols, vals) + " RETURNING *", Result: Rows}, nil
	}

	parent := m.Parent()
	pdata, cdata := m.SplitRecord(data)
	pcols, pvals, err := columns(parent, pdata)
	if err != nil {
		return nil, err
	}
	ccols, cvals, err := columns(m, cdata, m.ForeignKey())
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("WITH %s AS (%s RETURNING *), %s AS (%s RETURNING *) %s",
		parentRow, insertValues(parent.Collection(), pcols, pvals),
		childRow, insertChild(m, ccols, cvals),
		joinRows(m))
	return &Statement{Text: text, Result: Rows}, nil
}

// setList renders "a='x', b=1" for the fields of rec that m declares.
func setList(m *schema.Model, rec map[string]any, skip ...string) (string, error) {
	cols, vals, err := columns(m, rec, skip...)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(cols))
	for i := range cols {
		parts[i] = cols[i] + "=" + vals[i]
	}
	return strings.Join(parts, ", "), nil
}

// targetSelect materializes the parent primary keys of the logical records
// matching where.
func targetSelect(m *schema.Model, where string) string {
	p := m.Parent()
	text := fmt.Sprintf("SELECT %s.%s AS %s FROM %s", p.Collection(), p.PrimaryKey(), targetID, source(m))
	if where != "" {
		text += " WHERE " + where
	}
	return text
}

func (c *Compiler) compileUpdate(m *schema.Model, q *uql.Query, data uql.Record) (*Statement, error) {
	if err := uql.RequireWhere(q); err != nil {
		return nil, err
	}
	where, err := renderWhere(m, q.Where)
	if err != nil {
		return nil, err
	}

	if !m.IsExtended() {
		set, err := setList(m, data, m.PrimaryKey())
		if err != nil {
			return nil, err
		}
		if set == "" {
			return nil, dberr.BadInput("update of %s sets no fields", m.Collection())
		}
		text := fmt.Sprintf("UPDATE %s SET %s", m.Collection(), set)
		if where != "" {
			text += " WHERE " + where
		}
		return &Statement{Text: text, Result: Affected}, nil
	}

	parent := m.Parent()
	pdata, cdata := m.SplitRecord(data)
	pset, err := setList(parent, pdata, parent.PrimaryKey())
	if err != nil {
		return nil, err
	}
	cset, err := setList(m, cdata, m.PrimaryKey(), m.ForeignKey())
	if err != nil {
		return nil, err
	}
	if pset == "" && cset == "" {
		return nil, dberr.BadInput("update of %s sets no fields", m.Collection())
	}

	ctes := []string{targetCTE + " AS (" + targetSelect(m, where) + ")"}
	if pset != "" {
		ctes = append(ctes, fmt.Sprintf("parent_update AS (UPDATE %s SET %s WHERE %s.%s IN (SELECT %s FROM %s) RETURNING %s.%s)",
			parent.Collection(), pset, parent.Collection(), parent.PrimaryKey(), targetID, targetCTE,
			parent.Collection(), parent.PrimaryKey()))
	}
	if cset != "" {
		ctes = append(ctes, fmt.Sprintf("child_update AS (UPDATE %s SET %s WHERE %s.%s IN (SELECT %s FROM %s) RETURNING %s.%s)",
			m.Collection(), cset, m.Collection(), m.ForeignKey(), targetID, targetCTE,
			m.Collection(), m.ForeignKey()))
	}
	text := "WITH " + strings.Join(ctes, ", ") + " SELECT COUNT(*) AS count FROM " + targetCTE
	return &Statement{Text: text, Result: Scalar}, nil
}

func (c *Compiler) compileRemove(m *schema.Model, q *uql.Query) (*Statement, error) {
	where, err := renderWhere(m, q.Where)
	if err != nil {
		return nil, err
	}

	if !m.IsExtended() {
		text := "DELETE FROM " + m.Collection()
		if where != "" {
			text += " WHERE " + where
		}
		return &Statement{Text: text, Result: Affected}, nil
	}

	parent := m.Parent()
	pk := parent.Collection() + "." + parent.PrimaryKey()
	fk := m.Collection() + "." + m.ForeignKey()

	// Children go first so a foreign key without ON DELETE CASCADE holds.
	var steps []string
	if where == "" {
		steps = []string{fmt.Sprintf(
			"WITH child_delete AS (DELETE FROM %s RETURNING %s) DELETE FROM %s WHERE %s IN (SELECT %s FROM child_delete)",
			m.Collection(), fk, parent.Collection(), pk, m.ForeignKey())}
	} else {
		steps = []string{fmt.Sprintf(
			"WITH %s AS (%s), child_delete AS (DELETE FROM %s WHERE %s IN (SELECT %s FROM %s)) DELETE FROM %s WHERE %s IN (SELECT %s FROM %s)",
			targetCTE, targetSelect(m, where),
			m.Collection(), fk, targetID, targetCTE,
			parent.Collection(), pk, targetID, targetCTE)}
	}
	return atomic(steps, Affected), nil
}

// atomic wraps steps in an explicit transaction. Steps stay available to
// executors that drive the transaction themselves.
func atomic(steps []string, result Result) *Statement {
	text := "BEGIN; " + strings.Join(steps, "; ") + "; COMMIT;"
	return &Statement{Text: text, Result: result, Atomic: true, Steps: steps}
}

// conflictClause renders "ON CONFLICT (target) DO UPDATE SET c=EXCLUDED.c".
// Target fields and protected fields are never rewritten; when nothing else
// was supplied the first target field is reassigned so RETURNING still
// yields the existing row.
func conflictClause(target, cols []string, protected ...string) string {
	var sets []string
	for _, col := range cols {
		if contains(target, col) || contains(protected, col) {
			continue
		}
		sets = append(sets, col+"=EXCLUDED."+col)
	}
	if len(sets) == 0 {
		sets = []string{target[0] + "=EXCLUDED." + target[0]}
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(target, ", "), strings.Join(sets, ", "))
}

func (c *Compiler) compileUpsert(m *schema.Model, q *uql.Query, data uql.Record) (*Statement, error) {
	if err := uql.RequireWhere(q); err != nil {
		return nil, err
	}
	target, err := schema.SelectConflictTarget(m)
	if err != nil {
		return nil, err
	}
	payload := uql.UpsertPayload(m, q, data)
	if err := schema.CheckConflictValues(m, target, payload); err != nil {
		return nil, err
	}

	if !m.IsExtended() {
		cols, vals, err := columns(m, payload)
		if err != nil {
			return nil, err
		}
		text := insertValues(m.Collection(), cols, vals) + " " +
			conflictClause(target, cols, m.PrimaryKey()) + " RETURNING *"
		return &Statement{Text: text, Result: Rows}, nil
	}

	parent := m.Parent()
	ptarget, err := schema.SelectConflictTarget(parent)
	if err != nil {
		return nil, err
	}
	pdata, cdata := m.SplitRecord(payload)
	if err := schema.CheckConflictValues(parent, ptarget, pdata); err != nil {
		return nil, err
	}
	pcols, pvals, err := columns(parent, pdata)
	if err != nil {
		return nil, err
	}
	ccols, cvals, err := columns(m, cdata, m.ForeignKey())
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("WITH %s AS (%s %s RETURNING *), %s AS (%s %s RETURNING *) %s",
		parentRow, insertValues(parent.Collection(), pcols, pvals), conflictClause(ptarget, pcols, parent.PrimaryKey()),
		childRow, insertChild(m, ccols, cvals), conflictClause(target, ccols, m.PrimaryKey(), m.ForeignKey()),
		joinRows(m))
	return &Statement{Text: text, Result: Rows}, nil
}
