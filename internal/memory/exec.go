package memory

import (
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/uql"
	"github.com/roach88/uql/internal/value"
)

// Find returns copies of the records matching p, ordered and paginated.
// Records of an extended model are merged with their parent; the child's
// value wins for fields both declare.
func (s *Store) Find(p *Plan) []uql.Record {
	recs := s.scan(p)
	Sort(recs, p.Order)
	return Paginate(recs, p.Skip, p.Limit)
}

// Count returns the number of records matching p. Pagination is ignored.
func (s *Store) Count(p *Plan) int64 {
	return int64(len(s.scan(p)))
}

func (s *Store) scan(p *Plan) []uql.Record {
	m := p.Model
	if !m.IsExtended() {
		t := s.table(m)
		unlock := lock(false, t)
		defer unlock()

		var out []uql.Record
		for _, pos := range t.match(ownEqualities(m, p.Where), p.Match) {
			out = append(out, clone(t.rows[pos]))
		}
		return out
	}

	parent, child := s.table(m.Parent()), s.table(m)
	unlock := lock(false, parent, child)
	defer unlock()

	var out []uql.Record
	for _, pr := range s.pairs(p, parent, child) {
		out = append(out, schema.Merge(parent.rows[pr.parent], child.rows[pr.child]))
	}
	return out
}

// pair holds the positions of the two halves of one extended record.
type pair struct {
	parent, child int
}

// pairs returns the extended records matching p. A child whose parent
// cannot be found is dropped. Callers hold both tables' locks.
func (s *Store) pairs(p *Plan, parent, child *Table) []pair {
	m := p.Model
	var out []pair
	candidates := child.match(ownEqualities(m, p.Where), matchAll)
	for _, cpos := range candidates {
		crow := child.rows[cpos]
		ppos, ok := parent.idx.primary[value.Key(crow[m.ForeignKey()])]
		if !ok || crow[m.ForeignKey()] == nil {
			continue
		}
		if p.Match(schema.Merge(parent.rows[ppos], crow)) {
			out = append(out, pair{parent: ppos, child: cpos})
		}
	}
	return out
}

// ownEqualities keeps the literal equalities on fields m stores itself,
// which are the ones its indexes can answer. Nil values are dropped since
// nil is never indexed.
func ownEqualities(m *schema.Model, w *uql.Where) map[string]any {
	out := make(map[string]any)
	for k, v := range w.Equalities() {
		if v != nil && m.HasOwn(k) {
			out[k] = v
		}
	}
	return out
}

// Insert stores p.Data and returns the stored record. Missing primary
// keys are generated. For an extended model the parent half is stored
// first and its key becomes the child's foreign key; neither half is
// stored unless both fit.
func (s *Store) Insert(p *Plan) (uql.Record, error) {
	m := p.Model
	if !m.IsExtended() {
		t := s.table(m)
		unlock := lock(true, t)
		defer unlock()

		rec := clone(p.Data)
		if err := s.assignKey(t, rec); err != nil {
			return nil, err
		}
		if err := t.insert(rec); err != nil {
			return nil, err
		}
		return clone(rec), nil
	}

	parent, child := s.table(m.Parent()), s.table(m)
	unlock := lock(true, parent, child)
	defer unlock()

	prec, crec := m.SplitRecord(p.Data)
	if err := s.assignKey(parent, prec); err != nil {
		return nil, err
	}
	crec[m.ForeignKey()] = prec[m.Parent().PrimaryKey()]
	if err := s.assignKey(child, crec); err != nil {
		return nil, err
	}
	if err := parent.idx.conflict(parent.model, keysOf(parent.model, prec), -1); err != nil {
		return nil, err
	}
	if err := child.idx.conflict(child.model, keysOf(child.model, crec), -1); err != nil {
		return nil, err
	}
	if err := parent.insert(prec); err != nil {
		return nil, err
	}
	if err := child.insert(crec); err != nil {
		return nil, err
	}
	return schema.Merge(prec, crec), nil
}

// staged is a rewritten copy of a table's rows, committed only after its
// indexes rebuild without conflicts.
type staged struct {
	t    *Table
	rows []uql.Record
	idx  *indexes
}

func stage(t *Table) *staged {
	return &staged{t: t, rows: append([]uql.Record(nil), t.rows...)}
}

func (st *staged) set(pos int, fields uql.Record) uql.Record {
	row := clone(st.rows[pos])
	for k, v := range fields {
		row[k] = v
	}
	st.rows[pos] = row
	return row
}

func (st *staged) drop(positions map[int]struct{}) {
	kept := st.rows[:0:0]
	for pos, row := range st.rows {
		if _, gone := positions[pos]; !gone {
			kept = append(kept, row)
		}
	}
	st.rows = kept
}

func (st *staged) prepare() error {
	idx, err := buildIndexes(st.t.model, st.rows)
	if err != nil {
		return err
	}
	st.idx = idx
	return nil
}

// commit prepares every stage and swaps them in only if all succeed.
func commit(stages ...*staged) error {
	for _, st := range stages {
		if err := st.prepare(); err != nil {
			return err
		}
	}
	for _, st := range stages {
		st.t.rows, st.t.idx = st.rows, st.idx
	}
	return nil
}

// Update applies p.Data to every matching record and returns how many were
// changed. A change that would duplicate an index key fails the whole
// update and leaves the tables untouched.
func (s *Store) Update(p *Plan) (int64, error) {
	m := p.Model
	if !m.IsExtended() {
		t := s.table(m)
		unlock := lock(true, t)
		defer unlock()

		positions := t.match(ownEqualities(m, p.Where), p.Match)
		if len(positions) == 0 {
			return 0, nil
		}
		st := stage(t)
		for _, pos := range positions {
			st.set(pos, p.Data)
		}
		if err := commit(st); err != nil {
			return 0, err
		}
		return int64(len(positions)), nil
	}

	parent, child := s.table(m.Parent()), s.table(m)
	unlock := lock(true, parent, child)
	defer unlock()

	matched := s.pairs(p, parent, child)
	if len(matched) == 0 {
		return 0, nil
	}
	pset, cset := m.SplitRecord(p.Data)
	pst, cst := stage(parent), stage(child)
	for _, pr := range matched {
		if len(pset) > 0 {
			pst.set(pr.parent, pset)
		}
		if len(cset) > 0 {
			cst.set(pr.child, cset)
		}
	}
	if err := commit(pst, cst); err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Remove deletes every matching record and returns how many were removed.
// For an extended model both halves go.
func (s *Store) Remove(p *Plan) (int64, error) {
	m := p.Model
	if !m.IsExtended() {
		t := s.table(m)
		unlock := lock(true, t)
		defer unlock()

		positions := t.match(ownEqualities(m, p.Where), p.Match)
		if len(positions) == 0 {
			return 0, nil
		}
		st := stage(t)
		st.drop(set(positions))
		if err := commit(st); err != nil {
			return 0, err
		}
		return int64(len(positions)), nil
	}

	parent, child := s.table(m.Parent()), s.table(m)
	unlock := lock(true, parent, child)
	defer unlock()

	matched := s.pairs(p, parent, child)
	if len(matched) == 0 {
		return 0, nil
	}
	ppos, cpos := make(map[int]struct{}), make(map[int]struct{})
	for _, pr := range matched {
		ppos[pr.parent] = struct{}{}
		cpos[pr.child] = struct{}{}
	}
	pst, cst := stage(parent), stage(child)
	pst.drop(ppos)
	cst.drop(cpos)
	if err := commit(pst, cst); err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func set(positions []int) map[int]struct{} {
	out := make(map[int]struct{}, len(positions))
	for _, pos := range positions {
		out[pos] = struct{}{}
	}
	return out
}

// Upsert looks the payload up through the model's conflict target. On a
// hit the stored record is updated in place (its primary key kept); on a
// miss the payload is inserted. An extended model resolves the parent's
// own target first, then the child's.
func (s *Store) Upsert(p *Plan) (uql.Record, error) {
	m := p.Model
	if !m.IsExtended() {
		t := s.table(m)
		unlock := lock(true, t)
		defer unlock()

		st := stage(t)
		rec, err := s.upsertInto(st, p.Data)
		if err != nil {
			return nil, err
		}
		if err := commit(st); err != nil {
			return nil, err
		}
		return clone(rec), nil
	}

	parent, child := s.table(m.Parent()), s.table(m)
	unlock := lock(true, parent, child)
	defer unlock()

	pdata, cdata := m.SplitRecord(p.Data)
	pst, cst := stage(parent), stage(child)
	prec, err := s.upsertInto(pst, pdata)
	if err != nil {
		return nil, err
	}
	cdata[m.ForeignKey()] = prec[m.Parent().PrimaryKey()]
	crec, err := s.upsertInto(cst, cdata)
	if err != nil {
		return nil, err
	}
	if err := commit(pst, cst); err != nil {
		return nil, err
	}
	return schema.Merge(prec, crec), nil
}

// upsertInto resolves one table's half of an upsert against its staged
// rows. The table's committed indexes still describe the staged rows at
// this point, since an upsert stages at most one change per table.
func (s *Store) upsertInto(st *staged, data uql.Record) (uql.Record, error) {
	m := st.t.model
	target, err := schema.SelectConflictTarget(m)
	if err != nil {
		return nil, err
	}
	if pos, ok := st.t.idx.find(m, target, data); ok {
		fields := clone(data)
		delete(fields, m.PrimaryKey())
		return st.set(pos, fields), nil
	}
	rec := clone(data)
	if err := s.assignKey(st.t, rec); err != nil {
		return nil, err
	}
	st.rows = append(st.rows, rec)
	return rec, nil
}
