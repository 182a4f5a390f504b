package uql

import (
	"sort"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/naming"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/value"
)

// Normalize rewrites a query's external field names to storage names and
// validates it against the model. The input is not modified.
//
// Every field referenced in where (inside and/or groups too) and in order
// must be known to the model after dot paths are reduced to their root
// field. Unknown fields fail with BAD_INPUT naming all offenders, so a bad
// query never reaches an executor.
//
// Normalize is a pure function with no side effects.
func Normalize(m *schema.Model, q *Query) (*Query, error) {
	if q == nil {
		q = &Query{}
	}
	out := q.Clone()
	out.Where.walk(func(p *Predicate) {
		p.Field = naming.ToSnake(p.Field)
	})
	for i := range out.Order {
		out.Order[i].Field = naming.ToSnake(out.Order[i].Field)
	}
	if err := Validate(m, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks an already-normalized query against the model.
func Validate(m *schema.Model, q *Query) error {
	v := &validator{model: m, seen: make(map[string]struct{})}
	if q != nil {
		q.Where.walk(v.checkPredicate)
		for _, o := range q.Order {
			v.check(o.Field)
		}
	}
	if v.err != nil {
		return v.err
	}
	if len(v.unknown) > 0 {
		return dberr.UnknownFields(m.Collection(), v.unknown)
	}
	return nil
}

// validator accumulates unknown fields during traversal.
type validator struct {
	model   *schema.Model
	unknown []string
	seen    map[string]struct{}
	err     error
}

func (v *validator) check(field string) {
	root := value.Root(field)
	if v.model.Has(root) {
		return
	}
	if _, dup := v.seen[root]; dup {
		return
	}
	v.seen[root] = struct{}{}
	v.unknown = append(v.unknown, root)
}

func (v *validator) checkPredicate(p *Predicate) {
	v.check(p.Field)
	if v.err != nil {
		return
	}
	if p.Regex == nil && len(p.Comparisons) == 0 {
		v.err = dberr.BadInput("empty condition on %s", p.Field)
		return
	}
	for _, c := range p.Comparisons {
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		default:
			v.err = dberr.BadInput("unknown operator %q on %s", c.Op, p.Field)
			return
		}
	}
}

// RequireWhere fails with BAD_INPUT unless the query carries an explicit
// where keyword. Callers that mean "match everything" pass an empty where.
func RequireWhere(q *Query) error {
	if q == nil || q.Where == nil {
		return dberr.BadInput("where is required; use an empty where to match all records")
	}
	return nil
}

// NormalizeRecord rewrites a data payload's keys to storage names and
// rejects fields unknown to the model.
func NormalizeRecord(m *schema.Model, data Record) (Record, error) {
	out := make(Record, len(data))
	var unknown []string
	for k, v := range data {
		name := naming.ToSnake(k)
		if !m.Has(name) {
			unknown = append(unknown, k)
			continue
		}
		out[name] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, dberr.UnknownFields(m.Collection(), unknown)
	}
	return out, nil
}

// UpsertPayload is the record an upsert inserts on a miss: the literal
// equalities of the where clause merged with data, data winning on
// collisions. Only fields known to m are kept.
func UpsertPayload(m *schema.Model, q *Query, data Record) Record {
	out := make(Record, len(data))
	if q != nil {
		for k, v := range q.Where.Equalities() {
			if m.Has(k) {
				out[k] = v
			}
		}
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}
