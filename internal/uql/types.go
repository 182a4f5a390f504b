package uql

import "strings"

// Record is one stored row or document, keyed by field name.
type Record map[string]any

// Op is a comparison operator inside a field predicate.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
)

// Logic joins the branches of a Group.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Direction is a normalized sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// ParseDirection normalizes a direction token. "asc" in any case is
// ascending; every other token is descending.
func ParseDirection(token string) Direction {
	if strings.EqualFold(strings.TrimSpace(token), "asc") {
		return Asc
	}
	return Desc
}

// Clause is one top-level entry of a where mapping.
//
// This is a sealed interface - only *Predicate and *Group implement it,
// so backends can switch exhaustively over clause kinds.
type Clause interface {
	clause()
}

// Comparison is one operator applied to a field value.
type Comparison struct {
	Op    Op
	Value any
}

// Regex is a pattern match on a string field.
type Regex struct {
	Pattern string
	Options string
}

// Predicate constrains a single field. A literal in the where mapping
// becomes a single OpEq comparison; an operator object ({gt, lt}) keeps
// its comparisons in declaration order.
//
// Field may be a dot path ("job.title") into a JSON-typed field.
type Predicate struct {
	Field       string
	Comparisons []Comparison
	Regex       *Regex
}

func (*Predicate) clause() {}

// Literal returns the equality value when the predicate is a plain
// field = value test.
func (p *Predicate) Literal() (any, bool) {
	if p.Regex != nil || len(p.Comparisons) != 1 || p.Comparisons[0].Op != OpEq {
		return nil, false
	}
	return p.Comparisons[0].Value, true
}

// Dotted reports whether the predicate addresses a path inside a field.
func (p *Predicate) Dotted() bool {
	return strings.Contains(p.Field, ".")
}

// Group combines sub-conditions with and/or. Each branch is itself a
// complete where clause.
type Group struct {
	Logic    Logic
	Branches []*Where
}

func (*Group) clause() {}

// Where is a conjunction of clauses, kept in declaration order.
// An empty Where matches everything.
type Where struct {
	Clauses []Clause
}

// Empty reports whether the clause list is empty.
func (w *Where) Empty() bool {
	return w == nil || len(w.Clauses) == 0
}

// Fields returns the distinct fields referenced anywhere in w, including
// inside groups, in first-seen order. Dot paths are reported verbatim.
func (w *Where) Fields() []string {
	var out []string
	seen := make(map[string]struct{})
	w.walk(func(p *Predicate) {
		if _, ok := seen[p.Field]; !ok {
			seen[p.Field] = struct{}{}
			out = append(out, p.Field)
		}
	})
	return out
}

// walk visits every predicate in w depth-first.
func (w *Where) walk(fn func(*Predicate)) {
	if w == nil {
		return
	}
	for _, c := range w.Clauses {
		switch cl := c.(type) {
		case *Predicate:
			fn(cl)
		case *Group:
			for _, b := range cl.Branches {
				b.walk(fn)
			}
		}
	}
}

// Equalities returns the top-level literal equality predicates as a map.
// Predicates inside groups and dot paths are not included.
func (w *Where) Equalities() map[string]any {
	out := make(map[string]any)
	if w == nil {
		return out
	}
	for _, c := range w.Clauses {
		p, ok := c.(*Predicate)
		if !ok || p.Dotted() {
			continue
		}
		if v, ok := p.Literal(); ok {
			out[p.Field] = v
		}
	}
	return out
}

// OrderBy is one sort key.
type OrderBy struct {
	Field     string
	Direction Direction
}

// Query is the backend-agnostic query shape {where, order, limit, skip}.
//
// A nil Where means the where keyword was absent, which update and upsert
// reject. Limit is nil when absent; a present limit of zero or less yields
// no results. Skip of zero or less is a no-op.
type Query struct {
	Where *Where
	Order []OrderBy
	Limit *int
	Skip  int
}

// NewQuery creates a query with the given where clause.
func NewQuery(where *Where) *Query {
	return &Query{Where: where}
}

// OrderBy appends a sort key and returns q.
func (q *Query) OrderBy(field string, dir Direction) *Query {
	q.Order = append(q.Order, OrderBy{Field: field, Direction: dir})
	return q
}

// WithLimit sets the limit and returns q.
func (q *Query) WithLimit(n int) *Query {
	q.Limit = &n
	return q
}

// WithSkip sets the skip and returns q.
func (q *Query) WithSkip(n int) *Query {
	q.Skip = n
	return q
}

// Clone returns a deep copy of q's structure. Literal values are shared.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	out := &Query{Where: q.Where.Clone(), Skip: q.Skip}
	if q.Order != nil {
		out.Order = append([]OrderBy(nil), q.Order...)
	}
	if q.Limit != nil {
		n := *q.Limit
		out.Limit = &n
	}
	return out
}

// Clone returns a deep copy of w's structure.
func (w *Where) Clone() *Where {
	if w == nil {
		return nil
	}
	out := &Where{Clauses: make([]Clause, len(w.Clauses))}
	for i, c := range w.Clauses {
		switch cl := c.(type) {
		case *Predicate:
			p := &Predicate{Field: cl.Field, Comparisons: append([]Comparison(nil), cl.Comparisons...)}
			if cl.Regex != nil {
				r := *cl.Regex
				p.Regex = &r
			}
			out.Clauses[i] = p
		case *Group:
			g := &Group{Logic: cl.Logic, Branches: make([]*Where, len(cl.Branches))}
			for j, b := range cl.Branches {
				g.Branches[j] = b.Clone()
			}
			out.Clauses[i] = g
		}
	}
	return out
}
