package uql

// NewWhere builds a where clause from clauses in order.
func NewWhere(clauses ...Clause) *Where {
	return &Where{Clauses: clauses}
}

// All returns an empty where clause, which matches every record.
func All() *Where {
	return &Where{}
}

// Eq builds field = v.
func Eq(field string, v any) *Predicate {
	return Cmp(field, Comparison{Op: OpEq, Value: v})
}

// Ne builds field != v. A nil v means IS NOT NULL.
func Ne(field string, v any) *Predicate {
	return Cmp(field, Comparison{Op: OpNe, Value: v})
}

// Gt builds field > v.
func Gt(field string, v any) *Predicate {
	return Cmp(field, Comparison{Op: OpGt, Value: v})
}

// Gte builds field >= v.
func Gte(field string, v any) *Predicate {
	return Cmp(field, Comparison{Op: OpGte, Value: v})
}

// Lt builds field < v.
func Lt(field string, v any) *Predicate {
	return Cmp(field, Comparison{Op: OpLt, Value: v})
}

// Lte builds field <= v.
func Lte(field string, v any) *Predicate {
	return Cmp(field, Comparison{Op: OpLte, Value: v})
}

// Contains builds an array-element, JSON-containment or substring test.
func Contains(field string, v any) *Predicate {
	return Cmp(field, Comparison{Op: OpContains, Value: v})
}

// Cmp builds an operator object on one field, e.g. {gte: d1, lt: d2}.
func Cmp(field string, cs ...Comparison) *Predicate {
	return &Predicate{Field: field, Comparisons: cs}
}

// Match builds a regex predicate.
func Match(field, pattern, options string) *Predicate {
	return &Predicate{Field: field, Regex: &Regex{Pattern: pattern, Options: options}}
}

// Or builds a group where at least one branch must match.
func Or(branches ...*Where) *Group {
	return &Group{Logic: LogicOr, Branches: branches}
}

// And builds a group where every branch must match.
func And(branches ...*Where) *Group {
	return &Group{Logic: LogicAnd, Branches: branches}
}
