package uql

import (
	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/value"
)

// SplitWhere divides a where clause between parent and child. A predicate
// goes to the model that stores its field; the child wins for fields both
// declare. A group must address one side only.
func SplitWhere(m *schema.Model, w *Where) (parent, child *Where, err error) {
	parent, child = &Where{}, &Where{}
	if w.Empty() {
		return parent, child, nil
	}
	for _, c := range w.Clauses {
		sides := make(map[*schema.Model]struct{})
		for _, f := range (&Where{Clauses: []Clause{c}}).Fields() {
			if owner := m.Owner(value.Root(f)); owner != nil {
				sides[owner] = struct{}{}
			}
		}
		switch {
		case len(sides) > 1:
			return nil, nil, dberr.BadInput("condition group on %s mixes %s and %s fields", m.Collection(), m.Parent().Collection(), m.Collection())
		case hasSide(sides, m.Parent()):
			parent.Clauses = append(parent.Clauses, c)
		default:
			child.Clauses = append(child.Clauses, c)
		}
	}
	return parent, child, nil
}

func hasSide(sides map[*schema.Model]struct{}, m *schema.Model) bool {
	_, ok := sides[m]
	return ok
}

// SplitOrder divides order keys between parent and child, keeping their
// relative order.
func SplitOrder(m *schema.Model, order []OrderBy) (parent, child []OrderBy) {
	for _, o := range order {
		if m.Owner(o.Field) == m.Parent() {
			parent = append(parent, o)
		} else {
			child = append(child, o)
		}
	}
	return parent, child
}
