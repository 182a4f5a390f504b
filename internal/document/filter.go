package document

import (
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/uql"
	"github.com/roach88/uql/internal/value"
)

var operators = map[uql.Op]string{
	uql.OpEq:  "$eq",
	uql.OpNe:  "$ne",
	uql.OpGt:  "$gt",
	uql.OpGte: "$gte",
	uql.OpLt:  "$lt",
	uql.OpLte: "$lte",
}

// Filter rewrites a where clause into a filter document. Clauses that
// would share a key (two conditions on one field, two $or groups) are
// combined under $and.
func Filter(m *schema.Model, w *uql.Where) bson.M {
	if w.Empty() {
		return bson.M{}
	}
	var docs []bson.M
	for _, c := range w.Clauses {
		switch cl := c.(type) {
		case *uql.Predicate:
			docs = append(docs, predicate(m, cl)...)
		case *uql.Group:
			if d := group(m, cl); d != nil {
				docs = append(docs, d)
			}
		}
	}
	return combine(docs)
}

// combine merges single-purpose documents into one, falling back to $and
// when keys collide.
func combine(docs []bson.M) bson.M {
	out := bson.M{}
	for _, d := range docs {
		for k := range d {
			if _, dup := out[k]; dup {
				list := make(bson.A, len(docs))
				for i, d := range docs {
					list[i] = d
				}
				return bson.M{"$and": list}
			}
		}
		for k, v := range d {
			out[k] = v
		}
	}
	return out
}

func group(m *schema.Model, g *uql.Group) bson.M {
	branches := make(bson.A, 0, len(g.Branches))
	for _, b := range g.Branches {
		branches = append(branches, Filter(m, b))
	}
	if len(branches) == 0 {
		return nil
	}
	return bson.M{"$" + string(g.Logic): branches}
}

func predicate(m *schema.Model, p *uql.Predicate) []bson.M {
	ft, _ := m.TypeOf(value.Root(p.Field))
	dotted := p.Dotted()

	if v, ok := p.Literal(); ok {
		if obj, isObj := v.(map[string]any); isObj && ft == schema.JSON && !dotted {
			return containment(p.Field, obj)
		}
		return []bson.M{{p.Field: coerce(ft, dotted, v)}}
	}

	var docs []bson.M
	ops := bson.M{}
	for _, c := range p.Comparisons {
		if c.Op == uql.OpContains {
			docs = append(docs, contains(p.Field, ft, dotted, c.Value)...)
			continue
		}
		ops[operators[c.Op]] = coerce(ft, dotted, c.Value)
	}
	if p.Regex != nil {
		ops["$regex"] = p.Regex.Pattern
		if p.Regex.Options != "" {
			ops["$options"] = p.Regex.Options
		}
	}
	if len(ops) > 0 {
		docs = append([]bson.M{{p.Field: ops}}, docs...)
	}
	return docs
}

// containment matches every leaf of obj by its dot path, so a JSON field
// matches when it contains obj rather than when it equals it.
func containment(prefix string, obj map[string]any) []bson.M {
	var docs []bson.M
	for _, k := range sortedKeys(obj) {
		path := prefix + "." + k
		if nested, ok := obj[k].(map[string]any); ok && len(nested) > 0 {
			docs = append(docs, containment(path, nested)...)
			continue
		}
		docs = append(docs, bson.M{path: obj[k]})
	}
	return docs
}

func contains(field string, ft schema.FieldType, dotted bool, v any) []bson.M {
	switch {
	case ft == schema.Array && !dotted:
		items, ok := v.([]any)
		if !ok {
			items = []any{v}
		}
		return []bson.M{{field: bson.M{"$all": bson.A(items)}}}
	case ft == schema.JSON && !dotted:
		if obj, ok := v.(map[string]any); ok {
			return containment(field, obj)
		}
		return []bson.M{{field: v}}
	}
	s, ok := v.(string)
	if !ok {
		return []bson.M{{field: v}}
	}
	return []bson.M{{field: bson.M{"$regex": regexp.QuoteMeta(s)}}}
}

// coerce converts ISO-8601 strings compared against date fields to
// time.Time so they compare against stored dates.
func coerce(ft schema.FieldType, dotted bool, v any) any {
	if ft != schema.Date || dotted {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
		return ts.UTC()
	}
	return v
}

// Sort rewrites order keys into a sort specification: ASC is 1, DESC -1.
// The result is never nil.
func Sort(order []uql.OrderBy) bson.D {
	out := bson.D{}
	for _, o := range order {
		dir := -1
		if o.Direction == uql.Asc {
			dir = 1
		}
		out = append(out, bson.E{Key: o.Field, Value: dir})
	}
	return out
}

// Set builds a field document from rec, skipping the named fields and
// converting date strings.
func Set(m *schema.Model, rec map[string]any, skip ...string) bson.M {
	out := bson.M{}
	for k, v := range rec {
		if containsString(skip, k) {
			continue
		}
		ft, _ := m.TypeOf(k)
		out[k] = coerce(ft, false, v)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
