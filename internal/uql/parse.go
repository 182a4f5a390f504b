package uql

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/value"
)

// entry is one key of an ordered mapping.
type entry struct {
	key string
	val any
}

// object is a mapping that remembers key order. Parsed documents use it
// so that predicates and sort keys keep the order the caller wrote them in.
type object []entry

// operatorTokens are the keys that turn a field value into an operator
// object instead of a JSON literal.
var operatorTokens = map[string]bool{
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"contains": true, "regex": true, "options": true,
}

// Parse reads a query document in YAML or JSON:
//
//	where: {name: Jon, createdAt: {gte: 2024-01-01, lt: 2024-02-01}}
//	order: {name: asc}
//	limit: 10
//	skip: 20
//
// Key order in where and order is preserved. Operator keys may carry a
// leading "$". An empty document yields a query without a where keyword.
func Parse(data []byte) (*Query, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, dberr.BadInput("parse query: %v", err)
	}
	v, err := fromNode(&root)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &Query{}, nil
	}
	obj, ok := v.(object)
	if !ok {
		return nil, dberr.BadInput("query must be a mapping")
	}
	return queryFromObject(obj)
}

// ParseWhere reads a bare where mapping in YAML or JSON.
func ParseWhere(data []byte) (*Where, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, dberr.BadInput("parse where: %v", err)
	}
	v, err := fromNode(&root)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return All(), nil
	}
	obj, ok := v.(object)
	if !ok {
		return nil, dberr.BadInput("where must be a mapping")
	}
	return whereFromObject(obj)
}

// ParseRecord reads a data payload in YAML or JSON.
func ParseRecord(data []byte) (Record, error) {
	var rec map[string]any
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, dberr.BadInput("parse record: %v", err)
	}
	return Record(rec), nil
}

// FromMap builds a query from a generic map, as produced by JSON decoding
// into map[string]any. Go maps are unordered, so keys are processed in
// sorted order.
func FromMap(m map[string]any) (*Query, error) {
	return queryFromObject(toObject(m))
}

// WhereFromMap builds a where clause from a generic map, keys sorted.
func WhereFromMap(m map[string]any) (*Where, error) {
	return whereFromObject(toObject(m))
}

func fromNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromNode(n.Content[0])
	case yaml.AliasNode:
		return fromNode(n.Alias)
	case yaml.MappingNode:
		obj := make(object, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := fromNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj = append(obj, entry{key: n.Content[i].Value, val: v})
		}
		return obj, nil
	case yaml.SequenceNode:
		arr := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, dberr.BadInput("line %d: %v", n.Line, err)
		}
		return v, nil
	}
}

// toObject converts nested generic maps into ordered objects.
func toObject(m map[string]any) object {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obj := make(object, 0, len(keys))
	for _, k := range keys {
		obj = append(obj, entry{key: k, val: toOrdered(m[k])})
	}
	return obj
}

func toOrdered(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return toObject(val)
	case Record:
		return toObject(val)
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = toOrdered(x)
		}
		return out
	}
	return v
}

// plain converts ordered objects back into generic maps, for literals.
func plain(v any) any {
	switch val := v.(type) {
	case object:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.key] = plain(e.val)
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = plain(x)
		}
		return out
	}
	return v
}

func queryFromObject(obj object) (*Query, error) {
	q := &Query{}
	for _, e := range obj {
		switch e.key {
		case "where":
			if e.val == nil {
				q.Where = All()
				continue
			}
			wobj, ok := e.val.(object)
			if !ok {
				return nil, dberr.BadInput("where must be a mapping")
			}
			w, err := whereFromObject(wobj)
			if err != nil {
				return nil, err
			}
			q.Where = w
		case "order":
			oobj, ok := e.val.(object)
			if !ok {
				return nil, dberr.BadInput("order must be a mapping of field to direction")
			}
			for _, o := range oobj {
				q.Order = append(q.Order, OrderBy{Field: o.key, Direction: directionOf(o.val)})
			}
		case "limit":
			n, ok := value.Int(e.val)
			if !ok {
				return nil, dberr.BadInput("limit must be an integer")
			}
			limit := int(n)
			q.Limit = &limit
		case "skip":
			n, ok := value.Int(e.val)
			if !ok {
				return nil, dberr.BadInput("skip must be an integer")
			}
			q.Skip = int(n)
		default:
			return nil, dberr.BadInput("unknown query keyword %q", e.key)
		}
	}
	return q, nil
}

// directionOf accepts asc/desc tokens as well as 1/-1.
func directionOf(v any) Direction {
	if n, ok := value.Int(v); ok {
		if n >= 0 {
			return Asc
		}
		return Desc
	}
	s, _ := v.(string)
	return ParseDirection(s)
}

func whereFromObject(obj object) (*Where, error) {
	w := &Where{Clauses: make([]Clause, 0, len(obj))}
	for _, e := range obj {
		key := strings.TrimPrefix(e.key, "$")
		if key == string(LogicAnd) || key == string(LogicOr) {
			g, err := groupFrom(Logic(key), e.val)
			if err != nil {
				return nil, err
			}
			w.Clauses = append(w.Clauses, g)
			continue
		}
		p, err := predicateFrom(e.key, e.val)
		if err != nil {
			return nil, err
		}
		w.Clauses = append(w.Clauses, p)
	}
	return w, nil
}

func groupFrom(logic Logic, v any) (*Group, error) {
	var items []any
	switch val := v.(type) {
	case []any:
		items = val
	case object:
		items = []any{val}
	default:
		return nil, dberr.BadInput("%s expects a list of conditions", logic)
	}
	g := &Group{Logic: logic, Branches: make([]*Where, 0, len(items))}
	for i, item := range items {
		obj, ok := item.(object)
		if !ok {
			return nil, dberr.BadInput("%s condition %d must be a mapping", logic, i)
		}
		b, err := whereFromObject(obj)
		if err != nil {
			return nil, err
		}
		g.Branches = append(g.Branches, b)
	}
	return g, nil
}

func isOperatorObject(obj object) bool {
	if len(obj) == 0 {
		return false
	}
	for _, e := range obj {
		if !operatorTokens[strings.TrimPrefix(e.key, "$")] {
			return false
		}
	}
	return true
}

func predicateFrom(field string, v any) (*Predicate, error) {
	obj, ok := v.(object)
	if !ok || !isOperatorObject(obj) {
		return Eq(field, plain(v)), nil
	}

	p := &Predicate{Field: field}
	var options *string
	for _, e := range obj {
		switch op := strings.TrimPrefix(e.key, "$"); op {
		case "regex":
			pattern, ok := e.val.(string)
			if !ok {
				return nil, dberr.BadInput("regex on %s must be a string", field)
			}
			if p.Regex == nil {
				p.Regex = &Regex{}
			}
			p.Regex.Pattern = pattern
		case "options":
			s, ok := e.val.(string)
			if !ok {
				return nil, dberr.BadInput("regex options on %s must be a string", field)
			}
			options = &s
		default:
			p.Comparisons = append(p.Comparisons, Comparison{Op: Op(op), Value: plain(e.val)})
		}
	}
	if options != nil {
		if p.Regex == nil {
			return nil, dberr.BadInput("options on %s without regex", field)
		}
		p.Regex.Options = *options
	}
	return p, nil
}
