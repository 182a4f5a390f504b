package memory

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/uql"
	"github.com/roach88/uql/internal/value"
)

// Matcher reports whether a record satisfies a where clause.
type Matcher func(rec uql.Record) bool

func matchAll(uql.Record) bool { return true }

// CompileWhere builds the full-scan matcher for w. Regex patterns are
// compiled once here; an invalid pattern is BAD_INPUT.
//
// A record matches when every top-level clause holds: an or group needs
// one branch to match, an and group needs all of them, an operator object
// needs every operator to hold, and a literal needs strict equality with
// the field value (resolved through dot paths).
func CompileWhere(m *schema.Model, w *uql.Where) (Matcher, error) {
	if w.Empty() {
		return matchAll, nil
	}
	clauses := make([]Matcher, 0, len(w.Clauses))
	for _, c := range w.Clauses {
		var (
			fn  Matcher
			err error
		)
		switch cl := c.(type) {
		case *uql.Predicate:
			fn, err = compilePredicate(m, cl)
		case *uql.Group:
			fn, err = compileGroup(m, cl)
		}
		if err != nil {
			return nil, err
		}
		if fn != nil {
			clauses = append(clauses, fn)
		}
	}
	return func(rec uql.Record) bool {
		for _, fn := range clauses {
			if !fn(rec) {
				return false
			}
		}
		return true
	}, nil
}

func compileGroup(m *schema.Model, g *uql.Group) (Matcher, error) {
	if len(g.Branches) == 0 {
		return nil, nil
	}
	branches := make([]Matcher, len(g.Branches))
	for i, b := range g.Branches {
		fn, err := CompileWhere(m, b)
		if err != nil {
			return nil, err
		}
		branches[i] = fn
	}
	if g.Logic == uql.LogicOr {
		return func(rec uql.Record) bool {
			for _, fn := range branches {
				if fn(rec) {
					return true
				}
			}
			return false
		}, nil
	}
	return func(rec uql.Record) bool {
		for _, fn := range branches {
			if !fn(rec) {
				return false
			}
		}
		return true
	}, nil
}

func compilePredicate(m *schema.Model, p *uql.Predicate) (Matcher, error) {
	ft, _ := m.TypeOf(value.Root(p.Field))
	field := p.Field
	dotted := p.Dotted()

	get := func(rec uql.Record) any {
		if !dotted {
			return rec[field]
		}
		v, _ := value.Lookup(rec, field)
		return v
	}

	tests := make([]func(any) bool, 0, len(p.Comparisons)+1)
	for _, c := range p.Comparisons {
		fn, err := comparison(ft, dotted, c)
		if err != nil {
			return nil, err
		}
		tests = append(tests, fn)
	}
	if p.Regex != nil {
		re, err := compileRegex(p.Regex)
		if err != nil {
			return nil, err
		}
		tests = append(tests, func(v any) bool {
			s, ok := v.(string)
			return ok && re.MatchString(s)
		})
	}

	return func(rec uql.Record) bool {
		v := get(rec)
		for _, fn := range tests {
			if !fn(v) {
				return false
			}
		}
		return true
	}, nil
}

func comparison(ft schema.FieldType, dotted bool, c uql.Comparison) (func(any) bool, error) {
	want := c.Value
	switch c.Op {
	case uql.OpEq:
		if _, isObj := want.(map[string]any); isObj && ft == schema.JSON && !dotted {
			return func(v any) bool { return value.Contains(decodeJSON(ft, v), want) }, nil
		}
		return func(v any) bool { return value.Equal(v, want) }, nil
	case uql.OpNe:
		return func(v any) bool { return !value.Equal(v, want) }, nil
	case uql.OpContains:
		if dotted {
			return func(v any) bool { return value.Contains(v, want) }, nil
		}
		return func(v any) bool { return value.Contains(decodeJSON(ft, v), want) }, nil
	case uql.OpGt:
		return ordered(want, func(c int) bool { return c > 0 }), nil
	case uql.OpGte:
		return ordered(want, func(c int) bool { return c >= 0 }), nil
	case uql.OpLt:
		return ordered(want, func(c int) bool { return c < 0 }), nil
	case uql.OpLte:
		return ordered(want, func(c int) bool { return c <= 0 }), nil
	}
	return nil, dberr.BadInput("unsupported operator %q", c.Op)
}

// ordered compares a field value against want. Absent values and values
// that cannot be ordered against want never match.
func ordered(want any, ok func(int) bool) func(any) bool {
	return func(v any) bool {
		if v == nil || want == nil {
			return false
		}
		c, comparable := value.Compare(v, want)
		return comparable && ok(c)
	}
}

// decodeJSON returns the object held as text in a JSON field, so
// containment can look inside it.
func decodeJSON(ft schema.FieldType, v any) any {
	s, ok := v.(string)
	if !ok || ft != schema.JSON {
		return v
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return v
	}
	return obj
}

// compileRegex maps the i, m and s regex options onto Go
// regexp flags.
func compileRegex(r *uql.Regex) (*regexp.Regexp, error) {
	var flags strings.Builder
	for _, o := range r.Options {
		switch o {
		case 'i', 'm', 's':
			flags.WriteRune(o)
		}
	}
	pattern := r.Pattern
	if flags.Len() > 0 {
		pattern = "(?" + flags.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, dberr.BadInput("invalid regex %q: %v", r.Pattern, err)
	}
	return re, nil
}
