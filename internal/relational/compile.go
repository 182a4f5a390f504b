package relational

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
	"github.com/roach88/uql/internal/value"
)

// Result tells the executor how to run a statement and what comes back.
type Result string

const (
	// Rows statements return records (SELECT, RETURNING *).
	Rows Result = "rows"
	// Scalar statements return one row with a single "count" column.
	Scalar Result = "scalar"
	// Affected statements return the number of rows touched.
	Affected Result = "affected"
)

// Statement is compiled SQL text.
type Statement struct {
	Text   string
	Result Result

	// Atomic marks multi-statement text wrapped in BEGIN/COMMIT. Executors
	// must run it on a single session and roll back on failure.
	Atomic bool
	// Steps holds the statements between BEGIN and COMMIT of an atomic
	// statement. The affected count of the last step is the result.
	Steps []string
}

// Backend implements transpile.Artifact.
func (*Statement) Backend() transpile.Backend { return transpile.Relational }

// String returns the SQL text.
func (s *Statement) String() string { return s.Text }

// Compiler compiles normalized UQL into SQL text for a PostgreSQL-style
// dialect: ->> JSON accessors, @> containment, RETURNING and ON CONFLICT.
//
// Values are rendered inline, type-driven by the model's field types;
// strings are quote-escaped. Compiler has no state and is safe for
// concurrent use.
type Compiler struct{}

// NewCompiler creates a relational compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Backend implements transpile.Compiler.
func (*Compiler) Backend() transpile.Backend { return transpile.Relational }

// Compile implements transpile.Compiler.
func (c *Compiler) Compile(op transpile.Operation, m *schema.Model, q *uql.Query, data uql.Record) (transpile.Artifact, error) {
	if q == nil {
		q = &uql.Query{}
	}
	switch op {
	case transpile.Select:
		return c.compileSelect(m, q)
	case transpile.Count:
		return c.compileCount(m, q)
	case transpile.Insert:
		return c.compileInsert(m, data)
	case transpile.Update:
		return c.compileUpdate(m, q, data)
	case transpile.Remove:
		return c.compileRemove(m, q)
	case transpile.Upsert:
		return c.compileUpsert(m, q, data)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
}

// source renders the FROM target: the table, or the parent/child join for
// an extended model.
func source(m *schema.Model) string {
	if !m.IsExtended() {
		return m.Collection()
	}
	p := m.Parent()
	return fmt.Sprintf("%s INNER JOIN %s ON %s=%s",
		p.Collection(), m.Collection(),
		p.Collection()+"."+p.PrimaryKey(), m.Collection()+"."+m.ForeignKey())
}

// projection is the select list; for extended models child columns come
// last so they win when a row is folded into a map.
func projection(m *schema.Model) string {
	if !m.IsExtended() {
		return "*"
	}
	return m.Parent().Collection() + ".*, " + m.Collection() + ".*"
}

// column returns the column reference for a root field, table-qualified
// when the model is extended.
func column(m *schema.Model, field string) string {
	if !m.IsExtended() {
		return field
	}
	owner := m.Owner(field)
	if owner == nil {
		owner = m
	}
	return owner.Collection() + "." + field
}

func (c *Compiler) compileSelect(m *schema.Model, q *uql.Query) (*Statement, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", projection(m), source(m))

	where, err := renderWhere(m, q.Where)
	if err != nil {
		return nil, err
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(q.Order) > 0 {
		terms := make([]string, len(q.Order))
		for i, o := range q.Order {
			terms[i] = orderTerm(m, o.Field) + " " + string(o.Direction)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	if q.Limit != nil {
		limit := *q.Limit
		if limit < 0 {
			limit = 0
		}
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	if q.Skip > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(q.Skip))
	}

	return &Statement{Text: b.String(), Result: Rows}, nil
}

func (c *Compiler) compileCount(m *schema.Model, q *uql.Query) (*Statement, error) {
	text := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", source(m))
	where, err := renderWhere(m, q.Where)
	if err != nil {
		return nil, err
	}
	if where != "" {
		text += " WHERE " + where
	}
	return &Statement{Text: text, Result: Scalar}, nil
}

// renderWhere folds a where clause into SQL. An empty clause renders "".
func renderWhere(m *schema.Model, w *uql.Where) (string, error) {
	if w.Empty() {
		return "", nil
	}
	parts := make([]string, 0, len(w.Clauses))
	for _, cl := range w.Clauses {
		switch clause := cl.(type) {
		case *uql.Predicate:
			s, err := renderPredicate(m, clause)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		case *uql.Group:
			s, err := renderGroup(m, clause)
			if err != nil {
				return "", err
			}
			if s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " AND "), nil
}

func renderGroup(m *schema.Model, g *uql.Group) (string, error) {
	branches := make([]string, 0, len(g.Branches))
	for _, br := range g.Branches {
		s, err := renderWhere(m, br)
		if err != nil {
			return "", err
		}
		if s == "" {
			continue
		}
		if len(br.Clauses) > 1 {
			s = "(" + s + ")"
		}
		branches = append(branches, s)
	}
	if len(branches) == 0 {
		return "", nil
	}
	joiner := " AND "
	if g.Logic == uql.LogicOr {
		joiner = " OR "
	}
	return "(" + strings.Join(branches, joiner) + ")", nil
}

func renderPredicate(m *schema.Model, p *uql.Predicate) (string, error) {
	root := value.Root(p.Field)
	ft, ok := m.TypeOf(root)
	if !ok {
		return "", dberr.UnknownFields(m.Collection(), []string{root})
	}

	col := column(m, root)
	dotted := p.Dotted()
	if dotted {
		col = jsonPath(col, strings.Split(p.Field, ".")[1:])
	}

	parts := make([]string, 0, len(p.Comparisons)+1)
	for _, cmp := range p.Comparisons {
		s, err := renderComparison(col, ft, dotted, cmp)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", p.Field, err)
		}
		parts = append(parts, s)
	}
	if p.Regex != nil {
		op := "~"
		if strings.Contains(p.Regex.Options, "i") {
			op = "~*"
		}
		parts = append(parts, col+" "+op+" "+quote(p.Regex.Pattern))
	}
	return strings.Join(parts, " AND "), nil
}

// orderTerm renders an order key. A dot path orders by the JSON value it
// addresses.
func orderTerm(m *schema.Model, field string) string {
	root, rest, dotted := strings.Cut(field, ".")
	col := column(m, root)
	if !dotted {
		return col
	}
	return jsonPath(col, strings.Split(rest, "."))
}

var sqlOps = map[uql.Op]string{
	uql.OpNe:  "!=",
	uql.OpGt:  ">",
	uql.OpGte: ">=",
	uql.OpLt:  "<",
	uql.OpLte: "<=",
}

func renderComparison(col string, ft schema.FieldType, dotted bool, c uql.Comparison) (string, error) {
	render := func(v any) (string, error) {
		if dotted {
			return renderText(v), nil
		}
		return renderValue(ft, v)
	}

	switch c.Op {
	case uql.OpEq:
		if c.Value == nil {
			return col + " IS NULL", nil
		}
		if ft == schema.JSON && !dotted {
			lit, err := renderValue(schema.JSON, c.Value)
			if err != nil {
				return "", err
			}
			return col + " @> " + lit, nil
		}
		lit, err := render(c.Value)
		if err != nil {
			return "", err
		}
		return col + "=" + lit, nil

	case uql.OpNe:
		if c.Value == nil {
			return col + " IS NOT NULL", nil
		}

	case uql.OpContains:
		switch {
		case dotted:
			return like(col, c.Value), nil
		case ft == schema.Array:
			lit, err := renderValue(schema.Array, c.Value)
			if err != nil {
				return "", err
			}
			return col + " @> " + lit, nil
		case ft == schema.JSON:
			lit, err := renderValue(schema.JSON, c.Value)
			if err != nil {
				return "", err
			}
			return col + " @> " + lit, nil
		default:
			return like(col, c.Value), nil
		}
	}

	sqlOp, ok := sqlOps[c.Op]
	if !ok {
		return "", dberr.BadInput("unsupported operator %q", c.Op)
	}
	if dotted && c.Op != uql.OpNe {
		// ->> yields text; numeric bounds compare as numbers.
		if n, ok := formatNumber(c.Value); ok {
			return "(" + col + ")::numeric " + sqlOp + " " + n, nil
		}
	}
	lit, err := render(c.Value)
	if err != nil {
		return "", err
	}
	return col + " " + sqlOp + " " + lit, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// like renders a substring match. Wildcards in v match literally.
func like(col string, v any) string {
	return col + " LIKE " + quote("%"+likeEscaper.Replace(asText(v))+"%") + ` ESCAPE '\'`
}
