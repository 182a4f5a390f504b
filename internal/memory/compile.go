package memory

import (
	"fmt"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
)

// Plan is a compiled in-memory operation: a matcher for the full scan,
// the where clause for the index fast path, the order keys and the data.
type Plan struct {
	Op    transpile.Operation
	Model *schema.Model

	Where *uql.Where
	Match Matcher
	Order []uql.OrderBy
	Skip  int
	Limit *int

	// Data is the insert record, the update's field set (primary and
	// foreign keys removed) or the upsert payload.
	Data uql.Record
}

// Backend implements transpile.Artifact.
func (*Plan) Backend() transpile.Backend { return transpile.Memory }

// Compiler compiles normalized UQL into Plans. It has no state and is
// safe for concurrent use.
type Compiler struct{}

// NewCompiler creates an in-memory compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Backend implements transpile.Compiler.
func (*Compiler) Backend() transpile.Backend { return transpile.Memory }

// Compile implements transpile.Compiler.
func (c *Compiler) Compile(op transpile.Operation, m *schema.Model, q *uql.Query, data uql.Record) (transpile.Artifact, error) {
	if q == nil {
		q = &uql.Query{}
	}
	if op == transpile.Update || op == transpile.Upsert {
		if err := uql.RequireWhere(q); err != nil {
			return nil, err
		}
	}
	match, err := CompileWhere(m, q.Where)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		Op:    op,
		Model: m,
		Where: q.Where,
		Match: match,
		Order: q.Order,
		Skip:  q.Skip,
		Limit: q.Limit,
	}

	switch op {
	case transpile.Select, transpile.Count, transpile.Remove:
	case transpile.Insert:
		p.Data = data
	case transpile.Update:
		p.Data = updateSet(m, data)
		if len(p.Data) == 0 {
			return nil, dberr.BadInput("update of %s sets no fields", m.Collection())
		}
	case transpile.Upsert:
		if err := checkUpsert(m, q, data); err != nil {
			return nil, err
		}
		p.Data = uql.UpsertPayload(m, q, data)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
	return p, nil
}

// updateSet drops the fields an update must never rewrite: primary keys
// and the foreign key linking an extended record to its parent.
func updateSet(m *schema.Model, data uql.Record) uql.Record {
	out := make(uql.Record, len(data))
	for k, v := range data {
		if k == m.PrimaryKey() || k == m.ForeignKey() {
			continue
		}
		if p := m.Parent(); p != nil && k == p.PrimaryKey() && !m.HasOwn(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func checkUpsert(m *schema.Model, q *uql.Query, data uql.Record) error {
	payload := uql.UpsertPayload(m, q, data)
	target, err := schema.SelectConflictTarget(m)
	if err != nil {
		return err
	}
	if !m.IsExtended() {
		return schema.CheckConflictValues(m, target, payload)
	}
	parent := m.Parent()
	ptarget, err := schema.SelectConflictTarget(parent)
	if err != nil {
		return err
	}
	pdata, _ := m.SplitRecord(payload)
	if err := schema.CheckConflictValues(parent, ptarget, pdata); err != nil {
		return err
	}
	return schema.CheckConflictValues(m, target, payload)
}
