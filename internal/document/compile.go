package document

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
)

// Compiler compiles normalized UQL into Commands, or into a Split for
// extended models. It has no state and is safe for concurrent use.
type Compiler struct{}

// NewCompiler creates a document compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Backend implements transpile.Compiler.
func (*Compiler) Backend() transpile.Backend { return transpile.Document }

// Compile implements transpile.Compiler.
func (c *Compiler) Compile(op transpile.Operation, m *schema.Model, q *uql.Query, data uql.Record) (transpile.Artifact, error) {
	if q == nil {
		q = &uql.Query{}
	}
	if (op == transpile.Update || op == transpile.Upsert) && q.Where == nil {
		return nil, uql.RequireWhere(q)
	}
	if m.IsExtended() {
		return c.compileSplit(op, m, q, data)
	}

	cmd := &Command{Op: op, Collection: m.Collection()}
	switch op {
	case transpile.Select:
		cmd.Query = Filter(m, q.Where)
		cmd.Sort = Sort(q.Order)
		cmd.Options = pagination(q)
	case transpile.Count:
		cmd.Query = Filter(m, q.Where)
	case transpile.Insert:
		cmd.Document = Set(m, data)
	case transpile.Update:
		set := Set(m, data, m.PrimaryKey())
		if len(set) == 0 {
			return nil, dberr.BadInput("update of %s sets no fields", m.Collection())
		}
		cmd.Query = Filter(m, q.Where)
		cmd.Update = bson.M{"$set": set}
		cmd.Options.Multi = true
	case transpile.Remove:
		cmd.Query = Filter(m, q.Where)
		cmd.Options.Multi = true
	case transpile.Upsert:
		target, err := schema.SelectConflictTarget(m)
		if err != nil {
			return nil, err
		}
		payload := uql.UpsertPayload(m, q, data)
		if err := schema.CheckConflictValues(m, target, payload); err != nil {
			return nil, err
		}
		upsert(cmd, m, target, payload)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
	return cmd, nil
}

func pagination(q *uql.Query) Options {
	var opts Options
	if q.Limit != nil {
		n := int64(*q.Limit)
		opts.Limit = &n
	}
	if q.Skip > 0 {
		opts.Skip = int64(q.Skip)
	}
	return opts
}

// upsert fills an upsert command: the query is scoped to the conflict
// fields, the update sets the payload except the primary key. A supplied
// primary key is written only when the upsert inserts.
func upsert(cmd *Command, m *schema.Model, target []string, payload map[string]any, skip ...string) {
	query := bson.M{}
	for _, f := range target {
		if v, ok := payload[f]; ok {
			ft, _ := m.TypeOf(f)
			query[f] = coerce(ft, false, v)
		}
	}
	pk := m.PrimaryKey()
	set := Set(m, payload, append([]string{pk}, skip...)...)

	update := bson.M{}
	onInsert := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	} else {
		onInsert = Set(m, query)
	}
	if v, ok := payload[pk]; ok && v != nil && pk != "" {
		if _, inQuery := query[pk]; !inQuery {
			for k, x := range Set(m, map[string]any{pk: v}) {
				onInsert[k] = x
			}
		}
	}
	if len(onInsert) > 0 {
		update["$setOnInsert"] = onInsert
	}
	cmd.Query = query
	cmd.Update = update
	cmd.Options.Upsert = true
}

// compileSplit builds the parent and child halves for an extended model.
func (c *Compiler) compileSplit(op transpile.Operation, m *schema.Model, q *uql.Query, data uql.Record) (*Split, error) {
	parent := m.Parent()
	pwhere, cwhere, err := uql.SplitWhere(m, q.Where)
	if err != nil {
		return nil, err
	}
	pcmd := &Command{Op: op, Collection: parent.Collection(), Sort: bson.D{}}
	ccmd := &Command{Op: op, Collection: m.Collection(), Sort: bson.D{}}
	split := &Split{Parent: pcmd, Extended: ccmd}

	switch op {
	case transpile.Select:
		porder, corder := uql.SplitOrder(m, q.Order)
		pcmd.Query = Filter(parent, pwhere)
		ccmd.Query = Filter(m, cwhere)
		pcmd.Sort = Sort(porder)
		ccmd.Sort = Sort(corder)
		if len(porder) == 0 {
			ccmd.Options = pagination(q)
		} else {
			split.Order = q.Order
			split.Page = pagination(q)
		}
	case transpile.Count, transpile.Remove:
		pcmd.Query = Filter(parent, pwhere)
		ccmd.Query = Filter(m, cwhere)
		pcmd.Options.Multi = op == transpile.Remove
		ccmd.Options.Multi = op == transpile.Remove
	case transpile.Insert:
		pdata, cdata := m.SplitRecord(data)
		pcmd.Document = Set(parent, pdata)
		ccmd.Document = Set(m, cdata, m.ForeignKey())
	case transpile.Update:
		pdata, cdata := m.SplitRecord(data)
		pset := Set(parent, pdata, parent.PrimaryKey())
		cset := Set(m, cdata, m.PrimaryKey(), m.ForeignKey())
		if len(pset) == 0 && len(cset) == 0 {
			return nil, dberr.BadInput("update of %s sets no fields", m.Collection())
		}
		pcmd.Query = Filter(parent, pwhere)
		ccmd.Query = Filter(m, cwhere)
		if len(pset) > 0 {
			pcmd.Update = bson.M{"$set": pset}
		}
		if len(cset) > 0 {
			ccmd.Update = bson.M{"$set": cset}
		}
		pcmd.Options.Multi = true
		ccmd.Options.Multi = true
	case transpile.Upsert:
		ptarget, err := schema.SelectConflictTarget(parent)
		if err != nil {
			return nil, err
		}
		ctarget, err := schema.SelectConflictTarget(m)
		if err != nil {
			return nil, err
		}
		payload := uql.UpsertPayload(m, q, data)
		pdata, cdata := m.SplitRecord(payload)
		if err := schema.CheckConflictValues(parent, ptarget, pdata); err != nil {
			return nil, err
		}
		if err := schema.CheckConflictValues(m, ctarget, payload); err != nil {
			return nil, err
		}
		upsert(pcmd, parent, ptarget, pdata)
		upsert(ccmd, m, ctarget, cdata, m.ForeignKey())
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
	return split, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
