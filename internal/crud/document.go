package crud

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/document"
	"github.com/roach88/uql/internal/memory"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
	"github.com/roach88/uql/internal/value"
)

// idField is the document store's own identifier. It is used to address
// matched documents and never returned to callers.
const idField = "_id"

// NewDocument returns a Repository for m backed by a document store.
//
// Extended models are resolved here: the parent and child commands run
// separately and their documents are merged, the child's fields winning.
// Writes to both collections run in one transaction.
func NewDocument(exec document.Executor, m *schema.Model, opts ...Option) Repository {
	o := options{newKey: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	return &repo{
		model:    m,
		compiler: document.NewCompiler(),
		exec:     &documentExec{exec: exec, model: m, newKey: o.newKey},
	}
}

type documentExec struct {
	exec   document.Executor
	model  *schema.Model
	newKey func() string
}

func (e *documentExec) find(ctx context.Context, art transpile.Artifact) ([]uql.Record, error) {
	switch a := art.(type) {
	case *document.Command:
		if a.NoResults() {
			return []uql.Record{}, nil
		}
		docs, err := e.exec.Find(ctx, a)
		if err != nil {
			return nil, err
		}
		out := make([]uql.Record, len(docs))
		for i, doc := range docs {
			out[i] = strip(doc)
		}
		return out, nil
	case *document.Split:
		return e.findSplit(ctx, a)
	}
	return nil, unexpected(art)
}

func (e *documentExec) count(ctx context.Context, art transpile.Artifact) (int64, error) {
	switch a := art.(type) {
	case *document.Command:
		return e.exec.Count(ctx, a)
	case *document.Split:
		pairs, err := e.pairs(ctx, a, false)
		if err != nil {
			return 0, err
		}
		return int64(len(pairs)), nil
	}
	return 0, unexpected(art)
}

func (e *documentExec) insert(ctx context.Context, art transpile.Artifact) (uql.Record, error) {
	switch a := art.(type) {
	case *document.Command:
		doc := copyDoc(a.Document)
		if err := e.ensureKey(e.model, doc); err != nil {
			return nil, err
		}
		cmd := *a
		cmd.Document = doc
		out, err := e.exec.Insert(ctx, &cmd)
		if err != nil {
			return nil, err
		}
		return strip(out), nil
	case *document.Split:
		var rec uql.Record
		err := e.exec.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			rec, err = e.insertSplit(ctx, a)
			return err
		})
		return rec, err
	}
	return nil, unexpected(art)
}

func (e *documentExec) update(ctx context.Context, art transpile.Artifact) (int64, error) {
	switch a := art.(type) {
	case *document.Command:
		return e.exec.Update(ctx, a)
	case *document.Split:
		var n int64
		err := e.exec.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			n, err = e.writeSplit(ctx, a, func(cmd *document.Command, update bson.M) error {
				if len(update) == 0 {
					return nil
				}
				cmd.Update = update
				_, err := e.exec.Update(ctx, cmd)
				return err
			})
			return err
		})
		return n, err
	}
	return 0, unexpected(art)
}

func (e *documentExec) remove(ctx context.Context, art transpile.Artifact) (int64, error) {
	switch a := art.(type) {
	case *document.Command:
		return e.exec.Remove(ctx, a)
	case *document.Split:
		var n int64
		err := e.exec.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			n, err = e.writeSplit(ctx, a, func(cmd *document.Command, _ bson.M) error {
				_, err := e.exec.Remove(ctx, cmd)
				return err
			})
			return err
		})
		return n, err
	}
	return 0, unexpected(art)
}

func (e *documentExec) upsert(ctx context.Context, art transpile.Artifact) (uql.Record, error) {
	switch a := art.(type) {
	case *document.Command:
		cmd := e.keyOnInsert(e.model, a)
		doc, err := e.exec.Upsert(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return strip(doc), nil
	case *document.Split:
		var rec uql.Record
		err := e.exec.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			rec, err = e.upsertSplit(ctx, a)
			return err
		})
		return rec, err
	}
	return nil, unexpected(art)
}

// pair holds the two documents of one extended record.
type pair struct {
	parent, child bson.M
}

func (p pair) merged() uql.Record {
	return uql.Record(schema.Merge(strip(p.parent), strip(p.child)))
}

// pairs resolves the extended records a split addresses. Parent
// conditions are applied first and narrow the children to the matching
// parents' keys; then the children are streamed and their parents fetched
// in one batch. Children without a parent are dropped. When page is false
// the child command's sort and pagination are ignored.
func (e *documentExec) pairs(ctx context.Context, split *document.Split, page bool) ([]pair, error) {
	m := e.model
	parent := m.Parent()
	child := *split.Extended
	if !page {
		child.Sort = nil
		child.Options = document.Options{}
	}
	if child.NoResults() {
		return nil, nil
	}

	if len(split.Parent.Query) > 0 {
		parents, err := e.exec.Find(ctx, &document.Command{
			Op:         transpile.Select,
			Collection: parent.Collection(),
			Query:      split.Parent.Query,
		})
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 {
			return nil, nil
		}
		ids := make(bson.A, 0, len(parents))
		for _, p := range parents {
			ids = append(ids, p[parent.PrimaryKey()])
		}
		child.Query = and(child.Query, bson.M{m.ForeignKey(): bson.M{"$in": ids}})
	}

	var children []bson.M
	err := e.exec.Stream(ctx, &child, func(doc bson.M) error {
		children = append(children, doc)
		return nil
	})
	if err != nil || len(children) == 0 {
		return nil, err
	}

	fks := make(bson.A, 0, len(children))
	seen := make(map[string]struct{}, len(children))
	for _, c := range children {
		fk := c[m.ForeignKey()]
		if fk == nil {
			continue
		}
		if _, dup := seen[value.Key(fk)]; !dup {
			seen[value.Key(fk)] = struct{}{}
			fks = append(fks, fk)
		}
	}
	parents, err := e.exec.Find(ctx, &document.Command{
		Op:         transpile.Select,
		Collection: parent.Collection(),
		Query:      bson.M{parent.PrimaryKey(): bson.M{"$in": fks}},
	})
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]bson.M, len(parents))
	for _, p := range parents {
		byKey[value.Key(p[parent.PrimaryKey()])] = p
	}

	out := make([]pair, 0, len(children))
	for _, c := range children {
		if c[m.ForeignKey()] == nil {
			continue
		}
		if p, ok := byKey[value.Key(c[m.ForeignKey()])]; ok {
			out = append(out, pair{parent: p, child: c})
		}
	}
	return out, nil
}

func (e *documentExec) findSplit(ctx context.Context, split *document.Split) ([]uql.Record, error) {
	ordered := len(split.Order) > 0
	pairs, err := e.pairs(ctx, split, !ordered)
	if err != nil {
		return nil, err
	}
	out := make([]uql.Record, len(pairs))
	for i, p := range pairs {
		out[i] = p.merged()
	}
	if !ordered {
		return out, nil
	}

	// Order keys span both collections: order and page the merged records.
	memory.Sort(out, split.Order)
	var limit *int
	if split.Page.Limit != nil {
		n := int(*split.Page.Limit)
		limit = &n
	}
	return memory.Paginate(out, int(split.Page.Skip), limit), nil
}

// writeSplit resolves the matching pairs, then applies write to the parent
// and child documents addressed by their store ids.
func (e *documentExec) writeSplit(ctx context.Context, split *document.Split, write func(cmd *document.Command, update bson.M) error) (int64, error) {
	pairs, err := e.pairs(ctx, split, false)
	if err != nil || len(pairs) == 0 {
		return 0, err
	}
	pids := make(bson.A, 0, len(pairs))
	cids := make(bson.A, 0, len(pairs))
	for _, p := range pairs {
		pids = append(pids, p.parent[idField])
		cids = append(cids, p.child[idField])
	}
	halves := []struct {
		cmd *document.Command
		ids bson.A
	}{
		{split.Parent, pids},
		{split.Extended, cids},
	}
	for _, h := range halves {
		cmd := &document.Command{
			Op:         h.cmd.Op,
			Collection: h.cmd.Collection,
			Query:      bson.M{idField: bson.M{"$in": h.ids}},
			Options:    document.Options{Multi: true},
		}
		if err := write(cmd, h.cmd.Update); err != nil {
			return 0, err
		}
	}
	return int64(len(pairs)), nil
}

func (e *documentExec) insertSplit(ctx context.Context, split *document.Split) (uql.Record, error) {
	m := e.model
	parent := m.Parent()

	pcmd := *split.Parent
	pcmd.Document = copyDoc(split.Parent.Document)
	if err := e.ensureKey(parent, pcmd.Document); err != nil {
		return nil, err
	}
	pdoc, err := e.exec.Insert(ctx, &pcmd)
	if err != nil {
		return nil, err
	}

	ccmd := *split.Extended
	ccmd.Document = copyDoc(split.Extended.Document)
	ccmd.Document[m.ForeignKey()] = pcmd.Document[parent.PrimaryKey()]
	if err := e.ensureKey(m, ccmd.Document); err != nil {
		return nil, err
	}
	cdoc, err := e.exec.Insert(ctx, &ccmd)
	if err != nil {
		return nil, err
	}
	return pair{parent: pdoc, child: cdoc}.merged(), nil
}

func (e *documentExec) upsertSplit(ctx context.Context, split *document.Split) (uql.Record, error) {
	m := e.model
	parent := m.Parent()

	pdoc, err := e.exec.Upsert(ctx, e.keyOnInsert(parent, split.Parent))
	if err != nil {
		return nil, err
	}
	pk := pdoc[parent.PrimaryKey()]
	if pk == nil {
		return nil, dberr.BadInput("%s: a value for primary key %s is required", parent.Collection(), parent.PrimaryKey())
	}

	// Link the child: through the query when the foreign key is part of
	// its conflict target, otherwise as a written field.
	ccmd := *split.Extended
	ccmd.Query = copyDoc(split.Extended.Query)
	ccmd.Update = copyUpdate(split.Extended.Update)
	target, err := schema.SelectConflictTarget(m)
	if err != nil {
		return nil, err
	}
	if contains(target, m.ForeignKey()) {
		ccmd.Query[m.ForeignKey()] = pk
		setOp(ccmd.Update, "$setOnInsert")[m.ForeignKey()] = pk
	} else {
		setOp(ccmd.Update, "$set")[m.ForeignKey()] = pk
	}

	cdoc, err := e.exec.Upsert(ctx, e.keyOnInsert(m, &ccmd))
	if err != nil {
		return nil, err
	}
	return pair{parent: pdoc, child: cdoc}.merged(), nil
}

// generated reports whether missing keys of m are generated here.
func generated(m *schema.Model) bool {
	ft, _ := m.TypeOf(m.PrimaryKey())
	return ft == schema.UUID || ft == schema.String || ft == schema.Text
}

// ensureKey fills in a missing primary key. Document stores do not
// generate keys for model fields, so integer keys must be supplied.
func (e *documentExec) ensureKey(m *schema.Model, doc bson.M) error {
	pk := m.PrimaryKey()
	if pk == "" || doc[pk] != nil {
		return nil
	}
	if !generated(m) {
		return dberr.BadInput("%s: a value for primary key %s is required", m.Collection(), pk)
	}
	doc[pk] = e.newKey()
	return nil
}

// keyOnInsert returns cmd with a generated primary key added to
// $setOnInsert when the upsert would otherwise insert a document without
// one.
func (e *documentExec) keyOnInsert(m *schema.Model, cmd *document.Command) *document.Command {
	pk := m.PrimaryKey()
	if pk == "" || !generated(m) {
		return cmd
	}
	if _, ok := cmd.Query[pk]; ok {
		return cmd
	}
	if set, ok := cmd.Update["$set"].(bson.M); ok {
		if _, ok := set[pk]; ok {
			return cmd
		}
	}
	out := *cmd
	out.Update = copyUpdate(cmd.Update)
	setOp(out.Update, "$setOnInsert")[pk] = e.newKey()
	return &out
}

// setOp returns the operator document op of update, creating it.
func setOp(update bson.M, op string) bson.M {
	doc, ok := update[op].(bson.M)
	if !ok {
		doc = bson.M{}
		update[op] = doc
	}
	return doc
}

// copyUpdate copies an update document one operator deep.
func copyUpdate(update bson.M) bson.M {
	out := make(bson.M, len(update))
	for op, v := range update {
		if doc, ok := v.(bson.M); ok {
			v = copyDoc(doc)
		}
		out[op] = v
	}
	return out
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// and conjoins two filters.
func and(a, b bson.M) bson.M {
	if len(a) == 0 {
		return b
	}
	return bson.M{"$and": bson.A{a, b}}
}

// strip drops the store's own identifier.
func strip(doc bson.M) uql.Record {
	out := make(uql.Record, len(doc))
	for k, v := range doc {
		if k != idField {
			out[k] = v
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
