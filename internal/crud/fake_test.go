package crud

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/uql/internal/document"
	"github.com/roach88/uql/internal/value"
)

// fakeExecutor is an in-memory document.Executor understanding the filter
// subset the façade itself builds ($and, $in, $gt and equality). Sort and
// pagination are not applied.
type fakeExecutor struct {
	collections map[string][]bson.M
	nextID      int
	txs         int
	failInsert  string
}

var _ document.Executor = (*fakeExecutor)(nil)

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{collections: make(map[string][]bson.M)}
}

func (f *fakeExecutor) seed(collection string, docs ...bson.M) {
	for _, d := range docs {
		f.nextID++
		doc := copyDoc(d)
		doc[idField] = fmt.Sprintf("oid-%d", f.nextID)
		f.collections[collection] = append(f.collections[collection], doc)
	}
}

func (f *fakeExecutor) Find(ctx context.Context, cmd *document.Command) ([]bson.M, error) {
	out := []bson.M{}
	err := f.Stream(ctx, cmd, func(doc bson.M) error {
		out = append(out, doc)
		return nil
	})
	return out, err
}

func (f *fakeExecutor) Stream(_ context.Context, cmd *document.Command, fn func(bson.M) error) error {
	for _, doc := range f.collections[cmd.Collection] {
		if matches(cmd.Query, doc) {
			if err := fn(copyDoc(doc)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeExecutor) Count(ctx context.Context, cmd *document.Command) (int64, error) {
	docs, err := f.Find(ctx, cmd)
	return int64(len(docs)), err
}

func (f *fakeExecutor) Insert(_ context.Context, cmd *document.Command) (bson.M, error) {
	if cmd.Collection == f.failInsert {
		return nil, fmt.Errorf("E11000 duplicate key error collection: %s", cmd.Collection)
	}
	f.seed(cmd.Collection, cmd.Document)
	docs := f.collections[cmd.Collection]
	return copyDoc(docs[len(docs)-1]), nil
}

func (f *fakeExecutor) Update(_ context.Context, cmd *document.Command) (int64, error) {
	var n int64
	for _, doc := range f.collections[cmd.Collection] {
		if !matches(cmd.Query, doc) {
			continue
		}
		apply(doc, cmd.Update["$set"])
		n++
		if !cmd.Options.Multi {
			break
		}
	}
	return n, nil
}

func (f *fakeExecutor) Upsert(_ context.Context, cmd *document.Command) (bson.M, error) {
	for _, doc := range f.collections[cmd.Collection] {
		if matches(cmd.Query, doc) {
			apply(doc, cmd.Update["$set"])
			return copyDoc(doc), nil
		}
	}
	doc := bson.M{}
	for k, v := range cmd.Query {
		if _, op := v.(bson.M); !op {
			doc[k] = v
		}
	}
	apply(doc, cmd.Update["$set"])
	apply(doc, cmd.Update["$setOnInsert"])
	f.seed(cmd.Collection, doc)
	docs := f.collections[cmd.Collection]
	return copyDoc(docs[len(docs)-1]), nil
}

func (f *fakeExecutor) Remove(_ context.Context, cmd *document.Command) (int64, error) {
	var kept []bson.M
	var n int64
	for _, doc := range f.collections[cmd.Collection] {
		if matches(cmd.Query, doc) && (cmd.Options.Multi || n == 0) {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	f.collections[cmd.Collection] = kept
	return n, nil
}

// WithTransaction restores every collection when fn fails.
func (f *fakeExecutor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.txs++
	snapshot := make(map[string][]bson.M, len(f.collections))
	for name, docs := range f.collections {
		for _, d := range docs {
			snapshot[name] = append(snapshot[name], copyDoc(d))
		}
	}
	if err := fn(ctx); err != nil {
		f.collections = snapshot
		return err
	}
	return nil
}

func apply(doc bson.M, fields any) {
	set, _ := fields.(bson.M)
	for k, v := range set {
		doc[k] = v
	}
}

func matches(q bson.M, doc bson.M) bool {
	for k, v := range q {
		if k == "$and" {
			for _, sub := range v.(bson.A) {
				if !matches(sub.(bson.M), doc) {
					return false
				}
			}
			continue
		}
		ops, isOp := v.(bson.M)
		if !isOp {
			if !value.Equal(doc[k], v) {
				return false
			}
			continue
		}
		for op, arg := range ops {
			switch op {
			case "$in":
				found := false
				for _, x := range arg.(bson.A) {
					if value.Equal(doc[k], x) {
						found = true
					}
				}
				if !found {
					return false
				}
			case "$gt":
				c, ok := value.Compare(doc[k], arg)
				if !ok || c <= 0 {
					return false
				}
			default:
				panic("fakeExecutor: unsupported operator " + op)
			}
		}
	}
	return true
}
