// Package crud is the façade callers use: one Repository per model, with
// the same find/findOne/count/insert/update/remove/upsert contract on
// every backend.
//
// Each call runs the same pipeline: normalize and validate the query and
// data against the model, compile with the backend's compiler, execute,
// then convert result field names back to camelCase. Validation failures
// surface before anything is executed.
package crud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/naming"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
)

// ErrNotFound is returned by FindOne when nothing matches.
var ErrNotFound = errors.New("record not found")

// Repository runs UQL operations against one model.
//
// Query field names and data keys may be camelCase or snake_case; results
// are camelCase. A nil query matches every record for Find, FindOne, Count
// and Remove. Update and Upsert require a query with an explicit where.
type Repository interface {
	Model() *schema.Model
	Find(ctx context.Context, q *uql.Query) ([]uql.Record, error)
	FindOne(ctx context.Context, q *uql.Query) (uql.Record, error)
	Count(ctx context.Context, q *uql.Query) (int64, error)
	Insert(ctx context.Context, data uql.Record) (uql.Record, error)
	Update(ctx context.Context, q *uql.Query, data uql.Record) (int64, error)
	Remove(ctx context.Context, q *uql.Query) (int64, error)
	Upsert(ctx context.Context, q *uql.Query, data uql.Record) (uql.Record, error)
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	newKey func() string
}

// WithKeyGenerator replaces the generator the document backend uses for
// missing uuid and string primary keys. The default is uuid.NewString.
func WithKeyGenerator(fn func() string) Option {
	return func(o *options) { o.newKey = fn }
}

// executor runs compiled artifacts for one backend. Records it returns use
// storage field names.
type executor interface {
	find(ctx context.Context, art transpile.Artifact) ([]uql.Record, error)
	count(ctx context.Context, art transpile.Artifact) (int64, error)
	insert(ctx context.Context, art transpile.Artifact) (uql.Record, error)
	update(ctx context.Context, art transpile.Artifact) (int64, error)
	remove(ctx context.Context, art transpile.Artifact) (int64, error)
	upsert(ctx context.Context, art transpile.Artifact) (uql.Record, error)
}

// repo is the Repository shared by every backend.
type repo struct {
	model    *schema.Model
	compiler transpile.Compiler
	exec     executor
}

var _ Repository = (*repo)(nil)

func (r *repo) Model() *schema.Model { return r.model }

// compile normalizes q and data and compiles them for op.
func (r *repo) compile(op transpile.Operation, q *uql.Query, data uql.Record) (transpile.Artifact, error) {
	nq, err := uql.Normalize(r.model, q)
	if err != nil {
		return nil, err
	}
	var rec uql.Record
	switch op {
	case transpile.Insert, transpile.Update, transpile.Upsert:
		if rec, err = uql.NormalizeRecord(r.model, data); err != nil {
			return nil, err
		}
	}
	art, err := r.compiler.Compile(op, r.model, nq, rec)
	if err != nil {
		return nil, err
	}

	attrs := []any{"backend", r.compiler.Backend(), "collection", r.model.Collection(), "op", op}
	if s, ok := art.(fmt.Stringer); ok {
		attrs = append(attrs, "statement", s.String())
	}
	slog.Debug("statement compiled", attrs...)
	return art, nil
}

// failed logs an execution failure and wraps it with the operation.
func (r *repo) failed(op transpile.Operation, err error) error {
	slog.Error("execution failed",
		"backend", r.compiler.Backend(),
		"collection", r.model.Collection(),
		"op", op,
		"error", err,
	)
	return fmt.Errorf("%s %s: %w", op, r.model.Collection(), err)
}

// Find implements Repository.
func (r *repo) Find(ctx context.Context, q *uql.Query) ([]uql.Record, error) {
	art, err := r.compile(transpile.Select, q, nil)
	if err != nil {
		return nil, err
	}
	recs, err := r.exec.find(ctx, art)
	if err != nil {
		return nil, r.failed(transpile.Select, err)
	}
	out := make([]uql.Record, len(recs))
	for i, rec := range recs {
		out[i] = camel(rec)
	}
	return out, nil
}

// FindOne implements Repository. The query's limit is replaced by one.
func (r *repo) FindOne(ctx context.Context, q *uql.Query) (uql.Record, error) {
	one := q.Clone()
	if one == nil {
		one = &uql.Query{}
	}
	recs, err := r.Find(ctx, one.WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", r.model.Collection(), ErrNotFound)
	}
	return recs[0], nil
}

// Count implements Repository. Limit and skip are ignored.
func (r *repo) Count(ctx context.Context, q *uql.Query) (int64, error) {
	art, err := r.compile(transpile.Count, q, nil)
	if err != nil {
		return 0, err
	}
	n, err := r.exec.count(ctx, art)
	if err != nil {
		return 0, r.failed(transpile.Count, err)
	}
	return n, nil
}

// Insert implements Repository. Store failures are reported as
// CANT_INSERT_RECORD carrying the store's message.
func (r *repo) Insert(ctx context.Context, data uql.Record) (uql.Record, error) {
	art, err := r.compile(transpile.Insert, nil, data)
	if err != nil {
		return nil, err
	}
	rec, err := r.exec.insert(ctx, art)
	if err != nil {
		if dberr.CodeOf(err) != "" {
			return nil, err
		}
		r.failed(transpile.Insert, err)
		return nil, dberr.CantInsertRecord(r.model.Collection(), err)
	}
	return camel(rec), nil
}

// Update implements Repository. It returns the number of records matched.
func (r *repo) Update(ctx context.Context, q *uql.Query, data uql.Record) (int64, error) {
	art, err := r.compile(transpile.Update, q, data)
	if err != nil {
		return 0, err
	}
	n, err := r.exec.update(ctx, art)
	if err != nil {
		return 0, r.failed(transpile.Update, err)
	}
	return n, nil
}

// Remove implements Repository.
func (r *repo) Remove(ctx context.Context, q *uql.Query) (int64, error) {
	art, err := r.compile(transpile.Remove, q, nil)
	if err != nil {
		return 0, err
	}
	n, err := r.exec.remove(ctx, art)
	if err != nil {
		return 0, r.failed(transpile.Remove, err)
	}
	return n, nil
}

// Upsert implements Repository.
func (r *repo) Upsert(ctx context.Context, q *uql.Query, data uql.Record) (uql.Record, error) {
	art, err := r.compile(transpile.Upsert, q, data)
	if err != nil {
		return nil, err
	}
	rec, err := r.exec.upsert(ctx, art)
	if err != nil {
		if dberr.CodeOf(err) != "" {
			return nil, err
		}
		return nil, r.failed(transpile.Upsert, err)
	}
	return camel(rec), nil
}

func camel(rec uql.Record) uql.Record {
	return uql.Record(naming.CamelKeys(rec))
}

// unexpected reports an artifact of the wrong kind for a backend.
func unexpected(art transpile.Artifact) error {
	return fmt.Errorf("unexpected artifact %T from %s compiler", art, art.Backend())
}
