package crud

import (
	"context"
	"errors"

	"github.com/roach88/uql/internal/relational"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/store"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
)

// NewRelational returns a Repository for m backed by a SQL database. The
// compiled text uses the postgres dialect; on sqlite3 the flat model forms
// run as well, while extended writes need postgres.
func NewRelational(db *store.DB, m *schema.Model) Repository {
	return &repo{model: m, compiler: relational.NewCompiler(), exec: relationalExec{db: db, model: m}}
}

type relationalExec struct {
	db    *store.DB
	model *schema.Model
}

func statement(art transpile.Artifact) (*relational.Statement, error) {
	s, ok := art.(*relational.Statement)
	if !ok {
		return nil, unexpected(art)
	}
	return s, nil
}

func (e relationalExec) find(ctx context.Context, art transpile.Artifact) ([]uql.Record, error) {
	s, err := statement(art)
	if err != nil {
		return nil, err
	}
	return e.db.Query(ctx, e.model, s)
}

func (e relationalExec) count(ctx context.Context, art transpile.Artifact) (int64, error) {
	s, err := statement(art)
	if err != nil {
		return 0, err
	}
	return e.db.Scalar(ctx, s)
}

// one runs a RETURNING statement and returns its single row.
func (e relationalExec) one(ctx context.Context, art transpile.Artifact) (uql.Record, error) {
	s, err := statement(art)
	if err != nil {
		return nil, err
	}
	recs, err := e.db.Query(ctx, e.model, s)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.New("statement returned no row")
	}
	return recs[0], nil
}

func (e relationalExec) insert(ctx context.Context, art transpile.Artifact) (uql.Record, error) {
	return e.one(ctx, art)
}

func (e relationalExec) update(ctx context.Context, art transpile.Artifact) (int64, error) {
	s, err := statement(art)
	if err != nil {
		return 0, err
	}
	if s.Result == relational.Scalar {
		return e.db.Scalar(ctx, s)
	}
	return e.db.Exec(ctx, s)
}

func (e relationalExec) remove(ctx context.Context, art transpile.Artifact) (int64, error) {
	s, err := statement(art)
	if err != nil {
		return 0, err
	}
	return e.db.Exec(ctx, s)
}

func (e relationalExec) upsert(ctx context.Context, art transpile.Artifact) (uql.Record, error) {
	return e.one(ctx, art)
}
