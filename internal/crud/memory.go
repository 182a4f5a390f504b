package crud

import (
	"context"

	"github.com/roach88/uql/internal/memory"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
)

// NewMemory returns a Repository for m backed by an in-process store.
// Repositories sharing a store share its tables.
func NewMemory(s *memory.Store, m *schema.Model) Repository {
	return &repo{model: m, compiler: memory.NewCompiler(), exec: memoryExec{store: s}}
}

type memoryExec struct {
	store *memory.Store
}

func plan(art transpile.Artifact) (*memory.Plan, error) {
	p, ok := art.(*memory.Plan)
	if !ok {
		return nil, unexpected(art)
	}
	return p, nil
}

func (e memoryExec) find(_ context.Context, art transpile.Artifact) ([]uql.Record, error) {
	p, err := plan(art)
	if err != nil {
		return nil, err
	}
	return e.store.Find(p), nil
}

func (e memoryExec) count(_ context.Context, art transpile.Artifact) (int64, error) {
	p, err := plan(art)
	if err != nil {
		return 0, err
	}
	return e.store.Count(p), nil
}

func (e memoryExec) insert(_ context.Context, art transpile.Artifact) (uql.Record, error) {
	p, err := plan(art)
	if err != nil {
		return nil, err
	}
	return e.store.Insert(p)
}

func (e memoryExec) update(_ context.Context, art transpile.Artifact) (int64, error) {
	p, err := plan(art)
	if err != nil {
		return 0, err
	}
	return e.store.Update(p)
}

func (e memoryExec) remove(_ context.Context, art transpile.Artifact) (int64, error) {
	p, err := plan(art)
	if err != nil {
		return 0, err
	}
	return e.store.Remove(p)
}

func (e memoryExec) upsert(_ context.Context, art transpile.Artifact) (uql.Record, error) {
	p, err := plan(art)
	if err != nil {
		return nil, err
	}
	return e.store.Upsert(p)
}
