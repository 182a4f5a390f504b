package crud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/memory"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/store"
	"github.com/roach88/uql/internal/testutil"
	"github.com/roach88/uql/internal/uql"
)

// backends returns a fresh repository for m on every backend that can run
// flat models without external services.
func backends(t *testing.T, m *schema.Model) map[string]Repository {
	t.Helper()
	db, err := store.Open(store.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background(), m))

	keys := testutil.NewSequentialKeys("doc")
	return map[string]Repository{
		"memory":     NewMemory(memory.NewStore(), m),
		"relational": NewRelational(db, m),
		"document":   NewDocument(newFakeExecutor(), m, WithKeyGenerator(keys.Next)),
	}
}

func TestRepository_InsertThenFindOne(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t, testutil.Users(t)) {
		t.Run(name, func(t *testing.T) {
			inserted, err := repo.Insert(ctx, uql.Record{"email": "a@x", "name": "Ann", "age": 30})
			require.NoError(t, err)
			require.NotNil(t, inserted["id"], "a key is generated")

			got, err := repo.FindOne(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "a@x"))))
			require.NoError(t, err)
			assert.Equal(t, inserted["id"], got["id"])
			assert.Equal(t, "Ann", got["name"])
			assert.NotContains(t, got, "_id")
		})
	}
}

func TestRepository_CamelCaseResults(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t, testutil.SingleTable(t)) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Insert(ctx, uql.Record{"id": 1, "name": "Jon", "lastName": "Doe"})
			require.NoError(t, err)

			recs, err := repo.Find(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("last_name", "Doe"))))
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, "Doe", recs[0]["lastName"])
			assert.NotContains(t, recs[0], "last_name")
		})
	}
}

func TestRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t, testutil.Users(t)) {
		t.Run(name, func(t *testing.T) {
			for _, email := range []string{"a@x", "b@x", "c@x"} {
				_, err := repo.Insert(ctx, uql.Record{"email": email, "age": 20})
				require.NoError(t, err)
			}

			n, err := repo.Count(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			n, err = repo.Update(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "b@x"))), uql.Record{"age": 50})
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = repo.Count(ctx, uql.NewQuery(uql.NewWhere(uql.Gt("age", 30))))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			up, err := repo.Upsert(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "c@x"))), uql.Record{"name": "Cid"})
			require.NoError(t, err)
			assert.Equal(t, "Cid", up["name"])
			assert.Equal(t, "c@x", up["email"])

			up, err = repo.Upsert(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "d@x"))), uql.Record{"name": "Dee"})
			require.NoError(t, err)
			assert.NotNil(t, up["id"])

			n, err = repo.Count(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)

			n, err = repo.Remove(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "a@x"))))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = repo.FindOne(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "a@x"))))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRepository_ValidationHappensFirst(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t, testutil.Users(t)) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Update(ctx, nil, uql.Record{"name": "x"})
			assert.True(t, dberr.IsBadInput(err), "update needs a where")

			_, err = repo.Upsert(ctx, &uql.Query{}, uql.Record{"name": "x"})
			assert.True(t, dberr.IsBadInput(err), "upsert needs a where")

			_, err = repo.Find(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("nope", 1))))
			assert.True(t, dberr.IsBadInput(err))

			_, err = repo.Insert(ctx, uql.Record{"email": "a@x", "nope": 1})
			assert.True(t, dberr.IsBadInput(err))

			n, err := repo.Count(ctx, nil)
			require.NoError(t, err)
			assert.Zero(t, n, "nothing was written")
		})
	}
}

func TestRepository_DuplicateInsert(t *testing.T) {
	ctx := context.Background()
	m := testutil.Users(t)
	for name, repo := range backends(t, m) {
		if name == "document" {
			continue // the fake executor does not enforce unique indexes
		}
		t.Run(name, func(t *testing.T) {
			_, err := repo.Insert(ctx, uql.Record{"email": "a@x"})
			require.NoError(t, err)
			_, err = repo.Insert(ctx, uql.Record{"email": "a@x"})
			require.Error(t, err)
			assert.True(t, dberr.IsCantInsertRecord(err))
		})
	}
}

func TestMemory_DuplicateKeepsCause(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory(memory.NewStore(), testutil.Users(t))
	_, err := repo.Insert(ctx, uql.Record{"email": "a@x"})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, uql.Record{"email": "a@x"})
	assert.True(t, errors.Is(err, memory.ErrDuplicateKey))
}

func TestRelational_UniqueViolationKeepsCause(t *testing.T) {
	ctx := context.Background()
	m := testutil.Users(t)
	db, err := store.Open(store.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx, m))

	repo := NewRelational(db, m)
	_, err = repo.Insert(ctx, uql.Record{"email": "a@x"})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, uql.Record{"email": "a@x"})
	assert.True(t, store.IsUniqueViolation(err))
}

func TestFind_Pagination(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t, testutil.SingleTable(t)) {
		if name == "document" {
			continue // the fake executor does not page
		}
		t.Run(name, func(t *testing.T) {
			for id := 1; id <= 6; id++ {
				_, err := repo.Insert(ctx, uql.Record{"id": id})
				require.NoError(t, err)
			}
			ids := func(q *uql.Query) []int64 {
				recs, err := repo.Find(ctx, q.OrderBy("id", uql.Asc))
				require.NoError(t, err)
				out := []int64{}
				for _, r := range recs {
					n, ok := r["id"].(int64)
					if !ok {
						n = int64(r["id"].(int))
					}
					out = append(out, n)
				}
				return out
			}
			// sqlite only accepts OFFSET after a LIMIT
			assert.Equal(t, []int64{4, 5, 6}, ids(uql.NewQuery(nil).WithSkip(3).WithLimit(10)))
			assert.Equal(t, []int64{2, 3}, ids(uql.NewQuery(nil).WithSkip(1).WithLimit(2)))
			assert.Equal(t, []int64{}, ids(uql.NewQuery(nil).WithLimit(0)))
			assert.Equal(t, []int64{}, ids(uql.NewQuery(nil).WithSkip(10).WithLimit(5)))
		})
	}
}
