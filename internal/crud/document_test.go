package crud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/testutil"
	"github.com/roach88/uql/internal/uql"
)

func employeesRepo(t *testing.T) (*fakeExecutor, Repository) {
	t.Helper()
	exec := newFakeExecutor()
	exec.seed("persons",
		bson.M{"id": 1, "name": "Parent One", "email": "one@x"},
		bson.M{"id": 2, "name": "Parent Two", "email": "two@x"},
	)
	exec.seed("employees",
		bson.M{"id": 10, "person_id": 1, "name": "Child One", "title": "dev"},
		bson.M{"id": 20, "person_id": 2, "name": "Child Two", "title": "ops"},
		bson.M{"id": 30, "person_id": 99, "name": "Orphan", "title": "dev"},
	)
	return exec, NewDocument(exec, testutil.Employees(t))
}

func TestDocument_ExtendedFind(t *testing.T) {
	ctx := context.Background()
	_, repo := employeesRepo(t)

	recs, err := repo.Find(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("title", "dev"))))
	require.NoError(t, err)
	require.Len(t, recs, 1, "a child without its parent is dropped")
	assert.Equal(t, uql.Record{"id": 10, "personId": 1, "name": "Child One", "title": "dev", "email": "one@x"}, recs[0])

	recs, err = repo.Find(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "two@x"))))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 20, recs[0]["id"])

	recs, err = repo.Find(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "none@x"))))
	require.NoError(t, err)
	assert.Empty(t, recs)

	n, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDocument_ExtendedOrderAcrossCollections(t *testing.T) {
	ctx := context.Background()
	_, repo := employeesRepo(t)

	recs, err := repo.Find(ctx, uql.NewQuery(nil).OrderBy("email", uql.Desc).WithLimit(1))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "two@x", recs[0]["email"])

	recs, err = repo.Find(ctx, uql.NewQuery(nil).OrderBy("email", uql.Asc).WithSkip(1))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "two@x", recs[0]["email"])
}

func TestDocument_ExtendedInsert(t *testing.T) {
	ctx := context.Background()
	exec, repo := employeesRepo(t)

	rec, err := repo.Insert(ctx, uql.Record{"id": 3, "name": "Three", "email": "three@x", "title": "qa"})
	require.NoError(t, err)
	assert.Equal(t, 3, rec["personId"], "the parent's key links the child")
	assert.Equal(t, "three@x", rec["email"])
	assert.NotContains(t, rec, "_id")
	assert.Equal(t, 1, exec.txs)
	assert.Len(t, exec.collections["persons"], 3)
	assert.Len(t, exec.collections["employees"], 4)

	_, err = repo.Insert(ctx, uql.Record{"name": "NoKey", "email": "k@x"})
	assert.True(t, dberr.IsBadInput(err), "integer keys are not generated by the document store")
	assert.Len(t, exec.collections["persons"], 3)
}

func TestDocument_ExtendedInsertRollsBack(t *testing.T) {
	ctx := context.Background()
	exec, repo := employeesRepo(t)
	exec.failInsert = "employees"

	_, err := repo.Insert(ctx, uql.Record{"id": 3, "email": "three@x"})
	require.Error(t, err)
	assert.True(t, dberr.IsCantInsertRecord(err))
	assert.Len(t, exec.collections["persons"], 2, "the parent insert is undone")
}

func TestDocument_ExtendedUpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	exec, repo := employeesRepo(t)
	where := uql.NewQuery(uql.NewWhere(uql.Eq("email", "one@x")))

	n, err := repo.Update(ctx, where, uql.Record{"name": "Renamed", "title": "lead"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "Renamed", exec.collections["persons"][0]["name"])
	assert.Equal(t, "Renamed", exec.collections["employees"][0]["name"])
	assert.Equal(t, "lead", exec.collections["employees"][0]["title"])
	assert.Equal(t, "Parent Two", exec.collections["persons"][1]["name"])

	n, err = repo.Remove(ctx, where)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, exec.collections["persons"], 1)
	assert.Len(t, exec.collections["employees"], 2)
}

func TestDocument_ExtendedUpsert(t *testing.T) {
	ctx := context.Background()
	exec, repo := employeesRepo(t)

	rec, err := repo.Upsert(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "two@x"))), uql.Record{"title": "lead"})
	require.NoError(t, err)
	assert.Equal(t, 20, rec["id"])
	assert.Equal(t, 2, rec["personId"])
	assert.Equal(t, "lead", rec["title"])
	assert.Len(t, exec.collections["employees"], 3)

	rec, err = repo.Upsert(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "new@x"))), uql.Record{"id": 5, "title": "qa"})
	require.NoError(t, err)
	assert.Equal(t, 5, rec["personId"])
	assert.Equal(t, "qa", rec["title"])
	assert.Len(t, exec.collections["persons"], 3)
	assert.Len(t, exec.collections["employees"], 4)
	assert.Equal(t, 2, exec.txs)
}

func TestDocument_GeneratedKeys(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewSequentialKeys("user")
	exec := newFakeExecutor()
	repo := NewDocument(exec, testutil.Users(t), WithKeyGenerator(keys.Next))

	rec, err := repo.Insert(ctx, uql.Record{"email": "a@x"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec["id"])

	rec, err = repo.Upsert(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "b@x"))), nil)
	require.NoError(t, err)
	assert.Equal(t, "user-2", rec["id"])

	rec, err = repo.Upsert(ctx, uql.NewQuery(uql.NewWhere(uql.Eq("email", "b@x"))), uql.Record{"name": "B"})
	require.NoError(t, err)
	assert.Equal(t, "user-2", rec["id"], "an existing key is kept")
	assert.Equal(t, "B", rec["name"])
}

func TestDocument_LimitZeroSkipsExecutor(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	exec.seed("users", bson.M{"id": "u1", "email": "a@x"})
	repo := NewDocument(exec, testutil.Users(t))

	recs, err := repo.Find(ctx, uql.NewQuery(nil).WithLimit(0))
	require.NoError(t, err)
	assert.Empty(t, recs)
}
