package memory

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/testutil"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
)

func plan(t *testing.T, op transpile.Operation, m *schema.Model, q *uql.Query, data uql.Record) *Plan {
	t.Helper()
	nq, err := uql.Normalize(m, q)
	require.NoError(t, err)
	var rec uql.Record
	if data != nil {
		rec, err = uql.NormalizeRecord(m, data)
		require.NoError(t, err)
	}
	art, err := NewCompiler().Compile(op, m, nq, rec)
	require.NoError(t, err)
	p, ok := art.(*Plan)
	require.True(t, ok)
	return p
}

func ids(recs []uql.Record) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r["id"]
	}
	return out
}

func seedSix(t *testing.T) (*Store, *schema.Model) {
	t.Helper()
	m := testutil.SingleTable(t)
	s := NewStore()
	var rows []uql.Record
	for _, id := range []int{4, 2, 6, 1, 5, 3} {
		rows = append(rows, uql.Record{"id": id, "name": fmt.Sprintf("n%d", id), "age": id % 3})
	}
	require.NoError(t, s.Load(m, rows))
	return s, m
}

func TestFind_Pagination(t *testing.T) {
	s, m := seedSix(t)
	base := func() *uql.Query { return uql.NewQuery(uql.All()).OrderBy("id", uql.Asc) }

	assert.Equal(t, []any{1, 2, 3, 4, 5, 6}, ids(s.Find(plan(t, transpile.Select, m, base(), nil))))
	assert.Equal(t, []any{4, 5, 6}, ids(s.Find(plan(t, transpile.Select, m, base().WithSkip(3), nil))))
	assert.Equal(t, []any{}, ids(s.Find(plan(t, transpile.Select, m, base().WithLimit(0), nil))))
	assert.Equal(t, []any{}, ids(s.Find(plan(t, transpile.Select, m, base().WithSkip(10), nil))))
	assert.Equal(t, []any{3, 4}, ids(s.Find(plan(t, transpile.Select, m, base().WithSkip(2).WithLimit(2), nil))))
	assert.Equal(t, []any{5, 6}, ids(s.Find(plan(t, transpile.Select, m, base().WithSkip(4).WithLimit(10), nil))))
	assert.Equal(t, []any{1, 2}, ids(s.Find(plan(t, transpile.Select, m, base().WithSkip(-2).WithLimit(2), nil))))
	assert.Equal(t, []any{}, ids(s.Find(plan(t, transpile.Select, m, base().WithLimit(-1), nil))))
}

func TestFind_MultiKeyStableOrder(t *testing.T) {
	s, m := seedSix(t)
	q := uql.NewQuery(uql.All()).OrderBy("age", uql.Desc).OrderBy("id", uql.Asc)
	// ages: 1->1 2->2 3->0 4->1 5->2 6->0
	assert.Equal(t, []any{2, 5, 1, 4, 3, 6}, ids(s.Find(plan(t, transpile.Select, m, q, nil))))

	// without a tiebreaker, equal keys keep storage order
	q = uql.NewQuery(uql.All()).OrderBy("age", uql.Asc)
	assert.Equal(t, []any{6, 3, 4, 1, 2, 5}, ids(s.Find(plan(t, transpile.Select, m, q, nil))))
}

func TestFind_Operators(t *testing.T) {
	m := testutil.SingleTable(t)
	s := NewStore()
	require.NoError(t, s.Load(m, []uql.Record{
		{"id": 1, "name": "Jon", "age": 30, "tags": []any{"go", "db"}, "job": map[string]any{"title": "dev", "level": 2}, "created_at": "2024-01-10T00:00:00Z"},
		{"id": 2, "name": "jane", "age": 41, "tags": []any{"rust"}, "job": `{"title":"ops"}`, "created_at": "2024-02-10T00:00:00Z"},
		{"id": 3, "name": nil, "age": 18, "bio": "likes rust and go"},
	}))

	tests := []struct {
		name  string
		where *uql.Where
		want  []any
	}{
		{"gt", uql.NewWhere(uql.Gt("age", 20)), []any{1, 2}},
		{"range", uql.NewWhere(uql.Cmp("age", uql.Comparison{Op: uql.OpGte, Value: 18}, uql.Comparison{Op: uql.OpLt, Value: 41})), []any{1, 3}},
		{"null", uql.NewWhere(uql.Eq("name", nil)), []any{3}},
		{"not null", uql.NewWhere(uql.Ne("name", nil)), []any{1, 2}},
		{"or", uql.NewWhere(uql.Or(uql.NewWhere(uql.Eq("name", "Jon")), uql.NewWhere(uql.Lt("age", 20)))), []any{1, 3}},
		{"and", uql.NewWhere(uql.And(uql.NewWhere(uql.Gt("age", 20)), uql.NewWhere(uql.Lt("age", 35)))), []any{1}},
		{"regex", uql.NewWhere(uql.Match("name", "^j", "i")), []any{1, 2}},
		{"regex case-sensitive", uql.NewWhere(uql.Match("name", "^j", "")), []any{2}},
		{"array contains", uql.NewWhere(uql.Contains("tags", "go")), []any{1}},
		{"string contains", uql.NewWhere(uql.Contains("bio", "rust")), []any{3}},
		{"dot path", uql.NewWhere(uql.Eq("job.title", "dev")), []any{1}},
		{"dot path into json text", uql.NewWhere(uql.Eq("job.title", "ops")), []any{2}},
		{"json containment", uql.NewWhere(uql.Eq("job", map[string]any{"title": "dev"})), []any{1}},
		{"json containment in text", uql.NewWhere(uql.Eq("job", map[string]any{"title": "ops"})), []any{2}},
		{"dates", uql.NewWhere(uql.Gte("createdAt", "2024-02-01T00:00:00Z")), []any{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := uql.NewQuery(tt.where).OrderBy("id", uql.Asc)
			assert.Equal(t, tt.want, ids(s.Find(plan(t, transpile.Select, m, q, nil))))
		})
	}
}

// scanAll evaluates p by brute force over every stored record.
func scanAll(s *Store, p *Plan) []any {
	var out []any
	for _, rec := range s.Records(p.Model.Collection()) {
		if p.Match(rec) {
			out = append(out, rec["id"])
		}
	}
	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i]) < fmt.Sprint(out[j]) })
	return out
}

func TestLookup_AgreesWithFullScan(t *testing.T) {
	m := testutil.Memberships(t)
	s := NewStore()
	require.NoError(t, s.Load(m, []uql.Record{
		{"id": 1, "org": "acme", "user_id": 7, "role": "admin"},
		{"id": 2, "org": "acme", "user_id": 8, "role": "member"},
		{"id": 3, "org": "initech", "user_id": 7, "role": "member"},
	}))

	queries := map[string]*uql.Where{
		"primary hit":                   uql.NewWhere(uql.Eq("id", 2)),
		"primary hit as float":          uql.NewWhere(uql.Eq("id", 2.0)),
		"primary miss":                  uql.NewWhere(uql.Eq("id", 99)),
		"primary hit, other fails":      uql.NewWhere(uql.Eq("id", 2), uql.Eq("role", "admin")),
		"combined hit":                  uql.NewWhere(uql.Eq("org", "acme"), uql.Eq("userId", 7)),
		"combined miss":                 uql.NewWhere(uql.Eq("org", "acme"), uql.Eq("userId", 9)),
		"combined partial (full scan)":  uql.NewWhere(uql.Eq("org", "acme")),
		"no equality (full scan)":       uql.NewWhere(uql.Gt("userId", 7)),
		"primary with or beside":        uql.NewWhere(uql.Eq("id", 1), uql.Or(uql.NewWhere(uql.Eq("role", "admin")))),
		"equality inside group ignored": uql.NewWhere(uql.Or(uql.NewWhere(uql.Eq("id", 1)), uql.NewWhere(uql.Eq("id", 3)))),
	}
	for name, where := range queries {
		t.Run(name, func(t *testing.T) {
			p := plan(t, transpile.Select, m, uql.NewQuery(where).OrderBy("id", uql.Asc), nil)
			assert.ElementsMatch(t, scanAll(s, p), ids(s.Find(p)))
		})
	}
}

func TestLookup_JSONObjectUsesContainment(t *testing.T) {
	m, err := schema.New("settings", []schema.Field{
		{Name: "id", Type: schema.Integer},
		{Name: "meta", Type: schema.JSON},
	}, schema.WithPrimaryKey("id"), schema.WithUniqueIndex("meta"))
	require.NoError(t, err)
	s := NewStore()
	require.NoError(t, s.Load(m, []uql.Record{
		{"id": 1, "meta": map[string]any{"a": 1, "b": 2}},
		{"id": 2, "meta": map[string]any{"a": 3}},
	}))

	p := plan(t, transpile.Select, m, uql.NewQuery(uql.NewWhere(uql.Eq("meta", map[string]any{"a": 1}))), nil)
	assert.Equal(t, []any{1}, ids(s.Find(p)))
	assert.Equal(t, scanAll(s, p), ids(s.Find(p)))

	_, ok := s.table(m).idx.lookup(m, map[string]any{"meta": map[string]any{"a": 1}})
	assert.False(t, ok, "an object literal on a JSON field is matched by a scan")
}

func TestLookup_IndexUsage(t *testing.T) {
	m := testutil.Memberships(t)
	s := NewStore()
	require.NoError(t, s.Load(m, []uql.Record{
		{"id": 1, "org": "acme", "user_id": 7},
		{"id": 2, "org": "acme", "user_id": 8},
	}))
	tbl := s.table(m)

	pos, ok := tbl.idx.lookup(m, map[string]any{"id": 2})
	assert.True(t, ok)
	assert.Equal(t, []int{1}, pos)

	pos, ok = tbl.idx.lookup(m, map[string]any{"id": 5})
	assert.True(t, ok, "a miss is still an index answer")
	assert.Empty(t, pos)

	pos, ok = tbl.idx.lookup(m, map[string]any{"org": "acme", "user_id": 8})
	assert.True(t, ok)
	assert.Equal(t, []int{1}, pos)

	_, ok = tbl.idx.lookup(m, map[string]any{"org": "acme"})
	assert.False(t, ok, "a partial combined index falls back to a scan")
}

func TestInsert_KeysAndDuplicates(t *testing.T) {
	m := testutil.SingleTable(t)
	s := NewStore()

	rec, err := s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"name": "a"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec["id"])

	_, err = s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"id": 10, "name": "b"}))
	require.NoError(t, err)

	rec, err = s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"name": "c"}))
	require.NoError(t, err)
	assert.Equal(t, int64(11), rec["id"])

	_, err = s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"id": 10.0, "name": "dup"}))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Len(t, s.Records("single_table"), 3)
}

func TestInsert_GeneratedStringKeys(t *testing.T) {
	m := testutil.Users(t)
	keys := testutil.NewSequentialKeys("user")
	s := NewStore(WithKeyGenerator(keys.Next))

	rec, err := s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"email": "a@x"}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec["id"])

	_, err = s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"email": "a@x"}))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	rec, err = s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"email": "b@x"}))
	require.NoError(t, err)
	assert.Equal(t, "user-3", rec["id"])
}

func TestUpdate_MovesIndexEntries(t *testing.T) {
	m := testutil.Users(t)
	s := NewStore()
	require.NoError(t, s.Load(m, []uql.Record{
		{"id": "u1", "email": "a@x", "name": "A"},
		{"id": "u2", "email": "b@x", "name": "B"},
	}))

	n, err := s.Update(plan(t, transpile.Update, m, uql.NewQuery(uql.NewWhere(uql.Eq("email", "a@x"))), uql.Record{"email": "c@x", "id": "zz"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	byEmail := func(email string) []any {
		return ids(s.Find(plan(t, transpile.Select, m, uql.NewQuery(uql.NewWhere(uql.Eq("email", email))), nil)))
	}
	assert.Equal(t, []any{}, byEmail("a@x"))
	assert.Equal(t, []any{"u1"}, byEmail("c@x"), "primary key is never rewritten")

	_, err = s.Update(plan(t, transpile.Update, m, uql.NewQuery(uql.NewWhere(uql.Eq("id", "u2"))), uql.Record{"email": "c@x"}))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, []any{"u2"}, byEmail("b@x"), "failed update leaves the table untouched")
}

func TestRemove(t *testing.T) {
	s, m := seedSix(t)

	n, err := s.Remove(plan(t, transpile.Remove, m, uql.NewQuery(uql.NewWhere(uql.Gt("id", 4))), nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	p := plan(t, transpile.Select, m, uql.NewQuery(uql.NewWhere(uql.Eq("id", 3))), nil)
	assert.Equal(t, []any{3}, ids(s.Find(p)), "indexes point at the compacted positions")
	assert.Equal(t, int64(4), s.Count(plan(t, transpile.Count, m, nil, nil)))

	n, err = s.Remove(plan(t, transpile.Remove, m, uql.NewQuery(uql.All()), nil))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Empty(t, s.Records("single_table"))
}

func TestUpsert(t *testing.T) {
	m := testutil.Memberships(t)
	s := NewStore()
	where := func(org string, user int) *uql.Query {
		return uql.NewQuery(uql.NewWhere(uql.Eq("org", org), uql.Eq("userId", user)))
	}

	rec, err := s.Upsert(plan(t, transpile.Upsert, m, where("acme", 7), uql.Record{"role": "member"}))
	require.NoError(t, err)
	assert.Equal(t, uql.Record{"id": int64(1), "org": "acme", "user_id": 7, "role": "member"}, rec)

	rec, err = s.Upsert(plan(t, transpile.Upsert, m, where("acme", 7), uql.Record{"role": "admin", "id": 50}))
	require.NoError(t, err)
	assert.Equal(t, uql.Record{"id": int64(1), "org": "acme", "user_id": 7, "role": "admin"}, rec)

	_, err = s.Upsert(plan(t, transpile.Upsert, m, where("acme", 8), nil))
	require.NoError(t, err)
	assert.Len(t, s.Records("memberships"), 2)
}

func TestCompile_Rejects(t *testing.T) {
	m := testutil.SingleTable(t)
	c := NewCompiler()

	_, err := c.Compile(transpile.Select, m, uql.NewQuery(uql.NewWhere(uql.Match("name", "(", ""))), nil)
	assert.True(t, dberr.IsBadInput(err))

	_, err = c.Compile(transpile.Update, m, &uql.Query{}, uql.Record{"name": "x"})
	assert.True(t, dberr.IsBadInput(err))

	_, err = c.Compile(transpile.Upsert, testutil.Users(t), uql.NewQuery(uql.All()), uql.Record{"name": "x"})
	assert.True(t, dberr.IsBadInput(err))

	twoUnique, err := schema.New("t", []schema.Field{
		{Name: "a", Type: schema.String},
		{Name: "b", Type: schema.String},
	}, schema.WithUniqueIndex("a"), schema.WithUniqueIndex("b"))
	require.NoError(t, err)
	_, err = c.Compile(transpile.Upsert, twoUnique, uql.NewQuery(uql.All()), uql.Record{"a": "x"})
	assert.True(t, dberr.IsBadIndexesForUpsert(err))
}

func TestConcurrentWrites(t *testing.T) {
	m := testutil.SingleTable(t)
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Insert(&Plan{Op: transpile.Insert, Model: m, Data: uql.Record{"name": "x"}, Match: matchAll})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			s.Find(&Plan{Op: transpile.Select, Model: m, Match: matchAll})
		}()
	}
	wg.Wait()

	recs := s.Records("single_table")
	assert.Len(t, recs, 50)
	seen := make(map[any]bool)
	for _, r := range recs {
		seen[r["id"]] = true
	}
	assert.Len(t, seen, 50, "every generated key is distinct")
}

func seedEmployees(t *testing.T) (*Store, *schema.Model) {
	t.Helper()
	persons := testutil.Persons(t)
	m := testutil.EmployeesOf(t, persons)
	s := NewStore()
	require.NoError(t, s.Load(persons, []uql.Record{
		{"id": 1, "name": "Parent One", "email": "one@x", "created_at": "2024-01-01T00:00:00Z"},
		{"id": 2, "name": "Parent Two", "email": "two@x", "created_at": "2024-03-01T00:00:00Z"},
	}))
	require.NoError(t, s.Load(m, []uql.Record{
		{"id": 10, "person_id": 1, "name": "Child One", "title": "dev", "salary": 100},
		{"id": 20, "person_id": 2, "name": "Child Two", "title": "ops", "salary": 200},
		{"id": 30, "person_id": 99, "name": "Orphan", "title": "dev"},
	}))
	return s, m
}

func TestExtended_FindMergesHalves(t *testing.T) {
	s, m := seedEmployees(t)

	recs := s.Find(plan(t, transpile.Select, m, uql.NewQuery(uql.NewWhere(uql.Eq("title", "dev"))), nil))
	require.Len(t, recs, 1, "a child without its parent is dropped")
	assert.Equal(t, "Child One", recs[0]["name"], "the child's value wins")
	assert.Equal(t, "one@x", recs[0]["email"])
	assert.Equal(t, 10, recs[0]["id"])

	recs = s.Find(plan(t, transpile.Select, m, uql.NewQuery(uql.NewWhere(uql.Eq("email", "two@x"))), nil))
	assert.Equal(t, []any{20}, ids(recs))

	q := uql.NewQuery(uql.All()).OrderBy("createdAt", uql.Desc)
	assert.Equal(t, []any{20, 10}, ids(s.Find(plan(t, transpile.Select, m, q, nil))))
	assert.Equal(t, int64(2), s.Count(plan(t, transpile.Count, m, nil, nil)))
}

func TestExtended_Insert(t *testing.T) {
	s, m := seedEmployees(t)

	rec, err := s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"name": "New", "email": "new@x", "title": "qa"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec["person_id"], "the parent's key links the child")
	assert.Equal(t, "new@x", rec["email"])

	parents := s.Records("persons")
	require.Len(t, parents, 3)
	assert.NotContains(t, parents[2], "person_id")
	assert.NotContains(t, parents[2], "title")

	_, err = s.Insert(plan(t, transpile.Insert, m, nil, uql.Record{"name": "Dup", "email": "one@x"}))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Len(t, s.Records("persons"), 3)
	assert.Len(t, s.Records("employees"), 4)
}

func TestExtended_UpdateAndRemove(t *testing.T) {
	s, m := seedEmployees(t)
	where := uql.NewQuery(uql.NewWhere(uql.Eq("email", "one@x")))

	n, err := s.Update(plan(t, transpile.Update, m, where, uql.Record{"name": "Renamed", "createdAt": "2025-01-01T00:00:00Z", "personId": 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs := s.Find(plan(t, transpile.Select, m, where, nil))
	require.Len(t, recs, 1)
	assert.Equal(t, "Renamed", recs[0]["name"])
	assert.Equal(t, "2025-01-01T00:00:00Z", recs[0]["created_at"])
	assert.Equal(t, 1, recs[0]["person_id"], "the link is never rewritten")

	_, err = s.Update(plan(t, transpile.Update, m, where, uql.Record{"email": "two@x", "title": "lead"}))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	recs = s.Find(plan(t, transpile.Select, m, where, nil))
	require.Len(t, recs, 1)
	assert.Equal(t, "dev", recs[0]["title"], "neither half changes when one fails")

	n, err = s.Remove(plan(t, transpile.Remove, m, where, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, s.Records("persons"), 1)
	assert.Len(t, s.Records("employees"), 2)
}

func TestExtended_Upsert(t *testing.T) {
	s, m := seedEmployees(t)
	where := func(email string) *uql.Query { return uql.NewQuery(uql.NewWhere(uql.Eq("email", email))) }

	rec, err := s.Upsert(plan(t, transpile.Upsert, m, where("two@x"), uql.Record{"title": "lead"}))
	require.NoError(t, err)
	assert.Equal(t, 2, rec["person_id"])
	assert.Equal(t, "lead", rec["title"])
	assert.Equal(t, 20, rec["id"])
	assert.Len(t, s.Records("employees"), 3)

	rec, err = s.Upsert(plan(t, transpile.Upsert, m, where("three@x"), uql.Record{"name": "Three", "title": "qa"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec["person_id"])
	assert.Len(t, s.Records("persons"), 3)
	assert.Len(t, s.Records("employees"), 4)
}
