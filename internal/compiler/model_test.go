package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
)

const personsAndEmployees = `
model: persons: {
	fields: {id: "integer", name: "string", email: "string", created_at: "date"}
	primary_key: "id"
	unique:      "email"
}

model: employees: {
	fields: {id: "integer", person_id: "integer", name: "string", title: "string"}
	primary_key: "id"
	unique:      "person_id"
	extends: {model: "persons", foreign_key: "person_id"}
}

model: memberships: {
	collection: "org_memberships"
	fields: {id: "integer", org: "string", user_id: "integer"}
	primary_key: "id"
	combined: [["org", "user_id"]]
}
`

func compileValue(t *testing.T, src, path string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v.LookupPath(cue.ParsePath(path))
}

func TestCompileModelBasic(t *testing.T) {
	def, err := CompileModel(compileValue(t, personsAndEmployees, "model.persons"))
	require.NoError(t, err)

	assert.Equal(t, "persons", def.Name)
	assert.Equal(t, "persons", def.Collection)
	assert.Equal(t, "id", def.PrimaryKey)
	assert.Equal(t, []string{"email"}, def.Unique)
	assert.Nil(t, def.Extends)
	assert.Equal(t, []schema.Field{
		{Name: "id", Type: schema.Integer},
		{Name: "name", Type: schema.String},
		{Name: "email", Type: schema.String},
		{Name: "created_at", Type: schema.Date},
	}, def.Fields)
}

func TestCompileModelExtendsAndCombined(t *testing.T) {
	emp, err := CompileModel(compileValue(t, personsAndEmployees, "model.employees"))
	require.NoError(t, err)
	require.NotNil(t, emp.Extends)
	assert.Equal(t, ExtendsDef{Model: "persons", ForeignKey: "person_id"}, *emp.Extends)

	mem, err := CompileModel(compileValue(t, personsAndEmployees, "model.memberships"))
	require.NoError(t, err)
	assert.Equal(t, "org_memberships", mem.Collection)
	assert.Equal(t, [][]string{{"org", "user_id"}}, mem.Combined)
}

func TestCompileModelUniqueList(t *testing.T) {
	def, err := CompileModel(compileValue(t, `
		model: accounts: {
			fields: {id: "uuid", email: "string", handle: "string"}
			unique: ["email", "handle"]
		}
	`, "model.accounts"))
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "handle"}, def.Unique)
}

func TestCompileModelErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "missing fields",
			src:   `model: x: {primary_key: "id"}`,
			field: "fields",
		},
		{
			name:  "empty fields",
			src:   `model: x: {fields: {}}`,
			field: "fields",
		},
		{
			name:  "unknown type",
			src:   `model: x: {fields: {id: "float"}}`,
			field: "fields.id",
		},
		{
			name:  "non-string type",
			src:   `model: x: {fields: {id: 3}}`,
			field: "fields.id",
		},
		{
			name:  "extends without foreign key",
			src:   `model: x: {fields: {id: "integer"}, extends: {model: "y"}}`,
			field: "extends",
		},
		{
			name:  "combined not a list",
			src:   `model: x: {fields: {id: "integer"}, combined: "id"}`,
			field: "combined",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileModel(compileValue(t, tt.src, "model.x"))
			require.Error(t, err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestBuildResolvesParents(t *testing.T) {
	reg, err := CompileString(personsAndEmployees)
	require.NoError(t, err)

	names := reg.Names()
	assert.ElementsMatch(t, []string{"employees", "memberships", "persons"}, names)
	assert.Less(t, indexOf(names, "persons"), indexOf(names, "employees"))

	emp, ok := reg.Get("employees")
	require.True(t, ok)
	assert.True(t, emp.IsExtended())
	assert.Equal(t, "persons", emp.Parent().Collection())
	assert.Equal(t, "person_id", emp.ForeignKey())
	assert.True(t, emp.Has("email"))

	mem, err := reg.MustGet("memberships")
	require.NoError(t, err)
	assert.Equal(t, "org_memberships", mem.Collection())
	assert.Equal(t, [][]string{{"org", "user_id"}}, mem.CombinedIndexes())

	_, err = reg.MustGet("nope")
	assert.ErrorContains(t, err, "unknown model")
}

func TestBuildSecondUniqueIsRejectedAtUpsert(t *testing.T) {
	reg, err := CompileString(`
		model: accounts: {
			fields: {id: "uuid", email: "string", handle: "string"}
			unique: ["email", "handle"]
		}
	`)
	require.NoError(t, err)
	m, _ := reg.Get("accounts")
	_, err = schema.SelectConflictTarget(m)
	assert.True(t, dberr.IsBadIndexesForUpsert(err))
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	defs := []ModelDef{
		{Name: "a", Collection: "a", Fields: []schema.Field{{Name: "id", Type: schema.Integer}}, PrimaryKey: "missing"},
		{Name: "b", Collection: "a", Fields: []schema.Field{{Name: "id", Type: schema.Integer}}},
		{Name: "c", Collection: "c", Fields: []schema.Field{{Name: "id", Type: schema.Integer}},
			Extends: &ExtendsDef{Model: "ghost", ForeignKey: "id"}},
	}
	errs := Validate(defs)

	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.ElementsMatch(t, []string{ErrDuplicateCollection, ErrInvalidModel, ErrUnknownParent}, codes)
}

func TestValidateExtensionCycle(t *testing.T) {
	field := []schema.Field{{Name: "id", Type: schema.Integer}, {Name: "ref", Type: schema.Integer}}
	defs := []ModelDef{
		{Name: "a", Collection: "a", Fields: field, PrimaryKey: "id", Extends: &ExtendsDef{Model: "b", ForeignKey: "ref"}},
		{Name: "b", Collection: "b", Fields: field, PrimaryKey: "id", Extends: &ExtendsDef{Model: "a", ForeignKey: "ref"}},
	}
	reg, errs := Build(defs)

	require.Len(t, errs, 1)
	assert.Equal(t, ErrExtensionCycle, errs[0].Code)
	assert.Contains(t, errs[0].Message, "a -> b -> a")
	assert.Empty(t, reg.Names())
}

func TestValidateTwoLevelOnly(t *testing.T) {
	_, err := CompileString(`
		model: a: {fields: {id: "integer"}, primary_key: "id"}
		model: b: {fields: {id: "integer", a_id: "integer"}, primary_key: "id", extends: {model: "a", foreign_key: "a_id"}}
		model: c: {fields: {id: "integer", b_id: "integer"}, primary_key: "id", extends: {model: "b", foreign_key: "b_id"}}
	`)
	require.Error(t, err)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ErrInvalidModel, ve.Code)
	assert.Equal(t, "c", ve.Model)
	assert.Contains(t, ve.Message, "itself extended")
}

func TestCompileModelsCollectAll(t *testing.T) {
	v := cuecontext.New().CompileString(`
		model: good: {fields: {id: "integer"}}
		model: bad1: {fields: {id: "float"}}
		model: bad2: {}
	`)
	require.NoError(t, v.Err())

	defs, errs := CompileModels(v, false)
	assert.Len(t, defs, 1)
	assert.Len(t, errs, 2)

	defs, errs = CompileModels(v, true)
	assert.Len(t, defs, 1)
	assert.Len(t, errs, 1)
}

func TestCompileModelsWithoutModels(t *testing.T) {
	v := cuecontext.New().CompileString(`other: 1`)
	_, errs := CompileModels(v, false)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no models defined")
}
