package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_SQL(t *testing.T) {
	out, err := executeCommand(t, "compile", "testdata/models",
		"--model", "users", "--op", "find",
		"--query", "{where: {age: {$gt: 30}}, limit: 10}")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE age > 30 LIMIT 10\n", out)
}

func TestCompile_SQLJSON(t *testing.T) {
	out, err := executeCommand(t, "compile", "testdata/models",
		"--model", "users", "--op", "count", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "count", resp.Data.Op)
	assert.Equal(t, "SELECT COUNT(*) AS count FROM users", resp.Data.Statement)
	assert.Empty(t, resp.Data.Command)
}

func TestCompile_Document(t *testing.T) {
	out, err := executeCommand(t, "compile", "testdata/models",
		"--model", "users", "--backend", "document", "--op", "find",
		"--query", `{"where": {"age": {"$gt": 30}}, "order": {"name": "asc"}}`)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "select", doc["op"])
	assert.Equal(t, "users", doc["collection"])
	assert.Contains(t, doc["query"], "age")
	assert.Equal(t, map[string]any{"name": float64(1)}, doc["sort"])
}

func TestCompile_DocumentExtended(t *testing.T) {
	out, err := executeCommand(t, "compile", "testdata/models",
		"--model", "employees", "--backend", "document", "--op", "find",
		"--query", "{where: {name: Ann, salary: {$gte: 10}}}")
	require.NoError(t, err)

	var split map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &split))
	require.Contains(t, split, "parent")
	require.Contains(t, split, "extended")
	assert.Equal(t, "persons", split["parent"].(map[string]any)["collection"])
	assert.Equal(t, "employees", split["extended"].(map[string]any)["collection"])
}

func TestCompile_DataFile(t *testing.T) {
	path := writeTemp(t, "data.yaml", "email: a@x\nname: Ann\n")
	out, err := executeCommand(t, "compile", "testdata/models",
		"--model", "users", "--op", "insert", "--data-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "INSERT INTO users")
	assert.Contains(t, out, "'a@x'")
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{
			name: "unknown backend",
			args: []string{"--model", "users", "--backend", "graph"},
			code: ExitCommandError,
			msg:  `unknown backend "graph"`,
		},
		{
			name: "unknown op",
			args: []string{"--model", "users", "--op", "merge"},
			code: ExitCommandError,
			msg:  `unknown operation "merge"`,
		},
		{
			name: "unknown model",
			args: []string{"--model", "ghosts"},
			code: ExitCommandError,
			msg:  `unknown model "ghosts"`,
		},
		{
			name: "malformed query",
			args: []string{"--model", "users", "--query", "[1, 2]"},
			code: ExitCommandError,
			msg:  ErrCodeBadInput,
		},
		{
			name: "update without where",
			args: []string{"--model", "users", "--op", "update", "--data", "{name: x}"},
			code: ExitFailure,
			msg:  "BAD_INPUT",
		},
		{
			name: "unknown field",
			args: []string{"--model", "users", "--query", "{where: {nope: 1}}"},
			code: ExitFailure,
			msg:  "BAD_INPUT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"compile", "testdata/models"}, tt.args...)
			out, err := executeCommand(t, args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, out, tt.msg)
		})
	}
}

func TestCompile_RequiresModelFlag(t *testing.T) {
	_, err := executeCommand(t, "compile", "testdata/models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")
}
