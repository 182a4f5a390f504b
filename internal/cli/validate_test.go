package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uql/internal/compiler"
)

func TestValidate_ValidModels(t *testing.T) {
	out, err := executeCommand(t, "validate", "testdata/models")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All models valid (3)")
}

func TestValidate_JSON(t *testing.T) {
	out, err := executeCommand(t, "validate", "testdata/models", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.ElementsMatch(t, []string{"users", "persons", "employees"}, resp.Data.Models)
}

func TestValidate_InvalidModels(t *testing.T) {
	out, err := executeCommand(t, "validate", "testdata/invalid")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "validation error(s)")
	assert.Contains(t, out, compiler.ErrInvalidFieldType)
	assert.Contains(t, out, compiler.ErrUnknownParent)
}

func TestValidate_MissingDirectory(t *testing.T) {
	out, err := executeCommand(t, "validate", "testdata/nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestValidate_EmptyDirectory(t *testing.T) {
	out, err := executeCommand(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoFiles)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"fields", compiler.ErrMissingFields},
		{"fields.age", compiler.ErrInvalidFieldType},
		{"unique", compiler.ErrInvalidDefinition},
		{"extends", compiler.ErrInvalidDefinition},
		{"model", ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}
