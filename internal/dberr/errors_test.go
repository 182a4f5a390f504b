package dberr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := UnknownFields("person", []string{"nope", "missing"})
	assert.Equal(t, "BAD_INPUT: unknown fields for person [nope, missing]", err.Error())

	cause := errors.New("duplicate key")
	wrapped := CantInsertRecord("person", cause)
	assert.Equal(t, "CANT_INSERT_RECORD: cannot insert into person: duplicate key", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("find: %w", BadInput("where is required"))
	assert.True(t, IsBadInput(err))
	assert.False(t, IsBadIndexesForUpsert(err))
	assert.False(t, IsCantInsertRecord(err))

	err = fmt.Errorf("upsert: %w", BadIndexesForUpsert("person", "no uniqueness declared"))
	assert.True(t, IsBadIndexesForUpsert(err))
	assert.Equal(t, CodeBadIndexesForUpsert, CodeOf(err))

	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
