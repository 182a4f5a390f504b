// Package dberr defines the error taxonomy shared by every layer of the
// data-access core.
//
// Validation failures are raised before any executor is invoked, so a
// BadInput or BadIndexesForUpsert error guarantees nothing was written.
// CantInsertRecord wraps the lower-level failure reported by a store.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes data-access errors.
type Code string

const (
	// CodeBadInput covers unknown fields, a missing where keyword, malformed
	// model definitions and unknown field types.
	CodeBadInput Code = "BAD_INPUT"

	// CodeBadIndexesForUpsert means a model declares zero or ambiguous
	// uniqueness guarantees, so no conflict target can be chosen.
	CodeBadIndexesForUpsert Code = "BAD_INDEXES_FOR_UPSERT"

	// CodeCantInsertRecord wraps an insert failure surfaced by a backend.
	CodeCantInsertRecord Code = "CANT_INSERT_RECORD"
)

// Error is a categorized data-access error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Fields names the offending fields, when the error is about fields.
	Fields []string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// BadInput creates a BAD_INPUT error.
func BadInput(format string, args ...any) *Error {
	return &Error{Code: CodeBadInput, Message: fmt.Sprintf(format, args...)}
}

// UnknownFields creates a BAD_INPUT error naming the unknown fields.
func UnknownFields(collection string, fields []string) *Error {
	return &Error{
		Code:    CodeBadInput,
		Message: fmt.Sprintf("unknown fields for %s", collection),
		Fields:  fields,
	}
}

// BadIndexesForUpsert creates a BAD_INDEXES_FOR_UPSERT error.
func BadIndexesForUpsert(collection, reason string) *Error {
	return &Error{
		Code:    CodeBadIndexesForUpsert,
		Message: fmt.Sprintf("%s: %s", collection, reason),
	}
}

// CantInsertRecord wraps err as a CANT_INSERT_RECORD error. The original
// message is kept so callers can still see what the store reported.
func CantInsertRecord(collection string, err error) *Error {
	return &Error{
		Code:    CodeCantInsertRecord,
		Message: fmt.Sprintf("cannot insert into %s", collection),
		Err:     err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBadInput reports whether err is a BAD_INPUT error.
func IsBadInput(err error) bool {
	return CodeOf(err) == CodeBadInput
}

// IsBadIndexesForUpsert reports whether err is a BAD_INDEXES_FOR_UPSERT error.
func IsBadIndexesForUpsert(err error) bool {
	return CodeOf(err) == CodeBadIndexesForUpsert
}

// IsCantInsertRecord reports whether err is a CANT_INSERT_RECORD error.
func IsCantInsertRecord(err error) bool {
	return CodeOf(err) == CodeCantInsertRecord
}
