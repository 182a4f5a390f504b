package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/uql/internal/naming"
	"github.com/roach88/uql/internal/value"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks assertions against the captured final state
// and returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		case AssertRecordCount:
			err = assertRecordCount(result.State, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func assertRecordCount(state map[string][]map[string]any, a Assertion) error {
	got := len(state[a.Collection])
	if got != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d records in %s", a.Count, a.Collection),
			Actual:   fmt.Sprintf("%d records", got),
		}
	}
	return nil
}

// assertFinalState finds the first record matching every where field and
// checks it carries the expected values.
func assertFinalState(state map[string][]map[string]any, a Assertion) error {
	for _, rec := range state[a.Collection] {
		if !matchesWhere(rec, a.Where) {
			continue
		}
		if msgs := subsetMismatches(a.Collection, a.Expect, rec); len(msgs) > 0 {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%v", a.Expect),
				Actual:   strings.Join(msgs, "; "),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("a record in %s matching %v", a.Collection, a.Where),
		Actual:   "no matching record",
	}
}

func matchesWhere(rec map[string]any, where map[string]any) bool {
	for k, want := range where {
		got, ok := lookupField(rec, k)
		if !ok || !value.Equal(want, got) {
			return false
		}
	}
	return true
}

// lookupField finds a field under its written name, then under its
// camelCase and snake_case forms.
func lookupField(rec map[string]any, field string) (any, bool) {
	for _, k := range []string{field, naming.ToCamel(field), naming.ToSnake(field)} {
		if v, ok := rec[k]; ok {
			return v, true
		}
	}
	return nil, false
}
