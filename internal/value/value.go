// Package value canonicalises the dynamic values that flow through queries
// and records.
//
// Records arrive from YAML, JSON, database/sql drivers and BSON decoders,
// so the same logical number may be an int, int64, uint32 or float64. All
// comparisons in the in-memory engine go through this package so that the
// representation never changes the outcome.
package value

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Number converts any Go numeric type to float64.
// The second result is false when v is not numeric.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Int converts v to int64 when it is an integral number.
func Int(v any) (int64, bool) {
	f, ok := Number(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// Equal reports strict equality between two values after numeric
// normalisation. Values of different kinds are never equal.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := Number(a); ok {
		fb, ok := Number(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && (av == bv || norm.NFC.String(av) == norm.NFC.String(bv))
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, present := bv[k]
			if !present || !Equal(x, y) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values. It returns -1, 0 or 1 and true when the values
// are comparable (both numbers, both strings, both times or both bools).
// nil sorts before every other value.
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}
	if fa, ok := Number(a); ok {
		fb, ok := Number(b)
		if !ok {
			return 0, false
		}
		return cmpFloat(fa, fb), true
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
		if bv, ok := b.(time.Time); ok {
			if at, err := time.Parse(time.RFC3339Nano, av); err == nil {
				return at.Compare(bv), true
			}
		}
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return av.Compare(bv), true
		case string:
			if bt, err := time.Parse(time.RFC3339Nano, bv); err == nil {
				return av.Compare(bt), true
			}
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Contains reports whether haystack contains needle: element membership for
// arrays, sub-document containment for objects and substring for strings.
func Contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		if n, ok := needle.([]any); ok {
			for _, x := range n {
				if !Contains(h, x) {
					return false
				}
			}
			return true
		}
		for _, x := range h {
			if Equal(x, needle) {
				return true
			}
		}
		return false
	case []string:
		return Contains(toAnySlice(h), needle)
	case map[string]any:
		n, ok := needle.(map[string]any)
		if !ok {
			return false
		}
		for k, nv := range n {
			hv, present := h[k]
			if !present {
				return false
			}
			if _, nested := nv.(map[string]any); nested {
				if !Contains(hv, nv) {
					return false
				}
				continue
			}
			if !Equal(hv, nv) {
				return false
			}
		}
		return true
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	}
	return false
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, x := range s {
		out[i] = x
	}
	return out
}
