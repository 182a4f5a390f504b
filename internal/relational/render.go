package relational

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/value"
)

// isoLayout matches the millisecond ISO-8601 form dates are stored in.
const isoLayout = "2006-01-02T15:04:05.000Z"

// quote renders s as a SQL string literal, doubling embedded quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// formatNumber renders a numeric value without exponent notation.
func formatNumber(v any) (string, bool) {
	if n, ok := value.Int(v); ok {
		return strconv.FormatInt(n, 10), true
	}
	if f, ok := value.Number(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// renderValue renders v as a literal for a field of type t.
func renderValue(t schema.FieldType, v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	switch t {
	case schema.String, schema.Text, schema.UUID:
		return quote(asText(v)), nil
	case schema.Integer, schema.Decimal:
		if s, ok := formatNumber(v); ok {
			return s, nil
		}
		return quote(asText(v)), nil
	case schema.Boolean:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return strconv.FormatBool(parsed), nil
			}
		}
		return "", fmt.Errorf("value %v is not a boolean", v)
	case schema.Date:
		if ts, ok := v.(time.Time); ok {
			return quote(ts.UTC().Format(isoLayout)), nil
		}
		return quote(asText(v)), nil
	case schema.JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode json value: %w", err)
		}
		return quote(string(b)), nil
	case schema.Array:
		lit, err := arrayLiteral(v)
		if err != nil {
			return "", err
		}
		return quote(lit), nil
	}
	return quote(asText(v)), nil
}

// renderText renders v as a text literal. Values compared against a JSON
// path accessor (->>) are always text.
func renderText(v any) string {
	return quote(asText(v))
}

func asText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(isoLayout)
	case bool:
		return strconv.FormatBool(val)
	}
	if s, ok := formatNumber(v); ok {
		return s
	}
	return fmt.Sprint(v)
}

// arrayLiteral renders a slice as an array literal body: {"a","b"} or {1,2}.
// A scalar is treated as a one-element array.
func arrayLiteral(v any) (string, error) {
	var items []any
	switch val := v.(type) {
	case []any:
		items = val
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	default:
		items = []any{v}
	}
	parts := make([]string, len(items))
	for i, item := range items {
		switch x := item.(type) {
		case nil:
			parts[i] = "NULL"
		case string:
			parts[i] = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(x) + `"`
		case bool:
			parts[i] = strconv.FormatBool(x)
		default:
			s, ok := formatNumber(x)
			if !ok {
				return "", fmt.Errorf("unsupported array element %T", item)
			}
			parts[i] = s
		}
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// jsonPath renders the nested-path accessor for column plus sub-keys:
// job.title becomes job->>'title', a.b.c becomes a->'b'->>'c'.
func jsonPath(column string, keys []string) string {
	var b strings.Builder
	b.WriteString(column)
	for i, k := range keys {
		if i == len(keys)-1 {
			b.WriteString("->>")
		} else {
			b.WriteString("->")
		}
		b.WriteString(quote(k))
	}
	return b.String()
}
