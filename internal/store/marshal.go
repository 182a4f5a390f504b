package store

import (
	"encoding/json"
	"strconv"

	"github.com/lib/pq"

	"github.com/roach88/uql/internal/schema"
)

// decode converts a scanned column value into the representation the rest
// of the system works with. Drivers hand back text and byte slices for
// JSON, arrays and numerics; those are decoded by the column's field type.
// Columns unknown to m are returned as scanned, with bytes as text.
func decode(m *schema.Model, col string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	ft, known := m.TypeOf(col)
	if !known {
		return v
	}
	switch ft {
	case schema.JSON:
		var out any
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
	case schema.Array:
		if arr, ok := decodeArray(s); ok {
			return arr
		}
	case schema.Integer:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case schema.Decimal:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case schema.Boolean:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

// decodeArray parses an array literal ({a,"b c",3}) as written by the
// relational compiler and returned by postgres text[] columns. Elements
// that read as numbers become numbers.
func decodeArray(s string) ([]any, bool) {
	var raw pq.StringArray
	if err := raw.Scan(s); err != nil {
		return nil, false
	}
	out := make([]any, len(raw))
	for i, item := range raw {
		if n, err := strconv.ParseInt(item, 10, 64); err == nil {
			out[i] = n
		} else if f, err := strconv.ParseFloat(item, 64); err == nil {
			out[i] = f
		} else {
			out[i] = item
		}
	}
	return out, true
}
