package value

import (
	"encoding/json"
	"strings"
)

// Lookup resolves a dot path ("job.title") against a record. The root
// segment is a record field; the remaining segments walk nested objects.
// Nested JSON stored as text (as some drivers return it) is decoded on
// the way down.
func Lookup(record map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = record
	for _, seg := range segments {
		obj, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asObject(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case string:
		return decodeObject([]byte(val))
	case []byte:
		return decodeObject(val)
	}
	return nil, false
}

func decodeObject(b []byte) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// Root returns the record field a dot path starts from.
func Root(path string) string {
	root, _, _ := strings.Cut(path, ".")
	return root
}
