package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// KeySeparator joins the per-field keys of a combined unique index.
// It is a control character so it cannot collide with canonical keys.
const KeySeparator = "\x1f"

// Key returns the canonical index key for v. Two values produce the same
// key exactly when Equal reports them equal, so 1, int64(1) and 1.0 share
// a key, and strings are NFC normalized before keying.
func Key(v any) string {
	if v == nil {
		return "z"
	}
	if f, ok := Number(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	switch val := v.(type) {
	case string:
		return "s:" + norm.NFC.String(val)
	case bool:
		if val {
			return "b:1"
		}
		return "b:0"
	case time.Time:
		return "t:" + val.UTC().Format(time.RFC3339Nano)
	case []any:
		parts := make([]string, len(val))
		for i, x := range val {
			parts[i] = Key(x)
		}
		return "a:[" + strings.Join(parts, ",") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(norm.NFC.String(k)) + "=" + Key(val[k])
		}
		return "o:{" + strings.Join(parts, ",") + "}"
	}
	if b, err := json.Marshal(v); err == nil {
		return "j:" + string(b)
	}
	return fmt.Sprintf("x:%v", v)
}

// CombinedKey joins the canonical keys of vals with KeySeparator.
func CombinedKey(vals ...any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = Key(v)
	}
	return strings.Join(parts, KeySeparator)
}
