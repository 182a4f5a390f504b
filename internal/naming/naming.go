// Package naming converts field names between the external camelCase
// convention callers use and the snake_case names stored by backends.
package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ToSnake converts a camelCase name to snake_case. Names that are already
// snake_case are returned unchanged. Only the root of a dot path is
// converted; sub-keys address JSON content and are kept verbatim.
func ToSnake(name string) string {
	root, rest, dotted := strings.Cut(name, ".")
	out := snake(root)
	if dotted {
		return out + "." + rest
	}
	return out
}

func snake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToCamel converts a snake_case name to camelCase. A leading underscore
// (as in "_id") is preserved. Acronym casing is lost on the way through
// snake_case: ToSnake("URLPath") is "url_path", which comes back as
// "urlPath". Callers that need the original key must keep it themselves.
func ToCamel(name string) string {
	if !strings.Contains(strings.TrimLeft(name, "_"), "_") {
		return name
	}
	prefix := name[:len(name)-len(strings.TrimLeft(name, "_"))]
	parts := strings.Split(strings.TrimLeft(name, "_"), "_")

	// Casers keep state and must not be shared across goroutines.
	title := cases.Title(language.Und)
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(title.String(p))
	}
	return b.String()
}

// SnakeKeys returns a copy of m with every top-level key converted to snake_case.
func SnakeKeys(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[ToSnake(k)] = v
	}
	return out
}

// CamelKeys returns a copy of m with every top-level key converted to camelCase.
func CamelKeys(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[ToCamel(k)] = v
	}
	return out
}
