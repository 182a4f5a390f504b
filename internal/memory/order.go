package memory

import (
	"sort"

	"github.com/roach88/uql/internal/uql"
	"github.com/roach88/uql/internal/value"
)

// Sort orders records in place by the order keys. Each key contributes a
// comparator; ties fall through to the next key, and records equal on
// every key keep their relative order.
func Sort(records []uql.Record, order []uql.OrderBy) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range order {
			a, _ := value.Lookup(records[i], o.Field)
			b, _ := value.Lookup(records[j], o.Field)
			c, ok := value.Compare(a, b)
			if !ok || c == 0 {
				continue
			}
			if o.Direction == uql.Asc {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

// Paginate drops the first skip records, then keeps up to limit of the
// rest. A non-positive skip is a no-op; a nil limit keeps everything and a
// limit of zero or less keeps nothing.
func Paginate(records []uql.Record, skip int, limit *int) []uql.Record {
	if skip > 0 {
		if skip >= len(records) {
			return []uql.Record{}
		}
		records = records[skip:]
	}
	if limit != nil {
		if *limit <= 0 {
			return []uql.Record{}
		}
		if *limit < len(records) {
			records = records[:*limit]
		}
	}
	return records
}
