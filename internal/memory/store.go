// Package memory is the in-process backend: tables of records with
// primary, unique and combined unique indexes, queried by compiled
// matchers.
//
// A Store is owned by its caller and injected wherever it is used; there
// is no package-level state. Each table carries its own RWMutex: reads run
// concurrently, every mutation runs in one critical section, and
// operations on an extended model lock parent and child in collection name
// order.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/uql"
	"github.com/roach88/uql/internal/value"
)

// ErrDuplicateKey is returned when a write would give two records the same
// primary key or unique index value.
var ErrDuplicateKey = errors.New("duplicate key")

// Option configures a Store.
type Option func(*Store)

// WithKeyGenerator replaces the generator used for uuid and string primary
// keys. The default is uuid.NewString.
func WithKeyGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newKey = fn
	}
}

// Store owns the tables of the in-memory backend.
type Store struct {
	mu     sync.Mutex
	tables map[string]*Table
	newKey func() string
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]*Table),
		newKey: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table holds one collection's records and indexes.
type Table struct {
	mu    sync.RWMutex
	model *schema.Model
	rows  []uql.Record
	idx   *indexes
}

// table returns the table for m's collection, creating it on first use.
func (s *Store) table(m *schema.Model) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[m.Collection()]
	if !ok {
		t = &Table{model: m, idx: newIndexes(m)}
		s.tables[m.Collection()] = t
	}
	return t
}

// Load replaces the contents of m's collection and rebuilds its indexes.
// Records are stored as given, keyed by storage field names.
func (s *Store) Load(m *schema.Model, records []uql.Record) error {
	t := s.table(m)
	rows := make([]uql.Record, len(records))
	for i, r := range records {
		rows[i] = clone(r)
	}
	idx, err := buildIndexes(t.model, rows)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows, t.idx = rows, idx
	return nil
}

// Reset empties m's collection.
func (s *Store) Reset(m *schema.Model) {
	t := s.table(m)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows, t.idx = nil, newIndexes(t.model)
}

// Records returns copies of the records stored in a collection, in
// storage order.
func (s *Store) Records(collection string) []uql.Record {
	s.mu.Lock()
	t, ok := s.tables[collection]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uql.Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = clone(r)
	}
	return out
}

// lock acquires the tables in collection name order and returns the
// matching unlock.
func lock(write bool, tables ...*Table) func() {
	sorted := append([]*Table(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].model.Collection() < sorted[j].model.Collection()
	})
	for _, t := range sorted {
		if write {
			t.mu.Lock()
		} else {
			t.mu.RLock()
		}
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			if write {
				sorted[i].mu.Unlock()
			} else {
				sorted[i].mu.RUnlock()
			}
		}
	}
}

// assignKey fills in a missing primary key: max+1 for integer keys, a
// generated key for uuid and string keys.
func (s *Store) assignKey(t *Table, rec uql.Record) error {
	pk := t.model.PrimaryKey()
	if pk == "" || rec[pk] != nil {
		return nil
	}
	ft, _ := t.model.TypeOf(pk)
	switch ft {
	case schema.Integer:
		rec[pk] = t.idx.maxInt + 1
	case schema.UUID, schema.String, schema.Text:
		rec[pk] = s.newKey()
	default:
		return dberr.BadInput("%s: a value for primary key %s is required", t.model.Collection(), pk)
	}
	return nil
}

// insert validates rec against the table's indexes and stores it. Callers
// hold the write lock.
func (t *Table) insert(rec uql.Record) error {
	k := keysOf(t.model, rec)
	if err := t.idx.conflict(t.model, k, -1); err != nil {
		return err
	}
	t.rows = append(t.rows, rec)
	t.idx.add(k, len(t.rows)-1, rec[t.model.PrimaryKey()])
	return nil
}

// match returns the positions of rows satisfying fn. When eq supplies an
// indexed field the index picks the candidates; otherwise every row is a
// candidate. Callers hold at least the read lock.
func (t *Table) match(eq map[string]any, fn Matcher) []int {
	if candidates, ok := t.idx.lookup(t.model, eq); ok {
		var out []int
		for _, pos := range candidates {
			if fn(t.rows[pos]) {
				out = append(out, pos)
			}
		}
		return out
	}
	var out []int
	for pos, row := range t.rows {
		if fn(row) {
			out = append(out, pos)
		}
	}
	return out
}

// indexes maps canonical keys to storage positions.
type indexes struct {
	primary  map[string]int
	unique   map[string]int
	combined []map[string]int
	maxInt   int64
}

func newIndexes(m *schema.Model) *indexes {
	ix := &indexes{
		primary:  make(map[string]int),
		unique:   make(map[string]int),
		combined: make([]map[string]int, len(m.CombinedIndexes())),
	}
	for i := range ix.combined {
		ix.combined[i] = make(map[string]int)
	}
	return ix
}

// buildIndexes indexes rows from scratch, failing on any duplicate.
func buildIndexes(m *schema.Model, rows []uql.Record) (*indexes, error) {
	ix := newIndexes(m)
	for pos, rec := range rows {
		k := keysOf(m, rec)
		if err := ix.conflict(m, k, -1); err != nil {
			return nil, err
		}
		ix.add(k, pos, rec[m.PrimaryKey()])
	}
	return ix, nil
}

// recordKeys are the index keys of one record. An empty key means the
// record has no entry in that index: nil values are not indexed.
type recordKeys struct {
	primary  string
	unique   string
	combined []string
}

func keysOf(m *schema.Model, rec uql.Record) recordKeys {
	var k recordKeys
	if pk := m.PrimaryKey(); pk != "" && rec[pk] != nil {
		k.primary = value.Key(rec[pk])
	}
	if u := m.UniqueIndex(); u != "" && rec[u] != nil {
		k.unique = value.Key(rec[u])
	}
	for _, group := range m.CombinedIndexes() {
		k.combined = append(k.combined, combinedKey(group, rec))
	}
	return k
}

func combinedKey(group []string, rec map[string]any) string {
	vals := make([]any, len(group))
	for i, f := range group {
		v, ok := rec[f]
		if !ok || v == nil {
			return ""
		}
		vals[i] = v
	}
	return value.CombinedKey(vals...)
}

// conflict reports whether k collides with an entry held by a position
// other than self.
func (ix *indexes) conflict(m *schema.Model, k recordKeys, self int) error {
	taken := func(index map[string]int, key string) bool {
		if key == "" {
			return false
		}
		pos, ok := index[key]
		return ok && pos != self
	}
	if taken(ix.primary, k.primary) {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateKey, m.Collection(), m.PrimaryKey())
	}
	if taken(ix.unique, k.unique) {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateKey, m.Collection(), m.UniqueIndex())
	}
	for i, key := range k.combined {
		if taken(ix.combined[i], key) {
			return fmt.Errorf("%w: %s%v", ErrDuplicateKey, m.Collection(), m.CombinedIndexes()[i])
		}
	}
	return nil
}

func (ix *indexes) add(k recordKeys, pos int, pk any) {
	if k.primary != "" {
		ix.primary[k.primary] = pos
	}
	if k.unique != "" {
		ix.unique[k.unique] = pos
	}
	for i, key := range k.combined {
		if key != "" {
			ix.combined[i][key] = pos
		}
	}
	if n, ok := value.Int(pk); ok && n > ix.maxInt {
		ix.maxInt = n
	}
}

// lookup is the index fast path. It consults the primary index, then the
// single unique index, then a combined index whose fields eq supplies in
// full. Object literals on JSON fields never use an index. A miss yields
// no candidates. ok is false when no index applies
// and the caller must scan.
func (ix *indexes) lookup(m *schema.Model, eq map[string]any) (candidates []int, ok bool) {
	hit := func(index map[string]int, key string) ([]int, bool) {
		if pos, found := index[key]; found {
			return []int{pos}, true
		}
		return nil, true
	}
	if pk := m.PrimaryKey(); pk != "" && keyable(m, pk, eq[pk]) {
		return hit(ix.primary, value.Key(eq[pk]))
	}
	if u := m.UniqueIndex(); u != "" && keyable(m, u, eq[u]) {
		return hit(ix.unique, value.Key(eq[u]))
	}
	for i, group := range m.CombinedIndexes() {
		if !allKeyable(m, group, eq) {
			continue
		}
		if key := combinedKey(group, eq); key != "" {
			return hit(ix.combined[i], key)
		}
	}
	return nil, false
}

// keyable reports whether an equality literal on field can be answered by
// key. An object compared against a JSON field matches by containment, so
// it must go through the matcher.
func keyable(m *schema.Model, field string, v any) bool {
	if v == nil {
		return false
	}
	if _, isObj := v.(map[string]any); isObj {
		ft, _ := m.TypeOf(field)
		return ft != schema.JSON
	}
	return true
}

func allKeyable(m *schema.Model, group []string, eq map[string]any) bool {
	for _, f := range group {
		if !keyable(m, f, eq[f]) {
			return false
		}
	}
	return true
}

// find locates the record holding rec's values for fields, using the
// index those fields make up.
func (ix *indexes) find(m *schema.Model, fields []string, rec map[string]any) (int, bool) {
	var (
		index map[string]int
		key   string
	)
	switch {
	case len(fields) == 1 && fields[0] == m.PrimaryKey():
		index, key = ix.primary, value.Key(rec[fields[0]])
	case len(fields) == 1 && fields[0] == m.UniqueIndex():
		index, key = ix.unique, value.Key(rec[fields[0]])
	default:
		for i, group := range m.CombinedIndexes() {
			if equalFields(group, fields) {
				index, key = ix.combined[i], combinedKey(group, rec)
			}
		}
	}
	if index == nil || key == "" {
		return 0, false
	}
	pos, ok := index[key]
	return pos, ok
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clone(r uql.Record) uql.Record {
	out := make(uql.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
