package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/uql/internal/compiler"
	"github.com/roach88/uql/internal/crud"
	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/memory"
	"github.com/roach88/uql/internal/testutil"
	"github.com/roach88/uql/internal/uql"
	"github.com/roach88/uql/internal/value"
)

// Error codes reported in traces for failures outside the dberr taxonomy.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeDuplicateKey = "DUPLICATE_KEY"
	CodeError        = "ERROR"
)

// Harness executes scenario steps against one in-memory store.
type Harness struct {
	store  *memory.Store
	models *compiler.Registry
	repos  map[string]crud.Repository
}

// New creates a harness over freshly built models. uuid and string keys
// are issued by keys.
func New(models *compiler.Registry, keys *testutil.SequentialKeys) *Harness {
	h := &Harness{
		store:  memory.NewStore(memory.WithKeyGenerator(keys.Next)),
		models: models,
		repos:  make(map[string]crud.Repository),
	}
	for _, name := range models.Names() {
		m, _ := models.Get(name)
		h.repos[name] = crud.NewMemory(h.store, m)
	}
	return h
}

// Run executes a scenario in a fresh store and returns its result.
//
// Execution flow:
//  1. Compile the models file
//  2. Insert setup records
//  3. Execute steps, checking each step's expectations
//  4. Capture the final state and evaluate assertions
//
// The error is non-nil only when the scenario cannot run at all: the
// models fail to build, a step names an unknown model or carries a
// malformed query, or a setup insert fails.
func Run(s *Scenario) (*Result, error) {
	src, err := os.ReadFile(s.Models)
	if err != nil {
		return nil, fmt.Errorf("failed to read models: %w", err)
	}
	models, err := compiler.CompileString(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to compile models: %w", err)
	}

	h := New(models, testutil.NewSequentialKeys("key"))
	ctx := context.Background()
	result := NewResult()

	if err := h.setup(ctx, s.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	for i, st := range s.Steps {
		if err := h.step(ctx, i, st, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	h.captureState(result)
	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) repo(model string) (crud.Repository, error) {
	r, ok := h.repos[model]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", model)
	}
	return r, nil
}

func (h *Harness) setup(ctx context.Context, steps []SetupStep) error {
	for i, st := range steps {
		r, err := h.repo(st.Model)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		for j, rec := range st.Records {
			if _, err := r.Insert(ctx, uql.Record(rec)); err != nil {
				return fmt.Errorf("setup[%d].records[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func (h *Harness) step(ctx context.Context, i int, st Step, result *Result) error {
	r, err := h.repo(st.Model)
	if err != nil {
		return err
	}
	q, err := parseQuery(&st.Query)
	if err != nil {
		return err
	}

	slog.Debug("scenario step", "seq", i+1, "op", st.Op, "model", st.Model)

	ev := TraceEvent{Op: st.Op, Model: st.Model}
	data := uql.Record(st.Data)
	var opErr error
	switch st.Op {
	case opFind, "select":
		var recs []uql.Record
		recs, opErr = r.Find(ctx, q)
		ev.Records = plainRecords(recs)
	case opFindOne:
		var rec uql.Record
		rec, opErr = r.FindOne(ctx, q)
		ev.Result = rec
	case "count":
		var n int64
		if n, opErr = r.Count(ctx, q); opErr == nil {
			ev.Count = &n
		}
	case "insert":
		var rec uql.Record
		rec, opErr = r.Insert(ctx, data)
		ev.Result = rec
	case "update":
		var n int64
		if n, opErr = r.Update(ctx, q, data); opErr == nil {
			ev.Count = &n
		}
	case "remove":
		var n int64
		if n, opErr = r.Remove(ctx, q); opErr == nil {
			ev.Count = &n
		}
	case "upsert":
		var rec uql.Record
		rec, opErr = r.Upsert(ctx, q, data)
		ev.Result = rec
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	if opErr != nil {
		ev.Error = errorCode(opErr)
		ev.Result, ev.Records, ev.Count = nil, nil, nil
	}
	result.AddTrace(ev)

	for _, msg := range checkExpect(st.Expect, ev, opErr) {
		result.AddError(fmt.Sprintf("steps[%d] %s %s: %s", i, st.Op, st.Model, msg))
	}
	return nil
}

// parseQuery re-encodes the YAML node so that uql.Parse sees the keys in
// the order the scenario wrote them.
func parseQuery(n *yaml.Node) (*uql.Query, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	b, err := yaml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	q, err := uql.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return q, nil
}

func errorCode(err error) string {
	if code := dberr.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, crud.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, memory.ErrDuplicateKey):
		return CodeDuplicateKey
	default:
		return CodeError
	}
}

func plainRecords(recs []uql.Record) []map[string]any {
	out := make([]map[string]any, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out
}

// captureState copies every collection into the result, models in build
// order.
func (h *Harness) captureState(result *Result) {
	for _, m := range h.models.Models() {
		result.State[m.Collection()] = plainRecords(h.store.Records(m.Collection()))
	}
}

func checkExpect(e *Expect, ev TraceEvent, err error) []string {
	if e == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}
	if e.Error != "" {
		switch {
		case err == nil:
			return []string{fmt.Sprintf("expected error %s, got success", e.Error)}
		case !strings.EqualFold(e.Error, ev.Error):
			return []string{fmt.Sprintf("expected error %s, got %s (%v)", e.Error, ev.Error, err)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var msgs []string
	if e.Result != nil {
		msgs = append(msgs, subsetMismatches("result", e.Result, ev.Result)...)
	}
	if e.Records != nil {
		if len(e.Records) != len(ev.Records) {
			msgs = append(msgs, fmt.Sprintf("expected %d records, got %d", len(e.Records), len(ev.Records)))
		} else {
			for i := range e.Records {
				msgs = append(msgs, subsetMismatches(fmt.Sprintf("records[%d]", i), e.Records[i], ev.Records[i])...)
			}
		}
	}
	if e.Count != nil {
		switch {
		case ev.Count == nil:
			msgs = append(msgs, fmt.Sprintf("expected count %d, step returns no count", *e.Count))
		case *e.Count != *ev.Count:
			msgs = append(msgs, fmt.Sprintf("expected count %d, got %d", *e.Count, *ev.Count))
		}
	}
	return msgs
}

// subsetMismatches lists the expected fields actual lacks or holds with a
// different value. Mismatches are reported in field name order.
func subsetMismatches(label string, expected, actual map[string]any) []string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []string
	for _, k := range keys {
		want := expected[k]
		got, ok := lookupField(actual, k)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("%s: missing field %s", label, k))
			continue
		}
		if !value.Equal(want, got) {
			msgs = append(msgs, fmt.Sprintf("%s.%s: expected %v, got %v", label, k, want, got))
		}
	}
	return msgs
}
