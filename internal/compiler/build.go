package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/schema"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidModel        = "E100" // rejected by schema.New
	ErrMissingFields       = "E101" // no fields declared
	ErrInvalidFieldType    = "E102" // unknown field type tag
	ErrInvalidDefinition   = "E103" // malformed key, index or extends entry
	ErrDuplicateCollection = "E104" // two models share a collection
	ErrUnknownParent       = "E105" // extends names an undefined model
	ErrExtensionCycle      = "E106" // models extend each other
)

// ValidationError is a problem found while building models.
type ValidationError struct {
	Model   string `json:"model,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	where := e.Model
	if e.Field != "" {
		where += "." + e.Field
	}
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, where, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, where, e.Message)
}

// Registry holds built models by name, parents before children.
type Registry struct {
	models map[string]*schema.Model
	names  []string
}

// Get returns the named model.
func (r *Registry) Get(name string) (*schema.Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// MustGet returns the named model or an error naming the known ones.
func (r *Registry) MustGet(name string) (*schema.Model, error) {
	if m, ok := r.models[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("unknown model %q (known: %s)", name, strings.Join(r.Names(), ", "))
}

// Names returns the model names in build order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Models returns the models in build order.
func (r *Registry) Models() []*schema.Model {
	out := make([]*schema.Model, len(r.names))
	for i, n := range r.names {
		out[i] = r.models[n]
	}
	return out
}

// Build resolves defs into models, parents first. Every problem found is
// reported; the registry holds whichever models could be built.
func Build(defs []ModelDef) (*Registry, []ValidationError) {
	reg := &Registry{models: make(map[string]*schema.Model)}
	byName := make(map[string]*ModelDef, len(defs))
	var errs []ValidationError

	collections := make(map[string]string)
	for i := range defs {
		d := &defs[i]
		if _, dup := byName[d.Name]; dup {
			errs = append(errs, validationError(d, "", ErrInvalidDefinition, "model defined twice"))
			continue
		}
		byName[d.Name] = d
		if other, dup := collections[d.Collection]; dup {
			errs = append(errs, validationError(d, "collection", ErrDuplicateCollection,
				fmt.Sprintf("collection %s is already used by model %s", d.Collection, other)))
			continue
		}
		collections[d.Collection] = d.Name
	}

	order, orderErrs := buildOrder(byName)
	errs = append(errs, orderErrs...)

	for _, name := range order {
		d := byName[name]
		opts, err := options(d, reg)
		if err != nil {
			errs = append(errs, *err)
			continue
		}
		m, buildErr := schema.New(d.Collection, d.Fields, opts...)
		if buildErr != nil {
			errs = append(errs, validationError(d, "", ErrInvalidModel, messageOf(buildErr)))
			continue
		}
		reg.models[name] = m
		reg.names = append(reg.names, name)
	}
	return reg, errs
}

// Validate builds defs and returns every problem found.
func Validate(defs []ModelDef) []ValidationError {
	_, errs := Build(defs)
	return errs
}

func options(d *ModelDef, reg *Registry) ([]schema.Option, *ValidationError) {
	var opts []schema.Option
	if d.PrimaryKey != "" {
		opts = append(opts, schema.WithPrimaryKey(d.PrimaryKey))
	}
	for _, u := range d.Unique {
		opts = append(opts, schema.WithUniqueIndex(u))
	}
	for _, group := range d.Combined {
		opts = append(opts, schema.WithCombinedIndex(group...))
	}
	if d.Extends != nil {
		parent, ok := reg.models[d.Extends.Model]
		if !ok {
			e := validationError(d, "extends", ErrUnknownParent,
				fmt.Sprintf("parent model %s is not defined or failed to build", d.Extends.Model))
			return nil, &e
		}
		opts = append(opts, schema.Extends(parent, d.Extends.ForeignKey))
	}
	return opts, nil
}

// buildOrder sorts models so that every parent precedes its children.
// Models caught in an extension cycle are left out and reported.
func buildOrder(defs map[string]*ModelDef) ([]string, []ValidationError) {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(defs))
	var (
		order []string
		errs  []ValidationError
	)

	var visit func(name string, path []string) bool
	visit = func(name string, path []string) bool {
		switch state[name] {
		case done:
			return true
		case visiting:
			cycle := append(path[indexOf(path, name):], name)
			errs = append(errs, validationError(defs[name], "extends", ErrExtensionCycle,
				"extension cycle: "+strings.Join(cycle, " -> ")))
			return false
		}
		state[name] = visiting
		d := defs[name]
		ok := true
		if d.Extends != nil {
			if _, known := defs[d.Extends.Model]; known {
				ok = visit(d.Extends.Model, append(path, name))
			}
		}
		state[name] = done
		if ok {
			order = append(order, name)
		}
		return ok
	}

	for _, n := range names {
		visit(n, nil)
	}
	return order, errs
}

func indexOf(path []string, name string) int {
	for i, p := range path {
		if p == name {
			return i
		}
	}
	return 0
}

func validationError(d *ModelDef, field, code, msg string) ValidationError {
	ve := ValidationError{Model: d.Name, Field: field, Code: code, Message: msg}
	if d.Pos.IsValid() {
		ve.Line = d.Pos.Line()
	}
	return ve
}

func messageOf(err error) string {
	var de *dberr.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// CompileModels compiles every model under v's top-level "model" struct.
// With failFast unset, compile errors are collected and the remaining
// models are still returned.
func CompileModels(v cue.Value, failFast bool) ([]ModelDef, []error) {
	modelsVal := v.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return nil, []error{&CompileError{Field: "model", Message: "no models defined"}}
	}
	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		defs []ModelDef
		errs []error
	)
	for iter.Next() {
		def, err := CompileModel(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("model.%s: %w", iter.Label(), err))
			if failFast {
				return defs, errs
			}
			continue
		}
		defs = append(defs, *def)
	}
	return defs, errs
}

// CompileString compiles CUE source holding model definitions and builds
// them. The first problem found is returned.
func CompileString(src string) (*Registry, error) {
	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	defs, errs := CompileModels(v, true)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	reg, verrs := Build(defs)
	if len(verrs) > 0 {
		return nil, verrs[0]
	}
	return reg, nil
}
