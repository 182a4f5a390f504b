// Package compiler turns CUE model definitions into schema.Models.
//
// A definitions file declares models under a top-level "model" struct:
//
//	model: persons: {
//		collection:  "persons"
//		fields: {id: "integer", name: "string", email: "string"}
//		primary_key: "id"
//		unique:      "email"
//	}
//
//	model: employees: {
//		fields: {id: "integer", person_id: "integer", title: "string"}
//		primary_key: "id"
//		unique:      "person_id"
//		extends: {model: "persons", foreign_key: "person_id"}
//	}
//
// collection defaults to the model's label. unique takes one field or a
// list; declaring more than one is accepted here and rejected when an
// upsert needs a conflict target. combined is a list of field lists.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/uql/internal/schema"
)

// ModelDef is a model definition as written in CUE. Parent references are
// still names; Build resolves them.
type ModelDef struct {
	Name       string
	Collection string
	Fields     []schema.Field
	PrimaryKey string
	Unique     []string
	Combined   [][]string
	Extends    *ExtendsDef
	Pos        token.Pos
}

// ExtendsDef names the parent model and the child's foreign key field.
type ExtendsDef struct {
	Model      string
	ForeignKey string
}

// CompileModel parses a CUE value into a ModelDef. The value should be the
// model struct itself, e.g. the result of
// v.LookupPath(cue.ParsePath("model.persons")).
func CompileModel(v cue.Value) (*ModelDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ModelDef{Pos: v.Pos()}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].String()
	}

	var err error
	def.Collection, err = optionalString(v, "collection")
	if err != nil {
		return nil, err
	}
	if def.Collection == "" {
		def.Collection = def.Name
	}

	def.Fields, err = parseFields(v)
	if err != nil {
		return nil, err
	}

	def.PrimaryKey, err = optionalString(v, "primary_key")
	if err != nil {
		return nil, err
	}

	def.Unique, err = parseUnique(v)
	if err != nil {
		return nil, err
	}

	def.Combined, err = parseCombined(v)
	if err != nil {
		return nil, err
	}

	def.Extends, err = parseExtends(v)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// parseFields reads the field map in declaration order.
func parseFields(v cue.Value) ([]schema.Field, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{Field: "fields", Message: "fields are required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []schema.Field
	for iter.Next() {
		name := iter.Label()
		tag, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   "fields." + name,
				Message: "field type must be a string tag",
				Pos:     iter.Value().Pos(),
			}
		}
		ft, err := schema.ParseFieldType(tag)
		if err != nil {
			return nil, &CompileError{
				Field:   "fields." + name,
				Message: fmt.Sprintf("unknown field type %q", tag),
				Pos:     iter.Value().Pos(),
			}
		}
		fields = append(fields, schema.Field{Name: name, Type: ft})
	}
	if len(fields) == 0 {
		return nil, &CompileError{Field: "fields", Message: "at least one field is required", Pos: fieldsVal.Pos()}
	}
	return fields, nil
}

// parseUnique accepts a single field name or a list of them.
func parseUnique(v cue.Value) ([]string, error) {
	uv := v.LookupPath(cue.ParsePath("unique"))
	if !uv.Exists() {
		return nil, nil
	}
	if s, err := uv.String(); err == nil {
		return []string{s}, nil
	}
	out, err := stringList(uv, "unique")
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseCombined(v cue.Value) ([][]string, error) {
	cv := v.LookupPath(cue.ParsePath("combined"))
	if !cv.Exists() {
		return nil, nil
	}
	iter, err := cv.List()
	if err != nil {
		return nil, &CompileError{Field: "combined", Message: "must be a list of field lists", Pos: cv.Pos()}
	}
	var out [][]string
	for iter.Next() {
		group, err := stringList(iter.Value(), "combined")
		if err != nil {
			return nil, err
		}
		if len(group) == 0 {
			return nil, &CompileError{Field: "combined", Message: "index without fields", Pos: iter.Value().Pos()}
		}
		out = append(out, group)
	}
	return out, nil
}

func parseExtends(v cue.Value) (*ExtendsDef, error) {
	ev := v.LookupPath(cue.ParsePath("extends"))
	if !ev.Exists() {
		return nil, nil
	}
	parent, err := optionalString(ev, "model")
	if err != nil {
		return nil, err
	}
	fk, err := optionalString(ev, "foreign_key")
	if err != nil {
		return nil, err
	}
	if parent == "" || fk == "" {
		return nil, &CompileError{
			Field:   "extends",
			Message: "model and foreign_key are required",
			Pos:     ev.Pos(),
		}
	}
	return &ExtendsDef{Model: parent, ForeignKey: fk}, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", &CompileError{Field: path, Message: "must be a string", Pos: sv.Pos()}
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a field name or a list of field names", Pos: v.Pos()}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "field names must be strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
