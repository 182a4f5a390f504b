package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/uql/internal/dberr"
	"github.com/roach88/uql/internal/document"
	"github.com/roach88/uql/internal/relational"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Model     string
	Backend   string // "sql" | "document"
	Op        string
	Query     string
	QueryFile string
	Data      string
	DataFile  string
}

// CompilationResult is the JSON form of a compiled statement. Exactly one
// of Statement and Command is set.
type CompilationResult struct {
	Model     string          `json:"model"`
	Backend   string          `json:"backend"`
	Op        string          `json:"op"`
	Statement string          `json:"statement,omitempty"`
	Command   json.RawMessage `json:"command,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <models-dir>",
		Short: "Print the statement a UQL query compiles to",
		Long: `Compile one UQL operation against a model and print the result
without touching a database: SQL text for the sql backend, or the
filter, sort, update and options of a document command.

Queries and data are YAML or JSON, inline or read from a file.

Examples:
  uql compile ./models --model users --op find --query '{where: {age: {$gt: 30}}, limit: 10}'
  uql compile ./models --model employees --backend document --op update \
      --query '{where: {name: Ann}}' --data '{salary: 100}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Model, "model", "", "model name (required)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "sql", "target backend (sql|document)")
	cmd.Flags().StringVar(&opts.Op, "op", "find", "operation (find|count|insert|update|remove|upsert)")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "inline query document")
	cmd.Flags().StringVar(&opts.QueryFile, "query-file", "", "read the query from a file")
	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "inline data payload")
	cmd.Flags().StringVar(&opts.DataFile, "data-file", "", "read the data payload from a file")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func runCompile(opts *CompileOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	compiler, err := backendCompiler(opts.Backend)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadFlag, err.Error(), nil)
	}
	op, err := transpile.ParseOperation(opts.Op)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadFlag, err.Error(), nil)
	}

	m, err := loadModel(formatter, modelsDir, opts.Model)
	if err != nil {
		return err
	}
	q, data, err := readInput(opts.Query, opts.QueryFile, opts.Data, opts.DataFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadInput, err.Error(), nil)
	}

	art, err := compileArtifact(compiler, op, m, q, data)
	if err != nil {
		return formatter.Fail(ExitFailure, rejectionCode(err), err.Error(), nil)
	}
	formatter.VerboseLog("Compiled %s on %s for %s", op, m.Collection(), compiler.Backend())

	result := CompilationResult{Model: opts.Model, Backend: opts.Backend, Op: string(op)}
	switch a := art.(type) {
	case *relational.Statement:
		result.Statement = a.String()
		if formatter.Format != "json" {
			return formatter.Success(a.String())
		}
	default:
		doc, err := renderDocument(art)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
		}
		result.Command = doc
		if formatter.Format != "json" {
			return formatter.Success(string(doc))
		}
	}
	return formatter.Success(result)
}

func backendCompiler(name string) (transpile.Compiler, error) {
	switch name {
	case "sql", "relational":
		return relational.NewCompiler(), nil
	case "document", "mongodb":
		return document.NewCompiler(), nil
	}
	return nil, fmt.Errorf("unknown backend %q: must be sql or document", name)
}

// loadModel loads the models directory and returns the named model. Load
// and lookup failures are written through formatter.
func loadModel(formatter *OutputFormatter, modelsDir, name string) (*schema.Model, error) {
	result, loadErrs := LoadModels(modelsDir, LoadModeFailFast)
	if result == nil {
		return nil, failLoad(formatter, loadErrs)
	}
	if len(loadErrs) > 0 {
		ve := toValidationError(loadErrs[0])
		return nil, formatter.Fail(ExitFailure, ve.Code, ve.Error(), nil)
	}
	formatter.VerboseLog("Loaded %d model(s) from %s", len(result.Registry.Names()), modelsDir)

	m, err := result.Registry.MustGet(name)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeBadFlag, err.Error(), nil)
	}
	return m, nil
}

// readInput parses the query and data flags. Inline values win over
// files; an absent query yields nil.
func readInput(query, queryFile, data, dataFile string) (*uql.Query, uql.Record, error) {
	qsrc, err := inlineOrFile(query, queryFile)
	if err != nil {
		return nil, nil, err
	}
	var q *uql.Query
	if qsrc != nil {
		if q, err = uql.Parse(qsrc); err != nil {
			return nil, nil, err
		}
	}

	dsrc, err := inlineOrFile(data, dataFile)
	if err != nil {
		return nil, nil, err
	}
	var rec uql.Record
	if dsrc != nil {
		if rec, err = uql.ParseRecord(dsrc); err != nil {
			return nil, nil, err
		}
	}
	return q, rec, nil
}

func inlineOrFile(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return b, nil
}

// compileArtifact normalizes q and data for m and compiles them.
func compileArtifact(c transpile.Compiler, op transpile.Operation, m *schema.Model, q *uql.Query, data uql.Record) (transpile.Artifact, error) {
	nq, err := uql.Normalize(m, q)
	if err != nil {
		return nil, err
	}
	var rec uql.Record
	switch op {
	case transpile.Insert, transpile.Update, transpile.Upsert:
		if rec, err = uql.NormalizeRecord(m, data); err != nil {
			return nil, err
		}
	}
	return c.Compile(op, m, nq, rec)
}

// rejectionCode reports the dberr code of err, falling back to
// ErrCodeRejected.
func rejectionCode(err error) string {
	if code := dberr.CodeOf(err); code != "" {
		return string(code)
	}
	return ErrCodeRejected
}

// renderDocument renders a document artifact as relaxed extended JSON.
func renderDocument(art transpile.Artifact) (json.RawMessage, error) {
	var doc bson.D
	switch a := art.(type) {
	case *document.Command:
		doc = commandDoc(a)
	case *document.Split:
		doc = bson.D{
			{Key: "parent", Value: commandDoc(a.Parent)},
			{Key: "extended", Value: commandDoc(a.Extended)},
		}
		if len(a.Order) > 0 {
			order := bson.D{}
			for _, o := range a.Order {
				order = append(order, bson.E{Key: o.Field, Value: string(o.Direction)})
			}
			doc = append(doc, bson.E{Key: "order", Value: order})
		}
		doc = append(doc, bson.E{Key: "page", Value: optionsDoc(a.Page)})
	default:
		return nil, fmt.Errorf("unexpected artifact %T", art)
	}
	b, err := bson.MarshalExtJSONIndent(doc, false, false, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering command: %w", err)
	}
	return json.RawMessage(b), nil
}

func commandDoc(c *document.Command) bson.D {
	if c == nil {
		return nil
	}
	sort := c.Sort
	if sort == nil {
		sort = bson.D{}
	}
	doc := bson.D{
		{Key: "op", Value: string(c.Op)},
		{Key: "collection", Value: c.Collection},
		{Key: "query", Value: nonNil(c.Query)},
		{Key: "sort", Value: sort},
	}
	if c.Update != nil {
		doc = append(doc, bson.E{Key: "update", Value: c.Update})
	}
	if c.Document != nil {
		doc = append(doc, bson.E{Key: "document", Value: c.Document})
	}
	return append(doc, bson.E{Key: "options", Value: optionsDoc(c.Options)})
}

func optionsDoc(o document.Options) bson.D {
	doc := bson.D{}
	if o.Limit != nil {
		doc = append(doc, bson.E{Key: "limit", Value: *o.Limit})
	}
	if o.Skip > 0 {
		doc = append(doc, bson.E{Key: "skip", Value: o.Skip})
	}
	if o.Multi {
		doc = append(doc, bson.E{Key: "multi", Value: true})
	}
	if o.Upsert {
		doc = append(doc, bson.E{Key: "upsert", Value: true})
	}
	return doc
}

func nonNil(m bson.M) bson.M {
	if m == nil {
		return bson.M{}
	}
	return m
}
