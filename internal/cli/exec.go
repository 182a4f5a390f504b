package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/uql/internal/crud"
	"github.com/roach88/uql/internal/mongostore"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/store"
	"github.com/roach88/uql/internal/uql"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Driver    string
	DSN       string
	Database  string
	Model     string
	Op        string
	Query     string
	QueryFile string
	Data      string
	DataFile  string
	Migrate   bool
	Timeout   time.Duration
}

// ExecResult is the JSON form of an executed operation. Records is set for
// find, Record for findOne, insert and upsert, Count for count and
// Affected for update and remove.
type ExecResult struct {
	Model    string       `json:"model"`
	Op       string       `json:"op"`
	Records  []uql.Record `json:"records,omitempty"`
	Record   uql.Record   `json:"record,omitempty"`
	Count    *int64       `json:"count,omitempty"`
	Affected *int64       `json:"affected,omitempty"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <models-dir>",
		Short: "Run a UQL operation against a database",
		Long: `Run one UQL operation against sqlite, postgres or mongodb and print
the result as JSON. Record keys are camelCase.

Exit codes:
  0 - Operation succeeded
  1 - Operation rejected (bad input, constraint violation, not found)
  2 - Command error (invalid flags, unreachable database)

Examples:
  uql exec ./models --driver sqlite --dsn app.db --migrate --model users --op insert --data '{email: a@x}'
  uql exec ./models --driver postgres --dsn "$DATABASE_URL" --model users --op find --query '{where: {}}'
  uql exec ./models --driver mongodb --dsn mongodb://localhost:27017 --database app --model users --op count`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Driver, "driver", "sqlite", "database driver (sqlite|postgres|mongodb)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "data source name or connection URI (required)")
	cmd.Flags().StringVar(&opts.Database, "database", "", "database name (mongodb only)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model name (required)")
	cmd.Flags().StringVar(&opts.Op, "op", "find", "operation (find|findOne|count|insert|update|remove|upsert)")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "inline query document")
	cmd.Flags().StringVar(&opts.QueryFile, "query-file", "", "read the query from a file")
	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "inline data payload")
	cmd.Flags().StringVar(&opts.DataFile, "data-file", "", "read the data payload from a file")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "create missing tables before running (sql drivers)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "operation timeout")
	_ = cmd.MarkFlagRequired("dsn")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func runExec(opts *ExecOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if !validExecOp(opts.Op) {
		return formatter.Fail(ExitCommandError, ErrCodeBadFlag, fmt.Sprintf("unknown operation %q", opts.Op), nil)
	}
	m, err := loadModel(formatter, modelsDir, opts.Model)
	if err != nil {
		return err
	}
	q, data, err := readInput(opts.Query, opts.QueryFile, opts.Data, opts.DataFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadInput, err.Error(), nil)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	repo, closeFn, err := openRepository(ctx, opts, m)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	defer closeFn()
	formatter.VerboseLog("Connected to %s", opts.Driver)

	result, err := execute(ctx, repo, opts.Op, q, data)
	if err != nil {
		code := rejectionCode(err)
		if errors.Is(err, crud.ErrNotFound) {
			code = "NOT_FOUND"
		}
		var details any
		if store.IsUniqueViolation(err) {
			details = map[string]string{"constraint": "unique"}
		}
		return formatter.Fail(ExitFailure, code, err.Error(), details)
	}
	result.Model = opts.Model
	result.Op = opts.Op
	return formatter.Success(result)
}

func validExecOp(op string) bool {
	switch op {
	case "find", "findOne", "count", "insert", "update", "remove", "upsert":
		return true
	}
	return false
}

// openRepository connects to the database named by opts and returns a
// repository for m with a function releasing the connection.
func openRepository(ctx context.Context, opts *ExecOptions, m *schema.Model) (crud.Repository, func(), error) {
	if opts.Driver == "mongodb" || opts.Driver == "mongo" {
		if opts.Database == "" {
			return nil, nil, errors.New("--database is required for mongodb")
		}
		ms, err := mongostore.Connect(ctx, opts.DSN, opts.Database)
		if err != nil {
			return nil, nil, err
		}
		return crud.NewDocument(ms, m), func() { _ = ms.Close(context.Background()) }, nil
	}

	driver, err := store.ParseDriver(opts.Driver)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(driver, opts.DSN)
	if err != nil {
		return nil, nil, err
	}
	if opts.Migrate {
		if err := db.Migrate(ctx, migrationSet(m)...); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return crud.NewRelational(db, m), func() { _ = db.Close() }, nil
}

// migrationSet is m preceded by its parent, if any.
func migrationSet(m *schema.Model) []*schema.Model {
	if p := m.Parent(); p != nil {
		return []*schema.Model{p, m}
	}
	return []*schema.Model{m}
}

func execute(ctx context.Context, repo crud.Repository, op string, q *uql.Query, data uql.Record) (*ExecResult, error) {
	var res ExecResult
	switch op {
	case "find":
		recs, err := repo.Find(ctx, q)
		if err != nil {
			return nil, err
		}
		res.Records = recs
	case "findOne":
		rec, err := repo.FindOne(ctx, q)
		if err != nil {
			return nil, err
		}
		res.Record = rec
	case "count":
		n, err := repo.Count(ctx, q)
		if err != nil {
			return nil, err
		}
		res.Count = &n
	case "insert":
		rec, err := repo.Insert(ctx, data)
		if err != nil {
			return nil, err
		}
		res.Record = rec
	case "update":
		n, err := repo.Update(ctx, q, data)
		if err != nil {
			return nil, err
		}
		res.Affected = &n
	case "remove":
		n, err := repo.Remove(ctx, q)
		if err != nil {
			return nil, err
		}
		res.Affected = &n
	case "upsert":
		rec, err := repo.Upsert(ctx, q, data)
		if err != nil {
			return nil, err
		}
		res.Record = rec
	}
	return &res, nil
}
