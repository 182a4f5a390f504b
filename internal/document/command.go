// Package document compiles UQL into MongoDB-style commands: a filter
// document, a sort specification, an update document and options.
//
// Commands are plain bson values. Executing them is the job of an
// Executor (see package mongostore); extended models compile to a Split
// whose two halves the caller runs and merges.
package document

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/uql/internal/transpile"
	"github.com/roach88/uql/internal/uql"
)

// Options carries the per-command flags.
type Options struct {
	// Multi applies an update or remove to every match.
	Multi bool
	// Upsert inserts when nothing matches.
	Upsert bool
	// Limit caps the result set. A non-nil limit of zero or less means no
	// results; executors must not send it, since the server reads 0 as
	// "no limit".
	Limit *int64
	// Skip drops the first matches.
	Skip int64
}

// Command is one compiled document-store request against a collection.
type Command struct {
	Op         transpile.Operation
	Collection string

	Query    bson.M
	Sort     bson.D
	Update   bson.M
	Document bson.M
	Options  Options
}

// Backend implements transpile.Artifact.
func (*Command) Backend() transpile.Backend { return transpile.Document }

// NoResults reports whether the command's limit rules out any match.
func (c *Command) NoResults() bool {
	return c.Options.Limit != nil && *c.Options.Limit <= 0
}

// Split is the artifact for an extended model: one command per
// collection. Parent carries the conditions and data the parent model
// knows; Extended carries the child's.
//
// Sort and pagination are carried on Extended only when every order key
// belongs to the child. Otherwise Order and Page are set and the caller
// orders and pages the merged records itself.
type Split struct {
	Parent   *Command
	Extended *Command

	Order []uql.OrderBy
	Page  Options
}

// Backend implements transpile.Artifact.
func (*Split) Backend() transpile.Backend { return transpile.Document }

// Executor runs commands against a document store.
//
// Stream calls fn once per matched document in cursor order and returns
// when the cursor is exhausted; a non-nil error from fn stops iteration.
// WithTransaction runs fn inside one session transaction, committing when
// fn returns nil and aborting otherwise.
type Executor interface {
	Find(ctx context.Context, cmd *Command) ([]bson.M, error)
	Stream(ctx context.Context, cmd *Command, fn func(bson.M) error) error
	Count(ctx context.Context, cmd *Command) (int64, error)
	Insert(ctx context.Context, cmd *Command) (bson.M, error)
	Update(ctx context.Context, cmd *Command) (int64, error)
	Upsert(ctx context.Context, cmd *Command) (bson.M, error)
	Remove(ctx context.Context, cmd *Command) (int64, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
