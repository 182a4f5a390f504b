// Package mongostore runs compiled document commands against MongoDB
// using the official driver.
//
// Store implements document.Executor. Results are returned as bson.M
// documents whose nested values are plain Go maps, slices and times, so
// they compare and merge like records from the other backends.
package mongostore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/roach88/uql/internal/document"
)

// Option configures Connect.
type Option func(*options.ClientOptions)

// WithTimeout sets the client's per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options.ClientOptions) { o.SetTimeout(d) }
}

// WithMaxPoolSize caps the driver's connection pool.
func WithMaxPoolSize(n uint64) Option {
	return func(o *options.ClientOptions) { o.SetMaxPoolSize(n) }
}

// Store executes document commands against one database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ document.Executor = (*Store)(nil)

// Connect dials uri, verifies the primary is reachable and returns a Store
// for the named database.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	clientOpts := options.Client().ApplyURI(uri)
	for _, opt := range opts {
		opt(clientOpts)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	slog.Debug("mongodb connected", "database", database)
	return New(client, database), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) collection(cmd *document.Command) *mongo.Collection {
	return s.db.Collection(cmd.Collection)
}

// Find implements document.Executor.
func (s *Store) Find(ctx context.Context, cmd *document.Command) ([]bson.M, error) {
	out := []bson.M{}
	err := s.Stream(ctx, cmd, func(doc bson.M) error {
		out = append(out, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream implements document.Executor.
func (s *Store) Stream(ctx context.Context, cmd *document.Command, fn func(bson.M) error) error {
	if cmd.NoResults() {
		return nil
	}
	cur, err := s.collection(cmd).Find(ctx, filter(cmd.Query), findOptions(cmd))
	if err != nil {
		return fmt.Errorf("find %s: %w", cmd.Collection, err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("find %s: decode: %w", cmd.Collection, err)
		}
		if err := fn(Plain(doc)); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("find %s: %w", cmd.Collection, err)
	}
	return nil
}

// findOptions maps sort and pagination onto the driver's options. A limit
// of zero or less never reaches the server, which would read it as no
// limit.
func findOptions(cmd *document.Command) *options.FindOptions {
	opts := options.Find()
	if len(cmd.Sort) > 0 {
		opts.SetSort(cmd.Sort)
	}
	if cmd.Options.Skip > 0 {
		opts.SetSkip(cmd.Options.Skip)
	}
	if l := cmd.Options.Limit; l != nil && *l > 0 {
		opts.SetLimit(*l)
	}
	return opts
}

// Count implements document.Executor.
func (s *Store) Count(ctx context.Context, cmd *document.Command) (int64, error) {
	n, err := s.collection(cmd).CountDocuments(ctx, filter(cmd.Query))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", cmd.Collection, err)
	}
	return n, nil
}

// Insert implements document.Executor. The returned document carries the
// server-assigned _id.
func (s *Store) Insert(ctx context.Context, cmd *document.Command) (bson.M, error) {
	doc := bson.M{}
	for k, v := range cmd.Document {
		doc[k] = v
	}
	res, err := s.collection(cmd).InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", cmd.Collection, err)
	}
	doc["_id"] = res.InsertedID
	return doc, nil
}

// Update implements document.Executor. It returns the number of matched
// documents.
func (s *Store) Update(ctx context.Context, cmd *document.Command) (int64, error) {
	if len(cmd.Update) == 0 {
		return 0, nil
	}
	coll := s.collection(cmd)
	var (
		res *mongo.UpdateResult
		err error
	)
	if cmd.Options.Multi {
		res, err = coll.UpdateMany(ctx, filter(cmd.Query), cmd.Update)
	} else {
		res, err = coll.UpdateOne(ctx, filter(cmd.Query), cmd.Update)
	}
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", cmd.Collection, err)
	}
	return res.MatchedCount, nil
}

// Upsert implements document.Executor. It returns the document as it is
// after the write.
func (s *Store) Upsert(ctx context.Context, cmd *document.Command) (bson.M, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var doc bson.M
	err := s.collection(cmd).FindOneAndUpdate(ctx, filter(cmd.Query), cmd.Update, opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", cmd.Collection, err)
	}
	return Plain(doc), nil
}

// Remove implements document.Executor.
func (s *Store) Remove(ctx context.Context, cmd *document.Command) (int64, error) {
	coll := s.collection(cmd)
	var (
		res *mongo.DeleteResult
		err error
	)
	if cmd.Options.Multi {
		res, err = coll.DeleteMany(ctx, filter(cmd.Query))
	} else {
		res, err = coll.DeleteOne(ctx, filter(cmd.Query))
	}
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", cmd.Collection, err)
	}
	return res.DeletedCount, nil
}

// WithTransaction implements document.Executor. It needs a replica set or
// sharded cluster; the driver retries transient transaction errors.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func filter(q bson.M) bson.M {
	if q == nil {
		return bson.M{}
	}
	return q
}
