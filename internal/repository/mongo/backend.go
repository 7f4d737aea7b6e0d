package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"camo/internal/domain"
	"camo/internal/domain/repositories"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// Connect opens a client and verifies the server is reachable
func Connect(ctx context.Context, uri string) (*driver.Client, error) {
	opts := mopt.Client().ApplyURI(uri)
	opts.SetConnectTimeout(10 * time.Second).SetServerSelectionTimeout(10 * time.Second)

	client, err := driver.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Backend stores documents in MongoDB collections. Queries are passed
// through unchanged, so every MongoDB operator is available.
type Backend struct {
	db     *driver.Database
	prefix string
	logger *slog.Logger
}

var _ repositories.Backend = (*Backend)(nil)

// NewBackend creates a backend over db. prefix is prepended to every collection name.
func NewBackend(db *driver.Database, prefix string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{db: db, prefix: prefix, logger: logger}
}

func (b *Backend) coll(collection string) *driver.Collection {
	return b.db.Collection(b.prefix + collection)
}

// IsNativeID accepts non-zero ObjectIDs
func (b *Backend) IsNativeID(v any) bool {
	id, ok := v.(primitive.ObjectID)
	return ok && !id.IsZero()
}

// ParseID parses a hex ObjectID
func (b *Backend) ParseID(s string) (any, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", s, domain.ErrInvalidArgument)
	}
	return id, nil
}

// Save inserts the record when id is nil, otherwise replaces (or creates) it
func (b *Backend) Save(ctx context.Context, collection string, id any, record repositories.Record) (any, error) {
	doc := toDocument(record)

	if id == nil {
		id = primitive.NewObjectID()
		doc[repositories.IDField] = id
		if _, err := b.coll(collection).InsertOne(ctx, doc); err != nil {
			return nil, mapWriteError(collection, "insert into", err)
		}
		return id, nil
	}

	doc[repositories.IDField] = id
	filter := bson.M{repositories.IDField: id}
	if _, err := b.coll(collection).ReplaceOne(ctx, filter, doc, mopt.Replace().SetUpsert(true)); err != nil {
		return nil, mapWriteError(collection, "replace in", err)
	}
	return id, nil
}

// Delete removes the document with the given id
func (b *Backend) Delete(ctx context.Context, collection string, id any) (int64, error) {
	res, err := b.coll(collection).DeleteOne(ctx, bson.M{repositories.IDField: id})
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// DeleteOne removes the first match
func (b *Backend) DeleteOne(ctx context.Context, collection string, query repositories.Query) (int64, error) {
	res, err := b.coll(collection).DeleteOne(ctx, toFilter(query))
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// DeleteMany removes every match
func (b *Backend) DeleteMany(ctx context.Context, collection string, query repositories.Query) (int64, error) {
	res, err := b.coll(collection).DeleteMany(ctx, toFilter(query))
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// FindOne returns the first match, or nil
func (b *Backend) FindOne(ctx context.Context, collection string, query repositories.Query) (repositories.Record, error) {
	var doc bson.M
	err := b.coll(collection).FindOne(ctx, toFilter(query)).Decode(&doc)
	if err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return toRecord(doc), nil
}

// Find returns every match
func (b *Backend) Find(ctx context.Context, collection string, query repositories.Query, opts repositories.FindOptions) ([]repositories.Record, error) {
	findOpts := mopt.Find()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(sortDoc(opts.Sort))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}

	cursor, err := b.coll(collection).Find(ctx, toFilter(query), findOpts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	records := []repositories.Record{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", collection, err)
		}
		records = append(records, toRecord(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return records, nil
}

// FindOneAndUpdate updates the first match and returns the document after the update
func (b *Backend) FindOneAndUpdate(ctx context.Context, collection string, query repositories.Query, values repositories.Record, opts repositories.UpdateOptions) (repositories.Record, error) {
	updateOpts := mopt.FindOneAndUpdate().
		SetReturnDocument(mopt.After).
		SetUpsert(opts.Upsert)

	var doc bson.M
	err := b.coll(collection).FindOneAndUpdate(ctx, toFilter(query), updateDoc(values), updateOpts).Decode(&doc)
	if err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, mapWriteError(collection, "update", err)
	}
	return toRecord(doc), nil
}

// FindOneAndDelete removes the first match and returns it
func (b *Backend) FindOneAndDelete(ctx context.Context, collection string, query repositories.Query) (repositories.Record, error) {
	var doc bson.M
	err := b.coll(collection).FindOneAndDelete(ctx, toFilter(query)).Decode(&doc)
	if err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return toRecord(doc), nil
}

// Count returns the number of matches
func (b *Backend) Count(ctx context.Context, collection string, query repositories.Query) (int64, error) {
	n, err := b.coll(collection).CountDocuments(ctx, toFilter(query))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// CreateIndex creates an ascending index on field. Creating an identical index again is a no-op.
func (b *Backend) CreateIndex(ctx context.Context, collection string, field string, opts repositories.IndexOptions) error {
	model := driver.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: mopt.Index().SetUnique(opts.Unique).SetSparse(opts.Unique),
	}
	name, err := b.coll(collection).Indexes().CreateOne(ctx, model)
	if err != nil {
		return mapWriteError(collection, "create index on", err)
	}
	b.logger.Debug("index ready", "collection", collection, "index", name)
	return nil
}

// ClearCollection removes every document of the collection
func (b *Backend) ClearCollection(ctx context.Context, collection string) error {
	if _, err := b.coll(collection).DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	return nil
}
