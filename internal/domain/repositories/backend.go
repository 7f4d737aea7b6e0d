package repositories

import "context"

// Query is an opaque filter passed through to the storage backend.
// Keys are field names ("_id" for the identifier) or backend operators ("$and", "$or").
type Query map[string]any

// Record is a storage-ready document: plain values keyed by field name.
type Record map[string]any

// IDField is the reserved identifier key in queries and records.
const IDField = "_id"

// Sort orders results by a field: 1 ascending, -1 descending.
type Sort struct {
	Field string
	Order int
}

// FindOptions controls multi-record reads.
type FindOptions struct {
	Sort  []Sort
	Skip  int64
	Limit int64 // 0 = no limit
}

// UpdateOptions controls FindOneAndUpdate.
type UpdateOptions struct {
	Upsert bool // insert when nothing matches
}

// IndexOptions controls CreateIndex.
type IndexOptions struct {
	Unique bool
}

// Backend is the storage contract consumed by the document engine.
// Implementations own atomicity: unique indexes and last-write-wins semantics.
type Backend interface {
	// IsNativeID reports whether v is an identifier in this backend's native form
	IsNativeID(v any) bool

	// Save inserts (id == nil) or replaces the record and returns its identifier
	Save(ctx context.Context, collection string, id any, record Record) (any, error)

	// Delete removes the record with the given identifier and returns the number removed
	Delete(ctx context.Context, collection string, id any) (int64, error)

	// DeleteOne removes the first record matching query
	DeleteOne(ctx context.Context, collection string, query Query) (int64, error)

	// DeleteMany removes every record matching query
	DeleteMany(ctx context.Context, collection string, query Query) (int64, error)

	// FindOne returns the first matching record, or nil when none matches
	FindOne(ctx context.Context, collection string, query Query) (Record, error)

	// Find returns every matching record (never nil on success)
	Find(ctx context.Context, collection string, query Query, opts FindOptions) ([]Record, error)

	// FindOneAndUpdate applies values to the first match and returns the updated record,
	// or nil when nothing matched and no upsert happened
	FindOneAndUpdate(ctx context.Context, collection string, query Query, values Record, opts UpdateOptions) (Record, error)

	// FindOneAndDelete removes the first match and returns it, or nil when none matched
	FindOneAndDelete(ctx context.Context, collection string, query Query) (Record, error)

	// Count returns the number of matching records
	Count(ctx context.Context, collection string, query Query) (int64, error)

	// CreateIndex declares an index on field; repeated declarations must be harmless
	CreateIndex(ctx context.Context, collection string, field string, opts IndexOptions) error

	// ClearCollection removes every record of the collection
	ClearCollection(ctx context.Context, collection string) error
}

// IDParser is implemented by backends whose identifiers are not plain strings,
// so that identifiers arriving as text (URLs, JSON) can be converted.
type IDParser interface {
	ParseID(s string) (any, error)
}
