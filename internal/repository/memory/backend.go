package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"camo/internal/domain"
	"camo/internal/domain/repositories"

	"github.com/google/uuid"
)

// Backend is an in-process storage backend. Records are deep-copied on the way
// in and out, so callers never share memory with the store.
type Backend struct {
	mu          sync.RWMutex
	collections map[string]*collection
	newID       func() string
}

type collection struct {
	order   []string
	records map[string]repositories.Record
	unique  map[string]bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithIDGenerator replaces the uuid identifier generator.
func WithIDGenerator(fn func() string) Option {
	return func(b *Backend) { b.newID = fn }
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		collections: make(map[string]*collection),
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Sequence returns an identifier generator producing prefix1, prefix2, ...
func Sequence(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

var _ repositories.Backend = (*Backend)(nil)

// peek returns the collection without creating it; callers may hold only the read lock.
func (b *Backend) peek(name string) *collection {
	if c, ok := b.collections[name]; ok {
		return c
	}
	return &collection{records: map[string]repositories.Record{}, unique: map[string]bool{}}
}

func (b *Backend) coll(name string) *collection {
	c, ok := b.collections[name]
	if !ok {
		c = &collection{
			records: make(map[string]repositories.Record),
			unique:  make(map[string]bool),
		}
		b.collections[name] = c
	}
	return c
}

// IsNativeID accepts any non-empty string.
func (b *Backend) IsNativeID(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

// ParseID returns s unchanged; identifiers are plain strings.
func (b *Backend) ParseID(s string) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("empty identifier: %w", domain.ErrInvalidArgument)
	}
	return s, nil
}

func (b *Backend) key(id any) (string, error) {
	s, ok := id.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("identifier %v (%T) is not a string: %w", id, id, domain.ErrInvalidArgument)
	}
	return s, nil
}

// Save inserts or replaces a record.
func (b *Backend) Save(ctx context.Context, name string, id any, record repositories.Record) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.coll(name)
	var key string
	if id == nil {
		key = b.newID()
	} else {
		var err error
		if key, err = b.key(id); err != nil {
			return nil, err
		}
	}

	stored := repositories.CloneRecord(record)
	stored[repositories.IDField] = key
	if err := c.checkUnique(name, key, stored); err != nil {
		return nil, err
	}
	c.put(key, stored)
	return key, nil
}

// Delete removes a record by identifier.
func (b *Backend) Delete(ctx context.Context, name string, id any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key, err := b.key(id)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.coll(name)
	if _, ok := c.records[key]; !ok {
		return 0, nil
	}
	c.remove(key)
	return 1, nil
}

// DeleteOne removes the first match.
func (b *Backend) DeleteOne(ctx context.Context, name string, query repositories.Query) (int64, error) {
	return b.deleteMatching(ctx, name, query, 1)
}

// DeleteMany removes every match.
func (b *Backend) DeleteMany(ctx context.Context, name string, query repositories.Query) (int64, error) {
	return b.deleteMatching(ctx, name, query, 0)
}

func (b *Backend) deleteMatching(ctx context.Context, name string, query repositories.Query, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.coll(name)
	keys, err := c.match(query, limit)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		c.remove(key)
	}
	return int64(len(keys)), nil
}

// FindOne returns the first match in insertion order.
func (b *Backend) FindOne(ctx context.Context, name string, query repositories.Query) (repositories.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	c := b.peek(name)
	keys, err := c.match(query, 1)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	return repositories.CloneRecord(c.records[keys[0]]), nil
}

// Find returns every match, sorted, skipped and limited as requested.
func (b *Backend) Find(ctx context.Context, name string, query repositories.Query, opts repositories.FindOptions) ([]repositories.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	c := b.peek(name)
	keys, err := c.match(query, 0)
	if err != nil {
		return nil, err
	}

	records := make([]repositories.Record, 0, len(keys))
	for _, key := range keys {
		records = append(records, c.records[key])
	}
	if len(opts.Sort) > 0 {
		sort.SliceStable(records, func(i, j int) bool {
			for _, s := range opts.Sort {
				cmp := compareValues(lookup(records[i], s.Field), lookup(records[j], s.Field))
				if cmp == 0 {
					continue
				}
				if s.Order < 0 {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= int64(len(records)) {
			records = records[:0]
		} else {
			records = records[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < int64(len(records)) {
		records = records[:opts.Limit]
	}

	out := make([]repositories.Record, len(records))
	for i, r := range records {
		out[i] = repositories.CloneRecord(r)
	}
	return out, nil
}

// FindOneAndUpdate applies values to the first match. Plain keys replace field
// values; "$set", "$unset" and "$inc" behave like their document-store
// namesakes.
func (b *Backend) FindOneAndUpdate(ctx context.Context, name string, query repositories.Query, values repositories.Record, opts repositories.UpdateOptions) (repositories.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.coll(name)
	keys, err := c.match(query, 1)
	if err != nil {
		return nil, err
	}

	var key string
	var current repositories.Record
	switch {
	case len(keys) == 1:
		key = keys[0]
		current = repositories.CloneRecord(c.records[key])
	case opts.Upsert:
		current = repositories.SeedFromQuery(query)
		if id, ok := current[repositories.IDField].(string); ok && id != "" {
			key = id
		} else {
			key = b.newID()
		}
		current[repositories.IDField] = key
	default:
		return nil, nil
	}

	updated, err := repositories.ApplyUpdate(current, values)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", name, err)
	}
	updated[repositories.IDField] = key
	if err := c.checkUnique(name, key, updated); err != nil {
		return nil, err
	}
	c.put(key, updated)
	return repositories.CloneRecord(updated), nil
}

// FindOneAndDelete removes the first match and returns it.
func (b *Backend) FindOneAndDelete(ctx context.Context, name string, query repositories.Query) (repositories.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.coll(name)
	keys, err := c.match(query, 1)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	removed := c.records[keys[0]]
	c.remove(keys[0])
	return removed, nil
}

// Count returns the number of matches.
func (b *Backend) Count(ctx context.Context, name string, query repositories.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	keys, err := b.peek(name).match(query, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// CreateIndex records a unique constraint. Non-unique indexes are no-ops.
// Declaring a unique index over data that already holds duplicates fails.
func (b *Backend) CreateIndex(ctx context.Context, name string, field string, opts repositories.IndexOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !opts.Unique {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.coll(name)
	if c.unique[field] {
		return nil
	}
	for i, a := range c.order {
		for _, other := range c.order[i+1:] {
			va, vb := lookup(c.records[a], field), lookup(c.records[other], field)
			if va != nil && equalValues(va, vb) {
				return &domain.ConflictError{
					Message:      fmt.Sprintf("cannot create unique index on %s.%s: duplicate value %v", name, field, va),
					ResourceType: name,
					ResourceID:   other,
				}
			}
		}
	}
	c.unique[field] = true
	return nil
}

// ClearCollection drops every record but keeps index declarations.
func (b *Backend) ClearCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.coll(name)
	c.order = nil
	c.records = make(map[string]repositories.Record)
	return nil
}

func (c *collection) put(key string, record repositories.Record) {
	if _, exists := c.records[key]; !exists {
		c.order = append(c.order, key)
	}
	c.records[key] = record
}

func (c *collection) remove(key string) {
	delete(c.records, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// match returns the keys of matching records in insertion order; limit 0 means all.
func (c *collection) match(query repositories.Query, limit int) ([]string, error) {
	var keys []string
	for _, key := range c.order {
		ok, err := matches(c.records[key], map[string]any(query))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		keys = append(keys, key)
		if limit > 0 && len(keys) == limit {
			break
		}
	}
	return keys, nil
}

func (c *collection) checkUnique(name, key string, record repositories.Record) error {
	for field := range c.unique {
		v := lookup(record, field)
		if v == nil {
			continue
		}
		for _, other := range c.order {
			if other == key {
				continue
			}
			if equalValues(v, lookup(c.records[other], field)) {
				return &domain.ConflictError{
					Message:      fmt.Sprintf("duplicate value %v for unique field %s.%s", v, name, field),
					ResourceType: name,
					ResourceID:   other,
				}
			}
		}
	}
	return nil
}
