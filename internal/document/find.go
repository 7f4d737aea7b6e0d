package document

import (
	"context"
	"fmt"

	"camo/internal/domain/repositories"
)

// FindOption configures the find family of verbs.
type FindOption func(*findOptions)

type findOptions struct {
	populate PopulateSpec
	sort     []repositories.Sort
	skip     int64
	limit    int64
	upsert   bool
}

func newFindOptions(opts []FindOption) findOptions {
	o := findOptions{populate: PopulateAll}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPopulate selects the reference fields resolved after the fetch.
// Every reference is populated when the option is absent.
func WithPopulate(spec PopulateSpec) FindOption {
	return func(o *findOptions) { o.populate = spec }
}

// WithoutPopulate leaves references as raw identifiers.
func WithoutPopulate() FindOption {
	return WithPopulate(PopulateNone)
}

// WithSort orders Find results; order is 1 for ascending and -1 for descending.
func WithSort(field string, order int) FindOption {
	return func(o *findOptions) {
		o.sort = append(o.sort, repositories.Sort{Field: field, Order: order})
	}
}

// WithLimit caps the number of Find results.
func WithLimit(n int64) FindOption {
	return func(o *findOptions) { o.limit = n }
}

// WithSkip skips the first n Find results.
func WithSkip(n int64) FindOption {
	return func(o *findOptions) { o.skip = n }
}

// WithUpsert makes the update verbs insert when nothing matches.
func WithUpsert() FindOption {
	return func(o *findOptions) { o.upsert = true }
}

func (t *Type) preFetch(ctx context.Context, query repositories.Query) error {
	return runStage(ctx, HookEvent{Stage: PreFetch, Type: t, Query: query}, t.hooks.list(PreFetch))
}

// idQuery builds an identifier filter, converting textual ids the backend
// does not accept as-is.
func (t *Type) idQuery(id any) repositories.Query {
	if s, ok := id.(string); ok && !t.registry.backend.IsNativeID(s) {
		if parsed, err := t.registry.ParseID(s); err == nil {
			id = parsed
		}
	}
	return repositories.Query{repositories.IDField: id}
}

// fetchOne runs preFetch, the backend call, re-hydration and population.
func (t *Type) fetchOne(ctx context.Context, op Operation, query repositories.Query, o findOptions,
	exec func(ctx context.Context) (repositories.Record, error)) (*Document, error) {
	if t.embedded {
		return nil, ErrEmbedded
	}

	var doc *Document
	err := t.registry.dispatch(ctx, op, t, func(ctx context.Context) error {
		if err := t.preFetch(ctx, query); err != nil {
			return err
		}

		record, err := exec(ctx)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, t.name, err)
		}
		if record == nil {
			return nil
		}

		doc = t.FromData(record)
		return t.Populate(ctx, o.populate, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FindOne returns the first document matching query, or nil.
func (t *Type) FindOne(ctx context.Context, query repositories.Query, opts ...FindOption) (*Document, error) {
	if query == nil {
		query = repositories.Query{}
	}
	o := newFindOptions(opts)
	return t.fetchOne(ctx, OperationFind, query, o, func(ctx context.Context) (repositories.Record, error) {
		return t.registry.backend.FindOne(ctx, t.CollectionName(), query)
	})
}

// FindByID returns the document with the given identifier, or nil.
func (t *Type) FindByID(ctx context.Context, id any, opts ...FindOption) (*Document, error) {
	if id == nil {
		return nil, &ArgumentError{Verb: "FindByID", Missing: "id"}
	}
	return t.FindOne(ctx, t.idQuery(id), opts...)
}

// Find returns every document matching query. The slice is empty, not nil,
// when nothing matches.
func (t *Type) Find(ctx context.Context, query repositories.Query, opts ...FindOption) ([]*Document, error) {
	if t.embedded {
		return nil, ErrEmbedded
	}
	if query == nil {
		query = repositories.Query{}
	}
	o := newFindOptions(opts)

	docs := []*Document{}
	err := t.registry.dispatch(ctx, OperationFind, t, func(ctx context.Context) error {
		if err := t.preFetch(ctx, query); err != nil {
			return err
		}

		records, err := t.registry.backend.Find(ctx, t.CollectionName(), query, repositories.FindOptions{
			Sort:  o.sort,
			Skip:  o.skip,
			Limit: o.limit,
		})
		if err != nil {
			return fmt.Errorf("find %s: %w", t.name, err)
		}

		for _, record := range records {
			docs = append(docs, t.FromData(record))
		}
		return t.Populate(ctx, o.populate, docs...)
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// FindOneAndUpdate applies values to the first document matching query and
// returns the updated document, or nil when nothing matched. Values are
// formatted with the type's opts and references in them are flattened.
func (t *Type) FindOneAndUpdate(ctx context.Context, query repositories.Query, values map[string]any, opts ...FindOption) (*Document, error) {
	if query == nil {
		return nil, &ArgumentError{Verb: "FindOneAndUpdate", Missing: "query"}
	}
	if values == nil {
		return nil, &ArgumentError{Verb: "FindOneAndUpdate", Missing: "values"}
	}

	update, err := t.prepareUpdate(values)
	if err != nil {
		return nil, err
	}

	o := newFindOptions(opts)
	return t.fetchOne(ctx, OperationUpdate, query, o, func(ctx context.Context) (repositories.Record, error) {
		return t.registry.backend.FindOneAndUpdate(ctx, t.CollectionName(), query, update,
			repositories.UpdateOptions{Upsert: o.upsert})
	})
}

// FindByIDAndUpdate is FindOneAndUpdate on an identifier.
func (t *Type) FindByIDAndUpdate(ctx context.Context, id any, values map[string]any, opts ...FindOption) (*Document, error) {
	if id == nil {
		return nil, &ArgumentError{Verb: "FindByIDAndUpdate", Missing: "id"}
	}
	if values == nil {
		return nil, &ArgumentError{Verb: "FindByIDAndUpdate", Missing: "values"}
	}
	return t.FindOneAndUpdate(ctx, t.idQuery(id), values, opts...)
}

// FindOneAndDelete removes the first document matching query and returns it,
// or nil when nothing matched.
func (t *Type) FindOneAndDelete(ctx context.Context, query repositories.Query, opts ...FindOption) (*Document, error) {
	if query == nil {
		return nil, &ArgumentError{Verb: "FindOneAndDelete", Missing: "query"}
	}
	o := newFindOptions(opts)
	return t.fetchOne(ctx, OperationRemove, query, o, func(ctx context.Context) (repositories.Record, error) {
		return t.registry.backend.FindOneAndDelete(ctx, t.CollectionName(), query)
	})
}

// FindByIDAndRemove is FindOneAndDelete on an identifier.
func (t *Type) FindByIDAndRemove(ctx context.Context, id any, opts ...FindOption) (*Document, error) {
	if id == nil {
		return nil, &ArgumentError{Verb: "FindByIDAndRemove", Missing: "id"}
	}
	return t.FindOneAndDelete(ctx, t.idQuery(id), opts...)
}

// prepareUpdate formats and flattens an update payload, including "$set".
func (t *Type) prepareUpdate(values map[string]any) (repositories.Record, error) {
	formatted := t.formatUpdate(values)
	update := make(repositories.Record, len(formatted))
	for k, v := range formatted {
		if set, ok := repositories.AsMap(v); ok && k == "$set" {
			flat, err := t.prepareUpdate(set)
			if err != nil {
				return nil, err
			}
			update[k] = map[string]any(flat)
			continue
		}

		f, ok := t.schema.Field(k)
		if !ok {
			update[k] = v
			continue
		}
		if cv, err := canonicalField(t.registry, f, v); err == nil {
			v = cv
		}
		fv, err := flattenValue(f, v)
		if err != nil {
			return nil, err
		}
		update[k] = fv
	}
	return update, nil
}

// DeleteOne removes the first document matching query without running hooks.
func (t *Type) DeleteOne(ctx context.Context, query repositories.Query) (int64, error) {
	return t.deleteWhere(ctx, query, t.registry.backend.DeleteOne)
}

// DeleteMany removes every document matching query without running hooks.
// A nil query matches everything.
func (t *Type) DeleteMany(ctx context.Context, query repositories.Query) (int64, error) {
	return t.deleteWhere(ctx, query, t.registry.backend.DeleteMany)
}

func (t *Type) deleteWhere(ctx context.Context, query repositories.Query,
	exec func(context.Context, string, repositories.Query) (int64, error)) (int64, error) {
	if t.embedded {
		return 0, ErrEmbedded
	}
	if query == nil {
		query = repositories.Query{}
	}

	var n int64
	err := t.registry.dispatch(ctx, OperationDelete, t, func(ctx context.Context) error {
		var err error
		n, err = exec(ctx, t.CollectionName(), query)
		if err != nil {
			return fmt.Errorf("delete %s: %w", t.name, err)
		}
		return nil
	})
	return n, err
}

// Count returns the number of documents matching query.
func (t *Type) Count(ctx context.Context, query repositories.Query) (int64, error) {
	if t.embedded {
		return 0, ErrEmbedded
	}
	if query == nil {
		query = repositories.Query{}
	}

	var n int64
	err := t.registry.dispatch(ctx, OperationCount, t, func(ctx context.Context) error {
		var err error
		n, err = t.registry.backend.Count(ctx, t.CollectionName(), query)
		if err != nil {
			return fmt.Errorf("count %s: %w", t.name, err)
		}
		return nil
	})
	return n, err
}

// ClearCollection removes every document of the type.
func (t *Type) ClearCollection(ctx context.Context) error {
	if t.embedded {
		return ErrEmbedded
	}
	return t.registry.dispatch(ctx, OperationClear, t, func(ctx context.Context) error {
		if err := t.registry.backend.ClearCollection(ctx, t.CollectionName()); err != nil {
			return fmt.Errorf("clear %s: %w", t.name, err)
		}
		return nil
	})
}

// LoadOne forwards to FindOne.
//
// Deprecated: use FindOne.
func (t *Type) LoadOne(ctx context.Context, query repositories.Query, opts ...FindOption) (*Document, error) {
	t.registry.deprecate("LoadOne is deprecated, use FindOne instead")
	return t.FindOne(ctx, query, opts...)
}

// LoadMany forwards to Find.
//
// Deprecated: use Find.
func (t *Type) LoadMany(ctx context.Context, query repositories.Query, opts ...FindOption) ([]*Document, error) {
	t.registry.deprecate("LoadMany is deprecated, use Find instead")
	return t.Find(ctx, query, opts...)
}

// LoadOneAndUpdate forwards to FindOneAndUpdate.
//
// Deprecated: use FindOneAndUpdate.
func (t *Type) LoadOneAndUpdate(ctx context.Context, query repositories.Query, values map[string]any, opts ...FindOption) (*Document, error) {
	t.registry.deprecate("LoadOneAndUpdate is deprecated, use FindOneAndUpdate instead")
	return t.FindOneAndUpdate(ctx, query, values, opts...)
}

// LoadOneAndDelete forwards to FindOneAndDelete.
//
// Deprecated: use FindOneAndDelete.
func (t *Type) LoadOneAndDelete(ctx context.Context, query repositories.Query, opts ...FindOption) (*Document, error) {
	t.registry.deprecate("LoadOneAndDelete is deprecated, use FindOneAndDelete instead")
	return t.FindOneAndDelete(ctx, query, opts...)
}
