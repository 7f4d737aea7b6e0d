package document

import (
	"context"
	"fmt"

	"camo/internal/domain/repositories"
)

// CreateIndexes declares a unique index for every unique field. It talks to
// the backend once per type and registry; the type is only marked indexed
// after every request succeeded, so a failed call is retried next time.
func (t *Type) CreateIndexes(ctx context.Context) error {
	if t.embedded {
		return nil
	}

	r := t.registry
	r.mu.RLock()
	done := r.indexed[t.name]
	r.mu.RUnlock()
	if done {
		return nil
	}

	err := r.dispatch(ctx, OperationIndex, t, func(ctx context.Context) error {
		for _, f := range t.schema.fields {
			if !f.Unique {
				continue
			}
			if err := r.backend.CreateIndex(ctx, t.CollectionName(), f.Name, repositories.IndexOptions{Unique: true}); err != nil {
				return fmt.Errorf("create index %s.%s: %w", t.CollectionName(), f.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.indexed[t.name] = true
	r.mu.Unlock()
	return nil
}

// CreateIndexes runs CreateIndexes for every registered document type.
func (r *Registry) CreateIndexes(ctx context.Context) error {
	for _, t := range r.Types() {
		if err := t.CreateIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}
