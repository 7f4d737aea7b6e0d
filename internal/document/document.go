package document

import (
	"context"
	"fmt"
	"sync"
	"time"

	"camo/internal/domain"
	"camo/internal/domain/repositories"
)

// Document is an instance of a registered type. Values are keyed by declared
// field name; the identifier is nil until the first successful save and never
// changes afterwards.
type Document struct {
	typ        *Type
	id         any
	collection string
	hooks      hookRegistry
	timestamp  time.Time

	mu      sync.RWMutex
	values  map[string]any
	deleted bool
}

// ID returns the storage identifier, nil before the first save.
func (d *Document) ID() any { return d.id }

// Type returns the document's type.
func (d *Document) Type() *Type { return d.typ }

// CollectionName is the collection the document is stored in.
func (d *Document) CollectionName() string {
	if d.collection != "" {
		return d.collection
	}
	return d.typ.CollectionName()
}

// Timestamp is the creation time stamped by Type.Create.
func (d *Document) Timestamp() time.Time { return d.timestamp }

// IsDeleted reports whether Delete succeeded on this instance.
func (d *Document) IsDeleted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deleted
}

// Get returns a field value.
func (d *Document) Get(name string) any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.values[name]
}

// Set assigns a declared field. The identifier cannot be set.
func (d *Document) Set(name string, value any) error {
	if name == repositories.IDField {
		return fmt.Errorf("set %s: %w: the identifier is assigned by save", name, domain.ErrInvalidArgument)
	}
	if _, ok := d.typ.schema.Field(name); !ok {
		return fmt.Errorf("set %s.%s: %w", d.typ.name, name, ErrUnknownField)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[name] = value
	return nil
}

// Values returns a shallow copy of the field values.
func (d *Document) Values() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// GetDefault returns a fresh default for a declared field, nil when it has none.
func (d *Document) GetDefault(name string) any {
	f, ok := d.typ.schema.Field(name)
	if !ok {
		return nil
	}
	return f.defaultValue()
}

// On registers a hook for this instance only.
func (d *Document) On(stage Stage, fn HookFunc) {
	d.hooks.add(stage, fn)
}

func (d *Document) fillDefaults() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.typ.schema.fields {
		if _, ok := d.values[f.Name]; ok {
			continue
		}
		if def := f.defaultValue(); def != nil {
			d.values[f.Name] = def
		}
	}
}

func (d *Document) runHooks(ctx context.Context, stage Stage, result any) error {
	fns := append(d.typ.hooks.list(stage), d.hooks.list(stage)...)
	return runStage(ctx, HookEvent{Stage: stage, Type: d.typ, Document: d, Result: result}, fns)
}

// Save validates and persists the document. The first successful save assigns
// the identifier.
func (d *Document) Save(ctx context.Context) (*Document, error) {
	if d.typ.embedded {
		return nil, ErrEmbedded
	}
	err := d.typ.registry.dispatch(ctx, OperationSave, d.typ, d.save)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) save(ctx context.Context) error {
	if err := d.runHooks(ctx, PreValidate, nil); err != nil {
		return err
	}

	d.fillDefaults()
	if err := d.Validate(); err != nil {
		return err
	}
	if err := d.Canonicalize(); err != nil {
		return err
	}

	if err := d.runHooks(ctx, PostValidate, nil); err != nil {
		return err
	}
	if err := d.runHooks(ctx, PreSave, nil); err != nil {
		return err
	}

	record, err := d.flatten()
	if err != nil {
		return err
	}

	id, err := d.typ.registry.backend.Save(ctx, d.CollectionName(), d.id, record)
	if err != nil {
		return fmt.Errorf("save %s: %w", d.typ.name, err)
	}
	if d.id == nil {
		d.id = id
	}

	return d.runHooks(ctx, PostSave, nil)
}

// Delete removes the document from storage and returns the number of records
// removed. The instance stays usable in memory.
func (d *Document) Delete(ctx context.Context) (int64, error) {
	if d.typ.embedded {
		return 0, ErrEmbedded
	}
	if d.id == nil {
		return 0, &ArgumentError{Verb: "delete", Missing: "_id"}
	}

	var deleted int64
	err := d.typ.registry.dispatch(ctx, OperationDelete, d.typ, func(ctx context.Context) error {
		if err := d.runHooks(ctx, PreDelete, nil); err != nil {
			return err
		}

		n, err := d.typ.registry.backend.Delete(ctx, d.CollectionName(), d.id)
		if err != nil {
			return fmt.Errorf("delete %s: %w", d.typ.name, err)
		}
		deleted = n

		d.mu.Lock()
		d.deleted = true
		d.mu.Unlock()

		return d.runHooks(ctx, PostDelete, n)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Summary is a plain view of the document: "id" plus field values, with
// nested documents summarized.
func (d *Document) Summary() map[string]any {
	values := d.Values()
	out := make(map[string]any, len(values)+1)
	if !d.typ.embedded {
		out["id"] = d.id
	}
	for k, v := range values {
		out[k] = summarize(v)
	}
	return out
}

func summarize(v any) any {
	switch x := v.(type) {
	case *Document:
		return x.Summary()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = summarize(e)
		}
		return out
	}
	return v
}

// flatten produces the storage record: references become identifiers and
// embedded documents become plain data.
func (d *Document) flatten() (repositories.Record, error) {
	values := d.Values()
	record := make(repositories.Record, len(values))
	for _, f := range d.typ.schema.fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		fv, err := flattenValue(f, v)
		if err != nil {
			return nil, err
		}
		record[f.Name] = fv
	}
	return record, nil
}

func flattenValue(f *Field, v any) (any, error) {
	if arr, ok := v.([]any); ok && f.Kind == KindArray {
		out := make([]any, len(arr))
		for i, e := range arr {
			fe, err := flattenElem(f, e)
			if err != nil {
				return nil, err
			}
			out[i] = fe
		}
		return out, nil
	}
	return flattenElem(f, v)
}

func flattenElem(f *Field, v any) (any, error) {
	doc, ok := v.(*Document)
	if !ok {
		return cloneValue(v), nil
	}
	if f.IsReference() {
		if doc.id == nil {
			return nil, &UnsavedReferenceError{Field: f.Name, Type: doc.typ.name}
		}
		return doc.id, nil
	}
	record, err := doc.flatten()
	if err != nil {
		return nil, err
	}
	return map[string]any(record), nil
}
