package document

import (
	"context"
	"time"

	"camo/internal/domain/repositories"
)

const timestampField = "timestamp"

// Type is a registered document or embedded type: its schema, its type-level
// hooks and its storage naming.
type Type struct {
	name       string
	embedded   bool
	schema     *Schema
	collection string
	hooks      hookRegistry
	registry   *Registry
}

// Name is the declared type name.
func (t *Type) Name() string { return t.name }

// ResourceName is the lowercase type name.
func (t *Type) ResourceName() string { return resourceName(t.name) }

// CollectionName is the override given at registration, or the pluralized
// resource name.
func (t *Type) CollectionName() string {
	if t.collection != "" {
		return t.collection
	}
	return collectionName(t.name)
}

// DocumentClass is "embedded" for embedded types and "document" otherwise.
func (t *Type) DocumentClass() string {
	if t.embedded {
		return "embedded"
	}
	return "document"
}

// IsEmbedded reports whether the type only lives inside other documents.
func (t *Type) IsEmbedded() bool { return t.embedded }

// Schema returns the declared fields, or nil when the type declares none.
func (t *Type) Schema() *Schema {
	if t.schema.Len() == 0 {
		return nil
	}
	return t.schema
}

// Describe renders the schema as plain data.
func (t *Type) Describe() map[string]any {
	return t.schema.Describe()
}

// Registry returns the registry the type belongs to.
func (t *Type) Registry() *Registry { return t.registry }

// On registers a hook that runs for every document of the type.
func (t *Type) On(stage Stage, fn HookFunc) {
	t.hooks.add(stage, fn)
}

func (t *Type) newDocument() *Document {
	return &Document{
		typ:    t,
		values: make(map[string]any, t.schema.Len()),
	}
}

// New returns an unsaved in-memory instance with defaults applied.
func (t *Type) New() *Document {
	d := t.newDocument()
	d.fillDefaults()
	return d
}

// NewInCollection returns an instance stored in the named collection instead
// of the type's own.
//
// Deprecated: use the Collection option at registration.
func (t *Type) NewInCollection(collection string) *Document {
	t.registry.deprecate("NewInCollection is deprecated, register the type with document.Collection instead")
	d := t.New()
	d.collection = collection
	return d
}

// FromData rebuilds a document from a storage record. Undeclared keys are
// dropped; references stay raw identifiers until populated.
func (t *Type) FromData(data map[string]any) *Document {
	d := t.newDocument()
	if !t.embedded {
		d.id = data[repositories.IDField]
	}
	for _, f := range t.schema.fields {
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		d.values[f.Name] = rehydrateValue(t.registry, f, v)
	}
	return d
}

func rehydrateValue(r *Registry, f *Field, v any) any {
	if f.IsReference() {
		if arr, ok := v.([]any); ok {
			return append([]any(nil), arr...)
		}
		return v
	}
	cv, err := canonicalField(r, f, v)
	if err != nil {
		return v
	}
	return cv
}

// Create builds an instance from params, formats them with the opts of the
// type and its embedded types, falls back to defaults for missing fields and
// saves it.
func (t *Type) Create(ctx context.Context, params map[string]any) (*Document, error) {
	if t.embedded {
		return nil, ErrEmbedded
	}

	formatted := t.formatInput(params)
	d := t.newDocument()
	for _, f := range t.schema.fields {
		if v, ok := formatted[f.Name]; ok && v != nil {
			d.values[f.Name] = v
			continue
		}
		if def := f.defaultValue(); def != nil {
			d.values[f.Name] = def
		}
	}

	d.timestamp = time.Now().UTC()
	if f, ok := t.schema.Field(timestampField); ok && f.Kind == KindDate && d.values[timestampField] == nil {
		d.values[timestampField] = d.timestamp
	}

	return d.Save(ctx)
}

// ConvertToJSON renders documents as their summaries.
func ConvertToJSON(docs []*Document) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		out = append(out, d.Summary())
	}
	return out
}
