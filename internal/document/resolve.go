package document

import (
	"context"
	"fmt"
	"reflect"

	"camo/internal/domain/repositories"
)

// PopulateSpec selects which reference fields are resolved after a fetch.
type PopulateSpec struct {
	all    bool
	fields []string
}

var (
	// PopulateAll resolves every reference field.
	PopulateAll = PopulateSpec{all: true}
	// PopulateNone leaves references as raw identifiers.
	PopulateNone = PopulateSpec{}
)

// PopulateFields resolves only the named reference fields.
func PopulateFields(names ...string) PopulateSpec {
	return PopulateSpec{fields: names}
}

// Enabled reports whether the spec selects any field.
func (p PopulateSpec) Enabled() bool { return p.all || len(p.fields) > 0 }

func (p PopulateSpec) selects(name string) bool {
	if p.all {
		return true
	}
	for _, f := range p.fields {
		if f == name {
			return true
		}
	}
	return false
}

// Populate replaces raw reference identifiers on docs with the referenced
// documents. Each selected field costs one batched lookup across all docs.
// Identifiers that match nothing stay raw. On a lookup error, fields resolved
// before the failing one stay resolved.
func (t *Type) Populate(ctx context.Context, spec PopulateSpec, docs ...*Document) error {
	if !spec.Enabled() || len(docs) == 0 {
		return nil
	}

	for _, f := range t.schema.fields {
		if !f.IsReference() || !spec.selects(f.Name) {
			continue
		}
		if err := t.populateField(ctx, f, docs); err != nil {
			return fmt.Errorf("populate %s.%s: %w", t.name, f.Name, err)
		}
	}
	return nil
}

func (t *Type) populateField(ctx context.Context, f *Field, docs []*Document) error {
	var ids []any
	seen := make(map[any]struct{})
	collect := func(v any) {
		if v == nil {
			return
		}
		if _, isDoc := v.(*Document); isDoc {
			return
		}
		if !reflect.TypeOf(v).Comparable() {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		ids = append(ids, v)
	}

	for _, d := range docs {
		switch v := d.Get(f.Name).(type) {
		case []any:
			for _, e := range v {
				collect(e)
			}
		default:
			collect(v)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	refType := t.registry.mustType(f.Ref)
	records, err := t.registry.backend.Find(ctx, refType.CollectionName(), repositories.Query{
		repositories.IDField: map[string]any{"$in": ids},
	}, repositories.FindOptions{})
	if err != nil {
		return err
	}

	found := make(map[any]*Document, len(records))
	for _, rec := range records {
		ref := refType.FromData(rec)
		if ref.id != nil && reflect.TypeOf(ref.id).Comparable() {
			found[ref.id] = ref
		}
	}

	resolve := func(v any) any {
		if v == nil || !reflect.TypeOf(v).Comparable() {
			return v
		}
		if ref, ok := found[v]; ok {
			return ref
		}
		return v
	}

	for _, d := range docs {
		d.mu.Lock()
		switch v := d.values[f.Name].(type) {
		case []any:
			out := make([]any, len(v))
			for i, e := range v {
				out[i] = resolve(e)
			}
			d.values[f.Name] = out
		case nil:
		default:
			d.values[f.Name] = resolve(v)
		}
		d.mu.Unlock()
	}
	return nil
}
