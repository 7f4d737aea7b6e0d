package document

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"camo/internal/domain"
	"camo/internal/domain/repositories"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validate checks every declared field against its type and constraints.
// Embedded documents are validated recursively by ozzo, since *Document is a
// validation.Validatable. Failures are reported as *domain.ValidationError.
func (d *Document) Validate() error {
	values := d.Values()
	errs := validation.Errors{}
	for _, f := range d.typ.schema.fields {
		errs[f.Name] = validateField(d.typ.registry, f, values[f.Name])
	}
	if errs.Filter() == nil {
		return nil
	}
	return &domain.ValidationError{Resource: d.typ.name, Fields: errs}
}

func validateField(r *Registry, f *Field, value any) error {
	cv, err := canonicalField(r, f, value)
	if err != nil {
		return err
	}

	// references are checked by identity; the referenced document is not ours to validate
	if f.IsReference() {
		cv = refIdentity(cv)
	}

	var rules []validation.Rule
	if f.Required {
		if f.Kind == KindString || f.Kind == KindArray {
			rules = append(rules, validation.Required)
		} else {
			rules = append(rules, validation.NotNil)
		}
	}

	elem := elementRules(f)
	if f.Kind == KindArray {
		if len(elem) > 0 || f.Elem == KindEmbedded {
			rules = append(rules, validation.Each(elem...))
		}
	} else {
		rules = append(rules, elem...)
	}

	return validation.Validate(cv, rules...)
}

// elementRules are the constraints applied to each stored value.
func elementRules(f *Field) []validation.Rule {
	var rules []validation.Rule
	if len(f.Choices) > 0 {
		choices := f.Choices
		rules = append(rules, validation.By(func(v any) error {
			if v == nil {
				return nil
			}
			for _, c := range choices {
				if reflect.DeepEqual(c, v) {
					return nil
				}
			}
			return validation.NewError("validation_in_invalid", fmt.Sprintf("must be one of %v", choices))
		}))
	}
	if f.Min != nil {
		lower := *f.Min
		rules = append(rules, validation.By(func(v any) error {
			if n, ok := v.(float64); ok && n < lower {
				return validation.NewError("validation_min_too_small", fmt.Sprintf("must be no less than %v", lower))
			}
			return nil
		}))
	}
	if f.Max != nil {
		upper := *f.Max
		rules = append(rules, validation.By(func(v any) error {
			if n, ok := v.(float64); ok && n > upper {
				return validation.NewError("validation_max_too_big", fmt.Sprintf("must be no greater than %v", upper))
			}
			return nil
		}))
	}
	return rules
}

func refIdentity(v any) any {
	switch x := v.(type) {
	case *Document:
		return x.id
	case []any:
		ids := make([]any, len(x))
		for i, e := range x {
			ids[i] = refIdentity(e)
		}
		return ids
	}
	return v
}

// Canonicalize rewrites every value into its canonical encoding: numbers as
// float64, dates as UTC time.Time, arrays as []any, embedded data as documents.
func (d *Document) Canonicalize() error {
	values := d.Values()
	canonical := make(map[string]any, len(values))
	for _, f := range d.typ.schema.fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		cv, err := canonicalField(d.typ.registry, f, v)
		if err != nil {
			return fmt.Errorf("canonicalize %s.%s: %w", d.typ.name, f.Name, err)
		}
		for _, emb := range embeddedDocs(f, cv) {
			if err := emb.Canonicalize(); err != nil {
				return err
			}
		}
		canonical[f.Name] = cv
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range canonical {
		d.values[k] = v
	}
	return nil
}

func embeddedDocs(f *Field, v any) []*Document {
	if !f.IsEmbedded() {
		return nil
	}
	switch x := v.(type) {
	case *Document:
		return []*Document{x}
	case []any:
		docs := make([]*Document, 0, len(x))
		for _, e := range x {
			if doc, ok := e.(*Document); ok {
				docs = append(docs, doc)
			}
		}
		return docs
	}
	return nil
}

// canonicalField converts v to the canonical form of the field, or reports a
// type mismatch.
func canonicalField(r *Registry, f *Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Kind != KindArray {
		return canonicalKind(r, f, f.Kind, v)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, validation.NewError("validation_type", fmt.Sprintf("must be an array of %s", f.elemTypeName()))
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		cv, err := canonicalKind(r, f, f.Elem, rv.Index(i).Interface())
		if err != nil {
			return nil, validation.Errors{fmt.Sprint(i): err}
		}
		out[i] = cv
	}
	return out, nil
}

func canonicalKind(r *Registry, f *Field, kind Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	mismatch := func() error {
		name := string(kind)
		if kind == KindReference || kind == KindEmbedded {
			name = f.Ref
		}
		return validation.NewError("validation_type", fmt.Sprintf("must be a %s, got %T", name, v))
	}

	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindNumber:
		if n, ok := toFloat(v); ok {
			return n, nil
		}
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindDate:
		if t, ok := parseDate(v); ok {
			return t, nil
		}
	case KindObject:
		switch m := v.(type) {
		case map[string]any:
			return m, nil
		case repositories.Record:
			return map[string]any(m), nil
		}
	case KindReference:
		if doc, ok := v.(*Document); ok {
			if doc.typ.name == f.Ref {
				return doc, nil
			}
			return nil, mismatch()
		}
		if r.backend.IsNativeID(v) {
			return v, nil
		}
		if s, ok := v.(string); ok {
			if id, err := r.ParseID(s); err == nil && r.backend.IsNativeID(id) {
				return id, nil
			}
		}
	case KindEmbedded:
		switch x := v.(type) {
		case *Document:
			if x.typ.name == f.Ref {
				return x, nil
			}
			return nil, mismatch()
		case map[string]any:
			return r.mustType(f.Ref).FromData(x), nil
		case repositories.Record:
			return r.mustType(f.Ref).FromData(x), nil
		}
	}
	return nil, mismatch()
}

// canonicalScalar normalizes numbers and dates so equal values compare equal.
func canonicalScalar(v any) any {
	if n, ok := toFloat(v); ok {
		return n
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// parseDate accepts time values, RFC 3339 text and epoch milliseconds.
func parseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	if ms, ok := toFloat(v); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// cloneValue deep-copies maps and slices so shared defaults are never aliased.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case repositories.Record:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	case []float64:
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}
	return v
}
