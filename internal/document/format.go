package document

import (
	"strings"

	"camo/internal/domain/repositories"
)

// FormatValues applies the string rules in opts to a copy of values.
// Rules run lowercase, then uppercase, then trim. Non-string and nil values
// are left untouched; values is never modified.
func FormatValues(values map[string]any, opts map[string]Format) map[string]any {
	formatted := make(map[string]any, len(values))
	for k, v := range values {
		formatted[k] = v
	}

	for key, rules := range opts {
		s, ok := values[key].(string)
		if !ok {
			continue
		}
		if rules.Lowercase {
			s = strings.ToLower(s)
		}
		if rules.Uppercase {
			s = strings.ToUpper(s)
		}
		if rules.Trim {
			s = strings.TrimSpace(s)
		}
		formatted[key] = s
	}

	return formatted
}

// formatInput applies the type's rules to values and the rules of embedded
// types to nested embedded data.
func (t *Type) formatInput(values map[string]any) map[string]any {
	formatted := FormatValues(values, t.schema.Opts())
	for _, f := range t.schema.fields {
		if !f.IsEmbedded() || formatted[f.Name] == nil {
			continue
		}
		formatted[f.Name] = t.registry.mustType(f.Ref).formatEmbedded(formatted[f.Name])
	}
	return formatted
}

func (t *Type) formatEmbedded(v any) any {
	if m, ok := repositories.AsMap(v); ok {
		return t.formatInput(m)
	}
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = t.formatEmbedded(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = t.formatInput(e)
		}
		return out
	}
	return v
}

// formatUpdate formats an update payload, including a nested "$set" map.
func (t *Type) formatUpdate(values map[string]any) map[string]any {
	formatted := t.formatInput(values)
	if set, ok := repositories.AsMap(values["$set"]); ok {
		formatted["$set"] = t.formatInput(set)
	}
	return formatted
}
