package repositories

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedOperator is returned for query or update operators a backend
// cannot evaluate.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// ApplyUpdate returns a copy of record with update applied. Plain keys replace
// field values; "$set", "$unset" and "$inc" follow document-store semantics.
// The identifier is never changed.
func ApplyUpdate(record Record, update Record) (Record, error) {
	out := CloneRecord(record)
	for k, v := range update {
		switch k {
		case "$set":
			m, ok := AsMap(v)
			if !ok {
				return nil, fmt.Errorf("$set expects a map, got %T", v)
			}
			for field, value := range m {
				if field != IDField {
					out[field] = CloneValue(value)
				}
			}
		case "$unset":
			m, ok := AsMap(v)
			if !ok {
				return nil, fmt.Errorf("$unset expects a map, got %T", v)
			}
			for field := range m {
				if field != IDField {
					delete(out, field)
				}
			}
		case "$inc":
			m, ok := AsMap(v)
			if !ok {
				return nil, fmt.Errorf("$inc expects a map, got %T", v)
			}
			for field, delta := range m {
				d, ok := ToFloat(delta)
				if !ok {
					return nil, fmt.Errorf("$inc %s: non-numeric delta %v", field, delta)
				}
				cur, _ := ToFloat(out[field])
				out[field] = cur + d
			}
		default:
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, k)
			}
			if k != IDField {
				out[k] = CloneValue(v)
			}
		}
	}
	return out, nil
}

// SeedFromQuery builds the base record of an upsert from the equality
// conditions of a filter.
func SeedFromQuery(query Query) Record {
	seed := Record{}
	for k, v := range query {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if m, ok := AsMap(v); ok && IsOperatorMap(m) {
			if eq, ok := m["$eq"]; ok {
				seed[k] = CloneValue(eq)
			}
			continue
		}
		seed[k] = CloneValue(v)
	}
	return seed
}

// AsMap unwraps the map shapes a filter or record value may take.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Query:
		return map[string]any(m), true
	case Record:
		return map[string]any(m), true
	}
	return nil, false
}

// IsOperatorMap reports whether every key of m is an operator ("$gt", ...).
func IsOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// ToFloat converts any Go numeric value to float64.
func ToFloat(v any) (float64, bool) {
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
	}
	return 0, false
}

// CloneRecord deep-copies the maps and slices of a record.
func CloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and []any; other values are returned as is.
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CloneValue(e)
		}
		return out
	case Record:
		return map[string]any(CloneRecord(x))
	case Query:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	}
	return v
}
