package memory

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"camo/internal/domain"
	"camo/internal/domain/repositories"
)

// matches evaluates a document-store style filter against a record.
func matches(record repositories.Record, query map[string]any) (bool, error) {
	for key, cond := range query {
		switch key {
		case "$and", "$or", "$nor":
			clauses, err := clauseList(key, cond)
			if err != nil {
				return false, err
			}
			ok, err := matchLogical(record, key, clauses)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return false, fmt.Errorf("unsupported query operator %s: %w", key, domain.ErrInvalidArgument)
		}

		ok, err := matchField(lookup(record, key), has(record, key), cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(record repositories.Record, op string, clauses []map[string]any) (bool, error) {
	for _, clause := range clauses {
		ok, err := matches(record, clause)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !ok:
			return false, nil
		case op == "$or" && ok:
			return true, nil
		case op == "$nor" && ok:
			return false, nil
		}
	}
	return op != "$or", nil
}

func clauseList(op string, v any) ([]map[string]any, error) {
	var out []map[string]any
	switch list := v.(type) {
	case []map[string]any:
		return list, nil
	case []repositories.Query:
		for _, q := range list {
			out = append(out, map[string]any(q))
		}
		return out, nil
	case []any:
		for _, e := range list {
			m, ok := repositories.AsMap(e)
			if !ok {
				return nil, fmt.Errorf("%s expects a list of filters: %w", op, domain.ErrInvalidArgument)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s expects a list of filters: %w", op, domain.ErrInvalidArgument)
}

func matchField(value any, present bool, cond any) (bool, error) {
	ops, ok := repositories.AsMap(cond)
	if !ok || !repositories.IsOperatorMap(ops) {
		return matchEqual(value, cond), nil
	}

	for op, arg := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = matchEqual(value, arg)
		case "$ne":
			ok = !matchEqual(value, arg)
		case "$in", "$nin":
			list, isList := toList(arg)
			if !isList {
				return false, fmt.Errorf("%s expects a list: %w", op, domain.ErrInvalidArgument)
			}
			for _, candidate := range list {
				if matchEqual(value, candidate) {
					ok = true
					break
				}
			}
			if op == "$nin" {
				ok = !ok
			}
		case "$gt", "$gte", "$lt", "$lte":
			if value == nil || arg == nil || !orderable(value, arg) {
				return false, nil
			}
			cmp := compareValues(value, arg)
			switch op {
			case "$gt":
				ok = cmp > 0
			case "$gte":
				ok = cmp >= 0
			case "$lt":
				ok = cmp < 0
			case "$lte":
				ok = cmp <= 0
			}
		case "$exists":
			want, _ := arg.(bool)
			ok = present == want
		default:
			return false, fmt.Errorf("unsupported query operator %s: %w", op, domain.ErrInvalidArgument)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// matchEqual compares a stored value with a filter value. An array matches
// when it equals the filter or contains it.
func matchEqual(value, want any) bool {
	if equalValues(value, want) {
		return true
	}
	if list, ok := toList(value); ok {
		if _, wantList := toList(want); !wantList {
			for _, e := range list {
				if equalValues(e, want) {
					return true
				}
			}
		}
	}
	return false
}

func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// lookup resolves a dotted path through nested maps.
func lookup(record map[string]any, path string) any {
	var cur any = record
	for _, part := range strings.Split(path, ".") {
		m, ok := repositories.AsMap(cur)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func has(record map[string]any, path string) bool {
	parts := strings.Split(path, ".")
	var cur any = record
	for i, part := range parts {
		m, ok := repositories.AsMap(cur)
		if !ok {
			return false
		}
		v, exists := m[part]
		if !exists {
			return false
		}
		if i == len(parts)-1 {
			return true
		}
		cur = v
	}
	return false
}

func normalize(v any) any {
	switch n := v.(type) {
	case time.Time:
		return n.UTC()
	case repositories.Record:
		return map[string]any(n)
	}
	if f, ok := repositories.ToFloat(v); ok {
		return f
	}
	return v
}

func equalValues(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if la, ok := toList(a); ok {
		lb, ok := toList(b)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equalValues(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func orderable(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch a.(type) {
	case float64:
		_, ok := b.(float64)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case time.Time:
		_, ok := b.(time.Time)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	}
	return false
}

// compareValues orders values of the same kind; nil sorts first and values of
// different kinds compare by kind name.
func compareValues(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

func cmpOrdered(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
