package postgres

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"camo/internal/domain"
	"camo/internal/domain/repositories"
)

// sqlBuilder translates document-store filters into SQL over a table of
// (id TEXT, data JSONB) rows. Values are always bound as parameters.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jsonPath(field string) []string {
	return strings.Split(field, ".")
}

// where renders a filter as a boolean SQL expression.
func (b *sqlBuilder) where(query map[string]any) (string, error) {
	if len(query) == 0 {
		return "TRUE", nil
	}

	var parts []string
	for _, key := range sortedKeys(query) {
		cond := query[key]
		switch key {
		case "$and", "$or", "$nor":
			clause, err := b.logical(key, cond)
			if err != nil {
				return "", err
			}
			parts = append(parts, clause)
			continue
		}
		if strings.HasPrefix(key, "$") {
			return "", unsupported(key)
		}

		var clause string
		var err error
		if key == repositories.IDField {
			clause, err = b.idCondition(cond)
		} else {
			clause, err = b.fieldCondition(key, cond)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) logical(op string, cond any) (string, error) {
	var clauses []map[string]any
	switch list := cond.(type) {
	case []any:
		for _, e := range list {
			m, ok := repositories.AsMap(e)
			if !ok {
				return "", fmt.Errorf("%s expects a list of filters: %w", op, domain.ErrInvalidArgument)
			}
			clauses = append(clauses, m)
		}
	case []map[string]any:
		clauses = list
	case []repositories.Query:
		for _, q := range list {
			clauses = append(clauses, map[string]any(q))
		}
	default:
		return "", fmt.Errorf("%s expects a list of filters: %w", op, domain.ErrInvalidArgument)
	}

	if len(clauses) == 0 {
		if op == "$or" {
			return "FALSE", nil
		}
		return "TRUE", nil
	}

	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		sql, err := b.where(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}

	switch op {
	case "$or":
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case "$nor":
		return "NOT (" + strings.Join(parts, " OR ") + ")", nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) idCondition(cond any) (string, error) {
	ops, ok := repositories.AsMap(cond)
	if !ok || !repositories.IsOperatorMap(ops) {
		id, err := idString(cond)
		if err != nil {
			return "", err
		}
		return "id = " + b.arg(id), nil
	}

	var parts []string
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		switch op {
		case "$eq", "$ne":
			id, err := idString(arg)
			if err != nil {
				return "", err
			}
			cmp := "="
			if op == "$ne" {
				cmp = "<>"
			}
			parts = append(parts, fmt.Sprintf("id %s %s", cmp, b.arg(id)))
		case "$in", "$nin":
			ids, err := idList(arg)
			if err != nil {
				return "", err
			}
			clause := fmt.Sprintf("id = ANY(%s)", b.arg(ids))
			if op == "$nin" {
				clause = "NOT (" + clause + ")"
			}
			parts = append(parts, clause)
		case "$exists":
			if want, _ := arg.(bool); !want {
				parts = append(parts, "FALSE")
			}
		default:
			return "", unsupported(op)
		}
	}
	return joinAnd(parts), nil
}

func (b *sqlBuilder) fieldCondition(field string, cond any) (string, error) {
	ops, ok := repositories.AsMap(cond)
	if !ok || !repositories.IsOperatorMap(ops) {
		return b.equals(field, cond)
	}

	var parts []string
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		var clause string
		var err error
		switch op {
		case "$eq":
			clause, err = b.equals(field, arg)
		case "$ne":
			clause, err = b.equals(field, arg)
			clause = "NOT " + clause
		case "$in", "$nin":
			clause, err = b.in(field, arg)
			if op == "$nin" {
				clause = "NOT " + clause
			}
		case "$gt", "$gte", "$lt", "$lte":
			clause, err = b.compare(field, op, arg)
		case "$exists":
			test := "IS NOT NULL"
			if want, _ := arg.(bool); !want {
				test = "IS NULL"
			}
			clause = fmt.Sprintf("(data #> %s) %s", b.arg(jsonPath(field)), test)
		default:
			return "", unsupported(op)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	return joinAnd(parts), nil
}

// equals matches by JSONB containment, which also matches array elements.
// A nil value matches a missing field as well as an explicit null.
func (b *sqlBuilder) equals(field string, value any) (string, error) {
	if value == nil {
		p := b.arg(jsonPath(field))
		return fmt.Sprintf("((data #> %s) IS NULL OR (data #> %s) = 'null'::jsonb)", p, p), nil
	}

	doc, err := json.Marshal(nest(field, value))
	if err != nil {
		return "", fmt.Errorf("encode filter on %s: %w", field, err)
	}
	return fmt.Sprintf("(data @> %s::jsonb)", b.arg(string(doc))), nil
}

func (b *sqlBuilder) in(field string, arg any) (string, error) {
	list, ok := toList(arg)
	if !ok {
		return "", fmt.Errorf("$in on %s expects a list: %w", field, domain.ErrInvalidArgument)
	}
	if len(list) == 0 {
		return "(FALSE)", nil
	}

	parts := make([]string, 0, len(list))
	for _, v := range list {
		clause, err := b.equals(field, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

var comparisonOps = map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}

func (b *sqlBuilder) compare(field, op string, arg any) (string, error) {
	sqlOp := comparisonOps[op]
	path := b.arg(jsonPath(field))

	if n, ok := repositories.ToFloat(arg); ok {
		return fmt.Sprintf("(jsonb_typeof(data #> %s) = 'number' AND (data #>> %s)::numeric %s %s)",
			path, path, sqlOp, b.arg(n)), nil
	}
	switch v := arg.(type) {
	case string:
		return fmt.Sprintf("(data #>> %s) %s %s", path, sqlOp, b.arg(v)), nil
	case time.Time:
		return fmt.Sprintf("(jsonb_typeof(data #> %s) = 'string' AND (data #>> %s)::timestamptz %s %s)",
			path, path, sqlOp, b.arg(v.UTC())), nil
	}
	return "", fmt.Errorf("%s on %s: cannot compare %T: %w", op, field, arg, domain.ErrInvalidArgument)
}

// orderBy renders sort options; insertion order breaks ties.
func (b *sqlBuilder) orderBy(sorts []repositories.Sort) string {
	parts := make([]string, 0, len(sorts)+2)
	for _, s := range sorts {
		dir := "ASC"
		if s.Order < 0 {
			dir = "DESC"
		}
		if s.Field == repositories.IDField {
			parts = append(parts, "id "+dir)
			continue
		}
		parts = append(parts, fmt.Sprintf("(data #> %s) %s", b.arg(jsonPath(s.Field)), dir))
	}
	parts = append(parts, "created_at ASC", "id ASC")
	return "ORDER BY " + strings.Join(parts, ", ")
}

func joinAnd(parts []string) string {
	switch len(parts) {
	case 0:
		return "TRUE"
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// nest turns a dotted path into nested maps: "a.b" -> {"a": {"b": v}}.
func nest(field string, v any) map[string]any {
	parts := jsonPath(field)
	out := map[string]any{parts[len(parts)-1]: v}
	for i := len(parts) - 2; i >= 0; i-- {
		out = map[string]any{parts[i]: out}
	}
	return out
}

func toList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(list))
		for i, f := range list {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case fmt.Stringer:
		return id.String(), nil
	}
	return "", fmt.Errorf("identifier %v (%T) is not a string: %w", v, v, domain.ErrInvalidArgument)
}

func idList(v any) ([]string, error) {
	list, ok := toList(v)
	if !ok {
		return nil, fmt.Errorf("expected a list of identifiers, got %T: %w", v, domain.ErrInvalidArgument)
	}
	ids := make([]string, 0, len(list))
	for _, e := range list {
		id, err := idString(e)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func unsupported(op string) error {
	return fmt.Errorf("%w %s: %w", repositories.ErrUnsupportedOperator, op, domain.ErrInvalidArgument)
}
