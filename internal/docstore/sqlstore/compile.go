package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/livestate/internal/docstore"
)

// errUnsupported marks queries the compiler cannot express in SQL. The store
// falls back to scanning the collection and filtering in Go.
var errUnsupported = errors.New("query not expressible in SQL")

// rankExpr orders JSON values the way docstore.CompareValues does:
// null < bool < number < string < everything else.
const rankExpr = `CASE json_type(fields, %[1]s) WHEN 'null' THEN 0 WHEN 'true' THEN 1 WHEN 'false' THEN 1 ` +
	`WHEN 'integer' THEN 2 WHEN 'real' THEN 2 WHEN 'text' THEN 3 ELSE 4 END`

// compiled is a parameterized SELECT over the documents table.
type compiled struct {
	SQL    string
	Params []any
}

// compileQuery converts q to SQL returning (id, fields, version) rows.
//
// Every query ends with "id ASC COLLATE BINARY" so results are
// deterministic, and every value is bound as a parameter.
func compileQuery(q docstore.Query) (compiled, error) {
	where, params, err := compileWhere(q)
	if err != nil {
		return compiled{}, err
	}

	var order []string
	var orderParams []any
	for _, o := range q.Orders {
		path, err := jsonPath(o.Field)
		if err != nil {
			return compiled{}, err
		}
		dir := "ASC"
		if o.Direction == docstore.Desc {
			dir = "DESC"
		}
		// Documents missing an ordered field are excluded.
		where = append(where, "json_type(fields, ?) IS NOT NULL")
		params = append(params, path)
		order = append(order, fmt.Sprintf(rankExpr, "?")+" "+dir, "json_extract(fields, ?) "+dir)
		orderParams = append(orderParams, path, path)
	}
	order = append(order, "id ASC COLLATE BINARY")

	var b strings.Builder
	b.WriteString("SELECT id, fields, version FROM documents WHERE ")
	b.WriteString(strings.Join(where, " AND "))
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(order, ", "))
	params = append(params, orderParams...)
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return compiled{SQL: b.String(), Params: params}, nil
}

func compileWhere(q docstore.Query) ([]string, []any, error) {
	where := []string{"collection = ?"}
	params := []any{q.Collection.Path}
	for _, f := range q.Filters {
		clause, p, err := compileFilter(f)
		if err != nil {
			return nil, nil, err
		}
		where = append(where, clause)
		params = append(params, p...)
	}
	return where, params, nil
}

func compileFilter(f docstore.Filter) (string, []any, error) {
	path, err := jsonPath(f.Field)
	if err != nil {
		return "", nil, err
	}
	typ := "json_type(fields, ?)"
	val := "json_extract(fields, ?)"

	switch f.Op {
	case docstore.OpEqual:
		return equalsExpr(typ, val, path, f.Value)
	case docstore.OpNotEqual:
		eq, p, err := equalsExpr(typ, val, path, f.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("(%s IS NOT NULL AND NOT %s)", typ, eq), append([]any{path}, p...), nil
	case docstore.OpLess, docstore.OpLessEqual, docstore.OpGreater, docstore.OpGreaterEqual:
		types, bound, err := classify(f.Value)
		if err != nil {
			return "", nil, err
		}
		if types == nullTypes {
			// Null only ranges over itself.
			switch f.Op {
			case docstore.OpLessEqual, docstore.OpGreaterEqual:
				return fmt.Sprintf("%s = 'null'", typ), []any{path}, nil
			default:
				return "0", nil, nil
			}
		}
		return fmt.Sprintf("(%s IN %s AND %s %s ?)", typ, types, val, f.Op), []any{path, path, bound}, nil
	case docstore.OpIn:
		list, ok := docstore.List(f.Value)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q requires a list value", docstore.ErrInvalidQuery, f.Op)
		}
		if len(list) == 0 {
			return "0", nil, nil
		}
		var parts []string
		var params []any
		for _, v := range list {
			eq, p, err := equalsExpr(typ, val, path, v)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, eq)
			params = append(params, p...)
		}
		return "(" + strings.Join(parts, " OR ") + ")", params, nil
	case docstore.OpArrayContains:
		types, bound, err := classify(f.Value)
		if err != nil {
			return "", nil, err
		}
		clause := fmt.Sprintf("(%s = 'array' AND EXISTS (SELECT 1 FROM json_each(fields, ?) e WHERE e.type IN %s", typ, types)
		params := []any{path, path}
		if types != nullTypes {
			clause += " AND e.value = ?"
			params = append(params, bound)
		}
		return clause + "))", params, nil
	default:
		return "", nil, fmt.Errorf("%w: unknown operator %q", docstore.ErrInvalidQuery, f.Op)
	}
}

const (
	nullTypes   = "('null')"
	boolTypes   = "('true','false')"
	numberTypes = "('integer','real')"
	textTypes   = "('text')"
)

// classify returns the json_type set matching v's kind and the value to
// bind for comparisons. json_extract yields 1 and 0 for JSON booleans.
func classify(v any) (string, any, error) {
	switch val := v.(type) {
	case nil:
		return nullTypes, nil, nil
	case bool:
		if val {
			return boolTypes, 1, nil
		}
		return boolTypes, 0, nil
	case string:
		return textTypes, val, nil
	}
	if n, ok := docstore.Number(v); ok {
		return numberTypes, n, nil
	}
	return "", nil, errUnsupported
}

func equalsExpr(typ, val, path string, v any) (string, []any, error) {
	types, bound, err := classify(v)
	if err != nil {
		return "", nil, err
	}
	if types == nullTypes {
		return fmt.Sprintf("%s = 'null'", typ), []any{path}, nil
	}
	return fmt.Sprintf("(%s IN %s AND %s = ?)", typ, types, val), []any{path, path, bound}, nil
}

// jsonPath converts a dotted field into a quoted SQLite JSON path.
func jsonPath(field string) (string, error) {
	var b strings.Builder
	b.WriteString("$")
	for _, part := range strings.Split(field, ".") {
		if part == "" {
			return "", fmt.Errorf("%w: malformed field %q", docstore.ErrInvalidQuery, field)
		}
		if strings.ContainsAny(part, `"\`) {
			return "", errUnsupported
		}
		b.WriteString(`."`)
		b.WriteString(part)
		b.WriteString(`"`)
	}
	return b.String(), nil
}
