package specir

import (
	"database/sql"
	"fmt"
)

// Row is an ad-hoc result row from QueryAll/QueryOne, column name to value.
type Row map[string]any

// QueryAll runs an arbitrary read-only SQL query and returns every row as a
// column-name-keyed map, used by handlers and the proof-view engine (§4.1
// "query_all(sql, params)").
func (s *Store) QueryAll(query string, args ...any) ([]Row, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query_all: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// QueryOne runs a read-only SQL query and returns the first row, or
// (nil, nil) if there are no results.
func (s *Store) QueryOne(query string, args ...any) (Row, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query_one: %w", err)
	}
	defer rows.Close()
	results, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Int64 coerces a scanned value to int64, tolerating the driver returning
// int64 directly or, for expressions, a nil.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case nil:
		return 0
	default:
		return 0
	}
}

func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
