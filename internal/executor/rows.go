package executor

import (
	"database/sql"
	"fmt"
)

// readRows drains rows into column names and value slices, stopping after
// limit rows when limit > 0.
func readRows(rows *sql.Rows, limit int) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}

	data := [][]any{}
	for rows.Next() {
		if limit > 0 && len(data) >= limit {
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row %d: %w", len(data)+1, err)
		}

		for i, val := range values {
			// Convert []byte to string for JSON serialization
			if b, ok := val.([]byte); ok {
				values[i] = string(b)
			}
		}
		data = append(data, values)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("row iteration error: %w", err)
	}

	return columns, data, nil
}
