package executor

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"modernc.org/sqlite"

	"github.com/shakram02/sqlproxy/internal/dsn"
)

// SQLiteDialect implements Dialect for SQLite databases (pure Go driver).
type SQLiteDialect struct{}

func (d *SQLiteDialect) Kind() dsn.Kind     { return dsn.SQLite }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

// BuildDSN returns the file path (or :memory:) with options appended as a
// query string, e.g. app.db?_pragma=foreign_keys(1).
func (d *SQLiteDialect) BuildDSN(p dsn.Params) (string, error) {
	if p.Database == "" {
		return "", fmt.Errorf("database path is required")
	}
	if len(p.Options) == 0 {
		return p.Database, nil
	}

	query := url.Values{}
	for k, v := range p.Options {
		query.Set(k, v)
	}
	return p.Database + "?" + query.Encode(), nil
}

// ExplainQuery uses EXPLAIN QUERY PLAN; bare EXPLAIN lists VDBE opcodes.
func (d *SQLiteDialect) ExplainQuery(sqlText string) string {
	return "EXPLAIN QUERY PLAN " + sqlText
}

// FormatPlan returns the detail column of EXPLAIN QUERY PLAN.
func (d *SQLiteDialect) FormatPlan(columns []string, rows [][]any) []string {
	detail := len(columns) - 1
	for i, c := range columns {
		if c == "detail" {
			detail = i
		}
	}

	plan := make([]string, 0, len(rows))
	for _, row := range rows {
		if detail < 0 || detail >= len(row) {
			continue
		}
		plan = append(plan, fmt.Sprint(row[detail]))
	}
	return plan
}

// ErrorCode returns the SQLite result code of a *sqlite.Error.
func (d *SQLiteDialect) ErrorCode(err error) string {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return strconv.Itoa(liteErr.Code())
	}
	return ""
}
