package executor

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/lib/pq"

	"github.com/shakram02/sqlproxy/internal/dsn"
)

// PostgresDialect implements Dialect for PostgreSQL databases.
type PostgresDialect struct{}

func (d *PostgresDialect) Kind() dsn.Kind     { return dsn.Postgres }
func (d *PostgresDialect) DriverName() string { return "postgres" }

// BuildDSN renders a postgres:// URL for lib/pq. sslmode defaults to prefer
// when the caller did not choose one.
func (d *PostgresDialect) BuildDSN(p dsn.Params) (string, error) {
	if p.User == "" || p.Database == "" {
		return "", fmt.Errorf("user and database are required")
	}

	query := url.Values{}
	for k, v := range p.Options {
		query.Set(k, v)
	}
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "prefer")
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: query.Encode(),
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	} else {
		u.User = url.User(p.User)
	}
	return u.String(), nil
}

// ExplainQuery uses plain EXPLAIN; EXPLAIN ANALYZE would execute the statement.
func (d *PostgresDialect) ExplainQuery(sqlText string) string {
	return "EXPLAIN " + sqlText
}

// FormatPlan returns the single "QUERY PLAN" column, one line per row.
func (d *PostgresDialect) FormatPlan(_ []string, rows [][]any) []string {
	plan := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		plan = append(plan, fmt.Sprint(row[0]))
	}
	return plan
}

// ErrorCode returns the SQLSTATE of a *pq.Error.
func (d *PostgresDialect) ErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
