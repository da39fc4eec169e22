package executor

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/shakram02/sqlproxy/internal/dsn"
)

// MySQLDialect implements Dialect for MySQL databases.
type MySQLDialect struct{}

func (d *MySQLDialect) Kind() dsn.Kind     { return dsn.MySQL }
func (d *MySQLDialect) DriverName() string { return "mysql" }

// BuildDSN produces a go-sql-driver DSN: user:password@tcp(host:port)/dbname?params
func (d *MySQLDialect) BuildDSN(p dsn.Params) (string, error) {
	if p.User == "" || p.Database == "" {
		return "", fmt.Errorf("user and database are required")
	}

	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	cfg.DBName = p.Database
	if len(p.Options) > 0 {
		cfg.Params = make(map[string]string, len(p.Options))
		for k, v := range p.Options {
			cfg.Params[k] = v
		}
	}

	// Round-trip so driver options such as parseTime or tls are recognized
	// instead of being sent to the server as session variables.
	parsed, err := mysql.ParseDSN(cfg.FormatDSN())
	if err != nil {
		return "", err
	}
	return parsed.FormatDSN(), nil
}

func (d *MySQLDialect) ExplainQuery(sqlText string) string {
	return "EXPLAIN " + sqlText
}

// FormatPlan renders each tabular EXPLAIN row as "column=value" pairs,
// skipping NULL cells.
func (d *MySQLDialect) FormatPlan(columns []string, rows [][]any) []string {
	plan := make([]string, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, 0, len(row))
		for i, val := range row {
			if val == nil || i >= len(columns) {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%v", columns[i], val))
		}
		plan = append(plan, strings.Join(parts, " "))
	}
	return plan
}

// ErrorCode returns the server error number of a *mysql.MySQLError.
func (d *MySQLDialect) ErrorCode(err error) string {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return strconv.Itoa(int(myErr.Number))
	}
	return ""
}
