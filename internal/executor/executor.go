// Package executor owns live database connections and runs statements on
// them. Each backend supplies a Dialect; the executor itself is shared.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shakram02/sqlproxy/internal/dsn"
)

var (
	// ErrConnectionFailure marks failures reaching the database.
	ErrConnectionFailure = errors.New("connection failure")

	// ErrExecutionFailure marks statements the driver rejected or failed.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrClosed is reported when a closed executor is used.
	ErrClosed = errors.New("executor is closed")
)

// Dialect defines the backend-specific behavior of an executor.
// Each supported database (PostgreSQL, MySQL, SQLite) implements this interface.
type Dialect interface {
	// Kind returns the backend this dialect serves.
	Kind() dsn.Kind

	// DriverName returns the database/sql driver name (e.g., "mysql", "postgres", "sqlite").
	DriverName() string

	// BuildDSN constructs the driver DSN from parsed connection parameters.
	BuildDSN(p dsn.Params) (string, error)

	// ExplainQuery wraps a statement in the backend's plan-only EXPLAIN form.
	ExplainQuery(sqlText string) string

	// FormatPlan renders EXPLAIN output as one string per plan line.
	FormatPlan(columns []string, rows [][]any) []string

	// ErrorCode extracts the backend error code from a driver error, if any.
	ErrorCode(err error) string
}

// Description is the non-secret identity of a connection.
type Description struct {
	Kind      dsn.Kind `json:"type,omitempty"`
	Host      string   `json:"host,omitempty"`
	Port      int      `json:"port,omitempty"`
	Database  string   `json:"database,omitempty"`
	Connected bool     `json:"connected"`
}

// RunOptions selects how a statement is sent.
type RunOptions struct {
	// Rows reads a result set; otherwise the statement is executed and the
	// affected-row count reported.
	Rows bool

	// Limit caps the rows read. At most Limit+1 rows are returned so the
	// caller can tell whether more existed. Zero or less means no cap.
	Limit int
}

// Raw is the result of Run as reported by the driver.
type Raw struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// Executor is one open database connection.
type Executor interface {
	// Describe reports the connection identity. It never fails.
	Describe() Description

	// Run sends sqlText unchanged.
	Run(ctx context.Context, sqlText string, opts RunOptions) (*Raw, error)

	// Explain returns the backend's plan for sqlText without executing it.
	Explain(ctx context.Context, sqlText string) ([]string, error)

	// Close releases the connection. Closing twice is a no-op.
	Close() error
}

// Error wraps a driver error with the backend and operation that produced it.
type Error struct {
	Op      string
	Backend dsn.Kind
	Code    string
	Err     error

	kind error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed: %v", e.Backend.DisplayName(), e.Op, e.Err)
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	return msg
}

// Unwrap exposes both the error kind and the driver error.
func (e *Error) Unwrap() []error {
	return []error{e.kind, e.Err}
}

// dialects is the fixed set of supported backends.
var dialects = map[dsn.Kind]Dialect{
	dsn.Postgres: &PostgresDialect{},
	dsn.MySQL:    &MySQLDialect{},
	dsn.SQLite:   &SQLiteDialect{},
}

// DialectFor returns the dialect registered for kind.
func DialectFor(kind dsn.Kind) (Dialect, bool) {
	d, ok := dialects[kind]
	return d, ok
}

// Open connects to the database described by p. It makes a single attempt.
func Open(ctx context.Context, p dsn.Params) (Executor, error) {
	d, ok := DialectFor(p.Kind)
	if !ok {
		return nil, &Error{Op: "connection", Backend: p.Kind,
			Err: fmt.Errorf("unsupported backend %q", p.Kind), kind: ErrConnectionFailure}
	}

	connStr, err := d.BuildDSN(p)
	if err != nil {
		return nil, &Error{Op: "connection", Backend: p.Kind, Err: err, kind: ErrConnectionFailure}
	}

	db, err := sql.Open(d.DriverName(), connStr)
	if err != nil {
		return nil, connectionError(d, err)
	}

	// One physical connection, pinned below.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, connectionError(d, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, connectionError(d, err)
	}

	return &sqlExecutor{
		dialect: d,
		db:      db,
		conn:    conn,
		desc: Description{
			Kind:     p.Kind,
			Host:     p.Host,
			Port:     p.Port,
			Database: p.Database,
		},
	}, nil
}

// sqlExecutor runs statements on a single pinned *sql.Conn. mu serializes
// statements because a driver connection is not safe for concurrent use.
// lost is set once the driver reports the pinned connection unusable.
type sqlExecutor struct {
	mu      sync.Mutex
	dialect Dialect
	db      *sql.DB
	conn    *sql.Conn
	desc    Description
	closed  atomic.Bool
	lost    atomic.Bool
}

func (e *sqlExecutor) Describe() Description {
	d := e.desc
	d.Connected = !e.closed.Load() && !e.lost.Load()
	return d
}

func (e *sqlExecutor) Run(ctx context.Context, sqlText string, opts RunOptions) (*Raw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, e.executionError("execution", ErrClosed)
	}

	if !opts.Rows {
		res, err := e.conn.ExecContext(ctx, sqlText)
		if err != nil {
			return nil, e.executionError("execution", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = -1
		}
		return &Raw{RowsAffected: n}, nil
	}

	rows, err := e.conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, e.executionError("execution", err)
	}
	defer rows.Close()

	limit := 0
	if opts.Limit > 0 {
		limit = opts.Limit + 1
	}
	columns, data, err := readRows(rows, limit)
	if err != nil {
		return nil, e.executionError("execution", err)
	}

	return &Raw{Columns: columns, Rows: data, RowsAffected: int64(len(data))}, nil
}

func (e *sqlExecutor) Explain(ctx context.Context, sqlText string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, e.executionError("explain", ErrClosed)
	}

	rows, err := e.conn.QueryContext(ctx, e.dialect.ExplainQuery(sqlText))
	if err != nil {
		return nil, e.executionError("explain", err)
	}
	defer rows.Close()

	columns, data, err := readRows(rows, 0)
	if err != nil {
		return nil, e.executionError("explain", err)
	}

	return e.dialect.FormatPlan(columns, data), nil
}

func (e *sqlExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Swap(true) {
		return nil
	}
	return errors.Join(e.conn.Close(), e.db.Close())
}

// executionError wraps err. A dead pinned connection is a connection
// failure and leaves the executor disconnected.
func (e *sqlExecutor) executionError(op string, err error) error {
	kind := ErrExecutionFailure
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		e.lost.Store(true)
		kind = ErrConnectionFailure
	}
	return &Error{
		Op:      op,
		Backend: e.dialect.Kind(),
		Code:    e.dialect.ErrorCode(err),
		Err:     err,
		kind:    kind,
	}
}

func connectionError(d Dialect, err error) error {
	return &Error{
		Op:      "connection",
		Backend: d.Kind(),
		Code:    d.ErrorCode(err),
		Err:     err,
		kind:    ErrConnectionFailure,
	}
}
