// Package proxy is the entry point transports call into: one connection
// manager, one permission policy and the query service over them.
package proxy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shakram02/sqlproxy/internal/conn"
	"github.com/shakram02/sqlproxy/internal/dsn"
	"github.com/shakram02/sqlproxy/internal/policy"
	"github.com/shakram02/sqlproxy/internal/query"
)

// ErrNoPermissionSource is returned by SyncPermissions when no Source is set.
var ErrNoPermissionSource = errors.New("no permission source configured")

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	maxRows int
	opener  conn.Opener
	source  policy.Source
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxRows caps SELECT results.
func WithMaxRows(n int) Option {
	return func(o *options) { o.maxRows = n }
}

// WithOpener replaces how executors are opened.
func WithOpener(open conn.Opener) Option {
	return func(o *options) { o.opener = open }
}

// WithPermissionSource enables SyncPermissions.
func WithPermissionSource(src policy.Source) Option {
	return func(o *options) { o.source = src }
}

// Engine owns the state for one logical session.
type Engine struct {
	conns   *conn.Manager
	policy  *policy.Policy
	queries *query.Service
	source  policy.Source
	logger  *slog.Logger
}

// New returns a disconnected engine with writes and DDL disabled.
func New(opts ...Option) *Engine {
	o := options{
		logger:  slog.New(slog.DiscardHandler),
		maxRows: query.DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(&o)
	}

	connOpts := []conn.Option{conn.WithLogger(o.logger)}
	if o.opener != nil {
		connOpts = append(connOpts, conn.WithOpener(o.opener))
	}

	e := &Engine{
		conns:  conn.NewManager(connOpts...),
		policy: policy.New(),
		source: o.source,
		logger: o.logger,
	}
	e.queries = query.NewService(e.conns, e.policy,
		query.WithMaxRows(o.maxRows),
		query.WithLogger(o.logger),
	)
	return e
}

// Connect opens a connection to uri as the given backend.
func (e *Engine) Connect(ctx context.Context, kind dsn.Kind, uri string) (conn.Info, error) {
	return e.conns.Connect(ctx, kind, uri)
}

// Disconnect closes the active connection, if any.
func (e *Engine) Disconnect() conn.Info {
	return e.conns.Disconnect()
}

// Status reports the active connection.
func (e *Engine) Status() conn.Info {
	return e.conns.Current()
}

// SetPermissions overwrites both permission gates.
func (e *Engine) SetPermissions(write, ddl bool) policy.Permissions {
	perms := e.policy.Set(policy.Permissions{WriteAllowed: write, DDLAllowed: ddl})
	e.logger.Info("permissions updated", "allow_write", perms.WriteAllowed, "allow_ddl", perms.DDLAllowed)
	return perms
}

// GetPermissions returns the current permission gates.
func (e *Engine) GetPermissions() policy.Permissions {
	return e.policy.Get()
}

// ExecuteQuery runs or, with dryRun, plans sqlText under the current policy.
func (e *Engine) ExecuteQuery(ctx context.Context, sqlText string, dryRun bool) (*query.Result, error) {
	return e.queries.Execute(ctx, sqlText, dryRun)
}

// MaxRows returns the SELECT row cap.
func (e *Engine) MaxRows() int {
	return e.queries.MaxRows()
}

// SyncPermissions fetches the permissions stored for sessionKey and applies
// them. On failure the current permissions are left untouched.
func (e *Engine) SyncPermissions(ctx context.Context, sessionKey string) (policy.Permissions, error) {
	if e.source == nil {
		return e.policy.Get(), ErrNoPermissionSource
	}

	perms, err := e.source.FetchPermissions(ctx, sessionKey)
	if err != nil {
		e.logger.Warn("permission sync failed", "session", sessionKey, "error", err)
		return e.policy.Get(), err
	}

	e.logger.Info("permissions synced", "session", sessionKey)
	return e.SetPermissions(perms.WriteAllowed, perms.DDLAllowed), nil
}

// HasPermissionSource reports whether SyncPermissions can succeed.
func (e *Engine) HasPermissionSource() bool {
	return e.source != nil
}

// ExecuteOnce connects, runs one statement under perms and disconnects,
// whatever the outcome.
func ExecuteOnce(ctx context.Context, kind dsn.Kind, uri string, perms policy.Permissions, sqlText string, dryRun bool, opts ...Option) (*query.Result, error) {
	e := New(opts...)
	if _, err := e.Connect(ctx, kind, uri); err != nil {
		return nil, err
	}
	defer e.Disconnect()

	e.policy.Set(perms)
	return e.ExecuteQuery(ctx, sqlText, dryRun)
}
