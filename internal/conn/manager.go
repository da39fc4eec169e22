// Package conn manages the single active database connection: connect,
// disconnect and status, with no implicit connections.
package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shakram02/sqlproxy/internal/dsn"
	"github.com/shakram02/sqlproxy/internal/executor"
)

// ErrNotConnected is returned when an operation needs a connection and
// Connect has not been called.
var ErrNotConnected = errors.New("not connected: connect to a database first")

const (
	MsgConnected           = "connected"
	MsgAlreadyConnected    = "already connected"
	MsgDisconnected        = "disconnected"
	MsgAlreadyDisconnected = "already disconnected"
	MsgNoConnection        = "no active connection"
)

// Info describes the connection state as seen by callers.
type Info struct {
	executor.Description
	ID          string     `json:"id,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// Opener builds an executor from parsed parameters.
type Opener func(ctx context.Context, p dsn.Params) (executor.Executor, error)

// Option configures a Manager.
type Option func(*Manager)

// WithOpener replaces executor.Open.
func WithOpener(open Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithLogger sets the logger for connection lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager holds at most one executor. mu guards state transitions only;
// statements run on the executor outside of it.
type Manager struct {
	mu     sync.Mutex
	open   Opener
	logger *slog.Logger

	exec  executor.Executor
	id    string
	since time.Time
}

// NewManager returns a disconnected manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		open:   executor.Open,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens a connection when disconnected. While connected it leaves
// the existing connection in place, whatever the target, and reports it.
func (m *Manager) Connect(ctx context.Context, kind dsn.Kind, uri string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec != nil {
		m.logger.Debug("connect ignored, already connected", "id", m.id)
		return m.infoLocked(MsgAlreadyConnected), nil
	}

	params, err := dsn.Parse(kind, uri)
	if err != nil {
		return Info{}, err
	}

	exec, err := m.open(ctx, params)
	if err != nil {
		m.logger.Warn("connection failed", "type", kind, "host", params.Host, "database", params.Database, "error", err)
		return Info{}, err
	}

	m.exec = exec
	m.id = uuid.New().String()
	m.since = time.Now().UTC()

	info := m.infoLocked(MsgConnected)
	m.logger.Info("connected", "id", m.id, "type", info.Kind, "host", info.Host, "database", info.Database)
	return info, nil
}

// Disconnect closes the active executor and returns its last description.
// It never fails; close errors are logged.
// The executor is detached under the lock and closed after it is released,
// so a slow close does not stall status calls.
func (m *Manager) Disconnect() Info {
	m.mu.Lock()
	if m.exec == nil {
		m.mu.Unlock()
		return Info{Message: MsgAlreadyDisconnected}
	}

	info := m.infoLocked(MsgDisconnected)
	exec, id := m.exec, m.id
	m.exec = nil
	m.id = ""
	m.since = time.Time{}
	m.mu.Unlock()

	if err := exec.Close(); err != nil {
		m.logger.Warn("error closing connection", "id", id, "error", err)
	}
	info.Connected = false

	m.logger.Info("disconnected", "id", id)
	return info
}

// Current reports the active connection, or Connected=false.
func (m *Manager) Current() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		return Info{Message: MsgNoConnection}
	}
	return m.infoLocked("")
}

// RequireConnected returns the active executor or ErrNotConnected.
func (m *Manager) RequireConnected() (executor.Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		return nil, ErrNotConnected
	}
	return m.exec, nil
}

func (m *Manager) infoLocked(msg string) Info {
	since := m.since
	return Info{
		Description: m.exec.Describe(),
		ID:          m.id,
		ConnectedAt: &since,
		Message:     msg,
	}
}
