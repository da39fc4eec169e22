package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shakram02/sqlproxy/internal/dsn"
	"github.com/shakram02/sqlproxy/internal/executor"
)

const memoryURI = "sqlite://:memory:"

// countingOpener wraps executor.Open and records how often it ran.
func countingOpener(calls *atomic.Int32) Opener {
	return func(ctx context.Context, p dsn.Params) (executor.Executor, error) {
		calls.Add(1)
		return executor.Open(ctx, p)
	}
}

func TestManager_ConnectAndStatus(t *testing.T) {
	m := NewManager()
	defer m.Disconnect()

	if m.Current().Connected {
		t.Fatal("Expected a new manager to be disconnected")
	}

	info, err := m.Connect(context.Background(), dsn.SQLite, memoryURI)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !info.Connected || info.Message != MsgConnected {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.ID == "" || info.ConnectedAt == nil {
		t.Error("Expected connection ID and timestamp to be set")
	}

	current := m.Current()
	if !current.Connected || current.ID != info.ID || current.Database != ":memory:" {
		t.Errorf("Unexpected current info: %+v", current)
	}
}

func TestManager_ConnectTwiceKeepsFirst(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(WithOpener(countingOpener(&calls)))
	defer m.Disconnect()
	ctx := context.Background()

	first, err := m.Connect(ctx, dsn.SQLite, memoryURI)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	exec, err := m.RequireConnected()
	if err != nil {
		t.Fatalf("Expected connected executor, got %v", err)
	}
	before := exec.Describe()

	// Same target, then a different one: neither replaces the executor.
	for _, uri := range []string{memoryURI, "sqlite:///tmp/other.db"} {
		second, err := m.Connect(ctx, dsn.SQLite, uri)
		if err != nil {
			t.Fatalf("Expected idempotent success, got %v", err)
		}
		if second.Message != MsgAlreadyConnected {
			t.Errorf("Expected %q, got %q", MsgAlreadyConnected, second.Message)
		}
		if second.ID != first.ID || second.Database != first.Database {
			t.Errorf("Expected original connection info, got %+v", second)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("Expected a single open, got %d", calls.Load())
	}
	if after := exec.Describe(); after != before || !after.Connected {
		t.Errorf("Expected original executor untouched, before %+v after %+v", before, after)
	}
}

func TestManager_ConnectFailuresStayDisconnected(t *testing.T) {
	openErr := &executor.Error{Op: "connection", Backend: dsn.Postgres, Err: errors.New("refused")}

	tests := []struct {
		name    string
		kind    dsn.Kind
		uri     string
		opener  Opener
		wantErr error
	}{
		{
			name:    "invalid uri",
			kind:    dsn.Postgres,
			uri:     "mysql://u:p@h/db",
			wantErr: dsn.ErrInvalidConnectionString,
		},
		{
			name: "open failure",
			kind: dsn.Postgres,
			uri:  "postgresql://u:p@h/db",
			opener: func(ctx context.Context, p dsn.Params) (executor.Executor, error) {
				return nil, openErr
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var opts []Option
			if tc.opener != nil {
				opts = append(opts, WithOpener(tc.opener))
			}
			m := NewManager(opts...)

			_, err := m.Connect(context.Background(), tc.kind, tc.uri)
			if err == nil {
				t.Fatal("Expected connect to fail")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
			if tc.opener != nil && !errors.Is(err, openErr) {
				t.Errorf("Expected opener error to be surfaced, got %v", err)
			}
			if m.Current().Connected {
				t.Error("Expected manager to remain disconnected")
			}
			if _, err := m.RequireConnected(); !errors.Is(err, ErrNotConnected) {
				t.Errorf("Expected ErrNotConnected, got %v", err)
			}
		})
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	m := NewManager()

	if _, err := m.Connect(context.Background(), dsn.SQLite, memoryURI); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	exec, _ := m.RequireConnected()

	first := m.Disconnect()
	if first.Connected || first.Message != MsgDisconnected {
		t.Errorf("Unexpected first disconnect: %+v", first)
	}
	if first.Kind != dsn.SQLite || first.Database != ":memory:" {
		t.Errorf("Expected last-known description, got %+v", first)
	}
	if exec.Describe().Connected {
		t.Error("Expected executor to be closed")
	}

	second := m.Disconnect()
	if second.Connected || second.Message != MsgAlreadyDisconnected {
		t.Errorf("Unexpected second disconnect: %+v", second)
	}

	if _, err := m.RequireConnected(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

// slowCloser holds Close until release is closed.
type slowCloser struct {
	executor.Executor
	closing chan struct{}
	release chan struct{}
}

func (s *slowCloser) Close() error {
	close(s.closing)
	<-s.release
	return s.Executor.Close()
}

func TestManager_DisconnectDoesNotBlockStatus(t *testing.T) {
	slow := &slowCloser{closing: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(WithOpener(func(ctx context.Context, p dsn.Params) (executor.Executor, error) {
		exec, err := executor.Open(ctx, p)
		if err != nil {
			return nil, err
		}
		slow.Executor = exec
		return slow, nil
	}))

	if _, err := m.Connect(context.Background(), dsn.SQLite, memoryURI); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	done := make(chan Info)
	go func() { done <- m.Disconnect() }()
	<-slow.closing

	status := make(chan Info)
	go func() { status <- m.Current() }()

	select {
	case info := <-status:
		if info.Connected || info.Message != MsgNoConnection {
			t.Errorf("Expected no connection while closing, got %+v", info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Current blocked while Disconnect was closing the executor")
	}

	if _, err := m.RequireConnected(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected while closing, got %v", err)
	}

	close(slow.release)
	info := <-done
	if info.Connected || info.Message != MsgDisconnected || info.Kind != dsn.SQLite {
		t.Errorf("Unexpected disconnect result: %+v", info)
	}
}

func TestManager_ReconnectAfterDisconnect(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	first, err := m.Connect(ctx, dsn.SQLite, memoryURI)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	m.Disconnect()

	second, err := m.Connect(ctx, dsn.SQLite, memoryURI)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer m.Disconnect()

	if second.Message != MsgConnected || second.ID == first.ID {
		t.Errorf("Expected a fresh connection, got %+v", second)
	}
}

func TestManager_ConcurrentConnectSingleWinner(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(WithOpener(countingOpener(&calls)))
	defer m.Disconnect()

	const n = 16
	var wg sync.WaitGroup
	messages := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := m.Connect(context.Background(), dsn.SQLite, memoryURI)
			if err != nil {
				t.Errorf("Connect failed: %v", err)
				return
			}
			messages <- info.Message
		}()
	}
	wg.Wait()
	close(messages)

	connected := 0
	for msg := range messages {
		if msg == MsgConnected {
			connected++
		}
	}
	if connected != 1 {
		t.Errorf("Expected exactly one winning connect, got %d", connected)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single open, got %d", calls.Load())
	}
}
