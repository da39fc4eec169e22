package proxy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shakram02/sqlproxy/internal/conn"
	"github.com/shakram02/sqlproxy/internal/dsn"
	"github.com/shakram02/sqlproxy/internal/executor"
	"github.com/shakram02/sqlproxy/internal/policy"
	"github.com/shakram02/sqlproxy/internal/query"
)

type fakeSource struct {
	perms policy.Permissions
	err   error
	keys  []string
}

func (f *fakeSource) FetchPermissions(ctx context.Context, sessionKey string) (policy.Permissions, error) {
	f.keys = append(f.keys, sessionKey)
	return f.perms, f.err
}

var _ policy.Source = (*fakeSource)(nil)

func TestEngine_Defaults(t *testing.T) {
	e := New()

	if perms := e.GetPermissions(); perms.WriteAllowed || perms.DDLAllowed {
		t.Errorf("Expected fail-closed permissions, got %+v", perms)
	}
	if status := e.Status(); status.Connected || status.Message != conn.MsgNoConnection {
		t.Errorf("Expected no connection, got %+v", status)
	}
	if e.MaxRows() != query.DefaultMaxRows {
		t.Errorf("Expected max rows %d, got %d", query.DefaultMaxRows, e.MaxRows())
	}
	if _, err := e.ExecuteQuery(context.Background(), "SELECT 1", false); !errors.Is(err, conn.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestEngine_Scenario(t *testing.T) {
	e := New()
	ctx := context.Background()

	info, err := e.Connect(ctx, dsn.SQLite, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !info.Connected {
		t.Fatalf("Expected connected info, got %+v", info)
	}

	_, err = e.ExecuteQuery(ctx, "CREATE TABLE t (id INTEGER)", false)
	if !errors.Is(err, policy.ErrPermissionDenied) {
		t.Fatalf("Expected DDL to be denied, got %v", err)
	}

	e.SetPermissions(true, true)

	if _, err := e.ExecuteQuery(ctx, "CREATE TABLE t (id INTEGER)", false); err != nil {
		t.Fatalf("Expected DDL to succeed, got %v", err)
	}
	res, err := e.ExecuteQuery(ctx, "INSERT INTO t VALUES (1), (2)", false)
	if err != nil || res.AffectedRows != 2 {
		t.Fatalf("Expected 2 inserted rows, got %+v, %v", res, err)
	}

	plan, err := e.ExecuteQuery(ctx, "DELETE FROM t WHERE id = 1", true)
	if err != nil || plan.Kind != query.KindDryRun {
		t.Fatalf("Expected dry run result, got %+v, %v", plan, err)
	}

	res, err = e.ExecuteQuery(ctx, "SELECT id FROM t ORDER BY id", false)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res.RowCount != 2 {
		t.Errorf("Expected dry run to leave 2 rows, got %d", res.RowCount)
	}

	e.SetPermissions(false, false)
	if _, err := e.ExecuteQuery(ctx, "DELETE FROM t", false); !errors.Is(err, policy.ErrPermissionDenied) {
		t.Errorf("Expected delete to be denied after revoking, got %v", err)
	}

	out := e.Disconnect()
	if out.Connected || out.Message != conn.MsgDisconnected {
		t.Errorf("Unexpected disconnect info: %+v", out)
	}
	if _, err := e.ExecuteQuery(ctx, "SELECT 1", false); !errors.Is(err, conn.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after disconnect, got %v", err)
	}
	if perms := e.GetPermissions(); perms.WriteAllowed || perms.DDLAllowed {
		t.Errorf("Expected permissions to persist across disconnect, got %+v", perms)
	}
}

func TestEngine_PermissionsSurviveReconnect(t *testing.T) {
	e := New()
	ctx := context.Background()

	e.SetPermissions(true, false)
	if _, err := e.Connect(ctx, dsn.SQLite, "sqlite://:memory:"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	e.Disconnect()
	if _, err := e.Connect(ctx, dsn.SQLite, "sqlite://:memory:"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer e.Disconnect()

	if perms := e.GetPermissions(); !perms.WriteAllowed || perms.DDLAllowed {
		t.Errorf("Expected write-only permissions, got %+v", perms)
	}
}

func TestEngine_SyncPermissions(t *testing.T) {
	t.Run("no source", func(t *testing.T) {
		e := New()
		if e.HasPermissionSource() {
			t.Error("Expected no permission source")
		}
		if _, err := e.SyncPermissions(context.Background(), "1"); !errors.Is(err, ErrNoPermissionSource) {
			t.Errorf("Expected ErrNoPermissionSource, got %v", err)
		}
	})

	t.Run("applies fetched permissions", func(t *testing.T) {
		src := &fakeSource{perms: policy.Permissions{WriteAllowed: true, DDLAllowed: true}}
		e := New(WithPermissionSource(src))

		perms, err := e.SyncPermissions(context.Background(), "42")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if !perms.WriteAllowed || !perms.DDLAllowed || e.GetPermissions() != perms {
			t.Errorf("Expected synced permissions to be applied, got %+v", e.GetPermissions())
		}
		if len(src.keys) != 1 || src.keys[0] != "42" {
			t.Errorf("Expected fetch for key 42, got %v", src.keys)
		}
	})

	t.Run("failure keeps current permissions", func(t *testing.T) {
		src := &fakeSource{err: errors.New("unreachable")}
		e := New(WithPermissionSource(src))
		e.SetPermissions(true, false)

		perms, err := e.SyncPermissions(context.Background(), "42")
		if err == nil {
			t.Fatal("Expected an error")
		}
		if !perms.WriteAllowed || perms.DDLAllowed {
			t.Errorf("Expected permissions unchanged, got %+v", perms)
		}
	})
}

func TestEngine_WithOpener(t *testing.T) {
	openErr := errors.New("dial refused")
	e := New(WithOpener(func(ctx context.Context, p dsn.Params) (executor.Executor, error) {
		return nil, openErr
	}))

	_, err := e.Connect(context.Background(), dsn.Postgres, "postgresql://u:p@db/app")
	if !errors.Is(err, openErr) {
		t.Errorf("Expected opener error, got %v", err)
	}
	if e.Status().Connected {
		t.Error("Expected engine to stay disconnected")
	}
}

func TestExecuteOnce(t *testing.T) {
	uri := "sqlite://" + filepath.Join(t.TempDir(), "once.db")
	ctx := context.Background()
	all := policy.Permissions{WriteAllowed: true, DDLAllowed: true}

	if _, err := ExecuteOnce(ctx, dsn.SQLite, uri, all, "CREATE TABLE t (id INTEGER)", false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := ExecuteOnce(ctx, dsn.SQLite, uri, all, "INSERT INTO t VALUES (1)", false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	res, err := ExecuteOnce(ctx, dsn.SQLite, uri, policy.Permissions{}, "SELECT id FROM t", false, WithMaxRows(10))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res.RowCount != 1 {
		t.Errorf("Expected 1 row, got %d", res.RowCount)
	}

	_, err = ExecuteOnce(ctx, dsn.SQLite, uri, policy.Permissions{}, "DELETE FROM t", false)
	if !errors.Is(err, policy.ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", err)
	}

	_, err = ExecuteOnce(ctx, dsn.Postgres, "mysql://u@h/d", all, "SELECT 1", false)
	if !errors.Is(err, dsn.ErrInvalidConnectionString) {
		t.Errorf("Expected ErrInvalidConnectionString, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{dsn.ErrInvalidConnectionString, KindInvalidConnectionString},
		{conn.ErrNotConnected, KindNotConnected},
		{&policy.DeniedError{}, KindPermissionDenied},
		{executor.ErrConnectionFailure, KindConnectionFailure},
		{query.ErrEmptyStatement, KindExecutionFailure},
		{context.DeadlineExceeded, KindTimeout},
		{fmt.Errorf("%w: %w", executor.ErrExecutionFailure, context.DeadlineExceeded), KindTimeout},
		{fmt.Errorf("%w: %w", executor.ErrConnectionFailure, context.DeadlineExceeded), KindTimeout},
		{errors.New("boom"), KindInternal},
	}

	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.expected {
			t.Errorf("%v: expected %s, got %s", tc.err, tc.expected, got)
		}
	}
}

func TestErrorKind_ExecutorDeadline(t *testing.T) {
	exec, err := executor.Open(context.Background(), dsn.Params{Kind: dsn.SQLite, Database: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open executor: %v", err)
	}
	defer exec.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err = exec.Run(ctx, "SELECT 1", executor.RunOptions{Rows: true})
	if !errors.Is(err, executor.ErrExecutionFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected execution failure wrapping the deadline, got %v", err)
	}
	if got := ErrorKind(err); got != KindTimeout {
		t.Errorf("Expected %s, got %s", KindTimeout, got)
	}
}
