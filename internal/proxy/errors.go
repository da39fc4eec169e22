package proxy

import (
	"context"
	"errors"

	"github.com/shakram02/sqlproxy/internal/conn"
	"github.com/shakram02/sqlproxy/internal/dsn"
	"github.com/shakram02/sqlproxy/internal/executor"
	"github.com/shakram02/sqlproxy/internal/policy"
)

// Error kind names reported to callers.
const (
	KindInvalidConnectionString = "invalid_connection_string"
	KindConnectionFailure       = "connection_failure"
	KindNotConnected            = "not_connected"
	KindPermissionDenied        = "permission_denied"
	KindExecutionFailure        = "execution_failure"
	KindTimeout                 = "timeout"
	KindInternal                = "internal_error"
)

// ErrorKind names the category of an engine error. A deadline wrapped in an
// executor error still reports as a timeout.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, dsn.ErrInvalidConnectionString):
		return KindInvalidConnectionString
	case errors.Is(err, conn.ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, policy.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, executor.ErrConnectionFailure):
		return KindConnectionFailure
	case errors.Is(err, executor.ErrExecutionFailure):
		return KindExecutionFailure
	default:
		return KindInternal
	}
}
