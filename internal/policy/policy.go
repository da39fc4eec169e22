// Package policy holds the write/DDL permission gates consulted before a
// statement is executed.
package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shakram02/sqlproxy/internal/classify"
)

// ErrPermissionDenied is matched by every *DeniedError.
var ErrPermissionDenied = errors.New("permission denied")

// DeniedError reports the category a policy gate rejected.
type DeniedError struct {
	Category classify.Category
}

func (e *DeniedError) Error() string {
	switch e.Category {
	case classify.DDL:
		return fmt.Sprintf("permission denied: DDL operations are disabled (query type: %s)", e.Category)
	default:
		return fmt.Sprintf("permission denied: write operations are disabled (query type: %s)", e.Category)
	}
}

func (e *DeniedError) Unwrap() error { return ErrPermissionDenied }

// Permissions are the two independent gates. Reads are always allowed.
type Permissions struct {
	WriteAllowed bool `json:"allow_write_operations"`
	DDLAllowed   bool `json:"allow_ddl_operations"`
}

// Policy is safe for concurrent use. The zero value denies writes and DDL.
type Policy struct {
	mu    sync.RWMutex
	perms Permissions
}

// New returns a fail-closed policy.
func New() *Policy {
	return &Policy{}
}

// Get returns the current permissions.
func (p *Policy) Get() Permissions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.perms
}

// Set overwrites both gates and returns the new value.
func (p *Policy) Set(perms Permissions) Permissions {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perms = perms
	return p.perms
}

// Authorize returns nil when a statement of category c may run.
//
// INSERT, UPDATE and DELETE share the single write gate; unrecognized
// statements need it as well.
func (p *Policy) Authorize(c classify.Category) error {
	perms := p.Get()

	switch c {
	case classify.Select:
		return nil
	case classify.DDL:
		if perms.DDLAllowed {
			return nil
		}
	default:
		if perms.WriteAllowed {
			return nil
		}
	}

	return &DeniedError{Category: c}
}
