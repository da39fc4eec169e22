// Package query runs SQL through the permission policy against the active
// connection and shapes driver output into typed results.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shakram02/sqlproxy/internal/classify"
	"github.com/shakram02/sqlproxy/internal/executor"
)

// DefaultMaxRows caps SELECT results when no limit is configured.
const DefaultMaxRows = 1000

// DryRunMessage is reported for every successful dry run.
const DryRunMessage = "Dry run completed (query not executed)"

// Input errors. Both are execution failures.
var (
	ErrEmptyStatement     = fmt.Errorf("%w: empty statement", executor.ErrExecutionFailure)
	ErrMultipleStatements = fmt.Errorf("%w: multiple statements are not allowed", executor.ErrExecutionFailure)
)

// Connection yields the active executor or conn.ErrNotConnected.
type Connection interface {
	RequireConnected() (executor.Executor, error)
}

// Authorizer decides whether a statement category may run.
type Authorizer interface {
	Authorize(cat classify.Category) error
}

// Kind tags the shape of a Result.
type Kind string

const (
	KindSelect   Kind = "select"
	KindMutation Kind = "mutation"
	KindDDL      Kind = "ddl"
	KindDryRun   Kind = "dry_run"
	KindOther    Kind = "other"
)

// Result is the outcome of one statement. Which fields are set depends on
// Kind; MarshalJSON emits only those.
type Result struct {
	Kind     Kind
	Category classify.Category

	// select, and other statements that returned columns
	Columns   []string
	Rows      [][]any
	RowCount  int
	Truncated bool

	// mutation
	AffectedRows int64

	// ddl, dry_run
	Success bool
	Plan    []string

	Message string
}

// Option configures a Service.
type Option func(*Service)

// WithMaxRows sets the SELECT row cap. Values below one are ignored.
func WithMaxRows(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRows = n
		}
	}
}

// WithLogger sets the logger for denials, failures and dry runs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service executes statements on behalf of callers.
type Service struct {
	conn    Connection
	policy  Authorizer
	maxRows int
	logger  *slog.Logger
}

// NewService builds a Service over a connection source and a policy.
func NewService(conn Connection, policy Authorizer, opts ...Option) *Service {
	s := &Service{
		conn:    conn,
		policy:  policy,
		maxRows: DefaultMaxRows,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxRows returns the configured SELECT row cap.
func (s *Service) MaxRows() int {
	return s.maxRows
}

// Execute classifies sqlText, checks it against the policy and either runs
// it or, when dryRun is set, asks the backend for its plan. Input holding
// more than one statement is refused before anything reaches the driver.
func (s *Service) Execute(ctx context.Context, sqlText string, dryRun bool) (*Result, error) {
	exec, err := s.conn.RequireConnected()
	if err != nil {
		return nil, err
	}

	stmts := classify.Split(exec.Describe().Kind, sqlText)
	switch len(stmts) {
	case 0:
		return nil, ErrEmptyStatement
	case 1:
	default:
		// A denial names the statement that would have been refused alone.
		for _, stmt := range stmts {
			if err := s.authorize(classify.Classify(stmt.Code)); err != nil {
				return nil, err
			}
		}
		s.logger.Warn("statement denied", "statements", len(stmts), "error", ErrMultipleStatements)
		return nil, ErrMultipleStatements
	}
	sqlText = stmts[0].Text

	cat := classify.Classify(stmts[0].Code)
	if err := s.authorize(cat); err != nil {
		return nil, err
	}

	if dryRun {
		plan, err := exec.Explain(ctx, sqlText)
		if err != nil {
			s.logFailure(cat, err)
			return nil, err
		}
		s.logger.Debug("dry run", "query_type", cat, "plan_lines", len(plan))
		return &Result{
			Kind:     KindDryRun,
			Category: cat,
			Success:  true,
			Plan:     plan,
			Message:  DryRunMessage,
		}, nil
	}

	switch cat {
	case classify.Select:
		raw, err := exec.Run(ctx, sqlText, executor.RunOptions{Rows: true, Limit: s.maxRows})
		if err != nil {
			s.logFailure(cat, err)
			return nil, err
		}
		return s.rowsResult(KindSelect, cat, raw), nil

	case classify.Insert, classify.Update, classify.Delete:
		raw, err := exec.Run(ctx, sqlText, executor.RunOptions{})
		if err != nil {
			s.logFailure(cat, err)
			return nil, err
		}
		return mutationResult(cat, raw), nil

	case classify.DDL:
		if _, err := exec.Run(ctx, sqlText, executor.RunOptions{}); err != nil {
			s.logFailure(cat, err)
			return nil, err
		}
		return &Result{
			Kind:     KindDDL,
			Category: cat,
			Success:  true,
			Message:  completedMessage(cat),
		}, nil

	default:
		return s.executeOther(ctx, exec, sqlText)
	}
}

func (s *Service) authorize(cat classify.Category) error {
	if err := s.policy.Authorize(cat); err != nil {
		s.logger.Warn("statement denied", "query_type", cat, "error", err)
		return err
	}
	return nil
}

// executeOther handles statements outside the known categories. They are
// read through a cursor; a statement that reports no columns is treated as
// a mutation.
func (s *Service) executeOther(ctx context.Context, exec executor.Executor, sqlText string) (*Result, error) {
	raw, err := exec.Run(ctx, sqlText, executor.RunOptions{Rows: true, Limit: s.maxRows})
	if err != nil {
		s.logFailure(classify.Other, err)
		return nil, err
	}
	if len(raw.Columns) > 0 {
		return s.rowsResult(KindOther, classify.Other, raw), nil
	}
	return &Result{
		Kind:     KindOther,
		Category: classify.Other,
		Success:  true,
		Message:  completedMessage(classify.Other),
	}, nil
}

func (s *Service) rowsResult(kind Kind, cat classify.Category, raw *executor.Raw) *Result {
	rows := raw.Rows
	truncated := false
	if len(rows) > s.maxRows {
		rows = rows[:s.maxRows]
		truncated = true
	}
	if rows == nil {
		rows = [][]any{}
	}
	return &Result{
		Kind:      kind,
		Category:  cat,
		Columns:   raw.Columns,
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: truncated,
		Success:   true,
	}
}

func mutationResult(cat classify.Category, raw *executor.Raw) *Result {
	return &Result{
		Kind:         KindMutation,
		Category:     cat,
		AffectedRows: raw.RowsAffected,
		Success:      true,
		Message:      completedMessage(cat),
	}
}

func completedMessage(cat classify.Category) string {
	return fmt.Sprintf("%s operation completed successfully", cat)
}

func (s *Service) logFailure(cat classify.Category, err error) {
	var execErr *executor.Error
	if errors.As(err, &execErr) {
		s.logger.Warn("statement failed", "query_type", cat, "backend", execErr.Backend, "code", execErr.Code, "error", execErr.Err)
		return
	}
	s.logger.Warn("statement failed", "query_type", cat, "error", err)
}
