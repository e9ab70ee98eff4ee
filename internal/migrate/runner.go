// Package migrate applies hand-written SQL migration scripts so that the
// whole script can be re-run safely.
//
// Statements run one at a time in file order, each outside any shared
// transaction, so progress survives a failed statement. A statement failing
// because its object already exists counts as completed. Other statement
// errors are collected and the run continues. Only losing the connection
// stops a run early.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"anzacash/internal/logger"
)

const DefaultStatementTimeout = 30 * time.Second

// Execer is the database handle the runner drives. *sql.DB satisfies it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// StatementError records a statement that failed for a reason other than
// an already existing object.
type StatementError struct {
	Ordinal   int    `json:"ordinal"`
	Statement string `json:"statement"`
	Error     string `json:"error"`
}

// ConnectionError aborts a run.
type ConnectionError struct {
	Ordinal int
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Ordinal == 0 {
		return fmt.Sprintf("database connection: %v", e.Err)
	}
	return fmt.Sprintf("database connection lost at statement %d: %v", e.Ordinal, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type Summary struct {
	// Completed counts statements that succeeded or were already applied.
	Completed int              `json:"completed"`
	Skipped   int              `json:"skipped"`
	Errors    []StatementError `json:"errors"`
}

type Runner struct {
	db         Execer
	classifier Classifier
	timeout    time.Duration
}

func NewRunner(db Execer, classifier Classifier, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultStatementTimeout
	}
	return &Runner{db: db, classifier: classifier, timeout: timeout}
}

// RunFile parses the script at path and runs it.
func (r *Runner) RunFile(ctx context.Context, path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open migration: %w", err)
	}
	defer f.Close()

	steps, err := Parse(f)
	if err != nil {
		return nil, err
	}
	logger.Infof("Loaded %d statements from %s", len(steps), path)
	return r.Run(ctx, Statements(steps))
}

// Run executes statements in order. The summary is returned even when a
// ConnectionError stops the run, describing the statements before it.
func (r *Runner) Run(ctx context.Context, statements []string) (*Summary, error) {
	summary := &Summary{Errors: []StatementError{}}

	if err := r.ping(ctx); err != nil {
		return summary, &ConnectionError{Err: err}
	}

	for i, stmt := range statements {
		ordinal := i + 1
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		err := r.exec(ctx, stmt)
		if err == nil {
			summary.Completed++
			logger.Debugf("statement %d applied", ordinal)
			continue
		}

		switch r.classifier.Classify(err) {
		case AlreadyExists:
			summary.Completed++
			summary.Skipped++
			logger.Infof("statement %d already applied: %v", ordinal, err)
		case Connection:
			return summary, &ConnectionError{Ordinal: ordinal, Err: err}
		default:
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Errors = append(summary.Errors, StatementError{
				Ordinal:   ordinal,
				Statement: stmt,
				Error:     err.Error(),
			})
			logger.Warningf("statement %d failed: %v", ordinal, err)
		}
	}

	logger.Infof("Migration finished: %d completed (%d already applied), %d failed",
		summary.Completed, summary.Skipped, len(summary.Errors))
	return summary, nil
}

func (r *Runner) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Runner) exec(ctx context.Context, stmt string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, stmt)
	return err
}
