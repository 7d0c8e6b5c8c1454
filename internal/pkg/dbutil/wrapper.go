package dbutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DB interface for database operations (allows for easy testing)
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
}

// TxFunc represents a function that operates within a transaction
type TxFunc func(tx *sql.Tx) error

// Wrapper provides transaction and retry utilities around a database
type Wrapper struct {
	db      DB
	timeout time.Duration
}

// NewWrapper creates a new database wrapper
func NewWrapper(db DB, timeout time.Duration) *Wrapper {
	return &Wrapper{
		db:      db,
		timeout: timeout,
	}
}

// WithTransaction executes a function within a database transaction
func (w *Wrapper) WithTransaction(ctx context.Context, fn TxFunc) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	tx, err := w.db.BeginTx(ctxWithTimeout, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("transaction failed with error: %v, rollback also failed: %w", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SaveWithRetry attempts a transactional write with retry logic for
// transient conflicts (busy database, serialization races). Non-retryable
// errors surface immediately.
func (w *Wrapper) SaveWithRetry(ctx context.Context, fn TxFunc, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := w.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return err
		}

		if attempt < maxRetries {
			// Exponential-ish backoff before the next attempt
			waitTime := time.Duration(attempt+1) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries, lastErr)
}

// PingWithTimeout checks database connectivity with the wrapper timeout
func (w *Wrapper) PingWithTimeout(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return w.db.PingContext(ctxWithTimeout)
}

// IsRetryableError determines if a database error is worth retrying
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryable := []string{
		"database is locked",
		"database is busy",
		"deadlock",
		"sqlite_busy",
	}

	for _, marker := range retryable {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}
