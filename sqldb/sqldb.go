// Package sqldb runs statements against the index database inside
// bounded, retryable transactions.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Beginner starts transactions. *sql.DB and *sql.Conn implement it.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var (
	// ErrTransientStorage marks errors worth retrying: serialization
	// failures, deadlocks, constraint races and lost connections.
	ErrTransientStorage = errors.New("transient storage error")
)

// RetryError is returned once every attempt failed with a transient error.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes both ErrTransientStorage and the last attempt's error.
func (e *RetryError) Unwrap() []error { return []error{ErrTransientStorage, e.Err} }

type transientError struct{ err error }

func (e transientError) Error() string   { return e.err.Error() }
func (e transientError) Unwrap() []error { return []error{ErrTransientStorage, e.err} }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// SQLSTATE codes retried on top of the connection exception class "08".
var transientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"23505": {}, // unique_violation, concurrent delete/insert of one key
	"55P03": {}, // lock_not_available
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
}

// IsTransient classifies err. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransientStorage) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := transientCodes[pgErr.Code]; ok {
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Policy bounds the retries of WithRetryableTransaction.
type Policy struct {
	// MaxAttempts defaults to 3.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration
	// Savepoint names the savepoint used when joining an outer transaction.
	Savepoint string
	// Classify overrides IsTransient.
	Classify func(error) bool
	Logger   *slog.Logger
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Savepoint: "tsearch_savepoint"}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Savepoint == "" {
		p.Savepoint = "tsearch_savepoint"
	}
	if p.Classify == nil {
		p.Classify = IsTransient
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// WithRetryableTransaction runs fn in its own transaction when conn can
// begin one, or in a savepoint of the transaction conn already is. A
// failing attempt is rolled back entirely. Transient failures are retried
// up to p.MaxAttempts; other errors are returned at once.
func WithRetryableTransaction(ctx context.Context, conn Execer, p Policy, fn func(ctx context.Context, tx Execer) error) error {
	p = p.withDefaults()

	for attempt := 1; ; attempt++ {
		var err error
		if b, ok := conn.(Beginner); ok {
			err = inTransaction(ctx, b, fn)
		} else {
			err = inSavepoint(ctx, conn, p.Savepoint, fn)
		}
		if err == nil {
			return nil
		}
		if !p.Classify(err) {
			return err
		}

		if attempt >= p.MaxAttempts {
			p.Logger.ErrorContext(ctx, "transaction failed",
				"attempt", attempt,
				"error", err,
			)
			return &RetryError{Attempts: attempt, Err: err}
		}
		p.Logger.WarnContext(ctx, "transaction attempt failed, retrying",
			"attempt", attempt,
			"error", err,
		)

		if p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func inTransaction(ctx context.Context, b Beginner, fn func(context.Context, Execer) error) error {
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func inSavepoint(ctx context.Context, conn Execer, name string, fn func(context.Context, Execer) error) error {
	if _, err := conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(ctx, conn); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := conn.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}
