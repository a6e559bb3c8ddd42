package sqldb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransient(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))
	assert.True(t, IsTransient(Transient(errors.New("flaky"))))

	assert.False(t, IsTransient(&pgconn.PgError{Code: "42601"}))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}

func TestWithRetryableTransaction_CommitsOnceAfterRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	deadlock := &pgconn.PgError{Code: "40P01"}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM t").WillReturnError(deadlock)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM t").WillReturnError(deadlock)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err = WithRetryableTransaction(context.Background(), db, Policy{MaxAttempts: 3}, func(ctx context.Context, tx Execer) error {
		calls++
		_, err := tx.ExecContext(ctx, "DELETE FROM t")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryableTransaction_Exhausted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	flaky := Transient(errors.New("flaky"))
	err = WithRetryableTransaction(context.Background(), db, Policy{MaxAttempts: 2}, func(context.Context, Execer) error {
		return flaky
	})

	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Attempts)
	assert.True(t, errors.Is(err, ErrTransientStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryableTransaction_FatalNotRetried(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	calls := 0
	err = WithRetryableTransaction(context.Background(), db, Policy{}, func(context.Context, Execer) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryableTransaction_Savepoint(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec("ROLLBACK TO SAVEPOINT sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("RELEASE SAVEPOINT sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)

	err = WithRetryableTransaction(context.Background(), tx, Policy{Savepoint: "sp"}, func(ctx context.Context, tx Execer) error {
		_, err := tx.ExecContext(ctx, "INSERT")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
