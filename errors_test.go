package tsearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/source"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	canceled := fmt.Errorf("query: %w", context.Canceled)
	assert.Same(t, canceled, translateError(canceled))

	unsupported := &field.UnsupportedOperatorError{Field: "title", Op: field.OpDefault}
	assert.Same(t, error(unsupported), translateError(unsupported))
	assert.ErrorIs(t, translateError(unsupported), ErrUnsupportedOperator)

	transient := fmt.Errorf("planner: %w", &pgconn.PgError{Code: "40001"})
	got := translateError(transient)
	assert.ErrorIs(t, got, ErrTransientStorage)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, got, &pgErr)

	plain := errors.New("syntax error")
	assert.Same(t, plain, translateError(plain))

	notFound := fmt.Errorf("X:1: %w", source.ErrNotFound)
	assert.ErrorIs(t, translateError(notFound), ErrObjectNotFound)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()
	ref := source.Ref{ClassName: "X", ID: 7}

	logger.LogBrokenIndex(ctx, ref, source.ErrNotFound)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"msg":"broken index: object not found"`)
	assert.Contains(t, buf.String(), `"classname":"X"`)
	assert.Contains(t, buf.String(), `"id":7`)

	buf.Reset()
	logger.WithQueryID("abc").LogQuery(ctx, "long query", "long", 42, 10, 3, 0, nil)
	assert.Contains(t, buf.String(), `"query_id":"abc"`)
	assert.Contains(t, buf.String(), `"plan":"long"`)
	assert.Contains(t, buf.String(), `"rows":3`)

	buf.Reset()
	logger.LogIndex(ctx, ref, "tx", errors.New("boom"))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"table":"tx"`)

	buf.Reset()
	NoopLogger().LogIndex(ctx, ref, "tx", errors.New("boom"))
	assert.Empty(t, buf.String())
}
