package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/tsearch/codec"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS checkpoint (
  name TEXT PRIMARY KEY,
  version INTEGER NOT NULL,
  payload BLOB NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`

// SQLiteStore keeps states in a local SQLite file, the resumable state file
// of a reindex run.
type SQLiteStore struct {
	db    *sql.DB
	codec codec.Codec
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) the state file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: init %s: %w", path, err)
	}
	return &SQLiteStore{db: db, codec: codec.Default}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (*State, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM checkpoint WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var st State
	if err := s.codec.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", name, err)
	}
	return &st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, name string, st *State) error {
	next := st.Clone()
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	payload, err := s.codec.Marshal(next)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if st.Version == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO checkpoint (name, version, payload, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			name, next.Version, payload, next.UpdatedAt)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE checkpoint SET version = ?, payload = ?, updated_at = ? WHERE name = ? AND version = ?`,
			next.Version, payload, next.UpdatedAt, name, st.Version)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentModification
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	st.Version, st.UpdatedAt = next.Version, next.UpdatedAt
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoint WHERE name = ?`, name)
	return err
}
