package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_records (
  sequence   INTEGER PRIMARY KEY CHECK (sequence >= 1),
  id         TEXT    NOT NULL UNIQUE,
  data       TEXT    NOT NULL,
  hash       TEXT    NOT NULL,
  signature  TEXT    NOT NULL,
  verify_key TEXT    NOT NULL,
  prev_hash  TEXT    NOT NULL,
  timestamp  REAL    NOT NULL
);`

// SQLiteStore persists records in an embedded SQLite database.
type SQLiteStore struct{ db *sql.DB }

// OpenSQLiteStore opens or creates the database at dsn, applies PRAGMAs, and
// ensures the schema exists.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger records: %w", err)
	}
	return n, nil
}

// GetBySequence implements Store.
func (s *SQLiteStore) GetBySequence(ctx context.Context, seq int64) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM ledger_records WHERE sequence = ?`, seq)
}

// GetByID implements Store.
func (s *SQLiteStore) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM ledger_records WHERE id = ?`, id.String())
}

// Last implements Store.
func (s *SQLiteStore) Last(ctx context.Context) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM ledger_records ORDER BY sequence DESC LIMIT 1`)
}

// All implements Store.
func (s *SQLiteStore) All(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM ledger_records ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ledger records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert implements Store. The tail check and insert share one serializable
// transaction.
func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tailSeq int64
	var tailHash string
	err = tx.QueryRowContext(ctx,
		`SELECT sequence, hash FROM ledger_records ORDER BY sequence DESC LIMIT 1`,
	).Scan(&tailSeq, &tailHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if rec.Sequence != 1 {
			return ErrSequenceTaken
		}
	case err != nil:
		return fmt.Errorf("read ledger tail: %w", err)
	case rec.Sequence != tailSeq+1 || rec.PrevHash != tailHash:
		return ErrSequenceTaken
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Sequence, string(rec.Data), rec.Hash,
		rec.Signature, rec.VerifyKey, rec.PrevHash, rec.Timestamp,
	); err != nil {
		return fmt.Errorf("insert ledger record: %w", err)
	}
	return tx.Commit()
}

// Reset implements Store.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ledger_records`); err != nil {
		return fmt.Errorf("delete ledger records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*Record, error) {
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger record: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*Record, error) {
	r := &Record{}
	var id, data string
	if err := row.Scan(
		&id, &r.Sequence, &data, &r.Hash,
		&r.Signature, &r.VerifyKey, &r.PrevHash, &r.Timestamp,
	); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse record id %q: %w", id, err)
	}
	r.ID = parsed
	r.Data = []byte(data)
	return r, nil
}
