package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises Insert across every process sharing the
// database. The value is arbitrary but must be identical everywhere.
const advisoryLockKey = int64(1_482_305_117)

const recordColumns = `id, sequence, data, hash, signature, verify_key, prev_hash, timestamp`

// PostgresStore persists records in the ledger_records table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger records: %w", err)
	}
	return n, nil
}

// GetBySequence implements Store.
func (s *PostgresStore) GetBySequence(ctx context.Context, seq int64) (*Record, error) {
	return s.queryOne(ctx,
		`SELECT `+recordColumns+` FROM ledger_records WHERE sequence = $1`, seq)
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.queryOne(ctx,
		`SELECT `+recordColumns+` FROM ledger_records WHERE id = $1`, id)
}

// Last implements Store.
func (s *PostgresStore) Last(ctx context.Context) (*Record, error) {
	return s.queryOne(ctx,
		`SELECT `+recordColumns+` FROM ledger_records ORDER BY sequence DESC LIMIT 1`)
}

// All implements Store.
func (s *PostgresStore) All(ctx context.Context) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM ledger_records ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ledger records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert implements Store.
// It takes a transaction-scoped advisory lock, re-reads the tail, and only
// inserts when rec extends it. The primary key on sequence is the backstop.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var tailSeq int64
	var tailHash string
	err = tx.QueryRow(ctx,
		"SELECT sequence, hash FROM ledger_records ORDER BY sequence DESC LIMIT 1",
	).Scan(&tailSeq, &tailHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if rec.Sequence != 1 {
			return ErrSequenceTaken
		}
	case err != nil:
		return fmt.Errorf("read ledger tail: %w", err)
	case rec.Sequence != tailSeq+1 || rec.PrevHash != tailHash:
		return ErrSequenceTaken
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Sequence, string(rec.Data), rec.Hash,
		rec.Signature, rec.VerifyKey, rec.PrevHash, rec.Timestamp,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSequenceTaken
		}
		return fmt.Errorf("insert ledger record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger record inserted",
		zap.Int64("sequence", rec.Sequence),
		zap.String("hash", rec.Hash),
	)
	return nil
}

// Reset implements Store.
func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE ledger_records"); err != nil {
		return fmt.Errorf("truncate ledger records: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (*Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger record: %w", err)
	}
	return r, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	r := &Record{}
	var data string
	if err := row.Scan(
		&r.ID, &r.Sequence, &data, &r.Hash,
		&r.Signature, &r.VerifyKey, &r.PrevHash, &r.Timestamp,
	); err != nil {
		return nil, err
	}
	r.Data = json.RawMessage(data)
	return r, nil
}
