package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound is returned by Store lookups that match nothing.
	ErrRecordNotFound = errors.New("record not found")

	// ErrSequenceTaken is returned by Store.Insert when the record does not
	// extend the current tail: its sequence is already assigned, or its
	// predecessor is not the record the caller observed.
	ErrSequenceTaken = errors.New("sequence already assigned or tail moved")
)

// Store is the append-only persistence boundary. Implementations only move
// records in and out; every integrity decision is made by Verifier and
// Coordinator.
type Store interface {
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// GetBySequence returns the record at seq or ErrRecordNotFound.
	GetBySequence(ctx context.Context, seq int64) (*Record, error)

	// GetByID returns the record with the given ID or ErrRecordNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// Last returns the highest-sequence record or ErrRecordNotFound.
	Last(ctx context.Context) (*Record, error)

	// All returns every record ordered by ascending sequence.
	All(ctx context.Context) ([]*Record, error)

	// Insert persists rec atomically. It must fail with ErrSequenceTaken
	// unless rec.Sequence is exactly one past the current highest sequence
	// and rec.PrevHash equals that record's hash (or the store is empty and
	// rec.Sequence is 1).
	Insert(ctx context.Context, rec *Record) error

	// Reset discards every record.
	Reset(ctx context.Context) error
}
