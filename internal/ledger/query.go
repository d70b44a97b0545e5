package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Top-level data fields understood by the filtered queries.
const (
	FieldDataType   = "dataType"
	FieldIdentifier = "identifier"
)

// Query serves reads. Every call verifies the chain first and returns
// ErrIntegrityFailure instead of data when verification fails.
type Query struct {
	store     Store
	verifier  *Verifier
	reads     sync.Locker
	opTimeout time.Duration
}

// NewQuery wires a Query. reads is held across verification and the read
// that follows it; pass Coordinator.Reads so that appends in flight are not
// mistaken for tampering. A nil reads leaves calls unguarded.
func NewQuery(store Store, verifier *Verifier, reads sync.Locker, opTimeout time.Duration) *Query {
	if reads == nil {
		reads = nopLocker{}
	}
	return &Query{store: store, verifier: verifier, reads: reads, opTimeout: opTimeout}
}

// List returns every record in ascending sequence order.
func (q *Query) List(ctx context.Context) ([]*Record, error) {
	return q.filter(ctx, nil)
}

// ListByType returns records whose data.dataType equals dataType.
func (q *Query) ListByType(ctx context.Context, dataType string) ([]*Record, error) {
	return q.filter(ctx, func(r *Record) bool { return r.field(FieldDataType) == dataType })
}

// ListByIdentifier returns records whose data.identifier equals id.
func (q *Query) ListByIdentifier(ctx context.Context, id string) ([]*Record, error) {
	return q.filter(ctx, func(r *Record) bool { return r.field(FieldIdentifier) == id })
}

// Get returns the record with the given ID.
func (q *Query) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	q.reads.Lock()
	defer q.reads.Unlock()
	if err := q.trust(ctx); err != nil {
		return nil, err
	}
	opCtx, cancel := withTimeout(ctx, q.opTimeout)
	defer cancel()
	return lookup(q.store.GetByID(opCtx, id))
}

// GetBySequence returns the record at seq.
func (q *Query) GetBySequence(ctx context.Context, seq int64) (*Record, error) {
	q.reads.Lock()
	defer q.reads.Unlock()
	if err := q.trust(ctx); err != nil {
		return nil, err
	}
	opCtx, cancel := withTimeout(ctx, q.opTimeout)
	defer cancel()
	return lookup(q.store.GetBySequence(opCtx, seq))
}

// Latest returns the highest-sequence record.
func (q *Query) Latest(ctx context.Context) (*Record, error) {
	q.reads.Lock()
	defer q.reads.Unlock()
	if err := q.trust(ctx); err != nil {
		return nil, err
	}
	opCtx, cancel := withTimeout(ctx, q.opTimeout)
	defer cancel()
	return lookup(q.store.Last(opCtx))
}

func (q *Query) filter(ctx context.Context, keep func(*Record) bool) ([]*Record, error) {
	q.reads.Lock()
	defer q.reads.Unlock()
	if err := q.trust(ctx); err != nil {
		return nil, err
	}
	opCtx, cancel := withTimeout(ctx, q.opTimeout)
	defer cancel()
	all, err := q.store.All(opCtx)
	if err != nil {
		return nil, unavailable("scan records", err)
	}
	out := make([]*Record, 0, len(all))
	for _, r := range all {
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (q *Query) trust(ctx context.Context) error {
	err := q.verifier.Verify(ctx)
	if err == nil || ClassOf(err) == ClassInfrastructure {
		return err
	}
	return &Error{Kind: KindIntegrityFailure, Msg: "chain failed verification", Err: err}
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

func lookup(rec *Record, err error) (*Record, error) {
	if errors.Is(err, ErrRecordNotFound) {
		return nil, newError(KindNotFound, 0, "record not found")
	}
	if err != nil {
		return nil, unavailable("fetch record", err)
	}
	return rec, nil
}
