package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jmerrifield20/docchain/internal/canonical"
	"github.com/jmerrifield20/docchain/internal/checkpoint"
)

// Verifier re-derives trust in the chain from the store and the checkpoint.
// It keeps no state between calls.
type Verifier struct {
	store     Store
	cache     checkpoint.Cache
	opTimeout time.Duration
}

// NewVerifier returns a Verifier. A zero opTimeout disables per-operation
// deadlines.
func NewVerifier(store Store, cache checkpoint.Cache, opTimeout time.Duration) *Verifier {
	return &Verifier{store: store, cache: cache, opTimeout: opTimeout}
}

// Verify walks the whole chain and returns nil when every check passes. The
// first failing check short-circuits with an *Error describing it.
func (v *Verifier) Verify(ctx context.Context) error {
	count, err := v.count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return newError(KindEmptyChain, 0, "ledger holds no records")
	}

	var last *Record
	for seq := int64(1); seq <= count; seq++ {
		rec, err := v.fetch(ctx, seq)
		if err != nil {
			return err
		}
		if err := checkHash(rec); err != nil {
			return err
		}
		if seq == 1 {
			if rec.PrevHash != GenesisPrevHash {
				return newError(KindChainBroken, 1, "genesis record has non-zero prev_hash")
			}
		} else {
			prev, err := v.fetch(ctx, seq-1)
			if err != nil {
				return err
			}
			if rec.PrevHash != prev.Hash {
				return newError(KindChainBroken, seq, "record %d does not link to record %d", seq, seq-1)
			}
		}
		last = rec
	}

	all, err := v.all(ctx)
	if err != nil {
		return err
	}
	if err := checkDuplicates(all); err != nil {
		return err
	}
	if err := checkContinuity(all, count); err != nil {
		return err
	}
	return v.checkCheckpoint(ctx, last)
}

func (v *Verifier) checkCheckpoint(ctx context.Context, last *Record) error {
	want, err := canonical.HashRaw(last.Data)
	if err != nil {
		return &Error{Kind: KindEncodingError, Sequence: last.Sequence, Msg: "hash tail record", Err: err}
	}
	got, err := v.cache.Read(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return newError(KindCacheMissing, 0, "checkpoint not found")
	case errors.Is(err, checkpoint.ErrTampered):
		return &Error{Kind: KindTamperSuspected, Msg: "checkpoint cannot be authenticated", Err: err}
	case err != nil:
		return unavailable("read checkpoint", err)
	}
	if got != want {
		return newError(KindCheckpointMismatch, last.Sequence,
			"checkpoint %s does not match tail record %d", short(got), last.Sequence)
	}
	return nil
}

func checkHash(rec *Record) error {
	h, err := canonical.HashRaw(rec.Data)
	if err != nil {
		return &Error{Kind: KindEncodingError, Sequence: rec.Sequence, Msg: "canonicalise record data", Err: err}
	}
	if h != rec.Hash {
		return newError(KindDataTampered, rec.Sequence, "record %d data does not match its hash", rec.Sequence)
	}
	return nil
}

// checkDuplicates compares the recomputed hash of every record against every
// other record.
func checkDuplicates(all []*Record) error {
	seen := make(map[string]int64, len(all))
	for _, rec := range all {
		h, err := canonical.HashRaw(rec.Data)
		if err != nil {
			return &Error{Kind: KindEncodingError, Sequence: rec.Sequence, Msg: "canonicalise record data", Err: err}
		}
		if first, ok := seen[h]; ok && first != rec.Sequence {
			return newError(KindClonedData, rec.Sequence,
				"record %d duplicates the data of record %d", rec.Sequence, first)
		}
		seen[h] = rec.Sequence
	}
	return nil
}

func checkContinuity(all []*Record, count int64) error {
	seqs := make([]int64, len(all))
	for i, rec := range all {
		seqs[i] = rec.Sequence
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if int64(len(seqs)) != count {
		return newError(KindSequenceMismatch, 0, "store reports %d records but returned %d", count, len(seqs))
	}
	for i, s := range seqs {
		if s != int64(i)+1 {
			return newError(KindSequenceMismatch, s, "expected sequence %d, found %d", i+1, s)
		}
	}
	return nil
}

func (v *Verifier) count(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, v.opTimeout)
	defer cancel()
	n, err := v.store.Count(ctx)
	if err != nil {
		return 0, unavailable("count records", err)
	}
	return n, nil
}

func (v *Verifier) fetch(ctx context.Context, seq int64) (*Record, error) {
	ctx, cancel := withTimeout(ctx, v.opTimeout)
	defer cancel()
	rec, err := v.store.GetBySequence(ctx, seq)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, newError(KindMissingSequence, seq, "record %d is missing", seq)
	}
	if err != nil {
		return nil, unavailable("fetch record", err)
	}
	return rec, nil
}

func (v *Verifier) all(ctx context.Context) ([]*Record, error) {
	ctx, cancel := withTimeout(ctx, v.opTimeout)
	defer cancel()
	all, err := v.store.All(ctx)
	if err != nil {
		return nil, unavailable("scan records", err)
	}
	return all, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
