package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/canonical"
	"github.com/jmerrifield20/docchain/internal/checkpoint"
)

// Signer signs record hashes. *signer.Signer satisfies it.
type Signer interface {
	Sign(hashHex string) []byte
	PublicKeyHex() string
}

// Coordinator owns the write path: genesis, append and reset. All writes made
// through one Coordinator are serialised, and each holds the write lock from
// verification until its checkpoint is written.
type Coordinator struct {
	mu        sync.RWMutex
	store     Store
	cache     checkpoint.Cache
	signer    Signer
	verifier  *Verifier
	logger    *zap.Logger
	now       func() time.Time
	opTimeout time.Duration
}

// NewCoordinator wires a Coordinator. now may be nil to use time.Now.
func NewCoordinator(store Store, cache checkpoint.Cache, s Signer, verifier *Verifier,
	logger *zap.Logger, now func() time.Time, opTimeout time.Duration) *Coordinator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     store,
		cache:     cache,
		signer:    s,
		verifier:  verifier,
		logger:    logger,
		now:       now,
		opTimeout: opTimeout,
	}
}

// Reads returns a Locker that excludes writes made through c. Readers hold it
// while verifying so they never observe a record without its checkpoint.
func (c *Coordinator) Reads() sync.Locker { return c.mu.RLocker() }

// Append verifies the chain and, only if it is intact, links data to the tail.
//
// When the record is stored but the checkpoint cannot be updated, the record
// is returned together with an ErrCheckpointStale error.
func (c *Coordinator) Append(ctx context.Context, data []byte) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.verifier.Verify(ctx); err != nil {
		if ClassOf(err) == ClassInfrastructure {
			return nil, err
		}
		return nil, &Error{Kind: KindChainNotTrusted, Msg: "chain failed verification", Err: err}
	}

	body, hash, err := canonicalise(data)
	if err != nil {
		return nil, err
	}

	all, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range all {
		h, err := canonical.HashRaw(rec.Data)
		if err != nil {
			return nil, &Error{Kind: KindEncodingError, Sequence: rec.Sequence, Msg: "canonicalise record data", Err: err}
		}
		if h == hash {
			return nil, newError(KindDuplicateData, rec.Sequence, "data already recorded at sequence %d", rec.Sequence)
		}
	}

	last, err := c.last(ctx)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, newError(KindNoGenesis, 0, "ledger has no genesis record")
	}
	if err != nil {
		return nil, err
	}

	rec := c.build(last.Sequence+1, last.Hash, body, hash)
	if err := c.insert(ctx, rec); err != nil {
		return nil, err
	}
	c.logger.Info("record appended",
		zap.Int64("sequence", rec.Sequence),
		zap.String("hash", rec.Hash),
	)

	if err := c.writeCheckpoint(ctx, rec.Hash); err != nil {
		return rec, err
	}
	return rec, nil
}

// Genesis creates sequence 1 on an empty store and writes the matching
// checkpoint.
func (c *Coordinator) Genesis(ctx context.Context, data []byte) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genesisLocked(ctx, data)
}

// Reset discards every record and the checkpoint, then writes a new genesis.
func (c *Coordinator) Reset(ctx context.Context, data []byte) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, err := canonicalise(data); err != nil {
		return nil, err
	}

	opCtx, cancel := withTimeout(ctx, c.opTimeout)
	err := c.store.Reset(opCtx)
	cancel()
	if err != nil {
		return nil, unavailable("reset store", err)
	}
	if err := c.cache.Clear(ctx); err != nil {
		return nil, unavailable("clear checkpoint", err)
	}
	c.logger.Warn("ledger reset")
	return c.genesisLocked(ctx, data)
}

func (c *Coordinator) genesisLocked(ctx context.Context, data []byte) (*Record, error) {
	body, hash, err := canonicalise(data)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := withTimeout(ctx, c.opTimeout)
	n, err := c.store.Count(opCtx)
	cancel()
	if err != nil {
		return nil, unavailable("count records", err)
	}
	if n > 0 {
		return nil, newError(KindGenesisExists, 0, "ledger already holds %d records", n)
	}

	rec := c.build(1, GenesisPrevHash, body, hash)
	if err := c.insert(ctx, rec); err != nil {
		if errors.Is(err, ErrAppendConflict) {
			return nil, newError(KindGenesisExists, 0, "genesis written concurrently")
		}
		return nil, err
	}
	c.logger.Info("genesis record created", zap.String("hash", rec.Hash))

	if err := c.writeCheckpoint(ctx, rec.Hash); err != nil {
		return rec, err
	}
	return rec, nil
}

func (c *Coordinator) build(seq int64, prevHash string, body []byte, hash string) *Record {
	return &Record{
		ID:        uuid.New(),
		Sequence:  seq,
		Data:      body,
		Hash:      hash,
		Signature: hex.EncodeToString(c.signer.Sign(hash)),
		VerifyKey: c.signer.PublicKeyHex(),
		PrevHash:  prevHash,
		Timestamp: epochSeconds(c.now()),
	}
}

func (c *Coordinator) insert(ctx context.Context, rec *Record) error {
	ctx, cancel := withTimeout(ctx, c.opTimeout)
	defer cancel()
	err := c.store.Insert(ctx, rec)
	if errors.Is(err, ErrSequenceTaken) {
		return &Error{Kind: KindAppendConflict, Sequence: rec.Sequence, Msg: "tail moved during append", Err: err}
	}
	if err != nil {
		return unavailable("insert record", err)
	}
	return nil
}

func (c *Coordinator) writeCheckpoint(ctx context.Context, hash string) error {
	if err := c.cache.Write(ctx, hash); err != nil {
		c.logger.Error("checkpoint update failed; next verification will report a mismatch",
			zap.String("hash", hash),
			zap.Error(err),
		)
		return &Error{Kind: KindCheckpointStale, Msg: "record stored but checkpoint not updated", Err: err}
	}
	return nil
}

func (c *Coordinator) all(ctx context.Context) ([]*Record, error) {
	ctx, cancel := withTimeout(ctx, c.opTimeout)
	defer cancel()
	all, err := c.store.All(ctx)
	if err != nil {
		return nil, unavailable("scan records", err)
	}
	return all, nil
}

func (c *Coordinator) last(ctx context.Context) (*Record, error) {
	ctx, cancel := withTimeout(ctx, c.opTimeout)
	defer cancel()
	rec, err := c.store.Last(ctx)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, unavailable("fetch tail", err)
	}
	return rec, err
}

// canonicalise returns the canonical form of data and its hash.
func canonicalise(data []byte) ([]byte, string, error) {
	body, err := canonical.MarshalRaw(data)
	if err != nil {
		return nil, "", &Error{Kind: KindEncodingError, Msg: "data is not canonical JSON", Err: err}
	}
	return body, canonical.Sum(body), nil
}
