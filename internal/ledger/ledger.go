// Package ledger implements a tamper-evident, append-only chain of signed
// JSON documents.
//
// Each record carries the SHA-256 of its canonical data, the hash of its
// predecessor and an Ed25519 signature. An encrypted checkpoint held outside
// the store pins the hash of the newest record so that a wholesale rollback of
// the store is detectable. Every read and write re-verifies the whole chain
// before it proceeds.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/checkpoint"
)

const (
	defaultOpTimeout  = 5 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// Option configures a Ledger.
type Option func(*options)

type options struct {
	opTimeout  time.Duration
	maxRetries uint
	retryDelay time.Duration
	now        func() time.Time
}

// WithOpTimeout bounds each individual store operation. Zero disables it.
func WithOpTimeout(d time.Duration) Option { return func(o *options) { o.opTimeout = d } }

// WithMaxRetries sets how many attempts an infrastructure failure gets.
// One disables retries.
func WithMaxRetries(n uint) Option { return func(o *options) { o.maxRetries = n } }

// WithRetryDelay sets the first backoff interval.
func WithRetryDelay(d time.Duration) Option { return func(o *options) { o.retryDelay = d } }

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Ledger bundles the verifier, the write coordinator and the query layer
// around one store, checkpoint and signer.
type Ledger struct {
	store       Store
	verifier    *Verifier
	coordinator *Coordinator
	query       *Query
	reads       sync.Locker
	logger      *zap.Logger
	opts        options
}

// New wires a Ledger.
func New(store Store, cache checkpoint.Cache, s Signer, logger *zap.Logger, opts ...Option) *Ledger {
	o := options{
		opTimeout:  defaultOpTimeout,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := NewVerifier(store, cache, o.opTimeout)
	c := NewCoordinator(store, cache, s, v, logger, o.now, o.opTimeout)
	return &Ledger{
		store:       store,
		verifier:    v,
		coordinator: c,
		query:       NewQuery(store, v, c.Reads(), o.opTimeout),
		reads:       c.Reads(),
		logger:      logger,
		opts:        o,
	}
}

// Report is the outcome of an integrity check.
type Report struct {
	Intact     bool   `json:"integrity"`
	Reason     string `json:"message"`
	Kind       Kind   `json:"kind,omitempty"`
	Records    int64  `json:"records"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// Verify re-derives trust in the chain. Infrastructure failures are retried.
func (l *Ledger) Verify(ctx context.Context) error {
	_, err := retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() (struct{}, error) {
		l.reads.Lock()
		defer l.reads.Unlock()
		return struct{}{}, l.verifier.Verify(ctx)
	})
	return err
}

// Check verifies the chain and summarises the outcome. The returned error is
// non-nil only for infrastructure failures; integrity failures are reported
// in the Report.
func (l *Ledger) Check(ctx context.Context) (Report, error) {
	r, err := retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() (Report, error) {
		return l.check(ctx)
	})
	if err != nil {
		return Report{}, err
	}
	if !r.Intact {
		l.logger.Warn("ledger integrity check failed",
			zap.String("kind", string(r.Kind)),
			zap.String("reason", r.Reason),
		)
	}
	return r, nil
}

// check verifies and summarises one snapshot of the chain under the read
// lock.
func (l *Ledger) check(ctx context.Context) (Report, error) {
	l.reads.Lock()
	defer l.reads.Unlock()

	err := l.verifier.Verify(ctx)
	if err != nil && ClassOf(err) == ClassInfrastructure {
		return Report{}, err
	}

	var r Report
	opCtx, cancel := withTimeout(ctx, l.opts.opTimeout)
	if n, cerr := l.store.Count(opCtx); cerr == nil {
		r.Records = n
	}
	cancel()

	if err != nil {
		kind, _ := KindOf(err)
		r.Kind = kind
		r.Reason = err.Error()
		return r, nil
	}

	r.Intact = true
	r.Reason = "chain verified"
	opCtx, cancel = withTimeout(ctx, l.opts.opTimeout)
	defer cancel()
	if last, lerr := l.store.Last(opCtx); lerr == nil {
		r.Checkpoint = last.Hash
	}
	return r, nil
}

// Append links data to the chain tail.
func (l *Ledger) Append(ctx context.Context, data []byte) (*Record, error) {
	return retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() (*Record, error) {
		return l.coordinator.Append(ctx, data)
	})
}

// Genesis writes the first record of an empty ledger.
func (l *Ledger) Genesis(ctx context.Context, data []byte) (*Record, error) {
	return retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() (*Record, error) {
		return l.coordinator.Genesis(ctx, data)
	})
}

// Reset discards the whole ledger and starts a new chain from data.
func (l *Ledger) Reset(ctx context.Context, data []byte) (*Record, error) {
	return l.coordinator.Reset(ctx, data)
}

// List returns every record in sequence order.
func (l *Ledger) List(ctx context.Context) ([]*Record, error) {
	return retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() ([]*Record, error) {
		return l.query.List(ctx)
	})
}

// ListByType returns records whose data.dataType matches.
func (l *Ledger) ListByType(ctx context.Context, dataType string) ([]*Record, error) {
	return retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() ([]*Record, error) {
		return l.query.ListByType(ctx, dataType)
	})
}

// ListByIdentifier returns records whose data.identifier matches.
func (l *Ledger) ListByIdentifier(ctx context.Context, id string) ([]*Record, error) {
	return retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() ([]*Record, error) {
		return l.query.ListByIdentifier(ctx, id)
	})
}

// Get returns the record with the given ID.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() (*Record, error) {
		return l.query.Get(ctx, id)
	})
}

// GetBySequence returns the record at seq.
func (l *Ledger) GetBySequence(ctx context.Context, seq int64) (*Record, error) {
	return retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() (*Record, error) {
		return l.query.GetBySequence(ctx, seq)
	})
}

// Latest returns the newest record.
func (l *Ledger) Latest(ctx context.Context) (*Record, error) {
	return retry(ctx, l.opts.maxRetries, l.opts.retryDelay, func() (*Record, error) {
		return l.query.Latest(ctx)
	})
}

// Export returns every record without verifying the chain. It exists for
// offline audits of a chain that may already be compromised.
func (l *Ledger) Export(ctx context.Context) ([]*Record, error) {
	l.reads.Lock()
	defer l.reads.Unlock()
	opCtx, cancel := withTimeout(ctx, l.opts.opTimeout)
	defer cancel()
	all, err := l.store.All(opCtx)
	if err != nil {
		return nil, unavailable("scan records", err)
	}
	return all, nil
}
