// Package monitor periodically re-verifies the ledger and alerts operators
// when the chain stops verifying.
package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/email"
	"github.com/jmerrifield20/docchain/internal/ledger"
	"github.com/jmerrifield20/docchain/internal/webhooks"
)

// Config holds monitor configuration.
type Config struct {
	Interval   time.Duration
	Recipients []string
	Subject    string
}

// Checker is the part of *ledger.Ledger the monitor needs.
type Checker interface {
	Check(ctx context.Context) (ledger.Report, error)
}

// Notifier receives state transitions, e.g. a *webhooks.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// MetricsRecordFunc is an optional callback invoked after every check.
type MetricsRecordFunc func(r ledger.Report, err error)

// Monitor runs integrity checks on a fixed interval. It alerts once when the
// chain goes from intact (or unknown) to compromised and logs the recovery.
type Monitor struct {
	checker   Checker
	sender    email.Sender
	cfg       Config
	onMetrics MetricsRecordFunc
	notifier  Notifier
	logger    *zap.Logger

	mu          sync.Mutex
	compromised bool
	lastKind    ledger.Kind
}

// New creates a Monitor.
func New(checker Checker, sender email.Sender, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Subject == "" {
		cfg.Subject = "[docchain] ledger integrity failure"
	}
	return &Monitor{checker: checker, sender: sender, cfg: cfg, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// SetNotifier configures an additional alert channel.
func (m *Monitor) SetNotifier(n Notifier) {
	m.notifier = n
}

// Start runs the check loop until ctx is cancelled. The first check runs
// immediately.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.runOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) {
	timeout := m.cfg.Interval - time.Second
	if timeout <= 0 {
		timeout = m.cfg.Interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	m.CheckOnce(ctx)
}

// CheckOnce runs a single check and returns its report. Infrastructure
// failures are logged and leave the alert state unchanged.
func (m *Monitor) CheckOnce(ctx context.Context) (ledger.Report, error) {
	r, err := m.checker.Check(ctx)
	if m.onMetrics != nil {
		m.onMetrics(r, err)
	}
	if err != nil {
		m.logger.Error("integrity monitor: check failed", zap.Error(err))
		return r, err
	}

	m.mu.Lock()
	wasCompromised := m.compromised
	m.compromised = !r.Intact
	m.lastKind = r.Kind
	m.mu.Unlock()

	switch {
	case !r.Intact && !wasCompromised:
		m.logger.Warn("integrity monitor: chain compromised",
			zap.String("kind", string(r.Kind)),
			zap.String("reason", r.Reason),
		)
		m.alert(ctx, r)
		m.notify(ctx, webhooks.EventChainCompromised, r)
	case r.Intact && wasCompromised:
		m.logger.Info("integrity monitor: chain verifies again", zap.Int64("records", r.Records))
		m.notify(ctx, webhooks.EventChainRecovered, r)
	}
	return r, nil
}

// Compromised reports the state observed by the last successful check.
func (m *Monitor) Compromised() (bool, ledger.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compromised, m.lastKind
}

func (m *Monitor) alert(ctx context.Context, r ledger.Report) {
	if len(m.cfg.Recipients) == 0 {
		m.logger.Warn("integrity monitor: no alert recipients configured")
		return
	}
	if err := m.sender.Send(ctx, m.cfg.Recipients, m.cfg.Subject, alertBody(r, time.Now().UTC())); err != nil {
		m.logger.Error("integrity monitor: send alert", zap.Error(err))
	}
}

func (m *Monitor) notify(ctx context.Context, event string, r ledger.Report) {
	if m.notifier == nil {
		return
	}
	payload := map[string]string{"records": strconv.FormatInt(r.Records, 10)}
	if !r.Intact {
		payload["kind"] = string(r.Kind)
		payload["reason"] = r.Reason
	}
	m.notifier.Dispatch(ctx, event, payload)
}

func alertBody(r ledger.Report, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The ledger failed integrity verification at %s.\n\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "Failure kind: %s\n", r.Kind)
	fmt.Fprintf(&b, "Detail: %s\n", r.Reason)
	fmt.Fprintf(&b, "Records in store: %d\n\n", r.Records)
	b.WriteString("All reads and appends are refused until the chain verifies again.\n")
	return b.String()
}
