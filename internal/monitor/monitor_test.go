package monitor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/ledger"
	"github.com/jmerrifield20/docchain/internal/monitor"
	"github.com/jmerrifield20/docchain/internal/webhooks"
)

type scriptedChecker struct {
	mu      sync.Mutex
	reports []ledger.Report
	errs    []error
	calls   int
}

func (c *scriptedChecker) Check(context.Context) (ledger.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.reports) {
		i = len(c.reports) - 1
	}
	c.calls++
	return c.reports[i], c.errs[i]
}

type recordingSender struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	to       [][]string
}

func (s *recordingSender) Send(_ context.Context, to []string, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, to)
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, body)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

var (
	intact   = ledger.Report{Intact: true, Records: 3}
	tampered = ledger.Report{Kind: ledger.KindDataTampered, Reason: "record 2 data does not match its hash", Records: 3}
)

func TestCheckOnce_alertsOnTransitionOnly(t *testing.T) {
	checker := &scriptedChecker{
		reports: []ledger.Report{intact, tampered, tampered, intact, tampered},
		errs:    make([]error, 5),
	}
	sender := &recordingSender{}
	m := monitor.New(checker, sender, monitor.Config{Recipients: []string{"ops@example.com"}}, zap.NewNop())

	var metrics int
	m.SetMetricsRecord(func(ledger.Report, error) { metrics++ })

	ctx := context.Background()
	wantAlerts := []int{0, 1, 1, 1, 2}
	for i, want := range wantAlerts {
		if _, err := m.CheckOnce(ctx); err != nil {
			t.Fatal(err)
		}
		if got := sender.count(); got != want {
			t.Errorf("after check %d: expected %d alerts, got %d", i+1, want, got)
		}
	}
	if metrics != 5 {
		t.Errorf("expected 5 metric callbacks, got %d", metrics)
	}

	if !strings.Contains(sender.bodies[0], "DataTampered") {
		t.Errorf("alert body missing kind:\n%s", sender.bodies[0])
	}
	if sender.to[0][0] != "ops@example.com" {
		t.Errorf("unexpected recipients %v", sender.to[0])
	}
	if compromised, kind := m.Compromised(); !compromised || kind != ledger.KindDataTampered {
		t.Errorf("Compromised() = %v, %v", compromised, kind)
	}
}

func TestCheckOnce_infrastructureFailureKeepsState(t *testing.T) {
	down := &ledger.Error{Kind: ledger.KindStoreUnavailable, Err: errors.New("connection refused")}
	checker := &scriptedChecker{
		reports: []ledger.Report{tampered, {}, intact},
		errs:    []error{nil, down, nil},
	}
	sender := &recordingSender{}
	m := monitor.New(checker, sender, monitor.Config{Recipients: []string{"ops@example.com"}}, zap.NewNop())

	ctx := context.Background()
	_, _ = m.CheckOnce(ctx)
	if _, err := m.CheckOnce(ctx); !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Errorf("expected store unavailable, got %v", err)
	}
	if compromised, _ := m.Compromised(); !compromised {
		t.Error("infrastructure failure must not clear the compromised state")
	}
	_, _ = m.CheckOnce(ctx)
	if compromised, _ := m.Compromised(); compromised {
		t.Error("expected recovery after an intact check")
	}
	if sender.count() != 1 {
		t.Errorf("expected exactly one alert, got %d", sender.count())
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	checker := &scriptedChecker{reports: []ledger.Report{intact}, errs: []error{nil}}
	m := monitor.New(checker, &recordingSender{}, monitor.Config{Interval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}

	checker.mu.Lock()
	calls := checker.calls
	checker.mu.Unlock()
	if calls < 2 {
		t.Errorf("expected repeated checks, got %d", calls)
	}
}

type recordingNotifier struct {
	events   []string
	payloads []map[string]string
}

func (n *recordingNotifier) Dispatch(_ context.Context, event string, payload map[string]string) {
	n.events = append(n.events, event)
	n.payloads = append(n.payloads, payload)
}

func TestCheckOnce_notifiesTransitions(t *testing.T) {
	checker := &scriptedChecker{
		reports: []ledger.Report{intact, tampered, tampered, intact},
		errs:    make([]error, 4),
	}
	notifier := &recordingNotifier{}
	m := monitor.New(checker, &recordingSender{}, monitor.Config{}, zap.NewNop())
	m.SetNotifier(notifier)

	for range checker.reports {
		if _, err := m.CheckOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{webhooks.EventChainCompromised, webhooks.EventChainRecovered}
	if len(notifier.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, notifier.events)
	}
	for i := range want {
		if notifier.events[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], notifier.events[i])
		}
	}
	if notifier.payloads[0]["kind"] != string(ledger.KindDataTampered) || notifier.payloads[0]["records"] != "3" {
		t.Errorf("unexpected compromise payload %v", notifier.payloads[0])
	}
	if _, ok := notifier.payloads[1]["kind"]; ok {
		t.Errorf("recovery payload should not carry a kind: %v", notifier.payloads[1])
	}
}
