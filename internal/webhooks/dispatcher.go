// Package webhooks delivers signed integrity events to operator endpoints.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Dispatcher fans events out to a fixed set of endpoints.
type Dispatcher struct {
	endpoints  []Endpoint
	httpClient *http.Client
	maxTries   uint
	retryDelay time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher. Each delivery is tried up to three
// times with exponential backoff starting at one second.
func NewDispatcher(endpoints []Endpoint, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxTries:   3,
		retryDelay: time.Second,
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// SetRetry overrides the per-endpoint try count and initial backoff delay.
func (d *Dispatcher) SetRetry(maxTries uint, initial time.Duration) {
	d.maxTries = max(maxTries, 1)
	d.retryDelay = initial
}

// Dispatch delivers the event to every endpoint concurrently and returns once
// each delivery has succeeded or exhausted its retries.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if len(d.endpoints) == 0 {
		return
	}
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, ep := range d.endpoints {
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			d.deliver(ctx, ep, event, body)
		}(ep)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, event Event, body []byte) {
	signature := Sign(body, ep.Secret)
	attempt := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := d.post(ctx, ep.URL, event, body, signature)
		if d.onMetrics != nil {
			d.onMetrics(err == nil)
		}
		if err != nil {
			d.logger.Warn("webhook: delivery failed",
				zap.String("url", ep.URL),
				zap.String("event", event.Type),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.maxTries))

	if err != nil {
		d.logger.Error("webhook: giving up", zap.String("url", ep.URL), zap.String("event", event.Type))
		return
	}
	d.logger.Info("webhook delivered", zap.String("url", ep.URL), zap.String("event", event.Type))
}

func (d *Dispatcher) post(ctx context.Context, url string, event Event, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Docchain-Event", event.Type)
	req.Header.Set("X-Docchain-Delivery", event.ID)
	req.Header.Set(SignatureHeader, signature)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of body. Receivers use
// it to authenticate deliveries.
func Verify(body []byte, secret, header string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(header))
}
