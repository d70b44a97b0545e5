package handler

import (
	"testing"
	"time"
)

func TestClientLimiters_reserveAndSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cl := newClientLimiters(1, 1)
	cl.now = func() time.Time { return now }

	if wait := cl.reserve("10.0.0.1"); wait != 0 {
		t.Fatalf("first request should pass, wait %v", wait)
	}
	wait := cl.reserve("10.0.0.1")
	if wait <= 0 || wait > time.Second {
		t.Fatalf("second request: wait %v, want (0, 1s]", wait)
	}
	if wait := cl.reserve("10.0.0.2"); wait != 0 {
		t.Fatalf("other client should have its own bucket, wait %v", wait)
	}

	// A rejected request must not consume the token it waited for.
	now = now.Add(time.Second)
	if wait := cl.reserve("10.0.0.1"); wait != 0 {
		t.Fatalf("token should have refilled, wait %v", wait)
	}

	now = now.Add(limiterIdleTTL + time.Second)
	cl.buckets["10.0.0.1"].seen = now
	if left := cl.sweep(limiterIdleTTL); left != 1 {
		t.Fatalf("sweep left %d buckets, want 1", left)
	}
	if _, ok := cl.buckets["10.0.0.2"]; ok {
		t.Fatal("idle client was not swept")
	}
}
