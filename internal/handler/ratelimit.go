package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// clientLimiters keeps one token bucket per client IP.
type clientLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newClientLimiters(rps, burst int) *clientLimiters {
	return &clientLimiters{
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// reserve takes a token for ip. It returns zero when the request may
// proceed, or how long the client should wait otherwise.
func (cl *clientLimiters) reserve(ip string) time.Duration {
	cl.mu.Lock()
	b, ok := cl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.buckets[ip] = b
	}
	now := cl.now()
	b.seen = now
	cl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	wait := r.DelayFrom(now)
	if wait > 0 {
		r.CancelAt(now)
	}
	return wait
}

// sweep drops buckets not used within idle and reports how many remain.
func (cl *clientLimiters) sweep(idle time.Duration) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cutoff := cl.now().Add(-idle)
	for ip, b := range cl.buckets {
		if b.seen.Before(cutoff) {
			delete(cl.buckets, ip)
		}
	}
	return len(cl.buckets)
}

func (cl *clientLimiters) sweepUntilDone(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cl.sweep(limiterIdleTTL)
		}
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting with rps steady-state requests per second and the given
// burst. Rejected requests get 429 with a Retry-After in whole seconds.
// Idle clients are forgotten until ctx is done.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	cl := newClientLimiters(rps, burst)
	go cl.sweepUntilDone(ctx)

	return func(c *gin.Context) {
		wait := cl.reserve(c.ClientIP())
		if wait == 0 {
			c.Next()
			return
		}
		rateLimited.Inc()
		secs := int(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
	}
}
