package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/docchain/internal/ledger"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchain_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docchain_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchain_appends_total",
		Help: "Append attempts by outcome kind (ok or the failure kind).",
	}, []string{"result"})

	integrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchain_integrity_checks_total",
		Help: "Integrity checks by outcome kind (ok or the failure kind).",
	}, []string{"result"})

	chainIntact = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docchain_chain_intact",
		Help: "1 when the last integrity check passed, 0 otherwise.",
	})

	chainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docchain_chain_length",
		Help: "Number of records seen by the last integrity check.",
	})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchain_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docchain_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend counts an append attempt.
func RecordAppend(err error) {
	appendsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordIntegrityCheck publishes the outcome of an integrity check.
func RecordIntegrityCheck(r ledger.Report, err error) {
	switch {
	case err != nil:
		integrityChecksTotal.WithLabelValues(resultLabel(err)).Inc()
		return
	case r.Intact:
		integrityChecksTotal.WithLabelValues("ok").Inc()
		chainIntact.Set(1)
	default:
		integrityChecksTotal.WithLabelValues(string(r.Kind)).Inc()
		chainIntact.Set(0)
	}
	chainLength.Set(float64(r.Records))
}

// RecordWebhookDelivery counts a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveries.WithLabelValues("success").Inc()
		return
	}
	webhookDeliveries.WithLabelValues("failure").Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k, ok := ledger.KindOf(err); ok {
		return string(k)
	}
	return "error"
}
