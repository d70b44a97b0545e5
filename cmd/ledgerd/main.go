package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/bootstrap"
	"github.com/jmerrifield20/docchain/internal/config"
	"github.com/jmerrifield20/docchain/internal/handler"
	"github.com/jmerrifield20/docchain/internal/monitor"
	"github.com/jmerrifield20/docchain/internal/webhooks"
)

func main() {
	cfg, err := config.Load(os.Getenv("DOCCHAIN_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd:", err)
		os.Exit(1)
	}

	logger, err := bootstrap.NewLogger(cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd: init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// ── Startup integrity check ──────────────────────────────────────────────
	report, err := app.Ledger.Check(ctx)
	handler.RecordIntegrityCheck(report, err)
	switch {
	case err != nil:
		logger.Warn("startup integrity check could not run", zap.Error(err))
	case !report.Intact:
		logger.Warn("ledger integrity check FAILED",
			zap.String("kind", string(report.Kind)),
			zap.String("reason", report.Reason),
		)
	default:
		logger.Info("ledger verified",
			zap.Int64("records", report.Records),
			zap.String("checkpoint", report.Checkpoint),
		)
	}

	if !cfg.AuthEnabled() {
		logger.Warn("auth.jwt_secret not set; API is open to any caller")
	}

	// ── Integrity monitor ────────────────────────────────────────────────────
	if cfg.Monitor.Enabled {
		mon := monitor.New(app.Ledger, app.Mailer, monitor.Config{
			Interval:   cfg.Monitor.Interval,
			Recipients: cfg.Monitor.Recipients,
		}, logger)
		mon.SetMetricsRecord(handler.RecordIntegrityCheck)
		if hooks := cfg.Monitor.Webhooks; len(hooks) > 0 {
			endpoints := make([]webhooks.Endpoint, 0, len(hooks))
			for _, h := range hooks {
				endpoints = append(endpoints, webhooks.Endpoint{URL: h.URL, Secret: h.Secret})
			}
			dispatcher := webhooks.NewDispatcher(endpoints, logger)
			dispatcher.SetMetricsRecorder(handler.RecordWebhookDelivery)
			mon.SetNotifier(dispatcher)
		}
		go mon.Start(ctx)
		logger.Info("integrity monitor started", zap.Duration("interval", cfg.Monitor.Interval))
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	if corsOrigins := cfg.Server.CORSOrigins; len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     corsOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Request-ID"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Retry-After"},
			AllowCredentials: !containsWildcard(corsOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}
	router.Use(handler.SecurityHeaders())
	router.Use(handler.RequestID())
	router.Use(handler.BodyLimit(cfg.Server.BodyLimitBytes))
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}
	router.Use(handler.RequestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if _, err := app.Store.Count(ctx); err != nil {
			logger.Warn("readiness probe failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewLedgerHandler(app.Ledger, app.Tokens, logger).Register(v1)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledgerd HTTP listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down ledgerd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
