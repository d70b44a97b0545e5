// Package bootstrap builds the ledger's collaborators from configuration once
// at startup: logger, store, signer, checkpoint cache and token issuer.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/checkpoint"
	"github.com/jmerrifield20/docchain/internal/config"
	"github.com/jmerrifield20/docchain/internal/email"
	"github.com/jmerrifield20/docchain/internal/identity"
	"github.com/jmerrifield20/docchain/internal/ledger"
	"github.com/jmerrifield20/docchain/internal/signer"
)

// App holds everything a process needs to serve the ledger.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Store  ledger.Store
	Signer *signer.Signer
	Cache  *checkpoint.FileCache
	Ledger *ledger.Ledger
	Tokens *identity.TokenIssuer // nil when auth is disabled
	Mailer email.Sender

	closers []func()
}

// NewLogger returns a production logger, or a development one when dev is set.
func NewLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Build wires an App. The caller must Close it.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	s, err := LoadSigner(cfg.Signer)
	if err != nil {
		return nil, err
	}
	app.Signer = s
	logger.Info("signing key loaded", zap.String("verify_key", s.PublicKeyHex()))

	cache, err := OpenCheckpoint(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	app.Cache = cache

	store, closeStore, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, closeStore)

	app.Ledger = ledger.New(store, cache, s, logger,
		ledger.WithOpTimeout(cfg.Store.OpTimeout),
		ledger.WithMaxRetries(cfg.Store.MaxRetries),
	)

	if cfg.AuthEnabled() {
		app.Tokens, err = identity.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	if cfg.Email.SMTPHost != "" {
		app.Mailer = email.NewSMTPSender(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUsername,
			cfg.Email.SMTPPassword,
			cfg.Email.FromAddress,
		)
		logger.Info("SMTP email sender configured", zap.String("host", cfg.Email.SMTPHost))
	} else {
		app.Mailer = email.NewNoopSender(logger)
		logger.Info("SMTP not configured; alerts will be logged only")
	}
	return app, nil
}

// Close releases the store.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// LoadSigner loads the signing key. A missing key is fatal unless
// auto-provisioning is enabled.
func LoadSigner(cfg config.Signer) (*signer.Signer, error) {
	if cfg.AutoProvision {
		s, err := signer.LoadOrProvision(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("signing key %s: %w", cfg.KeyFile, err)
		}
		return s, nil
	}
	s, err := signer.Load(cfg.KeyFile)
	if errors.Is(err, signer.ErrKeyMissing) {
		return nil, fmt.Errorf("signing key %s: %w (run `ledgerctl keygen` or set signer.auto_provision)", cfg.KeyFile, err)
	}
	if err != nil {
		return nil, fmt.Errorf("signing key %s: %w", cfg.KeyFile, err)
	}
	return s, nil
}

// OpenCheckpoint loads the checkpoint key and returns the file-backed cache.
func OpenCheckpoint(cfg config.Checkpoint) (*checkpoint.FileCache, error) {
	var (
		key checkpoint.Key
		err error
	)
	if cfg.AutoProvision {
		key, err = checkpoint.LoadOrCreateKey(cfg.KeyFile)
	} else {
		key, err = checkpoint.LoadKey(cfg.KeyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint key %s: %w", cfg.KeyFile, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	return checkpoint.NewFileCache(cfg.File, key), nil
}

// OpenStore opens the configured store. Postgres schemas are migrated on open.
func OpenStore(ctx context.Context, cfg config.Store, logger *zap.Logger) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; records will not survive a restart")
		return ledger.NewMemoryStore(), func() {}, nil

	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("sqlite dir: %w", err)
		}
		s, err := ledger.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return s, func() { _ = s.Close() }, nil

	case config.DriverPostgres:
		pool, err := OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		if _, err := Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("postgres store connected")
		return ledger.NewPostgresStore(pool, logger), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// OpenPostgres connects and pings a pool.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
