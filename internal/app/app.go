// Package app wires configuration, storage, coordination and the key service
// into a runnable application shared by the server and the admin CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/keygate/internal/audit"
	"github.com/prn-tf/keygate/internal/auth"
	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/lifecycle"
	"github.com/prn-tf/keygate/internal/lock"
	"github.com/prn-tf/keygate/internal/metrics"
	"github.com/prn-tf/keygate/internal/pkg/crypto"
	"github.com/prn-tf/keygate/internal/repository"
	"github.com/prn-tf/keygate/internal/repository/factory"
	keyredis "github.com/prn-tf/keygate/internal/repository/redis"
	"github.com/prn-tf/keygate/internal/service"
)

// Options adjusts how the application is assembled.
type Options struct {
	// Authorizer overrides the token authorizer built from cfg.Admin.
	Authorizer auth.AdminAuthorizer

	// SyncAudit forces synchronous audit writes regardless of cfg.Audit.Async.
	SyncAudit bool

	// Metrics is optional; nil disables collection.
	Metrics *metrics.Metrics
}

// App holds the assembled components.
type App struct {
	Config  *config.Config
	Store   *factory.Store
	Keys    *service.KeyService
	Metrics *metrics.Metrics

	redis    *goredis.Client
	tokens   *auth.TokenAuthorizer
	locker   lock.Locker
	recorder audit.Recorder
	logger   zerolog.Logger
}

// New opens the store and builds the key service on top of it.
// On error every component opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Metrics: opts.Metrics, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.Store, err = factory.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := a.Metrics.Register(a.Store.Collector); err != nil {
		return nil, fmt.Errorf("failed to register database metrics: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := a.Store.Migrator.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	var dl repository.DistributedLock
	if cfg.Lock.Backend == "redis" {
		a.redis, err = keyredis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		dl = keyredis.NewDistributedLock(a.redis)
	}

	a.locker, err = lock.New(cfg.Lock, dl)
	if err != nil {
		return nil, err
	}

	authorizer := opts.Authorizer
	if authorizer == nil {
		a.tokens, err = auth.NewTokenAuthorizer(cfg.Admin)
		if err != nil {
			return nil, err
		}
		if !a.tokens.Configured() {
			logger.Warn().Msg("no admin credential configured; admin operations are disabled")
		}
		authorizer = a.tokens
	}

	if cfg.Audit.Async && !opts.SyncAudit {
		a.recorder = audit.NewAsyncRecorder(a.Store.Repos.Audit, cfg.Audit.BufferSize, a.Metrics, logger)
	} else {
		a.recorder = audit.NewSyncRecorder(a.Store.Repos.Audit, a.Metrics, logger)
	}

	a.Keys = service.NewKeyService(
		a.Store.Repos,
		a.recorder,
		lifecycle.NewEngine(nil, crypto.NewKeyGenerator(nil)),
		lock.NewGuard(a.locker, lock.OptionsFromConfig(cfg.Lock)),
		authorizer,
		a.Metrics,
		cfg.Keys,
		logger,
	)

	logger.Info().
		Str("driver", a.Store.Driver).
		Str("lock", cfg.Lock.Backend).
		Bool("async_audit", cfg.Audit.Async && !opts.SyncAudit).
		Msg("application initialized")
	return a, nil
}

// Close drains the audit queue and releases every connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if r, ok := a.recorder.(*audit.AsyncRecorder); ok {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("audit drain: %w", err))
		}
	}
	if m, ok := a.locker.(*lock.MemoryLocker); ok {
		m.Close()
	}
	if a.tokens != nil {
		a.tokens.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to open log output: %w", err)
		}
		out = f
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
