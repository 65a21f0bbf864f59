// Package app builds and holds the long-lived services of one scraper run.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation/headless"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation/static"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/clock/system"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/config"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/extractor"
	collyfetcher "github.com/JakeFAU/vehicle-listing-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/hash/sha256"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/id/uuid"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/identity"
	identitypg "github.com/JakeFAU/vehicle-listing-scraper/internal/identity/postgres"
	identityredis "github.com/JakeFAU/vehicle-listing-scraper/internal/identity/redis"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/vehicle-listing-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/vehicle-listing-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/retry"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/scraper"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/session"
	gcsstore "github.com/JakeFAU/vehicle-listing-scraper/internal/storage/gcs"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/storage/hierarchical"
	localstore "github.com/JakeFAU/vehicle-listing-scraper/internal/storage/local"
	historypg "github.com/JakeFAU/vehicle-listing-scraper/internal/storage/postgres"
	memorystore "github.com/JakeFAU/vehicle-listing-scraper/internal/storage/memory"
)

// App holds the services wired for one run. Close releases them in reverse
// order of construction.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Sessions *session.Manager
	Scraper  *scraper.Orchestrator
	Status   *sinks.StatusSink
	Blobs    listing.BlobStore
	Notifier listing.Publisher

	hub     *progress.Hub
	closers []closer
	closed  atomic.Bool
}

type closer struct {
	name string
	fn   func() error
}

// Option customizes construction.
type Option func(*options)

type options struct {
	engine automation.Engine
}

// WithEngine uses engine instead of the one selected by browser.engine.
func WithEngine(engine automation.Engine) Option {
	return func(o *options) {
		o.engine = engine
	}
}

// New initializes every service selected by cfg. It fails fast: anything
// already opened is closed before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Status:   sinks.NewStatusSink(),
	}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	clock := system.New()
	hasher := sha256.New()
	ids := uuid.New()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     automation.UserAgentOrRandom(cfg.Browser.UserAgent),
		RespectRobots: cfg.Browser.RespectRobots,
		Timeout:       cfg.Browser.Timeout,
	})

	engine := o.engine
	if engine == nil {
		engine, err = newEngine(cfg.Browser, fetcher, logger)
		if err != nil {
			return nil, err
		}
	}
	a.Sessions, err = session.New(engine, cfg.SessionConfig(),
		session.WithLogger(logger.Named("session")),
		session.WithRegisterer(a.Registry),
	)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("session pool: %w", err)
	}
	a.addCloser("sessions", a.Sessions.Close)

	var images hierarchical.ImageFetcher
	if cfg.Scraper.SaveImages {
		images = fetcher
	}
	store, err := hierarchical.New(hierarchical.Config{
		BaseDir:    cfg.Scraper.OutputDir,
		SaveImages: cfg.Scraper.SaveImages,
	}, images, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("listing store: %w", err)
	}

	resolver, err := a.newResolver(ctx, cfg, hasher, ids)
	if err != nil {
		return nil, err
	}

	hooks, err := a.newHooks(ctx, cfg)
	if err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	progressSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), promSink, a.Status}
	if cfg.History.DSN != "" {
		history, err := historypg.NewBatchStore(ctx, historypg.Config{DSN: cfg.History.DSN, MaxConns: cfg.History.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("batch history: %w", err)
		}
		progressSinks = append(progressSinks, history)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")}, progressSinks...)

	a.Scraper, err = scraper.New(
		scraper.Config{
			MaxConcurrentPages: cfg.Scraper.MaxConcurrentPages,
			MaxListingsPerPage: cfg.Scraper.MaxListingsPerPage,
		},
		a.Sessions,
		extractor.New(cfg.ExtractorConfig(), clock, logger.Named("extractor")),
		retry.New(cfg.RetryConfig()),
		resolver,
		store,
		scraper.WithLogger(logger.Named("scraper")),
		scraper.WithEmitter(a.hub),
		scraper.WithClock(clock),
		scraper.WithHooks(hooks...),
	)
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("engine", cfg.Browser.Engine),
		zap.String("identity", cfg.Identity.Backend),
		zap.String("mirror", cfg.Mirror.Backend),
		zap.String("notify", cfg.Notify.Backend),
		zap.String("output_dir", cfg.Scraper.OutputDir),
	)
	return a, nil
}

func newEngine(cfg config.BrowserConfig, fetcher *collyfetcher.Fetcher, logger *zap.Logger) (automation.Engine, error) {
	switch cfg.Engine {
	case config.EngineStatic:
		return static.New(fetcher, cfg.UserAgent), nil
	case config.EngineChromedp:
		engine, err := headless.New(headless.Config{
			Headless:       cfg.Headless,
			UserAgent:      cfg.UserAgent,
			ViewportWidth:  cfg.ViewportWidth,
			ViewportHeight: cfg.ViewportHeight,
			SlowMo:         cfg.SlowMo,
			StartupTimeout: cfg.StartupTimeout,
			ExecPath:       cfg.ExecPath,
		}, logger.Named("chromedp"))
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown browser engine: %s", cfg.Engine)
	}
}

func (a *App) newResolver(
	ctx context.Context,
	cfg config.Config,
	hasher listing.Hasher,
	ids listing.IDGenerator,
) (listing.IdentityResolver, error) {
	switch cfg.Identity.Backend {
	case config.BackendMemory:
		a.Logger.Warn("memory identity index: listing ids will change on the next run")
		return identity.NewMemoryResolver(hasher, ids), nil
	case config.BackendFile, "":
		r, err := identity.NewFileResolver(cfg.Scraper.OutputDir, hasher, ids)
		if err != nil {
			return nil, fmt.Errorf("identity index: %w", err)
		}
		return r, nil
	case config.BackendPostgres:
		pg := cfg.Identity.Postgres
		r, err := identitypg.New(ctx, identitypg.Config{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		}, hasher, ids)
		if err != nil {
			return nil, fmt.Errorf("identity index: %w", err)
		}
		a.addCloser("postgres", func() error { r.Close(); return nil })
		return r, nil
	case config.BackendRedis:
		rc := cfg.Identity.Redis
		r, client, err := identityredis.New(ctx, identityredis.Config{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		}, hasher, ids)
		if err != nil {
			return nil, fmt.Errorf("identity index: %w", err)
		}
		a.addCloser("redis", client.Close)
		return r, nil
	default:
		return nil, fmt.Errorf("unknown identity backend: %s", cfg.Identity.Backend)
	}
}

func (a *App) newHooks(ctx context.Context, cfg config.Config) ([]scraper.Hook, error) {
	var hooks []scraper.Hook

	switch cfg.Mirror.Backend {
	case "", config.BackendNone:
	case config.BackendMemory:
		a.Blobs = memorystore.NewBlobStore()
	case config.BackendLocal:
		store, err := localstore.New(localstore.Config{Dir: cfg.Mirror.Dir})
		if err != nil {
			return nil, fmt.Errorf("mirror: %w", err)
		}
		a.Blobs = store
	case config.BackendGCS:
		store, client, err := gcsstore.Dial(ctx, gcsstore.Config{Bucket: cfg.Mirror.Bucket, Prefix: cfg.Mirror.Prefix})
		if err != nil {
			return nil, fmt.Errorf("mirror: %w", err)
		}
		a.addCloser("gcs", client.Close)
		a.Blobs = store
	default:
		return nil, fmt.Errorf("unknown mirror backend: %s", cfg.Mirror.Backend)
	}
	if a.Blobs != nil {
		hooks = append(hooks, scraper.NewMirrorHook(a.Blobs))
	}

	switch cfg.Notify.Backend {
	case "", config.BackendNone:
	case config.BackendMemory:
		a.Notifier = memorypublisher.New()
	case config.BackendPubSub:
		pub, client, err := pubsubpublisher.Dial(ctx, pubsubpublisher.Config{ProjectID: cfg.Notify.ProjectID, Topic: cfg.Notify.Topic})
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		a.addCloser("pubsub", client.Close)
		a.addCloser("pubsub publisher", func() error { pub.Stop(); return nil })
		a.Notifier = pub
	default:
		return nil, fmt.Errorf("unknown notify backend: %s", cfg.Notify.Backend)
	}
	if a.Notifier != nil {
		hooks = append(hooks, scraper.NewNotifyHook(a.Notifier, cfg.Notify.Topic))
	}
	return hooks, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Ready reports whether the app can still accept work.
func (a *App) Ready(context.Context) error {
	if a.closed.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// Close flushes progress events and shuts down services. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.Logger.Info("shutting down application services")
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.Logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.Logger.Warn("progress events dropped", zap.Int64("count", dropped))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
}
