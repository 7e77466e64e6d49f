// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/api"
	"github.com/JakeFAU/activity-harvester/internal/archive"
	"github.com/JakeFAU/activity-harvester/internal/clock/system"
	"github.com/JakeFAU/activity-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/activity-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/logging"
	"github.com/JakeFAU/activity-harvester/internal/metrics"
	"github.com/JakeFAU/activity-harvester/internal/progress"
	"github.com/JakeFAU/activity-harvester/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/activity-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/activity-harvester/internal/storage/gcs"
	"github.com/JakeFAU/activity-harvester/internal/storage/local"
	"github.com/JakeFAU/activity-harvester/internal/storage/memory"
	"github.com/JakeFAU/activity-harvester/internal/storage/postgres"
	"github.com/JakeFAU/activity-harvester/internal/store"
)

// Publisher is the outbound side of the Pub/Sub sink.
type Publisher interface {
	sinks.Publisher
	Close() error
}

// App holds all the shared, long-lived services for the application. It is
// built once at startup from a validated Config and closed on exit.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    harvest.Clock
	getter   harvest.Getter
	pool     *pgxpool.Pool
	history  store.ProgressRepository
	hub      *progress.Hub
	pub      Publisher
	archiver *archive.Archiver

	mu      sync.RWMutex
	current *run

	closeOnce sync.Once
}

// Option overrides a collaborator, mainly for tests.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	getter     harvest.Getter
	clock      harvest.Clock
	publisher  Publisher
	registerer prometheus.Registerer
}

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithGetter replaces the Colly getter.
func WithGetter(g harvest.Getter) Option { return func(o *options) { o.getter = g } }

// WithClock replaces the system clock.
func WithClock(c harvest.Clock) Option { return func(o *options) { o.clock = c } }

// WithPublisher replaces the Pub/Sub publisher; the Pub/Sub sink is enabled
// even without a configured topic.
func WithPublisher(p Publisher) Option { return func(o *options) { o.publisher = p } }

// WithRegisterer registers the progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *options) { o.registerer = r } }

// New creates and initializes an App from cfg. It fails fast if any
// configured service cannot be reached.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, clock: o.clock, getter: o.getter, pub: o.publisher}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.getter == nil {
		a.getter = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.API.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		})
	}

	if err := a.initHistory(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initHub(o.registerer); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("state_backend", cfg.State.Backend),
		zap.Int("credentials", len(cfg.Credentials)),
		zap.Bool("run_history", cfg.DB.RunHistory),
		zap.Bool("pubsub", a.pub != nil),
		zap.Bool("archive", a.archiver != nil),
	)
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// History returns the run history repository.
func (a *App) History() store.ProgressRepository { return a.history }

// Server builds the status API over this App.
func (a *App) Server() *api.Server {
	return api.NewServer(a, a, a.history, a.clock, a.cfg.Server, a.logger.Named("api"))
}

// Serve runs the status API until ctx ends. It returns nil immediately when
// the server is disabled.
func (a *App) Serve(ctx context.Context) error {
	if !a.cfg.Server.Enabled {
		return nil
	}
	return a.Server().ListenAndServe(ctx, fmt.Sprintf(":%d", a.cfg.Server.Port))
}

// Close gracefully shuts down all services in the App container. It is safe
// to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application services")
		if a.hub != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.hub.Close(ctx); err != nil {
				a.logger.Warn("progress hub close failed", zap.Error(err))
			}
			cancel()
			if dropped := a.hub.Dropped(); dropped > 0 {
				a.logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
			}
		}
		if a.pub != nil {
			if err := a.pub.Close(); err != nil {
				a.logger.Warn("publisher close failed", zap.Error(err))
			}
		}
		if a.archiver != nil {
			if err := a.archiver.Close(); err != nil {
				a.logger.Warn("archive store close failed", zap.Error(err))
			}
		}
		if a.pool != nil {
			a.pool.Close()
		}
		// Syncing stderr/stdout fails on some platforms; nothing useful to do.
		_ = a.logger.Sync()
	})
}

func (a *App) initHistory(ctx context.Context) error {
	if !a.cfg.DB.RunHistory {
		a.history = memory.NewProgressStore()
		return nil
	}
	p, err := a.postgresPool(ctx)
	if err != nil {
		return err
	}
	repo, err := postgres.NewProgressStore(p)
	if err != nil {
		return fmt.Errorf("init run history: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("init run history: %w", err)
	}
	a.history = repo
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.pub != nil || a.cfg.PubSub.TopicName == "" {
		return nil
	}
	pub, err := pubsubpublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.pub = pub
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	var (
		blobs archive.BlobStore
		err   error
	)
	switch {
	case a.cfg.Archive.Bucket != "":
		blobs, err = gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.Bucket})
	case a.cfg.Archive.Dir != "":
		blobs, err = local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("init archive store: %w", err)
	}
	a.archiver = archive.New(blobs, a.cfg.Archive.Prefix, a.logger.Named("archive"))
	return nil
}

func (a *App) initHub(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("init prometheus sink: %w", err)
		}
		a.logger.Warn("progress collectors already registered; prometheus sink disabled")
		promSink = nil
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress")),
		sinks.NewStoreSink(a.history, a.logger.Named("history")),
	}
	if promSink != nil {
		hubSinks = append(hubSinks, promSink)
	}
	if a.pub != nil {
		hubSinks = append(hubSinks, sinks.NewPubSubSink(a.pub, a.cfg.PubSub.Classifications, a.logger.Named("pubsub")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchMaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.BatchMaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("hub"),
	}, hubSinks...)
	return nil
}

// postgresPool lazily opens the one pool shared by every Postgres store.
func (a *App) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	p, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.ConnMaxLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	a.pool = p
	return p, nil
}
