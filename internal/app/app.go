// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/api"
	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/colly"
	pagehash "github.com/JakeFAU/listing-harvester/internal/hash/sha256"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/journal"
	"github.com/JakeFAU/listing-harvester/internal/orchestrator"
	"github.com/JakeFAU/listing-harvester/internal/pagination"
	"github.com/JakeFAU/listing-harvester/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/listing-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/listing-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-harvester/internal/relay"
	"github.com/JakeFAU/listing-harvester/internal/seeds"
	"github.com/JakeFAU/listing-harvester/internal/storage/gcs"
	"github.com/JakeFAU/listing-harvester/internal/storage/local"
	"github.com/JakeFAU/listing-harvester/internal/storage/memory"
	"github.com/JakeFAU/listing-harvester/internal/storage/postgres"
	"github.com/JakeFAU/listing-harvester/internal/storage/sqlite"
)

// App holds the shared, long-lived services: the repository, the relay
// rotator, the job orchestrator and everything they are built from. It is
// initialized once at startup and handed to the command that needs it.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock
	ids    crawler.IDGenerator

	repository   crawler.Repository
	archive      crawler.BlobStore
	publisher    crawler.Publisher
	journal      *journal.Journal
	rotator      *relay.Rotator
	orchestrator *orchestrator.Orchestrator
	seeds        *seeds.Registry

	closers []func() error
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	transport crawler.Transport
	clock     crawler.Clock
	ids       crawler.IDGenerator
}

// WithTransport replaces the Colly transport used to reach relays.
func WithTransport(t crawler.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// New wires every service from cfg. It fails fast when a backend cannot be
// reached; anything already opened is closed before returning the error.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.ids == nil {
		o.ids = uuid.New()
	}
	if o.transport == nil {
		o.transport = collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     cfg.FetchTimeout(),
			MaxBodySize: cfg.HTTP.MaxBodyBytes,
		})
	}

	a := &App{cfg: cfg, logger: logger, clock: o.clock, ids: o.ids}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	logger.Info("initializing application services",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("pubsub", cfg.PubSub.Driver),
	)

	if a.repository, err = a.openRepository(ctx); err != nil {
		return nil, err
	}
	if a.archive, err = a.openArchive(ctx); err != nil {
		return nil, err
	}
	if a.publisher, err = a.openPublisher(ctx); err != nil {
		return nil, err
	}

	endpoints, err := relay.BuildEndpoints(cfg.Relays.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("build relay endpoints: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Relays.RPS,
		DefaultBurst: cfg.Relays.Burst,
		PerKeyRPS:    cfg.Relays.PerRelayRPS,
	})
	a.rotator, err = relay.New(endpoints, o.transport, a.clock, limiter, logger.Named("relay"))
	if err != nil {
		return nil, fmt.Errorf("build relay rotator: %w", err)
	}

	a.journal = journal.New(a.repository, a.ids, a.clock, logger.Named("journal"))
	controller := pagination.New(
		a.rotator,
		extract.New(logger.Named("extract")),
		a.clock,
		a.journal,
		a.archive,
		pagination.Config{
			MaxPages:       cfg.Scrape.MaxPages,
			MaxRecords:     cfg.Scrape.MaxRecords,
			RetryBaseDelay: cfg.BaseRetryDelay(),
			FetchTimeout:   cfg.FetchTimeout(),
			Namer:          pagehash.New(cfg.Archive.Prefix),
		},
		logger.Named("pagination"),
	)

	a.seeds = seeds.New(a.repository, a.ids, a.clock, a.journal, cfg.Scrape.SeedHost)
	orchCfg := orchestrator.Config{Tracker: a.seeds}
	if a.publisher != nil {
		orchCfg.Topic = cfg.PubSub.TopicName
	}
	a.orchestrator = orchestrator.New(
		a.repository,
		controller,
		a.journal,
		a.publisher,
		a.clock,
		a.ids,
		orchCfg,
		logger.Named("orchestrator"),
	)

	logger.Info("application services initialized", zap.Int("relays", len(endpoints)))
	return a, nil
}

func (a *App) openRepository(ctx context.Context) (crawler.Repository, error) {
	switch a.cfg.Storage.Driver {
	case config.StorageMemory:
		a.logger.Info("using in-memory repository; data is lost on exit")
		return a.track(memory.NewRepository()), nil
	case config.StoragePostgres:
		repo, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.Storage.DSN,
			MaxConns: a.cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.track(repo)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return repo, nil
	case config.StorageSQLite:
		repo, err := sqlite.New(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return a.track(repo), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", a.cfg.Storage.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Driver {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, nil
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.Bucket, Gzip: a.cfg.Archive.Gzip})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver: %s", a.cfg.Archive.Driver)
	}
}

func (a *App) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.PubSub.Driver {
	case config.PubSubNone, "":
		return nil, nil
	case config.PubSubMemory:
		return memorypublisher.New(), nil
	case config.PubSubGCP:
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub, err := pubsubpublisher.New(client)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("create pubsub publisher: %w", err)
		}
		// Close stops every topic, then the client.
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown pubsub driver: %s", a.cfg.PubSub.Driver)
	}
}

func (a *App) track(repo crawler.Repository) crawler.Repository {
	a.closers = append(a.closers, repo.Close)
	return repo
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the clock every service shares.
func (a *App) Clock() crawler.Clock { return a.clock }

// Repository exposes the configured storage backend.
func (a *App) Repository() crawler.Repository { return a.repository }

// Archive returns the raw page archive, or nil when archiving is off.
func (a *App) Archive() crawler.BlobStore { return a.archive }

// Publisher returns the completion publisher, or nil when none is configured.
func (a *App) Publisher() crawler.Publisher { return a.publisher }

// Journal returns the job log writer.
func (a *App) Journal() *journal.Journal { return a.journal }

// Relays returns the relay rotator.
func (a *App) Relays() *relay.Rotator { return a.rotator }

// Orchestrator returns the job runner.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Seeds returns the seed URL registry.
func (a *App) Seeds() *seeds.Registry { return a.seeds }

// APIDeps bundles the services the HTTP API needs.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Repository: a.repository,
		Runner:     a.orchestrator,
		Seeds:      a.seeds,
		Relays:     a.rotator,
		Journal:    a.journal,
		Clock:      a.clock,
	}
}

// Close releases backends in reverse order of opening. Every closer runs;
// the first failure is returned.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	a.closers = nil
	return first
}
