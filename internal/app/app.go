// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the archiver commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/browser/headless"
	"github.com/JakeFAU/spa-archiver/internal/capture"
	"github.com/JakeFAU/spa-archiver/internal/clock/system"
	"github.com/JakeFAU/spa-archiver/internal/config"
	"github.com/JakeFAU/spa-archiver/internal/discovery"
	collyfetcher "github.com/JakeFAU/spa-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/spa-archiver/internal/fingerprint"
	"github.com/JakeFAU/spa-archiver/internal/hash/sha256"
	"github.com/JakeFAU/spa-archiver/internal/id/uuid"
	"github.com/JakeFAU/spa-archiver/internal/materialize"
	pubsubpublisher "github.com/JakeFAU/spa-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/spa-archiver/internal/storage/gcs"
	"github.com/JakeFAU/spa-archiver/internal/storage/local"
	"github.com/JakeFAU/spa-archiver/internal/storage/memory"
	"github.com/JakeFAU/spa-archiver/internal/storage/postgres"
	"github.com/JakeFAU/spa-archiver/internal/worker"
)

// App holds the shared, long-lived services. It is built once per command
// and closed when the command finishes.
type App struct {
	cfg           config.Config
	logger        *zap.Logger
	fs            afero.Fs
	clock         *system.Clock
	ids           *uuid.Generator
	browser       *headless.Browser
	pipeline      *capture.Pipeline
	fingerprinter *fingerprint.Fingerprinter
	uploader      archive.Uploader
	archives      archive.ArchiveStore
	publisher     archive.Publisher
	closers       []func()
}

// Option adjusts App construction.
type Option func(*App)

// WithFs replaces the OS filesystem used for staging and local uploads.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// NewApp builds every service the configuration asks for. It fails fast if a
// configured backend cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		fs:     afero.NewOsFs(),
		clock:  system.New(),
		ids:    uuid.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	logger.Info("initializing application services")

	if err := a.initCapture(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initUploader(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initArchives(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Fingerprint.Enabled {
		fetcher := collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Fingerprint.UserAgent,
			Timeout:   cfg.Fingerprint.Timeout,
		})
		a.fingerprinter = fingerprint.New(fetcher, sha256.New(), a.clock, cfg.Fingerprint.Timeout, logger)
	}

	logger.Info("application services initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("pubsub", a.publisher != nil),
		zap.Bool("fingerprint", a.fingerprinter != nil),
	)
	return a, nil
}

func (a *App) initCapture() error {
	browserCfg := a.cfg.BrowserOptions()
	browserCfg.MaxParallel = a.cfg.Server.MaxConcurrentRuns
	browser, err := headless.New(browserCfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	a.browser = browser
	a.closers = append(a.closers, browser.Close)

	stager := materialize.New(a.fs, a.cfg.Staging.BaseDir, sha256.New(), a.logger.Named("materialize"))
	a.pipeline = capture.NewPipeline(
		browser,
		discovery.New(a.cfg.DiscoveryOptions(), a.logger),
		stager,
		a.clock,
		a.cfg.PipelineConfig(),
		a.logger,
	)
	return nil
}

func (a *App) initUploader(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "local":
		uploader, err := local.New(a.fs, local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("failed to initialize local storage: %w", err)
		}
		a.logger.Info("using local archive storage", zap.String("dir", a.cfg.Storage.LocalDir))
		a.uploader = uploader
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("error closing gcs client", zap.Error(err))
			}
		})
		uploader, err := gcs.New(client, a.fs, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return fmt.Errorf("failed to initialize gcs storage: %w", err)
		}
		a.logger.Info("using gcs archive storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.uploader = uploader
	default:
		return fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initArchives(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory archive ledger")
		a.archives = memory.NewArchiveStore()
		return nil
	}
	store, err := postgres.NewArchiveStore(ctx, postgres.ArchiveStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize archive ledger: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare archive ledger: %w", err)
	}
	a.logger.Info("using postgres archive ledger", zap.String("table", a.cfg.DB.Table))
	a.archives = store
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to initialize pubsub: %w", err)
	}
	pub := pubsubpublisher.New(client, a.cfg.PubSub.TopicName)
	a.closers = append(a.closers, func() {
		pub.Close()
		if err := client.Close(); err != nil {
			a.logger.Warn("error closing pubsub client", zap.Error(err))
		}
	})
	a.logger.Info("publishing completions to pubsub", zap.String("topic", a.cfg.PubSub.TopicName))
	a.publisher = pub
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the wall clock.
func (a *App) Clock() archive.Clock { return a.clock }

// IDs returns the run id generator.
func (a *App) IDs() archive.IDGenerator { return a.ids }

// Pipeline returns the capture pipeline.
func (a *App) Pipeline() worker.Capturer { return a.pipeline }

// Fingerprinter returns the homepage fingerprinter. It returns a nil
// interface, not a typed nil, when fingerprinting is disabled.
func (a *App) Fingerprinter() worker.Fingerprinter {
	if a.fingerprinter == nil {
		return nil
	}
	return a.fingerprinter
}

// Fs returns the filesystem used for staging and local archives.
func (a *App) Fs() afero.Fs { return a.fs }

// Uploader returns the configured archive uploader.
func (a *App) Uploader() archive.Uploader { return a.uploader }

// Archives returns the archive ledger.
func (a *App) Archives() archive.ArchiveStore { return a.archives }

// Publisher returns the completion publisher, or nil when none is configured.
func (a *App) Publisher() archive.Publisher { return a.publisher }

// Close shuts services down in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
