// Package app builds and holds the long-lived services shared by every
// command: fetchers, the headless browser, stores, publisher and ledger.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-snapshot/internal/artifact"
	"github.com/JakeFAU/site-snapshot/internal/assets"
	"github.com/JakeFAU/site-snapshot/internal/capture"
	"github.com/JakeFAU/site-snapshot/internal/clock/system"
	"github.com/JakeFAU/site-snapshot/internal/config"
	"github.com/JakeFAU/site-snapshot/internal/crawler"
	collyfetcher "github.com/JakeFAU/site-snapshot/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-snapshot/internal/fetcher/headless"
	"github.com/JakeFAU/site-snapshot/internal/hash/sha256"
	"github.com/JakeFAU/site-snapshot/internal/id/uuid"
	"github.com/JakeFAU/site-snapshot/internal/logging"
	"github.com/JakeFAU/site-snapshot/internal/metrics"
	"github.com/JakeFAU/site-snapshot/internal/pipeline"
	"github.com/JakeFAU/site-snapshot/internal/policy/ratelimit"
	"github.com/JakeFAU/site-snapshot/internal/preview"
	memorypublisher "github.com/JakeFAU/site-snapshot/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-snapshot/internal/publisher/pubsub"
	"github.com/JakeFAU/site-snapshot/internal/sanitize"
	gcsstorage "github.com/JakeFAU/site-snapshot/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-snapshot/internal/storage/local"
	pgstore "github.com/JakeFAU/site-snapshot/internal/storage/postgres"
	"github.com/JakeFAU/site-snapshot/internal/transform"
)

// ErrRemoteNotConfigured is returned by Remote when no bucket is configured.
var ErrRemoteNotConfigured = errors.New("storage.gcs_bucket is not configured")

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string
	clock  crawler.Clock
	fs     afero.Fs

	fetcher *collyfetcher.Fetcher
	browser *headlessfetcher.Browser

	gcsClient    *storage.Client
	remote       crawler.BlobStore
	pubsubClient *gcppublisher.Publisher
	publisher    crawler.Publisher
	pgLedger     *pgstore.CaptureLedger
	ledger       crawler.CaptureLedger
}

// Build creates the application's dependencies. Optional infrastructure
// (GCS, Pub/Sub, Postgres) is only connected when configured.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	app := &App{
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", runID)),
		runID:  runID,
		clock:  system.New(),
		fs:     afero.NewOsFs(),
	}
	app.logger.Debug("building application dependencies", zap.String("site", cfg.Site.URL))

	setupFetchers(app)

	if err := setupStorage(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	if err := setupDatabase(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func setupFetchers(app *App) {
	limiter := ratelimit.New(ratelimit.Config{RPS: app.cfg.HTTP.RequestsPerSecond, Burst: 1})
	app.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:   app.cfg.HTTP.UserAgent,
		Timeout:     app.cfg.HTTP.Timeout,
		MaxBodySize: app.cfg.HTTP.MaxBodyBytes,
		Limiter:     limiter,
	})
	app.logger.Debug("using colly fetcher",
		zap.String("user_agent", app.cfg.HTTP.UserAgent),
		zap.Float64("requests_per_second", app.cfg.HTTP.RequestsPerSecond),
	)
}

func setupStorage(ctx context.Context, app *App) error {
	if app.cfg.Storage.GCSBucket == "" {
		return nil
	}
	var err error
	app.gcsClient, err = storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client init failed: %w", err)
	}
	app.remote, err = gcsstorage.New(app.gcsClient, gcsstorage.Config{
		Bucket: app.cfg.Storage.GCSBucket,
		Prefix: app.cfg.Storage.Prefix,
	})
	if err != nil {
		return fmt.Errorf("gcs blob store init failed: %w", err)
	}
	app.logger.Info("GCS publishing enabled",
		zap.String("bucket", app.cfg.Storage.GCSBucket),
		zap.String("prefix", app.cfg.Storage.Prefix),
	)
	return nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Debug("no DSN specified for database, capture ledger disabled")
		return nil
	}
	var err error
	app.pgLedger, err = pgstore.NewCaptureLedger(ctx, pgstore.LedgerConfig{
		DSN:   app.cfg.DB.DSN,
		Table: app.cfg.DB.Table,
	})
	if err != nil {
		return fmt.Errorf("capture ledger init failed: %w", err)
	}
	app.ledger = app.pgLedger
	app.logger.Info("capture ledger initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = gcppublisher.New(client)
	app.publisher = app.pubsubClient
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID identifies this invocation in logs, ledger rows and notifications.
func (a *App) RunID() string {
	return a.runID
}

// Fs is the filesystem used by the hosting commands.
func (a *App) Fs() afero.Fs {
	return a.fs
}

// Remote returns the configured GCS store.
func (a *App) Remote() (crawler.BlobStore, error) {
	if a.remote == nil {
		return nil, ErrRemoteNotConfigured
	}
	return a.remote, nil
}

// Preview builds the preview server over the output directory.
func (a *App) Preview() *preview.Server {
	return preview.NewServer(preview.Config{
		Root: a.cfg.Paths.OutputDir,
		Port: a.cfg.Server.Port,
	}, logging.Stage(a.logger, "serve"))
}

// Pipeline wires every stage. It creates the data, temp and output
// directories, and fails if any of them cannot be created.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	if err := a.cfg.RequireSite(); err != nil {
		return nil, err
	}
	data, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Paths.DataDir})
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	temp, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Paths.TempDir})
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	output, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Paths.OutputDir})
	if err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}

	stages, err := a.stages(temp, output)
	if err != nil {
		return nil, err
	}
	return pipeline.New(
		pipeline.Config{
			SiteURL:   a.cfg.Site.URL,
			OutputDir: output.Root(),
			RunID:     a.runID,
			Topic:     a.cfg.PubSub.TopicName,
		},
		stages,
		artifact.New(data),
		a.publisher,
		a.clock,
		logging.Stage(a.logger, "pipeline"),
	)
}

func (a *App) stages(temp, output crawler.BlobStore) (pipeline.Stages, error) {
	cfg := a.cfg
	browser, err := a.headless()
	if err != nil {
		return pipeline.Stages{}, err
	}

	var renderer crawler.LinkRenderer
	if cfg.Crawl.DynamicDiscovery {
		renderer = browser
	}
	builder, err := crawler.NewBuilder(crawler.BuilderConfig{
		SiteURL:           cfg.Site.URL,
		Concurrency:       cfg.Crawl.Concurrency,
		DynamicDiscovery:  cfg.Crawl.DynamicDiscovery,
		PostPathPattern:   cfg.Crawl.PostPathPattern,
		SitemapPaths:      cfg.Crawl.SitemapPaths,
		ListingPaths:      cfg.Crawl.ListingPaths,
		HomePaginationMax: cfg.Site.HomePaginationMax,
	}, a.fetcher, renderer, a.clock, logging.Stage(a.logger, "crawl"))
	if err != nil {
		return pipeline.Stages{}, fmt.Errorf("crawl stage: %w", err)
	}

	engine, err := capture.New(capture.Config{
		SiteURL:     cfg.Site.URL,
		Concurrency: cfg.Capture.Concurrency,
		RunID:       a.runID,
	}, browser, temp, a.ledger, sha256.New(), a.clock, logging.Stage(a.logger, "capture"))
	if err != nil {
		return pipeline.Stages{}, fmt.Errorf("capture stage: %w", err)
	}

	resolver, err := assets.New(assets.Config{
		Concurrency:     cfg.Assets.Concurrency,
		DownloadHighRes: cfg.Assets.DownloadHighRes,
		ImageCDNHosts:   cfg.Assets.ImageCDNHosts,
	}, a.fetcher, output, logging.Stage(a.logger, "assets"))
	if err != nil {
		return pipeline.Stages{}, fmt.Errorf("assets stage: %w", err)
	}

	transformer, err := transform.New(transform.Config{
		SiteURL:          cfg.Site.URL,
		SingleResponsive: cfg.Transform.SingleResponsive,
		RemoveTracking:   cfg.Transform.RemoveTracking,
	}, temp, output, logging.Stage(a.logger, "transform"))
	if err != nil {
		return pipeline.Stages{}, fmt.Errorf("transform stage: %w", err)
	}

	return pipeline.Stages{
		Crawler:   builder,
		Capture:   engine,
		Assets:    resolver,
		Transform: transformer,
		Sanitize:  sanitize.New(cfg.Assets.Concurrency, logging.Stage(a.logger, "sanitize")),
	}, nil
}

// headless returns the shared browser, creating it on first use. Chrome
// itself is only launched when a page is rendered.
func (a *App) headless() (*headlessfetcher.Browser, error) {
	if a.browser != nil {
		return a.browser, nil
	}
	cfg := a.cfg
	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		Headless:          cfg.Headless.Headless,
		ExecPath:          cfg.Headless.ExecPath,
		MaxParallel:       cfg.Headless.MaxParallel,
		NavigationTimeout: cfg.HTTP.Timeout,
		Desktop:           headlessfetcher.Viewport(cfg.Viewports.Desktop),
		Mobile:            headlessfetcher.Viewport(cfg.Viewports.Mobile),
		UserAgent:         cfg.HTTP.UserAgent,
		MobileUserAgent:   cfg.Capture.MobileUserAgent,
		ScrollStep:        cfg.Capture.ScrollStep,
		ScrollInterval:    cfg.Capture.ScrollInterval,
		Settle:            cfg.Capture.Settle,
		IdleQuiet:         cfg.Capture.IdleQuiet,
	}, logging.Stage(a.logger, "browser"))
	if err != nil {
		return nil, fmt.Errorf("headless browser init failed: %w", err)
	}
	a.logger.Debug("using headless browser", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	a.browser = browser
	return browser, nil
}

// Close gracefully shuts down the application.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgLedger != nil {
		a.pgLedger.Close()
	}
	// Sync fails on stderr/stdout for some platforms; nothing to do about it.
	_ = a.logger.Sync()
}
