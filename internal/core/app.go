package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/config"
	"github.com/vrsandeep/mediaflow/internal/db"
	"github.com/vrsandeep/mediaflow/internal/downloader"
	"github.com/vrsandeep/mediaflow/internal/job"
	"github.com/vrsandeep/mediaflow/internal/jobs"
	"github.com/vrsandeep/mediaflow/internal/launcher"
	"github.com/vrsandeep/mediaflow/internal/metrics"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/store"
	"github.com/vrsandeep/mediaflow/internal/subscription"
	"github.com/vrsandeep/mediaflow/internal/websocket"
	"github.com/vrsandeep/mediaflow/migrations"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config     *config.Config
	db         *sql.DB
	logger     *slog.Logger
	logCleanup func() error

	store      *store.Store
	hub        *websocket.Hub
	slots      *jobs.SlotManager
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	resolver   launcher.BinaryResolver
	launcher   launcher.Launcher
	controller *job.Controller
	worker     *downloader.Worker
	polling    *subscription.Service
	scheduler  *gocron.Scheduler

	Version string
}

// Deps are the pieces Assemble cannot build from configuration alone.
// Launcher and Resolver default to the real implementations.
type Deps struct {
	Config   *config.Config
	DB       *sql.DB
	Logger   *slog.Logger
	Resolver launcher.BinaryResolver
	Launcher launcher.Launcher
	// Progress also receives every progress update sent to the hub.
	Progress models.ProgressSink
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New() (*App, error) {
	return Open(Deps{})
}

// Open is New with some dependencies supplied by the caller. Config, DB and
// Logger are loaded from configuration when nil.
func Open(d Deps) (*App, error) {
	cfg := d.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}
	cleanup := func() error { return nil }
	logger := d.Logger
	if logger == nil {
		logger, cleanup = config.SetupLogger(cfg.Logging)
	}

	database := d.DB
	if database == nil {
		var err error
		database, err = db.InitDB(cfg.Database.Path)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}
	if err := db.RunMigrations(database, migrations.FS); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		cleanup()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	if d.Resolver == nil {
		resolver := launcher.NewResolver(cfg.Binaries.PackagedDir, logger)
		if err := resolver.Watch(); err != nil {
			logger.Warn("not watching packaged binaries", "dir", cfg.Binaries.PackagedDir, "error", err)
		}
		d.Resolver = resolver
	}

	d.Config, d.DB, d.Logger = cfg, database, logger
	app := Assemble(d)
	app.logCleanup = cleanup
	logger.Info("core application setup complete", "database", cfg.Database.Path)
	return app, nil
}

// Assemble wires every component around an open, migrated database.
func Assemble(d Deps) *App {
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := d.Resolver
	if resolver == nil {
		resolver = launcher.NewResolver(cfg.Binaries.PackagedDir, logger)
	}
	l := d.Launcher
	if l == nil {
		l = launcher.New(resolver, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hub := websocket.NewHub()
	hub.SetLogger(logger)
	st := store.New(d.DB)
	slots := jobs.NewSlotManager(logger, jobs.SlotDownload, jobs.SlotTranscode, jobs.SlotMaintenance)
	policy := args.NetworkPolicy{
		Proxy:              cfg.Network.Proxy,
		CookiesFile:        cfg.Network.CookiesFile,
		CookiesFromBrowser: cfg.Network.CookiesFromBrowser,
	}
	tools := job.Tools{
		Downloader: cfg.Binaries.Downloader,
		Transcoder: cfg.Binaries.Transcoder,
		Prober:     cfg.Binaries.Prober,
	}

	var progress models.ProgressSink = hub
	if d.Progress != nil {
		progress = models.ProgressSinks{hub, d.Progress}
	}
	controller := job.NewController(job.Options{
		Launcher:        l,
		Policy:          policy,
		Sink:            progress,
		History:         st,
		Logger:          logger,
		Metrics:         m,
		Tools:           tools,
		RetryBackoff:    cfg.Retry.Backoff(),
		MetadataTimeout: cfg.Download.MetadataTimeout(),
		Prefetch:        true,
	})
	worker := downloader.NewWorker(downloader.Options{
		Runner:         controller,
		Slots:          slots,
		Sink:           progress,
		Logger:         logger,
		DownloadDir:    cfg.Download.Dir,
		OutputTemplate: cfg.Download.OutputTemplate,
	})
	polling := subscription.NewService(subscription.Options{
		Store: st,
		Fetcher: &subscription.ToolFetcher{
			Launcher: l,
			Policy:   policy,
			Tool:     tools.Downloader,
			Timeout:  cfg.Polling.FetchTimeout(),
		},
		Sink:            models.DiscoverySinks{hub, worker},
		Logger:          logger,
		Metrics:         m,
		Tick:            cfg.Polling.Tick(),
		DefaultInterval: cfg.Polling.DefaultInterval(),
		MaxItems:        cfg.Polling.MaxItems,
		Enabled:         cfg.Polling.Enabled,
	})

	return &App{
		config:     cfg,
		db:         d.DB,
		logger:     logger,
		store:      st,
		hub:        hub,
		slots:      slots,
		registry:   registry,
		metrics:    m,
		resolver:   resolver,
		launcher:   l,
		controller: controller,
		worker:     worker,
		polling:    polling,
	}
}

// Start runs the background components until ctx is done.
func (a *App) Start(ctx context.Context) {
	go a.hub.Run()
	a.worker.Start(ctx)
	go a.polling.Run(ctx)
	a.scheduler = jobs.StartJobs(a)
}

func (a *App) Config() *config.Config            { return a.config }
func (a *App) DB() *sql.DB                       { return a.db }
func (a *App) Logger() *slog.Logger              { return a.logger }
func (a *App) Store() *store.Store               { return a.store }
func (a *App) WsHub() *websocket.Hub             { return a.hub }
func (a *App) Slots() *jobs.SlotManager          { return a.slots }
func (a *App) Resolver() launcher.BinaryResolver { return a.resolver }
func (a *App) Launcher() launcher.Launcher       { return a.launcher }
func (a *App) Metrics() *metrics.Metrics         { return a.metrics }
func (a *App) Gatherer() prometheus.Gatherer     { return a.registry }
func (a *App) Controller() *job.Controller       { return a.controller }
func (a *App) Worker() *downloader.Worker        { return a.worker }
func (a *App) Polling() *subscription.Service    { return a.polling }

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if r, ok := a.resolver.(*launcher.Resolver); ok {
		r.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
}
