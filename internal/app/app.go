// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobrunner/mapshell/internal/adapters/bus"
	"github.com/jobrunner/mapshell/internal/adapters/geojson"
	"github.com/jobrunner/mapshell/internal/adapters/gpx"
	httpAdapter "github.com/jobrunner/mapshell/internal/adapters/http"
	"github.com/jobrunner/mapshell/internal/adapters/kml"
	"github.com/jobrunner/mapshell/internal/adapters/metrics"
	"github.com/jobrunner/mapshell/internal/adapters/online"
	"github.com/jobrunner/mapshell/internal/adapters/plugin"
	"github.com/jobrunner/mapshell/internal/adapters/settings"
	"github.com/jobrunner/mapshell/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/mapshell/internal/adapters/tls"
	"github.com/jobrunner/mapshell/internal/adapters/watcher"
	"github.com/jobrunner/mapshell/internal/application"
	"github.com/jobrunner/mapshell/internal/config"
	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
)

// Topics forwarded from the bus to loaded plugins. Plugin and config topics
// stay on the bus: plugins publish those themselves, and delivery is
// synchronous.
var pluginTopics = []string{"source.*", "parser.*", "app.*"}

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Bus           *bus.Memory
	NATS          *bus.NATS
	Settings      output.SettingsStore
	Factory       *application.ParserFactory
	Sources       *application.SourceManager
	Plugins       *application.PluginManager
	HealthService *application.HealthService
	SyncService   *application.SyncService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	Registry      *prometheus.Registry

	events  output.EventPublisher
	closers []func() error
}

// New creates and wires every component. Nothing is loaded or started
// until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Registry = prometheus.NewRegistry()
		app.Metrics = metrics.NewCollector("mapshell", app.Registry)
		metricsCollector = app.Metrics
	}

	events, err := app.initBus(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("initializing bus: %w", err)
	}
	app.events = events

	store, err := app.initSettings(cfg.Settings)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("initializing settings: %w", err)
	}
	app.Settings = store

	app.Factory = NewParserFactory(events, metricsCollector, logger)

	app.Sources = application.NewSourceManager(app.Factory, online.NewProviders(logger), events, metricsCollector, logger)

	services := application.NewServices(events, store)
	services.Register(application.ServiceSourceManager, app.Sources)
	services.Register(application.ServiceParserFactory, app.Factory)

	if cfg.Plugins.Enabled {
		app.Plugins = application.NewPluginManager(
			pluginDirs(cfg.Plugins),
			pluginLoader(cfg.Plugins, logger),
			services,
			events,
			store,
			metricsCollector,
			logger,
		)
		for _, pattern := range pluginTopics {
			app.Bus.Subscribe(pattern, app.Plugins.Broadcast)
		}
	}

	app.HealthService = application.NewHealthService(app.Factory, app.Sources, app.Plugins)

	// A local catalog is the data dir itself; syncing it only rescans.
	if cfg.Storage.Type != string(output.CatalogLocal) || cfg.Storage.SyncInterval > 0 {
		catalog, err := initCatalog(ctx, cfg.Storage, app.Factory.IsSupported)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		instrumented := storage.NewInstrumented(catalog, output.CatalogType(cfg.Storage.Type), metricsCollector, logger)
		app.SyncService = application.NewSyncService(app.Sources, instrumented, cfg.Storage.LocalPath, cfg.Storage.SyncInterval, logger)
	}

	api := httpAdapter.Services{
		Factory: app.Factory,
		Sources: app.Sources,
		Plugins: app.Plugins,
		Health:  app.HealthService,
		Sync:    app.SyncService,
		DataDir: cfg.Storage.LocalPath,
	}
	if app.Metrics != nil {
		api.MetricsPath = cfg.Metrics.Path
		api.MetricsHandler = metrics.HandlerFor(app.Registry)
		api.MetricsMiddleware = app.Metrics.Middleware
	}
	app.HTTPServer = httpAdapter.NewServer(cfg.Server, api, logger)

	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(cfg.TLS, cfg.Server.Address(), app.HTTPServer.Router(), logger)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// File watcher for hot-reload
	if cfg.Data.Watch {
		w, err := watcher.New(
			watcher.Config{
				Paths:    watchDirs(cfg),
				Debounce: cfg.Data.Debounce,
				Filter:   app.Factory.IsSupported,
			},
			watcher.ReloadHandler(app.Sources, logger),
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// NewParserFactory returns a factory with the GeoJSON, GPX and KML parsers
// registered.
func NewParserFactory(events output.EventPublisher, metrics output.MetricsCollector, logger *slog.Logger) *application.ParserFactory {
	f := application.NewParserFactory(events, metrics, logger)
	for _, p := range []output.MapParser{
		geojson.NewParser(logger),
		gpx.NewParser(logger),
		kml.NewParser(logger),
	} {
		if err := f.Register(p); err != nil {
			logger.Warn("parser not registered", "name", p.Name(), "error", err)
		}
	}
	return f
}

func (a *App) initBus(cfg config.BusConfig) (output.EventPublisher, error) {
	a.Bus = bus.NewMemory(a.Logger)
	if cfg.Type != "nats" {
		return a.Bus, nil
	}

	host, _ := os.Hostname()
	n, err := bus.NewNATS(bus.NATSConfig{
		URL:           cfg.NATS.URL,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		Source:        host,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.NATS = n
	a.closers = append(a.closers, func() error { n.Close(); return nil })
	return bus.Fanout{a.Bus, n}, nil
}

func (a *App) initSettings(cfg config.SettingsConfig) (output.SettingsStore, error) {
	if cfg.Type != "sqlite" {
		return settings.NewMemory(), nil
	}
	store, err := settings.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func pluginLoader(cfg config.PluginsConfig, logger *slog.Logger) output.PluginLoader {
	if !cfg.Lua {
		return plugin.Native{}
	}
	return plugin.NewLoader(logger)
}

func pluginDirs(cfg config.PluginsConfig) []string {
	appDir := cfg.AppDir
	if appDir == "" {
		if exe, err := os.Executable(); err == nil {
			appDir = filepath.Dir(exe)
		}
	}
	// Later dirs win for a duplicated id, so configured dirs override defaults.
	dirs := application.DefaultPluginDirs(appDir, cfg.AppName)
	return append(dirs, cfg.Dirs...)
}

// watchDirs is the data directory plus every configured data path that is
// a directory.
func watchDirs(cfg *config.Config) []string {
	dirs := []string{cfg.Storage.LocalPath}
	for _, p := range cfg.Data.Paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			dirs = append(dirs, p)
		}
	}
	return dirs
}

// Start loads the data directory, the configured data paths and online
// maps, loads plugins and then serves until the server is shut down.
func (a *App) Start(ctx context.Context) error {
	if err := a.Prepare(ctx); err != nil {
		return err
	}

	// Start server
	if a.TLSServer != nil {
		if err := a.TLSServer.ManageCertificates(ctx); err != nil {
			return err
		}
		return a.TLSServer.ListenAndServe()
	}
	return a.HTTPServer.Start()
}

// Prepare performs every startup step short of serving requests.
func (a *App) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(a.Config.Storage.LocalPath, 0o750); err != nil {
		return &domain.StorageError{Operation: "create data dir", Key: a.Config.Storage.LocalPath, Err: err}
	}

	files := a.collectFiles(append([]string{a.Config.Storage.LocalPath}, a.Config.Data.Paths...))
	loaded, err := a.Sources.LoadFiles(ctx, files)
	if err != nil {
		a.Logger.Warn("some map files failed to load", "loaded", loaded, "total", len(files), "error", err)
	}
	a.Logger.Info("map files loaded", "loaded", loaded, "total", len(files))

	a.addOnlineMaps()

	if a.Plugins != nil {
		discovered := a.Plugins.Scan()
		a.Logger.Info("plugins discovered", "count", discovered)
		if a.Config.Plugins.Autoload {
			if n, err := a.Plugins.LoadAll(); err != nil {
				a.Logger.Warn("some plugins failed to load", "loaded", n, "error", err)
			}
		}
	}

	if a.SyncService != nil {
		a.SyncService.Start(ctx)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	a.events.Publish(domain.TopicAppReady, map[string]any{
		"sources": a.Sources.Count(),
		"parsers": a.Factory.Count(),
	})
	return nil
}

// collectFiles expands directories into the supported files below them.
// Hidden entries are skipped; missing paths are logged.
func (a *App) collectFiles(paths []string) []string {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			a.Logger.Warn("data path not accessible", "path", root, "error", err)
			continue
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && a.Factory.IsSupported(path) {
				files = append(files, path)
			}
			return nil
		})
	}
	return files
}

func (a *App) addOnlineMaps() {
	for _, p := range a.Config.Online.Providers {
		if _, err := a.Sources.AddProvider(domain.ProviderType(p.Type), p.APIKey); err != nil {
			a.Logger.Warn("online provider not added", "provider", p.Type, "error", err)
		}
	}
	for _, m := range a.Config.Online.Custom {
		if _, err := a.Sources.AddOnlineMap(m.Name, m.URL, m.MinZoom, m.MaxZoom); err != nil {
			a.Logger.Warn("custom online map not added", "name", m.Name, "error", err)
		}
	}
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	var errs []error
	if a.TLSServer != nil {
		errs = append(errs, a.TLSServer.Shutdown(ctx))
	} else if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
		errs = append(errs, err)
	}

	if a.Plugins != nil {
		a.Plugins.ShutdownAll()
	}
	a.Sources.RemoveAll()

	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// initCatalog initializes the remote catalog synced into the data dir.
func initCatalog(ctx context.Context, cfg config.StorageConfig, filter output.FileFilter) (output.Catalog, error) {
	switch output.CatalogType(cfg.Type) {
	case output.CatalogS3:
		return storage.NewS3Catalog(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, filter)

	case output.CatalogAzure:
		return storage.NewAzureCatalog(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		}, filter)

	case output.CatalogHTTP:
		return storage.NewHTTPCatalog(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}, filter)

	case output.CatalogLocal:
		return storage.NewLocalCatalog(cfg.LocalPath, filter), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q: %w", cfg.Type, domain.ErrInvalidInput)
	}
}
