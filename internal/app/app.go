// Package app builds the process-wide services from configuration and
// tears them down again. Components receive their collaborators
// explicitly; nothing here is global.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/config"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extensibility"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/fetch"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/loader"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/render"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/sanitizer"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/search"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/server"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/templating"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/watcher"
)

// WatchDelay is the debounce delay of the template watcher.
const WatchDelay = 150 * time.Millisecond

type options struct {
	logger  logging.Logger
	output  io.Writer
	modules map[string]loader.Module
	deps    templating.DependencyLoader
	now     func() time.Time
}

// Option customizes New.
type Option func(*options)

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLogOutput sets where the configured logger writes. Defaults to
// stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithModule registers an in-process library module under id. Static
// modules are consulted before the plugin manifest.
func WithModule(id string, module loader.Module) Option {
	return func(o *options) {
		if o.modules == nil {
			o.modules = make(map[string]loader.Module)
		}
		o.modules[id] = module
	}
}

// WithDependencyLoader sets how companion dependencies are loaded.
func WithDependencyLoader(deps templating.DependencyLoader) Option {
	return func(o *options) { o.deps = deps }
}

// WithClock fixes the engine's notion of now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// App owns the services of one process.
type App struct {
	Config        *config.Config
	Logger        logging.Logger
	Fetcher       *fetch.CachedFetcher
	Loader        *loader.Loader
	Extensibility *extensibility.Service
	Libraries     []extension.Library
	Engine        *templating.Engine
	Sanitizer     *sanitizer.Sanitizer
	Surfaces      *render.Surfaces
	// Search is the configured data source, nil when searching is off.
	Search extension.SearchService
	// Assets collects the companion dependencies the engine loads for the
	// preview page shell.
	Assets *server.Assets

	extensions []extension.Descriptor
	store      io.Closer
	logFile    io.Closer
}

// New builds every service from cfg, loads the configured libraries and
// registers their helpers and web components with the engine.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{output: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	if err := a.build(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	var err error
	if a.Logger, a.logFile, err = newLogger(a.Config.Log, o); err != nil {
		return err
	}
	if err := a.buildFetcher(ctx); err != nil {
		return err
	}
	if err := a.loadLibraries(ctx, o); err != nil {
		return err
	}
	if err := a.buildSearch(); err != nil {
		return err
	}
	if err := a.buildEngine(o); err != nil {
		return err
	}
	if aware, ok := a.Search.(extension.ContextAware); ok {
		aware.SetContext(a.Engine.ExtensionContext())
	}

	a.Sanitizer, err = sanitizer.New(sanitizer.Options{
		AllowErrorHandlers: a.Config.Sanitizer.AllowErrorHandlers,
		Logger:             a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create sanitizer: %w", err)
	}
	a.Surfaces = render.NewSurfaces(a.Engine, a.Sanitizer, a.Logger)
	return nil
}

func newLogger(cfg config.LogConfig, o options) (logging.Logger, io.Closer, error) {
	if o.logger != nil {
		return o.logger, nil, nil
	}
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: o.output,
	})
	if cfg.File == "" {
		return logger, nil, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	fileLogger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: "json",
		Output: f,
	})
	return logging.NewMultiLogger(logger, fileLogger), f, nil
}

func (a *App) buildFetcher(ctx context.Context) error {
	cfg := a.Config
	var store fetch.Store
	if cfg.Fetch.Redis.Address != "" {
		redisStore, err := fetch.NewRedisStore(ctx, fetch.RedisConfig{
			Address:  cfg.Fetch.Redis.Address,
			Password: cfg.Fetch.Redis.Password,
			DB:       cfg.Fetch.Redis.DB,
		})
		if err != nil {
			return err
		}
		store, a.store = redisStore, redisStore
	} else {
		memStore, err := fetch.NewMemoryStore(cfg.Cache.NumCounters, cfg.Cache.MaxCost)
		if err != nil {
			return fmt.Errorf("failed to create content cache: %w", err)
		}
		store, a.store = memStore, memStore
	}
	router := fetch.NewRouter(cfg.Fetch.Timeout, cfg.Templates.Dir)
	a.Fetcher = fetch.NewCachedFetcher(router, store, cfg.Fetch.Redis.TTL, a.Logger)
	return nil
}

func (a *App) loadLibraries(ctx context.Context, o options) error {
	var sources loader.ChainSource
	if len(o.modules) > 0 {
		static := loader.NewStaticSource()
		for id, module := range o.modules {
			if err := static.Register(id, module); err != nil {
				return err
			}
		}
		sources = append(sources, static)
	}
	if path := a.Config.Extensibility.Manifest; path != "" {
		manifest, err := loader.ReadManifest(path)
		if err != nil {
			return err
		}
		sources = append(sources, loader.NewPluginSource(manifest))
	}

	a.Loader = loader.New(sources, a.Logger)
	a.Extensibility = extensibility.NewService(a.Loader, extension.NewValidators(), a.Logger)
	a.Libraries = a.Extensibility.LoadAll(ctx, a.Config.Extensibility.Libraries)
	a.extensions = a.Extensibility.AllExtensions(a.Libraries)
	return nil
}

func (a *App) buildSearch() error {
	cfg := a.Config.Search
	if cfg.Datasource == "" {
		return nil
	}

	refiners := make([]extension.RefinerConfiguration, 0, len(cfg.Refiners))
	for _, name := range cfg.Refiners {
		refiners = append(refiners, extension.RefinerConfiguration{RefinerName: name, DisplayValue: name})
	}
	env := search.Environment{
		SiteURL: cfg.SiteURL,
		Client:  &http.Client{Timeout: a.Config.Fetch.Timeout},
	}
	if cfg.Token != "" {
		token := cfg.Token
		env.Token = func(context.Context) (string, error) { return token, nil }
	}

	svc, err := a.DataSource(cfg.Datasource, extension.SearchConfiguration{
		ResultsCount: cfg.ResultsCount,
		Config: extension.CommonSearchProps{
			QueryTemplate:      cfg.QueryTemplate,
			SelectedProperties: cfg.SelectedProperties,
		},
		Refiners: refiners,
	}, env)
	if err != nil {
		return err
	}
	a.Search = svc
	a.Logger.Debug(context.Background(), "Data source ready", "datasource", cfg.Datasource, "hash", svc.HashKey())
	return nil
}

func (a *App) buildEngine(o options) error {
	cfg := a.Config
	location, err := cfg.Locale.Location()
	if err != nil {
		return err
	}
	bias := templating.TimeZoneBias{WebBias: cfg.Locale.WebBias, WebDST: cfg.Locale.WebDST, UserDST: cfg.Locale.UserDST}
	if cfg.Locale.UserBias != nil {
		bias.UserBias = *cfg.Locale.UserBias
	}
	a.Assets = server.NewAssets(nil, a.Logger)
	var deps templating.DependencyLoader = a.Assets
	if o.deps != nil {
		deps = o.deps
	}

	a.Engine, err = templating.New(templating.Options{
		Fetcher:            a.Fetcher,
		Search:             a.Search,
		Host:               extension.Host{Culture: cfg.Locale.Culture, SiteURL: cfg.Search.SiteURL, Logger: logging.SinkFromLogger(a.Logger)},
		Dependencies:       deps,
		Logger:             a.Logger,
		Culture:            cfg.Locale.Culture,
		Location:           location,
		Bias:               bias,
		Now:                o.now,
		TemplateExtensions: cfg.Templates.AllowedExtensions,
		MaxResultTypeRules: cfg.Templates.MaxResultTypes,
		CacheCounters:      cfg.Cache.NumCounters,
		CacheMaxCost:       cfg.Cache.MaxCost,
	})
	if err != nil {
		return fmt.Errorf("failed to create template engine: %w", err)
	}

	helpers := a.Engine.RegisterHelpers(a.Extensibility.Filter(a.extensions, extension.KindHandlebarsHelper))
	components := a.Engine.RegisterWebComponents(a.Extensibility.Filter(a.extensions, extension.KindWebComponent))
	a.Logger.Debug(context.Background(), "Registered extensions",
		"libraries", len(a.Libraries), "helpers", helpers, "web_components", components)
	return nil
}

// Catalog returns the descriptors of kind from the built-in data sources
// and the loaded libraries. An empty kind returns every descriptor, each
// tagged with the first kind its constructor satisfies.
func (a *App) Catalog(kind extension.Kind) []extension.Descriptor {
	all := append(search.Builtin(), a.extensions...)
	if kind != "" {
		return a.Extensibility.Filter(all, kind)
	}

	out := make([]extension.Descriptor, 0, len(all))
	for _, d := range all {
		for _, k := range extension.Kinds() {
			if matched := a.Extensibility.Filter([]extension.Descriptor{d}, k); len(matched) == 1 {
				d = matched[0]
				break
			}
		}
		out = append(out, d)
	}
	return out
}

// DataSource creates the data source called name with cfg.
func (a *App) DataSource(name string, cfg extension.SearchConfiguration, env search.Environment) (extension.SearchService, error) {
	contributed := a.Extensibility.Filter(a.extensions, extension.KindSearchDatasource)
	return search.Resolve(name, contributed, cfg, env)
}

// Server builds the preview server over the app's services.
func (a *App) Server() *server.Server {
	return server.New(server.Options{
		Host:           a.Config.Server.Host,
		Port:           a.Config.Server.Port,
		Dir:            a.Config.Templates.Dir,
		Extensions:     a.Config.Templates.AllowedExtensions,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		Renderer:       a.Surfaces,
		Templates:      a.Engine,
		Catalog:        a.Catalog,
		Search:         a.Search,
		Assets:         a.Assets,
		Logger:         a.Logger,
	})
}

// Watch watches the templates directory until ctx is done. Changed files
// are evicted from the content cache, rendered surfaces are forgotten and
// onChange receives the changed template locations.
func (a *App) Watch(ctx context.Context, onChange func(ctx context.Context, locations []string)) error {
	fw, err := watcher.NewFileWatcher(WatchDelay, a.Logger)
	if err != nil {
		return err
	}
	exts := append([]string{".json"}, a.Config.Templates.AllowedExtensions...)
	fw.AddFilter(watcher.ExtensionFilter(exts...))
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoBackupFilter)
	fw.AddHandler(watcher.TemplateHandler(a.Config.Templates.Dir, a.Fetcher, func(ctx context.Context, locations []string) {
		a.Surfaces.ForgetAll()
		if onChange != nil {
			onChange(ctx, locations)
		}
	}))
	if err := fw.AddRecursive(a.Config.Templates.Dir); err != nil {
		_ = fw.Stop()
		return err
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}
	<-ctx.Done()
	return fw.Stop()
}

// Close releases the engine, the sanitizer, the content cache, the loaded
// plugins and the log file.
func (a *App) Close() error {
	var errs []error
	if a.Engine != nil {
		errs = append(errs, a.Engine.Close())
	}
	if a.Sanitizer != nil {
		a.Sanitizer.Close()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.Loader != nil {
		errs = append(errs, a.Loader.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}
