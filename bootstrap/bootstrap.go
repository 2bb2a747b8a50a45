// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file with RESTMOD_* environment overrides.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/artpar/restmod/adapters/idgen"
	"github.com/artpar/restmod/adapters/metrics"
	"github.com/artpar/restmod/config"
	apihttp "github.com/artpar/restmod/core/channel/http"
	"github.com/artpar/restmod/core/modules"
	"github.com/artpar/restmod/core/openapi"
	"github.com/artpar/restmod/core/resource"
	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/storage"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// App represents the running application.
type App struct {
	Logger   zerolog.Logger
	Config   *config.Config
	Store    storage.Store
	Registry resource.Registry
	Channel  *apihttp.Channel
	Metrics  *metrics.Collector
	Docs     *openapi.Service

	holder     *config.Holder
	server     *http.Server
	ownsStore  bool
	sampleRate atomic.Int32
}

// Options customizes New. The zero value configures from the environment,
// opens the configured store and serves the bundled modules.
type Options struct {
	// ConfigPath is the YAML file. Missing files fall back to the environment.
	ConfigPath string

	// Config, when set, is used instead of loading ConfigPath.
	Config *config.Config

	// Watch hot-reloads ConfigPath on change and on SIGHUP. Only the
	// reloadable fields take effect.
	Watch bool

	// Store replaces the configured store. The caller keeps ownership.
	Store storage.Store

	// Hooks are merged over DefaultHooks, entity by entity.
	Hooks map[string]resource.Hooks

	// Registry receives the metrics. Nil uses a fresh registry.
	Registry *prometheus.Registry

	// DocsInstance is the swag instance name of the API document.
	DocsInstance string

	// LogOutput replaces stdout for the logger.
	LogOutput io.Writer
}

// New creates and initializes the application.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadWithFallback(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := NewLogger(cfg.Logging, opts.LogOutput)
	logger.Info().Str("store", cfg.Store.Driver).Msg("initializing restmod")

	a := &App{Logger: logger, Config: cfg}
	a.setSampleRate(cfg.Responses)

	if err := a.initStore(ctx, opts.Store); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	reg := opts.Registry
	if cfg.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		}
		a.Metrics = metrics.NewWithRegistry(reg)
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initRegistry(ctx, opts.Hooks); err != nil {
		a.closeStore()
		return nil, err
	}

	if err := a.initChannel(reg, opts.DocsInstance); err != nil {
		a.closeStore()
		return nil, err
	}

	if opts.Watch && opts.ConfigPath != "" {
		if err := a.watchConfig(opts.ConfigPath); err != nil {
			logger.Warn().Err(err).Msg("config hot reload disabled")
		}
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context, injected storage.Store) error {
	if injected != nil {
		a.Store = injected
		return nil
	}

	store, err := OpenStore(ctx, a.Config.Store)
	if err != nil {
		return err
	}
	a.Store = store
	a.ownsStore = true
	a.Logger.Info().Str("driver", a.Config.Store.Driver).Msg("store opened")
	return nil
}

// OpenStore opens the configured document store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return storage.NewSQLiteStore(cfg.DSN, storage.WithIDGenerator(idgen.TimeUUID{}))
	case "mongo":
		return storage.NewMongoStore(ctx, cfg.DSN, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) initRegistry(ctx context.Context, extra map[string]resource.Hooks) error {
	mods, err := loadModules(a.Config.Modules.Dir)
	if err != nil {
		return fmt.Errorf("load modules: %w", err)
	}

	loader := &resource.Loader{
		Store:    a.Store,
		Logger:   a.Logger,
		Hooks:    Hooks(mods, DefaultHooks(a.Logger), extra),
		HashCost: a.Config.Modules.HashCost,
	}
	reg, err := loader.Load(ctx, mods)
	if err != nil {
		return err
	}
	a.Registry = reg
	return nil
}

func loadModules(dir string) ([]schema.Module, error) {
	if dir == "" {
		return modules.Bundled()
	}
	return schema.ParseDir(dir)
}

func (a *App) initChannel(reg *prometheus.Registry, docsInstance string) error {
	cfg := a.Config

	auth := make(map[string]apihttp.AuthStrategy, len(cfg.Auth.Strategies))
	for name, s := range cfg.Auth.Strategies {
		if len(s.Tokens) == 0 {
			auth[name] = apihttp.PassThrough
			continue
		}
		auth[name] = apihttp.BearerTokens(s.Tokens...)
	}

	ch := apihttp.New(apihttp.Config{
		Logger:         a.Logger,
		Metrics:        a.Metrics,
		Auth:           auth,
		RequestTimeout: cfg.Server.RequestTimeout,
		Sample:         a.sample,
	})
	if err := ch.Register(a.Registry.Routes()); err != nil {
		return err
	}
	a.Logger.Info().Int("count", len(ch.Routes())).Msg("resource routes registered")

	ch.Mount("/_schema", apihttp.NewSchemaHandler(ch).Routes())

	if a.Metrics != nil {
		ch.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}

	if cfg.OpenAPI.Enabled {
		a.Docs = openapi.NewService(openapi.ServiceConfig{
			InstanceName: docsInstance,
			Info:         openapi.Info{Title: cfg.OpenAPI.Title, Version: "1.0.0"},
			Logger:       a.Logger,
		})
		if err := a.Docs.Update(ch.Routes()); err != nil {
			return fmt.Errorf("generate api document: %w", err)
		}
		ch.Handle(cfg.OpenAPI.Path, a.Docs)
		ch.Mount("/docs", httpSwagger.Handler(
			httpSwagger.URL(cfg.OpenAPI.Path),
			httpSwagger.InstanceName(a.Docs.InstanceName()),
		))
	}

	a.Channel = ch
	return nil
}

func (a *App) watchConfig(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	h, err := config.NewHolder(path, a.Logger)
	if err != nil {
		return err
	}
	if a.Metrics != nil {
		h.SetMetrics(a.Metrics)
	}
	h.OnChange(a.applyConfig)
	if err := h.WatchFile(); err != nil {
		h.Stop()
		return err
	}
	h.WatchSignals()
	a.holder = h
	return nil
}

// applyConfig takes over the reloadable settings of cfg.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.setSampleRate(cfg.Responses)
}

func (a *App) setSampleRate(r config.ResponsesConfig) {
	rate := int32(r.Sample)
	if !r.Validate {
		rate = 0
	}
	a.sampleRate.Store(rate)
}

// sample draws a percentile for response validation. Draws at or above the
// configured rate return 100, which no route's sample rate exceeds.
func (a *App) sample() int {
	n := rand.Intn(100)
	if int32(n) >= a.sampleRate.Load() {
		return 100
	}
	return n
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.Channel.Handler()
}

// Run serves HTTP until SIGINT or SIGTERM, then shuts down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve serves HTTP until ctx is done, then shuts down.
func (a *App) Serve(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.Config.Server.Addr(),
		Handler:           a.Channel.Handler(),
		ReadTimeout:       a.Config.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.server.Addr).
			Msg("starting http server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
			errs = append(errs, err)
		}
	}

	if err := a.closeStore(); err != nil {
		a.Logger.Error().Err(err).Msg("store close error")
		errs = append(errs, err)
	}

	a.Logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if !a.ownsStore || a.Store == nil {
		return nil
	}
	a.ownsStore = false
	return a.Store.Close()
}

// NewLogger builds the root logger. It also sets the global level, which
// config reloads adjust later.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
