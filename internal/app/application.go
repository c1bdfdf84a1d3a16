// Package app wires every component into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"collabroom/internal/api"
	"collabroom/internal/auth"
	"collabroom/internal/avatar"
	"collabroom/internal/compiler"
	"collabroom/internal/config"
	"collabroom/internal/database"
	"collabroom/internal/hub"
	"collabroom/internal/logging"
	"collabroom/internal/metrics"
	"collabroom/internal/router"
	"collabroom/internal/websocket"
	pkgdatabase "collabroom/pkg/database"
	"collabroom/pkg/interfaces"
)

// Application owns the component graph and its lifecycle
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	promReg    *prometheus.Registry
	metrics    *metrics.Metrics
	journal    *database.Manager
	registry   *websocket.Registry
	dispatcher *router.Router
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
}

// NewApplication builds every component in dependency order:
// metrics -> journal -> registry -> router -> hub -> websocket handler -> API -> HTTP
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	// Interfaces stay untyped nil when a feature is off so the router skips them
	var (
		journal  *database.Manager
		recorder interfaces.ActivityRecorder
		history  interfaces.ActivityJournal
		verifier interfaces.ProfileVerifier
	)

	if cfg.Database.Enabled {
		var err error
		journal, err = OpenJournal(cfg, logger, m)
		if err != nil {
			return nil, err
		}
		recorder, history = journal, journal
	}

	if cfg.Auth.Secret != "" {
		verifier = auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.TokenExpiry, clock.WallClock)
	}

	registry := websocket.NewRegistry(m, logger.With("component", "registry"))

	dispatcher := router.New(router.Dependencies{
		Deliverer: registry,
		Verifier:  verifier,
		Recorder:  recorder,
		Metrics:   m,
		Logger:    logger.With("component", "router"),
		Clock:     clock.WallClock,
	}, router.Options{
		PurgeThreshold:     cfg.Rooms.PurgeThreshold,
		MaxEventsPerMinute: cfg.Rooms.MaxEventsPerMinute,
	})

	roomHub := hub.NewHub(dispatcher, cfg.Hub.QueueSize, logger.With("component", "hub"))

	wsHandler := websocket.NewHandler(registry, roomHub, websocket.Options{
		SendBuffer:      cfg.WebSocket.BufferSize,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}, m, logger.With("component", "websocket"))

	apiServer := api.NewServer(api.Dependencies{
		Rooms:       roomHub,
		Connections: registry,
		Journal:     history,
		Compiler: compiler.NewClient(compiler.Config{
			Endpoint:     cfg.Compiler.Endpoint,
			ClientID:     cfg.Compiler.ClientID,
			ClientSecret: cfg.Compiler.ClientSecret,
			Timeout:      cfg.Compiler.Timeout,
		}, nil, logger.With("component", "compiler")),
		ProfileImages: avatar.NewProxy(avatar.Config{
			AllowedSuffix: cfg.ProfileImage.AllowedSuffix,
			Timeout:       cfg.ProfileImage.Timeout,
		}, nil, logger.With("component", "avatar")),
		WebSocket:      wsHandler,
		Gatherer:       promReg,
		Metrics:        m,
		Logger:         logger.With("component", "api"),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:        cfg.Address(),
		Handler:     apiServer,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// WriteTimeout is not set on the server: it would cut long-lived
		// WebSocket connections. Per-frame write deadlines apply instead.
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		promReg:    promReg,
		metrics:    m,
		journal:    journal,
		registry:   registry,
		dispatcher: dispatcher,
		hub:        roomHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// OpenJournal opens the activity database and brings its schema up to date
func OpenJournal(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*database.Manager, error) {
	dbConfig := JournalConfig(cfg)
	if dir := filepath.Dir(dbConfig.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	journal, err := database.NewManager(dbConfig, logger.With("component", "journal"), m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize activity journal: %w", err)
	}

	applied, err := pkgdatabase.NewMigrationManager(journal.GetDB()).ApplyMigrations()
	if err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(journal.GetDB()).Validate(); err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}
	logger.Info("activity journal ready", "path", dbConfig.DatabasePath, "migrations_applied", len(applied))

	return journal, nil
}

// JournalConfig maps the server config onto the journal database config
func JournalConfig(cfg *config.Config) *pkgdatabase.Config {
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.WriteBuffer = cfg.Database.WriteBuffer
	dbConfig.RetryDelay = cfg.Database.RetryDelay
	return dbConfig
}

// Start runs the hub, then binds the listener and serves in the background.
// A bind failure is returned directly.
func (app *Application) Start(ctx context.Context) error {
	// The hub outlives ctx so sockets can still report disconnects during Stop
	if err := app.hub.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	app.logger.Info("collabroom started",
		"addr", listener.Addr().String(),
		"journal", app.journal != nil,
		"purge_threshold", app.config.Rooms.PurgeThreshold)
	return nil
}

// Stop shuts down in reverse order: HTTP, sockets, hub, journal
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// Hijacked WebSocket connections are not tracked by http.Server
	app.registry.CloseAll()

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	if app.journal != nil {
		if err := app.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal shutdown: %w", err))
		}
	}

	app.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address, or the configured one before Start
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the root HTTP handler
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
