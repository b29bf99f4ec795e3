package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"tickerpulse/internal/analysts"
	"tickerpulse/internal/compare"
	"tickerpulse/internal/config"
	"tickerpulse/internal/infrastructure"
	customMiddleware "tickerpulse/internal/middleware"
	"tickerpulse/internal/pipeline"
	"tickerpulse/internal/services"
	"tickerpulse/internal/session"
	"tickerpulse/internal/stream"
	handlers "tickerpulse/internal/transport/http"
	"tickerpulse/pkg/contracts"
)

const (
	// AppName is the human-readable service name used in startup logs.
	AppName = "TickerPulse Analysis Server"
)

// Application is the dependency container for the analysis server. All
// collaborators are wired once in NewApplication and shut down in
// reverse order by Stop.
type Application struct {
	Config           *config.Config
	Router           *chi.Mux
	Server           *http.Server
	Hub              *stream.Hub
	Sessions         *session.Registry
	Workers          *pipeline.Registry
	Orchestrator     *pipeline.Orchestrator
	Comparator       *compare.Comparator
	AnalysisService  *services.AnalysisService
	HealthService    *services.HealthService
	StreamHandler    *stream.Handler
	Logger           *slog.Logger
	OTelProviders    *infrastructure.OTelProviders
	RuntimeCollector *infrastructure.RuntimeCollector

	metrics *infrastructure.BusinessMetrics
}

// NewApplication loads configuration and wires the full service graph.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newApplication(cfg)
}

// newApplication wires an application over an already-resolved
// configuration. Tests call this directly to stay hermetic.
func newApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("api_version", contracts.APIVersion))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the service graph bottom-up: hub, session
// registry, worker roster, orchestrator, comparator, then the command
// and health services over them.
func (a *Application) initializeServices() error {
	// Shared business metrics, bound into every layer that reports.
	metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create business metrics: %w", err)
	}
	a.metrics = metrics

	collector, err := infrastructure.NewRuntimeCollector(a.OTelProviders.Meter, 0)
	if err != nil {
		return fmt.Errorf("failed to create runtime collector: %w", err)
	}
	a.RuntimeCollector = collector

	// Stream hub. It is the registry's sink, so it exists first.
	hub := stream.NewHub(a.Logger)
	hub.BindMetrics(metrics)
	hub.Start()
	a.Hub = hub

	// Session registry with housekeeping from configuration.
	sessions := session.NewRegistry(hub, &session.Options{
		IdleTTL:        a.Config.Session.IdleTTL,
		TerminalLinger: a.Config.Session.TerminalLinger,
		SweepInterval:  a.Config.Session.SweepInterval,
	}, a.Logger)
	sessions.BindMetrics(metrics)
	a.Sessions = sessions

	// Worker roster backed by the simulated vendor.
	sim := analysts.NewSim(rate.Limit(a.Config.Providers.SimRate), a.Config.Providers.SimBurst)
	if a.Config.Providers.SimLatency > 0 {
		sim = sim.WithLatency(a.Config.Providers.SimLatency)
	}
	roster := analysts.SimRoster(sim)
	roster.Risk = analysts.RiskPolicy{
		MaxPortfolioPct: a.Config.Risk.MaxPortfolioPct,
		MaxSectorPct:    a.Config.Risk.MaxSectorPct,
		MaxOpenOrders:   a.Config.Risk.MaxOpenOrders,
	}

	workers := pipeline.NewRegistry()
	if err := roster.Register(workers); err != nil {
		return fmt.Errorf("failed to register worker roster: %w", err)
	}
	a.Workers = workers

	// Orchestrator and comparator over the shared registry.
	builder := pipeline.NewConfigBuilder().
		WithDefaultWorkerTimeout(a.Config.Pipeline.DefaultWorkerTimeout).
		WithJobTimeout(a.Config.Pipeline.JobTimeout).
		WithComparisonTimeout(a.Config.Pipeline.ComparisonTimeout).
		WithMaxSubjects(a.Config.Pipeline.MaxSubjects).
		WithForwardComparisonEvents(a.Config.Pipeline.ForwardComparisonEvents)
	for id, timeout := range a.Config.Pipeline.WorkerTimeouts {
		builder = builder.WithWorkerTimeout(id, timeout)
	}

	orch := pipeline.NewOrchestrator(workers, builder.Build(), pipeline.NopArchiveSink{}, a.Logger)
	orch.BindMetrics(metrics)
	a.Orchestrator = orch

	comparator := compare.NewComparator(orch, a.Logger)
	comparator.BindMetrics(metrics)
	a.Comparator = comparator

	// Command surface shared by the stream handler and the REST routes.
	a.AnalysisService = services.NewAnalysisService(sessions, hub, orch, comparator, a.Logger)
	a.HealthService = services.NewHealthService(contracts.Version, workers, sessions, hub, a.Logger)

	a.StreamHandler = stream.NewHandler(hub, a.AnalysisService, a.Config.Auth.Tokens, a.Logger, &stream.HandlerOptions{
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
	})

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Apply MINIMAL middleware that won't interfere with the upgrade.
	// These are safe because they don't wrap the ResponseWriter.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// Stream route with minimal middleware and tracing. MUST be
	// registered after minimal middleware but before the group.
	r.With(customMiddleware.StreamTraceMiddleware(a.Logger)).Handle("/ws", a.StreamHandler)

	// Everything else gets the FULL middleware chain.
	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}
		r.Use(customMiddleware.BusinessMetricsMiddleware(a.metrics))

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(a.corsConfig()))
		r.Use(customMiddleware.Compress(5))

		if a.Config.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.RateLimit.RPS,
				a.Config.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	// Prometheus metrics endpoint outside the middleware group.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		// Session directory requires the same credential as the stream.
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.BearerAuth(a.Logger, a.Config.Auth.Tokens))

			sessionHandler := handlers.NewSessionHandler(a.AnalysisService, a.Logger)
			r.Get("/sessions", sessionHandler.ListSessions)
			r.Delete("/sessions/{id}", sessionHandler.CancelSession)
		})
	})
}

// corsConfig returns the CORS policy for the REST surface. The stream
// endpoint authenticates by bearer credential and stays outside it.
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: []string{
			fmt.Sprintf("http://localhost:%d", a.Config.Server.Port),
			fmt.Sprintf("http://127.0.0.1:%d", a.Config.Server.Port),
		},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the listener and background collectors. A listener
// failure cancels the passed context instead of exiting the process.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level),
		slog.Int("workers", a.Workers.Count()),
		slog.Bool("auth_enabled", len(a.Config.Auth.Tokens) > 0))

	go a.RuntimeCollector.Start(ctx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)),
		slog.String("stream_endpoint", fmt.Sprintf("ws://localhost:%d/ws", a.Config.Server.Port)))

	return nil
}

// Stop gracefully stops the application. In-flight requests get the
// shutdown timeout to drain; sessions are cancelled, the hub drained,
// telemetry flushed, then the log file released.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.RuntimeCollector.Stop()
	a.Sessions.Close()
	a.Hub.Stop()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		a.Logger.ErrorContext(ctx, "Error closing log file", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(infrastructure.EnsureTraceID(context.Background()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
		a.Logger.WarnContext(ctx, "Run context cancelled")
	}

	return a.Stop(context.WithoutCancel(ctx))
}
