// Package main is the entrypoint for the labpod API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labpod/labpod/internal/cache"
	"github.com/labpod/labpod/internal/cluster"
	"github.com/labpod/labpod/internal/config"
	"github.com/labpod/labpod/internal/handler"
	"github.com/labpod/labpod/internal/identity"
	"github.com/labpod/labpod/internal/metrics"
	"github.com/labpod/labpod/internal/middleware"
	"github.com/labpod/labpod/internal/orchestrator"
	"github.com/labpod/labpod/internal/repository"
	"github.com/labpod/labpod/internal/server"
	"github.com/labpod/labpod/internal/token"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	// Initialize cluster client
	clusterClient, err := cluster.NewKubernetes(cfg.Kubeconfig, cfg.ClusterNamespace)
	if err != nil {
		logger.Error("failed to build cluster client", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to cluster", "namespace", cfg.ClusterNamespace)

	// Initialize session tokens and identity gateway
	tokens := token.NewManager(
		cfg.JWTSecret,
		cfg.JWTIssuer,
		cfg.JWTAudience,
		cfg.SessionTTL,
		cfg.SessionRefreshWindow,
	)
	gateway := identity.NewGateway(
		[]identity.Provider{
			identity.NewGitHubProvider(),
			identity.NewGoogleProvider(),
		},
		repo,
		repo,
		cacheClient,
		tokens,
		logger,
	)

	// Initialize orchestrator
	metricsRecorder := metrics.NewPrometheus()
	orch := orchestrator.New(
		repo,
		repo,
		repo,
		clusterClient,
		orchestrator.Config{
			Applications:       cfg.Applications(),
			WorkspaceDomain:    cfg.WorkspaceDomain,
			ErrorGraceWindow:   cfg.ErrorGraceWindow,
			ClusterCallTimeout: cfg.ClusterCallTimeout,
		},
		logger,
		metricsRecorder,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(repo, cacheClient, clusterClient)
	envHandler := handler.NewEnvironmentHandler(orch, logger)
	authHandler := handler.NewAuthHandler(gateway, repo, logger, metricsRecorder)
	userHandler := handler.NewUserHandler(repo, logger)

	// Setup router
	r := setupRouter(healthHandler, envHandler, authHandler, userHandler, gateway, cacheClient, metricsRecorder, cfg, logger)

	// Create server
	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// Start background workers
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	reconciler := orchestrator.NewReconciler(orch, logger)
	reconciler.SetInterval(cfg.ReconcileInterval)
	go func() {
		if err := reconciler.Run(workerCtx); err != nil {
			logger.Error("reconciler stopped", "error", err)
		}
	}()
	srv.OnShutdown("reconciler", reconciler.Shutdown)

	monitor := orchestrator.NewAutoShutdown(orch, logger)
	monitor.SetInterval(cfg.AutoShutdownInterval)
	monitor.SetIdleThreshold(cfg.InactivityThreshold)
	go func() {
		if err := monitor.Run(workerCtx); err != nil {
			logger.Error("auto-shutdown monitor stopped", "error", err)
		}
	}()
	srv.OnShutdown("auto-shutdown", monitor.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"workspace_domain", cfg.WorkspaceDomain,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	healthHandler *handler.HealthHandler,
	envHandler *handler.EnvironmentHandler,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	gateway *identity.Gateway,
	cacheClient *cache.Cache,
	metricsRecorder metrics.Recorder,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(chimiddleware.RequestSize(cfg.MaxRequestBodySize))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	authCfg := middleware.AuthConfig{
		Logger:   logger,
		Verifier: gateway,
		Metrics:  metricsRecorder,
	}

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  logger,
		Cache:   cacheClient,
		Enabled: cfg.RateLimitAPIEnabled,
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Session exchange endpoints are the only unauthenticated API
		// surface; everything else requires a valid session token.
		r.Post("/auth/exchange", authHandler.Exchange)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(authCfg))
			r.Use(middleware.RateLimitSession(rateLimitCfg))

			r.Get("/auth/me", authHandler.Me)

			r.Route("/environments", func(r chi.Router) {
				r.Post("/", envHandler.Launch)
				r.Get("/", envHandler.List)
				r.Get("/{id}", envHandler.Get)
				r.Post("/{id}/stop", envHandler.Stop)
				r.Post("/{id}/restart", envHandler.Restart)
				r.Delete("/{id}", envHandler.Delete)
				r.Post("/heartbeat", envHandler.Heartbeat)
				r.Get("/{id}/activity", envHandler.Activity)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(middleware.RequireAdmin(logger))

				r.Get("/", userHandler.List)
				r.Get("/{id}", userHandler.Get)
				r.Patch("/{id}", userHandler.Update)
				r.Get("/{id}/activity", userHandler.Activity)
			})
		})
	})

	// 404 and 405 handlers
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
