package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/thermo/internal/auth"
	"github.com/BradenHooton/thermo/internal/background"
	"github.com/BradenHooton/thermo/internal/config"
	"github.com/BradenHooton/thermo/internal/database"
	"github.com/BradenHooton/thermo/internal/handlers"
	middlewareCustom "github.com/BradenHooton/thermo/internal/middleware"
	"github.com/BradenHooton/thermo/internal/repositories"
	"github.com/BradenHooton/thermo/internal/routes"
	"github.com/BradenHooton/thermo/internal/services"
	pkghttp "github.com/BradenHooton/thermo/pkg/http"
	pkglogger "github.com/BradenHooton/thermo/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("credential_backend", cfg.Storage.CredentialBackend),
	)
	if cfg.Storage.CredentialBackend == config.CredentialBackendPostgres {
		logger.Info("using postgres credential store",
			pkglogger.RedactedAttr("db_host", cfg.Database.Host, cfg.Server.Env),
			pkglogger.RedactedAttr("db_user", cfg.Database.User, cfg.Server.Env),
			slog.String("db_name", cfg.Database.Name),
		)
	}

	// Credential store
	var db *database.DB
	credRepo, err := openCredentials(cfg, logger, &db)
	if err != nil {
		logger.Error("failed to open credential store", slog.Any("error", err))
		os.Exit(1)
	}
	if db != nil {
		defer func() {
			logger.Info("closing database connection pool")
			db.Close()
		}()
	}

	// Reading store and command queue
	readingStore, err := repositories.NewReadingStore(cfg.Storage.DataDir, repositories.ReadingStoreOptions{
		MinCelsius: cfg.Storage.TempMinCelsius,
		MaxCelsius: cfg.Storage.TempMaxCelsius,
	}, logger)
	if err != nil {
		logger.Error("failed to open reading store", slog.Any("error", err))
		os.Exit(1)
	}

	commandQueue, err := repositories.NewCommandQueue(cfg.Storage.DataDir, repositories.CommandQueueOptions{})
	if err != nil {
		logger.Error("failed to open command queue", slog.Any("error", err))
		os.Exit(1)
	}

	// Tokens
	tokenManager, err := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.JWTAlgorithm,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	if err != nil {
		logger.Error("failed to initialize token manager", slog.Any("error", err))
		os.Exit(1)
	}
	registry := auth.NewTokenRegistry(tokenManager.ExpiresAt)

	// Initialize security services
	auditLogger := pkglogger.NewAuditLogger(logger)

	rateLimitService := services.NewRateLimitService(services.RateLimitConfig{
		MaxAttempts:     cfg.RateLimit.MaxAttempts,
		Window:          cfg.RateLimit.Window,
		LockoutDuration: cfg.RateLimit.LockoutDuration,
	}, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.TimingDelayBase,
		RandomDelay: cfg.Auth.TimingDelayRandom,
	})

	// Initialize services
	authService := services.NewAuthService(services.AuthServiceDeps{
		Repo:        credRepo,
		Tokens:      tokenManager,
		Registry:    registry,
		Limiter:     rateLimitService,
		Timing:      timingDelay,
		BcryptCost:  cfg.Auth.BcryptCost,
		Logger:      logger,
		AuditLogger: auditLogger,
	})
	readingService := services.NewReadingService(readingStore, logger)
	commandService := services.NewCommandService(commandQueue, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	h := routes.Handlers{
		Auth:     handlers.NewAuthHandler(authService, rateLimitService, cfg.RateLimit.ResetKey, ipConfig, logger, auditLogger),
		Readings: handlers.NewReadingHandler(readingService, logger),
		Commands: handlers.NewCommandHandler(commandService, ipConfig, logger, auditLogger),
		Health:   handlers.NewHealthHandler(),
	}

	cleanupManager := background.NewCleanupManager(registry, rateLimitService, logger, cfg.Auth.CleanupInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	routes.RegisterRoutes(router, h, tokenManager, registry, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// openCredentials picks the credential backend. The Postgres backend runs
// embedded migrations before first use.
func openCredentials(cfg *config.Config, logger *slog.Logger, db **database.DB) (services.CredentialRepository, error) {
	if cfg.Storage.CredentialBackend != config.CredentialBackendPostgres {
		return repositories.NewFileCredentialRepository(cfg.Storage.DataDir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("credential database ready",
		slog.String("database", cfg.Database.Name),
		slog.Int("max_conns", int(cfg.Database.MaxConns)),
	)

	*db = conn
	return repositories.NewPostgresCredentialRepository(conn), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
