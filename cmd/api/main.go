package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/sentinel/internal/app"
	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/handlers"
	middlewareCustom "github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/routes"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

func main() {
	err := run()
	// Destroy the token secret enclave before exiting
	memguard.Purge()
	if err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger = pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(migrateCtx, db.Pool, logger)
		cancel()
		if err != nil {
			return err
		}
	}

	sender, err := app.NewEmailSender(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	svc, err := app.Build(cfg, db, sender, logger)
	if err != nil {
		return err
	}

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	gate := auth.NewGate(svc.Codec, svc.Sessions, svc.Devices, svc.Attempts, routes.GateConfig(ipConfig), logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Handlers{
		Auth:             handlers.NewAuthHandler(svc.Auth, ipConfig, logger),
		DeviceRecovery:   handlers.NewDeviceRecoveryHandler(svc.DeviceRecovery, ipConfig, logger),
		PasswordRecovery: handlers.NewPasswordRecoveryHandler(svc.PasswordRecovery, ipConfig, logger),
		Account:          handlers.NewAccountHandler(svc.Accounts, svc.Devices, logger),
		Health:           handlers.NewHealthHandler(db, logger),
	}, gate, ipConfig, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Auth.RateLimitPerMinute,
	}, middlewareCustom.DefaultAccountRateLimit())

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
	go svc.Cleanup.Start(cleanupCtx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-sigChan:
		logger.Info("shutdown signal received")
	}

	cleanupCancel()
	svc.Cleanup.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}
