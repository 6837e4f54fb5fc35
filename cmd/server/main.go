package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campus-utilities/internal/catalog"
	"campus-utilities/internal/config"
	"campus-utilities/internal/handlers"
	"campus-utilities/internal/repository"
	"campus-utilities/internal/services"
	"campus-utilities/pkg/database"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("UTILITIES_CONFIG"), "Path to the TOML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("campus-utilities-api", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting campus utilities API server", logging.Fields{
		"version":        "1.0.0",
		"server_host":    cfg.Server.Host,
		"server_port":    cfg.Server.Port,
		"db_driver":      cfg.Database.Driver,
		"db_host":        cfg.Database.Host,
		"db_name":        cfg.Database.Database,
		"autosave_delay": cfg.Autosave.Delay.String(),
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("campus_utilities")

	db, err := database.Open(cfg.Database.DB(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repositories
	readingRepo := repository.NewReadingRepository(db, logger, metricsCollector)
	profileRepo := repository.NewProfileRepository(db, logger)

	// Initialize services
	periodService := services.NewPeriodService(readingRepo, catalog.MustDefault(), logger, metricsCollector)
	readingService := services.NewReadingService(readingRepo, periodService, logger, metricsCollector)
	importService := services.NewImportService(readingService, logger, metricsCollector)
	summaryService := services.NewSummaryService(readingRepo, periodService, logger, metricsCollector)
	profileService := services.NewProfileService(profileRepo, logger, metricsCollector)

	auth := handlers.NewAuthenticator(cfg.Auth.JWTSecret, logger, metricsCollector)
	if !auth.Enabled() {
		logger.Warn(ctx, "[STARTUP] No JWT secret configured, API is unauthenticated", logging.Fields{})
	}

	// Initialize handlers
	handler := handlers.NewHandler(handlers.Services{
		Periods:  periodService,
		Readings: readingService,
		Imports:  importService,
		Summary:  summaryService,
		Accounts: profileService,
		Health:   readingRepo.HealthCheck,
	}, auth, cfg.Autosave.Delay, logger, metricsCollector)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	// websockets are hijacked and outlive Shutdown; save their edits while
	// the database is still open
	if err := handler.DrainEditors(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Editing sessions did not finish", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
