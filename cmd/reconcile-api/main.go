// Package main is the entry point for the reconcile-api server.
// It wires the document store, run pipeline and HTTP control plane, and
// serves generated reports for download.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/donorsync/reconcile-api/internal/config"
	"github.com/donorsync/reconcile-api/internal/crypto"
	"github.com/donorsync/reconcile-api/internal/database"
	"github.com/donorsync/reconcile-api/internal/http/handlers"
	"github.com/donorsync/reconcile-api/internal/logging"
	"github.com/donorsync/reconcile-api/internal/pipeline"
	"github.com/donorsync/reconcile-api/internal/reporter"
	"github.com/donorsync/reconcile-api/internal/repository"
	"github.com/donorsync/reconcile-api/internal/version"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting reconcile-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Client API keys are encrypted at rest when a secret is configured.
	var enc *crypto.Encryptor
	if cfg.EncryptionSecret != "" {
		enc, err = crypto.NewEncryptor(crypto.DeriveKey(cfg.EncryptionSecret))
		if err != nil {
			logger.Error("failed to initialize encryption", "error", err)
			os.Exit(1)
		}
		logger.Info("api key encryption enabled")
	} else {
		logger.Warn("ENCRYPTION_SECRET not set - client API keys stored in plaintext")
	}

	store := config.NewStore(cfg.ConfigPath, enc, logger)

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.InitSchema(db); err != nil {
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}
	runRepo := repository.NewSQLiteRunRepository(db)

	rep := reporter.New(cfg.ReportsDir, logger)

	archiver, err := reporter.NewArchiver(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize report archiver", "error", err)
		os.Exit(1)
	}
	if archiver.Enabled() {
		logger.Info("report archival enabled", "bucket", cfg.StorageBucket)
	}

	pipe := pipeline.New(store, rep, archiver, runRepo, logger)

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB) - config payloads are small
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// Rate limit by IP and cap concurrent requests
	router.Use(httprate.LimitByIP(100, time.Minute))
	router.Use(middleware.Throttle(50))

	humaConfig := huma.DefaultConfig("Reconcile API", v.Version)
	humaConfig.Info.Description = "Payment reconciliation service that matches checkout journeys against processor transactions across donor platform clients."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	api := humachi.New(router, humaConfig)

	// Health
	huma.Get(api, "/api/v1/health", handlers.HealthCheck)

	// Runs
	runsHandler := handlers.NewRunsHandler(pipe, store, runRepo, logger)
	huma.Get(api, "/api/v1/status", runsHandler.GetStatus)
	huma.Register(api, huma.Operation{
		OperationID:   "triggerRun",
		Method:        http.MethodPost,
		Path:          "/api/v1/runs",
		Summary:       "Start a reconciliation run",
		DefaultStatus: 202,
	}, runsHandler.TriggerRun)
	huma.Post(api, "/api/v1/runs/sync", runsHandler.TriggerRunSync)
	huma.Get(api, "/api/v1/runs", runsHandler.ListRuns)
	huma.Get(api, "/api/v1/runs/latest", runsHandler.GetLatestRun)
	huma.Get(api, "/api/v1/runs/latest/clients/{name}", runsHandler.GetLatestClientRun)

	// Configuration
	configHandler := handlers.NewConfigHandler(store, logger)
	huma.Get(api, "/api/v1/config", configHandler.GetConfig)
	huma.Put(api, "/api/v1/config/settings", configHandler.UpdateSettings)
	huma.Get(api, "/api/v1/config/clients", configHandler.ListClients)
	huma.Register(api, huma.Operation{
		OperationID:   "createClient",
		Method:        http.MethodPost,
		Path:          "/api/v1/config/clients",
		Summary:       "Register a client",
		DefaultStatus: 201,
	}, configHandler.CreateClient)
	huma.Put(api, "/api/v1/config/clients/{name}", configHandler.UpdateClient)
	huma.Delete(api, "/api/v1/config/clients/{name}", configHandler.DeleteClient)

	// Raw HTTP handler for report downloads (non-JSON content types)
	reportsHandler := handlers.NewReportsHandler(cfg.ReportsDir, logger)
	router.Get("/api/v1/reports/{run}/{file}", reportsHandler.Download)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
