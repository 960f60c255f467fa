package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/forge/internal/api"
	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/generator"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/notify"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/repository"
	"github.com/timmy/forge/internal/service"
	"github.com/timmy/forge/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize blob storage so API reads hydrate spilled file content
	blobs, err := storage.NewS3Store(&cfg.Blob)
	if err != nil {
		appLogger.Fatalf("Failed to initialize blob storage: %v", err)
	}

	// Initialize state store and repositories
	store := repository.NewStateStore(db)
	projectRepo := repository.NewProjectRepository(store).
		WithBlobStore(blobs, cfg.Pipeline.MaxFileItemBytes)
	templateRepo := repository.NewTemplateRepository(store)

	// Initialize the task queue broker
	broker, err := queue.NewBroker(db, &cfg.Queue)
	if err != nil {
		appLogger.Fatalf("Failed to initialize queue broker: %v", err)
	}

	// Initialize services
	gen := generator.New(&cfg.Generator)
	notifier := notify.New(&cfg.Notify)
	projectService := service.NewProjectService(projectRepo, broker)
	modificationService := service.NewModificationService(projectRepo, broker, gen, notifier)
	templateService := service.NewTemplateService(templateRepo, projectRepo, broker)
	readinessService := service.NewReadinessService(projectRepo, broker, &cfg.Pipeline)

	// Setup router
	router := api.SetupRouter(
		projectService,
		modificationService,
		templateService,
		readinessService,
		broker,
		appLogger,
		&cfg.Server,
	)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.Infof("Starting API server on port %d (mode=%s)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("Server exited")
}
