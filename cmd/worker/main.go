package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

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

	// Initialize blob storage for oversized file content
	blobs, err := storage.NewS3Store(&cfg.Blob)
	if err != nil {
		appLogger.Fatalf("Failed to initialize blob storage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := blobs.EnsureBucket(ctx); err != nil {
		appLogger.Fatalf("Failed to ensure blob bucket: %v", err)
	}

	// Initialize state store and repositories
	store := repository.NewStateStore(db)
	projectRepo := repository.NewProjectRepository(store).
		WithBlobStore(blobs, cfg.Pipeline.MaxFileItemBytes)

	// Initialize the task queue broker
	broker, err := queue.NewBroker(db, &cfg.Queue)
	if err != nil {
		appLogger.Fatalf("Failed to initialize queue broker: %v", err)
	}

	// Initialize services
	gen := generator.New(&cfg.Generator)
	notifier := notify.New(&cfg.Notify)
	modificationService := service.NewModificationService(projectRepo, broker, gen, notifier)

	// Stage handlers
	planner := service.NewPlannerService(projectRepo, broker, notifier)
	developer := service.NewDeveloperService(projectRepo, broker, gen, modificationService, notifier)
	quality := service.NewQualityService(projectRepo, notifier)
	deployer := service.NewDeployerService(projectRepo, gen, notifier)

	handlers := []service.StageHandler{planner, developer, quality, deployer}

	// Run one worker per stage until interrupted
	var wg sync.WaitGroup
	for _, h := range handlers {
		worker := service.NewStageWorker(broker, projectRepo, notifier, h, &cfg.Queue)
		wg.Add(1)
		go func(w *service.StageWorker, stage string) {
			defer wg.Done()
			appLogger.Infof("Starting %s stage worker", stage)
			w.Run(ctx)
		}(worker, string(h.Stage()))
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down workers...")
	cancel()
	wg.Wait()
	appLogger.Info("Workers exited")
}
