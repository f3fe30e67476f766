package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/handler"
	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
	"github.com/EslamTharwaat/remove-image-background/service"
)

func main() {
	// A missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	configPath := os.Getenv("BGR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "path", configPath)

	// Initialize services
	uploads, err := service.NewFileStore(cfg.Storage.UploadDir)
	if err != nil {
		slog.Error("failed to prepare upload directory", "error", err)
		os.Exit(1)
	}
	outputs, err := service.NewFileStore(cfg.Storage.OutputDir)
	if err != nil {
		slog.Error("failed to prepare output directory", "error", err)
		os.Exit(1)
	}

	segmenter := service.NewRemoteSegmenter(cfg.Segmenter.Endpoint, cfg.Segmenter.Timeout)
	processor := service.NewProcessor(segmenter, uploads, outputs, cfg.Processing)

	if cfg.S3.Enabled {
		s3Svc, err := service.NewS3Service(&cfg.S3)
		if err != nil {
			slog.Error("failed to initialize S3 service", "error", err)
			os.Exit(1)
		}
		if err := s3Svc.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure S3 bucket", "bucket", cfg.S3.Bucket, "error", err)
			os.Exit(1)
		}
		processor.WithMirror(s3Svc)
		slog.Info("s3 mirroring enabled", "bucket", cfg.S3.Bucket)
	}

	store, err := service.NewBatchStore(context.Background(), &cfg.Store)
	if err != nil {
		slog.Error("failed to initialize batch store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.Kafka.Enabled {
		kafka, err := service.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			slog.Error("failed to initialize kafka publisher", "error", err)
			os.Exit(1)
		}
		events = kafka
	}

	coordinator := service.NewCoordinator(processor, store, cfg.Processing).WithEvents(events)

	janitor, err := service.NewJanitor(cfg.Cleanup, cfg.Store.BatchTTL, store, uploads, outputs)
	if err != nil {
		slog.Error("failed to initialize cleanup", "error", err)
		os.Exit(1)
	}
	janitor.Start()

	validator := service.NewValidator(cfg.Limits)
	svc := &handler.Services{
		Validator:   validator,
		Expander:    service.NewArchiveExpander(validator),
		Processor:   processor,
		Coordinator: coordinator,
		Uploads:     uploads,
		Outputs:     outputs,
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(cfg, svc, segmenter)

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting",
			"port", cfg.Server.Port,
			"store", cfg.Store.Backend,
			"workers", coordinator.Workers(),
			"segmenter", cfg.Segmenter.Endpoint,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exitCode := 0
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		exitCode = 1
	}
	if err := coordinator.Shutdown(ctx); err != nil {
		slog.Error("batches did not finish in time", "error", err)
		exitCode = 1
	}
	janitor.Stop()
	if err := events.Close(); err != nil {
		slog.Warn("failed to close event publisher", "error", err)
	}
	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("failed to close batch store", "error", err)
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	slog.Info("server exited gracefully")
}
