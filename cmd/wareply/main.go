package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wareply/internal/config"
	"wareply/internal/constants"
	"wareply/internal/database"
	"wareply/internal/queue"
	"wareply/internal/retry"
	"wareply/internal/service"
	"wareply/internal/tools"
	"wareply/internal/tracing"
	"wareply/pkg/llm"
	"wareply/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wareply %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wareply")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			if level > logrus.InfoLevel {
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Watch the config file so operators can flip AI flags or business
	// hours without a restart
	cfgWatcher := config.NewWatcher(*configPath, logger)
	cfgWatcher.Prime(cfg)
	go func() {
		if err := cfgWatcher.Start(ctx); err != nil {
			logger.WithError(err).Error("Configuration watcher stopped")
		}
	}()

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" && cfg.AI.Enabled {
		return fmt.Errorf("ANTHROPIC_API_KEY environment variable is required when AI is enabled")
	}
	model := llm.NewAnthropicClient(apiKey, logger)

	waClient := whatsapp.NewClient(
		cfg.WhatsApp.APIBaseURL,
		cfg.WhatsApp.PhoneNumberID,
		cfg.WhatsApp.AccessToken,
		time.Duration(cfg.WhatsApp.TimeoutSec)*time.Second,
	)

	location, err := time.LoadLocation(cfg.BusinessHours.Timezone)
	if err != nil {
		logger.Warnf("Invalid timezone %q, using UTC", cfg.BusinessHours.Timezone)
		location = time.UTC
	}

	registry := tools.NewRegistry(logger)
	registry.Register(tools.NewScheduleTool(db, location))
	registry.Register(tools.NewCancelTool(db))
	registry.Register(tools.NewLookupTool(db, location))
	registry.Register(tools.NewPracticeTool(db))

	bus := service.NewEventBus()
	dispatcher := service.NewDispatcher(waClient, db, bus, logger)
	orchestrator := service.NewOrchestrator(db, model, registry, cfgWatcher, dispatcher, db, logger)
	processor := service.NewProcessor(orchestrator, dispatcher, db, cfgWatcher, logger)

	queues := queue.NewManager(cfg.Queue, cfg.Retry, logger)
	queues.CreateQueue(service.AIQueueName, cfg.Queue.AIConcurrency)
	if err := queues.RegisterHandler(service.AIQueueName, service.JobTypeProcessMessage, processor.HandleJob); err != nil {
		return fmt.Errorf("failed to register queue handler: %w", err)
	}
	queues.Start(ctx)
	defer queues.Stop()

	gateway := service.NewGateway(db, queues, processor, cfgWatcher, bus, logger)

	scheduler := service.NewScheduler(db, cfg.RetentionDays, cfg.Server.CleanupIntervalHours, logger)
	go scheduler.Start(ctx)

	server := NewServer(cfgWatcher, gateway, dispatcher, db, queues, bus, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
