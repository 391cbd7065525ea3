package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/stream-recorder/internal/admin"
	"github.com/cuongbtq/stream-recorder/internal/config"
	"github.com/cuongbtq/stream-recorder/internal/metrics"
	"github.com/cuongbtq/stream-recorder/internal/recorder"
	"github.com/cuongbtq/stream-recorder/internal/shutdown"
	"github.com/cuongbtq/stream-recorder/internal/worker"
	"github.com/cuongbtq/stream-recorder/internal/worker/storage"
	"github.com/cuongbtq/stream-recorder/shared/logger"
	"github.com/cuongbtq/stream-recorder/shared/postgresql"
	"github.com/cuongbtq/stream-recorder/shared/rabbitmq"
)

const dbConnectTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Logs until the configured logger exists
	bootLogger := logger.NewDefault()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		bootLogger.Info("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		bootLogger.Error("Configuration rejected",
			slog.String("path", *configPath),
			slog.Any("error", err),
		)
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue", cfg.RabbitMQ.Queue.Name),
	)

	workerMetrics := metrics.New()

	// Initialize the optional PostgreSQL ledger
	var dbClient *postgresql.Client
	var ledger worker.Ledger
	if cfg.Database.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
		ctx, cancel := context.WithTimeout(context.Background(), dbConnectTimeout)
		err = store.EnsureSchema(ctx)
		cancel()
		if err != nil {
			dbClient.Close()
			return fmt.Errorf("failed to prepare ledger: %w", err)
		}
		ledger = store

		appLogger.Info("Database connection established")
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(cfg, appLogger.Logger)
	if err != nil {
		if dbClient != nil {
			dbClient.Close()
		}
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	processor := worker.NewProcessor(&worker.ProcessorConfig{
		Logger:      appLogger.Logger,
		Recorder:    recorder.NewHTTPRecorder(nil, cfg.Recorder.WorkDir, cfg.Recorder.UserAgent, appLogger.Logger),
		Uploader:    initUploader(&cfg.Upload, appLogger.Logger),
		Cleaner:     recorder.FileCleaner{},
		Metrics:     workerMetrics,
		MaxDuration: cfg.Worker.MaxDuration,
		GracePeriod: cfg.Worker.JobGracePeriod,
	})

	consumerTag := fmt.Sprintf("%s-%s", cfg.App.Name, uuid.NewString())
	workerLogger := appLogger.With(slog.String("consumer_tag", consumerTag))

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:           workerLogger.Logger,
		Broker:           rabbitClient,
		Processor:        processor,
		Ledger:           ledger,
		Metrics:          workerMetrics,
		ConsumerTag:      consumerTag,
		QueueName:        cfg.RabbitMQ.Queue.Name,
		PrefetchCount:    cfg.RabbitMQ.Consumer.PrefetchCount,
		RequeueOnFailure: cfg.RabbitMQ.Consumer.RequeueOnFailure,
	})

	errChan := make(chan error, 2)

	// Start the admin server unless disabled
	var adminServer *admin.Server
	if cfg.Admin.Port != 0 {
		adminServer = initAdmin(cfg, rabbitClient, workerMetrics.Handler(), appLogger.WithGroup("admin").Logger)
		if err := adminServer.Start(errChan); err != nil {
			rabbitClient.Close()
			if dbClient != nil {
				dbClient.Close()
			}
			return err
		}
	}

	// Drain the worker before closing the channel, then the connection
	shutdownRoutine := sync.OnceValue(func() error {
		var errs []error

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		if err := workerInstance.Stop(ctx); err != nil {
			errs = append(errs, err)
		}

		if adminServer != nil {
			adminCtx, adminCancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
			if err := adminServer.Shutdown(adminCtx); err != nil {
				errs = append(errs, err)
			}
			adminCancel()
		}

		if err := rabbitClient.Close(); err != nil {
			errs = append(errs, err)
		}

		if dbClient != nil {
			if err := dbClient.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})

	trap := shutdown.NewTrap(&shutdown.Config{
		Logger:  appLogger.Logger,
		Routine: shutdownRoutine,
	})
	trap.TrapDefaults()
	defer trap.Stop()

	// Start worker in a goroutine
	go func() {
		if err := workerInstance.Start(context.Background()); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("prefetch_count", cfg.RabbitMQ.Consumer.PrefetchCount),
	)

	select {
	case <-trap.Done():
		appLogger.Info("Worker service shutdown complete")
		return nil

	case amqpErr, ok := <-rabbitClient.NotifyClose():
		if !ok || amqpErr == nil {
			// Closed by our own shutdown routine
			<-trap.Done()
			appLogger.Info("Worker service shutdown complete")
			return nil
		}
		appLogger.Error("Broker connection lost",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
		err = fmt.Errorf("%w: %s", rabbitmq.ErrConnectivity, amqpErr.Reason)

	case err = <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
	}

	if shutdownErr := shutdownRoutine(); shutdownErr != nil {
		appLogger.Error("Shutdown after failure was incomplete",
			slog.Any("error", shutdownErr),
		)
	}
	return err
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbConnectTimeout)
	defer cancel()

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ connects, opens the channel and declares the job queue
func initRabbitMQ(cfg *config.Config, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		URI:            cfg.RabbitMQ.URI,
		ConnectionName: cfg.RabbitMQ.Connection.Name,
		QueueName:      cfg.RabbitMQ.Queue.Name,
		QueueDurable:   cfg.RabbitMQ.Queue.IsDurable(),
		RetryAttempts:  cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:  cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:      cfg.RabbitMQ.Connection.Heartbeat,
	}
	if rabbitConfig.ConnectionName == "" {
		rabbitConfig.ConnectionName = cfg.App.Name
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initUploader picks the artifact destination
func initUploader(cfg *config.UploadConfig, logger *slog.Logger) worker.Uploader {
	if cfg.Backend == config.UploadBackendHTTP {
		client := &http.Client{Timeout: cfg.Timeout}
		return recorder.NewHTTPUploader(client, cfg.Endpoint, cfg.Token, logger)
	}
	return recorder.NewDirectoryUploader(cfg.Directory, logger)
}

// initAdmin builds the health and metrics server
func initAdmin(cfg *config.Config, broker admin.BrokerStatus, metricsHandler http.Handler, logger *slog.Logger) *admin.Server {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := admin.SetupRouter(&admin.Dependencies{
		Logger:  logger,
		Service: cfg.App.Name,
		Broker:  broker,
		Metrics: metricsHandler,
	})

	return admin.NewServer(&admin.ServerConfig{
		Port:         cfg.Admin.Port,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
	}, router, logger)
}
