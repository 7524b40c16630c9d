package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/YubinShin/creverse/internal/config"
	"github.com/YubinShin/creverse/internal/database"
	"github.com/YubinShin/creverse/internal/handler"
	"github.com/YubinShin/creverse/internal/media"
	"github.com/YubinShin/creverse/internal/observability"
	"github.com/YubinShin/creverse/internal/queue"
	"github.com/YubinShin/creverse/internal/repository"
	"github.com/YubinShin/creverse/internal/service"
	"github.com/YubinShin/creverse/pkg/ai"
	"github.com/YubinShin/creverse/pkg/notify"
	"github.com/YubinShin/creverse/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(config.RoleWorker); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Str("role", config.RoleWorker).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.QueueConcurrency+2)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	redisOpt, err := database.QueueRedisOpt(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to configure queue: %v", err)
	}

	store, err := storage.New(storage.Config{
		Driver:                cfg.StorageDriver,
		AzureConnectionString: cfg.AzureConnectionString,
		AzureAccountName:      cfg.AzureAccountName,
		AzureAccountKey:       cfg.AzureAccountKey,
		AzureServiceURL:       cfg.AzureServiceURL,
		MinioEndpoint:         cfg.MinioEndpoint,
		MinioAccessKey:        cfg.MinioAccessKey,
		MinioSecretKey:        cfg.MinioSecretKey,
		MinioUseSSL:           cfg.MinioUseSSL,
		MinioRegion:           cfg.MinioRegion,
		Container:             cfg.StorageContainer,
		Retry:                 cfg.StorageRetry,
	})
	if err != nil {
		log.Fatalf("failed to configure storage: %v", err)
	}

	submissionRepo := repository.NewSubmissionRepository(db)
	callLogs := service.NewCallLogWriter(submissionRepo, cfg.CallLogBuffer, logger)

	evaluator, err := ai.NewOpenAIEvaluator(ai.OpenAIConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		AzureEndpoint:   cfg.AzureOpenAIEndpoint,
		AzureDeployment: cfg.AzureOpenAIDeployment,
		APIVersion:      cfg.AzureOpenAIAPIVersion,
		Model:           cfg.OpenAIModel,
		MaxTokens:       cfg.OpenAIMaxTokens,
		Temperature:     float32(cfg.OpenAITemperature),
		Language:        cfg.EvaluationLanguage,
		JSONMode:        cfg.OpenAIJSONMode,
		Timeout:         cfg.OpenAITimeout,
		Logger:          logger,
		Recorder:        callLogs,
	})
	if err != nil {
		log.Fatalf("failed to configure evaluator: %v", err)
	}

	natsConn, err := notify.Connect(cfg.NATSURL, cfg.AppName+"-worker")
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}

	ffmpeg := media.NewFFmpeg(
		media.WithFFmpegBinary(cfg.FFmpegPath),
		media.WithFFprobeBinary(cfg.FFprobePath),
		media.WithLogger(logger),
	)
	detector := media.NewChainDetector(logger,
		media.NewBrightnessDetector(ffmpeg, media.DefaultBrightnessConfig()),
		media.NewSaturationDetector(ffmpeg, media.DefaultSaturationConfig()),
	)

	processor := service.NewSubmissionProcessor(service.ProcessorDependencies{
		Submissions: submissionRepo,
		Transcoder:  ffmpeg,
		Detector:    detector,
		Publisher:   storage.NewPublisher(store, logger),
		Verifier:    storage.NewHTTPVerifier(cfg.VerifyTimeout, cfg.VerifyRetries, logger),
		Evaluator:   evaluator,
		Notifier:    notify.NewPublisher(natsConn, redisClient, cfg.NotifySubjectPrefix, logger),
		CallLogs:    callLogs,
	}, service.ProcessorConfig{
		FallbackRatio: cfg.FallbackRatio,
		MaxCutRatio:   cfg.MaxCutRatio,
		SignedURLTTL:  cfg.SignedURLTTL,
		BlobPrefix:    cfg.BlobPrefix,
		OutputDir:     cfg.OutputDir,
	}, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())
	mux := asynq.NewServeMux()
	queue.NewHandler(processor, validate, logger).Register(mux)

	srv := queue.NewServer(redisOpt, queue.ServerConfig{
		Concurrency:     cfg.QueueConcurrency,
		Queue:           cfg.QueueName,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	ops := fiber.New(fiber.Config{
		AppName:               cfg.AppName + "-worker",
		DisableStartupMessage: true,
	})
	ops.Get("/metrics", observability.MetricsHandler())
	ops.Get("/health", handler.HealthCheck(cfg, map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return database.Ping(ctx, db) },
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Start(mux)
	})
	group.Go(func() error {
		return ops.Listen(cfg.WorkerAddress())
	})
	group.Go(func() error {
		<-groupCtx.Done()

		srv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := callLogs.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("call log writer did not flush in time")
		}
		if natsConn != nil {
			if err := natsConn.Drain(); err != nil {
				logger.Warn().Err(err).Msg("nats drain failed")
			}
		}
		return ops.ShutdownWithContext(shutdownCtx)
	})

	logger.Info().
		Int("concurrency", cfg.QueueConcurrency).
		Str("queue", cfg.QueueName).
		Str("ops_addr", cfg.WorkerAddress()).
		Msg("worker started")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}

	logger.Info().Msg("worker stopped")
}
