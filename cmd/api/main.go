package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/YubinShin/creverse/internal/config"
	"github.com/YubinShin/creverse/internal/database"
	"github.com/YubinShin/creverse/internal/handler"
	"github.com/YubinShin/creverse/internal/middleware"
	"github.com/YubinShin/creverse/internal/queue"
	"github.com/YubinShin/creverse/internal/repository"
	"github.com/YubinShin/creverse/internal/router"
	"github.com/YubinShin/creverse/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(config.RoleAPI); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Str("role", config.RoleAPI).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.DatabaseMaxConns)
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

	validate := validator.New(validator.WithRequiredStructEnabled())

	publisher := queue.NewPublisher(asynq.NewClient(redisOpt), validate, queue.TaskOptions{
		Queue:     cfg.QueueName,
		MaxRetry:  cfg.QueueMaxRetry,
		Timeout:   cfg.QueueTimeout,
		Retention: cfg.QueueRetention,
	}, logger)
	defer publisher.Close()

	submissionRepo := repository.NewSubmissionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	submissionService := service.NewSubmissionService(submissionRepo, studentRepo, publisher, validate, cfg.UploadDir, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    cfg.UploadMaxMB * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.AllowOrigins,
		AccessLog:    cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: submissionHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		SubmitRateLimit:   cfg.SubmitRateLimit,
		HealthChecks: map[string]handler.ReadinessCheck{
			"database": func(ctx context.Context) error { return database.Ping(ctx, db) },
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cfg, logger)
}

func waitForShutdown(app *fiber.App, cfg config.Config, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
