package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/YubinShin/creverse/internal/dto"
	"github.com/YubinShin/creverse/internal/service"
)

// ServerConfig tunes the worker server.
type ServerConfig struct {
	Concurrency     int
	Queue           string
	ShutdownTimeout time.Duration
}

// NewServer builds the asynq server that runs submission jobs.
func NewServer(redisOpt asynq.RedisConnOpt, cfg ServerConfig, logger zerolog.Logger) *asynq.Server {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultTaskOptions().Queue
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	errLogger := logger.With().Str("component", "queue_server").Logger()
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          NewLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			errLogger.Warn().
				Err(err).
				Str("task_type", task.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
	})
}

// Handler dispatches decoded jobs to the submission processor.
type Handler struct {
	processor service.SubmissionProcessor
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(processor service.SubmissionProcessor, validate *validator.Validate, logger zerolog.Logger) *Handler {
	return &Handler{
		processor: processor,
		validate:  validate,
		logger:    logger.With().Str("component", "queue_handler").Logger(),
	}
}

// Register binds both task types on the mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeProcess, h.HandleProcess)
	mux.HandleFunc(TypeReevaluate, h.HandleReevaluate)
}

// HandleProcess runs the full pipeline for a process task.
func (h *Handler) HandleProcess(ctx context.Context, task *asynq.Task) error {
	return h.handle(ctx, task, h.processor.Process)
}

// HandleReevaluate runs the evaluation-only pipeline.
func (h *Handler) HandleReevaluate(ctx context.Context, task *asynq.Task) error {
	return h.handle(ctx, task, h.processor.Reevaluate)
}

func (h *Handler) handle(ctx context.Context, task *asynq.Task, run func(context.Context, dto.ProcessJob) (dto.ProcessResult, error)) error {
	job, err := DecodeJob(h.validate, task.Payload())
	if err != nil {
		h.logger.Error().Err(err).Str("task_type", task.Type()).Msg("invalid task payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if job.TraceID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			job.TraceID = id
		}
	}

	result, err := run(ctx, job)
	if err != nil {
		if service.IsInputError(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if writer := task.ResultWriter(); writer != nil {
		if payload, err := json.Marshal(result); err == nil {
			if _, err := writer.Write(payload); err != nil {
				h.logger.Warn().Err(err).Uint("submission_id", job.SubmissionID).Msg("failed to write task result")
			}
		}
	}

	return nil
}
