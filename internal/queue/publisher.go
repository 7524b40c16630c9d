package queue

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/YubinShin/creverse/internal/dto"
)

// Publisher enqueues submission jobs.
type Publisher struct {
	client   *asynq.Client
	validate *validator.Validate
	options  TaskOptions
	logger   zerolog.Logger
}

// NewPublisher wraps an asynq client.
func NewPublisher(client *asynq.Client, validate *validator.Validate, options TaskOptions, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		validate: validate,
		options:  options,
		logger:   logger.With().Str("component", "queue_publisher").Logger(),
	}
}

// EnqueueProcess schedules the full processing pipeline.
func (p *Publisher) EnqueueProcess(ctx context.Context, job dto.ProcessJob) (string, error) {
	return p.enqueue(ctx, TypeProcess, job)
}

// EnqueueReevaluate schedules an evaluation-only run.
func (p *Publisher) EnqueueReevaluate(ctx context.Context, job dto.ProcessJob) (string, error) {
	return p.enqueue(ctx, TypeReevaluate, job)
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) enqueue(ctx context.Context, taskType string, job dto.ProcessJob) (string, error) {
	task, err := NewTask(p.validate, taskType, job)
	if err != nil {
		return "", err
	}

	info, err := p.client.EnqueueContext(ctx, task, p.options.asynqOptions()...)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}

	p.logger.Info().
		Str("task_type", taskType).
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Uint("submission_id", job.SubmissionID).
		Str("trace_id", job.TraceID).
		Msg("task enqueued")

	return info.ID, nil
}
