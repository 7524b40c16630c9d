// Package queue carries submission jobs between the API and the worker over
// Redis-backed asynq queues.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/YubinShin/creverse/internal/dto"
	"github.com/YubinShin/creverse/internal/service"
)

// Task types consumed by the worker.
const (
	TypeProcess    = service.JobProcess
	TypeReevaluate = service.JobReevaluate
)

// TaskOptions bound redelivery and inspection of enqueued tasks.
type TaskOptions struct {
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// DefaultTaskOptions returns the production task options.
func DefaultTaskOptions() TaskOptions {
	return TaskOptions{
		Queue:     "default",
		MaxRetry:  3,
		Timeout:   20 * time.Minute,
		Retention: 24 * time.Hour,
	}
}

func (o TaskOptions) asynqOptions() []asynq.Option {
	defaults := DefaultTaskOptions()
	if o.Queue == "" {
		o.Queue = defaults.Queue
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = defaults.MaxRetry
	}
	if o.Timeout <= 0 {
		o.Timeout = defaults.Timeout
	}

	opts := []asynq.Option{
		asynq.Queue(o.Queue),
		asynq.MaxRetry(o.MaxRetry),
		asynq.Timeout(o.Timeout),
	}
	if o.Retention > 0 {
		opts = append(opts, asynq.Retention(o.Retention))
	}
	return opts
}

// NewTask validates the job and encodes it as a task of the given type.
func NewTask(validate *validator.Validate, taskType string, job dto.ProcessJob) (*asynq.Task, error) {
	if err := validate.Struct(job); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}

	return asynq.NewTask(taskType, payload), nil
}

// DecodeJob parses and validates a task payload.
func DecodeJob(validate *validator.Validate, payload []byte) (dto.ProcessJob, error) {
	var job dto.ProcessJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return dto.ProcessJob{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := validate.Struct(job); err != nil {
		return dto.ProcessJob{}, err
	}
	return job, nil
}
