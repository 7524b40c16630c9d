package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/YubinShin/creverse/internal/dto"
)

func newTestPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	publisher := NewPublisher(client, validator.New(validator.WithRequiredStructEnabled()), DefaultTaskOptions(), zerolog.Nop())
	t.Cleanup(func() { _ = publisher.Close() })
	return publisher, mr
}

func TestPublisherEnqueuesOnDefaultQueue(t *testing.T) {
	publisher, mr := newTestPublisher(t)
	ctx := context.Background()

	processID, err := publisher.EnqueueProcess(ctx, dto.ProcessJob{SubmissionID: 1, TraceID: "trace-1", FilePath: "/data/in.mp4"})
	require.NoError(t, err)
	require.NotEmpty(t, processID)

	reevaluateID, err := publisher.EnqueueReevaluate(ctx, dto.ProcessJob{SubmissionID: 1, TraceID: "trace-2"})
	require.NoError(t, err)
	require.NotEqual(t, processID, reevaluateID)

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{processID, reevaluateID}, pending)
}

func TestPublisherRejectsInvalidJob(t *testing.T) {
	publisher, mr := newTestPublisher(t)

	_, err := publisher.EnqueueProcess(context.Background(), dto.ProcessJob{})
	require.Error(t, err)
	require.False(t, mr.Exists("asynq:{default}:pending"))
}

func TestTaskOptionsDefaults(t *testing.T) {
	opts := TaskOptions{MaxRetry: -1}.asynqOptions()
	require.Len(t, opts, 3)

	opts = TaskOptions{Queue: "media", MaxRetry: 5, Timeout: time.Minute, Retention: time.Hour}.asynqOptions()
	require.Len(t, opts, 4)
	require.Equal(t, asynq.QueueOpt, opts[0].Type())
	require.Equal(t, "media", opts[0].Value())
}

func TestDecodeJobValidatesPayload(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	job, err := DecodeJob(validate, []byte(`{"submissionId":3,"traceId":"abc"}`))
	require.NoError(t, err)
	require.Equal(t, dto.ProcessJob{SubmissionID: 3, TraceID: "abc"}, job)

	_, err = DecodeJob(validate, []byte(`{"submissionId":-1}`))
	require.Error(t, err)
}
