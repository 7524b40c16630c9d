package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/YubinShin/creverse/internal/models"
	"github.com/YubinShin/creverse/internal/observability"
	"github.com/YubinShin/creverse/internal/repository"
	"github.com/YubinShin/creverse/pkg/ai"
)

// PhaseCallOpenAI labels log rows written for evaluation requests.
const PhaseCallOpenAI = "call_openai"

const defaultCallLogBuffer = 256

// CallLogWriter persists evaluation call records off the request path. Records
// that arrive while the buffer is full are dropped and counted.
type CallLogWriter struct {
	submissions repository.SubmissionRepository
	entries     chan callLogItem
	logger      zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// callLogItem carries either a log row or a flush marker through the queue.
type callLogItem struct {
	entry   models.SubmissionLog
	flushed chan struct{}
}

// NewCallLogWriter starts the background writer.
func NewCallLogWriter(repo repository.SubmissionRepository, buffer int, logger zerolog.Logger) *CallLogWriter {
	if buffer <= 0 {
		buffer = defaultCallLogBuffer
	}

	w := &CallLogWriter{
		submissions: repo,
		entries:     make(chan callLogItem, buffer),
		logger:      logger.With().Str("component", "call_log_writer").Logger(),
		done:        make(chan struct{}),
	}
	go w.loop()

	return w
}

// RecordCall implements ai.CallRecorder and never blocks.
func (w *CallLogWriter) RecordCall(_ context.Context, record ai.CallRecord) {
	if record.SubmissionID == 0 {
		return
	}

	latency := record.Latency.Milliseconds()
	entry := models.SubmissionLog{
		SubmissionID: record.SubmissionID,
		Phase:        PhaseCallOpenAI,
		URI:          record.Endpoint,
		Status:       models.LogStatusOK,
		Message:      "model " + record.Model,
		LatencyMs:    &latency,
		TraceID:      record.TraceID,
	}
	if record.Err != nil {
		entry.Status = models.LogStatusFailed
		entry.Message = record.Err.Error()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.entries <- callLogItem{entry: entry}:
	default:
		observability.CallLogDropped().Inc()
		w.logger.Warn().
			Uint("submission_id", record.SubmissionID).
			Str("trace_id", record.TraceID).
			Msg("call log buffer full, record dropped")
	}
}

// Flush waits until every record accepted before the call is persisted. It
// returns nil once the writer is closed, since Close drains the queue itself.
func (w *CallLogWriter) Flush(ctx context.Context) error {
	flushed := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.entries <- callLogItem{flushed: flushed}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records and waits until the buffer is flushed or ctx
// expires.
func (w *CallLogWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *CallLogWriter) loop() {
	defer close(w.done)

	for item := range w.entries {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		entry := item.entry
		if err := w.submissions.AppendLog(context.Background(), &entry); err != nil {
			w.logger.Error().
				Err(err).
				Uint("submission_id", entry.SubmissionID).
				Str("trace_id", entry.TraceID).
				Msg("failed to persist call log")
		}
	}
}
