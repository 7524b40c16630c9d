package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/YubinShin/creverse/internal/dto"
	"github.com/YubinShin/creverse/internal/media"
	"github.com/YubinShin/creverse/internal/models"
	"github.com/YubinShin/creverse/internal/observability"
	"github.com/YubinShin/creverse/internal/repository"
	"github.com/YubinShin/creverse/pkg/ai"
	"github.com/YubinShin/creverse/pkg/highlight"
	"github.com/YubinShin/creverse/pkg/notify"
	"github.com/YubinShin/creverse/pkg/storage"
)

// Job kinds handled by the processor. They double as the queue task types.
const (
	JobProcess    = "process"
	JobReevaluate = "reevaluate"
)

const terminalLogTimeout = 5 * time.Second

// SubmissionProcessor runs the background pipeline for one submission.
type SubmissionProcessor interface {
	Process(ctx context.Context, job dto.ProcessJob) (dto.ProcessResult, error)
	Reevaluate(ctx context.Context, job dto.ProcessJob) (dto.ProcessResult, error)
}

// BlobPublisher uploads a local file and returns a time-limited read URL.
type BlobPublisher interface {
	UploadAndSign(ctx context.Context, remotePath, localPath, contentType string, ttl time.Duration) (string, error)
}

// Notifier receives terminal submission events.
type Notifier interface {
	Publish(ctx context.Context, event notify.Event) error
}

// CallLogFlusher persists pending evaluation call rows on demand.
type CallLogFlusher interface {
	Flush(ctx context.Context) error
}

// ProcessorConfig tunes the processing pipeline.
type ProcessorConfig struct {
	FallbackRatio float64
	MaxCutRatio   float64
	SignedURLTTL  time.Duration
	BlobPrefix    string
	// OutputDir holds derived files; empty writes them next to the input.
	OutputDir string
}

// DefaultProcessorConfig returns the production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		FallbackRatio: 0.17,
		MaxCutRatio:   0.7,
		SignedURLTTL:  60 * time.Minute,
		BlobPrefix:    "submissions",
	}
}

// ProcessorDependencies groups the ports used by the processor.
type ProcessorDependencies struct {
	Submissions repository.SubmissionRepository
	Transcoder  media.Transcoder
	Detector    media.BoundaryDetector
	Publisher   BlobPublisher
	Verifier    storage.Verifier
	Evaluator   ai.Evaluator
	Notifier    Notifier
	// CallLogs, when set, is flushed after each evaluation so call_openai
	// rows precede the evaluate row.
	CallLogs CallLogFlusher
}

type submissionProcessor struct {
	submissions repository.SubmissionRepository
	transcoder  media.Transcoder
	detector    media.BoundaryDetector
	publisher   BlobPublisher
	verifier    storage.Verifier
	evaluator   ai.Evaluator
	notifier    Notifier
	callLogs    CallLogFlusher
	config      ProcessorConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionProcessor constructs a SubmissionProcessor.
func NewSubmissionProcessor(deps ProcessorDependencies, cfg ProcessorConfig, logger zerolog.Logger) SubmissionProcessor {
	defaults := DefaultProcessorConfig()
	if cfg.FallbackRatio <= 0 {
		cfg.FallbackRatio = defaults.FallbackRatio
	}
	if cfg.MaxCutRatio <= 0 {
		cfg.MaxCutRatio = defaults.MaxCutRatio
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaults.SignedURLTTL
	}
	if strings.TrimSpace(cfg.BlobPrefix) == "" {
		cfg.BlobPrefix = defaults.BlobPrefix
	}

	return &submissionProcessor{
		submissions: deps.Submissions,
		transcoder:  deps.Transcoder,
		detector:    deps.Detector,
		publisher:   deps.Publisher,
		verifier:    deps.Verifier,
		evaluator:   deps.Evaluator,
		notifier:    deps.Notifier,
		callLogs:    deps.CallLogs,
		config:      cfg,
		logger:      logger.With().Str("component", "submission_processor").Logger(),
		tracer:      otel.Tracer("github.com/YubinShin/creverse/internal/service"),
		now:         time.Now,
	}
}

type phase struct {
	name string
	run  func(ctx context.Context, run *jobRun) (string, error)
	// logsInline phases write their own ok row inside their transaction.
	logsInline bool
}

type jobRun struct {
	kind       string
	job        dto.ProcessJob
	uri        string
	started    time.Time
	submission models.Submission
	media      []models.SubmissionMedia
	videoURL   string
	audioURL   string
	evaluation ai.EvaluationResult
	result     dto.ProcessResult
	logger     zerolog.Logger
}

// Process runs mark-processing, media, verify, evaluate and persist.
func (p *submissionProcessor) Process(ctx context.Context, job dto.ProcessJob) (dto.ProcessResult, error) {
	return p.execute(ctx, JobProcess, job, []phase{
		{name: PhaseMarkProcessing, run: p.markProcessing},
		{name: PhaseMedia, run: p.processMedia},
		{name: PhaseVerify, run: p.verifyMedia},
		{name: PhaseEvaluate, run: p.evaluate},
		{name: PhasePersist, run: p.persist, logsInline: true},
	})
}

// Reevaluate grades the stored text again without touching media.
func (p *submissionProcessor) Reevaluate(ctx context.Context, job dto.ProcessJob) (dto.ProcessResult, error) {
	return p.execute(ctx, JobReevaluate, job, []phase{
		{name: PhaseMarkProcessing, run: p.markProcessing},
		{name: PhaseEvaluate, run: p.evaluate},
		{name: PhasePersist, run: p.persist, logsInline: true},
	})
}

func (p *submissionProcessor) execute(parent context.Context, kind string, job dto.ProcessJob, phases []phase) (dto.ProcessResult, error) {
	if strings.TrimSpace(job.TraceID) == "" {
		job.TraceID = uuid.NewString()
	}

	run := &jobRun{
		kind:    kind,
		job:     job,
		uri:     "worker:jobs#" + kind,
		started: p.now(),
		logger: p.logger.With().
			Uint("submission_id", job.SubmissionID).
			Str("trace_id", job.TraceID).
			Str("job", kind).
			Logger(),
	}

	ctx, span := p.tracer.Start(parent, "submission."+kind, trace.WithAttributes(
		attribute.Int64("submission_id", int64(job.SubmissionID)),
		attribute.String("trace_id", job.TraceID),
	))
	defer span.End()

	run.logger.Info().Msg("job started")

	var failure *ProcessingError
	defer func() {
		p.finish(ctx, run, failure)
	}()

	for _, ph := range phases {
		if perr := p.runPhase(ctx, run, ph); perr != nil {
			failure = perr
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Message)
			p.fail(ctx, run, perr)
			return dto.ProcessResult{}, perr
		}
	}

	return run.result, nil
}

func (p *submissionProcessor) runPhase(parent context.Context, run *jobRun, ph phase) *ProcessingError {
	ctx, span := p.tracer.Start(parent, "submission.phase."+ph.name)
	defer span.End()

	start := p.now()
	message, err := ph.run(ctx, run)
	latency := p.now().Sub(start)

	if err != nil {
		perr := classify(ph.name, err)
		observability.JobPhaseDuration().WithLabelValues(ph.name, "failed").Observe(latency.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, perr.Message)
		run.logger.Error().
			Err(err).
			Str("phase", ph.name).
			Str("kind", string(perr.Kind)).
			Int64("latency_ms", latency.Milliseconds()).
			Msg("phase failed")
		return perr
	}

	observability.JobPhaseDuration().WithLabelValues(ph.name, "ok").Observe(latency.Seconds())

	if !ph.logsInline {
		entry := p.logEntry(run, ph.name, models.LogStatusOK, message, &latency)
		if err := p.submissions.AppendLog(ctx, &entry); err != nil {
			return &ProcessingError{Phase: ph.name, Kind: ErrorKindPersistence, Message: "append log: " + err.Error(), Err: err}
		}
	}

	run.logger.Info().
		Str("phase", ph.name).
		Int64("latency_ms", latency.Milliseconds()).
		Msg(message)
	return nil
}

func (p *submissionProcessor) markProcessing(ctx context.Context, run *jobRun) (string, error) {
	if err := p.submissions.UpdateStatus(ctx, run.job.SubmissionID, models.SubmissionStatusProcessing); err != nil {
		return "", err
	}

	submission, err := p.submissions.GetByID(ctx, run.job.SubmissionID)
	if err != nil {
		return "", err
	}
	run.submission = submission

	return "status " + models.SubmissionStatusProcessing, nil
}

func (p *submissionProcessor) processMedia(ctx context.Context, run *jobRun) (string, error) {
	input := strings.TrimSpace(run.job.FilePath)
	if input == "" {
		input = strings.TrimSpace(run.submission.VideoPath)
	}
	if input == "" {
		return "", ErrMissingVideoPath
	}
	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrVideoNotFound, input)
		}
		return "", err
	}

	dims, err := p.transcoder.ReadDimensions(ctx, input)
	if err != nil {
		return "", err
	}

	detected, ok := p.detectBoundary(ctx, run, input, dims)
	cutX := media.ChooseCutX(detected, ok, dims.Width, p.config.FallbackRatio, p.config.MaxCutRatio)
	rect, err := media.Sanitize(media.LeftCropRect(cutX, dims), dims.Width, dims.Height)
	if err != nil {
		return "", err
	}

	videoOut, audioOut := p.outputPaths(run.job.SubmissionID, input)
	if err := p.transcoder.Crop(ctx, input, videoOut, rect); err != nil {
		return "", err
	}
	if err := p.transcoder.ExtractAudio(ctx, input, audioOut); err != nil {
		return "", err
	}

	remoteDir := path.Join(p.config.BlobPrefix, strconv.FormatUint(uint64(run.job.SubmissionID), 10))
	videoURL, err := p.publisher.UploadAndSign(ctx, remoteDir+"/video.mp4", videoOut, "video/mp4", p.config.SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("publish video: %w", err)
	}
	audioURL, err := p.publisher.UploadAndSign(ctx, remoteDir+"/audio.mp3", audioOut, "audio/mpeg", p.config.SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("publish audio: %w", err)
	}

	run.videoURL = videoURL
	run.audioURL = audioURL
	run.media = []models.SubmissionMedia{
		{
			SubmissionID: run.job.SubmissionID,
			MediaType:    models.MediaTypeVideo,
			LocalPath:    videoOut,
			BlobURL:      videoURL,
			Metadata: datatypes.JSONMap{
				"sourceWidth":  dims.Width,
				"sourceHeight": dims.Height,
				"width":        rect.W,
				"height":       rect.H,
				"crop":         map[string]int{"x": rect.X, "y": rect.Y, "w": rect.W, "h": rect.H},
				"detected":     ok,
			},
		},
		{
			SubmissionID: run.job.SubmissionID,
			MediaType:    models.MediaTypeAudio,
			LocalPath:    audioOut,
			BlobURL:      audioURL,
			Metadata:     datatypes.JSONMap{"bitrate": "192k", "format": "mp3"},
		},
	}

	for i := range run.media {
		if err := p.submissions.UpsertMedia(ctx, &run.media[i]); err != nil {
			return "", &ProcessingError{Phase: PhaseMedia, Kind: ErrorKindPersistence, Message: "upsert media: " + err.Error(), Err: err}
		}
	}

	return fmt.Sprintf("input %dx%d crop %s detected=%t", dims.Width, dims.Height, rect, ok), nil
}

func (p *submissionProcessor) detectBoundary(ctx context.Context, run *jobRun, input string, dims media.Dimensions) (int, bool) {
	if p.detector == nil {
		return 0, false
	}

	x, ok, err := p.detector.Detect(ctx, input, dims)
	if err != nil {
		run.logger.Warn().Err(err).Msg("boundary detection failed, using fallback cut")
		return 0, false
	}

	return x, ok
}

func (p *submissionProcessor) outputPaths(id uint, input string) (string, string) {
	if strings.TrimSpace(p.config.OutputDir) == "" {
		return input + ".cropped.mp4", input + ".audio.mp3"
	}

	dir := filepath.Join(p.config.OutputDir, strconv.FormatUint(uint64(id), 10))
	return filepath.Join(dir, "video.mp4"), filepath.Join(dir, "audio.mp3")
}

func (p *submissionProcessor) verifyMedia(ctx context.Context, run *jobRun) (string, error) {
	if err := storage.VerifyAll(ctx, p.verifier, run.videoURL, run.audioURL); err != nil {
		return "", err
	}
	return "signed urls reachable", nil
}

func (p *submissionProcessor) evaluate(ctx context.Context, run *jobRun) (string, error) {
	result, err := p.evaluator.Evaluate(ctx, ai.EvaluationInput{
		SubmissionID:  run.job.SubmissionID,
		SubmitText:    run.submission.SubmitText,
		ComponentType: run.submission.ComponentType,
		TraceID:       run.job.TraceID,
	})
	p.flushCallLogs(ctx, run)
	if err != nil {
		return "", err
	}
	run.evaluation = result

	message := fmt.Sprintf("score %d highlights %d", result.Score, len(result.Highlights))
	if result.Repair != ai.RepairNone {
		message += " repair " + result.Repair
	}
	return message, nil
}

func (p *submissionProcessor) flushCallLogs(ctx context.Context, run *jobRun) {
	if p.callLogs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalLogTimeout)
	defer cancel()
	if err := p.callLogs.Flush(ctx); err != nil {
		run.logger.Warn().Err(err).Msg("call log flush incomplete")
	}
}

func (p *submissionProcessor) persist(ctx context.Context, run *jobRun) (string, error) {
	start := p.now()

	score := clampScore(run.evaluation.Score)
	feedback := limitRunes(run.evaluation.Feedback, ai.MaxFeedbackRunes)
	highlights := run.evaluation.Highlights
	if highlights == nil {
		highlights = []string{}
	}

	payload, err := json.Marshal(models.SubmissionResult{Score: score, Highlights: highlights})
	if err != nil {
		return "", err
	}
	highlighted := highlight.Render(run.submission.SubmitText, highlights)
	apiLatency := p.now().Sub(run.started)

	completion := repository.Completion{
		Score:           score,
		Feedback:        feedback,
		Result:          datatypes.JSON(payload),
		HighlightedText: highlighted,
		APILatencyMs:    apiLatency.Milliseconds(),
		Media:           run.media,
	}
	if run.kind == JobReevaluate && run.submission.Score != nil {
		completion.Revision = &models.SubmissionRevision{
			Score:    run.submission.Score,
			Feedback: run.submission.Feedback,
			Result:   run.submission.Result,
			TraceID:  run.job.TraceID,
		}
	}

	message := "status " + models.SubmissionStatusCompleted
	latency := p.now().Sub(start)
	completion.Log = p.logEntry(run, PhasePersist, models.LogStatusOK, message, &latency)

	if err := p.submissions.Complete(ctx, run.job.SubmissionID, completion); err != nil {
		return "", err
	}

	run.result = dto.ProcessResult{
		SubmissionID:    run.job.SubmissionID,
		TraceID:         run.job.TraceID,
		Status:          models.SubmissionStatusCompleted,
		Score:           score,
		Feedback:        feedback,
		Highlights:      highlights,
		HighlightedText: highlighted,
		VideoURL:        run.videoURL,
		AudioURL:        run.audioURL,
		LatencyMs:       apiLatency.Milliseconds(),
	}

	return message, nil
}

// fail records the failure. A failed mark-processing only logs, since the
// submission never left its previous state.
func (p *submissionProcessor) fail(ctx context.Context, run *jobRun, perr *ProcessingError) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalLogTimeout)
	defer cancel()

	if errors.Is(perr, repository.ErrSubmissionNotFound) {
		return
	}

	entry := p.logEntry(run, perr.Phase, models.LogStatusFailed, perr.Message, nil)
	if perr.Phase == PhaseMarkProcessing {
		if err := p.submissions.AppendLog(ctx, &entry); err != nil {
			run.logger.Error().Err(err).Msg("failed to record mark-processing failure")
		}
		return
	}

	if err := p.submissions.MarkFailed(ctx, run.job.SubmissionID, perr.Message, &entry); err != nil {
		run.logger.Error().Err(err).Str("phase", perr.Phase).Msg("failed to mark submission as failed")
		return
	}

	p.notify(ctx, run, notify.Event{
		SubmissionID: run.job.SubmissionID,
		TraceID:      run.job.TraceID,
		Status:       models.SubmissionStatusFailed,
		Phase:        perr.Phase,
		Message:      perr.Message,
	})
}

// finish writes the terminating row for every run, failed or not.
func (p *submissionProcessor) finish(ctx context.Context, run *jobRun, perr *ProcessingError) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalLogTimeout)
	defer cancel()

	total := p.now().Sub(run.started)
	outcome := "completed"
	message := "done"
	if perr != nil {
		outcome = string(perr.Kind)
		message = "done: failed at " + perr.Phase
	}
	observability.Jobs().WithLabelValues(run.kind, outcome).Inc()

	if perr == nil || !errors.Is(perr, repository.ErrSubmissionNotFound) {
		entry := p.logEntry(run, PhaseWorker, models.LogStatusOK, message, &total)
		if err := p.submissions.AppendLog(ctx, &entry); err != nil {
			run.logger.Error().Err(err).Msg("failed to write terminal log")
		}
	}

	if perr == nil {
		score := run.result.Score
		p.notify(ctx, run, notify.Event{
			SubmissionID: run.job.SubmissionID,
			TraceID:      run.job.TraceID,
			Status:       models.SubmissionStatusCompleted,
			Score:        &score,
		})
	}

	run.logger.Info().
		Str("outcome", outcome).
		Int64("latency_ms", total.Milliseconds()).
		Msg("job finished")
}

func (p *submissionProcessor) notify(ctx context.Context, run *jobRun, event notify.Event) {
	if p.notifier == nil {
		return
	}
	event.OccurredAt = p.now().UTC()
	if err := p.notifier.Publish(ctx, event); err != nil {
		run.logger.Warn().Err(err).Str("status", event.Status).Msg("failed to publish submission event")
	}
}

func (p *submissionProcessor) logEntry(run *jobRun, phase, status, message string, latency *time.Duration) models.SubmissionLog {
	entry := models.SubmissionLog{
		SubmissionID: run.job.SubmissionID,
		Phase:        phase,
		URI:          run.uri,
		Status:       status,
		Message:      message,
		TraceID:      run.job.TraceID,
	}
	if latency != nil {
		ms := latency.Milliseconds()
		entry.LatencyMs = &ms
	}
	return entry
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > ai.MaxScore {
		return ai.MaxScore
	}
	return score
}

func limitRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
