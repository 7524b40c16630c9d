package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/YubinShin/creverse/internal/dto"
	"github.com/YubinShin/creverse/internal/media"
	"github.com/YubinShin/creverse/internal/models"
	"github.com/YubinShin/creverse/internal/repository"
	"github.com/YubinShin/creverse/pkg/ai"
	"github.com/YubinShin/creverse/pkg/notify"
	"github.com/YubinShin/creverse/pkg/storage"
)

type fakeTranscoder struct {
	dims     media.Dimensions
	cropErr  error
	crops    []media.CropRect
	extracts int
}

func (f *fakeTranscoder) ReadDimensions(context.Context, string) (media.Dimensions, error) {
	return f.dims, nil
}

func (f *fakeTranscoder) Crop(_ context.Context, _, _ string, rect media.CropRect) error {
	f.crops = append(f.crops, rect)
	return f.cropErr
}

func (f *fakeTranscoder) ExtractAudio(context.Context, string, string) error {
	f.extracts++
	return nil
}

type fakeDetector struct {
	x   int
	ok  bool
	err error
}

func (f fakeDetector) Detect(context.Context, string, media.Dimensions) (int, bool, error) {
	return f.x, f.ok, f.err
}

type fakeBlobPublisher struct {
	remotes []string
}

func (f *fakeBlobPublisher) UploadAndSign(_ context.Context, remotePath, _, _ string, _ time.Duration) (string, error) {
	f.remotes = append(f.remotes, remotePath)
	return "https://blob.example.com/media/" + remotePath + "?sig=abc", nil
}

type fakeVerifier struct {
	mu   sync.Mutex
	urls []string
	// failOn makes Verify return err for URLs containing it.
	failOn string
	err    error
}

func (f *fakeVerifier) Verify(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if f.failOn != "" && strings.Contains(url, f.failOn) {
		return f.err
	}
	return nil
}

type fakeEvaluator struct {
	result   ai.EvaluationResult
	err      error
	inputs   []ai.EvaluationInput
	recorder ai.CallRecorder
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, input ai.EvaluationInput) (ai.EvaluationResult, error) {
	f.inputs = append(f.inputs, input)
	if f.recorder != nil {
		f.recorder.RecordCall(ctx, ai.CallRecord{
			SubmissionID: input.SubmissionID,
			TraceID:      input.TraceID,
			Model:        "gpt-4o-mini",
			Latency:      20 * time.Millisecond,
			Err:          f.err,
		})
	}
	return f.result, f.err
}

type fakeNotifier struct {
	events []notify.Event
}

func (f *fakeNotifier) Publish(_ context.Context, event notify.Event) error {
	f.events = append(f.events, event)
	return nil
}

type failingCompleteRepo struct {
	repository.SubmissionRepository
	err error
}

func (r failingCompleteRepo) Complete(context.Context, uint, repository.Completion) error {
	return r.err
}

type processorFixture struct {
	db         *gorm.DB
	repo       repository.SubmissionRepository
	detector   media.BoundaryDetector
	transcoder *fakeTranscoder
	publisher  *fakeBlobPublisher
	verifier   *fakeVerifier
	evaluator  *fakeEvaluator
	notifier   *fakeNotifier
	processor  SubmissionProcessor
	videoPath  string
}

func setupProcessor(t *testing.T, detector media.BoundaryDetector) *processorFixture {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:processor_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	videoPath := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("not really a video"), 0o600))

	fixture := &processorFixture{
		db:         db,
		repo:       repository.NewSubmissionRepository(db),
		detector:   detector,
		transcoder: &fakeTranscoder{dims: media.Dimensions{Width: 1000, Height: 600}},
		publisher:  &fakeBlobPublisher{},
		verifier:   &fakeVerifier{},
		evaluator: &fakeEvaluator{result: ai.EvaluationResult{
			Score:    10,
			Feedback: "논리가 명확하고 근거가 충분합니다.",
		}},
		notifier:  &fakeNotifier{},
		videoPath: videoPath,
	}

	fixture.rebuild(fixture.repo, nil)

	return fixture
}

// rebuild replaces the processor, keeping the fakes but swapping the
// repository it writes through and the call log flusher.
func (f *processorFixture) rebuild(submissions repository.SubmissionRepository, callLogs CallLogFlusher) {
	f.processor = NewSubmissionProcessor(ProcessorDependencies{
		Submissions: submissions,
		Transcoder:  f.transcoder,
		Detector:    f.detector,
		Publisher:   f.publisher,
		Verifier:    f.verifier,
		Evaluator:   f.evaluator,
		Notifier:    f.notifier,
		CallLogs:    callLogs,
	}, DefaultProcessorConfig(), zerolog.Nop())
}

func (f *processorFixture) createSubmission(t *testing.T, videoPath string) models.Submission {
	t.Helper()
	submission := models.Submission{
		StudentID:     1,
		ComponentType: "essay",
		SubmitText:    "The main idea is clear. The evidence is thin.",
		VideoPath:     videoPath,
		Status:        models.SubmissionStatusPending,
	}
	entry := models.SubmissionLog{Phase: "created", Status: models.LogStatusOK}
	require.NoError(t, f.repo.Create(context.Background(), &submission, &entry))
	return submission
}

func phasesOf(logs []models.SubmissionLog) []string {
	phases := make([]string, 0, len(logs))
	for _, entry := range logs {
		phases = append(phases, entry.Phase+":"+entry.Status)
	}
	return phases
}

func TestSubmissionProcessorCompletesSubmission(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})
	submission := fixture.createSubmission(t, fixture.videoPath)
	ctx := context.Background()

	result, err := fixture.processor.Process(ctx, dto.ProcessJob{SubmissionID: submission.ID, TraceID: "trace-1", FilePath: fixture.videoPath})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusCompleted, result.Status)
	require.Equal(t, 10, result.Score)
	require.Equal(t, []string{}, result.Highlights)

	require.Equal(t, []media.CropRect{{X: 170, Y: 0, W: 830, H: 600}}, fixture.transcoder.crops)
	require.Equal(t, 1, fixture.transcoder.extracts)
	require.Equal(t, []string{
		fmt.Sprintf("submissions/%d/video.mp4", submission.ID),
		fmt.Sprintf("submissions/%d/audio.mp3", submission.ID),
	}, fixture.publisher.remotes)
	require.ElementsMatch(t, []string{result.VideoURL, result.AudioURL}, fixture.verifier.urls)

	stored, err := fixture.repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusCompleted, stored.Status)
	require.NotNil(t, stored.Score)
	require.Equal(t, 10, *stored.Score)
	require.JSONEq(t, `{"score":10,"highlights":[]}`, string(stored.Result))
	require.Nil(t, stored.LastError)
	require.NotNil(t, stored.APILatencyMs)

	mediaRows, err := fixture.repo.ListMedia(ctx, submission.ID)
	require.NoError(t, err)
	require.Len(t, mediaRows, 2)
	require.Equal(t, models.MediaTypeAudio, mediaRows[0].MediaType)
	require.Equal(t, fixture.videoPath+".audio.mp3", mediaRows[0].LocalPath)
	require.Equal(t, fixture.videoPath+".cropped.mp4", mediaRows[1].LocalPath)

	logs, err := fixture.repo.ListLogs(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, []string{
		"created:ok",
		"mark-processing:ok",
		"media:ok",
		"verify:ok",
		"evaluate:ok",
		"persist:ok",
		"worker:ok",
	}, phasesOf(logs))
	last := logs[len(logs)-1]
	require.Equal(t, "done", last.Message)
	require.Equal(t, "trace-1", last.TraceID)
	require.NotNil(t, last.LatencyMs)

	require.Len(t, fixture.notifier.events, 1)
	require.Equal(t, models.SubmissionStatusCompleted, fixture.notifier.events[0].Status)
	require.Equal(t, submission.ID, fixture.evaluator.inputs[0].SubmissionID)
}

func TestSubmissionProcessorMarksFailedWhenEvaluationFails(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})
	fixture.evaluator.err = fmt.Errorf("openai evaluate: %w", errors.New("error, status code: 500"))
	submission := fixture.createSubmission(t, fixture.videoPath)
	ctx := context.Background()

	_, err := fixture.processor.Process(ctx, dto.ProcessJob{SubmissionID: submission.ID, TraceID: "trace-2"})
	require.Error(t, err)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, PhaseEvaluate, perr.Phase)
	require.Equal(t, ErrorKindTransient, perr.Kind)
	require.True(t, perr.Retryable())
	require.False(t, IsInputError(err))

	stored, err := fixture.repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	require.Contains(t, *stored.LastError, "500")
	require.Nil(t, stored.Score)

	logs, err := fixture.repo.ListLogs(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, []string{
		"created:ok",
		"mark-processing:ok",
		"media:ok",
		"verify:ok",
		"evaluate:failed",
		"worker:ok",
	}, phasesOf(logs))
	require.Contains(t, logs[4].Message, "500")
	require.Equal(t, "worker:jobs#process", logs[4].URI)
	require.Equal(t, "done: failed at evaluate", logs[5].Message)

	require.Len(t, fixture.notifier.events, 1)
	require.Equal(t, models.SubmissionStatusFailed, fixture.notifier.events[0].Status)
	require.Equal(t, PhaseEvaluate, fixture.notifier.events[0].Phase)
}

func TestSubmissionProcessorMarksFailedWhenVerifyFails(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})
	fixture.verifier.failOn = "audio.mp3"
	fixture.verifier.err = &storage.UnreachableError{
		URL:        "https://blob.example.com/media/audio.mp3?sig=abc",
		StatusCode: 403,
		Status:     "403 Forbidden",
	}
	submission := fixture.createSubmission(t, fixture.videoPath)
	ctx := context.Background()

	_, err := fixture.processor.Process(ctx, dto.ProcessJob{SubmissionID: submission.ID, TraceID: "trace-verify"})
	require.Error(t, err)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, PhaseVerify, perr.Phase)
	var unreachable *storage.UnreachableError
	require.ErrorAs(t, err, &unreachable)
	require.Equal(t, 403, unreachable.StatusCode)
	require.False(t, IsInputError(err))

	stored, err := fixture.repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	require.Equal(t, "HEAD https://blob.example.com/media/audio.mp3?sig=abc returned 403 Forbidden", *stored.LastError)
	require.Nil(t, stored.Score)

	logs, err := fixture.repo.ListLogs(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, []string{
		"created:ok",
		"mark-processing:ok",
		"media:ok",
		"verify:failed",
		"worker:ok",
	}, phasesOf(logs))
	require.Equal(t, "done: failed at verify", logs[4].Message)
	require.Empty(t, fixture.evaluator.inputs)

	require.Len(t, fixture.notifier.events, 1)
	require.Equal(t, PhaseVerify, fixture.notifier.events[0].Phase)
}

func TestSubmissionProcessorMarksFailedWhenPersistFails(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})
	fixture.rebuild(failingCompleteRepo{SubmissionRepository: fixture.repo, err: errors.New("database is locked")}, nil)
	submission := fixture.createSubmission(t, fixture.videoPath)
	ctx := context.Background()

	_, err := fixture.processor.Process(ctx, dto.ProcessJob{SubmissionID: submission.ID, TraceID: "trace-persist"})
	require.Error(t, err)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, PhasePersist, perr.Phase)
	require.Equal(t, ErrorKindPersistence, perr.Kind)
	require.True(t, perr.Retryable())
	require.False(t, IsInputError(err))

	stored, err := fixture.repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	require.Equal(t, "database is locked", *stored.LastError)
	require.Nil(t, stored.Score)

	logs, err := fixture.repo.ListLogs(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, []string{
		"created:ok",
		"mark-processing:ok",
		"media:ok",
		"verify:ok",
		"evaluate:ok",
		"persist:failed",
		"worker:ok",
	}, phasesOf(logs))
	require.Equal(t, "done: failed at persist", logs[6].Message)
}

func TestSubmissionProcessorWritesCallLogsBeforeEvaluateRow(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})
	writer := NewCallLogWriter(fixture.repo, 8, zerolog.Nop())
	t.Cleanup(func() { _ = writer.Close(context.Background()) })
	fixture.evaluator.recorder = writer
	fixture.rebuild(fixture.repo, writer)
	submission := fixture.createSubmission(t, fixture.videoPath)
	ctx := context.Background()

	_, err := fixture.processor.Process(ctx, dto.ProcessJob{SubmissionID: submission.ID, TraceID: "trace-order"})
	require.NoError(t, err)

	logs, err := fixture.repo.ListLogs(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, []string{
		"created:ok",
		"mark-processing:ok",
		"media:ok",
		"verify:ok",
		"call_openai:ok",
		"evaluate:ok",
		"persist:ok",
		"worker:ok",
	}, phasesOf(logs))
	require.Equal(t, "trace-order", logs[4].TraceID)
}

func TestSubmissionProcessorIsIdempotentOnRedelivery(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{x: 240, ok: true})
	submission := fixture.createSubmission(t, fixture.videoPath)
	ctx := context.Background()
	job := dto.ProcessJob{SubmissionID: submission.ID, TraceID: "trace-3"}

	_, err := fixture.processor.Process(ctx, job)
	require.NoError(t, err)
	_, err = fixture.processor.Process(ctx, job)
	require.NoError(t, err)

	mediaRows, err := fixture.repo.ListMedia(ctx, submission.ID)
	require.NoError(t, err)
	require.Len(t, mediaRows, 2)

	require.Equal(t, media.CropRect{X: 240, Y: 0, W: 760, H: 600}, fixture.transcoder.crops[1])

	stored, err := fixture.repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusCompleted, stored.Status)
}

func TestSubmissionProcessorFallsBackWhenDetectionFails(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{err: errors.New("ffmpeg exploded")})
	submission := fixture.createSubmission(t, fixture.videoPath)

	_, err := fixture.processor.Process(context.Background(), dto.ProcessJob{SubmissionID: submission.ID})
	require.NoError(t, err)
	require.Equal(t, 170, fixture.transcoder.crops[0].X)
}

func TestSubmissionProcessorMissingSubmissionWritesNothing(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})

	_, err := fixture.processor.Process(context.Background(), dto.ProcessJob{SubmissionID: 999})
	require.Error(t, err)
	require.True(t, IsInputError(err))
	require.ErrorIs(t, err, repository.ErrSubmissionNotFound)

	var count int64
	require.NoError(t, fixture.db.Model(&models.SubmissionLog{}).Count(&count).Error)
	require.Zero(t, count)
	require.Empty(t, fixture.notifier.events)
}

func TestSubmissionProcessorMissingVideoIsInputError(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})
	submission := fixture.createSubmission(t, "")
	ctx := context.Background()

	_, err := fixture.processor.Process(ctx, dto.ProcessJob{SubmissionID: submission.ID})
	require.ErrorIs(t, err, ErrMissingVideoPath)
	require.True(t, IsInputError(err))

	stored, err := fixture.repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, stored.Status)

	logs, err := fixture.repo.ListLogs(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"created:ok", "mark-processing:ok", "media:failed", "worker:ok"}, phasesOf(logs))
	require.Empty(t, fixture.transcoder.crops)
}

func TestSubmissionProcessorCropFailureIsRetryable(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})
	fixture.transcoder.cropErr = &media.ToolError{Tool: "ffmpeg", ExitCode: 1, Stderr: "Conversion failed!"}
	submission := fixture.createSubmission(t, fixture.videoPath)

	_, err := fixture.processor.Process(context.Background(), dto.ProcessJob{SubmissionID: submission.ID})
	require.Error(t, err)

	var toolErr *media.ToolError
	require.ErrorAs(t, err, &toolErr)
	require.False(t, IsInputError(err))
	require.Empty(t, fixture.publisher.remotes)
}

func TestSubmissionProcessorReevaluateArchivesRevision(t *testing.T) {
	fixture := setupProcessor(t, fakeDetector{})
	submission := fixture.createSubmission(t, fixture.videoPath)
	ctx := context.Background()

	_, err := fixture.processor.Process(ctx, dto.ProcessJob{SubmissionID: submission.ID})
	require.NoError(t, err)

	fixture.evaluator.result = ai.EvaluationResult{
		Score:      6,
		Feedback:   "근거가 부족합니다.",
		Highlights: []string{"The evidence is thin."},
	}
	result, err := fixture.processor.Reevaluate(ctx, dto.ProcessJob{SubmissionID: submission.ID, TraceID: "trace-re"})
	require.NoError(t, err)
	require.Equal(t, 6, result.Score)
	require.Empty(t, result.VideoURL)
	require.Contains(t, result.HighlightedText, "<b>The evidence is thin.</b>")

	revisions, err := fixture.repo.ListRevisions(ctx, submission.ID)
	require.NoError(t, err)
	require.Len(t, revisions, 1)
	require.Equal(t, 10, *revisions[0].Score)
	require.Equal(t, "trace-re", revisions[0].TraceID)

	mediaRows, err := fixture.repo.ListMedia(ctx, submission.ID)
	require.NoError(t, err)
	require.Len(t, mediaRows, 2)
	require.NotEmpty(t, mediaRows[0].BlobURL)
	require.Len(t, fixture.transcoder.crops, 1)

	stored, err := fixture.repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, 6, *stored.Score)
	require.JSONEq(t, `{"score":6,"highlights":["The evidence is thin."]}`, string(stored.Result))
}

func TestClampScoreAndLimitRunes(t *testing.T) {
	require.Equal(t, 0, clampScore(-3))
	require.Equal(t, ai.MaxScore, clampScore(42))
	require.Equal(t, 7, clampScore(7))
	require.Equal(t, "가나", limitRunes("가나다", 2))
	require.Equal(t, "abc", limitRunes("abc", 5))
}
