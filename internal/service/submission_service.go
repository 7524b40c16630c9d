package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/YubinShin/creverse/internal/dto"
	"github.com/YubinShin/creverse/internal/models"
	"github.com/YubinShin/creverse/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = repository.ErrSubmissionNotFound
	// ErrVideoRequired indicates the intake request carried no video.
	ErrVideoRequired = errors.New("submission video is required")
	// ErrUnsupportedVideo indicates the uploaded file is not a video.
	ErrUnsupportedVideo = errors.New("unsupported video type")
	// ErrSubmissionNotReady indicates a reevaluation was requested while the
	// submission is still queued or running.
	ErrSubmissionNotReady = errors.New("submission is still being processed")
	// ErrEnqueueFailed indicates the job could not be handed to the queue.
	ErrEnqueueFailed = errors.New("enqueue failed")
	// ErrStudentNotFound indicates the intake request named an unknown student.
	ErrStudentNotFound = repository.ErrStudentNotFound
)

const (
	defaultListPage = 1
	defaultListSize = 10
)

// JobEnqueuer hands processing jobs to the background queue.
type JobEnqueuer interface {
	EnqueueProcess(ctx context.Context, job dto.ProcessJob) (string, error)
	EnqueueReevaluate(ctx context.Context, job dto.ProcessJob) (string, error)
}

// SubmissionService handles intake and lookup of submissions.
type SubmissionService interface {
	Create(ctx context.Context, payload dto.SubmissionCreateRequest, video *multipart.FileHeader) (dto.EnqueueResponse, error)
	Get(ctx context.Context, id uint) (dto.SubmissionResponse, error)
	List(ctx context.Context, query dto.SubmissionListQuery) (dto.SubmissionListResponse, error)
	Reevaluate(ctx context.Context, id uint, traceID string) (dto.EnqueueResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	students    repository.StudentRepository
	queue       JobEnqueuer
	validator   *validator.Validate
	uploadDir   string
	logger      zerolog.Logger
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(repo repository.SubmissionRepository, students repository.StudentRepository, queue JobEnqueuer, validate *validator.Validate, uploadDir string, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: repo,
		students:    students,
		queue:       queue,
		validator:   validate,
		uploadDir:   uploadDir,
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

func (s *submissionService) Create(ctx context.Context, payload dto.SubmissionCreateRequest, video *multipart.FileHeader) (dto.EnqueueResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.EnqueueResponse{}, err
	}
	if video == nil {
		return dto.EnqueueResponse{}, ErrVideoRequired
	}
	if _, err := s.students.GetByID(ctx, payload.StudentID); err != nil {
		return dto.EnqueueResponse{}, err
	}

	videoPath, err := s.storeVideo(video)
	if err != nil {
		return dto.EnqueueResponse{}, err
	}

	traceID := newTraceID(payload.TraceID)
	submission := models.Submission{
		StudentID:     payload.StudentID,
		ComponentType: payload.ComponentType,
		SubmitText:    payload.SubmitText,
		VideoPath:     videoPath,
		Status:        models.SubmissionStatusPending,
	}
	created := intakeLog("created", "api:submissions#create", models.LogStatusOK, "status "+models.SubmissionStatusPending, traceID)
	if err := s.submissions.Create(ctx, &submission, &created); err != nil {
		_ = os.Remove(videoPath)
		return dto.EnqueueResponse{}, err
	}

	job := dto.ProcessJob{SubmissionID: submission.ID, TraceID: traceID, FilePath: videoPath}
	taskID, err := s.queue.EnqueueProcess(ctx, job)
	if err != nil {
		return dto.EnqueueResponse{}, s.failEnqueue(ctx, submission.ID, traceID, err)
	}

	enqueued := intakeLog("enqueued", "worker:jobs#"+JobProcess, models.LogStatusOK, "task "+taskID, traceID)
	enqueued.SubmissionID = submission.ID
	if err := s.submissions.AppendLog(ctx, &enqueued); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to record enqueue log")
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("trace_id", traceID).
		Str("task_id", taskID).
		Msg("submission accepted")

	return dto.EnqueueResponse{
		SubmissionID: submission.ID,
		TraceID:      traceID,
		JobType:      JobProcess,
		TaskID:       taskID,
		Status:       models.SubmissionStatusPending,
	}, nil
}

func (s *submissionService) Get(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	media, err := s.submissions.ListMedia(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	logs, err := s.submissions.ListLogs(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	revisions, err := s.submissions.ListRevisions(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	return dto.NewSubmissionResponse(submission, media, logs, revisions), nil
}

func (s *submissionService) List(ctx context.Context, query dto.SubmissionListQuery) (dto.SubmissionListResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.SubmissionListResponse{}, err
	}

	page := query.Page
	if page <= 0 {
		page = defaultListPage
	}
	size := query.Size
	if size <= 0 {
		size = defaultListSize
	}

	filter := repository.SubmissionFilter{
		Status:   query.Status,
		Sort:     query.Sort,
		Order:    query.Order,
		Page:     page,
		PageSize: size,
	}
	if query.From != "" {
		from, err := time.Parse(time.DateOnly, query.From)
		if err != nil {
			return dto.SubmissionListResponse{}, err
		}
		filter.From = from
	}
	if query.To != "" {
		to, err := time.Parse(time.DateOnly, query.To)
		if err != nil {
			return dto.SubmissionListResponse{}, err
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}

	items, total, err := s.submissions.List(ctx, filter)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	return dto.NewSubmissionListResponse(items, total, page, size), nil
}

func (s *submissionService) Reevaluate(ctx context.Context, id uint, traceID string) (dto.EnqueueResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return dto.EnqueueResponse{}, err
	}
	if !submission.IsTerminal() {
		return dto.EnqueueResponse{}, ErrSubmissionNotReady
	}

	traceID = newTraceID(traceID)
	taskID, err := s.queue.EnqueueReevaluate(ctx, dto.ProcessJob{SubmissionID: id, TraceID: traceID})
	if err != nil {
		return dto.EnqueueResponse{}, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	entry := intakeLog("enqueued", "worker:jobs#"+JobReevaluate, models.LogStatusOK, "task "+taskID, traceID)
	entry.SubmissionID = id
	if err := s.submissions.AppendLog(ctx, &entry); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", id).Msg("failed to record enqueue log")
	}

	return dto.EnqueueResponse{
		SubmissionID: id,
		TraceID:      traceID,
		JobType:      JobReevaluate,
		TaskID:       taskID,
		Status:       submission.Status,
	}, nil
}

func (s *submissionService) failEnqueue(ctx context.Context, id uint, traceID string, cause error) error {
	message := "enqueue failed: " + cause.Error()
	entry := intakeLog("enqueue", "worker:jobs#"+JobProcess, models.LogStatusFailed, message, traceID)
	if err := s.submissions.MarkFailed(ctx, id, message, &entry); err != nil {
		s.logger.Error().Err(err).Uint("submission_id", id).Msg("failed to mark submission after enqueue error")
	}

	s.logger.Error().Err(cause).Uint("submission_id", id).Str("trace_id", traceID).Msg("failed to enqueue submission")
	return fmt.Errorf("%w: %v", ErrEnqueueFailed, cause)
}

func (s *submissionService) storeVideo(header *multipart.FileHeader) (string, error) {
	file, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open video: %w", err)
	}
	defer file.Close()

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		return "", fmt.Errorf("failed to detect video type: %w", err)
	}
	if !isVideo(mime) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedVideo, mime.String())
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}

	target := filepath.Join(s.uploadDir, uuid.NewString()+mime.Extension())
	out, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	return target, nil
}

func newTraceID(candidate string) string {
	if trimmed := strings.TrimSpace(candidate); trimmed != "" {
		return trimmed
	}
	return uuid.NewString()
}

func isVideo(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

func intakeLog(phase, uri, status, message, traceID string) models.SubmissionLog {
	return models.SubmissionLog{
		Phase:   phase,
		URI:     uri,
		Status:  status,
		Message: message,
		TraceID: traceID,
	}
}
