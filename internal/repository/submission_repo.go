package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/YubinShin/creverse/internal/models"
)

// ErrSubmissionNotFound is returned when no submission matches the identifier.
var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionFilter narrows and pages submission listings. From and To bound
// created_at inclusively; a zero value leaves that side open.
type SubmissionFilter struct {
	Status   string
	From     time.Time
	To       time.Time
	Sort     string
	Order    string
	Page     int
	PageSize int
}

// Sortable listing columns keyed by their query names.
var submissionSortColumns = map[string]string{
	"createdAt": "created_at",
	"id":        "id",
}

// Completion captures everything written when a submission reaches COMPLETED.
type Completion struct {
	Score           int
	Feedback        string
	Result          datatypes.JSON
	HighlightedText string
	APILatencyMs    int64
	Media           []models.SubmissionMedia
	// Revision, when set, archives the evaluation being overwritten.
	Revision *models.SubmissionRevision
	Log      models.SubmissionLog
}

// SubmissionRepository is the persistence port used by intake and the worker.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission, entry *models.SubmissionLog) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	UpsertMedia(ctx context.Context, media *models.SubmissionMedia) error
	AppendLog(ctx context.Context, entry *models.SubmissionLog) error
	MarkFailed(ctx context.Context, id uint, lastError string, entry *models.SubmissionLog) error
	Complete(ctx context.Context, id uint, completion Completion) error
	ListRevisions(ctx context.Context, id uint) ([]models.SubmissionRevision, error)
	ListMedia(ctx context.Context, id uint) ([]models.SubmissionMedia, error)
	ListLogs(ctx context.Context, id uint) ([]models.SubmissionLog, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// Create inserts a new submission together with its first log row.
func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission, entry *models.SubmissionLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(submission).Error; err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		entry.SubmissionID = submission.ID
		return tx.Create(entry).Error
	})
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Preload("Student").First(&submission, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at <= ?", filter.To)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := submissionSortColumns[filter.Sort]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		direction = "ASC"
	}
	query = query.Order(column + " " + direction)
	if column != "id" {
		query = query.Order("id " + direction)
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var submissions []models.Submission
	if err := query.Preload("Student").Find(&submissions).Error; err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

func (r *submissionRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	return updateSubmission(r.db.WithContext(ctx), id, map[string]interface{}{
		"status": status,
	})
}

// UpsertMedia writes the row keyed by (submission_id, media_type), replacing
// the location and metadata of an existing row.
func (r *submissionRepository) UpsertMedia(ctx context.Context, media *models.SubmissionMedia) error {
	return upsertMedia(r.db.WithContext(ctx), media)
}

func (r *submissionRepository) AppendLog(ctx context.Context, entry *models.SubmissionLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// MarkFailed flips the status to FAILED and records the failure log in one
// transaction.
func (r *submissionRepository) MarkFailed(ctx context.Context, id uint, lastError string, entry *models.SubmissionLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateSubmission(tx, id, map[string]interface{}{
			"status":     models.SubmissionStatusFailed,
			"last_error": lastError,
		}); err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		entry.SubmissionID = id
		return tx.Create(entry).Error
	})
}

func (r *submissionRepository) Complete(ctx context.Context, id uint, completion Completion) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if completion.Revision != nil {
			completion.Revision.SubmissionID = id
			if err := tx.Create(completion.Revision).Error; err != nil {
				return err
			}
		}

		for i := range completion.Media {
			completion.Media[i].SubmissionID = id
			if err := upsertMedia(tx, &completion.Media[i]); err != nil {
				return err
			}
		}

		if err := updateSubmission(tx, id, map[string]interface{}{
			"status":           models.SubmissionStatusCompleted,
			"score":            completion.Score,
			"feedback":         completion.Feedback,
			"result":           completion.Result,
			"highlighted_text": completion.HighlightedText,
			"api_latency_ms":   completion.APILatencyMs,
			"last_error":       nil,
		}); err != nil {
			return err
		}

		entry := completion.Log
		entry.SubmissionID = id
		return tx.Create(&entry).Error
	})
}

func (r *submissionRepository) ListRevisions(ctx context.Context, id uint) ([]models.SubmissionRevision, error) {
	var revisions []models.SubmissionRevision
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", id).
		Order("id ASC").
		Find(&revisions).Error; err != nil {
		return nil, err
	}

	return revisions, nil
}

func (r *submissionRepository) ListMedia(ctx context.Context, id uint) ([]models.SubmissionMedia, error) {
	var media []models.SubmissionMedia
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", id).
		Order("media_type ASC").
		Find(&media).Error; err != nil {
		return nil, err
	}

	return media, nil
}

func (r *submissionRepository) ListLogs(ctx context.Context, id uint) ([]models.SubmissionLog, error) {
	var logs []models.SubmissionLog
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", id).
		Order("id ASC").
		Find(&logs).Error; err != nil {
		return nil, err
	}

	return logs, nil
}

func updateSubmission(db *gorm.DB, id uint, values map[string]interface{}) error {
	values["updated_at"] = time.Now().UTC()

	result := db.Model(&models.Submission{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubmissionNotFound
	}

	return nil
}

func upsertMedia(db *gorm.DB, media *models.SubmissionMedia) error {
	// The conflict target is the natural key, so a primary key carried over
	// from an earlier write must not take part in the insert.
	row := *media
	row.ID = 0

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "submission_id"}, {Name: "media_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"local_path", "blob_url", "metadata", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return err
	}

	media.ID = row.ID
	return nil
}
