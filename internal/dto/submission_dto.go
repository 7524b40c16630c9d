package dto

import (
	"encoding/json"
	"time"

	"github.com/YubinShin/creverse/internal/models"
)

// SubmissionCreateRequest describes the multipart payload accepted by intake.
type SubmissionCreateRequest struct {
	StudentID     uint   `form:"studentId" validate:"required,gt=0"`
	ComponentType string `form:"componentType" validate:"required,max=64"`
	SubmitText    string `form:"submitText" validate:"required,min=1,max=20000"`
	// TraceID is taken from the request headers rather than the form.
	TraceID string `form:"-" validate:"omitempty,max=64"`
}

// SubmissionListQuery holds the query string accepted by the listing endpoint.
// From and To are calendar days and bound created_at inclusively.
type SubmissionListQuery struct {
	Page   int    `query:"page" validate:"omitempty,gte=1"`
	Size   int    `query:"size" validate:"omitempty,gte=1,lte=100"`
	Sort   string `query:"sort" validate:"omitempty,oneof=createdAt id"`
	Order  string `query:"order" validate:"omitempty,oneof=asc desc"`
	Status string `query:"status" validate:"omitempty,oneof=PENDING PROCESSING COMPLETED FAILED"`
	From   string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `query:"to" validate:"omitempty,datetime=2006-01-02"`
}

// SubmissionListResponse is one page of submissions.
type SubmissionListResponse struct {
	Items []SubmissionResponse `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Size  int                  `json:"size"`
}

// StudentLite summarizes the submitting student.
type StudentLite struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SubmissionResponse is returned to API clients when viewing a submission.
type SubmissionResponse struct {
	ID              uint                         `json:"id"`
	StudentID       uint                         `json:"studentId"`
	Student         *StudentLite                 `json:"student,omitempty"`
	ComponentType   string                       `json:"componentType"`
	SubmitText      string                       `json:"submitText"`
	Status          string                       `json:"status"`
	Score           *int                         `json:"score"`
	Feedback        *string                      `json:"feedback"`
	Highlights      []string                     `json:"highlights"`
	HighlightedText *string                      `json:"highlightSubmitText"`
	LastError       *string                      `json:"lastError,omitempty"`
	APILatencyMs    *int64                       `json:"apiLatency"`
	Media           []SubmissionMediaResponse    `json:"media"`
	Logs            []SubmissionLogResponse      `json:"logs,omitempty"`
	Revisions       []SubmissionRevisionResponse `json:"revisions,omitempty"`
	CreatedAt       time.Time                    `json:"createdAt"`
	UpdatedAt       time.Time                    `json:"updatedAt"`
}

// SubmissionMediaResponse serializes a derived media artifact.
type SubmissionMediaResponse struct {
	MediaType string                 `json:"mediaType"`
	URL       string                 `json:"url"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SubmissionLogResponse serializes one processing log row.
type SubmissionLogResponse struct {
	Phase     string    `json:"phase"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMs *int64    `json:"latencyMs"`
	TraceID   string    `json:"traceId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SubmissionRevisionResponse serializes an archived evaluation.
type SubmissionRevisionResponse struct {
	Score     *int      `json:"score"`
	Feedback  *string   `json:"feedback"`
	TraceID   string    `json:"traceId"`
	CreatedAt time.Time `json:"createdAt"`
}

// EnqueueResponse acknowledges an accepted background job.
type EnqueueResponse struct {
	SubmissionID uint   `json:"submissionId"`
	TraceID      string `json:"traceId"`
	JobType      string `json:"jobType"`
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
}

// NewSubmissionResponse converts a Submission model and its children into a DTO.
func NewSubmissionResponse(model models.Submission, media []models.SubmissionMedia, logs []models.SubmissionLog, revisions []models.SubmissionRevision) SubmissionResponse {
	response := SubmissionResponse{
		ID:              model.ID,
		StudentID:       model.StudentID,
		ComponentType:   model.ComponentType,
		SubmitText:      model.SubmitText,
		Status:          model.Status,
		Score:           model.Score,
		Feedback:        model.Feedback,
		Highlights:      []string{},
		HighlightedText: model.HighlightedText,
		LastError:       model.LastError,
		APILatencyMs:    model.APILatencyMs,
		Media:           make([]SubmissionMediaResponse, 0, len(media)),
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}

	if model.Student != nil {
		response.Student = &StudentLite{
			ID:    model.Student.ID,
			Name:  model.Student.Name,
			Email: model.Student.Email,
		}
	}

	if len(model.Result) > 0 {
		var result models.SubmissionResult
		if err := json.Unmarshal(model.Result, &result); err == nil && result.Highlights != nil {
			response.Highlights = result.Highlights
		}
	}

	for _, item := range media {
		response.Media = append(response.Media, SubmissionMediaResponse{
			MediaType: item.MediaType,
			URL:       item.BlobURL,
			Metadata:  item.Metadata,
		})
	}

	for _, entry := range logs {
		response.Logs = append(response.Logs, SubmissionLogResponse{
			Phase:     entry.Phase,
			Status:    entry.Status,
			Message:   entry.Message,
			LatencyMs: entry.LatencyMs,
			TraceID:   entry.TraceID,
			CreatedAt: entry.CreatedAt,
		})
	}

	for _, revision := range revisions {
		response.Revisions = append(response.Revisions, SubmissionRevisionResponse{
			Score:     revision.Score,
			Feedback:  revision.Feedback,
			TraceID:   revision.TraceID,
			CreatedAt: revision.CreatedAt,
		})
	}

	return response
}

// NewSubmissionListResponse converts a page of submissions. Items carry no
// media, logs or revisions.
func NewSubmissionListResponse(items []models.Submission, total int64, page, size int) SubmissionListResponse {
	response := SubmissionListResponse{
		Items: make([]SubmissionResponse, 0, len(items)),
		Total: total,
		Page:  page,
		Size:  size,
	}
	for _, item := range items {
		response.Items = append(response.Items, NewSubmissionResponse(item, nil, nil, nil))
	}
	return response
}
