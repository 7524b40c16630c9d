package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission status values. PENDING is set by intake; the remaining values are
// owned by the processing worker.
const (
	SubmissionStatusPending    = "PENDING"
	SubmissionStatusProcessing = "PROCESSING"
	SubmissionStatusCompleted  = "COMPLETED"
	SubmissionStatusFailed     = "FAILED"
)

// Submission is a student's text answer with an optional recorded video.
type Submission struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	StudentID       uint           `gorm:"not null;index" json:"student_id"`
	Student         *Student       `gorm:"foreignKey:StudentID;references:ID" json:"student,omitempty"`
	ComponentType   string         `gorm:"size:64;not null" json:"component_type"`
	SubmitText      string         `gorm:"type:text" json:"submit_text"`
	VideoPath       string         `gorm:"size:512" json:"video_path"`
	Status          string         `gorm:"size:32;not null;index" json:"status"`
	Score           *int           `json:"score"`
	Feedback        *string        `gorm:"type:text" json:"feedback"`
	Result          datatypes.JSON `json:"result"`
	HighlightedText *string        `gorm:"type:text" json:"highlighted_text"`
	LastError       *string        `gorm:"type:text" json:"last_error"`
	APILatencyMs    *int64         `json:"api_latency_ms"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the submission reached COMPLETED or FAILED.
func (s Submission) IsTerminal() bool {
	return s.Status == SubmissionStatusCompleted || s.Status == SubmissionStatusFailed
}

// SubmissionResult is the payload stored in Submission.Result.
type SubmissionResult struct {
	Score      int      `json:"score"`
	Highlights []string `json:"highlights"`
}
