package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionRevision archives an evaluation that was replaced by a re-evaluation.
type SubmissionRevision struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	SubmissionID uint           `gorm:"not null;index" json:"submission_id"`
	Score        *int           `json:"score"`
	Feedback     *string        `gorm:"type:text" json:"feedback"`
	Result       datatypes.JSON `json:"result"`
	TraceID      string         `gorm:"size:64" json:"trace_id"`
	CreatedAt    time.Time      `json:"created_at"`
}
