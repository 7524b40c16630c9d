package models

import "time"

// Log status values.
const (
	LogStatusOK     = "ok"
	LogStatusFailed = "failed"
)

// SubmissionLog is an append-only audit row written for every phase of a
// submission's lifecycle.
type SubmissionLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	Phase        string    `gorm:"size:64;not null" json:"phase"`
	URI          string    `gorm:"size:255" json:"uri"`
	Status       string    `gorm:"size:16;not null" json:"status"`
	Message      string    `gorm:"type:text" json:"message"`
	LatencyMs    *int64    `json:"latency_ms"`
	TraceID      string    `gorm:"size:64;index" json:"trace_id"`
	CreatedAt    time.Time `json:"created_at"`
}
