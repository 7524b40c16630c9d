package models

import (
	"time"

	"gorm.io/datatypes"
)

// Media kinds derived from a submission's video.
const (
	MediaTypeVideo = "VIDEO"
	MediaTypeAudio = "AUDIO"
)

// SubmissionMedia holds one derived asset per (submission, media type).
type SubmissionMedia struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	SubmissionID uint              `gorm:"not null;uniqueIndex:idx_submission_media_kind" json:"submission_id"`
	MediaType    string            `gorm:"size:16;not null;uniqueIndex:idx_submission_media_kind" json:"media_type"`
	LocalPath    string            `gorm:"size:512" json:"local_path"`
	BlobURL      string            `gorm:"type:text" json:"blob_url"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// TableName keeps the table name singular-per-row readable.
func (SubmissionMedia) TableName() string {
	return "submission_media"
}
