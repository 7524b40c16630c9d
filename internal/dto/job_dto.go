package dto

// ProcessJob is the queue payload for both process and reevaluate jobs.
type ProcessJob struct {
	SubmissionID uint   `json:"submissionId" validate:"required,gt=0"`
	TraceID      string `json:"traceId,omitempty" validate:"omitempty,max=64"`
	FilePath     string `json:"filePath,omitempty" validate:"omitempty,max=1024"`
}

// ProcessResult summarizes a completed job.
type ProcessResult struct {
	SubmissionID    uint     `json:"submissionId"`
	TraceID         string   `json:"traceId"`
	Status          string   `json:"status"`
	Score           int      `json:"score"`
	Feedback        string   `json:"feedback"`
	Highlights      []string `json:"highlights"`
	HighlightedText string   `json:"highlightSubmitText"`
	VideoURL        string   `json:"videoUrl,omitempty"`
	AudioURL        string   `json:"audioUrl,omitempty"`
	LatencyMs       int64    `json:"apiLatency"`
}
