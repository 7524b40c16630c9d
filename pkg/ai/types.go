package ai

import (
	"context"
	"time"
)

// MaxScore is the top of the integer grading scale.
const MaxScore = 10

// EvaluationInput contains the submission text to grade.
type EvaluationInput struct {
	SubmissionID  uint
	SubmitText    string
	ComponentType string
	TraceID       string
}

// Repair kinds reported on EvaluationResult.Repair.
const (
	RepairNone             = ""
	RepairFormatError      = "format_error"
	RepairSchemaMismatch   = "schema_mismatch"
	RepairHighlightsFilled = "highlights_filled"
)

// EvaluationResult is the validated grading outcome.
type EvaluationResult struct {
	Score      int      `json:"score"`
	Feedback   string   `json:"feedback"`
	Highlights []string `json:"highlights"`
	// Repair names the local recovery applied to the model output, if any.
	Repair string `json:"-"`
}

// Evaluator grades a submission with a language model.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error)
}

// CallRecord describes one outbound model request.
type CallRecord struct {
	SubmissionID uint
	TraceID      string
	Model        string
	Endpoint     string
	Latency      time.Duration
	Err          error
}

// CallRecorder receives a record for every model request. Implementations
// must not block.
type CallRecorder interface {
	RecordCall(ctx context.Context, record CallRecord)
}
