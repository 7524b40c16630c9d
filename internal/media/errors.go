package media

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFrameTooSmall is returned for frames that cannot hold a 2x2 crop.
	ErrFrameTooSmall = errors.New("frame too small to crop")
	// ErrInvalidStreamInfo is returned when ffprobe output cannot be parsed.
	ErrInvalidStreamInfo = errors.New("invalid stream info")
	// ErrShortFrame is returned when a sampled frame has fewer bytes than expected.
	ErrShortFrame = errors.New("sampled frame truncated")
)

const stderrTail = 2048

// ToolError reports a failed ffmpeg or ffprobe invocation.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > stderrTail {
		msg = msg[len(msg)-stderrTail:]
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, msg)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// unknownEncoder reports whether ffmpeg rejected the requested encoder.
func (e *ToolError) unknownEncoder() bool {
	stderr := strings.ToLower(e.Stderr)
	return strings.Contains(stderr, "unknown encoder") ||
		strings.Contains(stderr, "encoder not found")
}
