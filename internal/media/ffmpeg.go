package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

var commandContext = exec.CommandContext

const audioBitrate = "192k"

// Transcoder is the media port used by the worker.
type Transcoder interface {
	ReadDimensions(ctx context.Context, path string) (Dimensions, error)
	Crop(ctx context.Context, inputPath, outputPath string, rect CropRect) error
	ExtractAudio(ctx context.Context, inputPath, outputPath string) error
}

// FFmpeg drives the ffmpeg and ffprobe executables.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	logger  zerolog.Logger
}

// Option configures an FFmpeg instance.
type Option func(*FFmpeg)

// WithFFmpegBinary overrides the ffmpeg executable.
func WithFFmpegBinary(path string) Option {
	return func(f *FFmpeg) {
		if strings.TrimSpace(path) != "" {
			f.ffmpeg = path
		}
	}
}

// WithFFprobeBinary overrides the ffprobe executable.
func WithFFprobeBinary(path string) Option {
	return func(f *FFmpeg) {
		if strings.TrimSpace(path) != "" {
			f.ffprobe = path
		}
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *FFmpeg) {
		f.logger = logger.With().Str("component", "ffmpeg").Logger()
	}
}

// NewFFmpeg constructs an FFmpeg runner using binaries from PATH by default.
func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{ffmpeg: "ffmpeg", ffprobe: "ffprobe", logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ReadDimensions reads the first video stream's width and height.
func (f *FFmpeg) ReadDimensions(ctx context.Context, path string) (Dimensions, error) {
	out, err := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	if err != nil {
		return Dimensions{}, err
	}

	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.Split(line, "x")
	if len(parts) != 2 {
		return Dimensions{}, fmt.Errorf("%w: %q", ErrInvalidStreamInfo, line)
	}

	width, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	height, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return Dimensions{}, fmt.Errorf("%w: %q", ErrInvalidStreamInfo, line)
	}

	return Dimensions{Width: width, Height: height}, nil
}

// ReadDuration returns the container duration in seconds, or 0 when unknown.
func (f *FFmpeg) ReadDuration(ctx context.Context, path string) (float64, error) {
	out, err := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nw=1:nk=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || math.IsNaN(duration) || duration < 0 {
		return 0, nil
	}
	return duration, nil
}

// SampleFrame decodes one frame at req.Position of the duration, scaled to
// req.TargetHeight with an even width, as raw RGB24.
func (f *FFmpeg) SampleFrame(ctx context.Context, path string, req FrameRequest) (Frame, error) {
	if req.Source.Width <= 0 || req.Source.Height <= 0 {
		return Frame{}, fmt.Errorf("%w: %dx%d", ErrFrameTooSmall, req.Source.Width, req.Source.Height)
	}
	height := req.TargetHeight
	if height <= 0 {
		height = DefaultTargetHeight
	}
	width := ScaledWidth(req.Source, height)

	duration, err := f.ReadDuration(ctx, path)
	if err != nil {
		return Frame{}, err
	}
	seek := 0.0
	if duration > 0 {
		seek = math.Max(0, math.Min(duration*req.Position, duration-0.05))
	}

	filter := fmt.Sprintf("scale=%d:%d", width, height)
	if req.BlurSigma > 0 {
		filter += fmt.Sprintf(",gblur=sigma=%.2f", req.BlurSigma)
	}

	out, err := f.run(ctx, f.ffmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(seek, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-vf", filter,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	if err != nil {
		return Frame{}, err
	}

	expected := width * height * 3
	if len(out) < expected {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(out), expected)
	}

	return Frame{Width: width, Height: height, Pix: out[:expected]}, nil
}

// Crop writes the rect region of inputPath to outputPath without audio; the
// audio track is extracted separately. The source is read again and the
// rectangle re-sanitized before encoding.
func (f *FFmpeg) Crop(ctx context.Context, inputPath, outputPath string, rect CropRect) error {
	dims, err := f.ReadDimensions(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("read crop source dimensions: %w", err)
	}

	safe, err := Sanitize(rect, dims.Width, dims.Height)
	if err != nil {
		return err
	}
	if safe != rect {
		f.logger.Warn().
			Str("requested", rect.String()).
			Str("applied", safe.String()).
			Msg("crop rectangle adjusted to source")
	}

	if err := ensureDir(outputPath); err != nil {
		return err
	}

	_, err = f.run(ctx, f.ffmpeg,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-vf", "crop="+safe.String(),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-an",
		outputPath,
	)
	return err
}

// ExtractAudio writes the audio track of inputPath as 192k MP3. When the
// runtime lacks libmp3lame the default audio encoder is used instead.
func (f *FFmpeg) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	if err := ensureDir(outputPath); err != nil {
		return err
	}

	base := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inputPath, "-vn", "-b:a", audioBitrate}

	_, err := f.run(ctx, f.ffmpeg, append(append([]string{}, base...), "-c:a", "libmp3lame", outputPath)...)
	var toolErr *ToolError
	if err == nil || !errors.As(err, &toolErr) || !toolErr.unknownEncoder() {
		return err
	}

	f.logger.Warn().Str("output", outputPath).Msg("libmp3lame unavailable, using default audio encoder")
	_, err = f.run(ctx, f.ffmpeg, append(append([]string{}, base...), outputPath)...)
	return err
}

// ScaledWidth returns the even width matching height while keeping aspect.
func ScaledWidth(source Dimensions, height int) int {
	width := int(math.Round(float64(source.Width) * float64(height) / float64(source.Height)))
	width = evenDown(width)
	if width < 2 {
		width = 2
	}
	return width
}

func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := commandContext(ctx, bin, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	f.logger.Debug().Str("tool", bin).Strs("args", args).Msg("exec")
	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &ToolError{
			Tool:     filepath.Base(bin),
			Args:     args,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return stdout.Bytes(), nil
}

func ensureDir(outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return nil
}
