package media

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// DefaultTargetHeight is the height frames are scaled to before scoring.
const DefaultTargetHeight = 360

// FrameRequest describes a single frame to sample from a video.
type FrameRequest struct {
	Source       Dimensions
	Position     float64
	TargetHeight int
	BlurSigma    float64
}

// FrameSampler decodes one downscaled RGB frame from a video file.
type FrameSampler interface {
	SampleFrame(ctx context.Context, path string, req FrameRequest) (Frame, error)
}

// BoundaryDetector locates the column separating a left overlay strip from
// the content. ok is false when no confident boundary exists.
type BoundaryDetector interface {
	Detect(ctx context.Context, path string, dims Dimensions) (x int, ok bool, err error)
}

// BrightnessConfig tunes the white-run strategy.
type BrightnessConfig struct {
	Position     float64
	TargetHeight int
	Threshold    float64
	MinRun       int
}

// DefaultBrightnessConfig returns the stock brightness settings.
func DefaultBrightnessConfig() BrightnessConfig {
	return BrightnessConfig{
		Position:     0.5,
		TargetHeight: DefaultTargetHeight,
		Threshold:    240,
		MinRun:       5,
	}
}

// BrightnessDetector finds a contiguous run of near-white columns.
type BrightnessDetector struct {
	sampler FrameSampler
	cfg     BrightnessConfig
}

// NewBrightnessDetector builds a brightness-run detector.
func NewBrightnessDetector(sampler FrameSampler, cfg BrightnessConfig) *BrightnessDetector {
	defaults := DefaultBrightnessConfig()
	if cfg.TargetHeight <= 0 {
		cfg.TargetHeight = defaults.TargetHeight
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaults.Threshold
	}
	if cfg.MinRun <= 0 {
		cfg.MinRun = defaults.MinRun
	}
	if cfg.Position <= 0 || cfg.Position >= 1 {
		cfg.Position = defaults.Position
	}

	return &BrightnessDetector{sampler: sampler, cfg: cfg}
}

// Detect returns the left edge of the rightmost white run in source pixels.
func (d *BrightnessDetector) Detect(ctx context.Context, path string, dims Dimensions) (int, bool, error) {
	frame, err := d.sampler.SampleFrame(ctx, path, FrameRequest{
		Source:       dims,
		Position:     d.cfg.Position,
		TargetHeight: d.cfg.TargetHeight,
	})
	if err != nil {
		return 0, false, fmt.Errorf("sample frame: %w", err)
	}
	if frame.Width == 0 {
		return 0, false, nil
	}

	run, ok := FindRunFromRight(BrightnessColumns(frame), d.cfg.Threshold, d.cfg.MinRun)
	if !ok {
		return 0, false, nil
	}

	ratio := float64(dims.Width) / float64(frame.Width)
	return int(math.Floor(float64(run.Start) * ratio)), true, nil
}

// SaturationConfig tunes the saturation/gradient strategy.
type SaturationConfig struct {
	Positions     []float64
	TargetHeight  int
	BlurSigma     float64
	SatThreshold  float64
	GradThreshold float64
	SmoothWindow  int
	Activation    float64
	MinRun        int
}

// DefaultSaturationConfig returns the stock saturation/gradient settings.
func DefaultSaturationConfig() SaturationConfig {
	return SaturationConfig{
		Positions:     []float64{0.25, 0.5, 0.75},
		TargetHeight:  DefaultTargetHeight,
		BlurSigma:     2.0,
		SatThreshold:  0.12,
		GradThreshold: 12,
		Activation:    1.0,
		MinRun:        8,
	}
}

// SaturationDetector averages column scores over several sampled frames.
type SaturationDetector struct {
	sampler FrameSampler
	cfg     SaturationConfig
}

// NewSaturationDetector builds a saturation/gradient detector.
func NewSaturationDetector(sampler FrameSampler, cfg SaturationConfig) *SaturationDetector {
	defaults := DefaultSaturationConfig()
	if len(cfg.Positions) == 0 {
		cfg.Positions = defaults.Positions
	}
	if cfg.TargetHeight <= 0 {
		cfg.TargetHeight = defaults.TargetHeight
	}
	if cfg.SatThreshold <= 0 {
		cfg.SatThreshold = defaults.SatThreshold
	}
	if cfg.GradThreshold <= 0 {
		cfg.GradThreshold = defaults.GradThreshold
	}
	if cfg.Activation <= 0 {
		cfg.Activation = defaults.Activation
	}
	if cfg.MinRun <= 0 {
		cfg.MinRun = defaults.MinRun
	}

	return &SaturationDetector{sampler: sampler, cfg: cfg}
}

// Detect returns the right edge of the first active run found scanning from
// the right, in source pixels.
func (d *SaturationDetector) Detect(ctx context.Context, path string, dims Dimensions) (int, bool, error) {
	samples := make([][]float64, 0, len(d.cfg.Positions))
	for _, position := range d.cfg.Positions {
		frame, err := d.sampler.SampleFrame(ctx, path, FrameRequest{
			Source:       dims,
			Position:     position,
			TargetHeight: d.cfg.TargetHeight,
			BlurSigma:    d.cfg.BlurSigma,
		})
		if err != nil {
			return 0, false, fmt.Errorf("sample frame at %.2f: %w", position, err)
		}
		samples = append(samples, SaturationGradientColumns(frame, d.cfg.SatThreshold, d.cfg.GradThreshold))
	}

	scores := Smooth(averageColumns(samples), d.cfg.SmoothWindow)
	if len(scores) == 0 {
		return 0, false, nil
	}

	run, ok := FindRunFromRight(scores, d.cfg.Activation, d.cfg.MinRun)
	if !ok {
		return 0, false, nil
	}

	ratio := float64(run.End) / float64(len(scores))
	return max(0, int(math.Floor(float64(dims.Width)*ratio))), true, nil
}

// ChainDetector tries each detector in order and returns the first
// confident result. A failing detector is logged and skipped.
type ChainDetector struct {
	detectors []BoundaryDetector
	logger    zerolog.Logger
}

// NewChainDetector composes detectors into a fallback chain.
func NewChainDetector(logger zerolog.Logger, detectors ...BoundaryDetector) *ChainDetector {
	return &ChainDetector{
		detectors: detectors,
		logger:    logger.With().Str("component", "boundary_detector").Logger(),
	}
}

func (c *ChainDetector) Detect(ctx context.Context, path string, dims Dimensions) (int, bool, error) {
	var lastErr error
	for i, detector := range c.detectors {
		x, ok, err := detector.Detect(ctx, path, dims)
		if err != nil {
			lastErr = err
			c.logger.Warn().Err(err).Int("strategy", i).Str("path", path).Msg("boundary strategy failed")
			continue
		}
		if ok {
			return x, true, nil
		}
	}

	return 0, false, lastErr
}
