package media

// BrightnessColumns returns, per column, the mean over all rows of the
// pixel's RGB average.
func BrightnessColumns(f Frame) []float64 {
	out := make([]float64, f.Width)
	if f.Height == 0 {
		return out
	}

	for x := 0; x < f.Width; x++ {
		var sum float64
		for y := 0; y < f.Height; y++ {
			r, g, b := f.RGB(x, y)
			sum += (float64(r) + float64(g) + float64(b)) / 3
		}
		out[x] = sum / float64(f.Height)
	}

	return out
}

// SaturationGradientColumns scores each column as avgSaturation/satThreshold +
// avgHorizontalGradient/gradThreshold. The gradient is measured against the
// next column, so the last column only carries its saturation term.
func SaturationGradientColumns(f Frame, satThreshold, gradThreshold float64) []float64 {
	out := make([]float64, f.Width)
	if f.Height == 0 || satThreshold <= 0 || gradThreshold <= 0 {
		return out
	}

	for x := 0; x < f.Width; x++ {
		var satSum, gradSum float64
		for y := 0; y < f.Height; y++ {
			r, g, b := f.RGB(x, y)
			satSum += saturation(r, g, b)
			if x+1 < f.Width {
				nr, ng, nb := f.RGB(x+1, y)
				gradSum += absDiff(r, nr) + absDiff(g, ng) + absDiff(b, nb)
			}
		}
		satAvg := satSum / float64(f.Height)
		gradAvg := gradSum / float64(f.Height*3)
		out[x] = satAvg/satThreshold + gradAvg/gradThreshold
	}

	return out
}

// Smooth applies a centered moving average of the given window. Windows
// smaller than 2 return a copy of the input.
func Smooth(scores []float64, window int) []float64 {
	out := make([]float64, len(scores))
	if window < 2 {
		copy(out, scores)
		return out
	}

	half := window / 2
	for i := range scores {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi > len(scores)-1 {
			hi = len(scores) - 1
		}

		var sum float64
		for j := lo; j <= hi; j++ {
			sum += scores[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}

	return out
}

// Run is a contiguous span of active columns.
type Run struct {
	Start int
	End   int
}

// FindRunFromRight scans columns right to left and returns the first
// contiguous run of at least minRun columns scoring at or above threshold.
// The returned run extends to the run's full left edge.
func FindRunFromRight(scores []float64, threshold float64, minRun int) (Run, bool) {
	if minRun < 1 {
		minRun = 1
	}

	run := 0
	for x := len(scores) - 1; x >= 0; x-- {
		if scores[x] < threshold {
			run = 0
			continue
		}

		run++
		if run < minRun {
			continue
		}

		end := x + run - 1
		start := x
		for start > 0 && scores[start-1] >= threshold {
			start--
		}
		return Run{Start: start, End: end}, true
	}

	return Run{}, false
}

func saturation(r, g, b uint8) float64 {
	maxC := max(r, g, b)
	if maxC == 0 {
		return 0
	}
	minC := min(r, g, b)
	return float64(maxC-minC) / float64(maxC)
}

func absDiff(a, b uint8) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}

func averageColumns(samples [][]float64) []float64 {
	if len(samples) == 0 {
		return nil
	}

	width := len(samples[0])
	for _, s := range samples[1:] {
		if len(s) < width {
			width = len(s)
		}
	}

	out := make([]float64, width)
	for _, s := range samples {
		for x := 0; x < width; x++ {
			out[x] += s[x]
		}
	}
	for x := range out {
		out[x] /= float64(len(samples))
	}

	return out
}
