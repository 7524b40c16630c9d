package media

import (
	"fmt"
	"math"
)

// Dimensions is the pixel size of a video stream.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CropRect is a crop window in source pixels.
type CropRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// String renders the rectangle in ffmpeg's crop filter order.
func (r CropRect) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", r.W, r.H, r.X, r.Y)
}

// Sanitize clamps rect into a width x height frame and forces even width and
// height. Sanitizing an already sanitized rectangle returns it unchanged.
func Sanitize(rect CropRect, width, height int) (CropRect, error) {
	if width < 2 || height < 2 {
		return CropRect{}, fmt.Errorf("%w: %dx%d", ErrFrameTooSmall, width, height)
	}

	x := clamp(rect.X, 0, width-2)
	y := clamp(rect.Y, 0, height-2)
	w := clamp(rect.W, 2, width-x)
	h := clamp(rect.H, 2, height-y)

	return CropRect{X: x, Y: y, W: evenDown(w), H: evenDown(h)}, nil
}

// ChooseCutX picks the left crop column. An undetected boundary falls back to
// fallbackRatio of the width, and every choice is capped at maxRatio of the
// width.
func ChooseCutX(detected int, ok bool, width int, fallbackRatio, maxRatio float64) int {
	x := int(math.Floor(float64(width) * fallbackRatio))
	if ok {
		x = detected
	}

	limit := int(math.Floor(float64(width) * maxRatio))
	if x > limit {
		x = limit
	}
	if x < 0 {
		x = 0
	}

	return x
}

// LeftCropRect returns the raw rectangle that removes everything left of cutX.
func LeftCropRect(cutX int, dims Dimensions) CropRect {
	w := dims.Width - cutX
	if w < 1 {
		w = 1
	}

	return CropRect{X: cutX, Y: 0, W: w, H: dims.Height}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func evenDown(n int) int {
	if n%2 != 0 {
		return n - 1
	}
	return n
}
