package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeKeepsRectInsideFrameAndEven(t *testing.T) {
	frames := []Dimensions{{2, 2}, {3, 3}, {7, 5}, {640, 360}, {1000, 600}, {1001, 601}}
	rects := []CropRect{
		{X: 0, Y: 0, W: 0, H: 0},
		{X: -5, Y: -5, W: 10, H: 10},
		{X: 999, Y: 599, W: 999, H: 999},
		{X: 3, Y: 1, W: 5, H: 3},
		{X: 170, Y: 0, W: 830, H: 600},
		{X: 1, Y: 1, W: 1, H: 1},
		{X: 5000, Y: 5000, W: -3, H: -3},
	}

	for _, frame := range frames {
		for _, rect := range rects {
			got, err := Sanitize(rect, frame.Width, frame.Height)
			require.NoError(t, err)

			require.GreaterOrEqual(t, got.X, 0)
			require.GreaterOrEqual(t, got.Y, 0)
			require.LessOrEqual(t, got.X+got.W, frame.Width, "rect %+v frame %+v", rect, frame)
			require.LessOrEqual(t, got.Y+got.H, frame.Height, "rect %+v frame %+v", rect, frame)
			require.Zero(t, got.W%2)
			require.Zero(t, got.H%2)
			require.GreaterOrEqual(t, got.W, 2)
			require.GreaterOrEqual(t, got.H, 2)

			again, err := Sanitize(got, frame.Width, frame.Height)
			require.NoError(t, err)
			require.Equal(t, got, again, "sanitize must be idempotent")
		}
	}
}

func TestSanitizeRejectsTinyFrames(t *testing.T) {
	_, err := Sanitize(CropRect{W: 2, H: 2}, 1, 10)
	require.ErrorIs(t, err, ErrFrameTooSmall)
}

func TestChooseCutXFallback(t *testing.T) {
	for _, width := range []int{1, 99, 640, 1000, 1919} {
		x := ChooseCutX(0, false, width, 0.17, 0.7)
		expected := min(int(float64(width)*0.17), int(float64(width)*0.7))
		require.Equal(t, expected, x)
	}

	require.Equal(t, 170, ChooseCutX(0, false, 1000, 0.17, 0.7))
}

func TestChooseCutXClampsDetectedColumn(t *testing.T) {
	require.Equal(t, 420, ChooseCutX(420, true, 1000, 0.17, 0.7))
	require.Equal(t, 700, ChooseCutX(950, true, 1000, 0.17, 0.7))
	require.Equal(t, 0, ChooseCutX(0, true, 1000, 0.17, 0.7))
}

func TestFallbackRectForTypicalFrame(t *testing.T) {
	dims := Dimensions{Width: 1000, Height: 600}
	x := ChooseCutX(0, false, dims.Width, 0.17, 0.7)

	rect, err := Sanitize(LeftCropRect(x, dims), dims.Width, dims.Height)
	require.NoError(t, err)
	require.Equal(t, CropRect{X: 170, Y: 0, W: 830, H: 600}, rect)
	require.Equal(t, "830:600:170:0", rect.String())
}
