package media

// Frame is a packed RGB24 image.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// RGB returns the pixel at (x, y).
func (f Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}
