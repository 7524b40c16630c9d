package media

func newFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Pix: make([]byte, width*height*3)}
}

func (f Frame) set(x, y int, r, g, b uint8) {
	i := (y*f.Width + x) * 3
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
}

// fillColumns paints columns [from, to) with a solid color.
func (f Frame) fillColumns(from, to int, r, g, b uint8) {
	for y := 0; y < f.Height; y++ {
		for x := from; x < to && x < f.Width; x++ {
			f.set(x, y, r, g, b)
		}
	}
}

func runLen(r Run) int {
	return r.End - r.Start + 1
}
