package grid

import (
	"image"
	"image/color"
	"math"
)

// FromImage converts img to a grayscale grid with samples in [0, 255] using
// the ITU-R 601 luma weights. Gray images are copied without conversion.
func FromImage(img image.Image) *Grid {
	bounds := img.Bounds()
	g := New(bounds.Dx(), bounds.Dy())

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			c := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			var v float64
			switch t := c.(type) {
			case color.Gray:
				v = float64(t.Y)
			case color.Gray16:
				v = float64(t.Y) / 257.0
			default:
				r, gr, b, _ := c.RGBA()
				v = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(b)) / 257.0
			}
			g.Data[y*g.Width+x] = v
		}
	}
	return g
}

// ToGray16 maps samples linearly from [lo, hi] to the full 16-bit range,
// clamping values outside the interval.
func (g *Grid) ToGray16(lo, hi float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	span := hi - lo
	if span <= 0 {
		span = 1
	}

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			t := (g.Data[y*g.Width+x] - lo) / span
			value := uint16(math.Max(0, math.Min(65535, t*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// ToGray16Normalized stretches the grid's own min..max range to 16 bits.
func (g *Grid) ToGray16Normalized() *image.Gray16 {
	s := g.Stats()
	return g.ToGray16(s.Min, s.Max)
}
