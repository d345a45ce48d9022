package visualization

import (
	"image"
	"image/color"
	"math"

	"tvflow/pkg/flow"
)

// wheel holds the colour stops over half the vector angle. Red, blue, green
// and yellow sit at 0, π/4, π/2 and 3π/4; the last stop closes the circle.
var wheel = []struct {
	phi     float64
	r, g, b float64
}{
	{0, 255, 0, 0},
	{0.125 * math.Pi, 255, 0, 255},
	{0.25 * math.Pi, 64, 64, 255},
	{0.375 * math.Pi, 0, 255, 255},
	{0.5 * math.Pi, 0, 255, 0},
	{0.75 * math.Pi, 255, 255, 0},
	{math.Pi, 255, 0, 0},
}

// VectorColor maps a displacement, already divided by the display range, to
// a colour. The direction selects the hue and the length, capped at one,
// the brightness; a zero vector is black.
func VectorColor(x, y float64) color.RGBA {
	amp := math.Min(math.Hypot(x, y), 1)
	phi := math.Atan2(y, x)
	if phi < 0 {
		phi += 2 * math.Pi
	}
	if x == 0 && y == 0 {
		phi = 0.5 * math.Pi
	}
	phi /= 2

	seg := len(wheel) - 2
	for i := 0; i < len(wheel)-1; i++ {
		if phi < wheel[i+1].phi {
			seg = i
			break
		}
	}
	lo, hi := wheel[seg], wheel[seg+1]
	beta := (phi - lo.phi) / (hi.phi - lo.phi)
	alpha := 1 - beta

	channel := func(a, b float64) uint8 {
		v := math.Floor(amp * (alpha*a + beta*b))
		return uint8(math.Max(0, math.Min(255, v)))
	}
	return color.RGBA{
		R: channel(lo.r, hi.r),
		G: channel(lo.g, hi.g),
		B: channel(lo.b, hi.b),
		A: 255,
	}
}

// ColorCode renders f with the direction colour wheel. Displacements of
// length maxDisplacement or more reach full brightness; a non-positive
// maxDisplacement uses the longest vector of the field.
func ColorCode(f *flow.Field, maxDisplacement float64) *image.RGBA {
	if maxDisplacement <= 0 {
		maxDisplacement = f.Stats().MaxMagnitude
	}
	scale := 0.0
	if maxDisplacement > 0 {
		scale = 1 / maxDisplacement
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width(), f.Height()))
	for y := 0; y < f.Height(); y++ {
		for x := 0; x < f.Width(); x++ {
			img.SetRGBA(x, y, VectorColor(scale*f.U.At(x, y), scale*f.V.At(x, y)))
		}
	}
	return img
}

// ColorWheel renders the legend of ColorCode: a size x size disc where the
// offset from the centre is the displacement.
func ColorWheel(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := float64(size-1) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := (float64(x)-c)/c, (float64(y)-c)/c
			if math.Hypot(dx, dy) > 1 {
				img.SetRGBA(x, y, color.RGBA{A: 255})
				continue
			}
			img.SetRGBA(x, y, VectorColor(dx, dy))
		}
	}
	return img
}
