package grid

import (
	"math"

	"tvflow/internal/workers"
)

// Sample evaluates g at the sub-pixel position (x, y) by bilinear
// interpolation. Positions outside the grid are clamped to the nearest valid
// coordinate; there is no extrapolation and no wrap-around.
func (g *Grid) Sample(x, y float64) float64 {
	maxX := float64(g.Width - 1)
	maxY := float64(g.Height - 1)
	if x < 0 || math.IsNaN(x) {
		x = 0
	} else if x > maxX {
		x = maxX
	}
	if y < 0 || math.IsNaN(y) {
		y = 0
	} else if y > maxY {
		y = maxY
	}

	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	if x1 >= g.Width {
		x1 = g.Width - 1
	}
	y1 := y0 + 1
	if y1 >= g.Height {
		y1 = g.Height - 1
	}
	dx := x - float64(x0)
	dy := y - float64(y0)

	row0 := y0 * g.Width
	row1 := y1 * g.Width
	return (1-dx)*(1-dy)*g.Data[row0+x0] +
		dx*(1-dy)*g.Data[row0+x1] +
		(1-dx)*dy*g.Data[row1+x0] +
		dx*dy*g.Data[row1+x1]
}

// Resample returns g resized to width x height by bilinear interpolation at
// pixel centres: output pixel x maps to (x+0.5)*W/width-0.5 in g.
func (g *Grid) Resample(width, height, n int) *Grid {
	out := New(width, height)
	if g.Width == width && g.Height == height {
		copy(out.Data, g.Data)
		return out
	}

	fx := float64(g.Width) / float64(width)
	fy := float64(g.Height) / float64(height)
	workers.Rows(height, n, func(start, end int) {
		for y := start; y < end; y++ {
			sy := (float64(y)+0.5)*fy - 0.5
			for x := 0; x < width; x++ {
				sx := (float64(x)+0.5)*fx - 0.5
				out.Data[y*width+x] = g.Sample(sx, sy)
			}
		}
	})
	return out
}

// GaussianKernel returns a normalised 1D Gaussian of standard deviation sigma
// truncated at three sigma. A non-positive sigma yields the identity kernel.
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur convolves g with a separable Gaussian. Samples beyond the border
// are taken from the mirrored image.
func (g *Grid) GaussianBlur(sigma float64, n int) *Grid {
	kernel := GaussianKernel(sigma)
	if len(kernel) == 1 {
		return g.Clone()
	}
	radius := len(kernel) / 2

	tmp := New(g.Width, g.Height)
	workers.Rows(g.Height, n, func(start, end int) {
		for y := start; y < end; y++ {
			row := g.Data[y*g.Width : (y+1)*g.Width]
			for x := 0; x < g.Width; x++ {
				sum := 0.0
				for k := -radius; k <= radius; k++ {
					sum += kernel[k+radius] * row[mirror(x+k, g.Width)]
				}
				tmp.Data[y*g.Width+x] = sum
			}
		}
	})

	out := New(g.Width, g.Height)
	workers.Rows(g.Height, n, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < g.Width; x++ {
				sum := 0.0
				for k := -radius; k <= radius; k++ {
					sum += kernel[k+radius] * tmp.Data[mirror(y+k, g.Height)*g.Width+x]
				}
				out.Data[y*g.Width+x] = sum
			}
		}
	})
	return out
}

// Gradient returns the central-difference derivatives of g along x and y.
// Border pixels reuse their own value for the missing neighbour, which is the
// same as mirroring the outermost row/column.
func (g *Grid) Gradient(n int) (gx, gy *Grid) {
	gx = New(g.Width, g.Height)
	gy = New(g.Width, g.Height)
	workers.Rows(g.Height, n, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < g.Width; x++ {
				i := y*g.Width + x
				gx.Data[i] = 0.5 * (g.AtClamped(x+1, y) - g.AtClamped(x-1, y))
				gy.Data[i] = 0.5 * (g.AtClamped(x, y+1) - g.AtClamped(x, y-1))
			}
		}
	})
	return gx, gy
}

// mirror reflects an out-of-range index back into [0, n) about the border
// samples (…, 1, 0, 0, 1, …).
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}
