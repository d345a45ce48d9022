// Package grid provides the dense 2D float arena shared by every stage of the
// flow solver: images, flow components, increments, tensors and weights are
// all stored as flat row-major slices indexed by y*Width+x.
package grid

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrSizeMismatch is returned when two grids that must share dimensions do not.
var ErrSizeMismatch = errors.New("grid: dimension mismatch")

// Grid is a Width x Height array of samples in row-major order.
type Grid struct {
	Data   []float64
	Width  int
	Height int
}

// Stats summarises the samples of a grid
type Stats struct {
	Min, Max, Mean, Variance float64
}

// New allocates a zero-filled grid.
func New(width, height int) *Grid {
	return &Grid{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// FromSlice wraps data as a grid without copying it.
func FromSlice(data []float64, width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("grid: invalid dimensions %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("grid: %d samples do not fill %dx%d", len(data), width, height)
	}
	return &Grid{Data: data, Width: width, Height: height}, nil
}

// FromRows builds a grid from a slice of equally long rows.
func FromRows(rows [][]float64) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("grid: empty rows")
	}
	g := New(len(rows[0]), len(rows))
	for y, row := range rows {
		if len(row) != g.Width {
			return nil, errors.Errorf("grid: row %d has %d samples, want %d", y, len(row), g.Width)
		}
		copy(g.Data[y*g.Width:], row)
	}
	return g, nil
}

// Empty reports whether the grid holds no samples.
func (g *Grid) Empty() bool {
	return g == nil || g.Width <= 0 || g.Height <= 0 || len(g.Data) == 0
}

// Index returns the flat offset of (x, y).
func (g *Grid) Index(x, y int) int { return y*g.Width + x }

// At returns the sample at (x, y).
func (g *Grid) At(x, y int) float64 { return g.Data[y*g.Width+x] }

// Set stores v at (x, y).
func (g *Grid) Set(x, y int, v float64) { g.Data[y*g.Width+x] = v }

// AtClamped returns the sample at (x, y) with both coordinates clamped into
// the grid, which mirrors the border row/column outward.
func (g *Grid) AtClamped(x, y int) float64 {
	return g.Data[clampInt(y, 0, g.Height-1)*g.Width+clampInt(x, 0, g.Width-1)]
}

// SameSize reports whether g and o have identical dimensions.
func (g *Grid) SameSize(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := New(g.Width, g.Height)
	copy(c.Data, g.Data)
	return c
}

// Fill sets every sample to v.
func (g *Grid) Fill(v float64) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// Add accumulates o into g element-wise.
func (g *Grid) Add(o *Grid) error {
	if !g.SameSize(o) {
		return errors.Wrapf(ErrSizeMismatch, "add %dx%d to %dx%d", o.Width, o.Height, g.Width, g.Height)
	}
	floats.Add(g.Data, o.Data)
	return nil
}

// Scale multiplies every sample by c.
func (g *Grid) Scale(c float64) {
	floats.Scale(c, g.Data)
}

// Sub returns g - o as a new grid.
func (g *Grid) Sub(o *Grid) (*Grid, error) {
	if !g.SameSize(o) {
		return nil, errors.Wrapf(ErrSizeMismatch, "sub %dx%d from %dx%d", o.Width, o.Height, g.Width, g.Height)
	}
	d := New(g.Width, g.Height)
	floats.SubTo(d.Data, g.Data, o.Data)
	return d, nil
}

// Equal reports whether g and o have the same size and bit-identical samples.
func (g *Grid) Equal(o *Grid) bool {
	return g.SameSize(o) && floats.Equal(g.Data, o.Data)
}

// Stats returns min, max, mean and variance of the samples.
func (g *Grid) Stats() Stats {
	if g.Empty() {
		return Stats{}
	}
	return Stats{
		Min:      floats.Min(g.Data),
		Max:      floats.Max(g.Data),
		Mean:     stat.Mean(g.Data, nil),
		Variance: stat.PopVariance(g.Data, nil),
	}
}

// IsFinite reports whether no sample is NaN or infinite.
func (g *Grid) IsFinite() bool {
	for _, v := range g.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
