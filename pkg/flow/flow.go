// Package flow holds the dense displacement field produced by the solver and
// the operations that move it between pyramid resolutions.
package flow

import (
	"math"

	"github.com/pkg/errors"

	"tvflow/pkg/grid"
)

// Field is a dense displacement field. U is the horizontal and V the vertical
// component, both in pixels of the grid they are stored on.
type Field struct {
	U *grid.Grid
	V *grid.Grid
}

// Stats summarises a field
type Stats struct {
	U, V          grid.Stats
	MaxMagnitude  float64
	MeanMagnitude float64
}

// New returns a zero field of the given size.
func New(width, height int) *Field {
	return &Field{U: grid.New(width, height), V: grid.New(width, height)}
}

// FromGrids pairs two component grids into a field.
func FromGrids(u, v *grid.Grid) (*Field, error) {
	f := &Field{U: u, V: v}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks that both components exist and share their dimensions.
func (f *Field) Validate() error {
	if f == nil || f.U.Empty() || f.V.Empty() {
		return errors.New("flow: empty field")
	}
	if !f.U.SameSize(f.V) {
		return errors.Wrapf(grid.ErrSizeMismatch, "flow: u is %dx%d, v is %dx%d",
			f.U.Width, f.U.Height, f.V.Width, f.V.Height)
	}
	return nil
}

// Width of the field
func (f *Field) Width() int { return f.U.Width }

// Height of the field
func (f *Field) Height() int { return f.U.Height }

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	return &Field{U: f.U.Clone(), V: f.V.Clone()}
}

// Magnitude returns the per-pixel displacement length.
func (f *Field) Magnitude() *grid.Grid {
	m := grid.New(f.Width(), f.Height())
	for i := range m.Data {
		m.Data[i] = math.Hypot(f.U.Data[i], f.V.Data[i])
	}
	return m
}

// Stats returns component statistics and magnitude extremes.
func (f *Field) Stats() Stats {
	mag := f.Magnitude().Stats()
	return Stats{
		U:             f.U.Stats(),
		V:             f.V.Stats(),
		MaxMagnitude:  mag.Max,
		MeanMagnitude: mag.Mean,
	}
}

// Resize resamples f to width x height with bilinear interpolation at pixel
// centres and rescales the components so that displacements stay consistent
// with the new pixel size: U by width/W and V by height/H.
func Resize(f *Field, width, height, n int) (*Field, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("flow: invalid target size %dx%d", width, height)
	}

	out := &Field{
		U: f.U.Resample(width, height, n),
		V: f.V.Resample(width, height, n),
	}
	if width != f.Width() {
		out.U.Scale(float64(width) / float64(f.Width()))
	}
	if height != f.Height() {
		out.V.Scale(float64(height) / float64(f.Height()))
	}
	return out, nil
}

// Upsample propagates a coarse field to a finer grid.
func Upsample(f *Field, width, height, n int) (*Field, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if width < f.Width() || height < f.Height() {
		return nil, errors.Errorf("flow: cannot upsample %dx%d to %dx%d",
			f.Width(), f.Height(), width, height)
	}
	return Resize(f, width, height, n)
}

// Downsample restricts a fine field to a coarser grid.
func Downsample(f *Field, width, height, n int) (*Field, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if width > f.Width() || height > f.Height() {
		return nil, errors.Errorf("flow: cannot downsample %dx%d to %dx%d",
			f.Width(), f.Height(), width, height)
	}
	return Resize(f, width, height, n)
}
