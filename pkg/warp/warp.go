// Package warp resamples an image and its spatial derivatives at positions
// displaced by a flow field.
package warp

import (
	"github.com/pkg/errors"

	"tvflow/internal/workers"
	"tvflow/pkg/grid"
)

// Derivatives bundles an image with the first and second order spatial
// derivatives needed to linearise brightness and gradient constancy.
type Derivatives struct {
	I   *grid.Grid
	Ix  *grid.Grid
	Iy  *grid.Grid
	Ixx *grid.Grid
	Ixy *grid.Grid
	Iyy *grid.Grid
}

// NewDerivatives computes central-difference derivatives of img. Neighbours
// beyond the border are clamped, so the outermost rows and columns behave as
// if mirrored. Ixy is the x-derivative of Iy.
func NewDerivatives(img *grid.Grid, n int) *Derivatives {
	ix, iy := img.Gradient(n)
	ixx, _ := ix.Gradient(n)
	ixy, iyy := iy.Gradient(n)
	return &Derivatives{
		I:   img,
		Ix:  ix,
		Iy:  iy,
		Ixx: ixx,
		Ixy: ixy,
		Iyy: iyy,
	}
}

// Width of the underlying image
func (d *Derivatives) Width() int { return d.I.Width }

// Height of the underlying image
func (d *Derivatives) Height() int { return d.I.Height }

func (d *Derivatives) channels() []*grid.Grid {
	return []*grid.Grid{d.I, d.Ix, d.Iy, d.Ixx, d.Ixy, d.Iyy}
}

// Warp samples every channel of target at (x+u, y+v) with bilinear
// interpolation. Displaced positions outside the image are clamped to the
// nearest valid coordinate; intensities and derivatives follow the same rule.
func Warp(target *Derivatives, u, v *grid.Grid, n int) (*Derivatives, error) {
	w, h := target.Width(), target.Height()
	if u.Width != w || u.Height != h || !u.SameSize(v) {
		return nil, errors.Wrapf(grid.ErrSizeMismatch,
			"warp: flow %dx%d/%dx%d does not match image %dx%d", u.Width, u.Height, v.Width, v.Height, w, h)
	}

	src := target.channels()
	dst := make([]*grid.Grid, len(src))
	for i := range dst {
		dst[i] = grid.New(w, h)
	}

	workers.Rows(h, n, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				idx := y*w + x
				px := float64(x) + u.Data[idx]
				py := float64(y) + v.Data[idx]
				for c, g := range src {
					dst[c].Data[idx] = g.Sample(px, py)
				}
			}
		}
	})

	return &Derivatives{
		I:   dst[0],
		Ix:  dst[1],
		Iy:  dst[2],
		Ixx: dst[3],
		Ixy: dst[4],
		Iyy: dst[5],
	}, nil
}
