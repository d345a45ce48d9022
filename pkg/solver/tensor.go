package solver

import (
	"tvflow/internal/workers"
	"tvflow/pkg/warp"
)

// normEps is added to squared gradient magnitudes before they are used as
// normalisation factors.
const normEps = 0.1

// tensor is a field of symmetric 3x3 motion tensors. For an increment
// d = (du, dv, 1) the squared linearised residual at pixel i is dᵀ J d.
type tensor struct {
	j11, j22, j33, j12, j13, j23 []float64
}

func newTensor(n int) *tensor {
	return &tensor{
		j11: make([]float64, n),
		j22: make([]float64, n),
		j33: make([]float64, n),
		j12: make([]float64, n),
		j13: make([]float64, n),
		j23: make([]float64, n),
	}
}

// add accumulates c·a aᵀ with a = (a1, a2, a3) into pixel i.
func (t *tensor) add(i int, c, a1, a2, a3 float64) {
	t.j11[i] += c * a1 * a1
	t.j22[i] += c * a2 * a2
	t.j33[i] += c * a3 * a3
	t.j12[i] += c * a1 * a2
	t.j13[i] += c * a1 * a3
	t.j23[i] += c * a2 * a3
}

// quad evaluates dᵀ J d for d = (du, dv, 1), clamped at zero.
func (t *tensor) quad(i int, du, dv float64) float64 {
	s := t.j11[i]*du*du +
		t.j22[i]*dv*dv +
		2*t.j12[i]*du*dv +
		2*t.j13[i]*du +
		2*t.j23[i]*dv +
		t.j33[i]
	if s < 0 {
		return 0
	}
	return s
}

// brightnessTensor linearises I2(x+u+du) - I1(x). Spatial derivatives are the
// average of the reference and warped target derivatives.
func brightnessTensor(ref, warped *warp.Derivatives, normalize bool, n int) *tensor {
	w, h := ref.Width(), ref.Height()
	t := newTensor(w * h)
	workers.Rows(h, n, func(start, end int) {
		for i := start * w; i < end*w; i++ {
			ix := 0.5 * (ref.Ix.Data[i] + warped.Ix.Data[i])
			iy := 0.5 * (ref.Iy.Data[i] + warped.Iy.Data[i])
			iz := warped.I.Data[i] - ref.I.Data[i]
			c := 1.0
			if normalize {
				c = 1 / (ix*ix + iy*iy + normEps)
			}
			t.add(i, c, ix, iy, iz)
		}
	})
	return t
}

// gradientTensor linearises ∇I2(x+u+du) - ∇I1(x), one row per gradient
// component.
func gradientTensor(ref, warped *warp.Derivatives, normalize bool, n int) *tensor {
	w, h := ref.Width(), ref.Height()
	t := newTensor(w * h)
	workers.Rows(h, n, func(start, end int) {
		for i := start * w; i < end*w; i++ {
			ixx := 0.5 * (ref.Ixx.Data[i] + warped.Ixx.Data[i])
			ixy := 0.5 * (ref.Ixy.Data[i] + warped.Ixy.Data[i])
			iyy := 0.5 * (ref.Iyy.Data[i] + warped.Iyy.Data[i])
			ixz := warped.Ix.Data[i] - ref.Ix.Data[i]
			iyz := warped.Iy.Data[i] - ref.Iy.Data[i]
			cx, cy := 1.0, 1.0
			if normalize {
				cx = 1 / (ixx*ixx + ixy*ixy + normEps)
				cy = 1 / (ixy*ixy + iyy*iyy + normEps)
			}
			t.add(i, cx, ixx, ixy, ixz)
			t.add(i, cy, ixy, iyy, iyz)
		}
	})
	return t
}
