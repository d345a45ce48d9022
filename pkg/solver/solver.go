// Package solver linearises the robust flow energy around the current flow
// estimate at one pyramid level and solves for the flow increment.
//
// The data term blends brightness constancy (weight w) with gradient
// constancy (weight 1-w), each under the robust data penalty Ψ_d. The
// smoothness term is α·Ψ_s(|∇(u+du)|² + |∇(v+dv)|²). Robust weights are frozen
// per outer iteration, which leaves a weighted least-squares system in
// (du, dv) that couples every pixel to its in-bounds 4-neighbours.
package solver

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"tvflow/internal/workers"
	"tvflow/pkg/grid"
	"tvflow/pkg/penalty"
	"tvflow/pkg/warp"
)

// Config holds the per-level solver parameters
type Config struct {
	// Alpha is the smoothness weight.
	Alpha float64
	// GradBrightWeight is w in [0,1]: 1 uses brightness constancy only,
	// 0 gradient constancy only.
	GradBrightWeight float64
	// Data and Smooth are the robust penalties of the two terms.
	Data   penalty.Penalty
	Smooth penalty.Penalty
	// NormalizeData divides each constancy residual by its squared spatial
	// gradient magnitude plus 0.1.
	NormalizeData bool
	// InnerIterations is the number of red-black SOR sweeps per outer step.
	InnerIterations int
	// OuterIterations is the number of robust weight updates.
	OuterIterations int
	// Omega is the over-relaxation factor in (0,2).
	Omega float64
	// Tolerance stops the outer loop once the RMS change of the increment
	// between two outer iterations falls below it. Zero disables the check.
	Tolerance float64
	// DirectSolveMaxPixels enables the Cholesky solve for levels with at most
	// this many pixels. Zero disables it.
	DirectSolveMaxPixels int
	// Workers is the number of goroutines per sweep.
	Workers int
}

// Result reports what one Solve call did
type Result struct {
	OuterIterations int
	Converged       bool
	Direct          bool
	Change          float64
}

// Level is the workspace of one linearisation: motion tensors, robust weights
// and the flow increment. It holds references to the caller's u and v, which
// are read during the solve and updated by Apply.
type Level struct {
	cfg           Config
	width, height int

	u, v   *grid.Grid
	du, dv *grid.Grid

	bright *tensor
	grad   *tensor

	// frozen system: blended data tensor and smoothness weights
	a11, a22, a12, a13, a23 []float64
	psiS                    []float64
}

// NewLevel linearises the energy around (u, v). ref holds the derivatives of
// the first frame and warped those of the second frame sampled at (x+u, y+v).
func NewLevel(ref, warped *warp.Derivatives, u, v *grid.Grid, cfg Config) (*Level, error) {
	w, h := ref.Width(), ref.Height()
	if w <= 0 || h <= 0 {
		return nil, errors.New("solver: empty level")
	}
	if warped.Width() != w || warped.Height() != h {
		return nil, errors.Wrapf(grid.ErrSizeMismatch, "solver: warped %dx%d, reference %dx%d",
			warped.Width(), warped.Height(), w, h)
	}
	if u.Width != w || u.Height != h || !u.SameSize(v) {
		return nil, errors.Wrapf(grid.ErrSizeMismatch, "solver: flow %dx%d, reference %dx%d",
			u.Width, u.Height, w, h)
	}

	n := w * h
	l := &Level{
		cfg:    cfg,
		width:  w,
		height: h,
		u:      u,
		v:      v,
		du:     grid.New(w, h),
		dv:     grid.New(w, h),
		a11:    make([]float64, n),
		a22:    make([]float64, n),
		a12:    make([]float64, n),
		a13:    make([]float64, n),
		a23:    make([]float64, n),
		psiS:   make([]float64, n),
	}
	if cfg.GradBrightWeight > 0 {
		l.bright = brightnessTensor(ref, warped, cfg.NormalizeData, cfg.Workers)
	}
	if cfg.GradBrightWeight < 1 {
		l.grad = gradientTensor(ref, warped, cfg.NormalizeData, cfg.Workers)
	}
	return l, nil
}

// Increment returns the current flow increment. The grids are owned by the
// level.
func (l *Level) Increment() (du, dv *grid.Grid) { return l.du, l.dv }

// Solve runs the outer fixed-point iteration: recompute the robust weights
// from the current increment, then solve the frozen linear system either
// directly or with InnerIterations red-black SOR sweeps.
func (l *Level) Solve() Result {
	var res Result
	n := l.width * l.height
	direct := l.cfg.DirectSolveMaxPixels > 0 && n <= l.cfg.DirectSolveMaxPixels

	var prevU, prevV []float64
	if l.cfg.Tolerance > 0 {
		prevU = make([]float64, n)
		prevV = make([]float64, n)
	}

	for k := 0; k < l.cfg.OuterIterations; k++ {
		l.updateWeights()

		if direct {
			if err := l.solveDirect(); err != nil {
				direct = false
			} else {
				res.Direct = true
			}
		}
		if !direct {
			for it := 0; it < l.cfg.InnerIterations; it++ {
				l.sweep(0)
				l.sweep(1)
			}
		}
		res.OuterIterations = k + 1

		if l.cfg.Tolerance > 0 {
			// the first pass has no previous increment to compare with
			if k > 0 {
				du := floats.Distance(l.du.Data, prevU, 2)
				dv := floats.Distance(l.dv.Data, prevV, 2)
				res.Change = math.Sqrt((du*du + dv*dv) / float64(n))
				if res.Change < l.cfg.Tolerance {
					res.Converged = true
					break
				}
			}
			copy(prevU, l.du.Data)
			copy(prevV, l.dv.Data)
		}
	}
	return res
}

// Apply folds the increment into u and v and clears it.
func (l *Level) Apply() {
	floats.Add(l.u.Data, l.du.Data)
	floats.Add(l.v.Data, l.dv.Data)
	l.du.Fill(0)
	l.dv.Fill(0)
}

// Energy evaluates the linearised energy at the current increment. It is a
// diagnostic: the smoothness term uses clamped central differences, while the
// frozen system couples each pixel to its in-bounds neighbours through
// one-sided differences, so the solver does not minimise this exact value.
func (l *Level) Energy() float64 {
	w := l.cfg.GradBrightWeight
	e := 0.0
	for y := 0; y < l.height; y++ {
		for x := 0; x < l.width; x++ {
			i := y*l.width + x
			du, dv := l.du.Data[i], l.dv.Data[i]
			if l.bright != nil {
				e += w * l.cfg.Data.Value(l.bright.quad(i, du, dv))
			}
			if l.grad != nil {
				e += (1 - w) * l.cfg.Data.Value(l.grad.quad(i, du, dv))
			}
			e += l.cfg.Alpha * l.cfg.Smooth.Value(l.flowGradient2(x, y))
		}
	}
	return e
}

// updateWeights freezes the robust weights at the current increment and
// assembles the blended data tensor A = w·ψ_b·J_b + (1-w)·ψ_g·J_g.
func (l *Level) updateWeights() {
	w := l.cfg.GradBrightWeight
	workers.Rows(l.height, l.cfg.Workers, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < l.width; x++ {
				i := y*l.width + x
				du, dv := l.du.Data[i], l.dv.Data[i]
				var a11, a22, a12, a13, a23 float64
				if t := l.bright; t != nil {
					c := w * l.cfg.Data.Weight(t.quad(i, du, dv))
					a11 += c * t.j11[i]
					a22 += c * t.j22[i]
					a12 += c * t.j12[i]
					a13 += c * t.j13[i]
					a23 += c * t.j23[i]
				}
				if t := l.grad; t != nil {
					c := (1 - w) * l.cfg.Data.Weight(t.quad(i, du, dv))
					a11 += c * t.j11[i]
					a22 += c * t.j22[i]
					a12 += c * t.j12[i]
					a13 += c * t.j13[i]
					a23 += c * t.j23[i]
				}
				l.a11[i], l.a22[i], l.a12[i], l.a13[i], l.a23[i] = a11, a22, a12, a13, a23
				l.psiS[i] = l.cfg.Smooth.Weight(l.flowGradient2(x, y))
			}
		}
	})
}

// flowGradient2 returns |∇(u+du)|² + |∇(v+dv)|² at (x, y) from central
// differences with clamped neighbours.
func (l *Level) flowGradient2(x, y int) float64 {
	at := func(g, d *grid.Grid, x, y int) float64 {
		return g.AtClamped(x, y) + d.AtClamped(x, y)
	}
	ux := 0.5 * (at(l.u, l.du, x+1, y) - at(l.u, l.du, x-1, y))
	uy := 0.5 * (at(l.u, l.du, x, y+1) - at(l.u, l.du, x, y-1))
	vx := 0.5 * (at(l.v, l.dv, x+1, y) - at(l.v, l.dv, x-1, y))
	vy := 0.5 * (at(l.v, l.dv, x, y+1) - at(l.v, l.dv, x, y-1))
	return ux*ux + uy*uy + vx*vx + vy*vy
}

// neighbours calls fn for every in-bounds 4-neighbour j of pixel (x, y) with
// the coupling weight α·(ψ_s,i + ψ_s,j)/2.
func (l *Level) neighbours(x, y int, fn func(j int, weight float64)) {
	i := y*l.width + x
	half := 0.5 * l.cfg.Alpha
	if x > 0 {
		fn(i-1, half*(l.psiS[i]+l.psiS[i-1]))
	}
	if x < l.width-1 {
		fn(i+1, half*(l.psiS[i]+l.psiS[i+1]))
	}
	if y > 0 {
		fn(i-l.width, half*(l.psiS[i]+l.psiS[i-l.width]))
	}
	if y < l.height-1 {
		fn(i+l.width, half*(l.psiS[i]+l.psiS[i+l.width]))
	}
}
