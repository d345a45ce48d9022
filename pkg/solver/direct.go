package solver

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned by the direct solve when the frozen
// system cannot be factorised, e.g. on textureless levels.
var ErrNotPositiveDefinite = errors.New("solver: system is not positive definite")

// solveDirect assembles the frozen system for all increments and solves it
// with a Cholesky factorisation. Unknown 2i is du and 2i+1 is dv of pixel i.
//
//	(A11 + Σw) du_i + A12 dv_i - Σ w_j du_j = -A13 + Σ w_j (u_j - u_i)
//	(A22 + Σw) dv_i + A12 du_i - Σ w_j dv_j = -A23 + Σ w_j (v_j - v_i)
func (l *Level) solveDirect() error {
	n := l.width * l.height
	a := mat.NewSymDense(2*n, nil)
	b := make([]float64, 2*n)
	u, v := l.u.Data, l.v.Data

	for y := 0; y < l.height; y++ {
		for x := 0; x < l.width; x++ {
			i := y*l.width + x
			var sum float64
			b[2*i] = -l.a13[i]
			b[2*i+1] = -l.a23[i]
			l.neighbours(x, y, func(j int, weight float64) {
				sum += weight
				b[2*i] += weight * (u[j] - u[i])
				b[2*i+1] += weight * (v[j] - v[i])
				a.SetSym(2*i, 2*j, -weight)
				a.SetSym(2*i+1, 2*j+1, -weight)
			})
			a.SetSym(2*i, 2*i, l.a11[i]+sum)
			a.SetSym(2*i+1, 2*i+1, l.a22[i]+sum)
			a.SetSym(2*i, 2*i+1, l.a12[i])
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return ErrNotPositiveDefinite
	}
	x := mat.NewVecDense(2*n, nil)
	if err := chol.SolveVecTo(x, mat.NewVecDense(2*n, b)); err != nil {
		return errors.Wrap(err, "solver: cholesky solve")
	}

	sol := x.RawVector().Data
	if floats.HasNaN(sol) || math.IsInf(floats.Max(sol), 0) || math.IsInf(floats.Min(sol), 0) {
		return ErrNotPositiveDefinite
	}
	for i := 0; i < n; i++ {
		l.du.Data[i] = sol[2*i]
		l.dv.Data[i] = sol[2*i+1]
	}
	return nil
}
