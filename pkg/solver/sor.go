package solver

import "tvflow/internal/workers"

// sweep relaxes every pixel of one checkerboard colour. Pixels of the same
// colour share no smoothness coupling, so the rows of a phase can be split
// across workers and the result does not depend on the worker count. The
// two phases together form one Gauss-Seidel sweep in red-black order.
func (l *Level) sweep(color int) {
	workers.Rows(l.height, l.cfg.Workers, func(start, end int) {
		for y := start; y < end; y++ {
			for x := (y + color) & 1; x < l.width; x += 2 {
				l.relax(x, y)
			}
		}
	})
}

// relax performs the SOR update of (du, dv) at one pixel. du is updated
// first and the new value is used for dv. A pixel without data or
// smoothness coupling keeps its increment.
func (l *Level) relax(x, y int) {
	i := y*l.width + x
	u, v := l.u.Data, l.v.Data
	du, dv := l.du.Data, l.dv.Data
	omega := l.cfg.Omega

	var sum, su, sv float64
	l.neighbours(x, y, func(j int, weight float64) {
		sum += weight
		su += weight * (u[j] + du[j])
		sv += weight * (v[j] + dv[j])
	})

	if den := l.a11[i] + sum; den > 0 {
		gs := (-l.a13[i] - l.a12[i]*dv[i] + su - sum*u[i]) / den
		du[i] = (1-omega)*du[i] + omega*gs
	}
	if den := l.a22[i] + sum; den > 0 {
		gs := (-l.a23[i] - l.a12[i]*du[i] + sv - sum*v[i]) / den
		dv[i] = (1-omega)*dv[i] + omega*gs
	}
}
