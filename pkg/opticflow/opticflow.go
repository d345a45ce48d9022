// Package opticflow estimates dense optical flow between two grayscale frames
// with a robust variational model solved coarse to fine with warping.
//
// Example usage:
//
//	p := opticflow.DefaultParams()
//	p.Alpha = 10
//	field, err := opticflow.Solve(frame1, frame2, p)
//	if errors.Is(err, opticflow.ErrConfiguration) {
//		// bad parameters or mismatched frames
//	}
package opticflow

import (
	"fmt"

	"github.com/pkg/errors"

	"tvflow/internal/workers"
	"tvflow/pkg/flow"
	"tvflow/pkg/grid"
	"tvflow/pkg/pyramid"
	"tvflow/pkg/solver"
	"tvflow/pkg/warp"
)

// ProgressCallback is a function that reports progress during estimation.
// completed counts finished warps over all levels out of total; message is
// a short description of the step.
type ProgressCallback func(completed, total int, message string)

// LevelReport summarises the work done on one pyramid level
type LevelReport struct {
	Width, Height int
	Warps         int
	Outer         int
	Converged     bool
	Direct        bool
}

// Estimator runs flow estimations with a fixed parameter set. Each Estimate
// call owns its pyramid and buffers, so one Estimator may serve concurrent
// calls as long as the progress callback is safe for that.
type Estimator struct {
	params           Params
	progressCallback ProgressCallback // Optional callback for progress reporting

	build func(i1, i2 *grid.Grid, opts pyramid.Options) (*pyramid.Pyramid, error)
}

// NewEstimator validates p and returns an estimator for it.
func NewEstimator(p Params) (*Estimator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{params: p, build: pyramid.Build}, nil
}

// Params returns the estimator's parameters.
func (e *Estimator) Params() Params { return e.params }

// SetProgressCallback sets a callback function to report progress after
// every warp. Without a callback the estimator is silent.
func (e *Estimator) SetProgressCallback(callback ProgressCallback) {
	e.progressCallback = callback
}

func (e *Estimator) reportProgress(completed, total int, message string) {
	if e.progressCallback != nil {
		e.progressCallback(completed, total, message)
	}
}

// Solve estimates the flow from i1 to i2 with parameters p.
func Solve(i1, i2 *grid.Grid, p Params) (*flow.Field, error) {
	e, err := NewEstimator(p)
	if err != nil {
		return nil, err
	}
	field, _, err := e.Estimate(i1, i2)
	return field, err
}

// Estimate returns the flow field mapping i1 onto i2, sized like the inputs,
// together with one report per pyramid level from coarsest to finest. The
// inputs are not modified.
func (e *Estimator) Estimate(i1, i2 *grid.Grid) (*flow.Field, []LevelReport, error) {
	p := e.params
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if err := validateImages(i1, i2); err != nil {
		return nil, nil, err
	}

	n := workers.Count(p.Workers)
	pyr, err := e.build(i1, i2, pyramid.Options{
		Scale:   p.PyramidScale,
		Levels:  p.Levels,
		MinSize: p.MinSize,
		Workers: n,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "opticflow: building pyramid")
	}

	cfg := p.solverConfig(n)
	total := len(pyr.Levels) * p.WarpIterations
	done := 0
	reports := make([]LevelReport, 0, len(pyr.Levels))

	var field *flow.Field
	for li, lvl := range pyr.Levels {
		w, h := lvl.Width(), lvl.Height()
		if field == nil {
			field = flow.New(w, h)
		} else {
			field, err = flow.Upsample(field, w, h, n)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "opticflow: level %d", li)
			}
		}

		ref := warp.NewDerivatives(lvl.I1, n)
		target := warp.NewDerivatives(lvl.I2, n)
		report := LevelReport{Width: w, Height: h}

		for k := 0; k < p.WarpIterations; k++ {
			warped, err := warp.Warp(target, field.U, field.V, n)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "opticflow: level %d", li)
			}
			level, err := solver.NewLevel(ref, warped, field.U, field.V, cfg)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "opticflow: level %d", li)
			}
			res := level.Solve()
			level.Apply()

			report.Warps++
			report.Outer += res.OuterIterations
			report.Converged = res.Converged
			report.Direct = report.Direct || res.Direct

			done++
			e.reportProgress(done, total, fmt.Sprintf("level %d/%d (%dx%d) warp %d/%d",
				li+1, len(pyr.Levels), w, h, k+1, p.WarpIterations))
		}
		reports = append(reports, report)
	}

	return field, reports, nil
}
