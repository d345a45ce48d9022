package opticflow

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"tvflow/pkg/grid"
	"tvflow/pkg/penalty"
	"tvflow/pkg/solver"
)

// ErrConfiguration is the sentinel all configuration errors unwrap to.
var ErrConfiguration = errors.New("opticflow: invalid configuration")

// ConfigError describes a rejected parameter or input.
type ConfigError struct {
	Param  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("opticflow: invalid %s (%v): %s", e.Param, e.Value, e.Reason)
}

// Unwrap makes errors.Is(err, ErrConfiguration) hold.
func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configError(param string, value interface{}, reason string) error {
	return errors.WithStack(&ConfigError{Param: param, Value: value, Reason: reason})
}

// Params configures one flow estimation
type Params struct {
	// Energy weights
	Alpha            float64 // Smoothness weight, >= 0
	GradBrightWeight float64 // Brightness (1) versus gradient (0) constancy, in [0,1]
	EpsilonData      float64 // Contrast parameter of the data penalty, > 0
	EpsilonSmooth    float64 // Contrast parameter of the smoothness penalty, > 0

	DataPenalty   penalty.Kind // Robust penalty of the data term
	SmoothPenalty penalty.Kind // Robust penalty of the smoothness term
	NormalizeData bool         // Normalise constancy residuals by gradient magnitude

	// Pyramid
	PyramidScale float64 // Size ratio between levels, in (0,1)
	Levels       int     // Maximum number of levels, 0 for as many as MinSize allows
	MinSize      int     // Smallest level width/height

	// Iterations
	WarpIterations  int     // Re-warps per level
	OuterIterations int     // Robust weight updates per warp
	InnerIterations int     // SOR sweeps per weight update
	Omega           float64 // SOR relaxation factor, in (0,2)
	Tolerance       float64 // RMS increment change that ends the outer loop, 0 disables

	DirectSolveMaxPixels int // Solve levels up to this size with Cholesky, 0 disables
	Workers              int // Goroutines per pass, < 1 uses all CPUs
}

// DefaultParams returns α=5 with brightness constancy only and
// ε_d = ε_s = 0.01, solved on a half-scale pyramid with one warp, five
// outer and thirty inner iterations per level.
func DefaultParams() Params {
	return Params{
		Alpha:                5,
		GradBrightWeight:     1,
		EpsilonData:          0.01,
		EpsilonSmooth:        0.01,
		DataPenalty:          penalty.Charbonnier,
		SmoothPenalty:        penalty.Charbonnier,
		NormalizeData:        true,
		PyramidScale:         0.5,
		Levels:               0,
		MinSize:              4,
		WarpIterations:       1,
		OuterIterations:      5,
		InnerIterations:      30,
		Omega:                1.9,
		Tolerance:            0,
		DirectSolveMaxPixels: 0,
		Workers:              0,
	}
}

// Validate rejects parameters the solver cannot run with. Values are never
// clamped.
func (p Params) Validate() error {
	switch {
	case math.IsNaN(p.Alpha) || math.IsInf(p.Alpha, 0) || p.Alpha < 0:
		return configError("alpha", p.Alpha, "must be finite and >= 0")
	case !(p.GradBrightWeight >= 0 && p.GradBrightWeight <= 1):
		return configError("w_grad_bright", p.GradBrightWeight, "must lie in [0,1]")
	case !(p.EpsilonData > 0) || math.IsInf(p.EpsilonData, 0):
		return configError("epsilon_d", p.EpsilonData, "must be finite and > 0")
	case !(p.EpsilonSmooth > 0) || math.IsInf(p.EpsilonSmooth, 0):
		return configError("epsilon_s", p.EpsilonSmooth, "must be finite and > 0")
	case !(p.PyramidScale > 0 && p.PyramidScale < 1):
		return configError("pyramid_scale", p.PyramidScale, "must lie in (0,1)")
	case p.Levels < 0:
		return configError("levels", p.Levels, "must be >= 0")
	case p.MinSize < 1:
		return configError("min_size", p.MinSize, "must be >= 1")
	case p.WarpIterations < 1:
		return configError("warp_iterations", p.WarpIterations, "must be >= 1")
	case p.OuterIterations < 1:
		return configError("outer_iterations", p.OuterIterations, "must be >= 1")
	case p.InnerIterations < 1:
		return configError("inner_iterations", p.InnerIterations, "must be >= 1")
	case !(p.Omega > 0 && p.Omega < 2):
		return configError("omega", p.Omega, "must lie in (0,2)")
	case !(p.Tolerance >= 0) || math.IsInf(p.Tolerance, 0):
		return configError("tolerance", p.Tolerance, "must be finite and >= 0")
	case p.DirectSolveMaxPixels < 0:
		return configError("direct_solve_max_pixels", p.DirectSolveMaxPixels, "must be >= 0")
	}
	if _, err := penalty.New(p.DataPenalty, p.EpsilonData); err != nil {
		return configError("data_penalty", p.DataPenalty, err.Error())
	}
	if _, err := penalty.New(p.SmoothPenalty, p.EpsilonSmooth); err != nil {
		return configError("smooth_penalty", p.SmoothPenalty, err.Error())
	}
	return nil
}

// solverConfig builds the per-level configuration. p must be valid.
func (p Params) solverConfig(workers int) solver.Config {
	return solver.Config{
		Alpha:                p.Alpha,
		GradBrightWeight:     p.GradBrightWeight,
		Data:                 penalty.Penalty{Kind: p.DataPenalty, Epsilon: p.EpsilonData},
		Smooth:               penalty.Penalty{Kind: p.SmoothPenalty, Epsilon: p.EpsilonSmooth},
		NormalizeData:        p.NormalizeData,
		InnerIterations:      p.InnerIterations,
		OuterIterations:      p.OuterIterations,
		Omega:                p.Omega,
		Tolerance:            p.Tolerance,
		DirectSolveMaxPixels: p.DirectSolveMaxPixels,
		Workers:              workers,
	}
}

// validateImages checks that the frames are non-empty, equally sized and
// hold only finite samples.
func validateImages(i1, i2 *grid.Grid) error {
	if i1.Empty() {
		return configError("image1", "empty", "must have positive dimensions")
	}
	if i2.Empty() {
		return configError("image2", "empty", "must have positive dimensions")
	}
	if len(i1.Data) != i1.Width*i1.Height {
		return configError("image1", len(i1.Data), "sample count does not match dimensions")
	}
	if len(i2.Data) != i2.Width*i2.Height {
		return configError("image2", len(i2.Data), "sample count does not match dimensions")
	}
	if !i1.SameSize(i2) {
		return configError("image2", fmt.Sprintf("%dx%d", i2.Width, i2.Height),
			fmt.Sprintf("must match image1 (%dx%d)", i1.Width, i1.Height))
	}
	if !i1.IsFinite() {
		return configError("image1", "non-finite", "samples must be finite")
	}
	if !i2.IsFinite() {
		return configError("image2", "non-finite", "samples must be finite")
	}
	return nil
}
