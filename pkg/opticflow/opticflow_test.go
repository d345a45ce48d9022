package opticflow

import (
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"tvflow/pkg/flow"
	"tvflow/pkg/grid"
	"tvflow/pkg/penalty"
	"tvflow/pkg/pyramid"
)

// scene samples a smooth pattern with gradients in several orientations,
// shifted by (dx, dy)
func scene(width, height int, dx, dy float64) *grid.Grid {
	g := grid.New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			fx := float64(x) - dx
			fy := float64(y) - dy
			g.Set(x, y, 128+
				40*math.Sin(0.37*fx+0.11*fy)+
				40*math.Cos(0.13*fx-0.41*fy)+
				20*math.Sin(0.29*(fx+fy)))
		}
	}
	return g
}

// testParams is a fast, nearly quadratic configuration
func testParams() Params {
	p := DefaultParams()
	p.Alpha = 0.5
	p.EpsilonData = 1
	p.EpsilonSmooth = 1
	p.Levels = 2
	p.WarpIterations = 3
	p.OuterIterations = 3
	p.InnerIterations = 50
	p.Omega = 1.6
	p.Workers = 2
	return p
}

// interiorEndpointError averages the endpoint error to a constant flow over
// pixels at least margin away from the border and outside skip
func interiorEndpointError(f *flow.Field, u, v float64, margin int, skip func(x, y int) bool) float64 {
	sum, n := 0.0, 0
	for y := margin; y < f.Height()-margin; y++ {
		for x := margin; x < f.Width()-margin; x++ {
			if skip != nil && skip(x, y) {
				continue
			}
			sum += math.Hypot(f.U.At(x, y)-u, f.V.At(x, y)-v)
			n++
		}
	}
	return sum / float64(n)
}

func TestValidateRejectsBadParams(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(p *Params)
		param  string
	}{
		{"zero epsilon_d", func(p *Params) { p.EpsilonData = 0 }, "epsilon_d"},
		{"negative epsilon_s", func(p *Params) { p.EpsilonSmooth = -1 }, "epsilon_s"},
		{"blend above one", func(p *Params) { p.GradBrightWeight = 1.5 }, "w_grad_bright"},
		{"blend NaN", func(p *Params) { p.GradBrightWeight = math.NaN() }, "w_grad_bright"},
		{"negative alpha", func(p *Params) { p.Alpha = -0.1 }, "alpha"},
		{"infinite alpha", func(p *Params) { p.Alpha = math.Inf(1) }, "alpha"},
		{"scale one", func(p *Params) { p.PyramidScale = 1 }, "pyramid_scale"},
		{"negative levels", func(p *Params) { p.Levels = -2 }, "levels"},
		{"zero min size", func(p *Params) { p.MinSize = 0 }, "min_size"},
		{"no warps", func(p *Params) { p.WarpIterations = 0 }, "warp_iterations"},
		{"no outer", func(p *Params) { p.OuterIterations = 0 }, "outer_iterations"},
		{"no inner", func(p *Params) { p.InnerIterations = 0 }, "inner_iterations"},
		{"omega two", func(p *Params) { p.Omega = 2 }, "omega"},
		{"negative tolerance", func(p *Params) { p.Tolerance = -1 }, "tolerance"},
		{"unknown penalty", func(p *Params) { p.DataPenalty = penalty.Kind(99) }, "data_penalty"},
	}

	for _, tc := range testCases {
		p := DefaultParams()
		tc.modify(&p)
		err := p.Validate()
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", tc.name, err)
			continue
		}
		var cerr *ConfigError
		if !errors.As(err, &cerr) {
			t.Errorf("%s: expected *ConfigError, got %T", tc.name, err)
			continue
		}
		if cerr.Param != tc.param {
			t.Errorf("%s: expected param %q, got %q", tc.name, tc.param, cerr.Param)
		}
	}

	if err := DefaultParams().Validate(); err != nil {
		t.Errorf("Default parameters rejected: %v", err)
	}
	if err := testParams().Validate(); err != nil {
		t.Errorf("Test parameters rejected: %v", err)
	}
}

// TestConfigErrorsBeforePyramid ensures that invalid input never reaches the
// pyramid builder
func TestConfigErrorsBeforePyramid(t *testing.T) {
	e, err := NewEstimator(testParams())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	built := false
	e.build = func(i1, i2 *grid.Grid, opts pyramid.Options) (*pyramid.Pyramid, error) {
		built = true
		return pyramid.Build(i1, i2, opts)
	}
	progressed := false
	e.SetProgressCallback(func(completed, total int, message string) { progressed = true })

	img := scene(16, 16, 0, 0)
	nan := img.Clone()
	nan.Set(3, 3, math.NaN())

	inputs := []struct {
		name   string
		i1, i2 *grid.Grid
	}{
		{"mismatched dimensions", img, scene(16, 15, 0, 0)},
		{"empty first", &grid.Grid{}, img},
		{"nil second", img, nil},
		{"short data", img, &grid.Grid{Data: make([]float64, 10), Width: 16, Height: 16}},
		{"NaN sample", img, nan},
	}
	for _, in := range inputs {
		_, _, err := e.Estimate(in.i1, in.i2)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", in.name, err)
		}
	}

	bad := []func(p *Params){
		func(p *Params) { p.EpsilonData = 0 },
		func(p *Params) { p.EpsilonSmooth = -1 },
		func(p *Params) { p.GradBrightWeight = 1.5 },
	}
	for i, modify := range bad {
		e.params = testParams()
		modify(&e.params)
		if _, _, err := e.Estimate(img, img); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Case %d: expected ErrConfiguration, got %v", i, err)
		}
	}

	if built {
		t.Errorf("Pyramid was built for invalid input")
	}
	if progressed {
		t.Errorf("Progress reported for invalid input")
	}

	if _, err := Solve(img, img, Params{}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected zero Params to be rejected, got %v", err)
	}
}

func TestOutputDimensions(t *testing.T) {
	sizes := [][2]int{{1, 1}, {2, 3}, {5, 5}, {13, 9}, {33, 20}}
	for _, s := range sizes {
		i1 := scene(s[0], s[1], 0, 0)
		i2 := scene(s[0], s[1], 0.5, 0.5)
		for _, p := range []Params{DefaultParams(), testParams()} {
			f, err := Solve(i1, i2, p)
			if err != nil {
				t.Fatalf("%dx%d: unexpected error: %v", s[0], s[1], err)
			}
			if f.Width() != s[0] || f.Height() != s[1] || !f.U.SameSize(f.V) {
				t.Errorf("%dx%d: got field %dx%d / %dx%d", s[0], s[1],
					f.U.Width, f.U.Height, f.V.Width, f.V.Height)
			}
			if !f.U.IsFinite() || !f.V.IsFinite() {
				t.Errorf("%dx%d: flow is not finite", s[0], s[1])
			}
		}
	}
}

func TestIdenticalFramesGiveZeroFlow(t *testing.T) {
	img := scene(40, 30, 0, 0)
	for _, p := range []Params{DefaultParams(), testParams()} {
		p.GradBrightWeight = 0.5
		f, err := Solve(img, img.Clone(), p)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		s := f.Stats()
		if s.MaxMagnitude > 1e-9 {
			t.Errorf("Expected zero flow for identical frames, max magnitude %g", s.MaxMagnitude)
		}
	}
}

func TestInputsNotModified(t *testing.T) {
	i1 := scene(20, 20, 0, 0)
	i2 := scene(20, 20, 1, 0)
	c1, c2 := i1.Clone(), i2.Clone()
	if _, err := Solve(i1, i2, testParams()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !i1.Equal(c1) || !i2.Equal(c2) {
		t.Errorf("Solve modified its inputs")
	}
}

// TestTranslationRecovered checks that a sub-pixel shift is found at interior
// pixels
func TestTranslationRecovered(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end solve in short mode")
	}

	const dx, dy = 0.6, -0.4
	i1 := scene(64, 64, 0, 0)
	i2 := scene(64, 64, dx, dy)

	f, err := Solve(i1, i2, testParams())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	epe := interiorEndpointError(f, dx, dy, 8, nil)
	if epe > 0.15 {
		t.Errorf("Expected interior endpoint error below 0.15, got %f", epe)
	}
}

// smoothScene is a low-frequency pattern that stays unaliased on coarse
// pyramid levels
func smoothScene(width, height int, dx, dy float64) *grid.Grid {
	g := grid.New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			fx := float64(x) - dx
			fy := float64(y) - dy
			g.Set(x, y, 128+
				40*math.Sin(0.15*fx+0.05*fy)+
				40*math.Cos(0.06*fx-0.17*fy)+
				20*math.Sin(0.11*(fx+fy)))
		}
	}
	return g
}

// TestLargeDisplacementNeedsPyramid checks that a shift of several pixels is
// recovered coarse to fine and missed on a single level
func TestLargeDisplacementNeedsPyramid(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end solve in short mode")
	}

	const dx, dy = 6.0, 0.0
	i1 := smoothScene(96, 96, 0, 0)
	i2 := smoothScene(96, 96, dx, dy)

	p := DefaultParams()
	p.Workers = 2
	e, err := NewEstimator(p)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	f, reports, err := e.Estimate(i1, i2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(reports) != 5 {
		t.Errorf("Expected 5 pyramid levels for 96x96, got %d", len(reports))
	}
	epe := interiorEndpointError(f, dx, dy, 16, nil)
	if epe > 0.5 {
		t.Errorf("Expected interior endpoint error below 0.5, got %f", epe)
	}

	p.Levels = 1
	single, err := Solve(i1, i2, p)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	singleEPE := interiorEndpointError(single, dx, dy, 16, nil)
	if singleEPE <= epe {
		t.Errorf("Expected a single level to do worse than the pyramid, got %f vs %f", singleEPE, epe)
	}
}

// TestRobustDataTermResistsOutliers corrupts a patch of the second frame and
// compares a robust data term against its quadratic limit
func TestRobustDataTermResistsOutliers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end solve in short mode")
	}

	const dx, dy = 0.5, 0.3
	i1 := scene(48, 48, 0, 0)
	i2 := scene(48, 48, dx, dy)
	inPatch := func(x, y int) bool { return x >= 18 && x < 30 && y >= 18 && y < 30 }
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			if inPatch(x, y) {
				i2.Set(x, y, 0)
			}
		}
	}

	p := testParams()
	p.Alpha = 1
	p.Levels = 1
	p.SmoothPenalty = penalty.Homogeneous
	p.OuterIterations = 10
	p.InnerIterations = 100

	robust := p
	robust.EpsilonData = 0.1
	quadratic := p
	quadratic.EpsilonData = 1e4

	fr, err := Solve(i1, i2, robust)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	fq, err := Solve(i1, i2, quadratic)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	epeRobust := interiorEndpointError(fr, dx, dy, 4, inPatch)
	epeQuadratic := interiorEndpointError(fq, dx, dy, 4, inPatch)
	if !(epeRobust < epeQuadratic) {
		t.Errorf("Expected robust error %f below quadratic error %f", epeRobust, epeQuadratic)
	}
	if epeRobust > 0.25 {
		t.Errorf("Expected robust error below 0.25 outside the patch, got %f", epeRobust)
	}
}

func TestProgressAndReports(t *testing.T) {
	p := testParams()
	p.Levels = 0
	p.WarpIterations = 2
	e, err := NewEstimator(p)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var calls, lastCompleted, lastTotal int
	e.SetProgressCallback(func(completed, total int, message string) {
		calls++
		lastCompleted, lastTotal = completed, total
		if message == "" {
			t.Errorf("Expected a progress message")
		}
	})

	f, reports, err := e.Estimate(scene(40, 24, 0, 0), scene(40, 24, 1, 0))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	levels := pyramid.MaxLevels(40, 24, p.PyramidScale, p.MinSize)
	if len(reports) != levels {
		t.Fatalf("Expected %d level reports, got %d", levels, len(reports))
	}
	if calls != levels*2 || lastCompleted != lastTotal || lastTotal != levels*2 {
		t.Errorf("Unexpected progress: %d calls, last %d/%d", calls, lastCompleted, lastTotal)
	}
	last := reports[len(reports)-1]
	if last.Width != f.Width() || last.Height != f.Height() || last.Warps != 2 {
		t.Errorf("Unexpected finest report %+v", last)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].Width <= reports[i-1].Width {
			t.Errorf("Reports not ordered coarse to fine: %+v", reports)
		}
	}
}

func TestDirectSolveOnSmallLevels(t *testing.T) {
	p := testParams()
	p.Levels = 0
	p.DirectSolveMaxPixels = 64
	e, err := NewEstimator(p)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	_, reports, err := e.Estimate(scene(40, 40, 0, 0), scene(40, 40, 0.5, 0.5))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reports[0].Direct {
		t.Errorf("Expected direct solve on the %dx%d coarsest level", reports[0].Width, reports[0].Height)
	}
	if reports[len(reports)-1].Direct {
		t.Errorf("Expected relaxation on the finest level")
	}
}

// TestConcurrentSolvesIndependent runs two estimations at once and compares
// them with sequential runs
func TestConcurrentSolvesIndependent(t *testing.T) {
	pairs := [][2]*grid.Grid{
		{scene(30, 22, 0, 0), scene(30, 22, 0.5, 0)},
		{scene(25, 25, 0, 0), scene(25, 25, -0.3, 0.4)},
	}
	p := testParams()

	sequential := make([]*flow.Field, len(pairs))
	for i, pair := range pairs {
		f, err := Solve(pair[0], pair[1], p)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		sequential[i] = f
	}

	concurrent := make([]*flow.Field, len(pairs))
	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i, pair := range pairs {
		wg.Add(1)
		go func(i int, i1, i2 *grid.Grid) {
			defer wg.Done()
			concurrent[i], errs[i] = Solve(i1, i2, p)
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	for i := range pairs {
		if errs[i] != nil {
			t.Fatalf("Unexpected error: %v", errs[i])
		}
		if !concurrent[i].U.Equal(sequential[i].U) || !concurrent[i].V.Equal(sequential[i].V) {
			t.Errorf("Pair %d: concurrent result differs from sequential", i)
		}
	}
}
