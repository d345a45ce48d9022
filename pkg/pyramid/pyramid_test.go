package pyramid

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"tvflow/pkg/grid"
)

func pattern(width, height int) *grid.Grid {
	g := grid.New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.Set(x, y, 100+50*math.Sin(float64(x)/3)*math.Cos(float64(y)/4))
		}
	}
	return g
}

func TestMaxLevels(t *testing.T) {
	testCases := []struct {
		width, height int
		scale         float64
		minSize       int
		expected      int
	}{
		{64, 64, 0.5, 4, 5},  // 64 32 16 8 4
		{64, 48, 0.5, 4, 4},  // 48 24 12 6 (3 is too small)
		{100, 75, 0.5, 4, 5}, // 75 38 19 10 5
		{3, 3, 0.5, 4, 1},    // finest always counts
		{8, 8, 0.5, 1, 4},    // 8 4 2 1, then no further shrinking
		{10, 10, 0.9, 4, 7},  // 10 9 8 7 6 5 4, repeats skipped
	}

	for _, tc := range testCases {
		got := MaxLevels(tc.width, tc.height, tc.scale, tc.minSize)
		if got != tc.expected {
			t.Errorf("MaxLevels(%d,%d,%.2f,%d): expected %d, got %d",
				tc.width, tc.height, tc.scale, tc.minSize, tc.expected, got)
		}
	}

	if MaxLevels(10, 10, 1, 4) != 0 || MaxLevels(0, 10, 0.5, 4) != 0 {
		t.Errorf("Expected 0 levels for invalid input")
	}
}

func TestBuildLevelSizes(t *testing.T) {
	i1 := pattern(50, 37)
	i2 := pattern(50, 37)
	p, err := Build(i1, i2, Options{Scale: 0.5, MinSize: 4, Workers: 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 50x37, 25x19, 13x10, 7x5
	if len(p.Levels) != 4 {
		t.Fatalf("Expected 4 levels, got %d", len(p.Levels))
	}
	for i, lvl := range p.Levels {
		l := len(p.Levels) - 1 - i
		w, h := LevelSize(50, 37, 0.5, l)
		if lvl.Width() != w || lvl.Height() != h {
			t.Errorf("Level %d: expected %dx%d, got %dx%d", i, w, h, lvl.Width(), lvl.Height())
		}
		if !lvl.I1.SameSize(lvl.I2) {
			t.Errorf("Level %d: frames differ in size", i)
		}
		if i > 0 && lvl.Scale <= p.Levels[i-1].Scale {
			t.Errorf("Level %d: scale %f not larger than coarser level %f", i, lvl.Scale, p.Levels[i-1].Scale)
		}
	}
	if p.Finest().Scale != 1 {
		t.Errorf("Expected finest scale 1, got %f", p.Finest().Scale)
	}
}

// TestBuildFinestIsExactCopy checks that full resolution is neither blurred
// nor aliased to the caller's data
func TestBuildFinestIsExactCopy(t *testing.T) {
	i1 := pattern(32, 32)
	i2 := pattern(32, 32)
	i2.Scale(0.5)

	p, err := Build(i1, i2, Options{Scale: 0.5, Levels: 3})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(p.Levels) != 3 {
		t.Fatalf("Expected 3 levels, got %d", len(p.Levels))
	}
	f := p.Finest()
	if !f.I1.Equal(i1) || !f.I2.Equal(i2) {
		t.Errorf("Finest level differs from the input")
	}
	f.I1.Set(0, 0, -1)
	if i1.At(0, 0) == -1 {
		t.Errorf("Finest level aliases the input image")
	}
	if p.Coarsest().Width() != 8 {
		t.Errorf("Expected coarsest width 8, got %d", p.Coarsest().Width())
	}
}

func TestBuildPreservesConstant(t *testing.T) {
	i1 := grid.New(40, 30)
	i1.Fill(12)
	p, err := Build(i1, i1, Options{Scale: 0.6})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for li, lvl := range p.Levels {
		for _, v := range lvl.I1.Data {
			if math.Abs(v-12) > 1e-9 {
				t.Fatalf("Level %d: expected 12, got %f", li, v)
			}
		}
	}
}

func TestBuildErrors(t *testing.T) {
	a := pattern(10, 10)
	testCases := []struct {
		name string
		i1   *grid.Grid
		i2   *grid.Grid
		opts Options
	}{
		{"mismatch", a, pattern(10, 9), Options{Scale: 0.5}},
		{"empty", &grid.Grid{}, &grid.Grid{}, Options{Scale: 0.5}},
		{"scale one", a, a, Options{Scale: 1}},
		{"scale zero", a, a, Options{Scale: 0}},
		{"negative levels", a, a, Options{Scale: 0.5, Levels: -1}},
	}
	for _, tc := range testCases {
		if _, err := Build(tc.i1, tc.i2, tc.opts); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}

	_, err := Build(a, pattern(9, 10), Options{Scale: 0.5})
	if !errors.Is(err, grid.ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch, got %v", err)
	}
}
