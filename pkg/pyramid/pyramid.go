// Package pyramid builds the coarse-to-fine image pyramids used by the
// warping scheme.
package pyramid

import (
	"math"

	"github.com/pkg/errors"

	"tvflow/pkg/grid"
)

// DefaultMinSize is the smallest width or height a coarse level may have.
const DefaultMinSize = 4

// maxDepth bounds the level count for scale factors close to one.
const maxDepth = 200

// Options control the pyramid shape
type Options struct {
	// Scale is the size ratio between consecutive levels, in (0,1).
	Scale float64
	// Levels caps the number of levels including the finest; 0 means as many
	// as MinSize allows.
	Levels int
	// MinSize is the minimum width and height of any coarse level.
	MinSize int
	// Workers is the number of goroutines used for blurring and resampling.
	Workers int
}

// Level holds both frames at one resolution.
type Level struct {
	I1, I2 *grid.Grid
	// Scale is the level size relative to full resolution.
	Scale float64
}

// Width of the level images
func (l Level) Width() int { return l.I1.Width }

// Height of the level images
func (l Level) Height() int { return l.I1.Height }

// Pyramid is an ordered sequence of levels; Levels[0] is the coarsest and the
// last entry is the full-resolution input.
type Pyramid struct {
	Levels []Level
}

// Finest returns the full-resolution level.
func (p *Pyramid) Finest() Level { return p.Levels[len(p.Levels)-1] }

// Coarsest returns the smallest level.
func (p *Pyramid) Coarsest() Level { return p.Levels[0] }

// LevelSize returns the dimensions of level l counted from the finest:
// ceil(width·scale^l) x ceil(height·scale^l).
func LevelSize(width, height int, scale float64, l int) (int, int) {
	f := math.Pow(scale, float64(l))
	return int(math.Ceil(float64(width) * f)), int(math.Ceil(float64(height) * f))
}

// Sizes lists the distinct level dimensions from the finest to the coarsest.
// Level l has size LevelSize(width, height, scale, l); sizes repeated by the
// rounding are skipped and the list ends before either dimension drops below
// minSize. The finest size is always included.
func Sizes(width, height int, scale float64, minSize int) [][2]int {
	if width <= 0 || height <= 0 || !(scale > 0 && scale < 1) {
		return nil
	}
	if minSize < 1 {
		minSize = 1
	}
	sizes := [][2]int{{width, height}}
	for l := 1; l < maxDepth; l++ {
		w, h := LevelSize(width, height, scale, l)
		if w < minSize || h < minSize {
			break
		}
		last := sizes[len(sizes)-1]
		if w == last[0] && h == last[1] {
			continue
		}
		sizes = append(sizes, [2]int{w, h})
	}
	return sizes
}

// MaxLevels reports how many levels a width x height image supports.
func MaxLevels(width, height int, scale float64, minSize int) int {
	return len(Sizes(width, height, scale, minSize))
}

// Build returns the pyramid for the image pair. Each coarser level is obtained
// from the next finer one by an anti-aliasing Gaussian blur with
// sigma = 0.5*sqrt(1/scale² - 1) followed by bilinear resampling. The finest
// level holds unmodified copies of i1 and i2.
func Build(i1, i2 *grid.Grid, opts Options) (*Pyramid, error) {
	if i1.Empty() || i2.Empty() {
		return nil, errors.New("pyramid: empty image")
	}
	if !i1.SameSize(i2) {
		return nil, errors.Wrapf(grid.ErrSizeMismatch, "pyramid: images %dx%d and %dx%d",
			i1.Width, i1.Height, i2.Width, i2.Height)
	}
	if !(opts.Scale > 0 && opts.Scale < 1) {
		return nil, errors.Errorf("pyramid: scale %v outside (0,1)", opts.Scale)
	}
	if opts.Levels < 0 {
		return nil, errors.Errorf("pyramid: negative level count %d", opts.Levels)
	}
	minSize := opts.MinSize
	if minSize <= 0 {
		minSize = DefaultMinSize
	}

	sizes := Sizes(i1.Width, i1.Height, opts.Scale, minSize)
	n := len(sizes)
	if opts.Levels > 0 && opts.Levels < n {
		n = opts.Levels
	}

	sigma := 0.5 * math.Sqrt(1/(opts.Scale*opts.Scale)-1)
	levels := make([]Level, n)
	cur := Level{I1: i1.Clone(), I2: i2.Clone(), Scale: 1}
	levels[n-1] = cur

	for l := 1; l < n; l++ {
		w, h := sizes[l][0], sizes[l][1]
		next := Level{
			I1:    cur.I1.GaussianBlur(sigma, opts.Workers).Resample(w, h, opts.Workers),
			I2:    cur.I2.GaussianBlur(sigma, opts.Workers).Resample(w, h, opts.Workers),
			Scale: float64(w) / float64(i1.Width),
		}
		levels[n-1-l] = next
		cur = next
	}

	return &Pyramid{Levels: levels}, nil
}
