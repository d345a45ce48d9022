package flow

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// UnknownThreshold marks ground-truth vectors as unknown when either
// component reaches it in magnitude.
const UnknownThreshold = 1e9

// ErrNoValidPixels is returned when a ground truth has no usable vectors.
var ErrNoValidPixels = errors.New("flow: ground truth has no valid vectors")

// Known reports whether a ground-truth vector carries a measurement.
func Known(u, v float64) bool {
	if math.IsNaN(u) || math.IsNaN(v) {
		return false
	}
	return math.Abs(u) < UnknownThreshold && math.Abs(v) < UnknownThreshold
}

// AngularError returns the average angular error in degrees between the
// space-time vectors (u, v, 1) of est and truth. Unknown truth vectors are
// skipped.
func AngularError(est, truth *Field) (float64, error) {
	errs, err := perPixel(est, truth, func(u, v, tu, tv float64) float64 {
		num := u*tu + v*tv + 1
		den := math.Sqrt((u*u + v*v + 1) * (tu*tu + tv*tv + 1))
		c := num / den
		if c > 1 {
			c = 1
		} else if c < -1 {
			c = -1
		}
		return math.Acos(c) * 180 / math.Pi
	})
	if err != nil {
		return 0, err
	}
	return stat.Mean(errs, nil), nil
}

// EndpointError returns the mean Euclidean distance between est and truth.
func EndpointError(est, truth *Field) (float64, error) {
	errs, err := perPixel(est, truth, func(u, v, tu, tv float64) float64 {
		return math.Hypot(u-tu, v-tv)
	})
	if err != nil {
		return 0, err
	}
	return stat.Mean(errs, nil), nil
}

func perPixel(est, truth *Field, fn func(u, v, tu, tv float64) float64) ([]float64, error) {
	if err := est.Validate(); err != nil {
		return nil, err
	}
	if err := truth.Validate(); err != nil {
		return nil, err
	}
	if !est.U.SameSize(truth.U) {
		return nil, errors.Errorf("flow: estimate %dx%d and truth %dx%d differ",
			est.Width(), est.Height(), truth.Width(), truth.Height())
	}

	errs := make([]float64, 0, len(est.U.Data))
	for i := range est.U.Data {
		tu, tv := truth.U.Data[i], truth.V.Data[i]
		if !Known(tu, tv) {
			continue
		}
		errs = append(errs, fn(est.U.Data[i], est.V.Data[i], tu, tv))
	}
	if len(errs) == 0 {
		return nil, ErrNoValidPixels
	}
	return errs, nil
}
