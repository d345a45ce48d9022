// Package penalty implements the robust penalty functions used by the data and
// smoothness terms of the variational flow energy.
//
// Each penalty Ψ is evaluated on a squared residual s2. Weight returns the
// derivative form used by the fixed-point solver (the "diffusivity"),
// normalised so that Weight(s2) = 2·dΨ/ds2. Every kind is bounded for s2 ≥ 0
// because Epsilon is required to be strictly positive.
package penalty

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ErrNonPositiveEpsilon is returned when a penalty is built with epsilon <= 0.
var ErrNonPositiveEpsilon = errors.New("penalty: epsilon must be strictly positive")

// Kind selects the penalty function
type Kind int

const (
	// Charbonnier is Ψ(s2) = ε²·sqrt(1 + s2/ε²), weight 1/sqrt(1 + s2/ε²).
	// Quadratic for s2 << ε², L1-like for s2 >> ε².
	Charbonnier Kind = iota
	// TV is Ψ(s2) = sqrt(s2 + ε²), weight 1/sqrt(s2 + ε²).
	TV
	// PeronaMalik is Ψ(s2) = ε²/2·ln(1 + s2/ε²), weight ε²/(ε² + s2).
	PeronaMalik
	// Homogeneous is the quadratic penalty Ψ(s2) = s2/2, weight 1.
	Homogeneous
)

var kindNames = map[Kind]string{
	Charbonnier: "charbonnier",
	TV:          "tv",
	PeronaMalik: "perona-malik",
	Homogeneous: "homogeneous",
}

// String returns the lower-case name used in configuration files.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k, s := range kindNames {
		if s == n {
			return k, nil
		}
	}
	switch n {
	case "", "default":
		return Charbonnier, nil
	case "pm", "peronamalik":
		return PeronaMalik, nil
	case "quadratic", "l2":
		return Homogeneous, nil
	}
	return 0, errors.Errorf("penalty: unknown kind %q", name)
}

// Penalty is a robust penalty with its contrast parameter.
type Penalty struct {
	Kind    Kind
	Epsilon float64
}

// New returns a penalty of the given kind. epsilon must be > 0 and finite.
func New(kind Kind, epsilon float64) (Penalty, error) {
	if !(epsilon > 0) || math.IsInf(epsilon, 0) {
		return Penalty{}, errors.Wrapf(ErrNonPositiveEpsilon, "got %v", epsilon)
	}
	if _, ok := kindNames[kind]; !ok {
		return Penalty{}, errors.Errorf("penalty: unknown kind %d", int(kind))
	}
	return Penalty{Kind: kind, Epsilon: epsilon}, nil
}

// Weight returns the robust weight for the squared residual s2.
// Negative s2 from round-off is treated as zero.
func (p Penalty) Weight(s2 float64) float64 {
	if s2 < 0 {
		s2 = 0
	}
	e2 := p.Epsilon * p.Epsilon
	switch p.Kind {
	case TV:
		return 1 / math.Sqrt(s2+e2)
	case PeronaMalik:
		return e2 / (e2 + s2)
	case Homogeneous:
		return 1
	default:
		return 1 / math.Sqrt(s2/e2+1)
	}
}

// Value returns Ψ(s2), used for energy diagnostics.
func (p Penalty) Value(s2 float64) float64 {
	if s2 < 0 {
		s2 = 0
	}
	e2 := p.Epsilon * p.Epsilon
	switch p.Kind {
	case TV:
		return math.Sqrt(s2 + e2)
	case PeronaMalik:
		return 0.5 * e2 * math.Log1p(s2/e2)
	case Homogeneous:
		return 0.5 * s2
	default:
		return e2 * math.Sqrt(1+s2/e2)
	}
}
