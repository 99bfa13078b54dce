package posefusion

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Loss is a robust cost applied to the norm x of a weighted residual. Weight returns ρ'(x)/x, which is the
// scalar used to reweight the residual block when forming the normal equations.
type Loss interface {
	Cost(x float64) float64
	Weight(x float64) float64
	String() string
}

// L2Loss is plain least squares.
type L2Loss struct{}

// Cost implements the Loss interface.
func (L2Loss) Cost(x float64) float64 { return 0.5 * x * x }

// Weight implements the Loss interface.
func (L2Loss) Weight(float64) float64 { return 1 }

func (L2Loss) String() string { return "L2" }

// HuberLoss is quadratic up to K and linear beyond.
type HuberLoss struct {
	K float64
}

// Cost implements the Loss interface.
func (l HuberLoss) Cost(x float64) float64 {
	ax := math.Abs(x)
	if ax <= l.K {
		return 0.5 * x * x
	}
	return l.K * (ax - 0.5*l.K)
}

// Weight implements the Loss interface.
func (l HuberLoss) Weight(x float64) float64 {
	ax := math.Abs(x)
	if ax <= l.K {
		return 1
	}
	return l.K / ax
}

func (l HuberLoss) String() string { return fmt.Sprintf("Huber(%g)", l.K) }

// CauchyLoss grows logarithmically beyond C.
type CauchyLoss struct {
	C float64
}

// Cost implements the Loss interface.
func (l CauchyLoss) Cost(x float64) float64 {
	r := x / l.C
	return 0.5 * l.C * l.C * math.Log1p(r*r)
}

// Weight implements the Loss interface.
func (l CauchyLoss) Weight(x float64) float64 {
	r := x / l.C
	return 1 / (1 + r*r)
}

func (l CauchyLoss) String() string { return fmt.Sprintf("Cauchy(%g)", l.C) }

// TDistributionLoss is the negative log-likelihood of a Student-t distribution with DOF degrees of freedom
// (Kerl et al., ICRA 2013).
type TDistributionLoss struct {
	DOF float64
}

// Cost implements the Loss interface.
func (l TDistributionLoss) Cost(x float64) float64 {
	return 0.5 * (l.DOF + 1) * math.Log1p(x*x/l.DOF)
}

// Weight implements the Loss interface.
func (l TDistributionLoss) Weight(x float64) float64 {
	return (l.DOF + 1) / (l.DOF + x*x)
}

func (l TDistributionLoss) String() string { return fmt.Sprintf("TDistribution(%g)", l.DOF) }

// NewLoss returns the loss of the provided name: "l2" (or empty), "huber", "cauchy" or "tdist".
// The parameter is ignored by the L2 loss and must be strictly positive otherwise.
func NewLoss(name string, param float64) (Loss, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "l2" {
		return L2Loss{}, nil
	}
	if !(param > 0) || math.IsInf(param, 0) {
		return nil, errors.Errorf("loss %q requires a positive parameter, got %g", name, param)
	}
	switch name {
	case "huber":
		return HuberLoss{param}, nil
	case "cauchy":
		return CauchyLoss{param}, nil
	case "tdist", "t", "student":
		return TDistributionLoss{param}, nil
	default:
		return nil, errors.Errorf("unknown loss %q", name)
	}
}
