package posefusion

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Calibration stores the rotation-error statistics of a rotation predictor, computed once from a set of
// (estimated, ground truth) pairs.
type Calibration struct {
	Covariance *mat.SymDense // Sample covariance of the tangent-space errors (3x3).
	Bias       SO3           // Exponential of the elementwise median error.
	Errors     []r3.Vector   // Log(C_est ∘ C_gt⁻¹) for each pair.
}

// Calibrate computes the rotation-error statistics of the provided pairs. At least two pairs are required and
// every error must be finite.
func Calibrate(estimated, groundTruth []SO3) (*Calibration, error) {
	if len(estimated) != len(groundTruth) {
		return nil, errors.Wrapf(ErrCalibration, "%d estimated rotations for %d ground truth rotations", len(estimated), len(groundTruth))
	}
	n := len(estimated)
	if n < 2 {
		return nil, errors.Wrapf(ErrCalibration, "at least two pairs are required, got %d", n)
	}

	errs := make([]r3.Vector, n)
	samples := mat.NewDense(n, 3, nil)
	for i := range estimated {
		e := estimated[i].Compose(groundTruth[i].Inverse()).Log()
		if !finiteVector(e) {
			return nil, errors.Wrapf(ErrCalibration, "non-finite rotation error at pair %d", i)
		}
		errs[i] = e
		samples.SetRow(i, []float64{e.X, e.Y, e.Z})
	}

	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, samples, nil)

	var median [3]float64
	for j := 0; j < 3; j++ {
		m, err := stats.Median(mat.Col(nil, j, samples))
		if err != nil {
			return nil, errors.Wrap(ErrCalibration, err.Error())
		}
		median[j] = m
	}
	return &Calibration{
		Covariance: cov,
		Bias:       ExpSO3(r3.Vector{X: median[0], Y: median[1], Z: median[2]}),
		Errors:     errs,
	}, nil
}

// Len returns the number of pairs used for this calibration.
func (c *Calibration) Len() int {
	return len(c.Errors)
}

func (c *Calibration) String() string {
	return fmt.Sprintf("calibration over %d pairs: bias %.3g rad, covariance\n%v", c.Len(), c.Bias.Angle(), mat.Formatted(c.Covariance, mat.Prefix("  ")))
}

func finiteVector(v r3.Vector) bool {
	for _, x := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
