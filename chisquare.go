package posefusion

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// RotationNEES computes the normalized estimation error squared eᵀΣ⁻¹e of every learned rotation, where
// e = Log(C_est ∘ C_gt⁻¹) and Σ is the covariance reported with the estimate. For a consistent predictor, the
// NEES follows a χ² distribution with three degrees of freedom, so its mean should be close to 3.
// Returns the per-rotation NEES and their mean.
func RotationNEES(estimated, groundTruth []SO3, covariances []mat.Symmetric) ([]float64, float64, error) {
	if len(estimated) != len(groundTruth) || len(estimated) != len(covariances) {
		return nil, 0, errors.Errorf("NEES requires as many estimates (%d), ground truths (%d) and covariances (%d)", len(estimated), len(groundTruth), len(covariances))
	}
	if len(estimated) == 0 {
		return nil, 0, errors.New("NEES requires at least one estimate")
	}
	nees := make([]float64, len(estimated))
	for k := range estimated {
		if err := checkSquare(covariances[k], "Σ", 3); err != nil {
			return nil, 0, err
		}
		φ := estimated[k].Compose(groundTruth[k].Inverse()).Log()
		e := mat.NewVecDense(3, []float64{φ.X, φ.Y, φ.Z})

		var chol mat.Cholesky
		if ok := chol.Factorize(covariances[k]); !ok {
			return nil, 0, errors.Errorf("covariance %d is not positive definite", k)
		}
		var ΣInvE mat.VecDense
		if err := chol.SolveVecTo(&ΣInvE, e); err != nil {
			return nil, 0, errors.Wrapf(err, "covariance %d", k)
		}
		nees[k] = mat.Dot(e, &ΣInvE)
	}
	return nees, stat.Mean(nees, nil), nil
}
