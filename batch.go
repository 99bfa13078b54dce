package posefusion

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalEquations accumulates the Gauss-Newton normal equations Λ δ = -N of a single free node.
// Use newNormalEquations to initialize.
type normalEquations struct {
	Λ *mat.SymDense
	N *mat.VecDense
}

func newNormalEquations(size int) *normalEquations {
	return &normalEquations{mat.NewSymDense(size, nil), mat.NewVecDense(size, nil)}
}

// Add accumulates a weighted residual block: Λ += w JᵀJ and N += w Jᵀr.
func (ne *normalEquations) Add(J mat.Matrix, r mat.Vector, w float64) {
	ne.Λ.SymRankK(ne.Λ, w, J.T())
	var JtR mat.VecDense
	JtR.MulVec(J.T(), r)
	ne.N.AddScaledVec(ne.N, w, &JtR)
}

// Step solves the normal equations by Cholesky decomposition, falling back to LU when Λ is not positive
// definite.
func (ne *normalEquations) Step() (Tangent, error) {
	var δ mat.VecDense
	var chol mat.Cholesky
	if ok := chol.Factorize(ne.Λ); ok {
		if err := chol.SolveVecTo(&δ, ne.N); err != nil {
			return Tangent{}, err
		}
	} else if err := δ.SolveVec(ne.Λ, ne.N); err != nil {
		return Tangent{}, err
	}
	var ξ Tangent
	for i := range ξ {
		v := -δ.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Tangent{}, errors.New("non-finite step")
		}
		ξ[i] = v
	}
	return ξ, nil
}

// Covariance returns Λ⁻¹, the first order covariance of the free node in its tangent space.
func (ne *normalEquations) Covariance() (*mat.SymDense, error) {
	var Λinv mat.Dense
	if err := Λinv.Inverse(ne.Λ); err != nil {
		return nil, errors.Wrap(err, "information matrix is singular")
	}
	// Make Λinv symmetric
	return AsSymDense(&Λinv)
}
