package posefusion

import (
	"gonum.org/v1/gonum/mat"
)

// Residual is a weighted error term between two pose nodes A and B, where B∘A⁻¹ is the relative transform
// being observed.
type Residual interface {
	// Dim returns the number of rows of the residual.
	Dim() int
	// Evaluate returns the weighted residual and its Jacobians (Dim x 6) with respect to a left perturbation
	// X ← Exp(δ)∘X of each node.
	Evaluate(A, B SE3) (r *mat.VecDense, jA, jB *mat.Dense)
}

// PoseResidual is the full 6-DOF pose-to-pose residual W·Log(B∘A⁻¹∘T_obs⁻¹).
type PoseResidual struct {
	Observed  SE3
	Stiffness mat.Matrix // 6x6
}

// NewPoseResidual returns a new pose-to-pose residual for the observed relative transform T21 and the
// provided stiffness (inverse square root of the covariance).
func NewPoseResidual(T21 SE3, stiffness mat.Matrix) (*PoseResidual, error) {
	if err := checkSquare(stiffness, "stiffness", 6); err != nil {
		return nil, err
	}
	return &PoseResidual{T21, stiffness}, nil
}

// Dim implements the Residual interface.
func (*PoseResidual) Dim() int { return 6 }

// Evaluate implements the Residual interface.
func (p *PoseResidual) Evaluate(A, B SE3) (*mat.VecDense, *mat.Dense, *mat.Dense) {
	est := B.Compose(A.Inverse())
	e := est.Compose(p.Observed.Inverse()).Log()

	var r mat.VecDense
	r.MulVec(p.Stiffness, e.Vec())

	var jB mat.Dense
	jB.Mul(p.Stiffness, InvLeftJacobianSE3(e))
	var jA mat.Dense
	jA.Mul(&jB, est.Adjoint())
	jA.Scale(-1, &jA)
	return &r, &jA, &jB
}

// OrientationResidual is the 3-DOF pose-to-pose orientation residual W·Log(C_B∘C_A⁻¹∘C_obs⁻¹). The
// translations of both nodes are left unconstrained.
type OrientationResidual struct {
	Observed  SO3
	Stiffness mat.Matrix // 3x3
}

// NewOrientationResidual returns a new orientation residual for the observed relative rotation C21 and the
// provided stiffness.
func NewOrientationResidual(C21 SO3, stiffness mat.Matrix) (*OrientationResidual, error) {
	if err := checkSquare(stiffness, "stiffness", 3); err != nil {
		return nil, err
	}
	return &OrientationResidual{C21, stiffness}, nil
}

// Dim implements the Residual interface.
func (*OrientationResidual) Dim() int { return 3 }

// Evaluate implements the Residual interface.
func (o *OrientationResidual) Evaluate(A, B SE3) (*mat.VecDense, *mat.Dense, *mat.Dense) {
	est := B.Rot.Compose(A.Rot.Inverse())
	φ := est.Compose(o.Observed.Inverse()).Log()

	var r mat.VecDense
	r.MulVec(o.Stiffness, mat.NewVecDense(3, []float64{φ.X, φ.Y, φ.Z}))

	var dφ mat.Dense
	dφ.Mul(o.Stiffness, InvLeftJacobianSO3(φ))
	jB := mat.NewDense(3, 6, nil)
	setBlock(jB, 0, 3, &dφ)

	var dφA mat.Dense
	dφA.Mul(&dφ, est.Matrix())
	dφA.Scale(-1, &dφA)
	jA := mat.NewDense(3, 6, nil)
	setBlock(jA, 0, 3, &dφA)
	return &r, jA, jB
}
