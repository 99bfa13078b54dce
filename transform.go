package posefusion

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

const (
	// smallAngle is the rotation angle below which first order expansions are used.
	smallAngle = 1e-8
	// nearPi is the distance to π below which the rotation axis is recovered from the symmetric part.
	nearPi = 1e-6
)

// SO3 is a rotation in 3D, stored as a row-major orthonormal 3x3 matrix.
// Use IdentitySO3, ExpSO3 or SO3FromMatrix to create one: the zero value is not a rotation.
type SO3 struct {
	c [9]float64
}

// IdentitySO3 returns the rotation which does nothing.
func IdentitySO3() SO3 {
	return SO3{[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// SO3FromMatrix returns the rotation closest (in the Frobenius sense) to the provided 3x3 matrix.
func SO3FromMatrix(m mat.Matrix) (SO3, error) {
	if err := checkSquare(m, "C", 3); err != nil {
		return SO3{}, err
	}
	if !IsFinite(m) {
		return SO3{}, errors.New("rotation matrix has non-finite entries")
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return SO3{}, errors.New("rotation matrix SVD failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var c mat.Dense
	c.Mul(&u, v.T())
	if mat.Det(&c) < 0 {
		// Reflection: flip the direction of least singular value.
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		c.Mul(&u, v.T())
	}
	var rot SO3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.c[3*i+j] = c.At(i, j)
		}
	}
	return rot, nil
}

// SO3FromQuaternion returns the rotation of the provided quaternion, which is normalized first.
func SO3FromQuaternion(q quat.Number) SO3 {
	n := quat.Abs(q)
	if n == 0 {
		return IdentitySO3()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return SO3{[9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}}
}

// ExpSO3 maps a rotation vector (axis times angle, in radians) to its rotation.
func ExpSO3(φ r3.Vector) SO3 {
	θ := φ.Norm()
	if θ < smallAngle {
		return SO3{[9]float64{
			1, -φ.Z, φ.Y,
			φ.Z, 1, -φ.X,
			-φ.Y, φ.X, 1,
		}}.normalized()
	}
	a := φ.Mul(1 / θ)
	s, c := math.Sincos(θ)
	k := 1 - c
	return SO3{[9]float64{
		c + k*a.X*a.X, k*a.X*a.Y - s*a.Z, k*a.X*a.Z + s*a.Y,
		k*a.Y*a.X + s*a.Z, c + k*a.Y*a.Y, k*a.Y*a.Z - s*a.X,
		k*a.Z*a.X - s*a.Y, k*a.Z*a.Y + s*a.X, c + k*a.Z*a.Z,
	}}
}

// At returns the (i, j) element of the rotation matrix.
func (C SO3) At(i, j int) float64 {
	return C.c[3*i+j]
}

// Matrix returns a copy of the rotation as a 3x3 matrix.
func (C SO3) Matrix() *mat.Dense {
	vals := C.c
	return mat.NewDense(3, 3, vals[:])
}

// Compose returns C∘o. The result is re-orthonormalized.
func (C SO3) Compose(o SO3) SO3 {
	var out SO3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.c[3*i+j] = C.c[3*i]*o.c[j] + C.c[3*i+1]*o.c[3+j] + C.c[3*i+2]*o.c[6+j]
		}
	}
	return out.normalized()
}

// Inverse returns the inverse rotation, i.e. the transpose.
func (C SO3) Inverse() SO3 {
	return SO3{[9]float64{
		C.c[0], C.c[3], C.c[6],
		C.c[1], C.c[4], C.c[7],
		C.c[2], C.c[5], C.c[8],
	}}
}

// Rotate returns C*v.
func (C SO3) Rotate(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: C.c[0]*v.X + C.c[1]*v.Y + C.c[2]*v.Z,
		Y: C.c[3]*v.X + C.c[4]*v.Y + C.c[5]*v.Z,
		Z: C.c[6]*v.X + C.c[7]*v.Y + C.c[8]*v.Z,
	}
}

// Log returns the rotation vector φ such that ExpSO3(φ) == C, with |φ| in [0, π].
// The map is discontinuous at an angle of exactly π, where the sign of the axis is arbitrary.
func (C SO3) Log() r3.Vector {
	cosθ := math.Max(-1, math.Min(1, 0.5*(C.c[0]+C.c[4]+C.c[8]-1)))
	θ := math.Acos(cosθ)
	s := vee(C.Matrix()) // sin(θ) * axis
	switch {
	case θ < smallAngle:
		return s
	case math.Pi-θ < nearPi:
		// C + I = 2 a aᵀ at θ = π: use the column with the largest diagonal term.
		k := 0
		for i := 1; i < 3; i++ {
			if C.c[4*i] > C.c[4*k] {
				k = i
			}
		}
		d := math.Sqrt(0.5 * (C.c[4*k] + 1))
		a := r3.Vector{X: 0.5 * (C.At(0, k) + boolToFloat(k == 0)), Y: 0.5 * (C.At(1, k) + boolToFloat(k == 1)), Z: 0.5 * (C.At(2, k) + boolToFloat(k == 2))}
		a = a.Mul(1 / d)
		if a.Dot(s) < 0 {
			a = a.Mul(-1)
		}
		return a.Normalize().Mul(θ)
	default:
		return s.Mul(θ / math.Sin(θ))
	}
}

// Angle returns the rotation angle in radians.
func (C SO3) Angle() float64 {
	return C.Log().Norm()
}

// Quaternion returns the unit quaternion of this rotation, with a non-negative real part.
func (C SO3) Quaternion() quat.Number {
	m := C.c
	var q quat.Number
	if tr := m[0] + m[4] + m[8]; tr > 0 {
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{Real: s / 4, Imag: (m[7] - m[5]) / s, Jmag: (m[2] - m[6]) / s, Kmag: (m[3] - m[1]) / s}
	} else if m[0] > m[4] && m[0] > m[8] {
		s := 2 * math.Sqrt(1+m[0]-m[4]-m[8])
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: s / 4, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	} else if m[4] > m[8] {
		s := 2 * math.Sqrt(1+m[4]-m[0]-m[8])
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: s / 4, Kmag: (m[5] + m[7]) / s}
	} else {
		s := 2 * math.Sqrt(1+m[8]-m[0]-m[4])
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// normalized removes the drift accumulated by floating point products by projecting through the unit quaternion.
func (C SO3) normalized() SO3 {
	return SO3FromQuaternion(C.Quaternion())
}

func (C SO3) String() string {
	φ := C.Log()
	return fmt.Sprintf("SO3{φ=[%.6g %.6g %.6g]}", φ.X, φ.Y, φ.Z)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Tangent is an element of se(3): the translational part ρ followed by the rotational part φ.
type Tangent [6]float64

// NewTangent returns the tangent vector [ρ; φ].
func NewTangent(ρ, φ r3.Vector) Tangent {
	return Tangent{ρ.X, ρ.Y, ρ.Z, φ.X, φ.Y, φ.Z}
}

// Rho returns the translational part.
func (ξ Tangent) Rho() r3.Vector {
	return r3.Vector{X: ξ[0], Y: ξ[1], Z: ξ[2]}
}

// Phi returns the rotational part.
func (ξ Tangent) Phi() r3.Vector {
	return r3.Vector{X: ξ[3], Y: ξ[4], Z: ξ[5]}
}

// Vec returns a copy of ξ as a gonum vector.
func (ξ Tangent) Vec() *mat.VecDense {
	vals := ξ
	return mat.NewVecDense(6, vals[:])
}

// Norm returns the euclidean norm of ξ.
func (ξ Tangent) Norm() float64 {
	return mat.Norm(ξ.Vec(), 2)
}

// SE3 is a rigid transform: a point p is mapped to Rot*p + Trans.
type SE3 struct {
	Rot   SO3
	Trans r3.Vector
}

// IdentitySE3 returns the identity transform.
func IdentitySE3() SE3 {
	return SE3{Rot: IdentitySO3()}
}

// NewSE3 returns the transform of the provided rotation and translation.
func NewSE3(rot SO3, trans r3.Vector) SE3 {
	return SE3{Rot: rot, Trans: trans}
}

// SE3FromMatrix returns the transform of a 4x4 homogeneous (or 3x4) matrix. The rotation block is
// orthonormalized.
func SE3FromMatrix(m mat.Matrix) (SE3, error) {
	r, c := m.Dims()
	if (r != 4 && r != 3) || c != 4 {
		return SE3{}, fmt.Errorf("%sT(%dx%d) expected 4x4 or 3x4", dimErrMsg, r, c)
	}
	rot, err := SO3FromMatrix(mat.DenseCopyOf(m).Slice(0, 3, 0, 3))
	if err != nil {
		return SE3{}, err
	}
	trans := r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
	if math.IsNaN(trans.Norm()) || math.IsInf(trans.Norm(), 0) {
		return SE3{}, errors.New("translation has non-finite entries")
	}
	return SE3{rot, trans}, nil
}

// ExpSE3 maps a tangent vector to its transform.
func ExpSE3(ξ Tangent) SE3 {
	φ := ξ.Phi()
	var t mat.VecDense
	t.MulVec(LeftJacobianSO3(φ), mat.NewVecDense(3, []float64{ξ[0], ξ[1], ξ[2]}))
	return SE3{ExpSO3(φ), vecToR3(&t, 0)}
}

// Matrix returns the 4x4 homogeneous matrix of this transform.
func (T SE3) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	setBlock(m, 0, 0, T.Rot.Matrix())
	m.Set(0, 3, T.Trans.X)
	m.Set(1, 3, T.Trans.Y)
	m.Set(2, 3, T.Trans.Z)
	m.Set(3, 3, 1)
	return m
}

// Compose returns T∘o, i.e. o is applied first.
func (T SE3) Compose(o SE3) SE3 {
	return SE3{T.Rot.Compose(o.Rot), T.Rot.Rotate(o.Trans).Add(T.Trans)}
}

// Inverse returns the inverse transform.
func (T SE3) Inverse() SE3 {
	inv := T.Rot.Inverse()
	return SE3{inv, inv.Rotate(T.Trans).Mul(-1)}
}

// TransformPoint returns Rot*p + Trans.
func (T SE3) TransformPoint(p r3.Vector) r3.Vector {
	return T.Rot.Rotate(p).Add(T.Trans)
}

// Log returns the tangent vector ξ such that ExpSE3(ξ) == T.
func (T SE3) Log() Tangent {
	φ := T.Rot.Log()
	var ρ mat.VecDense
	ρ.MulVec(InvLeftJacobianSO3(φ), mat.NewVecDense(3, []float64{T.Trans.X, T.Trans.Y, T.Trans.Z}))
	return NewTangent(vecToR3(&ρ, 0), φ)
}

// Adjoint returns the 6x6 adjoint matrix of T, such that T∘Exp(ξ)∘T⁻¹ == Exp(Ad(T)ξ).
func (T SE3) Adjoint() *mat.Dense {
	C := T.Rot.Matrix()
	var tC mat.Dense
	tC.Mul(Skew(T.Trans), C)
	ad := mat.NewDense(6, 6, nil)
	setBlock(ad, 0, 0, C)
	setBlock(ad, 0, 3, &tC)
	setBlock(ad, 3, 3, C)
	return ad
}

func (T SE3) String() string {
	return fmt.Sprintf("SE3{%s t=[%.6g %.6g %.6g]}", T.Rot, T.Trans.X, T.Trans.Y, T.Trans.Z)
}

// LeftJacobianSO3 returns the left Jacobian of SO(3) at φ.
func LeftJacobianSO3(φ r3.Vector) *mat.Dense {
	θ := φ.Norm()
	if θ < smallAngle {
		J := mat.DenseCopyOf(Identity(3))
		var half mat.Dense
		half.Scale(0.5, Skew(φ))
		J.Add(J, &half)
		return J
	}
	a := φ.Mul(1 / θ)
	s, c := math.Sincos(θ)
	return so3Combination(a, s/θ, 1-s/θ, (1-c)/θ)
}

// InvLeftJacobianSO3 returns the inverse of the left Jacobian of SO(3) at φ.
func InvLeftJacobianSO3(φ r3.Vector) *mat.Dense {
	θ := φ.Norm()
	if θ < smallAngle {
		J := mat.DenseCopyOf(Identity(3))
		var half mat.Dense
		half.Scale(-0.5, Skew(φ))
		J.Add(J, &half)
		return J
	}
	a := φ.Mul(1 / θ)
	halfθ := θ / 2
	cot := halfθ / math.Tan(halfθ)
	return so3Combination(a, cot, 1-cot, -halfθ)
}

// so3Combination returns α I + β a aᵀ + γ [a]x.
func so3Combination(a r3.Vector, α, β, γ float64) *mat.Dense {
	av := []float64{a.X, a.Y, a.Z}
	J := mat.NewDense(3, 3, nil)
	sk := Skew(a)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			J.Set(i, j, β*av[i]*av[j]+γ*sk.At(i, j))
		}
		J.Set(i, i, J.At(i, i)+α)
	}
	return J
}

// seriesAngle is the angle below which the coupling term of the SE(3) Jacobian uses its series coefficients.
const seriesAngle = 1e-3

// couplingSE3 returns the Q block of the left Jacobian of SE(3) at ξ.
func couplingSE3(ξ Tangent) *mat.Dense {
	ρx, φx := Skew(ξ.Rho()), Skew(ξ.Phi())
	θ := ξ.Phi().Norm()
	c1, c2, c3 := 1.0/6, 1.0/24, 1.0/120
	if θ >= seriesAngle {
		s, c := math.Sincos(θ)
		θ2 := θ * θ
		c1 = (θ - s) / (θ2 * θ)
		c2 = (θ2 + 2*c - 2) / (2 * θ2 * θ2)
		c3 = (2*θ - 3*s + θ*c) / (2 * θ2 * θ2 * θ)
	}
	var φρ, ρφ, φρφ, φφρ, ρφφ, φρφφ, φφρφ mat.Dense
	φρ.Mul(φx, ρx)
	ρφ.Mul(ρx, φx)
	φρφ.Mul(&φρ, φx)
	φφρ.Mul(φx, &φρ)
	ρφφ.Mul(&ρφ, φx)
	φρφφ.Mul(&φρφ, φx)
	φφρφ.Mul(φx, &φρφ)

	Q := mat.NewDense(3, 3, nil)
	Q.Scale(0.5, ρx)
	var t1, t2, t3 mat.Dense
	t1.Add(&φρ, &ρφ)
	t1.Add(&t1, &φρφ)
	t1.Scale(c1, &t1)
	t2.Add(&φφρ, &ρφφ)
	var three mat.Dense
	three.Scale(3, &φρφ)
	t2.Sub(&t2, &three)
	t2.Scale(c2, &t2)
	t3.Add(&φρφφ, &φφρφ)
	t3.Scale(c3, &t3)
	Q.Add(Q, &t1)
	Q.Add(Q, &t2)
	Q.Add(Q, &t3)
	return Q
}

// LeftJacobianSE3 returns the 6x6 left Jacobian of SE(3) at ξ.
func LeftJacobianSE3(ξ Tangent) *mat.Dense {
	J := LeftJacobianSO3(ξ.Phi())
	out := mat.NewDense(6, 6, nil)
	setBlock(out, 0, 0, J)
	setBlock(out, 0, 3, couplingSE3(ξ))
	setBlock(out, 3, 3, J)
	return out
}

// InvLeftJacobianSE3 returns the inverse of the 6x6 left Jacobian of SE(3) at ξ.
func InvLeftJacobianSE3(ξ Tangent) *mat.Dense {
	Jinv := InvLeftJacobianSO3(ξ.Phi())
	var coupling mat.Dense
	coupling.Mul(Jinv, couplingSE3(ξ))
	coupling.Mul(&coupling, Jinv)
	coupling.Scale(-1, &coupling)
	out := mat.NewDense(6, 6, nil)
	setBlock(out, 0, 0, Jinv)
	setBlock(out, 0, 3, &coupling)
	setBlock(out, 3, 3, Jinv)
	return out
}
