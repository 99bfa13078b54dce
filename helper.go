package posefusion

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

// Identity returns an identity matrix of the provided size.
func Identity(n int) *mat.SymDense {
	return ScaledIdentity(n, 1)
}

// ScaledIdentity returns an identity matrix time the provided scaling factor.
func ScaledIdentity(n int, s float64) *mat.SymDense {
	vals := make([]float64, n*n)
	for j := 0; j < n*n; j++ {
		if j%(n+1) == 0 {
			vals[j] = s
		}
	}
	return mat.NewSymDense(n, vals)
}

// IsNil returns whether the provided matrix only has zero values
func IsNil(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

// IsFinite returns whether every entry of the provided matrix is a finite number.
func IsFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// AsSymDense returns a SymDense from the provided matrix. The matrix must be square and symmetric up to a
// relative tolerance of 1e-9; the returned matrix is the symmetric part of m.
func AsSymDense(m mat.Matrix) (*mat.SymDense, error) {
	r, c := m.Dims()
	if r != c {
		return nil, errors.New("matrix must be square")
	}
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < c; j++ {
			if !scalar.EqualWithinAbsOrRel(m.At(i, j), m.At(j, i), 1e-12, 1e-9) {
				return nil, errors.Errorf("matrix is not symmetric at (%d,%d)", i, j)
			}
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return sym, nil
}

// InvSqrt returns the inverse matrix square root Σ^{-1/2} of a covariance matrix, i.e. the stiffness used to
// weight a residual. It returns ErrNotRealSqrt when a real square root does not exist (an eigenvalue is not
// strictly positive) or when the covariance has non-finite entries.
func InvSqrt(sigma mat.Symmetric) (*mat.SymDense, error) {
	if !IsFinite(sigma) {
		return nil, ErrNotRealSqrt
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, true); !ok {
		return nil, errors.Wrap(ErrNotRealSqrt, "eigen decomposition failed")
	}
	vals := eig.Values(nil)
	for i, λ := range vals {
		if !(λ > 0) {
			return nil, errors.Wrapf(ErrNotRealSqrt, "eigenvalue %d is %g", i, λ)
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	n := len(vals)
	scaled := mat.NewDense(n, n, nil)
	for j, λ := range vals {
		s := 1 / math.Sqrt(λ)
		for i := 0; i < n; i++ {
			scaled.Set(i, j, vecs.At(i, j)*s)
		}
	}
	var full mat.Dense
	full.Mul(scaled, vecs.T())
	return AsSymDense(&full)
}

// Skew returns the 3x3 skew-symmetric (cross product) matrix of v.
func Skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// vee is the inverse of Skew, applied to the skew part of m.
func vee(m mat.Matrix) r3.Vector {
	return r3.Vector{
		X: 0.5 * (m.At(2, 1) - m.At(1, 2)),
		Y: 0.5 * (m.At(0, 2) - m.At(2, 0)),
		Z: 0.5 * (m.At(1, 0) - m.At(0, 1)),
	}
}

func vecToR3(v mat.Vector, offset int) r3.Vector {
	return r3.Vector{X: v.AtVec(offset), Y: v.AtVec(offset + 1), Z: v.AtVec(offset + 2)}
}

// setBlock copies src into dst with its top left corner at (i, j).
func setBlock(dst *mat.Dense, i, j int, src mat.Matrix) {
	r, c := src.Dims()
	for k := 0; k < r; k++ {
		for l := 0; l < c; l++ {
			dst.Set(i+k, j+l, src.At(k, l))
		}
	}
}
