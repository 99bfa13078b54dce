package posefusion

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotRealSqrt is returned when a covariance has no real inverse square root.
	ErrNotRealSqrt = errors.New("inverse square root is not real")
	// ErrDeterminantThreshold is returned when a learned covariance is too large to be trusted.
	ErrDeterminantThreshold = errors.New("covariance determinant above threshold")
	// ErrCalibration is returned when the rotation-error statistics cannot be computed.
	ErrCalibration = errors.New("invalid calibration set")
	// ErrInvalidInput is returned when a collaborator payload is malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnknownMode is returned when a run mode is missing or not recognized.
	ErrUnknownMode = errors.New("unknown run mode")
	// ErrNoPriors is returned when solving before the nodes were initialized.
	ErrNoPriors = errors.New("solver priors not set")
	// ErrSequenceDone is returned by Fuse once every VO frame has been processed.
	ErrSequenceDone = errors.New("all frames already fused")
)

// DimensionAgreement defines how two matrices' dimensions should agree.
type DimensionAgreement uint8

const (
	dimErrMsg                    = "dimensions must agree: "
	rows2cols DimensionAgreement = iota + 1
	cols2rows
	cols2cols
	rows2rows
	rowsAndcols
)

// checkMatDims checks the matrix dimensions match provided a DimensionAgreement. Returns an error if not.
func checkMatDims(m1, m2 mat.Matrix, name1, name2 string, method DimensionAgreement) error {
	r1, c1 := m1.Dims()
	r2, c2 := m2.Dims()
	switch method {
	case rows2cols:
		if r1 != c2 {
			return fmt.Errorf("%s%s(%dx...) %s(...x%d)", dimErrMsg, name1, r1, name2, c2)
		}
	case cols2rows:
		if c1 != r2 {
			return fmt.Errorf("%s%s(...x%d) %s(%dx...)", dimErrMsg, name1, c1, name2, r2)
		}
	case cols2cols:
		if c1 != c2 {
			return fmt.Errorf("%s%s(...x%d) %s(...x%d)", dimErrMsg, name1, c1, name2, c2)
		}
	case rows2rows:
		if r1 != r2 {
			return fmt.Errorf("%s%s(%dx...) %s(%dx...)", dimErrMsg, name1, r1, name2, r2)
		}
	case rowsAndcols:
		if c1 != c2 || r1 != r2 {
			return fmt.Errorf("%s%s(%dx%d) %s(%dx%d)", dimErrMsg, name1, r1, c1, name2, r2, c2)
		}
	}
	return nil
}

// checkSquare checks that m is an n x n matrix.
func checkSquare(m mat.Matrix, name string, n int) error {
	return checkMatDims(m, mat.NewDense(n, n, nil), name, fmt.Sprintf("I%d", n), rowsAndcols)
}
