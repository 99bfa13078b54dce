package posefusion

import (
	"math"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestCalibrate(t *testing.T) {
	gt := []SO3{IdentitySO3(), ExpSO3(r3.Vector{Z: 1}), ExpSO3(r3.Vector{X: -0.5, Y: 0.2}), ExpSO3(r3.Vector{Y: 2})}
	offsets := []r3.Vector{{X: 0.01}, {X: -0.01}, {Y: 0.02}, {Y: -0.02, Z: 0.04}}
	est := make([]SO3, len(gt))
	for i := range gt {
		est[i] = ExpSO3(offsets[i]).Compose(gt[i])
	}

	cal, err := Calibrate(est, gt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cal.Len(), test.ShouldEqual, 4)
	for i, e := range cal.Errors {
		test.That(t, e.Sub(offsets[i]).Norm(), test.ShouldBeLessThan, 1e-12)
	}

	// Unbiased sample covariance, computed by hand.
	exp := mat.NewSymDense(3, nil)
	var mean r3.Vector
	for _, o := range offsets {
		mean = mean.Add(o.Mul(0.25))
	}
	for _, o := range offsets {
		d := o.Sub(mean)
		v := []float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				exp.SetSym(i, j, exp.At(i, j)+v[i]*v[j]/3)
			}
		}
	}
	test.That(t, mat.EqualApprox(cal.Covariance, exp, 1e-12), test.ShouldBeTrue)

	// Elementwise median: X of {0.01, -0.01, 0, 0}, Y of {0, 0, 0.02, -0.02}, Z of {0, 0, 0, 0.04}.
	test.That(t, cal.Bias.Angle(), test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, strings.HasPrefix(cal.String(), "calibration over 4 pairs"), test.ShouldBeTrue)
}

func TestCalibrateBias(t *testing.T) {
	gt := []SO3{IdentitySO3(), ExpSO3(r3.Vector{Z: 0.5}), ExpSO3(r3.Vector{X: 1})}
	est := make([]SO3, len(gt))
	for i := range gt {
		est[i] = ExpSO3(r3.Vector{Z: 0.01 * float64(i+1)}).Compose(gt[i])
	}
	cal, err := Calibrate(est, gt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cal.Bias.Log().Z, test.ShouldAlmostEqual, 0.02, 1e-12)
	test.That(t, cal.Covariance.At(2, 2), test.ShouldAlmostEqual, 1e-4, 1e-12)
}

func TestCalibrateInvalid(t *testing.T) {
	gt := []SO3{IdentitySO3(), IdentitySO3()}
	for name, est := range map[string][]SO3{
		"mismatch": {IdentitySO3()},
		"nan":      {IdentitySO3(), SO3{c: [9]float64{math.NaN(), 0, 0, 0, 1, 0, 0, 0, 1}}},
	} {
		_, err := Calibrate(est, gt)
		if !errors.Is(err, ErrCalibration) {
			t.Fatalf("%s: expected ErrCalibration, got %v", name, err)
		}
	}
	_, err := Calibrate(gt[:1], gt[:1])
	test.That(t, errors.Is(err, ErrCalibration), test.ShouldBeTrue)
}
