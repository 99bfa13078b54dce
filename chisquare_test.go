package posefusion

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

func TestRotationNEES(t *testing.T) {
	gt := []SO3{IdentitySO3(), ExpSO3(r3.Vector{Z: 1})}
	est := []SO3{ExpSO3(r3.Vector{X: 0.02}), ExpSO3(r3.Vector{Y: 0.01}).Compose(gt[1])}
	covs := []mat.Symmetric{ScaledIdentity(3, 1e-4), mat.NewSymDense(3, []float64{1e-4, 0, 0, 0, 4e-4, 0, 0, 0, 1e-4})}
	nees, mean, err := RotationNEES(est, gt, covs)
	if err != nil {
		t.Fatal(err)
	}
	// 0.02²/1e-4 and 0.01²/4e-4
	for k, exp := range []float64{4, 0.25} {
		if math.Abs(nees[k]-exp) > 1e-9 {
			t.Fatalf("NEES #%d = %f, expected %f", k, nees[k], exp)
		}
	}
	if math.Abs(mean-2.125) > 1e-9 {
		t.Fatalf("mean NEES = %f", mean)
	}

	if _, _, err := RotationNEES(est, gt[:1], covs); err == nil {
		t.Fatal("mismatched lengths accepted")
	}
	if _, _, err := RotationNEES(nil, nil, nil); err == nil {
		t.Fatal("empty set accepted")
	}
	if _, _, err := RotationNEES(est, gt, []mat.Symmetric{covs[0], mat.NewSymDense(3, nil)}); err == nil {
		t.Fatal("singular covariance accepted")
	}
}

func TestRotationNEESConsistentPredictor(t *testing.T) {
	R := ScaledIdentity(3, 1e-4)
	n, err := NewAWGN(ScaledIdentity(6, 1e-4), R, 99)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := SyntheticSequence(2001, NewSE3(ExpSO3(r3.Vector{X: 0.02}), r3.Vector{Z: -1}), n)
	if err != nil {
		t.Fatal(err)
	}
	_, mean, err := RotationNEES(seq.Inputs.CalibrationEstimated, seq.Inputs.CalibrationGroundTruth, seq.Inputs.Sigma21)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mean-3) > 0.3 {
		t.Fatalf("mean NEES of a consistent predictor is %f", mean)
	}
}
