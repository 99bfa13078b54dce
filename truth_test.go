package posefusion

import (
	"math"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
)

func TestGroundTruthError(t *testing.T) {
	gt := []SE3{IdentitySE3(), NewSE3(ExpSO3(r3.Vector{Z: 0.5}), r3.Vector{X: 1})}
	truth := NewGroundTruth(gt)

	est := []SE3{
		NewSE3(ExpSO3(r3.Vector{X: 0.1}), r3.Vector{Y: 3}),
		NewSE3(ExpSO3(r3.Vector{Z: 0.3}), r3.Vector{X: 1, Z: -4}),
	}
	for k, exp := range []struct{ trans, rot float64 }{{3, 0.1}, {4, 0.2}} {
		trans, rot := truth.Error(k, est[k])
		if math.Abs(trans-exp.trans) > 1e-12 || math.Abs(rot-exp.rot) > 1e-12 {
			t.Fatalf("pose %d: got (%f, %f), expected (%f, %f)", k, trans, rot, exp.trans, exp.rot)
		}
	}

	errs, err := truth.Errors(est)
	if err != nil {
		t.Fatal(err)
	}
	m := errs.Metrics(Radians)
	if math.Abs(m.MeanTranslation-3.5) > 1e-12 || math.Abs(m.RMSETranslation-math.Sqrt(12.5)) > 1e-12 {
		t.Fatalf("unexpected translation metrics %s", m)
	}
	if math.Abs(m.MeanRotation-0.15) > 1e-12 || math.Abs(m.RMSERotation-math.Sqrt(0.025)) > 1e-12 {
		t.Fatalf("unexpected rotation metrics %s", m)
	}
	if md := errs.Metrics(Degrees); math.Abs(md.MeanRotation-0.15*180/math.Pi) > 1e-9 || md.MeanTranslation != m.MeanTranslation {
		t.Fatalf("unexpected metrics in degrees %s", md)
	}
	if !strings.HasSuffix(m.String(), "[rad]") {
		t.Fatalf("missing unit in %s", m)
	}

	if _, err := truth.Errors(est[:1]); err == nil {
		t.Fatal("trajectories of different lengths compared")
	}
	if _, err := NewGroundTruth(nil).Errors(nil); err == nil {
		t.Fatal("empty trajectories compared")
	}
}

func TestCompareToBaseline(t *testing.T) {
	gt := []SE3{IdentitySE3(), NewSE3(IdentitySO3(), r3.Vector{Z: -1})}
	fused := []SE3{IdentitySE3(), NewSE3(ExpSO3(r3.Vector{Y: 0.01}), r3.Vector{Z: -1.1})}
	vo := []SE3{IdentitySE3(), NewSE3(ExpSO3(r3.Vector{Y: 0.03}), r3.Vector{Z: -1.5})}

	cmp, err := NewGroundTruth(gt).CompareToBaseline(fused, vo, Radians)
	if err != nil {
		t.Fatal(err)
	}
	if cmp.RotationImprovement() <= 0 || cmp.TranslationImprovement() <= 0 {
		t.Fatalf("fused trajectory should improve on VO: %s", cmp)
	}
	if math.Abs(cmp.Fused.RMSERotation-0.01/math.Sqrt2) > 1e-12 {
		t.Fatalf("fused rotation RMSE %f", cmp.Fused.RMSERotation)
	}
	if s := cmp.String(); !strings.HasPrefix(s, "Trans: 0.071 / 0.354 | Rot: ") {
		t.Fatalf("unexpected comparison %s", s)
	}
	if _, err := NewGroundTruth(gt).CompareToBaseline(fused, vo[:1], Radians); err == nil {
		t.Fatal("baseline of a different length compared")
	}
}
