package posefusion

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestImplementsNoise(t *testing.T) {
	implements := func(Noise) {}
	implements(new(Noiseless))
	implements(new(AWGN))
}

func TestBlankNoise(t *testing.T) {
	Q, R := ScaledIdentity(6, 1e-2), ScaledIdentity(3, 1e-6)
	nl, err := NewNoiseless(Q, R)
	if err != nil {
		t.Fatal(err)
	}
	if nl.Pose() != (Tangent{}) {
		t.Fatal("noiseless pose perturbation is not zero")
	}
	if nl.Rotation() != (r3.Vector{}) {
		t.Fatal("noiseless rotation perturbation is not zero")
	}
	if !mat.Equal(nl.PoseMatrix(), Q) || !mat.Equal(nl.RotationMatrix(), R) {
		t.Fatal("noiseless matrices are not the provided ones")
	}
	if _, err := NewNoiseless(R, Q); err == nil {
		t.Fatal("swapped Q and R accepted")
	}
	if _, err := NewNoiseless(nil, R); err == nil {
		t.Fatal("nil Q accepted")
	}
}

func TestAWGN(t *testing.T) {
	badQ := ScaledIdentity(6, 1)
	badQ.SetSym(0, 1, 2)
	if _, err := NewAWGN(badQ, Identity(3), 1); err == nil {
		t.Fatal("indefinite Q accepted")
	}
	if _, err := NewAWGN(Identity(3), Identity(3), 1); err == nil {
		t.Fatal("3x3 Q accepted")
	}

	Q := ScaledIdentity(6, 4)
	R := mat.NewSymDense(3, []float64{1e-2, 5e-3, 0, 5e-3, 1e-2, 0, 0, 0, 1e-2})
	n, err := NewAWGN(Q, R, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(Q, n.PoseMatrix()) || !mat.Equal(R, n.RotationMatrix()) {
		t.Fatal("AWGN matrices are not the provided ones")
	}
	if n.Pose() == n.Pose() {
		t.Fatal("pose noise at two different steps is identical")
	}
	if n.Rotation() == n.Rotation() {
		t.Fatal("rotation noise at two different steps is identical")
	}

	// Sample statistics
	const samples = 20000
	x, y := make([]float64, samples), make([]float64, samples)
	for i := range x {
		r := n.Rotation()
		x[i], y[i] = r.X, r.Y
	}
	if v := stat.Variance(x, nil); math.Abs(v-1e-2) > 1e-3 {
		t.Fatalf("variance of X is %f", v)
	}
	if c := stat.Covariance(x, y, nil); math.Abs(c-5e-3) > 1e-3 {
		t.Fatalf("covariance of X and Y is %f", c)
	}

	// Same seed, same noise.
	a, _ := NewAWGN(Q, R, 7)
	b, _ := NewAWGN(Q, R, 7)
	for i := 0; i < 10; i++ {
		if a.Pose() != b.Pose() || a.Rotation() != b.Rotation() {
			t.Fatal("same seed generated different noise")
		}
	}
}

func TestSyntheticSequence(t *testing.T) {
	step := NewSE3(ExpSO3(r3.Vector{Y: 0.05}), r3.Vector{X: 0.2, Z: -1})
	n, err := NewNoiseless(ScaledIdentity(6, 1e-2), ScaledIdentity(3, 1e-6))
	if err != nil {
		t.Fatal(err)
	}
	seq, err := SyntheticSequence(10, step, n)
	if err != nil {
		t.Fatal(err)
	}
	in := seq.Inputs
	if len(seq.GroundTruth) != 10 || len(in.VO) != 10 || in.Frames() != 9 {
		t.Fatalf("unexpected lengths %d %d", len(seq.GroundTruth), len(in.VO))
	}
	if err := in.Validate(DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	for k := 0; k < in.Frames(); k++ {
		T21 := seq.GroundTruth[k+1].Inverse().Compose(seq.GroundTruth[k])
		assertSE3Equal(t, "ground truth step", T21, step, 1e-9)
		assertSE3Equal(t, "VO", in.VO[k+1], seq.GroundTruth[k+1], 1e-9)
		if d := in.C21[k].Compose(step.Rot.Inverse()).Angle(); d > 1e-12 {
			t.Fatalf("C21 differs by %g", d)
		}
		if d := in.C12[k].Compose(step.Rot).Angle(); d > 1e-12 {
			t.Fatalf("C12 differs by %g", d)
		}
	}

	if _, err := SyntheticSequence(1, step, n); err == nil {
		t.Fatal("single pose sequence generated")
	}

	// Noisy VO drifts away from the ground truth.
	awgn, err := NewAWGN(ScaledIdentity(6, 1e-4), ScaledIdentity(3, 1e-6), 3)
	if err != nil {
		t.Fatal(err)
	}
	seq, err = SyntheticSequence(100, step, awgn)
	if err != nil {
		t.Fatal(err)
	}
	if trans, _ := NewGroundTruth(seq.GroundTruth).Error(99, seq.Inputs.VO[99]); trans == 0 {
		t.Fatal("noisy VO matches the ground truth")
	}
}
