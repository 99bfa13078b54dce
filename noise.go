package posefusion

import (
	"fmt"
	"math/rand/v2"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Noise generates the tangent-space perturbations of synthetic measurements.
type Noise interface {
	Pose() Tangent                 // Returns a VO relative pose perturbation
	Rotation() r3.Vector           // Returns a learned rotation perturbation
	PoseMatrix() mat.Symmetric     // Returns the 6x6 VO noise covariance
	RotationMatrix() mat.Symmetric // Returns the 3x3 learned rotation noise covariance
	String() string                // Stringer interface implementation
}

// Noiseless is noiseless and implements the Noise interface. Its matrices are still reported as the
// covariances of the measurements.
type Noiseless struct {
	Q, R mat.Symmetric
}

// NewNoiseless creates a new noiseless source from the provided Q (6x6) and R (3x3).
func NewNoiseless(Q, R mat.Symmetric) (*Noiseless, error) {
	if err := checkNoiseDims(Q, R); err != nil {
		return nil, err
	}
	return &Noiseless{Q, R}, nil
}

// Pose implements the Noise interface.
func (n Noiseless) Pose() Tangent {
	return Tangent{}
}

// Rotation implements the Noise interface.
func (n Noiseless) Rotation() r3.Vector {
	return r3.Vector{}
}

// PoseMatrix implements the Noise interface.
func (n Noiseless) PoseMatrix() mat.Symmetric {
	return n.Q
}

// RotationMatrix implements the Noise interface.
func (n Noiseless) RotationMatrix() mat.Symmetric {
	return n.R
}

// String implements the Stringer interface.
func (n Noiseless) String() string {
	return fmt.Sprintf("Noiseless{\nQ=%v\nR=%v}\n", mat.Formatted(n.Q, mat.Prefix("  ")), mat.Formatted(n.R, mat.Prefix("  ")))
}

// AWGN implements the Noise interface and generates an additive white Gaussian noise in the tangent space.
type AWGN struct {
	Q, R     mat.Symmetric
	pose     *distmv.Normal
	rotation *distmv.Normal
}

// NewAWGN creates new AWGN noise from the provided Q (6x6) and R (3x3). The same seed always generates the
// same noise sequence.
func NewAWGN(Q, R mat.Symmetric, seed uint64) (*AWGN, error) {
	if err := checkNoiseDims(Q, R); err != nil {
		return nil, err
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	pose, ok := distmv.NewNormal(make([]float64, 6), Q, src)
	if !ok {
		return nil, errors.New("pose noise covariance is not positive definite")
	}
	rotation, ok := distmv.NewNormal(make([]float64, 3), R, src)
	if !ok {
		return nil, errors.New("rotation noise covariance is not positive definite")
	}
	return &AWGN{Q, R, pose, rotation}, nil
}

// PoseMatrix implements the Noise interface.
func (n AWGN) PoseMatrix() mat.Symmetric {
	return n.Q
}

// RotationMatrix implements the Noise interface.
func (n AWGN) RotationMatrix() mat.Symmetric {
	return n.R
}

// Pose implements the Noise interface.
func (n AWGN) Pose() Tangent {
	var ξ Tangent
	copy(ξ[:], n.pose.Rand(nil))
	return ξ
}

// Rotation implements the Noise interface.
func (n AWGN) Rotation() r3.Vector {
	r := n.rotation.Rand(nil)
	return r3.Vector{X: r[0], Y: r[1], Z: r[2]}
}

// String implements the Stringer interface.
func (n AWGN) String() string {
	return fmt.Sprintf("AWGN{\nQ=%v\nR=%v}\n", mat.Formatted(n.Q, mat.Prefix("  ")), mat.Formatted(n.R, mat.Prefix("  ")))
}

func checkNoiseDims(Q, R mat.Symmetric) error {
	if Q == nil || R == nil {
		return errors.New("Q and R must be specified")
	}
	if err := checkSquare(Q, "Q", 6); err != nil {
		return err
	}
	return checkSquare(R, "R", 3)
}

// Sequence is a synthetic sequence: the ground truth trajectory and the inputs a VO estimator and a rotation
// predictor would have produced for it.
type Sequence struct {
	GroundTruth []SE3
	Inputs      Inputs
}

// SyntheticSequence generates a sequence of the provided number of poses along which the camera moves by
// the constant relative motion step. Every VO relative pose is perturbed by n.Pose() and every learned
// rotation (both directions) by n.Rotation(); the reported covariances are n.PoseMatrix() and
// n.RotationMatrix(). The calibration set has one pair per frame.
func SyntheticSequence(poses int, step SE3, n Noise) (*Sequence, error) {
	if poses < 2 {
		return nil, errors.Errorf("a sequence requires at least two poses, got %d", poses)
	}
	frames := poses - 1
	seq := &Sequence{GroundTruth: make([]SE3, poses)}
	in := Inputs{
		VO:                     make([]SE3, poses),
		VOCovariances:          make([]mat.Symmetric, frames),
		C21:                    make([]SO3, frames),
		Sigma21:                make([]mat.Symmetric, frames),
		C12:                    make([]SO3, frames),
		Sigma12:                make([]mat.Symmetric, frames),
		CalibrationEstimated:   make([]SO3, frames),
		CalibrationGroundTruth: make([]SO3, frames),
	}
	seq.GroundTruth[0] = IdentitySE3()
	in.VO[0] = IdentitySE3()
	// Poses are chained the same way the fusion pipeline chains them: T_k+1 = T_k ∘ T21⁻¹.
	T21 := step
	for k := 0; k < frames; k++ {
		seq.GroundTruth[k+1] = seq.GroundTruth[k].Compose(T21.Inverse())

		T21VO := ExpSE3(n.Pose()).Compose(T21)
		in.VO[k+1] = in.VO[k].Compose(T21VO.Inverse())
		in.VOCovariances[k] = n.PoseMatrix()

		in.C21[k] = ExpSO3(n.Rotation()).Compose(T21.Rot)
		in.Sigma21[k] = n.RotationMatrix()
		in.C12[k] = ExpSO3(n.Rotation()).Compose(T21.Rot.Inverse())
		in.Sigma12[k] = n.RotationMatrix()

		in.CalibrationEstimated[k] = in.C21[k]
		in.CalibrationGroundTruth[k] = T21.Rot
	}
	seq.Inputs = in
	return seq, nil
}
