package posefusion

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AngleUnit defines the unit of reported rotation errors.
type AngleUnit uint8

const (
	// Radians definition would be a tautology
	Radians AngleUnit = iota + 1
	// Degrees definition would be a tautology
	Degrees
)

func (u AngleUnit) String() string {
	if u == Degrees {
		return "deg"
	}
	return "rad"
}

func (u AngleUnit) convert(rad float64) float64 {
	if u == Degrees {
		return rad * 180 / math.Pi
	}
	return rad
}

// GroundTruth computes the error of estimated trajectories from a known trajectory.
type GroundTruth struct {
	poses []SE3
}

// NewGroundTruth initializes a new ground truth trajectory.
func NewGroundTruth(poses []SE3) *GroundTruth {
	return &GroundTruth{poses}
}

// Error returns the translation error norm and the rotation error angle (in radians) of the estimated pose k.
func (t *GroundTruth) Error(k int, est SE3) (trans, rot float64) {
	gt := t.poses[k]
	trans = est.Trans.Sub(gt.Trans).Norm()
	rot = est.Rot.Compose(gt.Rot.Inverse()).Angle()
	return
}

// Errors returns the per-pose errors of the provided trajectory, which must have as many poses as the ground
// truth.
func (t *GroundTruth) Errors(est []SE3) (*TrajectoryErrors, error) {
	if len(est) != len(t.poses) {
		return nil, errors.Errorf("ground truth has %d poses, estimate has %d", len(t.poses), len(est))
	}
	if len(est) == 0 {
		return nil, errors.New("empty trajectory")
	}
	errs := &TrajectoryErrors{Translation: make([]float64, len(est)), Rotation: make([]float64, len(est))}
	for k, T := range est {
		errs.Translation[k], errs.Rotation[k] = t.Error(k, T)
	}
	return errs, nil
}

// CompareToBaseline returns the metrics of the fused trajectory and of a baseline (e.g. raw VO) trajectory.
func (t *GroundTruth) CompareToBaseline(fused, baseline []SE3, unit AngleUnit) (BaselineComparison, error) {
	fErrs, err := t.Errors(fused)
	if err != nil {
		return BaselineComparison{}, errors.Wrap(err, "fused")
	}
	bErrs, err := t.Errors(baseline)
	if err != nil {
		return BaselineComparison{}, errors.Wrap(err, "baseline")
	}
	return BaselineComparison{Fused: fErrs.Metrics(unit), Baseline: bErrs.Metrics(unit)}, nil
}

// TrajectoryErrors stores the per-pose errors of a trajectory. Rotations are in radians.
type TrajectoryErrors struct {
	Translation []float64
	Rotation    []float64
}

// Metrics returns the mean and root mean square errors.
func (e *TrajectoryErrors) Metrics(unit AngleUnit) Metrics {
	rot := make([]float64, len(e.Rotation))
	for i, r := range e.Rotation {
		rot[i] = unit.convert(r)
	}
	return Metrics{
		MeanTranslation: stat.Mean(e.Translation, nil),
		MeanRotation:    stat.Mean(rot, nil),
		RMSETranslation: rms(e.Translation),
		RMSERotation:    rms(rot),
		Unit:            unit,
	}
}

func rms(x []float64) float64 {
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

// Metrics summarizes the errors of a trajectory.
type Metrics struct {
	MeanTranslation float64
	MeanRotation    float64
	RMSETranslation float64
	RMSERotation    float64
	Unit            AngleUnit
}

func (m Metrics) String() string {
	return fmt.Sprintf("trans mean %.4f RMSE %.4f | rot mean %.4f RMSE %.4f [%s]", m.MeanTranslation, m.RMSETranslation, m.MeanRotation, m.RMSERotation, m.Unit)
}

// BaselineComparison compares the fused trajectory to a baseline.
type BaselineComparison struct {
	Fused, Baseline Metrics
}

// RotationImprovement returns how much the rotation RMSE decreased with respect to the baseline.
func (c BaselineComparison) RotationImprovement() float64 {
	return c.Baseline.RMSERotation - c.Fused.RMSERotation
}

// TranslationImprovement returns how much the translation RMSE decreased with respect to the baseline.
func (c BaselineComparison) TranslationImprovement() float64 {
	return c.Baseline.RMSETranslation - c.Fused.RMSETranslation
}

func (c BaselineComparison) String() string {
	return fmt.Sprintf("Trans: %.3f / %.3f | Rot: %.3f / %.3f", c.Fused.RMSETranslation, c.Baseline.RMSETranslation, c.Fused.RMSERotation, c.Baseline.RMSERotation)
}
