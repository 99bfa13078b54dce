package posefusion

import (
	"fmt"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// FrameKind allows for quick comparison of frame outcomes.
type FrameKind uint8

const (
	// FusedResidual means that the relative pose was refined by the solver.
	FusedResidual FrameKind = iota + 1
	// VOOnly means that the learned rotation was discarded and the VO relative pose used as is.
	VOOnly
)

func (k FrameKind) String() string {
	switch k {
	case FusedResidual:
		return "fused"
	case VOOnly:
		return "VO only"
	default:
		return fmt.Sprintf("FrameKind(%d)", uint8(k))
	}
}

// FrameOutcome is returned by every call to Fuse.
type FrameOutcome struct {
	Index   int       // Index of the first pose of the frame pair.
	Kind    FrameKind // Exhaustive: either FusedResidual or VOOnly.
	T21     SE3       // Corrected relative pose, equal to T21VO for VOOnly frames.
	T21VO   SE3       // Raw VO relative pose.
	Reason  error     // Why the learned rotation was discarded, nil for fused frames.
	Summary SolveSummary
}

func (o FrameOutcome) String() string {
	if o.Kind == VOOnly {
		return fmt.Sprintf("frame %d: %s (%s)", o.Index, o.Kind, o.Reason)
	}
	return fmt.Sprintf("frame %d: %s, %s", o.Index, o.Kind, o.Summary)
}

// Trajectory is a growing sequence of global poses. Poses are only ever appended.
type Trajectory struct {
	poses []SE3
}

// NewTrajectory returns a trajectory starting at the provided pose.
func NewTrajectory(first SE3) *Trajectory {
	return &Trajectory{poses: []SE3{first}}
}

// Len returns the number of poses.
func (t *Trajectory) Len() int {
	return len(t.poses)
}

// At returns the i-th pose.
func (t *Trajectory) At(i int) SE3 {
	return t.poses[i]
}

// Last returns the last pose.
func (t *Trajectory) Last() SE3 {
	return t.poses[len(t.poses)-1]
}

// Poses returns a copy of all the poses.
func (t *Trajectory) Poses() []SE3 {
	return append([]SE3(nil), t.poses...)
}

// Append adds a pose at the end of the trajectory.
func (t *Trajectory) Append(T SE3) {
	t.poses = append(t.poses, T)
}

// Inputs gathers what the VO estimator and the rotation predictor provide for a sequence. Per-frame slices
// (covariances and learned rotations) have one entry per consecutive pair of VO poses.
type Inputs struct {
	VO            []SE3           // Raw VO global poses.
	VOCovariances []mat.Symmetric // 6x6 covariances of the VO relative poses.
	C21           []SO3           // Learned forward relative rotations.
	Sigma21       []mat.Symmetric // 3x3 covariances of C21.
	C12           []SO3           // Learned reverse relative rotations, only required with the reverse factor.
	Sigma12       []mat.Symmetric // 3x3 covariances of C12.
	// Optional calibration set of the predictor.
	CalibrationEstimated   []SO3
	CalibrationGroundTruth []SO3
	// FirstPose is the first pose of the fused trajectory. Defaults to VO[0].
	FirstPose *SE3
}

// Frames returns the number of frames to fuse.
func (in Inputs) Frames() int {
	if len(in.VO) == 0 {
		return 0
	}
	return len(in.VO) - 1
}

// Validate returns every problem of the inputs at once.
func (in Inputs) Validate(conf Config) error {
	var err error
	invalid := func(format string, args ...interface{}) {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidInput, format, args...))
	}
	if len(in.VO) < 2 {
		invalid("at least two VO poses are required, got %d", len(in.VO))
	}
	k := in.Frames()
	if len(in.VOCovariances) != k {
		invalid("%d VO covariances for %d frames", len(in.VOCovariances), k)
	}
	if len(in.C21) != k {
		invalid("%d forward learned rotations for %d frames", len(in.C21), k)
	}
	if !conf.SubstituteCalibratedCovariance && len(in.Sigma21) != k {
		invalid("%d forward learned covariances for %d frames", len(in.Sigma21), k)
	}
	if conf.AddReverseFactor {
		if len(in.C12) != k {
			invalid("%d reverse learned rotations for %d frames", len(in.C12), k)
		}
		if !conf.SubstituteCalibratedCovariance && len(in.Sigma12) != k {
			invalid("%d reverse learned covariances for %d frames", len(in.Sigma12), k)
		}
	}
	if len(in.CalibrationEstimated) != len(in.CalibrationGroundTruth) {
		invalid("%d calibration rotations for %d ground truth rotations", len(in.CalibrationEstimated), len(in.CalibrationGroundTruth))
	}
	if conf.SubstituteCalibratedCovariance && len(in.CalibrationEstimated) == 0 {
		invalid("substituting the calibrated covariance requires a calibration set")
	}
	for i, cov := range in.VOCovariances {
		if cov == nil {
			invalid("VO covariance %d is missing", i)
		} else if cerr := checkSquare(cov, fmt.Sprintf("VO covariance %d", i), 6); cerr != nil {
			invalid("%s", cerr)
		}
	}
	for _, set := range []struct {
		name string
		covs []mat.Symmetric
	}{{"Sigma21", in.Sigma21}, {"Sigma12", in.Sigma12}} {
		for i, cov := range set.covs {
			if cov == nil {
				invalid("%s %d is missing", set.name, i)
			} else if cerr := checkSquare(cov, fmt.Sprintf("%s %d", set.name, i), 3); cerr != nil {
				invalid("%s", cerr)
			}
		}
	}
	return err
}

// PreparedFrame is the part of a frame that only depends on the raw inputs.
type PreparedFrame struct {
	Index       int
	T21VO       SE3
	VOStiffness *mat.SymDense
	Stiffness21 *mat.SymDense // nil when the frame falls back to VO only
	Stiffness12 *mat.SymDense // nil when the reverse factor is disabled or its covariance is invalid
	Fallback    error         // Why the frame falls back to VO only, nil otherwise.
}

// Fused returns whether this frame will be refined by the solver.
func (f PreparedFrame) Fused() bool {
	return f.Fallback == nil
}

// ValidateLearnedCovariance returns the stiffness of a learned rotation covariance. The covariance is rejected
// when its inverse square root is not real or when its determinant is above the provided threshold.
func ValidateLearnedCovariance(sigma mat.Symmetric, detThreshold float64) (*mat.SymDense, error) {
	W, err := InvSqrt(sigma)
	if err != nil {
		return nil, err
	}
	if det := mat.Det(sigma); det > detThreshold {
		return nil, errors.Wrapf(ErrDeterminantThreshold, "%g > %g", det, detThreshold)
	}
	return W, nil
}

// PrepareFrames computes the VO relative poses and the validity of the learned covariances of every frame. The
// frames are independent of one another and prepared concurrently. A VO covariance without a real inverse
// square root is a malformed input; all such problems are returned together.
func PrepareFrames(in Inputs, conf Config, calibrated mat.Symmetric) ([]PreparedFrame, error) {
	k := in.Frames()
	frames := make([]PreparedFrame, k)
	errs := make([]error, k)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < k; i++ {
		g.Go(func() error {
			f := PreparedFrame{Index: i, T21VO: in.VO[i+1].Inverse().Compose(in.VO[i])}
			W, err := InvSqrt(in.VOCovariances[i])
			if err != nil {
				errs[i] = errors.Wrapf(ErrInvalidInput, "VO covariance %d: %s", i, err)
				return nil
			}
			f.VOStiffness = W

			sigma21 := calibrated
			if sigma21 == nil {
				sigma21 = in.Sigma21[i]
			}
			if f.Stiffness21, f.Fallback = ValidateLearnedCovariance(sigma21, conf.DeterminantThreshold); f.Fallback != nil {
				frames[i] = f
				return nil
			}
			if conf.AddReverseFactor {
				sigma12 := calibrated
				if sigma12 == nil {
					sigma12 = in.Sigma12[i]
				}
				// An invalid reverse covariance only drops the reverse factor.
				f.Stiffness12, _ = ValidateLearnedCovariance(sigma12, conf.DeterminantThreshold)
			}
			frames[i] = f
			return nil
		})
	}
	_ = g.Wait()
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}
	return frames, nil
}

// Pipeline fuses a sequence frame by frame. It owns a single solver and is not safe for concurrent use;
// independent sequences must use independent pipelines.
type Pipeline struct {
	conf        Config
	in          Inputs
	frames      []PreparedFrame
	solver      *Solver
	calibration *Calibration
	outcomes    []FrameOutcome
	logger      *zap.SugaredLogger
}

// NewPipeline returns a new fusion pipeline. The inputs and configuration are validated, the predictor is
// calibrated when a calibration set is provided and all frames are prepared before anything is fused.
// The logger may be nil.
func NewPipeline(in Inputs, conf Config, logger *zap.SugaredLogger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := multierr.Combine(conf.Validate(), in.Validate(conf)); err != nil {
		return nil, err
	}
	opts, err := conf.SolverOptions()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{conf: conf, in: in, solver: NewSolver(opts), logger: logger}
	if len(in.CalibrationEstimated) > 0 {
		if p.calibration, err = Calibrate(in.CalibrationEstimated, in.CalibrationGroundTruth); err != nil {
			return nil, err
		}
		logger.Infow("calibrated rotation predictor",
			"pairs", p.calibration.Len(),
			"bias_rad", p.calibration.Bias.Angle(),
			"covariance_det", mat.Det(p.calibration.Covariance))
	}

	var calibrated mat.Symmetric
	if conf.SubstituteCalibratedCovariance {
		calibrated = p.calibration.Covariance
	}
	if p.frames, err = PrepareFrames(in, conf, calibrated); err != nil {
		return nil, err
	}
	return p, nil
}

// Calibration returns the predictor calibration, nil when no calibration set was provided.
func (p *Pipeline) Calibration() *Calibration {
	return p.calibration
}

// Frames returns the prepared frames.
func (p *Pipeline) Frames() []PreparedFrame {
	return p.frames
}

// Outcomes returns the outcomes of every frame fused so far.
func (p *Pipeline) Outcomes() []FrameOutcome {
	return p.outcomes
}

// NewTrajectory returns an empty fused trajectory, i.e. containing only the first pose.
func (p *Pipeline) NewTrajectory() *Trajectory {
	if p.in.FirstPose != nil {
		return NewTrajectory(*p.in.FirstPose)
	}
	return NewTrajectory(p.in.VO[0])
}

// Fuse processes the frame following the last pose of traj and appends the corrected pose to it.
func (p *Pipeline) Fuse(traj *Trajectory) (FrameOutcome, error) {
	i := traj.Len() - 1
	if i < 0 {
		return FrameOutcome{}, errors.Wrap(ErrInvalidInput, "empty trajectory")
	}
	if i >= len(p.frames) {
		return FrameOutcome{}, ErrSequenceDone
	}
	f := p.frames[i]
	outcome := FrameOutcome{Index: i, T21VO: f.T21VO}

	if !f.Fused() {
		outcome.Kind = VOOnly
		outcome.T21 = f.T21VO
		outcome.Reason = f.Fallback
		p.logger.Debugw("falling back to VO only", "frame", i, "reason", f.Fallback)
	} else {
		T21, err := p.solve(f)
		if err != nil {
			return FrameOutcome{}, err
		}
		outcome.Kind = FusedResidual
		outcome.T21 = T21
		outcome.Summary = p.solver.Summary()
	}

	traj.Append(traj.Last().Compose(outcome.T21.Inverse()))
	p.outcomes = append(p.outcomes, outcome)
	return outcome, nil
}

func (p *Pipeline) solve(f PreparedFrame) (SE3, error) {
	p.solver.Reset()
	p.solver.SetPriors(IdentitySE3(), f.T21VO.Inverse())
	if err := p.solver.AddPoseResidual(f.T21VO, f.VOStiffness); err != nil {
		return SE3{}, err
	}
	if err := p.solver.AddOrientationResidual(p.in.C21[f.Index], f.Stiffness21, false); err != nil {
		return SE3{}, err
	}
	if p.conf.AddReverseFactor && f.Stiffness12 != nil {
		if err := p.solver.AddOrientationResidual(p.in.C12[f.Index], f.Stiffness12, true); err != nil {
			return SE3{}, err
		}
	}
	return p.solver.Solve()
}

// ComputeFusedEstimates fuses every frame of the sequence and returns the fused trajectory, which has as many
// poses as the VO trajectory.
func (p *Pipeline) ComputeFusedEstimates() (*Trajectory, error) {
	traj := p.NewTrajectory()
	total := len(p.in.VO)
	start := time.Now()
	fallbacks := 0
	for poseI := 1; poseI < total; poseI++ {
		outcome, err := p.Fuse(traj)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", poseI-1)
		}
		if outcome.Kind == VOOnly {
			fallbacks++
		}
		if every := p.conf.ProgressEvery; every > 0 && poseI%every == 0 {
			p.logger.Infow("processing pose",
				"pose", poseI,
				"total", total,
				"avg_freq_hz", float64(every)/time.Since(start).Seconds())
			start = time.Now()
		}
	}
	p.logger.Infow("fusion done", "poses", traj.Len(), "vo_only_frames", fallbacks)
	return traj, nil
}
