package posefusion

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// sequencePayload is the JSON layout of a sequence. Matrices are stored row-major.
type sequencePayload struct {
	VO            [][]float64 `json:"vo"`             // 4x4 global poses
	VOCovariances [][]float64 `json:"vo_covariances"` // 6x6
	C21           [][]float64 `json:"c21"`            // 3x3
	Sigma21       [][]float64 `json:"sigma21"`        // 3x3
	C12           [][]float64 `json:"c12"`            // 3x3
	Sigma12       [][]float64 `json:"sigma12"`        // 3x3
	Calibration   *struct {
		Estimated   [][]float64 `json:"estimated"`
		GroundTruth [][]float64 `json:"ground_truth"`
	} `json:"calibration,omitempty"`
	GroundTruth [][]float64 `json:"ground_truth,omitempty"` // 4x4 global poses
	FirstPose   []float64   `json:"first_pose,omitempty"`   // 4x4
}

// LoadSequence reads a JSON sequence file.
func LoadSequence(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open sequence")
	}
	defer f.Close()
	seq, err := DecodeSequence(f)
	if err != nil {
		return nil, errors.Wrapf(err, "sequence %s", path)
	}
	return seq, nil
}

// DecodeSequence decodes a JSON sequence. Every malformed matrix is reported in the returned error.
func DecodeSequence(r io.Reader) (*Sequence, error) {
	var p sequencePayload
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}

	d := payloadDecoder{}
	seq := &Sequence{}
	seq.Inputs.VO = d.poses("vo", p.VO)
	seq.Inputs.VOCovariances = d.covariances("vo_covariances", p.VOCovariances, 6)
	seq.Inputs.C21 = d.rotations("c21", p.C21)
	seq.Inputs.Sigma21 = d.covariances("sigma21", p.Sigma21, 3)
	seq.Inputs.C12 = d.rotations("c12", p.C12)
	seq.Inputs.Sigma12 = d.covariances("sigma12", p.Sigma12, 3)
	if p.Calibration != nil {
		seq.Inputs.CalibrationEstimated = d.rotations("calibration.estimated", p.Calibration.Estimated)
		seq.Inputs.CalibrationGroundTruth = d.rotations("calibration.ground_truth", p.Calibration.GroundTruth)
	}
	seq.GroundTruth = d.poses("ground_truth", p.GroundTruth)
	if p.FirstPose != nil {
		if T, ok := d.pose("first_pose", p.FirstPose); ok {
			seq.Inputs.FirstPose = &T
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if len(seq.GroundTruth) > 0 && len(seq.GroundTruth) != len(seq.Inputs.VO) {
		return nil, errors.Wrapf(ErrInvalidInput, "%d ground truth poses for %d VO poses", len(seq.GroundTruth), len(seq.Inputs.VO))
	}
	return seq, nil
}

// payloadDecoder converts the payload matrices and accumulates every problem.
type payloadDecoder struct {
	err error
}

func (d *payloadDecoder) fail(format string, args ...interface{}) {
	d.err = multierr.Append(d.err, errors.Wrapf(ErrInvalidInput, format, args...))
}

func (d *payloadDecoder) dense(name string, vals []float64, r, c int) (*mat.Dense, bool) {
	if len(vals) != r*c {
		d.fail("%s: %d values for a %dx%d matrix", name, len(vals), r, c)
		return nil, false
	}
	m := mat.NewDense(r, c, append([]float64(nil), vals...))
	if !IsFinite(m) {
		d.fail("%s: non-finite values", name)
		return nil, false
	}
	return m, true
}

func (d *payloadDecoder) pose(name string, vals []float64) (SE3, bool) {
	m, ok := d.dense(name, vals, 4, 4)
	if !ok {
		return SE3{}, false
	}
	T, err := SE3FromMatrix(m)
	if err != nil {
		d.fail("%s: %s", name, err)
		return SE3{}, false
	}
	return T, true
}

func (d *payloadDecoder) poses(name string, all [][]float64) []SE3 {
	if len(all) == 0 {
		return nil
	}
	poses := make([]SE3, len(all))
	for i, vals := range all {
		poses[i], _ = d.pose(indexed(name, i), vals)
	}
	return poses
}

func (d *payloadDecoder) rotations(name string, all [][]float64) []SO3 {
	if len(all) == 0 {
		return nil
	}
	rots := make([]SO3, len(all))
	for i, vals := range all {
		m, ok := d.dense(indexed(name, i), vals, 3, 3)
		if !ok {
			continue
		}
		C, err := SO3FromMatrix(m)
		if err != nil {
			d.fail("%s: %s", indexed(name, i), err)
			continue
		}
		rots[i] = C
	}
	return rots
}

// covariances returns the symmetric covariances. Learned covariances may be degenerate, which is handled at
// fusion time, so only their shape and symmetry are checked here.
func (d *payloadDecoder) covariances(name string, all [][]float64, n int) []mat.Symmetric {
	if len(all) == 0 {
		return nil
	}
	covs := make([]mat.Symmetric, len(all))
	for i, vals := range all {
		if len(vals) != n*n {
			d.fail("%s: %d values for a %dx%d matrix", indexed(name, i), len(vals), n, n)
			continue
		}
		sym, err := AsSymDense(mat.NewDense(n, n, append([]float64(nil), vals...)))
		if err != nil {
			d.fail("%s: %s", indexed(name, i), err)
			continue
		}
		covs[i] = sym
	}
	return covs
}

func indexed(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}
