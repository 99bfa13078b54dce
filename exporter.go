package posefusion

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// Exporter defines an export interface.
type Exporter interface {
	Write(SE3) error
	Close() error
}

// CSVExporter exports poses as lines of the 12 row-major values of their 3x4 matrix [C|t] (KITTI layout).
type CSVExporter struct {
	delimiter string
	hdlr      *os.File
}

// Close closes the file.
func (e CSVExporter) Close() (err error) {
	err = e.WriteRawLn(fmt.Sprintf("# Closing date (UTC): %s", time.Now().UTC()))
	return multierr.Append(err, e.hdlr.Close())
}

// Write writes the pose to the CSV file.
func (e CSVExporter) Write(T SE3) error {
	vals := make([]string, 0, 12)
	t := [3]float64{T.Trans.X, T.Trans.Y, T.Trans.Z}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			vals = append(vals, fmt.Sprintf("%.9e", T.Rot.At(i, j)))
		}
		vals = append(vals, fmt.Sprintf("%.9e", t[i]))
	}
	_, err := e.hdlr.WriteString(strings.Join(vals, e.delimiter) + "\n")
	return err
}

// WriteRawLn writes a raw line to the CSV file.
func (e CSVExporter) WriteRawLn(s string) error {
	_, err := e.hdlr.WriteString(s + "\n")
	return err
}

// NewCSVExporter initializes a new CSV export.
func NewCSVExporter(dir, filename string) (*CSVExporter, error) {
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create export file")
	}
	e := &CSVExporter{",", f}
	if err := e.WriteRawLn(fmt.Sprintf("# Creation date (UTC): %s", time.Now().UTC())); err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	return e, nil
}

// ExportTrajectory writes every pose of the trajectory and closes the exporter.
func ExportTrajectory(e Exporter, traj *Trajectory) (err error) {
	defer func() {
		err = multierr.Append(err, e.Close())
	}()
	for k := 0; k < traj.Len(); k++ {
		if err = e.Write(traj.At(k)); err != nil {
			return errors.Wrapf(err, "pose %d", k)
		}
	}
	return nil
}

// ReadCSVTrajectory reads back poses written by a CSVExporter. Comment lines starting with '#' are skipped.
func ReadCSVTrajectory(path string) ([]SE3, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read trajectory")
	}
	var poses []SE3
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 12 {
			return nil, errors.Wrapf(ErrInvalidInput, "line %d has %d values", n+1, len(fields))
		}
		vals := make([]float64, 12)
		for i, f := range fields {
			if vals[i], err = strconv.ParseFloat(strings.TrimSpace(f), 64); err != nil {
				return nil, errors.Wrapf(ErrInvalidInput, "line %d: %s", n+1, err)
			}
		}
		T, err := SE3FromMatrix(mat.NewDense(3, 4, vals))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", n+1)
		}
		poses = append(poses, T)
	}
	return poses, nil
}
