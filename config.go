package posefusion

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// DefaultDeterminantThreshold is the determinant above which a learned covariance is rejected.
	DefaultDeterminantThreshold = 1e-4
	// DefaultProgressEvery is the number of frames between two progress log lines.
	DefaultProgressEvery = 100
)

// LossConfig selects the robust loss applied to the learned-rotation residuals.
type LossConfig struct {
	Type  string  `json:"type"`
	Param float64 `json:"param,omitempty"`
}

// Config configures a fusion Pipeline.
type Config struct {
	AddReverseFactor               bool       `json:"add_reverse_factor"`
	Loss                           LossConfig `json:"loss"`
	MaxIterations                  int        `json:"max_iterations"`
	Tolerance                      float64    `json:"tolerance"`
	DeterminantThreshold           float64    `json:"determinant_threshold"`
	ProgressEvery                  int        `json:"progress_every"`
	SubstituteCalibratedCovariance bool       `json:"substitute_calibrated_covariance"`
}

// DefaultConfig returns the default configuration: reverse factor enabled, plain least squares.
func DefaultConfig() Config {
	return Config{
		AddReverseFactor:     true,
		Loss:                 LossConfig{Type: "l2"},
		MaxIterations:        DefaultMaxIterations,
		Tolerance:            DefaultTolerance,
		DeterminantThreshold: DefaultDeterminantThreshold,
		ProgressEvery:        DefaultProgressEvery,
	}
}

// LoadConfig reads a JSON configuration file. Fields missing from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return conf, errors.Wrap(err, "cannot read config")
	}
	if err := json.Unmarshal(data, &conf); err != nil {
		return conf, errors.Wrapf(err, "cannot parse config %s", path)
	}
	return conf, conf.Validate()
}

// Validate returns every problem of the configuration at once.
func (c Config) Validate() error {
	var err error
	if c.MaxIterations <= 0 {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfig, "max_iterations must be positive, got %d", c.MaxIterations))
	}
	if !(c.Tolerance > 0) || math.IsInf(c.Tolerance, 0) {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfig, "tolerance must be positive and finite, got %g", c.Tolerance))
	}
	if !(c.DeterminantThreshold > 0) || math.IsInf(c.DeterminantThreshold, 0) {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfig, "determinant_threshold must be positive and finite, got %g", c.DeterminantThreshold))
	}
	if c.ProgressEvery < 0 {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfig, "progress_every cannot be negative, got %d", c.ProgressEvery))
	}
	if _, lerr := c.RobustLoss(); lerr != nil {
		err = multierr.Append(err, errors.Wrap(ErrInvalidConfig, lerr.Error()))
	}
	return err
}

// RobustLoss builds the configured loss.
func (c Config) RobustLoss() (Loss, error) {
	return NewLoss(c.Loss.Type, c.Loss.Param)
}

// SolverOptions returns the solver options of this configuration.
func (c Config) SolverOptions() (SolverOptions, error) {
	loss, err := c.RobustLoss()
	if err != nil {
		return SolverOptions{}, err
	}
	return SolverOptions{MaxIterations: c.MaxIterations, Tolerance: c.Tolerance, Loss: loss}, nil
}
