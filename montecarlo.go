package posefusion

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MonteCarloHeaders names the values stored for each run, in order.
var MonteCarloHeaders = []string{"fused_trans_rmse", "fused_rot_rmse", "vo_trans_rmse", "vo_rot_rmse", "vo_only_frames"}

// MonteCarloConfig defines a set of Monte Carlo runs over synthetic sequences.
type MonteCarloConfig struct {
	Samples int           // Number of independent sequences.
	Poses   int           // Poses per sequence.
	Step    SE3           // Ground truth relative motion T21 between consecutive poses.
	Q       mat.Symmetric // 6x6 VO noise covariance.
	R       mat.Symmetric // 3x3 learned rotation noise covariance.
	Seed    uint64        // Run i uses the seed Seed+i.
	Unit    AngleUnit
}

// MonteCarloRuns stores MC runs.
type MonteCarloRuns struct {
	runs int
	Runs []MonteCarloRun
}

// MonteCarloRun stores the results of an MC run.
type MonteCarloRun struct {
	Seed       uint64
	Comparison BaselineComparison
	Fallbacks  int
}

func (r MonteCarloRun) values() []float64 {
	c := r.Comparison
	return []float64{c.Fused.RMSETranslation, c.Fused.RMSERotation, c.Baseline.RMSETranslation, c.Baseline.RMSERotation, float64(r.Fallbacks)}
}

// samples returns the values of all the runs, one slice per header.
func (mc MonteCarloRuns) samples() [][]float64 {
	cols := make([][]float64, len(MonteCarloHeaders))
	for i := range cols {
		cols[i] = make([]float64, len(mc.Runs))
	}
	for r, run := range mc.Runs {
		for i, v := range run.values() {
			cols[i][r] = v
		}
	}
	return cols
}

// Mean returns the mean of every value over all the runs.
func (mc MonteCarloRuns) Mean() []float64 {
	cols := mc.samples()
	means := make([]float64, len(cols))
	for i, col := range cols {
		means[i] = stat.Mean(col, nil)
	}
	return means
}

// StdDev returns the standard deviation of every value over all the runs.
func (mc MonteCarloRuns) StdDev() []float64 {
	cols := mc.samples()
	devs := make([]float64, len(cols))
	for i, col := range cols {
		devs[i] = stat.StdDev(col, nil)
	}
	return devs
}

// AsCSV is used as a CSV serializer: one line per run, then the mean and the standard deviation.
func (mc MonteCarloRuns) AsCSV() string {
	lines := make([]string, 0, mc.runs+3)
	lines = append(lines, "run,"+strings.Join(MonteCarloHeaders, ","))
	row := func(name string, vals []float64) string {
		strs := make([]string, len(vals))
		for i, v := range vals {
			strs[i] = fmt.Sprintf("%f", v)
		}
		return name + "," + strings.Join(strs, ",")
	}
	for rNo, run := range mc.Runs {
		lines = append(lines, row(fmt.Sprintf("%d", rNo), run.values()))
	}
	lines = append(lines, row("mean", mc.Mean()), row("stddev", mc.StdDev()))
	return strings.Join(lines, "\n")
}

// NewMonteCarloRuns fuses independent synthetic sequences in parallel and compares each fused trajectory to
// its VO baseline. Every run owns its noise source, pipeline and solver. The logger may be nil.
func NewMonteCarloRuns(ctx context.Context, mcConf MonteCarloConfig, conf Config, logger *zap.SugaredLogger) (MonteCarloRuns, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if mcConf.Samples < 1 {
		return MonteCarloRuns{}, errors.Errorf("must run at least one sample, got %d", mcConf.Samples)
	}
	if mcConf.Unit == 0 {
		mcConf.Unit = Radians
	}
	runs := make([]MonteCarloRun, mcConf.Samples)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for sample := 0; sample < mcConf.Samples; sample++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seed := mcConf.Seed + uint64(sample)
			noise, err := NewAWGN(mcConf.Q, mcConf.R, seed)
			if err != nil {
				return err
			}
			seq, err := SyntheticSequence(mcConf.Poses, mcConf.Step, noise)
			if err != nil {
				return err
			}
			pipeline, err := NewPipeline(seq.Inputs, conf, logger.With("run", sample))
			if err != nil {
				return errors.Wrapf(err, "run %d", sample)
			}
			traj, err := pipeline.ComputeFusedEstimates()
			if err != nil {
				return errors.Wrapf(err, "run %d", sample)
			}
			cmp, err := NewGroundTruth(seq.GroundTruth).CompareToBaseline(traj.Poses(), seq.Inputs.VO, mcConf.Unit)
			if err != nil {
				return errors.Wrapf(err, "run %d", sample)
			}
			fallbacks := 0
			for _, o := range pipeline.Outcomes() {
				if o.Kind == VOOnly {
					fallbacks++
				}
			}
			runs[sample] = MonteCarloRun{Seed: seed, Comparison: cmp, Fallbacks: fallbacks}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MonteCarloRuns{}, err
	}
	return MonteCarloRuns{mcConf.Samples, runs}, nil
}
