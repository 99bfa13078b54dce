package posefusion

import (
	"context"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
)

func TestMCRuns(t *testing.T) {
	mcConf := MonteCarloConfig{
		Samples: 4,
		Poses:   50,
		Step:    NewSE3(ExpSO3(r3.Vector{Z: 0.01}), r3.Vector{Z: -1}),
		Q:       ScaledIdentity(6, 1e-4),
		R:       ScaledIdentity(3, 1e-6),
		Seed:    10,
	}
	runs, err := NewMonteCarloRuns(context.Background(), mcConf, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs.Runs) != 4 {
		t.Fatal("requesting 4 runs did not generate four")
	}
	for r, run := range runs.Runs {
		if run.Seed != mcConf.Seed+uint64(r) {
			t.Fatalf("run #%d has seed %d", r, run.Seed)
		}
		if run.Fallbacks != 0 {
			t.Fatalf("run #%d fell back to VO %d times", r, run.Fallbacks)
		}
		if run.Comparison.RotationImprovement() <= 0 {
			t.Fatalf("run #%d: fusion did not improve rotations: %s", r, run.Comparison)
		}
	}
	means, devs := runs.Mean(), runs.StdDev()
	if len(means) != len(MonteCarloHeaders) || len(devs) != len(MonteCarloHeaders) {
		t.Fatal("invalid number of statistics")
	}
	if means[1] >= means[3] {
		t.Fatalf("mean fused rotation RMSE %f is not below VO %f", means[1], means[3])
	}

	lines := strings.Split(runs.AsCSV(), "\n")
	if len(lines) != 7 {
		t.Fatalf("unexpected number of lines in the file: %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "run,fused_trans_rmse") || !strings.HasPrefix(lines[5], "mean,") || !strings.HasPrefix(lines[6], "stddev,") {
		t.Fatalf("unexpected CSV layout:\n%s", runs.AsCSV())
	}

	// Same seeds, same results.
	again, err := NewMonteCarloRuns(context.Background(), mcConf, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.AsCSV() != runs.AsCSV() {
		t.Fatal("Monte Carlo runs are not reproducible")
	}

	if _, err := NewMonteCarloRuns(context.Background(), MonteCarloConfig{}, DefaultConfig(), nil); err == nil {
		t.Fatal("attempting to run zero samples does not fail")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMonteCarloRuns(ctx, mcConf, DefaultConfig(), nil); err == nil {
		t.Fatal("cancelled runs did not fail")
	}
}
