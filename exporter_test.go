package posefusion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

func TestImplementsExporter(t *testing.T) {
	implements := func(Exporter) {}
	implements(new(CSVExporter))
}

func TestCSVExportFail(t *testing.T) {
	_, err := NewCSVExporter("/noNoNoNo/", "temp.csv")
	if err == nil {
		t.Fatal("no issue when trying to create a file in a missing directory")
	}
}

func TestCSVExport(t *testing.T) {
	dir := t.TempDir()
	ce, err := NewCSVExporter(dir, "temp.csv")
	if err != nil {
		t.Fatalf("could not create file %s", err)
	}
	traj := NewTrajectory(IdentitySE3())
	traj.Append(NewSE3(ExpSO3(r3.Vector{X: 0.1, Y: -0.2, Z: 0.3}), r3.Vector{X: 1.5, Y: -2, Z: 1e-7}))
	traj.Append(NewSE3(ExpSO3(r3.Vector{Z: 3}), r3.Vector{X: -300, Y: 12.25, Z: 4}))
	if err := ExportTrajectory(ce, traj); err != nil {
		t.Fatalf("could not export trajectory %s", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "temp.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "# Creation date") || !strings.HasPrefix(lines[4], "# Closing date") {
		t.Fatalf("missing comments:\n%s", data)
	}
	if exp := "1.000000000e+00,0.000000000e+00,0.000000000e+00,0.000000000e+00"; !strings.HasPrefix(lines[1], exp) {
		t.Fatalf("unexpected identity line %s", lines[1])
	}

	poses, err := ReadCSVTrajectory(filepath.Join(dir, "temp.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(poses) != traj.Len() {
		t.Fatalf("read %d poses, wrote %d", len(poses), traj.Len())
	}
	for k, T := range poses {
		assertSE3Equal(t, "read back", T, traj.At(k), 1e-6)
	}
}

func TestReadCSVTrajectoryInvalid(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"short.csv": "# comment\n1,0,0,0,0,1,0,0,0,0,1\n",
		"nan.csv":   "1,0,0,0,0,1,0,0,0,0,one,0\n",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadCSVTrajectory(path); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
	if _, err := ReadCSVTrajectory(filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatal("missing file read")
	}
}
