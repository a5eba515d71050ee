package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/quadgrid/internal/comparison"
	"github.com/san-kum/quadgrid/internal/optim"
)

func sampleTrajectory() comparison.Trajectory {
	return comparison.Trajectory{
		Name:             "tracking",
		Times:            []float64{0.04, 0.08, 0.12},
		Inputs:           [][]float64{{0.26, 0, 0}, {0.27, 0.1, 0}, {0.26, 0, 0.1}},
		Outputs:          [][]float64{{0, 0, 1.5}, {0, 0.01, 1.51}, {0.01, 0.01, 1.5}},
		Setpoints:        [][]float64{{0, 0, 1.5}, {0, 0, 1.5}, {0, 0, 1.5}},
		TrackingError:    0.012,
		ControlEffort:    0.27,
		SetpointsReached: 1,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	runID, err := s.SaveTrajectory(sampleTrajectory(), 42)
	if err != nil {
		t.Fatalf("SaveTrajectory: %v", err)
	}

	meta, err := s.Load(runID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta.Controller != "tracking" || meta.Seed != 42 || meta.Samples != 3 {
		t.Errorf("metadata = %+v", meta)
	}

	traj, err := s.LoadTrajectory(runID)
	if err != nil {
		t.Fatalf("LoadTrajectory: %v", err)
	}
	if len(traj.Times) != 3 {
		t.Fatalf("got %d samples, want 3", len(traj.Times))
	}
	if traj.Outputs[1][2] != 1.51 || traj.Inputs[1][1] != 0.1 || traj.Setpoints[0][2] != 1.5 {
		t.Errorf("trajectory columns scrambled: %+v", traj)
	}
	if traj.SetpointsReached != 1 || traj.TrackingError != 0.012 {
		t.Errorf("summary fields lost: %+v", traj)
	}
}

func TestStoreList(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	if runs, err := s.List(); err != nil || len(runs) != 0 {
		t.Fatalf("empty store: runs=%v err=%v", runs, err)
	}

	if _, err := s.SaveTrajectory(sampleTrajectory(), 1); err != nil {
		t.Fatal(err)
	}
	traj := sampleTrajectory()
	traj.Name = "ddmpc"
	if _, err := s.SaveTrajectory(traj, 2); err != nil {
		t.Fatal(err)
	}

	runs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
}

func TestSaveDataset(t *testing.T) {
	s := New(t.TempDir())

	path, err := s.SaveDataset(
		[][]float64{{0.26, 0, 0}, {0.27, 0.1, 0}},
		[][]float64{{0, 0, 1.5}, {0, 0.01, 1.51}},
	)
	if err != nil {
		t.Fatalf("SaveDataset: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus 2 samples", len(lines))
	}
	if lines[0] != "u0,u1,u2,y0,y1,y2" {
		t.Errorf("header = %q", lines[0])
	}

	if _, err := s.SaveDataset(nil, nil); err == nil {
		t.Error("empty dataset must be rejected")
	}
	if _, err := s.SaveDataset([][]float64{{1}}, nil); err == nil {
		t.Error("mismatched sample counts must be rejected")
	}
}

func TestStoreListMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-created"))
	runs, err := s.List()
	if err != nil {
		t.Fatalf("List on missing dir: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("got %d runs, want 0", len(runs))
	}
}

func TestResultsDBSweepLifecycle(t *testing.T) {
	db, err := OpenResults(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("OpenResults: %v", err)
	}
	defer db.Close()

	sweepID, err := db.BeginSweep("grid: {}", 4)
	if err != nil {
		t.Fatalf("BeginSweep: %v", err)
	}

	good := optim.Combination{Index: 0, N: 300, Order: 3, Horizon: 15, LambdaAlpha: 1e-4}
	bad := optim.Combination{Index: 1, N: 400, Order: 3, Horizon: 15, LambdaAlpha: 1e-2}

	twoGood := []optim.SetpointResult{
		{Index: 0, OK: true, Steps: 50, FinalDistance: 0.03},
		{Index: 1, OK: true, Steps: 50, FinalDistance: 0.04},
	}
	runs := []optim.RunResult{
		{Combination: good, Replicate: 0, Seed: 10, OK: true, Steps: 100, TrackingError: 0.05, Setpoints: twoGood},
		{Combination: good, Replicate: 1, Seed: 11, OK: true, Steps: 100, TrackingError: 0.06, Setpoints: twoGood},
		{Combination: bad, Replicate: 0, Seed: 12, OK: true, Steps: 100, Setpoints: twoGood},
		{Combination: bad, Replicate: 1, Seed: 13, OK: false, Reason: "crashed", Steps: 31, Setpoints: []optim.SetpointResult{
			{Index: 0, OK: true, Steps: 50, FinalDistance: 0.03},
			{Index: 1, Reason: "crashed", Steps: 6, FinalDistance: 2.1},
		}},
	}
	for _, r := range runs {
		if err := db.RecordRun(sweepID, r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	var rowCount int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM evaluations WHERE sweep_id = ?`, sweepID,
	).Scan(&rowCount); err != nil {
		t.Fatalf("count evaluations: %v", err)
	}
	if rowCount != 8 {
		t.Errorf("got %d evaluation rows, want one per setpoint (8)", rowCount)
	}
	if err := db.FinishSweep(sweepID, 1); err != nil {
		t.Fatalf("FinishSweep: %v", err)
	}

	combs, err := db.SuccessfulCombinations(sweepID)
	if err != nil {
		t.Fatalf("SuccessfulCombinations: %v", err)
	}
	if len(combs) != 1 {
		t.Fatalf("got %d successful combinations, want 1", len(combs))
	}
	if combs[0].Index != 0 || combs[0].N != 300 || combs[0].LambdaAlpha != 1e-4 {
		t.Errorf("wrong combination survived: %+v", combs[0])
	}

	sweeps, err := db.ListSweeps()
	if err != nil {
		t.Fatalf("ListSweeps: %v", err)
	}
	if len(sweeps) != 1 || sweeps[0].TotalRuns != 4 || sweeps[0].SuccessfulCombs != 1 {
		t.Errorf("sweep summary = %+v", sweeps)
	}
}

func TestResultsDBEmptySweep(t *testing.T) {
	db, err := OpenResults(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("OpenResults: %v", err)
	}
	defer db.Close()

	combs, err := db.SuccessfulCombinations(999)
	if err != nil {
		t.Fatalf("SuccessfulCombinations: %v", err)
	}
	if len(combs) != 0 {
		t.Errorf("got %d combinations for unknown sweep, want 0", len(combs))
	}
}

func TestResultsDBRecordsEarlyFailure(t *testing.T) {
	db, err := OpenResults(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("OpenResults: %v", err)
	}
	defer db.Close()

	sweepID, err := db.BeginSweep("grid: {}", 1)
	if err != nil {
		t.Fatalf("BeginSweep: %v", err)
	}

	// failed before reaching any setpoint, e.g. a non-exciting dataset
	r := optim.RunResult{
		Combination: optim.Combination{Index: 0, N: 100, Order: 3, Horizon: 15},
		Seed:        7, Reason: "not_persistently_exciting",
	}
	if err := db.RecordRun(sweepID, r); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	var spIndex int
	var reason string
	if err := db.QueryRow(
		`SELECT setpoint_index, reason FROM evaluations WHERE sweep_id = ?`, sweepID,
	).Scan(&spIndex, &reason); err != nil {
		t.Fatalf("query evaluations: %v", err)
	}
	if spIndex != -1 || reason != "not_persistently_exciting" {
		t.Errorf("early failure row = (%d, %q), want (-1, not_persistently_exciting)", spIndex, reason)
	}

	if combs, err := db.SuccessfulCombinations(sweepID); err != nil || len(combs) != 0 {
		t.Errorf("failed sweep yielded successful combinations: %v err=%v", combs, err)
	}
}
