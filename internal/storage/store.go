package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/san-kum/quadgrid/internal/comparison"
)

// Store keeps each recorded run in its own directory under baseDir:
// metadata.json with the run summary, trajectory.csv with the samples.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Controller string             `json:"controller"`
	Timestamp  time.Time          `json:"timestamp"`
	Seed       int64              `json:"seed"`
	Samples    int                `json:"samples"`
	Crashed    bool               `json:"crashed"`
	Reached    int                `json:"setpoints_reached"`
	Metrics    map[string]float64 `json:"metrics"`
}

// SaveTrajectory writes one comparison trajectory as a run directory and
// returns the run ID.
func (s *Store) SaveTrajectory(traj comparison.Trajectory, seed int64) (string, error) {
	runID := fmt.Sprintf("%s_%d", traj.Name, time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:         runID,
		Controller: traj.Name,
		Timestamp:  time.Now(),
		Seed:       seed,
		Samples:    len(traj.Times),
		Crashed:    traj.Crashed,
		Reached:    traj.SetpointsReached,
		Metrics: map[string]float64{
			"tracking_error": traj.TrackingError,
			"control_effort": traj.ControlEffort,
			"settling_steps": traj.SettlingSteps,
		},
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "trajectory.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if len(traj.Times) == 0 {
		return runID, nil
	}

	header := []string{"time"}
	for i := range traj.Outputs[0] {
		header = append(header, fmt.Sprintf("y%d", i))
	}
	for i := range traj.Inputs[0] {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	for i := range traj.Setpoints[0] {
		header = append(header, fmt.Sprintf("sp%d", i))
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i := range traj.Times {
		row := []string{strconv.FormatFloat(traj.Times[i], 'f', 6, 64)}
		for _, v := range traj.Outputs[i] {
			row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
		}
		for _, v := range traj.Inputs[i] {
			row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
		}
		for _, v := range traj.Setpoints[i] {
			row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, nil
}

// SaveDataset writes collected input/output samples to a CSV file under
// baseDir and returns its path.
func (s *Store) SaveDataset(inputs, outputs [][]float64) (string, error) {
	if len(inputs) == 0 || len(inputs) != len(outputs) {
		return "", fmt.Errorf("dataset needs matching input/output samples, got %d/%d",
			len(inputs), len(outputs))
	}
	if err := s.Init(); err != nil {
		return "", err
	}

	path := filepath.Join(s.baseDir, fmt.Sprintf("dataset_%d.csv", time.Now().UnixNano()))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{}
	for i := range inputs[0] {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	for i := range outputs[0] {
		header = append(header, fmt.Sprintf("y%d", i))
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i := range inputs {
		row := make([]string, 0, len(header))
		for _, v := range inputs[i] {
			row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
		}
		for _, v := range outputs[i] {
			row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadTrajectory reads back a recorded run. Column roles are recovered from
// the header prefixes.
func (s *Store) LoadTrajectory(runID string) (*comparison.Trajectory, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.baseDir, runID, "trajectory.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	traj := &comparison.Trajectory{
		Name:             meta.Controller,
		Crashed:          meta.Crashed,
		SetpointsReached: meta.Reached,
		TrackingError:    meta.Metrics["tracking_error"],
		ControlEffort:    meta.Metrics["control_effort"],
		SettlingSteps:    meta.Metrics["settling_steps"],
	}
	if len(records) < 2 {
		return traj, nil
	}

	header := records[0]
	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			continue
		}
		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			continue
		}
		traj.Times = append(traj.Times, t)

		var y, u, sp []float64
		for j := 1; j < len(rec); j++ {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				continue
			}
			switch header[j][0] {
			case 'y':
				y = append(y, v)
			case 'u':
				u = append(u, v)
			case 's':
				sp = append(sp, v)
			}
		}
		traj.Outputs = append(traj.Outputs, y)
		traj.Inputs = append(traj.Inputs, u)
		traj.Setpoints = append(traj.Setpoints, sp)
	}
	return traj, nil
}
