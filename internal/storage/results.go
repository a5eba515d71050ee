package storage

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/san-kum/quadgrid/internal/optim"
)

// ResultsDB persists sweep outcomes to a sqlite file so grids can be
// queried and compared across sessions.
type ResultsDB struct {
	*sql.DB
}

func OpenResults(path string) (*ResultsDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sweeps (
			sweep_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			started           TIMESTAMP,
			config            TEXT,
			total_runs        INTEGER,
			successful_combs  INTEGER,
			finished          TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS evaluations (
			sweep_id          INTEGER,
			comb_index        INTEGER,
			replicate         INTEGER,
			setpoint_index    INTEGER,
			seed              BIGINT,
			n_len             INTEGER,
			sys_order         INTEGER,
			horizon           INTEGER,
			lamb_alpha        DOUBLE,
			lamb_sigma        DOUBLE,
			lamb_alpha_s      DOUBLE,
			lamb_sigma_s      DOUBLE,
			ok                INTEGER,
			reason            TEXT,
			steps             INTEGER,
			final_distance    DOUBLE,
			tracking_error    DOUBLE,
			control_effort    DOUBLE,
			FOREIGN KEY(sweep_id) REFERENCES sweeps(sweep_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ResultsDB{db}, nil
}

// BeginSweep registers a sweep and returns its row ID for the evaluations
// that follow.
func (db *ResultsDB) BeginSweep(configYAML string, totalRuns int) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO sweeps (started, config, total_runs, successful_combs) VALUES (?, ?, ?, 0)`,
		time.Now(), configYAML, totalRuns,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordRun writes one evaluations row per setpoint the run attempted. A run
// that fails before its first setpoint becomes a single row with
// setpoint_index -1 so the failure still shows up in queries.
func (db *ResultsDB) RecordRun(sweepID int64, r optim.RunResult) error {
	insert := func(spIndex int, ok bool, reason string, steps int, finalDist float64) error {
		okInt := 0
		if ok {
			okInt = 1
		}
		_, err := db.Exec(`
			INSERT INTO evaluations (
				sweep_id, comb_index, replicate, setpoint_index, seed,
				n_len, sys_order, horizon,
				lamb_alpha, lamb_sigma, lamb_alpha_s, lamb_sigma_s,
				ok, reason, steps, final_distance, tracking_error, control_effort
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sweepID, r.Combination.Index, r.Replicate, spIndex, r.Seed,
			r.Combination.N, r.Combination.Order, r.Combination.Horizon,
			r.Combination.LambdaAlpha, r.Combination.LambdaSigma,
			r.Combination.LambdaAlphaS, r.Combination.LambdaSigmaS,
			okInt, reason, steps, finalDist, r.TrackingError, r.ControlEffort,
		)
		return err
	}

	if len(r.Setpoints) == 0 {
		return insert(-1, r.OK, r.Reason, r.Steps, 0)
	}
	for _, sp := range r.Setpoints {
		if err := insert(sp.Index, sp.OK, sp.Reason, sp.Steps, sp.FinalDistance); err != nil {
			return err
		}
	}
	return nil
}

func (db *ResultsDB) FinishSweep(sweepID int64, successfulCombs int) error {
	_, err := db.Exec(
		`UPDATE sweeps SET finished = ?, successful_combs = ? WHERE sweep_id = ?`,
		time.Now(), successfulCombs, sweepID,
	)
	return err
}

// SuccessfulCombinations returns the grid points of a sweep where every
// recorded replicate passed.
func (db *ResultsDB) SuccessfulCombinations(sweepID int64) ([]optim.Combination, error) {
	rows, err := db.Query(`
		SELECT comb_index, n_len, sys_order, horizon,
		       lamb_alpha, lamb_sigma, lamb_alpha_s, lamb_sigma_s
		FROM evaluations
		WHERE sweep_id = ?
		GROUP BY comb_index
		HAVING MIN(ok) = 1
		ORDER BY comb_index`,
		sweepID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []optim.Combination
	for rows.Next() {
		var c optim.Combination
		if err := rows.Scan(&c.Index, &c.N, &c.Order, &c.Horizon,
			&c.LambdaAlpha, &c.LambdaSigma, &c.LambdaAlphaS, &c.LambdaSigmaS); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SweepSummary is one row of the sweeps table.
type SweepSummary struct {
	ID              int64
	Started         time.Time
	TotalRuns       int
	SuccessfulCombs int
}

func (db *ResultsDB) ListSweeps() ([]SweepSummary, error) {
	rows, err := db.Query(
		`SELECT sweep_id, started, total_runs, successful_combs FROM sweeps ORDER BY sweep_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SweepSummary
	for rows.Next() {
		var s SweepSummary
		if err := rows.Scan(&s.ID, &s.Started, &s.TotalRuns, &s.SuccessfulCombs); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
