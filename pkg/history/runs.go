package history

import (
	"database/sql"
	"strings"
	"time"

	"github.com/odvcencio/bowline/pkg/errors"
)

// Run status values.
const (
	RunStatusPassed = "passed"
	RunStatusFailed = "failed"
)

// Run is one persisted run with its aggregate counts.
type Run struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"startedAt"`
	Status           string        `json:"status"`
	Driver           string        `json:"driver,omitempty"`
	Browsers         int           `json:"browsers"`
	Suites           int           `json:"suites"`
	Tests            int           `json:"tests"`
	Passed           int           `json:"passed"`
	Failed           int           `json:"failed"`
	Assertions       int           `json:"assertions"`
	AssertionsFailed int           `json:"assertionsFailed"`
	Elapsed          time.Duration `json:"elapsed"`

	// Outcomes holds per-test results in run order. Populated by GetRun;
	// RecentRuns leaves it empty.
	Outcomes []TestOutcome `json:"outcomes,omitempty"`
}

// TestOutcome is one test's result within a run.
type TestOutcome struct {
	Suite            string        `json:"suite,omitempty"`
	Name             string        `json:"name"`
	Status           string        `json:"status"`
	Assertions       int           `json:"assertions"`
	AssertionsFailed int           `json:"assertionsFailed"`
	Elapsed          time.Duration `json:"elapsed"`
}

// SaveRun writes a run and its test outcomes in one transaction. Saving a
// run id that already exists is an error.
func (s *Store) SaveRun(run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New(errors.ErrCodeHistoryWrite, "run id cannot be empty")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusFailed
	}

	err := withBusyRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			INSERT INTO runs (run_id, started_at, status, driver, browsers, suites, tests,
			                  passed, failed, assertions, assertions_failed, elapsed_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			run.StartedAt,
			run.Status,
			run.Driver,
			run.Browsers,
			run.Suites,
			run.Tests,
			run.Passed,
			run.Failed,
			run.Assertions,
			run.AssertionsFailed,
			run.Elapsed.Milliseconds(),
		); err != nil {
			return err
		}

		for i, outcome := range run.Outcomes {
			if _, err := tx.Exec(`
				INSERT INTO run_tests (run_id, position, suite, name, status,
				                       assertions, assertions_failed, elapsed_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID,
				i,
				outcome.Suite,
				outcome.Name,
				outcome.Status,
				outcome.Assertions,
				outcome.AssertionsFailed,
				outcome.Elapsed.Milliseconds(),
			); err != nil {
				return err
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeHistoryWrite, "cannot save run").
			WithContext("run_id", run.ID)
	}
	return nil
}

// GetRun loads one run with its test outcomes. Returns nil when the run
// id is unknown.
func (s *Store) GetRun(runID string) (*Run, error) {
	var (
		run       Run
		elapsedMS int64
	)
	err := s.db.QueryRow(`
		SELECT run_id, started_at, status, driver, browsers, suites, tests,
		       passed, failed, assertions, assertions_failed, elapsed_ms
		FROM runs WHERE run_id = ?`, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.Status,
		&run.Driver,
		&run.Browsers,
		&run.Suites,
		&run.Tests,
		&run.Passed,
		&run.Failed,
		&run.Assertions,
		&run.AssertionsFailed,
		&elapsedMS,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistoryRead, "cannot load run").
			WithContext("run_id", runID)
	}
	run.Elapsed = time.Duration(elapsedMS) * time.Millisecond

	rows, err := s.db.Query(`
		SELECT suite, name, status, assertions, assertions_failed, elapsed_ms
		FROM run_tests WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistoryRead, "cannot load run tests").
			WithContext("run_id", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome TestOutcome
			ms      int64
		)
		if err := rows.Scan(
			&outcome.Suite,
			&outcome.Name,
			&outcome.Status,
			&outcome.Assertions,
			&outcome.AssertionsFailed,
			&ms,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeHistoryRead, "cannot scan run test")
		}
		outcome.Elapsed = time.Duration(ms) * time.Millisecond
		run.Outcomes = append(run.Outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistoryRead, "cannot read run tests")
	}
	return &run, nil
}

// RecentRuns returns up to limit runs, newest first, without their test
// outcomes. A non-positive limit defaults to 20.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT run_id, started_at, status, driver, browsers, suites, tests,
		       passed, failed, assertions, assertions_failed, elapsed_ms
		FROM runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistoryRead, "cannot list runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			run       Run
			elapsedMS int64
		)
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.Status,
			&run.Driver,
			&run.Browsers,
			&run.Suites,
			&run.Tests,
			&run.Passed,
			&run.Failed,
			&run.Assertions,
			&run.AssertionsFailed,
			&elapsedMS,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeHistoryRead, "cannot scan run")
		}
		run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune deletes all but the newest keep runs and reports how many were
// removed. Test outcomes cascade with their run.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	var removed int64
	err := withBusyRetry(func() error {
		res, err := s.db.Exec(`
			DELETE FROM runs WHERE run_id NOT IN (
				SELECT run_id FROM runs
				ORDER BY started_at DESC, run_id DESC
				LIMIT ?
			)`, keep)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeHistoryWrite, "cannot prune runs")
	}
	return int(removed), nil
}
