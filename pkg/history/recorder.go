package history

import (
	"sync"
	"time"

	"github.com/odvcencio/bowline/pkg/logging"
	"github.com/odvcencio/bowline/pkg/report"
)

// Recorder folds run events into a Run and saves it when the run
// finishes. It plugs into the report pump like any other reporter; a
// failed save never fails the run, it is logged and surfaced via Close.
type Recorder struct {
	store  *Store
	logger *logging.Logger

	mu           sync.Mutex
	run          Run
	started      map[string]time.Time
	currentSuite string
	active       bool
	saveErr      error
}

// NewRecorder builds a recorder persisting into store.
func NewRecorder(store *Store, logger *logging.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Report folds one event into the pending run.
func (r *Recorder) Report(event report.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case report.EventRunnerStarted:
		id, _ := event.Data["id"].(string)
		driver, _ := event.Data["driver"].(string)
		browsers := 0
		if names, ok := event.Data["browsers"].([]string); ok {
			browsers = len(names)
		}
		r.run = Run{ID: id, StartedAt: event.Timestamp, Driver: driver, Browsers: browsers}
		r.started = make(map[string]time.Time)
		r.currentSuite = ""
		r.active = true

	case report.EventSuiteStarted:
		r.currentSuite = event.Suite

	case report.EventTestStarted:
		if !r.active {
			return
		}
		if id, ok := event.Data["id"].(string); ok {
			r.started[id] = event.Timestamp
		}

	case report.EventTestFinished:
		if !r.active {
			return
		}
		name, _ := event.Data["name"].(string)
		passed, _ := event.Data["status"].(bool)
		outcome := TestOutcome{
			Suite:            r.currentSuite,
			Name:             name,
			Status:           statusString(passed),
			Assertions:       toInt(event.Data["run"]),
			AssertionsFailed: toInt(event.Data["failed"]),
		}
		if id, ok := event.Data["id"].(string); ok {
			if startedAt, ok := r.started[id]; ok {
				outcome.Elapsed = event.Timestamp.Sub(startedAt)
				delete(r.started, id)
			}
		}
		r.run.Outcomes = append(r.run.Outcomes, outcome)

	case report.EventRunnerFinished:
		if !r.active {
			return
		}
		passed, _ := event.Data["status"].(bool)
		r.run.Status = statusString(passed)
		r.run.Suites = toInt(event.Data["suites"])
		r.run.Tests = toInt(event.Data["tests"])
		r.run.Passed = toInt(event.Data["passed"])
		r.run.Failed = toInt(event.Data["failed"])
		r.run.Assertions = toInt(event.Data["assertions"])
		r.run.AssertionsFailed = toInt(event.Data["assertions_failed"])
		r.run.Elapsed = time.Duration(toInt(event.Data["elapsed_ms"])) * time.Millisecond
		r.saveLocked()
	}
}

// Close reports the last save failure, if any. The run itself is saved
// when the runner-finished event arrives.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.started = nil
	return r.saveErr
}

func (r *Recorder) saveLocked() {
	r.active = false
	if err := r.store.SaveRun(r.run); err != nil {
		r.saveErr = err
		if r.logger != nil {
			r.logger.Error(logging.CategoryHistory, "run_save_failed", err.Error(), map[string]any{
				"run_id": r.run.ID,
			})
		}
		return
	}
	if r.logger != nil {
		r.logger.Debug(logging.CategoryHistory, "run_saved", "", map[string]any{
			"run_id": r.run.ID,
			"tests":  len(r.run.Outcomes),
		})
	}
}

func statusString(passed bool) string {
	if passed {
		return RunStatusPassed
	}
	return RunStatusFailed
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
