package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/odvcencio/bowline/pkg/errors"
)

func init() {
	Register("json", func(opts Options) (Reporter, error) {
		dir := opts.OutputDir
		if dir == "" {
			dir = "."
		}
		return NewJSONFile(filepath.Join(dir, "bowline.json"), opts.RunID), nil
	})
}

// JSONFile accumulates the run into a single machine-readable report
// written when the run finishes.
type JSONFile struct {
	path string

	mu  sync.Mutex
	run jsonRun

	// indices into run.Suites and its Tests; -1 means none open
	suiteIdx int
	testIdx  int
	written  bool
}

type jsonRun struct {
	RunID            string      `json:"run_id,omitempty"`
	Status           bool        `json:"status"`
	Elapsed          string      `json:"elapsed,omitempty"`
	Assertions       int         `json:"assertions"`
	AssertionsFailed int         `json:"assertions_failed"`
	Suites           []jsonSuite `json:"suites"`
}

type jsonSuite struct {
	Name             string     `json:"name"`
	Status           bool       `json:"status"`
	Passed           int        `json:"passed"`
	Failed           int        `json:"failed"`
	Assertions       int        `json:"assertions"`
	AssertionsFailed int        `json:"assertions_failed"`
	Tests            []jsonTest `json:"tests"`
}

type jsonTest struct {
	Name       string          `json:"name"`
	ID         string          `json:"id,omitempty"`
	Status     bool            `json:"status"`
	Forced     bool            `json:"forced,omitempty"`
	Run        int             `json:"run"`
	Failed     int             `json:"failed"`
	Assertions []jsonAssertion `json:"assertions"`
}

type jsonAssertion struct {
	Type     string `json:"type"`
	Helper   string `json:"helper,omitempty"`
	Selector string `json:"selector,omitempty"`
	Success  bool   `json:"success"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Diff     string `json:"diff,omitempty"`
}

// NewJSONFile creates a JSON report accumulating into path.
func NewJSONFile(path, runID string) *JSONFile {
	return &JSONFile{
		path:     path,
		run:      jsonRun{RunID: runID, Status: true, Suites: []jsonSuite{}},
		suiteIdx: -1,
		testIdx:  -1,
	}
}

// Report folds one event into the accumulated run.
func (j *JSONFile) Report(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch event.Type {
	case EventSuiteStarted:
		name, _ := event.Data["name"].(string)
		j.run.Suites = append(j.run.Suites, jsonSuite{Name: name, Status: true, Tests: []jsonTest{}})
		j.suiteIdx = len(j.run.Suites) - 1
		j.testIdx = -1

	case EventTestStarted:
		if j.suiteIdx < 0 {
			return
		}
		suite := &j.run.Suites[j.suiteIdx]
		name, _ := event.Data["name"].(string)
		id, _ := event.Data["id"].(string)
		suite.Tests = append(suite.Tests, jsonTest{Name: name, ID: id, Status: true, Assertions: []jsonAssertion{}})
		j.testIdx = len(suite.Tests) - 1

	case EventAssertion:
		test := j.openTest()
		if test == nil {
			return
		}
		success, _ := event.Data["success"].(bool)
		a := jsonAssertion{Success: success, Expected: event.Data["expected"], Actual: event.Data["actual"]}
		a.Type, _ = event.Data["type"].(string)
		a.Helper, _ = event.Data["helper"].(string)
		a.Selector, _ = event.Data["selector"].(string)
		a.Diff, _ = event.Data["diff"].(string)
		test.Assertions = append(test.Assertions, a)

	case EventTestFinished:
		test := j.openTest()
		if test == nil {
			return
		}
		test.Status, _ = event.Data["status"].(bool)
		test.Forced, _ = event.Data["forced"].(bool)
		test.Run = toInt(event.Data["run"])
		test.Failed = toInt(event.Data["failed"])
		j.testIdx = -1

	case EventSuiteFinished:
		if j.suiteIdx < 0 {
			return
		}
		suite := &j.run.Suites[j.suiteIdx]
		suite.Status, _ = event.Data["status"].(bool)
		suite.Passed = toInt(event.Data["passed"])
		suite.Failed = toInt(event.Data["failed"])
		suite.Assertions = toInt(event.Data["assertions"])
		suite.AssertionsFailed = toInt(event.Data["assertions_failed"])
		j.suiteIdx = -1
		j.testIdx = -1

	case EventRunnerFinished:
		j.run.Status, _ = event.Data["status"].(bool)
		j.run.Assertions = toInt(event.Data["assertions"])
		j.run.AssertionsFailed = toInt(event.Data["assertions_failed"])
		j.run.Elapsed, _ = event.Data["elapsed"].(string)
		_ = j.writeLocked()
	}
}

// openTest returns the accumulating test record, or nil when no test is
// open.
func (j *JSONFile) openTest() *jsonTest {
	if j.suiteIdx < 0 || j.testIdx < 0 {
		return nil
	}
	suite := &j.run.Suites[j.suiteIdx]
	if j.testIdx >= len(suite.Tests) {
		return nil
	}
	return &suite.Tests[j.testIdx]
}

// Close writes the report if the runner-finished event never arrived.
func (j *JSONFile) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.written {
		return nil
	}
	return j.writeLocked()
}

// Path returns the report file location.
func (j *JSONFile) Path() string { return j.path }

func (j *JSONFile) writeLocked() error {
	data, err := json.MarshalIndent(j.run, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReportWrite, "cannot marshal report")
	}
	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrCodeReportWrite, "cannot create report directory")
		}
	}
	if err := os.WriteFile(j.path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeReportWrite, "cannot write report")
	}
	j.written = true
	return nil
}
