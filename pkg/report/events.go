// Package report carries run progress out of the core. The suite, test,
// and runner layers publish events on a Hub; reporters subscribe and render
// them. The core never blocks on a reporter.
package report

import "time"

// EventType identifies the kind of report event.
type EventType string

const (
	EventRunnerStarted   EventType = "report:runner:started"
	EventRunnerFinished  EventType = "report:runner:finished"
	EventRunBrowser      EventType = "report:run:browser"
	EventAction          EventType = "report:action"
	EventAssertion       EventType = "report:assertion"
	EventAssertionStatus EventType = "report:assertion:status"
	EventTestStarted     EventType = "report:test:started"
	EventTestFinished    EventType = "report:test:finished"
	EventSuiteStarted    EventType = "report:testsuite:started"
	EventSuiteFinished   EventType = "report:testsuite:finished"
	EventWarning         EventType = "warning"
	EventError           EventType = "error"
	EventLog             EventType = "report:log"
)

// Event describes run progress that reporters and live clients consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"runId,omitempty"`
	Suite     string         `json:"suite,omitempty"`
	TestID    string         `json:"testId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Terminal reports whether the event ends a whole run.
func (e Event) Terminal() bool {
	return e.Type == EventRunnerFinished
}
