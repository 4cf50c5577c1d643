package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/driver/drivertest"
	"github.com/odvcencio/bowline/pkg/report"
	"github.com/odvcencio/bowline/pkg/suite"
	"github.com/odvcencio/bowline/pkg/unit"
)

func init() {
	driver.Register("fake", func(driver.Options) (driver.Driver, error) {
		return drivertest.New(), nil
	})
}

type eventSink struct {
	mu     sync.Mutex
	events []report.Event
	stop   func()
}

func newSink(h *report.Hub) *eventSink {
	ch, cancel := h.Subscribe()
	s := &eventSink{}
	done := make(chan struct{})
	go func() {
		for e := range ch {
			s.mu.Lock()
			s.events = append(s.events, e)
			s.mu.Unlock()
		}
		close(done)
	}()
	s.stop = func() {
		cancel()
		<-done
	}
	return s
}

func (s *eventSink) byType(t report.EventType) []report.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []report.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func passingSuite(name string) *suite.Suite {
	return suite.New(name, []suite.NamedTest{
		{Name: "first", Fn: func(t *unit.Test) {
			t.Open("http://localhost/")
			t.Assert().Exists("#ok")
			t.Done()
		}},
		{Name: "second", Fn: func(t *unit.Test) {
			t.Assert().Exists("#also")
			t.Done()
		}},
	}, suite.Options{})
}

func TestRunAggregatesAcrossBrowsers(t *testing.T) {
	hub := report.NewHub()
	sink := newSink(hub)

	r := New(Options{
		Driver:   "fake",
		Browsers: []string{"chrome", "firefox"},
		Suites:   []*suite.Suite{passingSuite("smoke")},
		Hub:      hub,
	})

	result := r.Run(context.Background())
	sink.stop()
	hub.Close()

	if !result.Status {
		t.Fatalf("run failed: %+v", result)
	}
	if result.Browsers != 2 || result.Suites != 2 || result.Tests != 4 {
		t.Errorf("browsers=%d suites=%d tests=%d, want 2/2/4",
			result.Browsers, result.Suites, result.Tests)
	}
	if result.Assertions != 4 || result.AssertionsFailed != 0 {
		t.Errorf("assertions=%d failed=%d, want 4/0", result.Assertions, result.AssertionsFailed)
	}
	if result.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode())
	}
	if result.RunID == "" {
		t.Error("run id missing")
	}

	if got := len(sink.byType(report.EventRunnerStarted)); got != 1 {
		t.Errorf("runner started events = %d", got)
	}
	if got := len(sink.byType(report.EventRunBrowser)); got != 2 {
		t.Errorf("run browser events = %d", got)
	}

	finished := sink.byType(report.EventRunnerFinished)
	if len(finished) != 1 {
		t.Fatalf("runner finished events = %d", len(finished))
	}
	if elapsed, _ := finished[0].Data["elapsed"].(string); elapsed == "" {
		t.Error("finished event missing formatted elapsed time")
	}
	if status, _ := finished[0].Data["status"].(bool); !status {
		t.Error("finished event status should be true")
	}
}

func TestRunWithoutInputFails(t *testing.T) {
	hub := report.NewHub()
	sink := newSink(hub)

	r := New(Options{Driver: "fake", Hub: hub})
	result := r.Run(context.Background())
	sink.stop()
	hub.Close()

	if result.Status {
		t.Error("empty run should not pass")
	}
	if result.ExitCode() != 1 {
		t.Errorf("exit code = %d, want 1", result.ExitCode())
	}

	warnings := sink.byType(report.EventWarning)
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warnings))
	}
	if msg, _ := warnings[0].Data["message"].(string); msg != "no test files given" {
		t.Errorf("warning = %q", msg)
	}
}

func TestRunFailingAssertionSetsExitCode(t *testing.T) {
	hub := report.NewHub()
	defer hub.Close()

	failing := suite.New("failing", []suite.NamedTest{
		{Name: "mismatch", Fn: func(tt *unit.Test) {
			// fake echoes true; comparing against a string fails
			tt.Assert().Title("Expected Title")
			tt.Done()
		}},
	}, suite.Options{})

	r := New(Options{Driver: "fake", Suites: []*suite.Suite{failing}, Hub: hub})
	result := r.Run(context.Background())

	if result.Status {
		t.Error("run with a failing assertion should not pass")
	}
	if result.AssertionsFailed != 1 {
		t.Errorf("assertions failed = %d, want 1", result.AssertionsFailed)
	}
	if result.ExitCode() != 1 {
		t.Errorf("exit code = %d, want 1", result.ExitCode())
	}
}

func TestRunLoadsScriptFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smoke.yml")
	script := `name: smoke
tests:
  - name: landing page
    steps:
      - action: open
        url: http://localhost/
      - assert: exists
        selector: "#ok"
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	hub := report.NewHub()
	defer hub.Close()

	r := New(Options{Driver: "fake", Files: []string{path}, Hub: hub})
	result := r.Run(context.Background())

	if !result.Status {
		t.Fatalf("run failed: %+v", result)
	}
	if result.Suites != 1 || result.Tests != 1 {
		t.Errorf("suites=%d tests=%d, want 1/1", result.Suites, result.Tests)
	}
	if len(result.SuiteResults) != 1 || result.SuiteResults[0].Name != "smoke" {
		t.Errorf("suite results = %+v", result.SuiteResults)
	}
}

func TestRunUnknownDriverReported(t *testing.T) {
	hub := report.NewHub()
	sink := newSink(hub)

	r := New(Options{Driver: "nonexistent", Suites: []*suite.Suite{passingSuite("s")}, Hub: hub})
	result := r.Run(context.Background())
	sink.stop()
	hub.Close()

	if result.Status {
		t.Error("run with unknown driver should fail")
	}
	if len(sink.byType(report.EventError)) == 0 {
		t.Error("expected an error event")
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{900 * time.Millisecond, "0s"},
		{59 * time.Second, "59s"},
		{60 * time.Second, "1m 0s"},
		{90 * time.Second, "1m 30s"},
		{3600 * time.Second, "1h 0m 0s"},
		{3725 * time.Second, "1h 2m 5s"},
		{-5 * time.Second, "0s"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
