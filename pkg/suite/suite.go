// Package suite runs ordered, named tests against one driver session.
// Suites come from an in-memory test list or a YAML script file; a file
// that fails to load degrades to a warning instead of aborting the run.
package suite

import (
	"context"
	"time"

	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/logging"
	"github.com/odvcencio/bowline/pkg/report"
	"github.com/odvcencio/bowline/pkg/unit"
)

// TestFunc declares one test's chain. It must end the chain with Done;
// the watchdog force-completes it otherwise.
type TestFunc func(t *unit.Test)

// NamedTest pairs a test name with its declaration, preserving order.
type NamedTest struct {
	Name string
	Fn   TestFunc
}

// Options configures suite execution. The four hooks accept either a
// synchronous func() or an asynchronous func(done func()); both run to
// completion before the suite proceeds.
type Options struct {
	Hub    *report.Hub
	Logger *logging.Logger

	Setup      any
	Teardown   any
	BeforeEach any
	AfterEach  any

	// Filter limits the run to the named tests. Names missing from the
	// suite degrade to a no-op warning.
	Filter []string

	DoneTimeout time.Duration
	WaitTimeout time.Duration
	ContextVars map[string]any
	OnFatal     func(error)
}

// Result aggregates a suite run.
type Result struct {
	Name             string
	Tests            int
	Passed           int
	Failed           int
	Assertions       int
	AssertionsFailed int
	Status           bool
	LoadError        string
	Elapsed          time.Duration
}

// Suite is an ordered collection of named tests plus lifecycle hooks.
type Suite struct {
	name    string
	tests   []NamedTest
	opts    Options
	loadErr string
}

// New builds a suite from an in-memory test list.
func New(name string, tests []NamedTest, opts Options) *Suite {
	return &Suite{name: name, tests: tests, opts: opts}
}

// Name returns the suite's display name.
func (s *Suite) Name() string { return s.name }

// LoadError returns the recorded load failure, if any.
func (s *Suite) LoadError() string { return s.loadErr }

// Tests returns the number of loaded tests.
func (s *Suite) Tests() int { return len(s.tests) }

// Run executes the suite against the driver, one test at a time in
// declaration order. It always reports started and finished, even for a
// suite that failed to load.
func (s *Suite) Run(ctx context.Context, drv driver.Driver) Result {
	started := time.Now()
	result := Result{Name: s.name, Status: true, LoadError: s.loadErr}

	s.publish(report.EventSuiteStarted, map[string]any{"name": s.name})
	if s.opts.Logger != nil {
		s.opts.Logger.SetSuite(s.name)
		s.opts.Logger.Info(logging.CategorySuite, "suite_started", "", map[string]any{
			"tests": len(s.tests),
		})
	}

	if s.loadErr != "" {
		s.publish(report.EventWarning, map[string]any{
			"message": s.loadErr,
			"suite":   s.name,
		})
		if s.opts.Logger != nil {
			s.opts.Logger.Warn(logging.CategorySuite, "suite_load_failed", s.loadErr, nil)
		}
		result.Elapsed = time.Since(started)
		s.reportFinished(result)
		return result
	}

	tests := s.selectTests()

	s.runHook(s.opts.Setup, "setup")

	var prev <-chan struct{}
	for _, nt := range tests {
		if ctx.Err() != nil {
			result.Status = false
			break
		}

		s.runHook(s.opts.BeforeEach, "beforeEach")

		t := unit.NewTest(unit.Options{
			Name:        nt.Name,
			Driver:      drv,
			Hub:         s.opts.Hub,
			Logger:      s.opts.Logger,
			Context:     ctx,
			DoneTimeout: s.opts.DoneTimeout,
			WaitTimeout: s.opts.WaitTimeout,
			After:       prev,
			OnFatal:     s.opts.OnFatal,
			ContextVars: s.opts.ContextVars,
		})
		nt.Fn(t)

		select {
		case <-t.Finished():
		case <-ctx.Done():
			<-t.Finished()
		}

		s.runHook(s.opts.AfterEach, "afterEach")

		result.Tests++
		result.Assertions += t.AssertionsRun()
		result.AssertionsFailed += t.AssertionsFailed()
		if t.Status() {
			result.Passed++
		} else {
			result.Failed++
			result.Status = false
		}

		prev = t.Finished()
	}

	s.runHook(s.opts.Teardown, "teardown")

	result.Elapsed = time.Since(started)
	s.reportFinished(result)
	return result
}

// selectTests applies the name filter, warning for unknown names.
func (s *Suite) selectTests() []NamedTest {
	if len(s.opts.Filter) == 0 {
		return s.tests
	}

	byName := make(map[string]NamedTest, len(s.tests))
	for _, nt := range s.tests {
		byName[nt.Name] = nt
	}

	var selected []NamedTest
	for _, name := range s.opts.Filter {
		nt, ok := byName[name]
		if !ok {
			s.publish(report.EventWarning, map[string]any{
				"message": "test not found in suite: " + name,
				"suite":   s.name,
			})
			continue
		}
		selected = append(selected, nt)
	}
	return selected
}

// runHook executes a lifecycle hook, supporting both the synchronous and
// callback-taking forms transparently.
func (s *Suite) runHook(hook any, name string) {
	switch fn := hook.(type) {
	case nil:
	case func():
		fn()
	case func(done func()):
		ch := make(chan struct{})
		fn(func() { close(ch) })
		<-ch
	default:
		s.publish(report.EventWarning, map[string]any{
			"message": "unsupported " + name + " hook signature",
			"suite":   s.name,
		})
	}
}

func (s *Suite) reportFinished(result Result) {
	s.publish(report.EventSuiteFinished, map[string]any{
		"name":              s.name,
		"status":            result.Status,
		"tests":             result.Tests,
		"passed":            result.Passed,
		"failed":            result.Failed,
		"assertions":        result.Assertions,
		"assertions_failed": result.AssertionsFailed,
		"elapsed_ms":        result.Elapsed.Milliseconds(),
	})
	if s.opts.Logger != nil {
		s.opts.Logger.Info(logging.CategorySuite, "suite_finished", "", map[string]any{
			"status": result.Status,
			"tests":  result.Tests,
		})
	}
}

func (s *Suite) publish(typ report.EventType, data map[string]any) {
	if s.opts.Hub == nil {
		return
	}
	s.opts.Hub.Publish(report.Event{Type: typ, Suite: s.name, Data: data})
}
