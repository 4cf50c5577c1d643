package suite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/bowline/pkg/driver/drivertest"
	"github.com/odvcencio/bowline/pkg/report"
	"github.com/odvcencio/bowline/pkg/unit"
)

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

func (s *eventSink) types() []report.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]report.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func passingTest(t *unit.Test) {
	t.Open("http://localhost/")
	t.Assert().Exists("#ok")
	t.Done()
}

func TestHookOrderSyncAndAsync(t *testing.T) {
	fake := drivertest.New()
	hub := report.NewHub()
	defer hub.Close()

	var mu sync.Mutex
	var order []string
	record := func(step string) {
		mu.Lock()
		order = append(order, step)
		mu.Unlock()
	}

	s := New("hooks", []NamedTest{
		{Name: "first", Fn: func(tt *unit.Test) {
			record("test:first")
			tt.Done()
		}},
		{Name: "second", Fn: func(tt *unit.Test) {
			record("test:second")
			tt.Done()
		}},
	}, Options{
		Hub:   hub,
		Setup: func() { record("setup") },
		BeforeEach: func(done func()) {
			go func() {
				time.Sleep(10 * time.Millisecond)
				record("beforeEach")
				done()
			}()
		},
		AfterEach: func() { record("afterEach") },
		Teardown: func(done func()) {
			record("teardown")
			done()
		},
	})

	result := s.Run(context.Background(), fake)
	if result.Tests != 2 || !result.Status {
		t.Fatalf("result = %+v, want 2 passing tests", result)
	}

	want := []string{
		"setup",
		"beforeEach", "test:first", "afterEach",
		"beforeEach", "test:second", "afterEach",
		"teardown",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("hook order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestUnsupportedHookSignatureWarns(t *testing.T) {
	fake := drivertest.New()
	hub := report.NewHub()
	sink := newSink(hub)

	s := New("badhook", []NamedTest{
		{Name: "only", Fn: func(tt *unit.Test) { tt.Done() }},
	}, Options{
		Hub:   hub,
		Setup: func(a, b int) {},
	})

	s.Run(context.Background(), fake)
	sink.stop()
	hub.Close()

	warnings := sink.byType(report.EventWarning)
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warnings))
	}
	if msg, _ := warnings[0].Data["message"].(string); msg != "unsupported setup hook signature" {
		t.Errorf("warning message = %q", msg)
	}
}

func TestLoadFailureDegradesToWarning(t *testing.T) {
	fake := drivertest.New()
	hub := report.NewHub()
	sink := newSink(hub)

	s := Load(filepath.Join(t.TempDir(), "missing.yml"), Options{Hub: hub})
	if s.LoadError() == "" {
		t.Fatal("expected a load error for a missing file")
	}

	result := s.Run(context.Background(), fake)
	sink.stop()
	hub.Close()

	if result.Tests != 0 {
		t.Errorf("tests run = %d, want 0", result.Tests)
	}
	if result.LoadError == "" {
		t.Error("result should carry the load error")
	}
	if len(fake.Issued()) != 0 {
		t.Errorf("driver received %d commands, want 0", len(fake.Issued()))
	}

	// started, warning, finished and nothing else
	types := sink.types()
	want := []report.EventType{
		report.EventSuiteStarted,
		report.EventWarning,
		report.EventSuiteFinished,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestParseFailureDegradesToWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yml")
	if err := os.WriteFile(path, []byte("tests:\n  - name: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Load(path, Options{})
	if s.LoadError() == "" {
		t.Fatal("expected a parse error")
	}
	if s.Tests() != 0 {
		t.Errorf("tests = %d, want 0", s.Tests())
	}
}

func TestLoadRejectsUnknownAction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad-action.yml")
	script := `name: bad
tests:
  - name: nope
    steps:
      - action: teleport
        url: http://localhost/
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Load(path, Options{})
	if s.LoadError() == "" {
		t.Fatal("expected a compile error for an unknown action")
	}
}

func TestForcedCompletionRunsNextTest(t *testing.T) {
	fake := drivertest.New()
	hub := report.NewHub()
	sink := newSink(hub)

	s := New("forced", []NamedTest{
		// Never calls Done; the watchdog must force-complete it.
		{Name: "stuck", Fn: func(tt *unit.Test) {
			tt.Open("http://localhost/")
		}},
		{Name: "healthy", Fn: passingTest},
	}, Options{
		Hub:         hub,
		DoneTimeout: 50 * time.Millisecond,
	})

	result := s.Run(context.Background(), fake)
	sink.stop()
	hub.Close()

	if result.Tests != 2 {
		t.Fatalf("tests run = %d, want 2", result.Tests)
	}
	if result.Passed != 2 {
		t.Errorf("passed = %d, want 2 (forced test had no failed assertions)", result.Passed)
	}

	var forcedWarning bool
	for _, w := range sink.byType(report.EventWarning) {
		if msg, _ := w.Data["message"].(string); msg != "" {
			forcedWarning = true
		}
	}
	if !forcedWarning {
		t.Error("expected a warning for the forced test")
	}

	finished := sink.byType(report.EventTestFinished)
	if len(finished) != 2 {
		t.Fatalf("test finished events = %d, want 2", len(finished))
	}
	if forced, _ := finished[0].Data["forced"].(bool); !forced {
		t.Error("first test should be marked forced")
	}
	if forced, _ := finished[1].Data["forced"].(bool); forced {
		t.Error("second test should not be marked forced")
	}
}

func TestFilterSkipsUnknownNames(t *testing.T) {
	fake := drivertest.New()
	hub := report.NewHub()
	sink := newSink(hub)

	var ran []string
	var mu sync.Mutex
	mk := func(name string) NamedTest {
		return NamedTest{Name: name, Fn: func(tt *unit.Test) {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			tt.Done()
		}}
	}

	s := New("filtered", []NamedTest{mk("alpha"), mk("beta")}, Options{
		Hub:    hub,
		Filter: []string{"beta", "ghost"},
	})

	result := s.Run(context.Background(), fake)
	sink.stop()
	hub.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "beta" {
		t.Errorf("ran = %v, want [beta]", ran)
	}
	if result.Tests != 1 {
		t.Errorf("tests = %d, want 1", result.Tests)
	}

	warnings := sink.byType(report.EventWarning)
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warnings))
	}
	if msg, _ := warnings[0].Data["message"].(string); msg != "test not found in suite: ghost" {
		t.Errorf("warning = %q", msg)
	}
}

func TestLoadedScriptRunsAgainstDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.yml")
	script := `name: login
tests:
  - name: fills the form
    expect: 2
    steps:
      - action: open
        url: http://localhost/login
      - action: type
        selector: "#user"
        text: admin
      - action: click
        selector: "#go"
      - assert: text
        selector: "#banner"
        expected: Welcome
      - assert: number_of_elements
        selector: ".error"
        gt: 0
        lt: 3
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := drivertest.New()
	fake.Stub("text", "Welcome")
	fake.Stub("numberOfElements", 2)

	hub := report.NewHub()
	sink := newSink(hub)

	s := Load(path, Options{Hub: hub})
	if s.LoadError() != "" {
		t.Fatalf("load error: %s", s.LoadError())
	}
	if s.Name() != "login" {
		t.Errorf("name = %q, want login", s.Name())
	}

	result := s.Run(context.Background(), fake)
	sink.stop()
	hub.Close()

	if !result.Status {
		t.Fatalf("suite failed: %+v", result)
	}
	if result.Assertions != 3 {
		t.Errorf("assertions = %d, want 3 (text + gt + lt)", result.Assertions)
	}
	if result.AssertionsFailed != 0 {
		t.Errorf("failed assertions = %d, want 0", result.AssertionsFailed)
	}

	methods := fake.IssuedMethods()
	wantPrefix := []string{"open", "type", "click", "text", "numberOfElements"}
	if len(methods) < len(wantPrefix) {
		t.Fatalf("issued = %v, want prefix %v", methods, wantPrefix)
	}
	for i := range wantPrefix {
		if methods[i] != wantPrefix[i] {
			t.Errorf("issued[%d] = %q, want %q", i, methods[i], wantPrefix[i])
		}
	}
}

func TestScriptVarsAndTimeouts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.yml")
	script := `name: vars
timeout: 1234
wait_timeout: 567
vars:
  base: http://localhost
tests:
  - name: noop
    steps:
      - action: open
        url: http://localhost/
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Load(path, Options{})
	if s.LoadError() != "" {
		t.Fatalf("load error: %s", s.LoadError())
	}
	if s.opts.DoneTimeout != 1234*time.Millisecond {
		t.Errorf("done timeout = %v", s.opts.DoneTimeout)
	}
	if s.opts.WaitTimeout != 567*time.Millisecond {
		t.Errorf("wait timeout = %v", s.opts.WaitTimeout)
	}
	if v, _ := s.opts.ContextVars["base"].(string); v != "http://localhost" {
		t.Errorf("vars[base] = %q", v)
	}

	// Caller options win over script values.
	s2 := Load(path, Options{DoneTimeout: time.Second})
	if s2.opts.DoneTimeout != time.Second {
		t.Errorf("caller done timeout overridden: %v", s2.opts.DoneTimeout)
	}
}

func TestExpectationMismatchFailsSuite(t *testing.T) {
	fake := drivertest.New()
	hub := report.NewHub()
	defer hub.Close()

	s := New("mismatch", []NamedTest{
		{Name: "short", Fn: func(tt *unit.Test) {
			tt.Expect(3)
			tt.Assert().Exists("#one")
			tt.Done()
		}},
	}, Options{Hub: hub})

	result := s.Run(context.Background(), fake)
	if result.Status {
		t.Error("suite should fail when an expectation is not met")
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
}
