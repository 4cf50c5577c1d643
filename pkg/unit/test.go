// Package unit implements the per-test fluent chain: actions and
// assertions declared on a Test become ordered queue entries issuing
// driver commands, and the results flowing back are reconciled by
// correlation id. A Test owns exactly one command queue and one exchange
// on the driver's result stream.
package unit

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/bowline/pkg/chain"
	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/logging"
	"github.com/odvcencio/bowline/pkg/report"
)

// Defaults for the two timeouts the core owns.
const (
	DefaultDoneTimeout = 10000 * time.Millisecond
	DefaultWaitTimeout = 5000 * time.Millisecond
)

// Options configures a Test. Driver and Hub are required; everything else
// has a usable zero value.
type Options struct {
	Name        string
	Driver      driver.Driver
	Hub         *report.Hub
	Logger      *logging.Logger
	Context     context.Context
	DoneTimeout time.Duration
	WaitTimeout time.Duration

	// After, when non-nil, gates execution behind the previous test's
	// completion so driver commands never interleave across tests.
	After <-chan struct{}

	// OnFatal is invoked when a queue entry rejects, after the error has
	// been reported. The runner decides whether that halts the process.
	OnFatal func(error)

	// ContextVars are shared between harness-side code and scripts
	// executed in the browser.
	ContextVars map[string]any
}

// Test is one named browser test: a fluent chain of actions and
// assertions executed against a single driver session.
type Test struct {
	id     string
	name   string
	drv    driver.Driver
	hub    *report.Hub
	log    *logging.Logger
	ctx    context.Context
	assert *Assert

	queue    *chain.Queue
	exchange *chain.Exchange

	doneTimeout time.Duration
	waitTimeout time.Duration
	watchdog    *time.Timer
	after       <-chan struct{}
	onFatal     func(error)

	mu             sync.Mutex
	expectation    int
	expectationSet bool
	runned         int
	failed         int
	seenActions    map[string]struct{}
	seenAsserts    map[string]struct{}
	proceeded      map[string]struct{}
	queryScope     []string
	contextVars    map[string]any
	doneCalled     bool
	finishedFlag   bool

	finished chan struct{}
}

// NewTest constructs a test and starts its done-not-called watchdog.
func NewTest(opts Options) *Test {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	doneTimeout := opts.DoneTimeout
	if doneTimeout <= 0 {
		doneTimeout = DefaultDoneTimeout
	}
	waitTimeout := opts.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	vars := opts.ContextVars
	if vars == nil {
		vars = make(map[string]any)
	}

	t := &Test{
		id:          chain.NewID(),
		name:        opts.Name,
		drv:         opts.Driver,
		hub:         opts.Hub,
		log:         opts.Logger,
		ctx:         ctx,
		doneTimeout: doneTimeout,
		waitTimeout: waitTimeout,
		after:       opts.After,
		onFatal:     opts.OnFatal,
		seenActions: make(map[string]struct{}),
		seenAsserts: make(map[string]struct{}),
		proceeded:   make(map[string]struct{}),
		contextVars: vars,
		finished:    make(chan struct{}),
	}
	t.assert = &Assert{test: t}
	t.queue = chain.NewQueue(t.entryRejected)
	t.exchange = chain.Attach(opts.Driver.Events())

	if t.name != "" {
		t.watchdog = time.AfterFunc(t.doneTimeout, t.forceComplete)
	}
	return t
}

// ID returns the test's correlation-unique identifier.
func (t *Test) ID() string { return t.id }

// Name returns the test's display name.
func (t *Test) Name() string { return t.name }

// Finished closes when the test has fully completed, by whichever path.
func (t *Test) Finished() <-chan struct{} { return t.finished }

// Expect declares how many assertions this test intends to run. The test
// only passes if exactly that many were run by completion.
func (t *Test) Expect(n int) *Test {
	t.mu.Lock()
	t.expectation = n
	t.expectationSet = true
	t.mu.Unlock()
	return t
}

// Data returns a context variable shared with in-browser execution.
func (t *Test) Data(key string) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.contextVars[key]
}

// SetData stores a context variable shared with in-browser execution.
func (t *Test) SetData(key string, value any) *Test {
	t.mu.Lock()
	t.contextVars[key] = value
	t.mu.Unlock()
	return t
}

// Assert opens the assertion scope of the chain.
func (t *Test) Assert() *Assert { return t.assert }

// Done seals the chain and starts execution. The final queue entry
// reports the test as started, dispatches the completion marker, and
// settles only when the driver answers it — guaranteeing every earlier
// command's result has been published first on a serial session. Calling
// Done more than once has no effect.
func (t *Test) Done() *Test {
	t.mu.Lock()
	if t.doneCalled || t.finishedFlag {
		t.mu.Unlock()
		return t
	}
	t.doneCalled = true
	t.mu.Unlock()

	if t.watchdog != nil {
		t.watchdog.Stop()
	}

	t.queue.Push("complete", func(ctx context.Context, settle func(error)) {
		t.publish(report.EventTestStarted, map[string]any{
			"name": t.name,
			"id":   t.id,
		})

		completeID := chain.NewID()
		t.exchange.Register(completeID, func(msg driver.Message) {
			if msg.Key == driver.KeyRunComplete {
				settle(nil)
			}
		})
		if err := t.drv.Dispatch(ctx, driver.Command{
			Method: driver.MethodComplete,
			ID:     completeID,
		}); err != nil {
			settle(err)
		}
	})
	t.queue.Seal()

	go func() {
		if t.after != nil {
			select {
			case <-t.after:
			case <-t.ctx.Done():
				t.finish(true, "run canceled before test started")
				return
			}
		}
		t.queue.Run(t.ctx)
		select {
		case <-t.queue.Done():
			t.finish(false, "")
		case <-t.ctx.Done():
			t.finish(true, "run canceled")
		}
	}()
	return t
}

// forceComplete fires when Done was not called inside the window. The
// test finishes with a warning so the rest of the run can proceed.
func (t *Test) forceComplete() {
	t.mu.Lock()
	if t.doneCalled || t.finishedFlag {
		t.mu.Unlock()
		return
	}
	t.doneCalled = true
	t.mu.Unlock()

	t.finish(true, "done() not called within "+t.doneTimeout.String())
}

// finish emits the closing events exactly once and tears the test down.
// The exchange detaches first so stale deliveries cannot touch the
// counters while the summary is being emitted.
func (t *Test) finish(forced bool, warning string) {
	t.mu.Lock()
	if t.finishedFlag {
		t.mu.Unlock()
		return
	}
	t.finishedFlag = true
	t.mu.Unlock()

	t.exchange.Detach()

	t.mu.Lock()
	expected := t.expectation
	expectationSet := t.expectationSet
	runned := t.runned
	failed := t.failed
	t.mu.Unlock()

	if warning != "" {
		t.publish(report.EventWarning, map[string]any{
			"message": warning,
			"test":    t.name,
		})
		if t.log != nil {
			t.log.Warn(logging.CategoryTest, "test_forced", warning, map[string]any{
				"test": t.name,
			})
		}
	}

	status := t.checkExpectations() && failed == 0
	statusData := map[string]any{
		"run":    runned,
		"status": status,
	}
	if expectationSet {
		statusData["expected"] = expected
	}
	t.publish(report.EventAssertionStatus, statusData)

	t.publish(report.EventTestFinished, map[string]any{
		"name":   t.name,
		"id":     t.id,
		"status": status,
		"run":    runned,
		"failed": failed,
		"forced": forced,
	})

	close(t.finished)
}

// checkExpectations passes when no expectation was declared, or the
// declared count equals the number of assertions actually run.
func (t *Test) checkExpectations() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.expectationSet {
		return true
	}
	return t.expectation == t.runned
}

// Status reports the test's current pass state: all expectations met and
// no failed assertions.
func (t *Test) Status() bool {
	ok := t.checkExpectations()
	t.mu.Lock()
	defer t.mu.Unlock()
	return ok && t.failed == 0
}

// AssertionsRun returns the number of assertions that have reported.
func (t *Test) AssertionsRun() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runned
}

// AssertionsFailed returns the number of assertions that failed.
func (t *Test) AssertionsFailed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// entryRejected is the queue's error hook: report, then let the injected
// handler decide whether the process survives.
func (t *Test) entryRejected(name string, err error) {
	t.publish(report.EventError, map[string]any{
		"message": err.Error(),
		"entry":   name,
		"test":    t.name,
	})
	if t.log != nil {
		t.log.Error(logging.CategoryTest, "entry_rejected", err.Error(), map[string]any{
			"entry": name,
			"test":  t.name,
		})
	}
	if t.onFatal != nil {
		t.onFatal(err)
	}
}

// recordAssertion bumps the counters and emits one assertion report.
func (t *Test) recordAssertion(data map[string]any, ok bool) {
	t.mu.Lock()
	t.runned++
	if !ok {
		t.failed++
	}
	t.mu.Unlock()

	data["success"] = ok
	t.publish(report.EventAssertion, data)
}

// publish stamps run metadata on an event and hands it to the hub.
func (t *Test) publish(typ report.EventType, data map[string]any) {
	if t.hub == nil {
		return
	}
	t.hub.Publish(report.Event{
		Type:   typ,
		TestID: t.id,
		Data:   data,
	})
}

// scopedSelector resolves a selector against the pending Query scope at
// declaration time.
func (t *Test) scopedSelector(selector string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queryScope) == 0 {
		return selector
	}
	scope := ""
	for _, part := range t.queryScope {
		scope += part + " "
	}
	return scope + selector
}
