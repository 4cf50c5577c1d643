// Package runner drives whole runs: for each browser it opens one driver
// session and runs every suite against it in series, aggregating counts
// into the run result that decides the process exit code.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/logging"
	"github.com/odvcencio/bowline/pkg/report"
	"github.com/odvcencio/bowline/pkg/suite"
	"github.com/odvcencio/bowline/pkg/trace"
)

// Options configures a run.
type Options struct {
	// RunID names the run; generated when empty.
	RunID string

	// Driver is the registry name of the driver to session against.
	Driver        string
	DriverOptions driver.Options

	// Browsers each get their own driver session; empty means one
	// unnamed session.
	Browsers []string

	// Files are YAML suite scripts; Suites are pre-built in-code suites.
	// Both run against every browser.
	Files  []string
	Suites []*suite.Suite

	// SuiteOptions is the template applied to file-loaded suites; Hub
	// and Logger are filled in from the runner's own.
	SuiteOptions suite.Options

	Hub    *report.Hub
	Logger *logging.Logger

	// Trace wraps sessions and suites in spans.
	Trace bool
}

// Result aggregates a whole run.
type Result struct {
	RunID            string
	Browsers         int
	Suites           int
	Tests            int
	Passed           int
	Failed           int
	Assertions       int
	AssertionsFailed int
	Status           bool
	Elapsed          time.Duration
	SuiteResults     []suite.Result
}

// ExitCode maps the run outcome onto a process exit status.
func (r Result) ExitCode() int {
	if !r.Status {
		return 1
	}
	return 0
}

// Runner executes suites across browser sessions.
type Runner struct {
	opts Options
	id   string

	mu    sync.Mutex
	fatal error
}

// New builds a runner, minting a run id when none is given.
func New(opts Options) *Runner {
	id := opts.RunID
	if id == "" {
		id = ulid.Make().String()
	}
	if len(opts.Browsers) == 0 {
		opts.Browsers = []string{""}
	}
	return &Runner{opts: opts, id: id}
}

// ID returns the run id.
func (r *Runner) ID() string { return r.id }

// Run executes every suite against every browser, in series. It always
// reports runner started and finished, and never panics a run to death;
// the result's Status carries the verdict.
func (r *Runner) Run(ctx context.Context) Result {
	started := time.Now()
	result := Result{RunID: r.id, Status: true, Browsers: len(r.opts.Browsers)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	endRun := func() {}
	if r.opts.Trace {
		ctx, endRun = traceSpan(ctx, "bowline.run",
			trace.AttrRunID.String(r.id),
			trace.AttrDriver.String(r.opts.Driver))
	}
	defer endRun()

	r.publish(report.EventRunnerStarted, map[string]any{
		"id":       r.id,
		"driver":   r.opts.Driver,
		"browsers": r.opts.Browsers,
		"files":    len(r.opts.Files),
	})
	r.log(logging.LevelInfo, "runner_started", "", map[string]any{
		"driver": r.opts.Driver,
		"files":  len(r.opts.Files),
	})

	if len(r.opts.Files)+len(r.opts.Suites) == 0 {
		r.publish(report.EventWarning, map[string]any{
			"message": "no test files given",
		})
		result.Status = false
		r.finish(&result, started)
		return result
	}

	// Sessions run strictly in series; the group exists for cancellation
	// plumbing and first-error collection.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)

	var mu sync.Mutex
	for _, name := range r.opts.Browsers {
		browser := name
		g.Go(func() error {
			sessionResults, err := r.runSession(gctx, browser, cancel)
			mu.Lock()
			for _, sr := range sessionResults {
				result.Suites++
				result.Tests += sr.Tests
				result.Passed += sr.Passed
				result.Failed += sr.Failed
				result.Assertions += sr.Assertions
				result.AssertionsFailed += sr.AssertionsFailed
				if !sr.Status {
					result.Status = false
				}
				result.SuiteResults = append(result.SuiteResults, sr)
			}
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		result.Status = false
		r.publish(report.EventError, map[string]any{"message": err.Error()})
		r.log(logging.LevelError, "run_failed", err.Error(), nil)
	}
	if err := r.fatalErr(); err != nil {
		result.Status = false
	}

	r.finish(&result, started)
	return result
}

// runSession opens one driver session for a browser and runs every suite
// against it.
func (r *Runner) runSession(ctx context.Context, browser string, cancelRun context.CancelFunc) ([]suite.Result, error) {
	r.publish(report.EventRunBrowser, map[string]any{
		"browser": browser,
		"driver":  r.opts.Driver,
	})

	endSession := func() {}
	if r.opts.Trace {
		ctx, endSession = traceSpan(ctx, "bowline.session",
			trace.AttrBrowser.String(browser),
			trace.AttrDriver.String(r.opts.Driver))
	}
	defer endSession()

	opts := r.opts.DriverOptions
	opts.Browser = browser
	if opts.Logger == nil {
		opts.Logger = r.opts.Logger
	}

	drv, err := driver.New(r.opts.Driver, opts)
	if err != nil {
		return nil, err
	}
	if err := drv.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = drv.Stop(stopCtx)
	}()

	var results []suite.Result
	for _, s := range r.buildSuites(cancelRun) {
		if ctx.Err() != nil {
			break
		}

		endSuite := func() {}
		suiteCtx := ctx
		if r.opts.Trace {
			suiteCtx, endSuite = traceSpan(ctx, "bowline.suite",
				trace.AttrSuite.String(s.Name()))
		}

		res := s.Run(suiteCtx, drv)

		if r.opts.Trace {
			trace.SetAttributes(suiteCtx, trace.AttrStatus.Bool(res.Status))
		}
		endSuite()

		results = append(results, res)
	}
	return results, nil
}

// buildSuites assembles this run's suite list: file scripts first, then
// in-code suites, all publishing into the runner's hub.
func (r *Runner) buildSuites(cancelRun context.CancelFunc) []*suite.Suite {
	sOpts := r.opts.SuiteOptions
	sOpts.Hub = r.opts.Hub
	sOpts.Logger = r.opts.Logger
	if sOpts.OnFatal == nil {
		sOpts.OnFatal = func(err error) {
			r.mu.Lock()
			if r.fatal == nil {
				r.fatal = err
			}
			r.mu.Unlock()
			cancelRun()
		}
	}

	suites := make([]*suite.Suite, 0, len(r.opts.Files)+len(r.opts.Suites))
	for _, file := range r.opts.Files {
		suites = append(suites, suite.Load(file, sOpts))
	}
	suites = append(suites, r.opts.Suites...)
	return suites
}

func (r *Runner) finish(result *Result, started time.Time) {
	result.Elapsed = time.Since(started)
	elapsed := FormatElapsed(result.Elapsed)

	r.publish(report.EventRunnerFinished, map[string]any{
		"id":                r.id,
		"status":            result.Status,
		"suites":            result.Suites,
		"tests":             result.Tests,
		"passed":            result.Passed,
		"failed":            result.Failed,
		"assertions":        result.Assertions,
		"assertions_failed": result.AssertionsFailed,
		"elapsed":           elapsed,
		"elapsed_ms":        result.Elapsed.Milliseconds(),
	})
	r.log(logging.LevelInfo, "runner_finished", "", map[string]any{
		"status":  result.Status,
		"tests":   result.Tests,
		"elapsed": elapsed,
	})
}

func (r *Runner) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

func (r *Runner) publish(typ report.EventType, data map[string]any) {
	if r.opts.Hub == nil {
		return
	}
	r.opts.Hub.Publish(report.Event{Type: typ, RunID: r.id, Data: data})
}

func (r *Runner) log(level logging.Level, event, message string, details map[string]any) {
	if r.opts.Logger == nil {
		return
	}
	r.opts.Logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategorySuite,
		EventType: event,
		Message:   message,
		Details:   details,
	})
}
