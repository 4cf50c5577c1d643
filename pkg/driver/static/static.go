// Package static implements the built-in driver: a JavaScript-free
// browser backed by plain HTTP fetches and server-side DOM queries. It
// answers every core command, so suites run with zero external browser
// dependencies; anything requiring a script engine degrades to a warning
// result instead of failing the dispatch.
package static

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

const (
	defaultWaitTimeout = 5 * time.Second
	pollInterval       = 100 * time.Millisecond
	queueDepth         = 128
)

func init() {
	driver.Register("static", New)
}

// Driver is the static-page driver. Commands are accepted fire-and-forget
// and processed serially on one worker goroutine, so the complete marker
// naturally drains everything issued before it.
type Driver struct {
	commands *driver.CommandSet
	events   *driver.Emitter
	cmds     chan driver.Command

	logger *logging.Logger
	cmdlog *logging.CommandLogger

	waitTimeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	session session
}

// New constructs a static driver from registry options.
func New(opts driver.Options) (driver.Driver, error) {
	d := &Driver{
		commands:    driver.NewCommandSet("static"),
		events:      driver.NewEmitter(),
		cmds:        make(chan driver.Command, queueDepth),
		logger:      opts.Logger,
		cmdlog:      opts.Commands,
		waitTimeout: opts.WaitTimeout,
	}
	if d.waitTimeout <= 0 {
		d.waitTimeout = defaultWaitTimeout
	}
	d.register()
	return d, nil
}

// Name identifies the driver in configuration and reports.
func (d *Driver) Name() string { return "static" }

// Events returns the result stream.
func (d *Driver) Events() *driver.Emitter { return d.events }

// Start prepares the HTTP session and launches the command worker.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return nil
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDriverCommand, "cannot create cookie jar")
	}
	d.session.client = &http.Client{
		Jar:     jar,
		Timeout: 15 * time.Second,
	}
	d.session.viewport = viewport{width: 1280, height: 800}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	go d.run()

	if d.logger != nil {
		d.logger.Info(logging.CategoryDriver, "driver_started", "", map[string]any{"driver": "static"})
	}
	return nil
}

// Stop cancels the worker. Queued commands that have not run yet are
// dropped; their tests time out through the done watchdog.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		d.ctx = nil
	}
	d.events.Close()
	return nil
}

// Dispatch accepts a command without waiting for its result. It only
// fails when the driver is not running or the queue is saturated.
func (d *Driver) Dispatch(ctx context.Context, cmd driver.Command) error {
	d.mu.Lock()
	running := d.ctx != nil
	d.mu.Unlock()
	if !running {
		return errors.New(errors.ErrCodeDriverCommand, "driver is not started").
			WithContext("driver", "static").
			WithContext("method", cmd.Method)
	}

	if d.cmdlog != nil {
		d.cmdlog.Command("static", cmd.ID, cmd.Method, cmd.Args)
	}

	select {
	case d.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New(errors.ErrCodeDriverCommand, "command queue is full").
			WithContext("driver", "static").
			WithContext("method", cmd.Method)
	}
}

func (d *Driver) run() {
	ctx := d.ctx
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.cmds:
			d.handle(ctx, cmd)
		}
	}
}

func (d *Driver) handle(ctx context.Context, cmd driver.Command) {
	if err := d.commands.Dispatch(ctx, cmd); err != nil {
		if d.logger != nil {
			d.logger.Warn(logging.CategoryDriver, "command_failed", err.Error(), map[string]any{
				"method": cmd.Method,
				"id":     cmd.ID,
			})
		}
		d.emit(cmd.Method+".error", cmd.ID, err.Error())
	}
}

// emit publishes one result message for a previously dispatched command.
func (d *Driver) emit(key, hash string, value any) {
	if d.cmdlog != nil {
		d.cmdlog.Result("static", hash, key, value)
	}
	d.events.Emit(driver.Message{Key: key, Hash: hash, Value: value})
}
