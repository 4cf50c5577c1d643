// Package drivertest provides a scripted in-memory driver for exercising
// the command queue, correlation, and lifecycle layers without a browser.
package drivertest

import (
	"context"
	"sync"

	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/errors"
)

// Fake is a driver whose responses are scripted per method. By default
// every dispatched command is answered synchronously with a single
// message {Key: method, Hash: id, Value: true}; the completion marker is
// answered with the run-complete key. Held methods are recorded but never
// answered, and Emit delivers arbitrary messages for out-of-order or
// duplicate delivery scenarios.
type Fake struct {
	events *driver.Emitter

	mu         sync.Mutex
	issued     []driver.Command
	stubs      map[string]any
	repeats    map[string]int
	held       map[string]bool
	rejected   map[string]bool
	responders map[string]func(driver.Command) []driver.Message
}

// New constructs a fake driver with default echo responses.
func New() *Fake {
	return &Fake{
		events:     driver.NewEmitter(),
		stubs:      make(map[string]any),
		repeats:    make(map[string]int),
		held:       make(map[string]bool),
		rejected:   make(map[string]bool),
		responders: make(map[string]func(driver.Command) []driver.Message),
	}
}

// Name implements driver.Driver.
func (f *Fake) Name() string { return "fake" }

// Start implements driver.Driver.
func (f *Fake) Start(ctx context.Context) error { return nil }

// Stop implements driver.Driver.
func (f *Fake) Stop(ctx context.Context) error { return nil }

// Events implements driver.Driver.
func (f *Fake) Events() *driver.Emitter { return f.events }

// Dispatch records the command and plays back the scripted response.
func (f *Fake) Dispatch(ctx context.Context, cmd driver.Command) error {
	f.mu.Lock()
	if f.rejected[cmd.Method] {
		f.mu.Unlock()
		return errors.New(errors.ErrCodeDriverCommand, "driver does not implement method").
			WithContext("driver", f.Name()).
			WithContext("method", cmd.Method)
	}
	f.issued = append(f.issued, cmd)
	responder := f.responders[cmd.Method]
	hold := f.held[cmd.Method]
	value, stubbed := f.stubs[cmd.Method]
	times := f.repeats[cmd.Method]
	f.mu.Unlock()

	switch {
	case responder != nil:
		for _, msg := range responder(cmd) {
			f.events.Emit(msg)
		}
	case hold:
		// Recorded but never answered.
	default:
		if !stubbed {
			value = true
		}
		if times <= 0 {
			times = 1
		}
		key := cmd.Method
		if cmd.Method == driver.MethodComplete {
			key = driver.KeyRunComplete
		}
		for i := 0; i < times; i++ {
			f.events.Emit(driver.Message{Key: key, Hash: cmd.ID, Value: value})
		}
	}
	return nil
}

// Stub sets the value answered for a method.
func (f *Fake) Stub(method string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs[method] = value
}

// StubRepeat answers a method with the same message several times,
// simulating duplicate delivery.
func (f *Fake) StubRepeat(method string, value any, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs[method] = value
	f.repeats[method] = times
}

// Hold records dispatches of a method without ever answering them.
func (f *Fake) Hold(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[method] = true
}

// Reject makes Dispatch return an unknown-command error for a method.
func (f *Fake) Reject(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[method] = true
}

// Respond installs a full custom responder for a method.
func (f *Fake) Respond(method string, fn func(driver.Command) []driver.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responders[method] = fn
}

// Emit delivers a message on the result stream directly.
func (f *Fake) Emit(msg driver.Message) {
	f.events.Emit(msg)
}

// Issued returns a copy of every dispatched command in issue order.
func (f *Fake) Issued() []driver.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]driver.Command, len(f.issued))
	copy(out, f.issued)
	return out
}

// IssuedMethods returns just the method names, in issue order.
func (f *Fake) IssuedMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.issued))
	for i, cmd := range f.issued {
		out[i] = cmd.Method
	}
	return out
}

// FirstIssued returns the first dispatched command for a method.
func (f *Fake) FirstIssued(method string) (driver.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cmd := range f.issued {
		if cmd.Method == method {
			return cmd, true
		}
	}
	return driver.Command{}, false
}
