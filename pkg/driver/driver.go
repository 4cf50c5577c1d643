// Package driver defines the contract between the test core and browser
// automation backends. A driver accepts commands carrying a correlation id
// and later publishes a result Message with the same id on its Emitter;
// the core never waits on the dispatch call itself.
package driver

import (
	"context"
	"sort"
	"sync"

	"github.com/odvcencio/bowline/pkg/errors"
)

// Well-known protocol values.
const (
	// MethodComplete is the marker command dispatched when a test calls
	// Done(). Serial drivers answer it with KeyRunComplete after every
	// previously issued command has produced its result.
	MethodComplete = "complete"

	// KeyRunComplete is the result key signalling that a test's command
	// stream has fully drained.
	KeyRunComplete = "run.complete"
)

// Message is a result posted by a driver on its Emitter. Key names the
// command (or assertion subject) that produced it, Hash is the correlation
// id the command was issued with, and Value carries the raw result.
type Message struct {
	Key   string `json:"key"`
	Hash  string `json:"hash"`
	Value any    `json:"value"`
}

// Command is a single unit of work handed to a driver. Immutable once
// issued; ID is appended by the queue at enqueue time.
type Command struct {
	Method string
	Args   []any
	ID     string
}

// Driver is a browser automation backend. Dispatch returns as soon as the
// command has been accepted; completion arrives later as a Message on
// Events() whose Hash equals the command ID. A driver may never answer a
// command — the per-test timeout is the caller's escape valve.
type Driver interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Dispatch(ctx context.Context, cmd Command) error
	Events() *Emitter
}

// CommandFunc executes one named driver method.
type CommandFunc func(ctx context.Context, args []any, id string) error

// CommandSet is a method-name → implementation table. Driver
// implementations embed one and register their supported methods; Dispatch
// rejects anything unregistered without touching the session.
type CommandSet struct {
	driver string
	mu     sync.RWMutex
	funcs  map[string]CommandFunc
}

// NewCommandSet creates an empty command table for the named driver.
func NewCommandSet(driver string) *CommandSet {
	return &CommandSet{
		driver: driver,
		funcs:  make(map[string]CommandFunc),
	}
}

// Register adds a method implementation, replacing any previous one.
func (c *CommandSet) Register(method string, fn CommandFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[method] = fn
}

// Supports reports whether the method is registered.
func (c *CommandSet) Supports(method string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.funcs[method]
	return ok
}

// Methods returns the registered method names, sorted.
func (c *CommandSet) Methods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.funcs))
	for name := range c.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch routes a command to its registered implementation.
func (c *CommandSet) Dispatch(ctx context.Context, cmd Command) error {
	c.mu.RLock()
	fn, ok := c.funcs[cmd.Method]
	c.mu.RUnlock()

	if !ok {
		return errors.New(errors.ErrCodeDriverCommand, "driver does not implement method").
			WithContext("driver", c.driver).
			WithContext("method", cmd.Method)
	}
	return fn(ctx, cmd.Args, cmd.ID)
}
