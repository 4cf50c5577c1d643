// Package chain sequences deferred driver commands and reconciles their
// out-of-band results. A Queue executes entries strictly in declaration
// order; an Exchange routes result messages back to the entries that
// issued them by correlation id.
package chain

import (
	"sync"

	"github.com/google/uuid"

	"github.com/odvcencio/bowline/pkg/driver"
)

// NewID returns a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}

// Waiter consumes result messages delivered for one correlation id. A
// waiter may be invoked more than once; idempotence is the waiter's job.
type Waiter func(driver.Message)

// Exchange is the demux table between a driver's result stream and the
// call sites awaiting those results. Waiters are registered at issuance
// time and stay registered until Detach, so late or repeated deliveries
// land on the same waiter rather than on a fresh listener.
type Exchange struct {
	mu      sync.Mutex
	waiters map[string][]Waiter
	cancel  func()
}

// Attach subscribes a new exchange to the emitter's message stream.
func Attach(events *driver.Emitter) *Exchange {
	x := &Exchange{waiters: make(map[string][]Waiter)}
	x.cancel = events.Subscribe(x.dispatch)
	return x
}

// Register adds a waiter for the given correlation id.
func (x *Exchange) Register(id string, w Waiter) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.waiters[id] = append(x.waiters[id], w)
}

// Pending returns the number of ids with at least one waiter.
func (x *Exchange) Pending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.waiters)
}

// Detach unsubscribes from the emitter and drops every waiter. Messages
// arriving afterwards are ignored.
func (x *Exchange) Detach() {
	if x.cancel != nil {
		x.cancel()
	}
	x.mu.Lock()
	x.waiters = make(map[string][]Waiter)
	x.mu.Unlock()
}

// dispatch routes one message to the waiters registered under its hash.
// A hash with no waiters is a no-op.
func (x *Exchange) dispatch(msg driver.Message) {
	x.mu.Lock()
	registered := x.waiters[msg.Hash]
	snapshot := make([]Waiter, len(registered))
	copy(snapshot, registered)
	x.mu.Unlock()

	for _, w := range snapshot {
		w(msg)
	}
}
