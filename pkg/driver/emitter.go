package driver

import (
	"sync"
	"sync/atomic"
)

// Handler consumes one result Message.
type Handler func(Message)

type subscription struct {
	id     uint64
	fn     Handler
	closed atomic.Bool
}

// Emitter is the shared result channel of one driver session. Handlers are
// invoked synchronously in subscription order, so per-session delivery
// order is exactly publish order. Handlers run outside the emitter lock
// and may emit or subscribe reentrantly.
type Emitter struct {
	mu      sync.RWMutex
	subs    []*subscription
	counter atomic.Uint64
	closed  atomic.Bool
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Emit delivers msg to every active subscriber in subscription order.
func (e *Emitter) Emit(msg Message) {
	if e.closed.Load() {
		return
	}

	e.mu.RLock()
	snapshot := make([]*subscription, len(e.subs))
	copy(snapshot, e.subs)
	e.mu.RUnlock()

	for _, sub := range snapshot {
		if sub.closed.Load() {
			continue
		}
		sub.fn(msg)
	}
}

// Subscribe registers a handler for all future messages and returns a
// cancel func. Cancel is idempotent.
func (e *Emitter) Subscribe(fn Handler) func() {
	sub := &subscription{
		id: e.counter.Add(1),
		fn: fn,
	}

	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	return func() {
		if sub.closed.Swap(true) {
			return
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == sub.id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				break
			}
		}
	}
}

// Close drops all subscribers and ignores further emits.
func (e *Emitter) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.subs {
		sub.closed.Store(true)
	}
	e.subs = nil
}
