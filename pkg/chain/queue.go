package chain

import (
	"context"
	"sync"
)

// RunFunc executes one queue entry. It must call settle exactly once —
// before returning for fire-and-forget work, or later from another
// goroutine for entries that wait on an external signal. Settling with a
// non-nil error rejects the entry; the queue still advances.
type RunFunc func(ctx context.Context, settle func(error))

type entry struct {
	name string
	run  RunFunc
}

// Queue executes entries one at a time in push order. Entry n+1 does not
// start until entry n has settled. Entries may be pushed while the queue
// is draining; Seal marks the end of input so Run can finish.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	sealed  bool
	started bool
	wake    chan struct{}
	done    chan struct{}
	onError func(name string, err error)
}

// NewQueue creates an empty queue. onError is invoked for every rejected
// entry; pass nil to ignore rejections.
func NewQueue(onError func(name string, err error)) *Queue {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Queue{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onError: onError,
	}
}

// Push appends an entry. Pushing after Seal is a no-op.
func (q *Queue) Push(name string, run RunFunc) {
	q.mu.Lock()
	if q.sealed {
		q.mu.Unlock()
		return
	}
	q.entries = append(q.entries, entry{name: name, run: run})
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of entries not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Seal marks the end of input. Once the backlog drains, Run completes.
func (q *Queue) Seal() {
	q.mu.Lock()
	q.sealed = true
	q.mu.Unlock()
	q.signal()
}

// Run drains the queue in order on a dedicated goroutine. It returns
// immediately; Done() closes when the sealed queue is empty or ctx ends.
// Run is a no-op after the first call.
func (q *Queue) Run(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.loop(ctx)
}

// Done closes when the queue has fully drained or its context ended.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			sealed := q.sealed
			q.mu.Unlock()
			if sealed {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		next := q.entries[0]
		q.entries = q.entries[1:]
		q.mu.Unlock()

		settled := make(chan error, 1)
		var once sync.Once
		next.run(ctx, func(err error) {
			once.Do(func() { settled <- err })
		})

		select {
		case err := <-settled:
			if err != nil {
				q.onError(next.name, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
