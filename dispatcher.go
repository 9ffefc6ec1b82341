package connector

import (
	"context"
	"sync"

	"github.com/oarkflow/connector/logger"
)

// Dispatcher runs completions on the caller's designated execution context.
// Enqueue may be called from any goroutine; every enqueued function must run
// exactly once, and never on the goroutine that enqueued it.
type Dispatcher interface {
	Enqueue(fn func())
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Enqueue(fn func()) { f(fn) }

// Queue is a FIFO Dispatcher drained by its owner, typically once per tick
// of a main loop.
type Queue struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
	logger logger.Logger
}

func NewQueue(log logger.Logger) *Queue {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Queue{notify: make(chan struct{}, 1), logger: log}
}

func (q *Queue) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain runs everything queued before the call, in order, and returns how
// many functions ran. Work enqueued while draining waits for the next call.
func (q *Queue) Drain() int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, fn := range items {
		q.run(fn)
	}
	return len(items)
}

// Run drains on the calling goroutine until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
			q.Drain()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) run(fn func()) {
	defer RecoverPanic(q.logger, RecoverTitle)
	fn()
}
