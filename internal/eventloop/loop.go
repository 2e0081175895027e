package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Run when the loop was already stopped.
var ErrStopped = errors.New("event loop stopped")

// Loop serializes tasks onto one goroutine.
type Loop struct {
	logger *slog.Logger

	mu     sync.Mutex
	tasks  []func()
	closed bool

	notify  chan struct{}
	stopped chan struct{}

	// Stats
	executed atomic.Int64
	panics   atomic.Int64
}

// Stats reports loop counters.
type Stats struct {
	Pending  int
	Executed int64
	Panics   int64
}

// New creates a loop. Call Run to start processing tasks.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:  logger,
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled. Pending tasks are dropped
// once the loop stops, and Post returns false from then on.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrStopped
	}
	l.mu.Unlock()

	defer l.close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}

		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn := l.next()
			if fn == nil {
				break
			}
			l.exec(fn)
		}
	}
}

// Post queues fn to run on the loop. The queue is unbounded so Post
// never blocks. Returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. Returns false if
// the loop stopped before fn ran. Must not be called from a loop task.
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}

	select {
	case <-done:
		return true
	case <-l.stopped:
		// fn may have completed just before the stop
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Stopped returns a channel closed once the loop has exited.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

// Stats returns current counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	pending := len(l.tasks)
	l.mu.Unlock()

	return Stats{
		Pending:  pending,
		Executed: l.executed.Load(),
		Panics:   l.panics.Load(),
	}
}

// next pops the oldest task, or nil if the queue is empty.
func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	if len(l.tasks) == 0 {
		// Reset to reuse the backing array from the start
		l.tasks = l.tasks[:0:0]
	}
	return fn
}

// exec runs a task, keeping the loop alive if it panics.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("event loop task panicked", "panic", r)
		}
	}()
	fn()
	l.executed.Add(1)
}

func (l *Loop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	l.tasks = nil
	close(l.stopped)
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop prevents the callback from running. Returns false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

type loopTimer struct {
	t    *time.Timer
	done atomic.Bool
}

// AfterFunc runs fn on the loop after d. A timer stopped before its
// callback is dequeued never runs fn, even if the underlying timer has
// already fired.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if !lt.done.CompareAndSwap(false, true) {
				return
			}
			fn()
		})
	})
	return lt
}

func (lt *loopTimer) Stop() bool {
	if !lt.done.CompareAndSwap(false, true) {
		return false
	}
	lt.t.Stop()
	return true
}
