// Package loop provides the single execution context that owns list and
// dispatch state. Work from other goroutines reaches it through Post.
package loop

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gammazero/deque"

	"peek/internal/slogutil"
)

// Loop runs posted tasks one at a time, in order, on one goroutine. The
// queue is unbounded, so Post never blocks, even from a loop task.
type Loop struct {
	wake   chan struct{}
	done   chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	tasks   *deque.Deque[func()]
	stopped bool
	started bool
}

// New creates a loop whose queue starts with room for capacity tasks and
// grows as needed.
func New(capacity int, logger *slog.Logger) *Loop {
	if capacity < 1 {
		capacity = 64
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slogutil.Component(logger, "loop"),
		tasks:  deque.New[func()](capacity, capacity),
	}
}

// Post schedules fn to run on the loop. It reports false and drops fn once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks.PushBack(fn)
	l.mu.Unlock()
	l.notify()
	return true
}

// Run drains tasks until Stop is called or ctx is done. Tasks still queued
// at Stop run before Run returns; a panicking task is logged and skipped.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		fn, stopped := l.next()
		if fn != nil {
			l.run(fn)
			continue
		}
		if stopped {
			return
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			l.Stop()
		}
	}
}

// next pops the oldest task, nil when the queue is empty.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tasks.Len() == 0 {
		return nil, l.stopped
	}
	return l.tasks.PopFront(), l.stopped
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start(ctx context.Context) {
	go l.Run(ctx)
}

// Stop refuses further posts and lets Run finish the queued tasks.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.notify()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Call posts fn and waits for it to finish. It returns false if the loop
// stopped before fn could run. Never call it from a loop task.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked", "panic", r)
		}
	}()
	fn()
}
