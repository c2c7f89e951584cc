package backends

import (
	"context"
	"encoding/json"
)

// semaphore is a counting semaphore honouring context cancellation.
type semaphore struct {
	permits chan struct{}
}

func newSemaphore(permits int) *semaphore {
	s := &semaphore{permits: make(chan struct{}, permits)}
	for i := 0; i < permits; i++ {
		s.permits <- struct{}{}
	}
	return s
}

func (s *semaphore) Acquire(ctx context.Context) error {
	select {
	case <-s.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) Release() {
	select {
	case s.permits <- struct{}{}:
	default:
	}
}

// limited bounds the number of requests in flight to one backend.
type limited struct {
	Backend
	sem *semaphore
}

// Limit wraps b so that at most maxInFlight requests run at once. Waiting
// requests give up when their context is cancelled. A maxInFlight below 1
// returns b unchanged.
func Limit(b Backend, maxInFlight int) Backend {
	if maxInFlight < 1 {
		return b
	}
	return &limited{Backend: b, sem: newSemaphore(maxInFlight)}
}

func (l *limited) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := l.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer l.sem.Release()
	return l.Backend.Request(ctx, method, params)
}

// Shutdown forwards to the wrapped backend when it holds resources.
func (l *limited) Shutdown(ctx context.Context) error {
	if c, ok := l.Backend.(Closer); ok {
		return c.Shutdown(ctx)
	}
	return nil
}

// Start forwards to the wrapped backend; it does not take a permit.
func (l *limited) Start(ctx context.Context) error {
	return Start(ctx, l.Backend)
}
