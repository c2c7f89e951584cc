package backends

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"peek/internal/slogutil"
)

// Registry holds the configured backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[BackendID]Backend
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[BackendID]Backend),
		logger:   slogutil.Component(logger, "backends"),
	}
}

// Register adds b. Registering a second backend with the same id fails.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[b.ID()]; ok {
		return fmt.Errorf("backend %s already registered", b.ID())
	}
	r.backends[b.ID()] = b
	r.logger.Debug("Registered backend", "id", b.ID(), "priority", b.Priority())
	return nil
}

// Unregister removes the backend with id and returns it.
func (r *Registry) Unregister(id BackendID) (Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[id]
	delete(r.backends, id)
	return b, ok
}

// Get returns the backend with id.
func (r *Registry) Get(id BackendID) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// IsActive reports whether id is registered and available.
func (r *Registry) IsActive(id BackendID) bool {
	b, ok := r.Get(id)
	return ok && b.IsAvailable()
}

// All returns every backend ordered by priority, then id.
func (r *Registry) All() []Backend {
	r.mu.RLock()
	out := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() < out[j].Priority()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Active returns the available backends supporting method for uri, in
// fan-out order.
func (r *Registry) Active(method, uri string) []Backend {
	all := r.All()
	out := all[:0]
	for _, b := range all {
		if b.IsAvailable() && b.Supports(method, uri) {
			out = append(out, b)
		}
	}
	return out
}

// Shutdown stops every backend that holds resources, concurrently.
func (r *Registry) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, b := range r.All() {
		closer, ok := b.(Closer)
		if !ok {
			continue
		}
		id := b.ID()
		g.Go(func() error {
			if err := closer.Shutdown(ctx); err != nil {
				r.logger.Warn("Backend shutdown failed", "id", id, "error", err.Error())
				return fmt.Errorf("shutdown %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
