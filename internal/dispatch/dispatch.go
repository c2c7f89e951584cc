// Package dispatch sends list queries to every active backend and keeps
// the first non-empty answer.
//
// A Dispatcher belongs to one loop.Loop. Query, FetchChildren and Cancel
// must be called on that loop, and callbacks run on it.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"peek/internal/backends"
	"peek/internal/errors"
	"peek/internal/loop"
	"peek/internal/protocol"
	"peek/internal/slogutil"
)

// Result is the winning answer of a query. An empty Result means no
// backend contributed.
type Result struct {
	Kind      protocol.Kind
	Backend   backends.BackendID
	Encoding  protocol.PositionEncoding
	Locations []protocol.RawLocation
}

// Empty reports whether no backend contributed.
func (r Result) Empty() bool {
	return len(r.Locations) == 0
}

// Callback receives the result of a query on the loop.
type Callback func(Result)

// handleKey addresses one outstanding backend request. Target is empty for
// cursor queries and names the expanded item for child fetches.
type handleKey struct {
	backend backends.BackendID
	kind    protocol.Kind
	target  string
}

type handle struct {
	key    handleKey
	query  *query
	cancel context.CancelFunc
}

type query struct {
	id      uint64
	entry   protocol.Method
	cb      Callback
	pending int
	settled bool
}

// request is the work done for one backend in its own goroutine.
type request func(ctx context.Context, b backends.Backend) ([]protocol.RawLocation, error)

// Dispatcher fans queries out to backends with cancel-on-first-success.
type Dispatcher struct {
	loop     *loop.Loop
	registry *backends.Registry
	methods  *protocol.Methods
	reporter Reporter
	logger   *slog.Logger

	handles map[handleKey]*handle
	nextID  uint64
}

// New creates a dispatcher. A nil reporter logs backend errors.
func New(l *loop.Loop, registry *backends.Registry, methods *protocol.Methods, reporter Reporter, logger *slog.Logger) *Dispatcher {
	logger = slogutil.Component(logger, "dispatch")
	if reporter == nil {
		reporter = NewLogReporter(logger)
	}
	if methods == nil {
		methods = protocol.NewMethods()
	}
	return &Dispatcher{
		loop:     l,
		registry: registry,
		methods:  methods,
		reporter: reporter,
		logger:   logger,
		handles:  make(map[handleKey]*handle),
	}
}

// Methods returns the kind table.
func (d *Dispatcher) Methods() *protocol.Methods {
	return d.methods
}

// Query asks every active backend for kind at pos. The first non-empty
// answer wins and cancels the others; cb receives an empty Result when no
// backend contributes. A new query of the same kind supersedes this one.
func (d *Dispatcher) Query(kind protocol.Kind, pos protocol.DocumentPosition, cb Callback) error {
	entry, ok := d.methods.Lookup(kind)
	if !ok {
		return errors.Newf(errors.UnknownKind, "unknown kind %q", kind)
	}
	d.Cancel(kind)

	first := entry.Method
	if entry.IsHierarchy() {
		first = entry.Prepare
	}
	targets := d.registry.Active(first, pos.URI)

	var run request
	if entry.IsHierarchy() {
		run = func(ctx context.Context, b backends.Backend) ([]protocol.RawLocation, error) {
			params, err := measure(ctx, b, pos)
			if err != nil {
				return nil, err
			}
			return hierarchy(ctx, b, entry, params)
		}
	} else {
		run = func(ctx context.Context, b backends.Backend) ([]protocol.RawLocation, error) {
			params, err := measure(ctx, b, pos)
			if err != nil {
				return nil, err
			}
			return plain(ctx, b, entry, params)
		}
	}

	d.logger.Debug("Query", "kind", kind, "uri", pos.URI, "backends", len(targets))
	d.fanOut(entry, "", targets, run, cb)
	return nil
}

// FetchChildren repeats the relation request of a hierarchy kind for an
// already resolved item. It goes to the backend that produced the relation
// while that backend is active, otherwise to every active backend. depth
// is the depth of the expanded node; a fetch supersedes only an earlier
// fetch of the same item at the same depth.
func (d *Dispatcher) FetchChildren(kind protocol.Kind, rel *protocol.CallRelation, depth int, cb Callback) error {
	entry, ok := d.methods.Lookup(kind)
	if !ok {
		return errors.Newf(errors.UnknownKind, "unknown kind %q", kind)
	}
	if !entry.IsHierarchy() {
		return errors.Newf(errors.InvalidParams, "kind %q has no children", kind)
	}
	if rel == nil {
		return errors.New(errors.InvalidParams, "missing call relation", nil)
	}

	item := rel.Item
	var targets []backends.Backend
	if b, ok := d.registry.Get(backends.BackendID(rel.Backend)); ok && b.IsAvailable() {
		targets = []backends.Backend{b}
	} else {
		targets = d.registry.Active(entry.Method, item.URI)
	}

	target := fmt.Sprintf("%s:%d:%d@%d", item.URI, item.SelectionRange.Start.Line, item.SelectionRange.Start.Character, depth)
	d.cancelTarget(kind, target)

	run := func(ctx context.Context, b backends.Backend) ([]protocol.RawLocation, error) {
		return relations(ctx, b, entry, item)
	}
	d.logger.Debug("Fetch children", "kind", kind, "item", item.Name, "backends", len(targets))
	d.fanOut(entry, target, targets, run, cb)
	return nil
}

// Cancel cancels every outstanding request of kind. Superseded queries
// never call back.
func (d *Dispatcher) Cancel(kind protocol.Kind) {
	for key, h := range d.handles {
		if key.kind == kind {
			d.drop(h)
		}
	}
}

// CancelAll cancels every outstanding request.
func (d *Dispatcher) CancelAll() {
	for _, h := range d.handles {
		d.drop(h)
	}
}

// Outstanding counts the requests still in flight.
func (d *Dispatcher) Outstanding() int {
	return len(d.handles)
}

func (d *Dispatcher) cancelTarget(kind protocol.Kind, target string) {
	for key, h := range d.handles {
		if key.kind == kind && key.target == target {
			d.drop(h)
		}
	}
}

// drop cancels h and settles its query without a callback.
func (d *Dispatcher) drop(h *handle) {
	h.cancel()
	h.query.settled = true
	delete(d.handles, h.key)
}

func (d *Dispatcher) fanOut(entry protocol.Method, target string, targets []backends.Backend, run request, cb Callback) {
	d.nextID++
	q := &query{id: d.nextID, entry: entry, cb: cb, pending: len(targets)}

	if len(targets) == 0 {
		d.loop.Post(func() {
			if !q.settled {
				q.settled = true
				cb(Result{Kind: entry.Kind})
			}
		})
		return
	}

	for _, b := range targets {
		ctx, cancel := context.WithCancel(context.Background())
		h := &handle{
			key:    handleKey{backend: b.ID(), kind: entry.Kind, target: target},
			query:  q,
			cancel: cancel,
		}
		if stale, ok := d.handles[h.key]; ok {
			d.drop(stale)
		}
		d.handles[h.key] = h

		go func(b backends.Backend) {
			locs, err := run(ctx, b)
			if !d.loop.Post(func() { d.complete(h, b, locs, err) }) {
				cancel()
			}
		}(b)
	}
}

// complete applies one backend reply on the loop.
func (d *Dispatcher) complete(h *handle, b backends.Backend, locs []protocol.RawLocation, err error) {
	h.cancel()
	if d.handles[h.key] == h {
		delete(d.handles, h.key)
	}
	q := h.query
	if q.settled {
		d.logger.Debug("Late reply ignored", "kind", q.entry.Kind, "backend", b.ID())
		return
	}
	q.pending--

	switch {
	case err != nil:
		if !q.entry.NonStandard {
			d.reporter.Report(q.entry.Kind, b.ID(), err)
		}
	case len(locs) > 0:
		q.settled = true
		for key, other := range d.handles {
			if other.query == q {
				other.cancel()
				delete(d.handles, key)
			}
		}
		d.logger.Debug("Query won", "kind", q.entry.Kind, "backend", b.ID(), "locations", len(locs))
		q.cb(Result{
			Kind:      q.entry.Kind,
			Backend:   b.ID(),
			Encoding:  b.PositionEncoding(),
			Locations: locs,
		})
		return
	}

	if q.pending == 0 {
		q.settled = true
		q.cb(Result{Kind: q.entry.Kind})
	}
}
