// Package tree holds the state of the location list: file groups, fold
// state, cached call subtrees and the cursor.
//
// A List is owned by one execution context. Every method, and every
// callback handed to a Fetcher, must run on it; the List takes no locks.
package tree

import (
	"log/slog"

	"peek/internal/locations"
	"peek/internal/protocol"
	"peek/internal/slogutil"
)

// Normalizer turns raw results into file groups.
type Normalizer interface {
	Normalize(raw []protocol.RawLocation, opts locations.Options) locations.Groups
}

// Fetcher loads the children of a call node. done must be called on the
// list's execution context, at most once.
type Fetcher interface {
	FetchChildren(kind protocol.Kind, rel *protocol.CallRelation, depth int, done func(raw []protocol.RawLocation, enc protocol.PositionEncoding)) error
}

// View displays snapshots. It is the host's window.
type View interface {
	Render(snap *Snapshot)
	Close()
}

// Params describe the query a list is created for.
type Params struct {
	// Parent is the buffer the query was issued from.
	Parent   int
	Kind     protocol.Kind
	Raw      []protocol.RawLocation
	Cursor   *locations.Cursor
	Encoding protocol.PositionEncoding
	Backend  string
}

// Options tune list behaviour.
type Options struct {
	// StartFolded closes every group except the one holding the starting
	// location.
	StartFolded bool
	// Flat renders the groups as one sequence without headers.
	Flat bool
}

// NavOptions tune Next and Previous.
type NavOptions struct {
	Cycle      bool
	SkipGroups bool
}

// List is the navigable, foldable location list.
type List struct {
	parent int
	kind   protocol.Kind
	flat   bool

	groups  locations.Groups
	folds   map[locations.FoldKey]bool
	cache   map[locations.FoldKey][]*locations.Location
	loaded  map[locations.Key]bool
	pending map[locations.Key]bool

	snapshot *Snapshot
	cursor   int

	normalizer Normalizer
	fetcher    Fetcher
	view       View
	logger     *slog.Logger

	closed    bool
	destroyed bool
}

// New normalizes p.Raw and builds the initial list. view and fetcher may be
// nil.
func New(p Params, normalizer Normalizer, fetcher Fetcher, view View, opts Options, logger *slog.Logger) *List {
	l := &List{
		parent:     p.Parent,
		kind:       p.Kind,
		flat:       opts.Flat,
		folds:      make(map[locations.FoldKey]bool),
		cache:      make(map[locations.FoldKey][]*locations.Location),
		loaded:     make(map[locations.Key]bool),
		pending:    make(map[locations.Key]bool),
		normalizer: normalizer,
		fetcher:    fetcher,
		view:       view,
		logger:     slogutil.Component(logger, "tree"),
	}
	l.groups = normalizer.Normalize(p.Raw, locations.Options{
		Kind:     p.Kind,
		Encoding: p.Encoding,
		Backend:  p.Backend,
		Cursor:   p.Cursor,
	})

	start := l.groups.Starting()
	for i, group := range l.groups {
		open := !opts.StartFolded
		if start != nil {
			open = open || group.Filename == start.Filename
		} else {
			open = open || i == 0
		}
		l.folds[locations.GroupKey(group.Filename)] = open
	}

	l.rebuild()
	l.cursor = l.initialCursor(start)
	l.snapshot.Cursor = l.cursor
	l.logger.Debug("List created", "kind", p.Kind, "groups", len(l.groups), "locations", l.groups.Len())
	return l
}

func (l *List) initialCursor(start *locations.Location) int {
	if start != nil {
		if i := l.snapshot.IndexOf(start.Key); i >= 0 {
			return i
		}
	}
	for i, line := range l.snapshot.Lines {
		if line.Kind == LineLocation {
			return i
		}
	}
	return 0
}

// Kind returns the request kind.
func (l *List) Kind() protocol.Kind {
	return l.kind
}

// Parent returns the buffer the list was created from.
func (l *List) Parent() int {
	return l.parent
}

// Flat reports whether the list renders without group headers.
func (l *List) Flat() bool {
	return l.flat
}

// Groups returns the current file groups.
func (l *List) Groups() locations.Groups {
	return l.groups
}

// Snapshot returns the visible lines.
func (l *List) Snapshot() *Snapshot {
	return l.snapshot
}

// CursorLine returns the cursor's line index.
func (l *List) CursorLine() int {
	return l.cursor
}

// SetCursor moves the cursor to line, clamped to the snapshot.
func (l *List) SetCursor(line int) {
	if line >= l.snapshot.Len() {
		line = l.snapshot.Len() - 1
	}
	if line < 0 {
		line = 0
	}
	l.cursor = line
	l.snapshot.Cursor = line
}

// Current returns the line under the cursor.
func (l *List) Current() (Line, bool) {
	return l.snapshot.At(l.cursor)
}

// Update rebuilds the snapshot and renders it.
func (l *List) Update() {
	l.rebuild()
	l.render()
}

// Close releases the view. The list state is kept.
func (l *List) Close() {
	if l.closed {
		return
	}
	l.closed = true
	if l.view != nil {
		l.view.Close()
	}
}

// Destroy drops all state. Pending fetches are ignored when they complete.
func (l *List) Destroy() {
	l.Close()
	l.destroyed = true
	l.groups = nil
	l.folds = make(map[locations.FoldKey]bool)
	l.cache = make(map[locations.FoldKey][]*locations.Location)
	l.loaded = make(map[locations.Key]bool)
	l.pending = make(map[locations.Key]bool)
	l.snapshot = &Snapshot{Kind: l.kind, Flat: l.flat}
	l.cursor = 0
}

// Destroyed reports whether Destroy was called.
func (l *List) Destroyed() bool {
	return l.destroyed
}

// ActiveGroup returns the group holding item, or the current item when
// item is nil. Items found in no group get a synthetic single-item group.
func (l *List) ActiveGroup(item *locations.Location) *locations.Group {
	if item == nil {
		line, ok := l.Current()
		if !ok {
			return nil
		}
		if line.Kind == LineGroup {
			return line.Group
		}
		item = line.Location
	}
	for _, group := range l.groups {
		for _, candidate := range group.Items {
			if candidate.Key == item.Key {
				return group
			}
		}
	}
	return &locations.Group{Filename: item.Filename, URI: item.URI, Items: []*locations.Location{item}}
}

// rebuild recomputes the snapshot from the fold state, keeping the cursor
// in range.
func (l *List) rebuild() {
	l.snapshot = l.build()
	if l.cursor >= l.snapshot.Len() {
		l.cursor = l.snapshot.Len() - 1
	}
	if l.cursor < 0 {
		l.cursor = 0
	}
	l.snapshot.Cursor = l.cursor
}

func (l *List) render() {
	if l.view != nil && !l.closed {
		l.view.Render(l.snapshot)
	}
}
