// Package session hosts the single active location list. It issues
// queries through the dispatcher, builds the list from the winning result
// and forwards navigation and fold commands to it.
//
// Every method must run on the session's loop.
package session

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"peek/internal/backends"
	"peek/internal/config"
	"peek/internal/dispatch"
	"peek/internal/errors"
	"peek/internal/locations"
	"peek/internal/loop"
	"peek/internal/protocol"
	"peek/internal/slogutil"
	"peek/internal/tree"
)

// ViewFactory creates the window for a new list.
type ViewFactory func(id string) tree.View

// Request is a cursor query. Cursor.Col is a byte offset into LineText,
// the text of the cursor line.
type Request struct {
	Parent   int
	Kind     protocol.Kind
	Cursor   locations.Cursor
	LineText string
}

// Outcome is the settled answer of a Request.
type Outcome struct {
	ID      string
	Kind    protocol.Kind
	Backend backends.BackendID
	// List is the new active list. It is nil when nothing was found or the
	// single result was jumped to.
	List *tree.List
	// Jump is set when the result held one location and auto-jump is on.
	Jump     *locations.Location
	Messages []string
}

// Empty reports whether the query found nothing.
func (o *Outcome) Empty() bool {
	return o.List == nil && o.Jump == nil
}

// Session owns the dispatcher and the active list.
type Session struct {
	dispatcher *dispatch.Dispatcher
	normalizer tree.Normalizer
	views      ViewFactory
	cfg        *config.Config
	logger     *slog.Logger

	active   *tree.List
	activeID string
	seq      uint64
	messages []string
}

// New creates a session over registry. views may be nil for a headless
// session.
func New(l *loop.Loop, registry *backends.Registry, methods *protocol.Methods, normalizer tree.Normalizer, views ViewFactory, cfg *config.Config, logger *slog.Logger) *Session {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Session{
		normalizer: normalizer,
		views:      views,
		cfg:        cfg,
		logger:     slogutil.Component(logger, "session"),
	}
	s.dispatcher = dispatch.New(l, registry, methods, s, logger)
	return s
}

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Report records a backend error for the pending outcome and logs it.
func (s *Session) Report(kind protocol.Kind, backend backends.BackendID, err error) {
	s.logger.Warn("Backend request failed", "kind", kind, "backend", backend, "error", err.Error())
	s.messages = append(s.messages, fmt.Sprintf("%s: %v", backend, err))
}

// Query destroys the active list and asks the backends for req.Kind. done
// runs on the loop once the query settles; a query superseded by a later
// one never calls back.
func (s *Session) Query(req Request, done func(*Outcome)) error {
	if _, ok := s.dispatcher.Methods().Lookup(req.Kind); !ok {
		return errors.Newf(errors.UnknownKind, "unknown kind %q", req.Kind)
	}
	s.Destroy()
	s.seq++
	seq := s.seq
	s.messages = nil

	pos := protocol.DocumentPosition{
		URI:      req.Cursor.URI,
		Line:     req.Cursor.Line,
		Col:      req.Cursor.Col,
		LineText: req.LineText,
	}
	cursor := req.Cursor
	return s.dispatcher.Query(req.Kind, pos, func(res dispatch.Result) {
		if seq != s.seq {
			return
		}
		done(s.settle(req, &cursor, res))
	})
}

func (s *Session) settle(req Request, cursor *locations.Cursor, res dispatch.Result) *Outcome {
	out := &Outcome{
		ID:       uuid.NewString(),
		Kind:     req.Kind,
		Backend:  res.Backend,
		Messages: s.messages,
	}
	s.messages = nil
	if res.Empty() {
		s.logger.Info("No locations", "kind", req.Kind)
		return out
	}

	var view tree.View
	if s.views != nil {
		view = s.views(out.ID)
	}
	list := tree.New(tree.Params{
		Parent:   req.Parent,
		Kind:     req.Kind,
		Raw:      res.Locations,
		Cursor:   cursor,
		Encoding: res.Encoding,
		Backend:  string(res.Backend),
	}, s.normalizer, &fetcher{d: s.dispatcher}, view, tree.Options{
		StartFolded: s.cfg.List.StartFolded,
		Flat:        s.cfg.IsFlatKind(string(req.Kind)),
	}, s.logger)

	if s.cfg.List.AutoJumpSingle && list.Groups().Len() == 1 {
		out.Jump = list.Groups()[0].Items[0]
		list.Destroy()
		s.logger.Debug("Jumped to single location", "kind", req.Kind, "filename", out.Jump.Filename)
		return out
	}

	s.active = list
	s.activeID = out.ID
	out.List = list
	s.logger.Debug("List opened", "id", out.ID, "kind", req.Kind, "backend", res.Backend, "locations", list.Groups().Len())
	list.Update()
	return out
}

// Active returns the active list and its id.
func (s *Session) Active() (*tree.List, string) {
	return s.active, s.activeID
}

// Next moves to the next location using the configured navigation.
func (s *Session) Next() (tree.Line, bool) {
	if s.active == nil {
		return tree.Line{}, false
	}
	return s.active.Next(s.nav())
}

// Previous moves to the previous location.
func (s *Session) Previous() (tree.Line, bool) {
	if s.active == nil {
		return tree.Line{}, false
	}
	return s.active.Previous(s.nav())
}

// Toggle toggles the fold under the cursor.
func (s *Session) Toggle() bool {
	return s.active != nil && s.active.ToggleFold()
}

// Open opens the fold under the cursor.
func (s *Session) Open() bool {
	return s.active != nil && s.active.OpenFold()
}

// Fold closes the fold under the cursor.
func (s *Session) Fold() bool {
	return s.active != nil && s.active.CloseFold()
}

// Jump returns the location under the cursor. On a group header it
// toggles the group instead and returns nil.
func (s *Session) Jump() *locations.Location {
	if s.active == nil {
		return nil
	}
	line, ok := s.active.Current()
	if !ok {
		return nil
	}
	if line.Kind == tree.LineGroup {
		s.active.ToggleFold()
		return nil
	}
	return line.Location
}

// Close closes the active list's view and keeps its state.
func (s *Session) Close() {
	if s.active != nil {
		s.active.Close()
	}
}

// Destroy drops the active list.
func (s *Session) Destroy() {
	if s.active == nil {
		return
	}
	s.logger.Debug("List destroyed", "id", s.activeID)
	s.active.Destroy()
	s.active = nil
	s.activeID = ""
}

func (s *Session) nav() tree.NavOptions {
	return tree.NavOptions{Cycle: s.cfg.List.Cycle, SkipGroups: s.cfg.List.SkipGroups}
}

// fetcher serves tree child fetches through the dispatcher.
type fetcher struct {
	d *dispatch.Dispatcher
}

func (f *fetcher) FetchChildren(kind protocol.Kind, rel *protocol.CallRelation, depth int, done func([]protocol.RawLocation, protocol.PositionEncoding)) error {
	return f.d.FetchChildren(kind, rel, depth, func(res dispatch.Result) {
		done(res.Locations, res.Encoding)
	})
}
