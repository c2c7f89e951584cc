package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"peek/internal/backends"
	peekerrors "peek/internal/errors"
	"peek/internal/loop"
	"peek/internal/protocol"
)

// reply scripts one method of a fakeBackend. When block is set the reply
// waits for it to close or for the request to be cancelled; ignoreCancel
// makes it wait for block regardless.
type reply struct {
	data         string
	err          error
	block        chan struct{}
	ignoreCancel bool
}

type call struct {
	method string
	params json.RawMessage
}

type fakeBackend struct {
	id        backends.BackendID
	priority  int
	available bool
	replies   map[string]reply

	mu        sync.Mutex
	encoding  protocol.PositionEncoding
	calls     []call
	cancelled int
}

func newFakeBackend(id backends.BackendID, priority int, replies map[string]reply) *fakeBackend {
	return &fakeBackend{id: id, priority: priority, available: true, replies: replies}
}

func (f *fakeBackend) ID() backends.BackendID { return f.id }
func (f *fakeBackend) IsAvailable() bool      { return f.available }
func (f *fakeBackend) Priority() int          { return f.priority }

func (f *fakeBackend) PositionEncoding() protocol.PositionEncoding {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.encoding == "" {
		return protocol.EncodingUTF16
	}
	return f.encoding
}

func (f *fakeBackend) Supports(method, _ string) bool {
	_, ok := f.replies[method]
	return ok
}

func (f *fakeBackend) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, _ := json.Marshal(params)
	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, params: raw})
	f.mu.Unlock()

	r := f.replies[method]
	if r.block != nil {
		if r.ignoreCancel {
			<-r.block
		} else {
			select {
			case <-r.block:
			case <-ctx.Done():
				f.mu.Lock()
				f.cancelled++
				f.mu.Unlock()
				return nil, ctx.Err()
			}
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.data), nil
}

// startingBackend learns its encoding only when started, like a language
// server negotiating it at initialize.
type startingBackend struct {
	*fakeBackend
	negotiated protocol.PositionEncoding
	err        error
}

func (s *startingBackend) Start(context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.encoding = s.negotiated
	s.mu.Unlock()
	return nil
}

// Report is one recorded backend error.
type Report struct {
	Kind    protocol.Kind
	Backend backends.BackendID
	Err     error
}

// Recorder keeps reported errors for assertions.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) Report(kind protocol.Kind, backend backends.BackendID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Kind: kind, Backend: backend, Err: err})
}

func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}

func (f *fakeBackend) sentCharacter(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.method == method {
			var p protocol.TextDocumentPositionParams
			_ = json.Unmarshal(c.params, &p)
			return p.Position.Character
		}
	}
	return -1
}

func (f *fakeBackend) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (f *fakeBackend) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type harness struct {
	t        *testing.T
	loop     *loop.Loop
	registry *backends.Registry
	recorder *Recorder
	d        *Dispatcher
	results  chan Result
}

func newHarness(t *testing.T, bs ...backends.Backend) *harness {
	t.Helper()
	l := loop.New(16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	registry := backends.NewRegistry(nil)
	for _, b := range bs {
		if err := registry.Register(b); err != nil {
			t.Fatal(err)
		}
	}
	recorder := &Recorder{}
	return &harness{
		t:        t,
		loop:     l,
		registry: registry,
		recorder: recorder,
		d:        New(l, registry, nil, recorder, nil),
		results:  make(chan Result, 8),
	}
}

func (h *harness) query(kind protocol.Kind) {
	h.t.Helper()
	h.queryAt(kind, cursorAt("file:///src/main.go", 3, 4))
}

func (h *harness) queryAt(kind protocol.Kind, pos protocol.DocumentPosition) {
	h.t.Helper()
	var err error
	h.loop.Call(func() {
		err = h.d.Query(kind, pos, func(r Result) { h.results <- r })
	})
	if err != nil {
		h.t.Fatalf("Query() error = %v", err)
	}
}

func (h *harness) result() Result {
	h.t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		h.t.Fatal("no result delivered")
		return Result{}
	}
}

func (h *harness) noResult() {
	h.t.Helper()
	select {
	case r := <-h.results:
		h.t.Fatalf("unexpected extra result %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) outstanding() int {
	n := 0
	h.loop.Call(func() { n = h.d.Outstanding() })
	return n
}

// cursorAt places the cursor on an ASCII line of unknown text, where bytes
// and characters agree.
func cursorAt(uri string, line, col int) protocol.DocumentPosition {
	return protocol.DocumentPosition{URI: uri, Line: line, Col: col}
}

const fooLocation = `[{"uri":"file:///src/foo.ts","range":{"start":{"line":4,"character":0},"end":{"line":4,"character":3}}}]`

func TestQuery_FirstNonEmptyWins(t *testing.T) {
	a := newFakeBackend("a", 1, map[string]reply{protocol.MethodDefinition: {data: `[]`}})
	b := newFakeBackend("b", 2, map[string]reply{protocol.MethodDefinition: {data: fooLocation}})
	h := newHarness(t, a, b)

	h.query(protocol.KindDefinitions)
	r := h.result()
	if r.Backend != "b" || len(r.Locations) != 1 {
		t.Fatalf("result = %+v", r)
	}
	loc := r.Locations[0].Location
	if loc.URI != "file:///src/foo.ts" || loc.Range.Start.Line != 4 || r.Locations[0].Call != nil {
		t.Errorf("location = %+v", r.Locations[0])
	}
	if r.Encoding != protocol.EncodingUTF16 {
		t.Errorf("Encoding = %s", r.Encoding)
	}
	h.noResult()
}

func TestQuery_CancelsLosers(t *testing.T) {
	never := make(chan struct{})
	defer close(never)
	fast := newFakeBackend("fast", 1, map[string]reply{protocol.MethodReferences: {data: fooLocation}})
	slow := newFakeBackend("slow", 2, map[string]reply{protocol.MethodReferences: {data: fooLocation, block: never}})
	h := newHarness(t, fast, slow)

	h.query(protocol.KindReferences)
	if r := h.result(); r.Backend != "fast" {
		t.Fatalf("winner = %s, want fast", r.Backend)
	}

	deadline := time.Now().Add(2 * time.Second)
	for slow.cancelCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if slow.cancelCount() != 1 {
		t.Errorf("slow backend cancelled %d times, want 1", slow.cancelCount())
	}
	h.noResult()
	if n := h.outstanding(); n != 0 {
		t.Errorf("outstanding = %d after settle", n)
	}
}

func TestQuery_LateReplyIsIgnored(t *testing.T) {
	release := make(chan struct{})
	fast := newFakeBackend("fast", 1, map[string]reply{protocol.MethodDefinition: {data: fooLocation}})
	stubborn := newFakeBackend("stubborn", 2, map[string]reply{
		protocol.MethodDefinition: {data: `[{"uri":"file:///late.go","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}]`, block: release, ignoreCancel: true},
	})
	h := newHarness(t, fast, stubborn)

	h.query(protocol.KindDefinitions)
	if r := h.result(); r.Backend != "fast" {
		t.Fatalf("winner = %s", r.Backend)
	}
	close(release)
	h.noResult()
}

func TestQuery_AllEmpty(t *testing.T) {
	a := newFakeBackend("a", 1, map[string]reply{protocol.MethodImplementation: {data: `null`}})
	b := newFakeBackend("b", 2, map[string]reply{protocol.MethodImplementation: {data: `[]`}})
	h := newHarness(t, a, b)

	h.query(protocol.KindImplementations)
	r := h.result()
	if !r.Empty() || r.Kind != protocol.KindImplementations {
		t.Errorf("result = %+v, want empty", r)
	}
	h.noResult()
}

func TestQuery_NoBackends(t *testing.T) {
	h := newHarness(t)
	h.query(protocol.KindTypeDefinitions)
	if r := h.result(); !r.Empty() {
		t.Errorf("result = %+v, want empty", r)
	}
}

func TestQuery_SingleObjectCoercedToList(t *testing.T) {
	a := newFakeBackend("a", 1, map[string]reply{
		protocol.MethodTypeDefinition: {data: `{"uri":"file:///t.go","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":1}}}`},
	})
	h := newHarness(t, a)

	h.query(protocol.KindTypeDefinitions)
	if r := h.result(); len(r.Locations) != 1 || r.Locations[0].Location.URI != "file:///t.go" {
		t.Errorf("result = %+v", r)
	}
}

func TestQuery_ReferencesIncludeDeclaration(t *testing.T) {
	a := newFakeBackend("a", 1, map[string]reply{protocol.MethodReferences: {data: fooLocation}})
	h := newHarness(t, a)

	h.query(protocol.KindReferences)
	h.result()

	var p protocol.ReferenceParams
	if err := json.Unmarshal(a.calls[0].params, &p); err != nil {
		t.Fatal(err)
	}
	if !p.Context.IncludeDeclaration || p.Position.Line != 3 {
		t.Errorf("params = %+v", p)
	}
}

func TestQuery_MeasuresCursorPerBackendEncoding(t *testing.T) {
	wide := newFakeBackend("wide", 1, map[string]reply{protocol.MethodDefinition: {data: `[]`}})
	narrow := newFakeBackend("narrow", 2, map[string]reply{protocol.MethodDefinition: {data: `[]`}})
	narrow.encoding = protocol.EncodingUTF8
	h := newHarness(t, wide, narrow)

	// The cursor sits on x: byte 4, utf-16 character 3.
	h.queryAt(protocol.KindDefinitions, protocol.DocumentPosition{URI: "file:///src/main.go", Line: 0, Col: 4, LineText: "é := x"})
	if r := h.result(); !r.Empty() {
		t.Fatalf("result = %+v, want empty after both replied", r)
	}
	if got := narrow.sentCharacter(protocol.MethodDefinition); got != 4 {
		t.Errorf("utf-8 backend got character %d, want 4", got)
	}
	if got := wide.sentCharacter(protocol.MethodDefinition); got != 3 {
		t.Errorf("utf-16 backend got character %d, want 3", got)
	}
}

func TestQuery_StartsBackendBeforeMeasuring(t *testing.T) {
	s := &startingBackend{
		fakeBackend: newFakeBackend("lsp:go", 1, map[string]reply{protocol.MethodDefinition: {data: fooLocation}}),
		negotiated:  protocol.EncodingUTF8,
	}
	h := newHarness(t, backends.Limit(s, 1))

	h.queryAt(protocol.KindDefinitions, protocol.DocumentPosition{URI: "file:///src/main.go", Col: 4, LineText: "é := x"})
	if r := h.result(); r.Encoding != protocol.EncodingUTF8 {
		t.Errorf("Encoding = %s, want the negotiated utf-8", r.Encoding)
	}
	if got := s.sentCharacter(protocol.MethodDefinition); got != 4 {
		t.Errorf("character = %d, want 4 in the negotiated encoding", got)
	}
}

func TestQuery_StartFailureIsReported(t *testing.T) {
	boom := errors.New("spawn failed")
	s := &startingBackend{
		fakeBackend: newFakeBackend("lsp:go", 1, map[string]reply{protocol.MethodDefinition: {data: fooLocation}}),
		err:         boom,
	}
	h := newHarness(t, s)

	h.query(protocol.KindDefinitions)
	if r := h.result(); !r.Empty() {
		t.Fatalf("result = %+v, want empty", r)
	}
	if s.callCount(protocol.MethodDefinition) != 0 {
		t.Error("no request may be sent when the backend failed to start")
	}
	if reports := h.recorder.Reports(); len(reports) != 1 || !errors.Is(reports[0].Err, boom) {
		t.Errorf("reports = %+v", reports)
	}
}

func TestQuery_ErrorsReported(t *testing.T) {
	boom := errors.New("boom")
	a := newFakeBackend("a", 1, map[string]reply{protocol.MethodDefinition: {err: boom}})
	b := newFakeBackend("b", 2, map[string]reply{protocol.MethodDefinition: {data: `[]`}})
	h := newHarness(t, a, b)

	h.query(protocol.KindDefinitions)
	if r := h.result(); !r.Empty() {
		t.Fatalf("result = %+v, want empty", r)
	}
	reports := h.recorder.Reports()
	if len(reports) != 1 || reports[0].Backend != "a" || !errors.Is(reports[0].Err, boom) {
		t.Errorf("reports = %+v", reports)
	}
}

func TestQuery_NonStandardErrorsSuppressed(t *testing.T) {
	a := newFakeBackend("a", 1, map[string]reply{"textDocument/declaration": {err: errors.New("unsupported")}})
	h := newHarness(t, a)
	if err := h.d.Methods().Register(protocol.Method{Kind: "declarations", Method: "textDocument/declaration"}); err != nil {
		t.Fatal(err)
	}

	h.query("declarations")
	if r := h.result(); !r.Empty() {
		t.Fatalf("result = %+v", r)
	}
	if reports := h.recorder.Reports(); len(reports) != 0 {
		t.Errorf("non-standard errors should be suppressed, got %+v", reports)
	}
}

func TestQuery_UnknownKind(t *testing.T) {
	h := newHarness(t)
	var err error
	h.loop.Call(func() {
		err = h.d.Query("nope", cursorAt("file:///a.go", 0, 0), func(Result) {})
	})
	if peekerrors.CodeOf(err) != peekerrors.UnknownKind {
		t.Errorf("Query() error = %v, want UNKNOWN_KIND", err)
	}
}

func TestQuery_SupersededQueryNeverCallsBack(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	a := newFakeBackend("a", 1, map[string]reply{protocol.MethodDefinition: {data: fooLocation, block: block}})
	h := newHarness(t, a)

	first := make(chan Result, 1)
	h.loop.Call(func() {
		_ = h.d.Query(protocol.KindDefinitions, cursorAt("file:///a.go", 0, 0), func(r Result) { first <- r })
	})
	h.query(protocol.KindDefinitions)

	deadline := time.Now().Add(2 * time.Second)
	for a.cancelCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.cancelCount() != 1 {
		t.Errorf("stale request cancelled %d times, want 1", a.cancelCount())
	}
	select {
	case r := <-first:
		t.Errorf("superseded query called back with %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	if n := h.outstanding(); n != 1 {
		t.Errorf("outstanding = %d, want the new query only", n)
	}
}

func TestQuery_CancelIsNoopAfterCompletion(t *testing.T) {
	a := newFakeBackend("a", 1, map[string]reply{protocol.MethodDefinition: {data: fooLocation}})
	h := newHarness(t, a)

	h.query(protocol.KindDefinitions)
	h.result()
	h.loop.Call(func() { h.d.Cancel(protocol.KindDefinitions) })
	h.noResult()
	if a.cancelCount() != 0 {
		t.Error("completed request should not observe cancellation")
	}
}

const (
	preparedItems = `[
		{"name":"X","kind":12,"uri":"file:///src/x.go","range":{"start":{"line":3,"character":0},"end":{"line":5,"character":1}},"selectionRange":{"start":{"line":3,"character":5},"end":{"line":3,"character":6}}},
		{"name":"Y","kind":12,"uri":"file:///src/y.go","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"selectionRange":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}
	]`
	incomingAB = `[
		{"from":{"name":"A","kind":12,"uri":"file:///src/a.go","range":{"start":{"line":0,"character":0},"end":{"line":3,"character":1}},"selectionRange":{"start":{"line":1,"character":5},"end":{"line":1,"character":6}}},"fromRanges":[{"start":{"line":2,"character":1},"end":{"line":2,"character":2}}]},
		{"from":{"name":"B","kind":12,"uri":"file:///src/a.go","range":{"start":{"line":8,"character":0},"end":{"line":12,"character":1}},"selectionRange":{"start":{"line":9,"character":5},"end":{"line":9,"character":6}}},"fromRanges":[{"start":{"line":11,"character":1},"end":{"line":11,"character":2}}]}
	]`
)

func TestQuery_IncomingCallsTwoPhase(t *testing.T) {
	a := newFakeBackend("lsp:go", 1, map[string]reply{
		protocol.MethodPrepareCallHierarchy: {data: preparedItems},
		protocol.MethodIncomingCalls:        {data: incomingAB},
	})
	h := newHarness(t, a)

	h.query(protocol.KindIncomingCalls)
	r := h.result()
	if len(r.Locations) != 2 {
		t.Fatalf("got %d relations, want 2", len(r.Locations))
	}

	var p protocol.CallHierarchyCallsParams
	for _, c := range a.calls {
		if c.method == protocol.MethodIncomingCalls {
			_ = json.Unmarshal(c.params, &p)
		}
	}
	if p.Item.Name != "X" {
		t.Errorf("phase 2 item = %q, want the first prepared item", p.Item.Name)
	}

	for i, want := range []struct {
		name string
		line int
	}{{"A", 1}, {"B", 9}} {
		raw := r.Locations[i]
		if raw.Location.Range.Start.Line != want.line {
			t.Errorf("relation %d line = %d, want selection range line %d", i, raw.Location.Range.Start.Line, want.line)
		}
		if raw.Call == nil || raw.Call.Item.Name != want.name || raw.Call.Backend != "lsp:go" || raw.Call.Direction != protocol.DirectionIncoming {
			t.Errorf("relation %d call = %+v", i, raw.Call)
		}
		if len(raw.Call.FromRanges) != 1 {
			t.Errorf("relation %d lost its call sites", i)
		}
	}
}

func TestQuery_PrepareFailureIsEmptyForThatBackend(t *testing.T) {
	a := newFakeBackend("a", 1, map[string]reply{
		protocol.MethodPrepareCallHierarchy: {err: errors.New("no symbol")},
		protocol.MethodOutgoingCalls:        {data: `[]`},
	})
	b := newFakeBackend("b", 2, map[string]reply{
		protocol.MethodPrepareCallHierarchy: {data: `[]`},
		protocol.MethodOutgoingCalls:        {data: `[]`},
	})
	h := newHarness(t, a, b)

	h.query(protocol.KindOutgoingCalls)
	if r := h.result(); !r.Empty() {
		t.Fatalf("result = %+v", r)
	}
	if a.callCount(protocol.MethodOutgoingCalls) != 0 || b.callCount(protocol.MethodOutgoingCalls) != 0 {
		t.Error("phase 2 must not run without a prepared item")
	}
	if len(h.recorder.Reports()) != 1 {
		t.Errorf("reports = %+v", h.recorder.Reports())
	}
}

func relationFrom(backend string) *protocol.CallRelation {
	item := protocol.CallHierarchyItem{
		Name: "A",
		URI:  "file:///src/a.go",
		SelectionRange: protocol.Range{
			Start: protocol.Position{Line: 1, Character: 5},
			End:   protocol.Position{Line: 1, Character: 6},
		},
	}
	return &protocol.CallRelation{Direction: protocol.DirectionIncoming, Item: item, Backend: backend}
}

func (h *harness) fetch(kind protocol.Kind, rel *protocol.CallRelation) {
	h.t.Helper()
	h.fetchAt(kind, rel, 0, func(r Result) { h.results <- r })
}

func (h *harness) fetchAt(kind protocol.Kind, rel *protocol.CallRelation, depth int, cb Callback) {
	h.t.Helper()
	var err error
	h.loop.Call(func() {
		err = h.d.FetchChildren(kind, rel, depth, cb)
	})
	if err != nil {
		h.t.Fatalf("FetchChildren() error = %v", err)
	}
}

func TestFetchChildren_UsesOriginatingBackend(t *testing.T) {
	origin := newFakeBackend("origin", 2, map[string]reply{protocol.MethodIncomingCalls: {data: incomingAB}})
	other := newFakeBackend("other", 1, map[string]reply{protocol.MethodIncomingCalls: {data: incomingAB}})
	h := newHarness(t, origin, other)

	h.fetch(protocol.KindIncomingCalls, relationFrom("origin"))
	if r := h.result(); r.Backend != "origin" || len(r.Locations) != 2 {
		t.Fatalf("result = %+v", r)
	}
	if other.callCount(protocol.MethodIncomingCalls) != 0 {
		t.Error("children should come from the originating backend only")
	}
	if origin.callCount(protocol.MethodPrepareCallHierarchy) != 0 {
		t.Error("children fetch must not prepare again")
	}
}

func TestFetchChildren_FansOutWhenOriginInactive(t *testing.T) {
	origin := newFakeBackend("origin", 1, map[string]reply{protocol.MethodIncomingCalls: {data: incomingAB}})
	origin.available = false
	other := newFakeBackend("other", 2, map[string]reply{protocol.MethodIncomingCalls: {data: incomingAB}})
	h := newHarness(t, origin, other)

	h.fetch(protocol.KindIncomingCalls, relationFrom("origin"))
	if r := h.result(); r.Backend != "other" {
		t.Errorf("winner = %s, want other", r.Backend)
	}
	if origin.callCount(protocol.MethodIncomingCalls) != 0 {
		t.Error("inactive backend should not be asked")
	}
}

func TestFetchChildren_RejectsPlainKinds(t *testing.T) {
	h := newHarness(t)
	var err error
	h.loop.Call(func() {
		err = h.d.FetchChildren(protocol.KindReferences, relationFrom("x"), 0, func(Result) {})
	})
	if peekerrors.CodeOf(err) != peekerrors.InvalidParams {
		t.Errorf("FetchChildren() error = %v, want INVALID_PARAMS", err)
	}
}

func TestFetchChildren_SameItemAtTwoDepths(t *testing.T) {
	release := make(chan struct{})
	origin := newFakeBackend("origin", 1, map[string]reply{protocol.MethodIncomingCalls: {data: incomingAB, block: release}})
	h := newHarness(t, origin)

	shallow := make(chan Result, 1)
	deep := make(chan Result, 1)
	h.fetchAt(protocol.KindIncomingCalls, relationFrom("origin"), 1, func(r Result) { shallow <- r })
	h.fetchAt(protocol.KindIncomingCalls, relationFrom("origin"), 2, func(r Result) { deep <- r })
	if n := h.outstanding(); n != 2 {
		t.Fatalf("outstanding = %d, want one fetch per depth", n)
	}
	close(release)

	for name, ch := range map[string]chan Result{"depth 1": shallow, "depth 2": deep} {
		select {
		case r := <-ch:
			if len(r.Locations) != 2 {
				t.Errorf("%s result = %+v", name, r)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("%s fetch never called back", name)
		}
	}
	if origin.cancelCount() != 0 {
		t.Errorf("cancelled %d fetches, want none", origin.cancelCount())
	}
}

func TestFetchChildren_SameDepthSupersedes(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	origin := newFakeBackend("origin", 1, map[string]reply{protocol.MethodIncomingCalls: {data: incomingAB, block: block}})
	h := newHarness(t, origin)

	h.fetchAt(protocol.KindIncomingCalls, relationFrom("origin"), 1, func(Result) {})
	h.fetchAt(protocol.KindIncomingCalls, relationFrom("origin"), 1, func(Result) {})

	deadline := time.Now().Add(2 * time.Second)
	for origin.cancelCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if origin.cancelCount() != 1 {
		t.Errorf("cancelled %d fetches, want the first", origin.cancelCount())
	}
	if n := h.outstanding(); n != 1 {
		t.Errorf("outstanding = %d, want 1", n)
	}
}
