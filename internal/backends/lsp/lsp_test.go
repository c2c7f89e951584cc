package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"peek/internal/config"
	peekerrors "peek/internal/errors"
	"peek/internal/protocol"
)

type handlerFunc func(params json.RawMessage) (any, *RPCError)

// fakeServer speaks the wire protocol over pipes in place of a real server.
type fakeServer struct {
	in       *bufio.Reader
	out      io.WriteCloser
	handlers map[string]handlerFunc

	writeMu  sync.Mutex
	mu       sync.Mutex
	received []*Message
	replies  chan *Message
}

func newPipedProcess(t *testing.T, handlers map[string]handlerFunc) (*Process, *fakeServer) {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	srv := &fakeServer{
		in:       bufio.NewReader(serverR),
		out:      serverW,
		handlers: handlers,
		replies:  make(chan *Message, 16),
	}
	go srv.serve()

	proc := NewProcess("go", t.TempDir(), nil)
	proc.attach(clientR, clientW, nil)
	t.Cleanup(func() {
		_ = serverW.Close()
		_ = clientW.Close()
	})
	return proc, srv
}

func (s *fakeServer) serve() {
	for {
		msg, err := readMessage(s.in)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		switch {
		case msg.ID != nil && msg.Method != "":
			h, ok := s.handlers[msg.Method]
			if !ok {
				continue // never answers
			}
			result, rpcErr := h(msg.Params)
			resp := &Message{Jsonrpc: "2.0", ID: msg.ID, Error: rpcErr}
			if rpcErr == nil {
				data, _ := json.Marshal(result)
				resp.Result = data
			}
			s.send(resp)
		case msg.ID != nil:
			s.replies <- msg
		}
	}
}

func (s *fakeServer) send(msg *Message) {
	data, _ := json.Marshal(msg)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = writeFrame(s.out, data)
}

func (s *fakeServer) notifications(method string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.received {
		if m.ID == nil && m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestProcess_InitializeNegotiatesEncoding(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   protocol.PositionEncoding
	}{
		{"position encoding", `{"capabilities":{"positionEncoding":"utf-8","referencesProvider":true}}`, protocol.EncodingUTF8},
		{"clangd offset encoding", `{"capabilities":{"referencesProvider":{}},"offsetEncoding":"utf-32"}`, protocol.EncodingUTF32},
		{"default", `{"capabilities":{}}`, protocol.EncodingUTF16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, _ := newPipedProcess(t, map[string]handlerFunc{
				"initialize": func(json.RawMessage) (any, *RPCError) {
					return json.RawMessage(tt.result), nil
				},
			})
			if err := proc.initialize(context.Background()); err != nil {
				t.Fatalf("initialize() error = %v", err)
			}
			if got := proc.Encoding(); got != tt.want {
				t.Errorf("Encoding() = %s, want %s", got, tt.want)
			}
			if !proc.IsReady() {
				t.Error("process should be ready after initialize")
			}
		})
	}
}

func TestServerCapabilities_Supports(t *testing.T) {
	var caps ServerCapabilities
	if err := json.Unmarshal([]byte(`{"definitionProvider":true,"referencesProvider":{"workDoneProgress":true},"callHierarchyProvider":false}`), &caps); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		method string
		want   bool
	}{
		{protocol.MethodDefinition, true},
		{protocol.MethodReferences, true},
		{protocol.MethodImplementation, false},
		{protocol.MethodPrepareCallHierarchy, false},
		{"textDocument/declaration", true},
	}
	for _, tt := range tests {
		if got := caps.Supports(tt.method); got != tt.want {
			t.Errorf("Supports(%s) = %v, want %v", tt.method, got, tt.want)
		}
	}
}

func TestProcess_ErrorResponse(t *testing.T) {
	proc, _ := newPipedProcess(t, map[string]handlerFunc{
		protocol.MethodReferences: func(json.RawMessage) (any, *RPCError) {
			return nil, &RPCError{Code: InternalError, Message: "no package"}
		},
	})

	_, err := proc.sendRequest(context.Background(), protocol.MethodReferences, map[string]any{})
	if peekerrors.CodeOf(err) != peekerrors.BackendError {
		t.Fatalf("error code = %v, want BACKEND_ERROR (err = %v)", peekerrors.CodeOf(err), err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Message != "no package" {
		t.Errorf("rpc error not preserved: %v", err)
	}
}

func TestProcess_NullResult(t *testing.T) {
	proc, _ := newPipedProcess(t, map[string]handlerFunc{
		protocol.MethodDefinition: func(json.RawMessage) (any, *RPCError) { return nil, nil },
	})

	result, err := proc.sendRequest(context.Background(), protocol.MethodDefinition, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !protocol.IsEmptyResult(result) {
		t.Errorf("result = %s, want empty", result)
	}
}

func TestProcess_CancelSendsCancelRequest(t *testing.T) {
	proc, srv := newPipedProcess(t, map[string]handlerFunc{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := proc.sendRequest(ctx, protocol.MethodReferences, map[string]any{})
		errCh <- err
	}()

	waitFor(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.received) == 1
	})
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("sendRequest() error = %v, want context.Canceled", err)
	}
	waitFor(t, func() bool { return len(srv.notifications("$/cancelRequest")) == 1 })

	var params struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(srv.notifications("$/cancelRequest")[0].Params, &params)
	srv.mu.Lock()
	sentID := *srv.received[0].ID
	srv.mu.Unlock()
	if params.ID != sentID {
		t.Errorf("cancelled id = %d, want %d", params.ID, sentID)
	}
}

func TestProcess_AnswersServerRequests(t *testing.T) {
	_, srv := newPipedProcess(t, map[string]handlerFunc{})

	id := int64(99)
	srv.send(&Message{Jsonrpc: "2.0", ID: &id, Method: "workspace/configuration", Params: json.RawMessage(`{}`)})

	select {
	case reply := <-srv.replies:
		if *reply.ID != 99 || string(reply.Result) != "null" {
			t.Errorf("reply = id %d result %s", *reply.ID, reply.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to server request")
	}
}

func TestProcess_ServerExitFailsPending(t *testing.T) {
	proc, srv := newPipedProcess(t, map[string]handlerFunc{})

	errCh := make(chan error, 1)
	go func() {
		_, err := proc.sendRequest(context.Background(), protocol.MethodReferences, nil)
		errCh <- err
	}()
	waitFor(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.received) == 1
	})
	_ = srv.out.Close()

	select {
	case err := <-errCh:
		if peekerrors.CodeOf(err) != peekerrors.BackendUnavailable {
			t.Errorf("error = %v, want BACKEND_UNAVAILABLE", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not released")
	}
	waitFor(t, proc.IsDead)
}

func TestProcess_EnsureOpenOnce(t *testing.T) {
	proc, srv := newPipedProcess(t, map[string]handlerFunc{})

	path := filepath.Join(t.TempDir(), "main.tsx")
	if err := os.WriteFile(path, []byte("export {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	uri := protocol.PathToURI(path)

	for i := 0; i < 3; i++ {
		if err := proc.ensureOpen(uri); err != nil {
			t.Fatalf("ensureOpen() error = %v", err)
		}
	}
	if err := proc.ensureOpen("jdt://contents/Foo.class"); err != nil {
		t.Errorf("non-file uris are skipped, got %v", err)
	}

	waitFor(t, func() bool { return len(srv.notifications("textDocument/didOpen")) >= 1 })
	time.Sleep(20 * time.Millisecond)
	opens := srv.notifications("textDocument/didOpen")
	if len(opens) != 1 {
		t.Fatalf("didOpen sent %d times, want 1", len(opens))
	}
	var params struct {
		TextDocument struct {
			LanguageID string `json:"languageId"`
			Text       string `json:"text"`
		} `json:"textDocument"`
	}
	_ = json.Unmarshal(opens[0].Params, &params)
	if params.TextDocument.LanguageID != "typescriptreact" || params.TextDocument.Text != "export {}\n" {
		t.Errorf("didOpen params = %+v", params.TextDocument)
	}
}

func TestComputeBackoff(t *testing.T) {
	tests := []struct {
		restarts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{10, MaxBackoff},
	}
	for _, tt := range tests {
		if got := computeBackoff(tt.restarts); got != tt.want {
			t.Errorf("computeBackoff(%d) = %s, want %s", tt.restarts, got, tt.want)
		}
	}
}

func testServers() map[string]config.LspServerConfig {
	return map[string]config.LspServerConfig{
		"go": {Command: "gopls", Extensions: []string{".go"}},
	}
}

func TestSupervisor_StartsOnce(t *testing.T) {
	s := NewSupervisor(t.TempDir(), testServers(), nil)
	var spawns int32
	s.spawn = func(ctx context.Context, language string, _ config.LspServerConfig) (*Process, error) {
		atomic.AddInt32(&spawns, 1)
		time.Sleep(20 * time.Millisecond)
		proc := NewProcess(language, s.root, nil)
		proc.SetState(StateReady)
		return proc, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Process(context.Background(), "go"); err != nil {
				t.Errorf("Process() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&spawns); n != 1 {
		t.Errorf("spawned %d times, want 1", n)
	}
}

func TestSupervisor_BackoffAfterFailure(t *testing.T) {
	s := NewSupervisor(t.TempDir(), testServers(), nil)
	clock := time.Unix(1000, 0)
	s.now = func() time.Time { return clock }
	s.spawn = func(context.Context, string, config.LspServerConfig) (*Process, error) {
		return nil, errors.New("exec: gopls not found")
	}

	if _, err := s.Process(context.Background(), "go"); peekerrors.CodeOf(err) != peekerrors.BackendUnavailable {
		t.Fatalf("Process() error = %v, want BACKEND_UNAVAILABLE", err)
	}
	if !s.BackingOff("go") {
		t.Error("failed start should back off")
	}

	clock = clock.Add(BaseBackoff + time.Millisecond)
	if s.BackingOff("go") {
		t.Error("backoff should expire")
	}
}

func TestSupervisor_UnknownLanguage(t *testing.T) {
	s := NewSupervisor(t.TempDir(), testServers(), nil)
	if _, err := s.Process(context.Background(), "cobol"); peekerrors.CodeOf(err) != peekerrors.BackendUnavailable {
		t.Errorf("Process() error = %v, want BACKEND_UNAVAILABLE", err)
	}
}

func TestAdapter_Supports(t *testing.T) {
	s := NewSupervisor(t.TempDir(), testServers(), nil)
	a := NewAdapter(s, "go", nil)
	a.lookPath = func(string) (string, error) { return "/usr/bin/gopls", nil }

	if a.ID() != "lsp:go" {
		t.Errorf("ID() = %s", a.ID())
	}
	if !a.IsAvailable() {
		t.Error("adapter with an installed server should be available")
	}
	if !a.Supports(protocol.MethodReferences, "file:///x/main.go") {
		t.Error("go files should be supported")
	}
	if a.Supports(protocol.MethodReferences, "file:///x/main.py") {
		t.Error("python files should not be supported by the go server")
	}
	if !a.Supports(protocol.MethodIncomingCalls, "") {
		t.Error("requests without a document should be accepted")
	}
	if a.PositionEncoding() != protocol.EncodingUTF16 {
		t.Error("encoding defaults to utf-16 before the server runs")
	}
}

func TestAdapter_StartNegotiatesEncoding(t *testing.T) {
	s := NewSupervisor(t.TempDir(), testServers(), nil)
	s.spawn = func(ctx context.Context, _ string, _ config.LspServerConfig) (*Process, error) {
		proc, _ := newPipedProcess(t, map[string]handlerFunc{
			"initialize": func(json.RawMessage) (any, *RPCError) {
				return json.RawMessage(`{"capabilities":{"positionEncoding":"utf-8"}}`), nil
			},
		})
		if err := proc.initialize(ctx); err != nil {
			return nil, err
		}
		return proc, nil
	}
	a := NewAdapter(s, "go", nil)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if a.PositionEncoding() != protocol.EncodingUTF8 {
		t.Errorf("PositionEncoding() = %s, want the negotiated utf-8", a.PositionEncoding())
	}
}

func TestAdapter_NotInstalled(t *testing.T) {
	s := NewSupervisor(t.TempDir(), testServers(), nil)
	a := NewAdapter(s, "go", nil)
	a.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	if a.IsAvailable() {
		t.Error("missing binary should make the adapter unavailable")
	}
}

func TestDocumentURI(t *testing.T) {
	tests := []struct {
		params string
		want   string
	}{
		{`{"textDocument":{"uri":"file:///a.go"},"position":{"line":0,"character":0}}`, "file:///a.go"},
		{`{"item":{"uri":"file:///b.go","name":"B"}}`, "file:///b.go"},
		{`{}`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		if got := documentURI(json.RawMessage(tt.params)); got != tt.want {
			t.Errorf("documentURI(%s) = %q, want %q", tt.params, got, tt.want)
		}
	}
}
