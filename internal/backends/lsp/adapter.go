package lsp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"peek/internal/backends"
	"peek/internal/errors"
	"peek/internal/protocol"
	"peek/internal/slogutil"
)

// Adapter exposes the language server for one language as a backend.
type Adapter struct {
	supervisor *Supervisor
	language   string
	extensions map[string]bool
	priority   int
	logger     *slog.Logger

	lookOnce  sync.Once
	installed bool
	lookPath  func(string) (string, error)
}

// NewAdapter creates the backend for language. The server is started on
// the first request.
func NewAdapter(supervisor *Supervisor, language string, logger *slog.Logger) *Adapter {
	server, _ := supervisor.Server(language)
	exts := make(map[string]bool, len(server.Extensions))
	for _, ext := range server.Extensions {
		exts[strings.ToLower(ext)] = true
	}
	priority := server.Priority
	if priority == 0 {
		priority = 20
	}
	return &Adapter{
		supervisor: supervisor,
		language:   language,
		extensions: exts,
		priority:   priority,
		logger:     slogutil.Component(logger, "lsp").With("language", language),
		lookPath:   exec.LookPath,
	}
}

// ID returns the backend identifier, e.g. "lsp:go"
func (a *Adapter) ID() backends.BackendID {
	return backends.LSPID(a.language)
}

// IsAvailable reports whether the server binary exists and the server is
// not waiting out a restart backoff.
func (a *Adapter) IsAvailable() bool {
	a.lookOnce.Do(func() {
		server, ok := a.supervisor.Server(a.language)
		if !ok {
			return
		}
		_, err := a.lookPath(server.Command)
		a.installed = err == nil
		if !a.installed {
			a.logger.Debug("Language server not installed", "command", server.Command)
		}
	})
	return a.installed && !a.supervisor.BackingOff(a.language)
}

// Supports checks the document extension and, once the server is running,
// its advertised capabilities. Requests without a document are accepted.
func (a *Adapter) Supports(method, uri string) bool {
	if uri != "" && !a.extensions[strings.ToLower(filepath.Ext(uri))] {
		return false
	}
	if proc := a.supervisor.Running(a.language); proc != nil {
		return proc.Capabilities().Supports(method)
	}
	return true
}

// Priority returns the configured priority (default 20, after SCIP)
func (a *Adapter) Priority() int {
	return a.priority
}

// PositionEncoding returns the encoding negotiated at initialize, utf-16
// until the server is running.
func (a *Adapter) PositionEncoding() protocol.PositionEncoding {
	if proc := a.supervisor.Running(a.language); proc != nil {
		return proc.Encoding()
	}
	return protocol.EncodingUTF16
}

// Start brings the language server up so PositionEncoding reports the
// negotiated encoding.
func (a *Adapter) Start(ctx context.Context) error {
	_, err := a.supervisor.Process(ctx, a.language)
	return err
}

// Request forwards method to the server, starting it if needed and opening
// the target document first.
func (a *Adapter) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	proc, err := a.supervisor.Process(ctx, a.language)
	if err != nil {
		return nil, err
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, errors.New(errors.InvalidParams, "encode "+method+" params", err)
	}
	if err := proc.ensureOpen(documentURI(raw)); err != nil {
		a.logger.Debug("didOpen failed", "error", err.Error())
	}

	result, err := proc.sendRequest(ctx, method, raw)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Debug("Request failed", "method", method, "error", err.Error())
		}
		return nil, err
	}
	proc.RecordSuccess()
	return result, nil
}

// Shutdown stops this language's server.
func (a *Adapter) Shutdown(ctx context.Context) error {
	if a.supervisor.Running(a.language) == nil {
		return nil
	}
	return a.supervisor.StopServer(ctx, a.language)
}

// documentURI extracts textDocument.uri, or item.uri for hierarchy calls.
func documentURI(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var probe struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
		Item struct {
			URI string `json:"uri"`
		} `json:"item"`
	}
	if err := json.Unmarshal(params, &probe); err != nil {
		return ""
	}
	if probe.TextDocument.URI != "" {
		return probe.TextDocument.URI
	}
	return probe.Item.URI
}

// NewBackends builds one adapter per configured language.
func NewBackends(supervisor *Supervisor, logger *slog.Logger) []backends.Backend {
	langs := supervisor.Languages()
	out := make([]backends.Backend, 0, len(langs))
	for _, lang := range langs {
		out = append(out, NewAdapter(supervisor, lang, logger))
	}
	return out
}
