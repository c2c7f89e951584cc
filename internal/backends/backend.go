package backends

import (
	"context"
	"encoding/json"
	"strings"

	"peek/internal/protocol"
)

// BackendID uniquely identifies a backend instance
type BackendID string

const (
	// BackendSCIP represents the SCIP index backend
	BackendSCIP BackendID = "scip"
	// lspPrefix prefixes language server ids, e.g. "lsp:go"
	lspPrefix = "lsp:"
)

// LSPID returns the backend id of the language server for language.
func LSPID(language string) BackendID {
	return BackendID(lspPrefix + language)
}

// IsLSP reports whether id names a language server backend.
func (id BackendID) IsLSP() bool {
	return strings.HasPrefix(string(id), lspPrefix)
}

// Backend is a source of analysis results speaking the editor-analysis
// protocol. Implementations must be safe for concurrent use: requests are
// issued from their own goroutines.
type Backend interface {
	// ID returns the unique identifier for this backend
	ID() BackendID

	// IsAvailable checks if this backend is currently available and ready to use
	IsAvailable() bool

	// Supports reports whether the backend answers method for documents at uri.
	Supports(method string, uri string) bool

	// Priority orders fan-out (lower = asked first)
	Priority() int

	// PositionEncoding is the unit of Position.Character in this backend's replies.
	PositionEncoding() protocol.PositionEncoding

	// Request sends method with params and returns the raw result. A nil or
	// empty result is not an error. Cancelling ctx abandons the request.
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Closer is implemented by backends that hold resources.
type Closer interface {
	Shutdown(ctx context.Context) error
}

// Starter is implemented by backends whose PositionEncoding is only known
// once they are running. Start is idempotent.
type Starter interface {
	Start(ctx context.Context) error
}

// Start brings b up when it implements Starter.
func Start(ctx context.Context, b Backend) error {
	if s, ok := b.(Starter); ok {
		return s.Start(ctx)
	}
	return nil
}
