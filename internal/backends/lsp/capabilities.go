package lsp

import (
	"bytes"
	"encoding/json"

	"peek/internal/protocol"
)

// Provider is a capability flag: either a bool or an options object.
type Provider struct {
	set bool
}

// UnmarshalJSON accepts true, false or any options object.
func (p *Provider) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	p.set = len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("false")) && !bytes.Equal(trimmed, []byte("null"))
	return nil
}

// MarshalJSON emits the flag as a bool.
func (p Provider) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.set)
}

// Enabled reports whether the server advertised the capability.
func (p Provider) Enabled() bool {
	return p.set
}

// ServerCapabilities holds the subset of capabilities peek consults.
type ServerCapabilities struct {
	PositionEncoding       string   `json:"positionEncoding,omitempty"`
	DefinitionProvider     Provider `json:"definitionProvider"`
	TypeDefinitionProvider Provider `json:"typeDefinitionProvider"`
	ImplementationProvider Provider `json:"implementationProvider"`
	ReferencesProvider     Provider `json:"referencesProvider"`
	CallHierarchyProvider  Provider `json:"callHierarchyProvider"`
}

// Supports reports whether method is covered by an advertised capability.
// Methods without a capability flag are assumed to be supported.
func (c ServerCapabilities) Supports(method string) bool {
	switch method {
	case protocol.MethodDefinition:
		return c.DefinitionProvider.Enabled()
	case protocol.MethodTypeDefinition:
		return c.TypeDefinitionProvider.Enabled()
	case protocol.MethodImplementation:
		return c.ImplementationProvider.Enabled()
	case protocol.MethodReferences:
		return c.ReferencesProvider.Enabled()
	case protocol.MethodPrepareCallHierarchy, protocol.MethodIncomingCalls, protocol.MethodOutgoingCalls:
		return c.CallHierarchyProvider.Enabled()
	default:
		return true
	}
}

type initializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	// clangd extension
	OffsetEncoding string `json:"offsetEncoding,omitempty"`
}

func (r initializeResult) encoding() protocol.PositionEncoding {
	if r.Capabilities.PositionEncoding != "" {
		return protocol.ParseEncoding(r.Capabilities.PositionEncoding)
	}
	if r.OffsetEncoding != "" {
		return protocol.ParseEncoding(r.OffsetEncoding)
	}
	return protocol.EncodingUTF16
}
