package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Kind identifies a list request kind.
type Kind string

const (
	KindTypeDefinitions Kind = "type_definitions"
	KindImplementations Kind = "implementations"
	KindDefinitions     Kind = "definitions"
	KindReferences      Kind = "references"
	KindIncomingCalls   Kind = "incoming_calls"
	KindOutgoingCalls   Kind = "outgoing_calls"
)

// Direction of a call-hierarchy relation.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Protocol method names.
const (
	MethodTypeDefinition       = "textDocument/typeDefinition"
	MethodImplementation       = "textDocument/implementation"
	MethodDefinition           = "textDocument/definition"
	MethodReferences           = "textDocument/references"
	MethodPrepareCallHierarchy = "textDocument/prepareCallHierarchy"
	MethodIncomingCalls        = "callHierarchy/incomingCalls"
	MethodOutgoingCalls        = "callHierarchy/outgoingCalls"
)

// Method describes how a Kind maps onto backend requests. Hierarchy kinds
// carry a Prepare method and a Direction; Method is then the directional
// relation request.
type Method struct {
	Kind        Kind
	Label       string
	Method      string
	Prepare     string
	Direction   Direction
	NonStandard bool
}

// IsHierarchy reports whether the kind uses the two-phase protocol.
func (m Method) IsHierarchy() bool {
	return m.Prepare != ""
}

var builtinMethods = []Method{
	{Kind: KindTypeDefinitions, Label: "Type Definitions", Method: MethodTypeDefinition},
	{Kind: KindImplementations, Label: "Implementations", Method: MethodImplementation},
	{Kind: KindDefinitions, Label: "Definitions", Method: MethodDefinition},
	{Kind: KindReferences, Label: "References", Method: MethodReferences},
	{
		Kind:      KindIncomingCalls,
		Label:     "Incoming Calls",
		Method:    MethodIncomingCalls,
		Prepare:   MethodPrepareCallHierarchy,
		Direction: DirectionIncoming,
	},
	{
		Kind:      KindOutgoingCalls,
		Label:     "Outgoing Calls",
		Method:    MethodOutgoingCalls,
		Prepare:   MethodPrepareCallHierarchy,
		Direction: DirectionOutgoing,
	},
}

// Methods is the kind table. The built-in entries are fixed; extra
// non-standard kinds may be registered on top of them.
type Methods struct {
	mu      sync.RWMutex
	entries map[Kind]Method
}

// NewMethods returns a table holding the built-in kinds.
func NewMethods() *Methods {
	m := &Methods{entries: make(map[Kind]Method, len(builtinMethods))}
	for _, entry := range builtinMethods {
		m.entries[entry.Kind] = entry
	}
	return m
}

// Register adds a non-standard kind. Built-in kinds cannot be replaced.
func (m *Methods) Register(entry Method) error {
	if entry.Kind == "" || entry.Method == "" {
		return fmt.Errorf("kind and method are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.Kind]; ok && IsBuiltin(entry.Kind) {
		return fmt.Errorf("kind %q is built in", entry.Kind)
	}
	if entry.Label == "" {
		entry.Label = string(entry.Kind)
	}
	entry.NonStandard = true
	m.entries[entry.Kind] = entry
	return nil
}

// Lookup returns the entry for kind.
func (m *Methods) Lookup(kind Kind) (Method, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[kind]
	return entry, ok
}

// All returns every entry, built-ins first in table order, then extras by kind.
func (m *Methods) All() []Method {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Method, 0, len(m.entries))
	out = append(out, builtinMethods...)
	extras := make([]Method, 0)
	for kind, entry := range m.entries {
		if !IsBuiltin(kind) {
			extras = append(extras, entry)
		}
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].Kind < extras[j].Kind })
	return append(out, extras...)
}

// IsBuiltin reports whether kind is one of the fixed kinds.
func IsBuiltin(kind Kind) bool {
	for _, entry := range builtinMethods {
		if entry.Kind == kind {
			return true
		}
	}
	return false
}

// IsCallKind reports whether kind renders as a flat call hierarchy.
func IsCallKind(kind Kind) bool {
	return kind == KindIncomingCalls || kind == KindOutgoingCalls
}
