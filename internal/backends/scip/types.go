package scip

import (
	"strings"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"

	"peek/internal/protocol"
)

// Symbol roles, as bit flags on Occurrence.Roles
const (
	SymbolRoleDefinition        int32 = 1
	SymbolRoleImport            int32 = 2
	SymbolRoleWriteAccess       int32 = 4
	SymbolRoleReadAccess        int32 = 8
	SymbolRoleGenerated         int32 = 16
	SymbolRoleTest              int32 = 32
	SymbolRoleForwardDefinition int32 = 64
)

// Span is a decoded SCIP range. SCIP encodes ranges as three integers
// [line, startChar, endChar] when single-line, otherwise four
// [startLine, startChar, endLine, endChar].
type Span struct {
	StartLine int
	StartChar int
	EndLine   int
	EndChar   int
}

// ParseSpan decodes a SCIP range. It reports false for malformed input.
func ParseSpan(r []int32) (Span, bool) {
	switch len(r) {
	case 3:
		return Span{StartLine: int(r[0]), StartChar: int(r[1]), EndLine: int(r[0]), EndChar: int(r[2])}, true
	case 4:
		return Span{StartLine: int(r[0]), StartChar: int(r[1]), EndLine: int(r[2]), EndChar: int(r[3])}, true
	default:
		return Span{}, false
	}
}

// Range converts the span to a protocol range.
func (s Span) Range() protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: s.StartLine, Character: s.StartChar},
		End:   protocol.Position{Line: s.EndLine, Character: s.EndChar},
	}
}

// Contains reports whether pos lies in the span, end inclusive so a cursor
// placed right after an identifier still selects it.
func (s Span) Contains(line, char int) bool {
	if line < s.StartLine || line > s.EndLine {
		return false
	}
	if line == s.StartLine && char < s.StartChar {
		return false
	}
	if line == s.EndLine && char > s.EndChar {
		return false
	}
	return true
}

// Covers reports whether other lies entirely within s by line.
func (s Span) Covers(other Span) bool {
	return other.StartLine >= s.StartLine && other.EndLine <= s.EndLine
}

func (s Span) size() int {
	return (s.EndLine-s.StartLine)*100000 + (s.EndChar - s.StartChar)
}

// Metadata describes the tool that produced an index
type Metadata struct {
	Version     string
	ToolName    string
	ToolVersion string
	ProjectRoot string
}

// Document is one indexed source file
type Document struct {
	RelativePath string
	Language     string
	Encoding     protocol.PositionEncoding
	Text         string
	Occurrences  []*Occurrence
	Symbols      []*SymbolInformation
}

// Occurrence is one appearance of a symbol in a document
type Occurrence struct {
	Span           Span
	Symbol         string
	Roles          int32
	EnclosingRange *Span
}

// IsDefinition reports whether the occurrence defines its symbol.
func (o *Occurrence) IsDefinition() bool {
	return o.Roles&SymbolRoleDefinition != 0
}

// SymbolInformation holds per-symbol data from the index
type SymbolInformation struct {
	Symbol          string
	DisplayName     string
	Kind            int32
	EnclosingSymbol string
	Relationships   []*Relationship
}

// Relationship links a symbol to another one
type Relationship struct {
	Symbol           string
	IsReference      bool
	IsImplementation bool
	IsTypeDefinition bool
	IsDefinition     bool
}

// IsLocal reports whether symbol is document-local. Local symbols are only
// unique within their document.
func IsLocal(symbol string) bool {
	return strings.HasPrefix(symbol, "local ")
}

// isFunctionSymbol detects function and method symbols from the descriptor.
// Indexers such as scip-go leave Kind unset, but method descriptors end in
// "()." e.g. "scip-go gomod m v `pkg`/Engine#Close()."
func isFunctionSymbol(symbol string) bool {
	return strings.Contains(symbol, "().")
}

// symbolName extracts the display name from a symbol descriptor.
func symbolName(symbol string) string {
	if IsLocal(symbol) {
		return strings.TrimPrefix(symbol, "local ")
	}
	parts := strings.Split(symbol, " ")
	desc := parts[len(parts)-1]
	desc = strings.TrimRight(desc, ".#/:!")
	desc = strings.TrimSuffix(desc, "()")
	for _, sep := range []string{"#", "/", "."} {
		if i := strings.LastIndex(desc, sep); i >= 0 && i < len(desc)-1 {
			desc = desc[i+1:]
		}
	}
	return strings.Trim(desc, "`")
}

const (
	scipKindClass       = int32(scippb.SymbolInformation_Class)
	scipKindConstant    = int32(scippb.SymbolInformation_Constant)
	scipKindConstructor = int32(scippb.SymbolInformation_Constructor)
	scipKindEnum        = int32(scippb.SymbolInformation_Enum)
	scipKindField       = int32(scippb.SymbolInformation_Field)
	scipKindFunction    = int32(scippb.SymbolInformation_Function)
	scipKindInterface   = int32(scippb.SymbolInformation_Interface)
	scipKindMethod      = int32(scippb.SymbolInformation_Method)
	scipKindPackage     = int32(scippb.SymbolInformation_Package)
	scipKindStruct      = int32(scippb.SymbolInformation_Struct)
	scipKindVariable    = int32(scippb.SymbolInformation_Variable)
)

// protocolKind maps an index symbol kind onto the protocol symbol kind
// carried by call-hierarchy items.
func protocolKind(info *SymbolInformation, symbol string) protocol.SymbolKind {
	if info != nil {
		switch info.Kind {
		case scipKindClass:
			return protocol.SymbolKindClass
		case scipKindConstant:
			return protocol.SymbolKindConstant
		case scipKindConstructor:
			return protocol.SymbolKindConstructor
		case scipKindEnum:
			return protocol.SymbolKindEnum
		case scipKindField:
			return protocol.SymbolKindField
		case scipKindFunction:
			return protocol.SymbolKindFunction
		case scipKindInterface:
			return protocol.SymbolKindInterface
		case scipKindMethod:
			return protocol.SymbolKindMethod
		case scipKindPackage:
			return protocol.SymbolKindPackage
		case scipKindStruct:
			return protocol.SymbolKindStruct
		case scipKindVariable:
			return protocol.SymbolKindVariable
		}
	}
	if strings.Contains(symbol, "#") && isFunctionSymbol(symbol) {
		return protocol.SymbolKindMethod
	}
	return protocol.SymbolKindFunction
}

// isCallable reports whether the symbol can appear in a call hierarchy.
func isCallable(info *SymbolInformation, symbol string) bool {
	if isFunctionSymbol(symbol) {
		return true
	}
	if info == nil {
		return false
	}
	switch info.Kind {
	case scipKindFunction, scipKindMethod, scipKindConstructor:
		return true
	}
	return false
}
