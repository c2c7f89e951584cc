// Package protocol holds the analysis-protocol wire types peek consumes,
// the fixed table of request kinds and the raw location shapes produced by
// backends.
package protocol

import "encoding/json"

// Position in a text document (0-based line and character). Character is
// measured in the code units of the backend's position encoding.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether pos lies in [Start, End). An empty range contains
// its start position.
func (r Range) Contains(pos Position) bool {
	if before(pos, r.Start) {
		return false
	}
	if r.Start == r.End {
		return pos == r.Start
	}
	return before(pos, r.End)
}

func before(a, b Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

// Location links a range in a document to a URI.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// LocationLink is the alternative definition-style result shape.
type LocationLink struct {
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// TextDocumentIdentifier identifies a text document.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentPositionParams is the cursor position a query is issued for.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// DocumentPosition is a cursor measured in bytes together with the text of
// its line, so it can be re-measured in whatever encoding a backend uses.
type DocumentPosition struct {
	URI      string
	Line     int
	Col      int
	LineText string
}

// Params measures the position in enc code units. Bytes past the end of
// LineText count one unit each.
func (p DocumentPosition) Params(enc PositionEncoding) TextDocumentPositionParams {
	col := p.Col
	char := 0
	if col > len(p.LineText) {
		char = col - len(p.LineText)
		col = len(p.LineText)
	}
	char += CharacterOffset(p.LineText, col, enc)
	return TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: p.URI},
		Position:     Position{Line: p.Line, Character: char},
	}
}

// ReferenceContext is sent with textDocument/references.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// ReferenceParams are the params of textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// SymbolKind is the LSP symbol kind enumeration.
type SymbolKind int

const (
	SymbolKindFile        SymbolKind = 1
	SymbolKindModule      SymbolKind = 2
	SymbolKindNamespace   SymbolKind = 3
	SymbolKindPackage     SymbolKind = 4
	SymbolKindClass       SymbolKind = 5
	SymbolKindMethod      SymbolKind = 6
	SymbolKindProperty    SymbolKind = 7
	SymbolKindField       SymbolKind = 8
	SymbolKindConstructor SymbolKind = 9
	SymbolKindEnum        SymbolKind = 10
	SymbolKindInterface   SymbolKind = 11
	SymbolKindFunction    SymbolKind = 12
	SymbolKindVariable    SymbolKind = 13
	SymbolKindConstant    SymbolKind = 14
	SymbolKindStruct      SymbolKind = 23
)

// CallHierarchyItem is a symbol resolved by textDocument/prepareCallHierarchy.
type CallHierarchyItem struct {
	Name           string          `json:"name"`
	Kind           SymbolKind      `json:"kind"`
	Detail         string          `json:"detail,omitempty"`
	URI            string          `json:"uri"`
	Range          Range           `json:"range"`
	SelectionRange Range           `json:"selectionRange"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// CallHierarchyCallsParams are the params of the directional call requests.
type CallHierarchyCallsParams struct {
	Item CallHierarchyItem `json:"item"`
}

// CallHierarchyIncomingCall is an incoming call edge.
type CallHierarchyIncomingCall struct {
	From       CallHierarchyItem `json:"from"`
	FromRanges []Range           `json:"fromRanges"`
}

// CallHierarchyOutgoingCall is an outgoing call edge.
type CallHierarchyOutgoingCall struct {
	To         CallHierarchyItem `json:"to"`
	FromRanges []Range           `json:"fromRanges"`
}
