package scip

import (
	"sort"
	"time"

	"peek/internal/protocol"
)

// DefaultMaxFunctionLines bounds the inferred body of the last function in
// a document when the indexer left EnclosingRange unset.
const DefaultMaxFunctionLines = 500

// Index is a loaded SCIP index with lookup tables keyed by symbol.
// Local symbols are keyed per document.
type Index struct {
	Metadata  *Metadata
	Documents []*Document
	LoadedAt  time.Time

	external    []*SymbolInformation
	byPath      map[string]*Document
	symbols     map[string]*SymbolInformation
	occurrences map[string][]occRef
	definitions map[string]occRef
	implemented map[string][]string
	functions   map[*Document][]funcRange
}

type occRef struct {
	doc *Document
	occ *Occurrence
}

type funcRange struct {
	key  string
	span Span
}

// Call is one edge of the call graph: the related function and the spans
// of the calls in the caller's document.
type Call struct {
	Symbol  string
	Def     occRef
	SiteDoc *Document
	Sites   []Span
}

func symbolKey(doc *Document, symbol string) string {
	if IsLocal(symbol) {
		return doc.RelativePath + "\x00" + symbol
	}
	return symbol
}

func (idx *Index) build() {
	idx.byPath = make(map[string]*Document, len(idx.Documents))
	idx.symbols = make(map[string]*SymbolInformation)
	idx.occurrences = make(map[string][]occRef)
	idx.definitions = make(map[string]occRef)
	idx.implemented = make(map[string][]string)
	idx.functions = make(map[*Document][]funcRange)

	for _, info := range idx.external {
		idx.symbols[info.Symbol] = info
	}

	for _, doc := range idx.Documents {
		idx.byPath[doc.RelativePath] = doc
		for _, info := range doc.Symbols {
			key := symbolKey(doc, info.Symbol)
			idx.symbols[key] = info
			for _, rel := range info.Relationships {
				if rel.IsImplementation {
					target := symbolKey(doc, rel.Symbol)
					idx.implemented[target] = append(idx.implemented[target], key)
				}
			}
		}
		for _, occ := range doc.Occurrences {
			if occ.Symbol == "" {
				continue
			}
			key := symbolKey(doc, occ.Symbol)
			ref := occRef{doc: doc, occ: occ}
			idx.occurrences[key] = append(idx.occurrences[key], ref)
			if occ.IsDefinition() {
				if _, ok := idx.definitions[key]; !ok {
					idx.definitions[key] = ref
				}
			}
		}
	}

	for _, doc := range idx.Documents {
		idx.functions[doc] = idx.buildFunctionRanges(doc)
	}
}

// buildFunctionRanges lists the callables defined in doc, sorted by start
// line. A missing EnclosingRange is inferred to end just before the next
// function starts.
func (idx *Index) buildFunctionRanges(doc *Document) []funcRange {
	var funcs []funcRange
	for _, occ := range doc.Occurrences {
		if !occ.IsDefinition() {
			continue
		}
		key := symbolKey(doc, occ.Symbol)
		if !isCallable(idx.symbols[key], occ.Symbol) {
			continue
		}
		span := occ.Span
		if occ.EnclosingRange != nil {
			span = *occ.EnclosingRange
		} else {
			span.EndLine = -1
		}
		funcs = append(funcs, funcRange{key: key, span: span})
	}
	sort.SliceStable(funcs, func(i, j int) bool {
		return funcs[i].span.StartLine < funcs[j].span.StartLine
	})
	for i := range funcs {
		if funcs[i].span.EndLine >= 0 {
			continue
		}
		end := funcs[i].span.StartLine + DefaultMaxFunctionLines
		if i+1 < len(funcs) && funcs[i+1].span.StartLine-1 < end {
			end = funcs[i+1].span.StartLine - 1
		}
		if end < funcs[i].span.StartLine {
			end = funcs[i].span.StartLine
		}
		funcs[i].span.EndLine = end
		funcs[i].span.EndChar = 0
	}
	return funcs
}

// Document returns the document at relPath (slash separated).
func (idx *Index) Document(relPath string) *Document {
	return idx.byPath[relPath]
}

// Encoding is the position encoding of the index, taken from its first
// document.
func (idx *Index) Encoding() protocol.PositionEncoding {
	if len(idx.Documents) == 0 {
		return protocol.EncodingUTF16
	}
	return idx.Documents[0].Encoding
}

// OccurrenceAt returns the narrowest occurrence containing the position.
func (idx *Index) OccurrenceAt(doc *Document, line, char int) *Occurrence {
	var best *Occurrence
	for _, occ := range doc.Occurrences {
		if occ.Symbol == "" || !occ.Span.Contains(line, char) {
			continue
		}
		if best == nil || occ.Span.size() < best.Span.size() {
			best = occ
		}
	}
	return best
}

// Symbol returns symbol information for key.
func (idx *Index) Symbol(key string) *SymbolInformation {
	return idx.symbols[key]
}

// Definition returns the definition occurrence for key.
func (idx *Index) Definition(key string) (occRef, bool) {
	ref, ok := idx.definitions[key]
	return ref, ok
}

// References returns every occurrence of key, optionally without its
// definitions.
func (idx *Index) References(key string, includeDeclaration bool) []occRef {
	refs := idx.occurrences[key]
	out := make([]occRef, 0, len(refs))
	for _, ref := range refs {
		if !includeDeclaration && ref.occ.IsDefinition() {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// Implementations returns the definitions of symbols implementing key.
func (idx *Index) Implementations(key string) []occRef {
	var out []occRef
	for _, impl := range idx.implemented[key] {
		if def, ok := idx.definitions[impl]; ok {
			out = append(out, def)
		}
	}
	return out
}

// TypeDefinitions returns the definitions of the types key is related to
// by type-definition relationships.
func (idx *Index) TypeDefinitions(key string, doc *Document) []occRef {
	info := idx.symbols[key]
	if info == nil {
		return nil
	}
	var out []occRef
	for _, rel := range info.Relationships {
		if !rel.IsTypeDefinition {
			continue
		}
		if def, ok := idx.definitions[symbolKey(doc, rel.Symbol)]; ok {
			out = append(out, def)
		}
	}
	return out
}

// IsCallable reports whether key names a function or method.
func (idx *Index) IsCallable(key, symbol string) bool {
	return isCallable(idx.symbols[key], symbol)
}

// enclosingFunction returns the innermost function in doc whose body
// contains line.
func (idx *Index) enclosingFunction(doc *Document, line int) (funcRange, bool) {
	var best funcRange
	found := false
	for _, fn := range idx.functions[doc] {
		if fn.span.StartLine > line {
			break
		}
		if line <= fn.span.EndLine {
			best = fn
			found = true
		}
	}
	return best, found
}

// functionBody returns the body span of the callable key.
func (idx *Index) functionBody(key string) (occRef, Span, bool) {
	def, ok := idx.definitions[key]
	if !ok {
		return occRef{}, Span{}, false
	}
	for _, fn := range idx.functions[def.doc] {
		if fn.key == key {
			return def, fn.span, true
		}
	}
	return def, def.occ.Span, true
}

// Callers returns the functions containing references to key, in index
// order, with the call sites inside each.
func (idx *Index) Callers(key string) []Call {
	var out []Call
	pos := make(map[string]int)
	for _, ref := range idx.occurrences[key] {
		if ref.occ.IsDefinition() {
			continue
		}
		fn, ok := idx.enclosingFunction(ref.doc, ref.occ.Span.StartLine)
		if !ok {
			continue
		}
		def, ok := idx.definitions[fn.key]
		if !ok {
			continue
		}
		if i, seen := pos[fn.key]; seen {
			out[i].Sites = append(out[i].Sites, ref.occ.Span)
			continue
		}
		pos[fn.key] = len(out)
		out = append(out, Call{Symbol: def.occ.Symbol, Def: def, SiteDoc: ref.doc, Sites: []Span{ref.occ.Span}})
	}
	return out
}

// Callees returns the callables referenced from the body of key that have a
// definition in the index, in order of first call.
func (idx *Index) Callees(key string) []Call {
	def, body, ok := idx.functionBody(key)
	if !ok {
		return nil
	}
	var out []Call
	pos := make(map[string]int)
	for _, occ := range def.doc.Occurrences {
		if occ.IsDefinition() || occ.Symbol == "" || !body.Covers(occ.Span) {
			continue
		}
		calleeKey := symbolKey(def.doc, occ.Symbol)
		if calleeKey == key || !isCallable(idx.symbols[calleeKey], occ.Symbol) {
			continue
		}
		if i, seen := pos[calleeKey]; seen {
			out[i].Sites = append(out[i].Sites, occ.Span)
			continue
		}
		calleeDef, ok := idx.definitions[calleeKey]
		if !ok {
			continue
		}
		pos[calleeKey] = len(out)
		out = append(out, Call{Symbol: occ.Symbol, Def: calleeDef, SiteDoc: def.doc, Sites: []Span{occ.Span}})
	}
	return out
}
