package scip

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"peek/internal/backends"
	"peek/internal/config"
	"peek/internal/errors"
	"peek/internal/protocol"
	"peek/internal/slogutil"
)

var supportedMethods = map[string]bool{
	protocol.MethodDefinition:           true,
	protocol.MethodTypeDefinition:       true,
	protocol.MethodImplementation:       true,
	protocol.MethodReferences:           true,
	protocol.MethodPrepareCallHierarchy: true,
	protocol.MethodIncomingCalls:        true,
	protocol.MethodOutgoingCalls:        true,
}

// Adapter answers analysis requests from a SCIP index. The index is loaded
// on first use and reloaded after the file changes.
type Adapter struct {
	root      string
	indexPath string
	priority  int
	logger    *slog.Logger

	loads singleflight.Group

	mu      sync.RWMutex
	index   *Index
	stale   bool
	watcher *fsnotify.Watcher
	done    chan struct{}

	linesMu sync.Mutex
	lines   map[string][]string
}

// NewAdapter creates the SCIP backend for the workspace at root.
func NewAdapter(root string, cfg config.ScipConfig, logger *slog.Logger) *Adapter {
	priority := cfg.Priority
	if priority == 0 {
		priority = 10
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Adapter{
		root:      root,
		indexPath: IndexPath(root, cfg.IndexPath),
		priority:  priority,
		logger:    slogutil.Component(logger, "scip"),
		lines:     make(map[string][]string),
	}
}

// ID returns the backend identifier
func (a *Adapter) ID() backends.BackendID {
	return backends.BackendSCIP
}

// IndexPath returns the resolved index file path.
func (a *Adapter) IndexPath() string {
	return a.indexPath
}

// IsAvailable reports whether the index file exists.
func (a *Adapter) IsAvailable() bool {
	_, err := os.Stat(a.indexPath)
	return err == nil
}

// Supports accepts the built-in methods for file documents. Once the index
// is loaded, documents it does not cover are refused.
func (a *Adapter) Supports(method, uri string) bool {
	if !supportedMethods[method] {
		return false
	}
	if uri == "" {
		return true
	}
	if !protocol.IsFileURI(uri) {
		return false
	}
	a.mu.RLock()
	idx := a.index
	a.mu.RUnlock()
	if idx == nil {
		return true
	}
	rel, ok := a.relPath(uri)
	return ok && idx.Document(rel) != nil
}

// Priority returns the configured priority (default 10)
func (a *Adapter) Priority() int {
	return a.priority
}

// PositionEncoding returns the encoding of the loaded index.
func (a *Adapter) PositionEncoding() protocol.PositionEncoding {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.index == nil {
		return protocol.EncodingUTF16
	}
	return a.index.Encoding()
}

// Load returns the current index, loading or reloading it when needed.
func (a *Adapter) Load(ctx context.Context) (*Index, error) {
	a.mu.RLock()
	idx, stale := a.index, a.stale
	a.mu.RUnlock()
	if idx != nil && !stale {
		return idx, nil
	}

	ch := a.loads.DoChan("load", func() (any, error) {
		loaded, err := LoadIndex(a.indexPath)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.index = loaded
		a.stale = false
		a.mu.Unlock()

		a.linesMu.Lock()
		a.lines = make(map[string][]string)
		a.linesMu.Unlock()

		a.logger.Info("Loaded SCIP index", "path", a.indexPath, "documents", len(loaded.Documents), "tool", loaded.Metadata.ToolName)
		return loaded, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start loads the index so PositionEncoding reports its encoding.
func (a *Adapter) Start(ctx context.Context) error {
	_, err := a.Load(ctx)
	return err
}

// Request answers method from the index.
func (a *Adapter) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !supportedMethods[method] {
		return nil, errors.Newf(errors.BackendError, "scip does not implement %s", method)
	}
	idx, err := a.Load(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.New(errors.InvalidParams, "encode params", err)
	}

	var result any
	switch method {
	case protocol.MethodIncomingCalls, protocol.MethodOutgoingCalls:
		var p protocol.CallHierarchyCallsParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.New(errors.InvalidParams, "decode "+method+" params", err)
		}
		result, err = a.calls(idx, method, p.Item)
	default:
		var p protocol.ReferenceParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.New(errors.InvalidParams, "decode "+method+" params", err)
		}
		result, err = a.document(idx, method, p)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, errors.New(errors.InternalError, "encode result", err)
	}
	return data, nil
}

func (a *Adapter) document(idx *Index, method string, p protocol.ReferenceParams) (any, error) {
	rel, ok := a.relPath(p.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	doc := idx.Document(rel)
	if doc == nil {
		return nil, nil
	}
	// Request positions are in the index encoding, like its replies.
	char := protocol.ConvertCharacter(a.lineText(doc, p.Position.Line), p.Position.Character, idx.Encoding(), doc.Encoding)
	occ := idx.OccurrenceAt(doc, p.Position.Line, char)
	if occ == nil {
		return nil, nil
	}
	key := symbolKey(doc, occ.Symbol)

	var refs []occRef
	switch method {
	case protocol.MethodDefinition:
		if def, ok := idx.Definition(key); ok {
			refs = []occRef{def}
		}
	case protocol.MethodTypeDefinition:
		refs = idx.TypeDefinitions(key, doc)
	case protocol.MethodImplementation:
		refs = idx.Implementations(key)
	case protocol.MethodReferences:
		refs = idx.References(key, p.Context.IncludeDeclaration)
	case protocol.MethodPrepareCallHierarchy:
		if !idx.IsCallable(key, occ.Symbol) {
			return nil, nil
		}
		def, ok := idx.Definition(key)
		if !ok {
			return nil, nil
		}
		return []protocol.CallHierarchyItem{a.item(idx, key, def)}, nil
	}

	out := make([]protocol.Location, 0, len(refs))
	for _, ref := range refs {
		out = append(out, protocol.Location{
			URI:   a.uri(ref.doc),
			Range: a.toIndexEncoding(idx, ref.doc, ref.occ.Span),
		})
	}
	return out, nil
}

func (a *Adapter) calls(idx *Index, method string, item protocol.CallHierarchyItem) (any, error) {
	var data struct {
		Symbol string `json:"symbol"`
		Key    string `json:"key"`
	}
	if len(item.Data) > 0 {
		_ = json.Unmarshal(item.Data, &data)
	}
	key := data.Key
	if key == "" {
		key = data.Symbol
	}
	if key == "" {
		return nil, errors.New(errors.InvalidParams, "call hierarchy item has no symbol", nil)
	}

	if method == protocol.MethodIncomingCalls {
		callers := idx.Callers(key)
		out := make([]protocol.CallHierarchyIncomingCall, 0, len(callers))
		for _, c := range callers {
			out = append(out, protocol.CallHierarchyIncomingCall{
				From:       a.item(idx, symbolKey(c.Def.doc, c.Symbol), c.Def),
				FromRanges: a.siteRanges(idx, c),
			})
		}
		return out, nil
	}

	callees := idx.Callees(key)
	out := make([]protocol.CallHierarchyOutgoingCall, 0, len(callees))
	for _, c := range callees {
		out = append(out, protocol.CallHierarchyOutgoingCall{
			To:         a.item(idx, symbolKey(c.Def.doc, c.Symbol), c.Def),
			FromRanges: a.siteRanges(idx, c),
		})
	}
	return out, nil
}

func (a *Adapter) item(idx *Index, key string, def occRef) protocol.CallHierarchyItem {
	info := idx.Symbol(key)
	name := symbolName(def.occ.Symbol)
	if info != nil && info.DisplayName != "" {
		name = info.DisplayName
	}
	full := def.occ.Span
	if def.occ.EnclosingRange != nil {
		full = *def.occ.EnclosingRange
	}
	data, _ := json.Marshal(map[string]string{"symbol": def.occ.Symbol, "key": key})
	return protocol.CallHierarchyItem{
		Name:           name,
		Kind:           protocolKind(info, def.occ.Symbol),
		Detail:         def.doc.RelativePath,
		URI:            a.uri(def.doc),
		Range:          a.toIndexEncoding(idx, def.doc, full),
		SelectionRange: a.toIndexEncoding(idx, def.doc, def.occ.Span),
		Data:           data,
	}
}

func (a *Adapter) siteRanges(idx *Index, c Call) []protocol.Range {
	out := make([]protocol.Range, 0, len(c.Sites))
	for _, s := range c.Sites {
		out = append(out, a.toIndexEncoding(idx, c.SiteDoc, s))
	}
	return out
}

// toIndexEncoding re-measures a span from its document's encoding into the
// encoding the backend reports.
func (a *Adapter) toIndexEncoding(idx *Index, doc *Document, s Span) protocol.Range {
	r := s.Range()
	target := idx.Encoding()
	if doc.Encoding == target {
		return r
	}
	r.Start.Character = protocol.ConvertCharacter(a.lineText(doc, s.StartLine), s.StartChar, doc.Encoding, target)
	r.End.Character = protocol.ConvertCharacter(a.lineText(doc, s.EndLine), s.EndChar, doc.Encoding, target)
	return r
}

func (a *Adapter) uri(doc *Document) string {
	return protocol.PathToURI(filepath.Join(a.root, filepath.FromSlash(doc.RelativePath)))
}

func (a *Adapter) relPath(uri string) (string, bool) {
	if !protocol.IsFileURI(uri) {
		return "", false
	}
	rel, err := filepath.Rel(a.root, protocol.URIToPath(uri))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// lineText returns one line of doc, from the indexed text when present,
// otherwise from disk. Missing lines are empty.
func (a *Adapter) lineText(doc *Document, line int) string {
	a.linesMu.Lock()
	defer a.linesMu.Unlock()

	lines, ok := a.lines[doc.RelativePath]
	if !ok {
		text := doc.Text
		if text == "" {
			data, err := os.ReadFile(filepath.Join(a.root, filepath.FromSlash(doc.RelativePath)))
			if err == nil {
				text = string(data)
			}
		}
		lines = strings.Split(text, "\n")
		a.lines[doc.RelativePath] = lines
	}
	if line < 0 || line >= len(lines) {
		return ""
	}
	return strings.TrimSuffix(lines[line], "\r")
}
