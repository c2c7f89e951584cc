package locations

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"peek/internal/paths"
	"peek/internal/protocol"
	"peek/internal/slogutil"
)

// Buffer is a loaded editor buffer.
type Buffer interface {
	ID() int
	// Line returns the zero-based row, or false past the end.
	Line(row int) (string, bool)
}

// BufferStore gives access to editor buffers.
type BufferStore interface {
	// Loaded returns the buffer for uri if it is already loaded.
	Loaded(uri string) (Buffer, bool)
	// Load loads the buffer for uri. It is used only for URIs that are not
	// files on disk.
	Load(uri string) (Buffer, error)
}

// Cursor is the position a query was issued from. Col is a byte offset.
type Cursor struct {
	URI  string
	Line int
	Col  int
}

// Options control one normalization pass.
type Options struct {
	// Kind is the request kind; call nodes get fold keys of this kind.
	Kind protocol.Kind
	// Encoding is the position encoding of the raw ranges.
	Encoding protocol.PositionEncoding
	// Backend is recorded on locations that carry no call metadata.
	Backend string
	// Depth is assigned to every produced location.
	Depth int
	// Cursor marks the starting location. Nil disables the flag.
	Cursor *Cursor
}

// Aggregator normalizes raw backend results.
type Aggregator struct {
	root    string
	buffers BufferStore
	files   *FileReader
	logger  *slog.Logger
}

// NewAggregator creates an aggregator. Filenames are shown relative to
// root; buffers may be nil when no editor buffers exist.
func NewAggregator(root string, buffers BufferStore, files *FileReader, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		root:    root,
		buffers: buffers,
		files:   files,
		logger:  slogutil.Component(logger, "locations"),
	}
}

// Normalize partitions raw by URI, sorts each partition by position, reads
// the preview rows and returns the groups sorted by filename.
func (a *Aggregator) Normalize(raw []protocol.RawLocation, opts Options) Groups {
	enc := opts.Encoding
	if enc == "" {
		enc = protocol.EncodingUTF16
	}

	byURI := make(map[string][]protocol.RawLocation)
	var uris []string
	for _, r := range raw {
		uri := r.Location.URI
		if _, ok := byURI[uri]; !ok {
			uris = append(uris, uri)
		}
		byURI[uri] = append(byURI[uri], r)
	}

	groups := make(Groups, 0, len(uris))
	for _, uri := range uris {
		entries := byURI[uri]
		sort.SliceStable(entries, func(i, j int) bool {
			p, q := entries[i].Location.Range.Start, entries[j].Location.Range.Start
			if p.Line != q.Line {
				return p.Line < q.Line
			}
			return p.Character < q.Character
		})

		group := &Group{Filename: a.filename(uri), URI: uri}
		src := a.source(uri, entries)
		for _, e := range entries {
			group.Items = append(group.Items, a.location(group.Filename, e, src, enc, opts))
		}
		groups = append(groups, group)
	}
	sortGroups(groups)

	if opts.Cursor != nil {
		markStarting(groups, *opts.Cursor)
	}
	return groups
}

// markStarting flags the first location, in display order, containing c.
func markStarting(groups Groups, c Cursor) {
	for _, group := range groups {
		for _, loc := range group.Items {
			if contains(loc, c) {
				loc.IsStarting = true
				return
			}
		}
	}
}

// source holds the rows read for one URI.
type source struct {
	buffer int
	rows   map[int]string
	err    error
}

func (a *Aggregator) source(uri string, entries []protocol.RawLocation) source {
	rows := make([]int, 0, len(entries))
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		// End rows are read for multi-line ranges to measure the end column.
		for _, row := range []int{e.Location.Range.Start.Line, e.Location.Range.End.Line} {
			if !seen[row] {
				seen[row] = true
				rows = append(rows, row)
			}
		}
	}

	if a.buffers != nil {
		if buf, ok := a.buffers.Loaded(uri); ok {
			return source{buffer: buf.ID(), rows: bufferRows(buf, rows)}
		}
	}

	if protocol.IsFileURI(uri) {
		if a.files == nil {
			return source{err: fmt.Errorf("no file reader")}
		}
		got, err := a.files.ReadRows(protocol.URIToPath(uri), rows)
		if err != nil {
			a.logger.Debug("Source unreadable", "uri", uri, "error", err.Error())
		}
		return source{rows: got, err: err}
	}

	if a.buffers == nil {
		return source{err: fmt.Errorf("no buffer store for %s", uri)}
	}
	buf, err := a.buffers.Load(uri)
	if err != nil {
		a.logger.Debug("Buffer load failed", "uri", uri, "error", err.Error())
		return source{err: err}
	}
	return source{buffer: buf.ID(), rows: bufferRows(buf, rows)}
}

func bufferRows(buf Buffer, rows []int) map[int]string {
	out := make(map[int]string, len(rows))
	for _, row := range rows {
		if text, ok := buf.Line(row); ok {
			out[row] = text
		}
	}
	return out
}

func (a *Aggregator) location(filename string, raw protocol.RawLocation, src source, enc protocol.PositionEncoding, opts Options) *Location {
	r := raw.Location.Range
	loc := &Location{
		Filename:  filename,
		URI:       raw.Location.URI,
		Buffer:    src.buffer,
		StartLine: r.Start.Line,
		EndLine:   r.End.Line,
		Depth:     opts.Depth,
		Backend:   opts.Backend,
	}
	if raw.Call != nil {
		loc.Call = raw.Call
		if raw.Call.Backend != "" {
			loc.Backend = raw.Call.Backend
		}
	}

	text, ok := src.rows[r.Start.Line]
	if src.err != nil || !ok {
		loc.StartCol = r.Start.Character
		loc.EndCol = r.End.Character
		loc.Unreachable = fmt.Sprintf("%s:%d:%d", filename, r.Start.Line+1, r.Start.Character+1)
	} else {
		loc.StartCol = protocol.ByteOffset(text, r.Start.Character, enc)
		if r.End.Line > r.Start.Line {
			// The preview shows the start row only, highlighted to its end.
			loc.EndCol = r.End.Character
			if endText, ok := src.rows[r.End.Line]; ok {
				loc.EndCol = protocol.ByteOffset(endText, r.End.Character, enc)
			}
			loc.Preview = preview(text, loc.StartCol, len(text))
		} else {
			loc.EndCol = max(protocol.ByteOffset(text, r.End.Character, enc), loc.StartCol)
			loc.Preview = preview(text, loc.StartCol, loc.EndCol)
		}
	}

	loc.Key = Key{URI: loc.URI, Line: loc.StartLine, Col: loc.StartCol, Depth: loc.Depth}
	if raw.Call != nil {
		loc.FoldKey = CallKey(opts.Kind, loc.URI, loc.StartLine, loc.StartCol)
	}
	return loc
}

// preview splits text around [start, end). The leading context is
// left-trimmed and the trailing context right-trimmed.
func preview(text string, start, end int) Preview {
	return Preview{
		Before: strings.TrimLeft(text[:start], " \t"),
		Match:  text[start:end],
		After:  strings.TrimRight(text[end:], " \t"),
	}
}

// contains reports whether the cursor lies in the location's range. The
// end is exclusive; an empty range contains its start.
func contains(loc *Location, c Cursor) bool {
	if loc.URI != c.URI {
		return false
	}
	start := protocol.Position{Line: loc.StartLine, Character: loc.StartCol}
	end := protocol.Position{Line: loc.EndLine, Character: loc.EndCol}
	return protocol.Range{Start: start, End: end}.Contains(protocol.Position{Line: c.Line, Character: c.Col})
}

func (a *Aggregator) filename(uri string) string {
	if !protocol.IsFileURI(uri) {
		return uri
	}
	path := protocol.URIToPath(uri)
	if a.root == "" {
		return filepath.ToSlash(path)
	}
	return paths.Display(path, a.root)
}
