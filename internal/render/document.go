package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"peek/internal/locations"
	"peek/internal/protocol"
	"peek/internal/tree"
)

// Supported output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Document is the machine-readable form of a snapshot.
type Document struct {
	ID       string        `json:"id" yaml:"id"`
	Kind     protocol.Kind `json:"kind" yaml:"kind"`
	Backend  string        `json:"backend,omitempty" yaml:"backend,omitempty"`
	Flat     bool          `json:"flat" yaml:"flat"`
	Cursor   int           `json:"cursor" yaml:"cursor"`
	Total    int           `json:"total" yaml:"total"`
	Lines    []DocLine     `json:"lines" yaml:"lines"`
	Messages []string      `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// DocLine is one snapshot line. Positions are 1-based.
type DocLine struct {
	Kind        string             `json:"kind" yaml:"kind"`
	Filename    string             `json:"filename" yaml:"filename"`
	Count       int                `json:"count,omitempty" yaml:"count,omitempty"`
	Line        int                `json:"line,omitempty" yaml:"line,omitempty"`
	Col         int                `json:"col,omitempty" yaml:"col,omitempty"`
	Depth       int                `json:"depth,omitempty" yaml:"depth,omitempty"`
	Preview     *locations.Preview `json:"preview,omitempty" yaml:"preview,omitempty"`
	Unreachable string             `json:"unreachable,omitempty" yaml:"unreachable,omitempty"`
	Symbol      string             `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Foldable    bool               `json:"foldable,omitempty" yaml:"foldable,omitempty"`
	Open        bool               `json:"open,omitempty" yaml:"open,omitempty"`
	Starting    bool               `json:"starting,omitempty" yaml:"starting,omitempty"`
	Backend     string             `json:"backend,omitempty" yaml:"backend,omitempty"`
}

// NewDocument converts snap. total is the number of locations in the list,
// visible or not.
func NewDocument(id string, backend string, snap *tree.Snapshot, total int) *Document {
	doc := &Document{
		ID:      id,
		Kind:    snap.Kind,
		Backend: backend,
		Flat:    snap.Flat,
		Cursor:  snap.Cursor,
		Total:   total,
		Lines:   make([]DocLine, 0, snap.Len()),
	}
	for _, line := range snap.Lines {
		if line.Kind == tree.LineGroup {
			doc.Lines = append(doc.Lines, DocLine{
				Kind:     line.Kind.String(),
				Filename: line.Group.Filename,
				Count:    len(line.Group.Items),
				Foldable: true,
				Open:     line.Open,
			})
			continue
		}
		loc := line.Location
		dl := DocLine{
			Kind:        line.Kind.String(),
			Filename:    loc.Filename,
			Line:        loc.StartLine + 1,
			Col:         loc.StartCol + 1,
			Depth:       loc.Depth,
			Unreachable: loc.Unreachable,
			Foldable:    loc.Foldable(),
			Open:        line.Open,
			Starting:    loc.IsStarting,
			Backend:     loc.Backend,
		}
		if loc.Reachable() {
			preview := loc.Preview
			dl.Preview = &preview
		}
		if loc.Call != nil {
			dl.Symbol = loc.Call.Item.Name
		}
		doc.Lines = append(doc.Lines, dl)
	}
	return doc
}

// ValidFormat reports whether format is supported.
func ValidFormat(format string) bool {
	switch format {
	case FormatText, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// Encode writes doc to w in format. The text format renders the lines with
// text and shows messages after them.
func Encode(w io.Writer, format string, doc *Document, snap *tree.Snapshot, text *Text) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatText:
		lines := text.Lines(snap)
		if len(lines) == 0 {
			lines = []string{"No locations."}
		}
		lines = append(lines, doc.Messages...)
		_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
