// Package render turns list snapshots into display lines and
// machine-readable documents.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"peek/internal/config"
	"peek/internal/tree"
)

// Text renders snapshots as plain text lines.
type Text struct {
	Open        string
	Closed      string
	Leaf        string
	IndentGuide string
}

// NewText builds a text renderer from the render config.
func NewText(cfg config.RenderConfig) *Text {
	return &Text{
		Open:        cfg.Icons.Open,
		Closed:      cfg.Icons.Closed,
		Leaf:        cfg.Icons.Leaf,
		IndentGuide: cfg.IndentGuide,
	}
}

// Lines renders every snapshot line. Group headers show the fold icon, the
// filename and the item count. Items are indented by depth; in grouped
// mode they carry the indent guide.
func (t *Text) Lines(snap *tree.Snapshot) []string {
	out := make([]string, 0, snap.Len())
	for _, line := range snap.Lines {
		out = append(out, t.Line(snap, line))
	}
	return out
}

// Line renders one snapshot line.
func (t *Text) Line(snap *tree.Snapshot, line tree.Line) string {
	if line.Kind == tree.LineGroup {
		icon := t.Closed
		if line.Open {
			icon = t.Open
		}
		return fmt.Sprintf("%s %s (%d)", icon, line.Group.Filename, len(line.Group.Items))
	}

	loc := line.Location
	var b strings.Builder
	if !snap.Flat {
		b.WriteString(t.IndentGuide)
		b.WriteString(" ")
	}
	b.WriteString(strings.Repeat("  ", loc.Depth))
	switch {
	case !loc.Foldable():
		b.WriteString(t.Leaf)
	case line.Open:
		b.WriteString(t.Open)
	default:
		b.WriteString(t.Closed)
	}
	if t.Leaf != "" || loc.Foldable() {
		b.WriteString(" ")
	}
	if snap.Flat && loc.Call != nil {
		b.WriteString(loc.Call.Item.Name)
		b.WriteString(" ")
		b.WriteString(loc.Filename)
		b.WriteString(":")
	}
	fmt.Fprintf(&b, "%d:%d %s", loc.StartLine+1, loc.StartCol+1, loc.Text())
	return b.String()
}

// Writer is a tree.View that prints every rendered snapshot to w, marking
// the cursor line.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	text   *Text
	closed bool
}

// NewWriter creates a view printing to w.
func NewWriter(w io.Writer, text *Text) *Writer {
	return &Writer{w: w, text: text}
}

// Render prints snap.
func (v *Writer) Render(snap *tree.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	for i, line := range v.text.Lines(snap) {
		marker := "  "
		if i == snap.Cursor {
			marker = "> "
		}
		fmt.Fprintf(v.w, "%s%s\n", marker, line)
	}
	fmt.Fprintln(v.w)
}

// Close stops further output.
func (v *Writer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}
