package tree

import (
	"peek/internal/locations"
	"peek/internal/protocol"
)

// LineKind discriminates snapshot lines.
type LineKind int

const (
	// LineGroup is a file group header.
	LineGroup LineKind = iota
	// LineLocation is a location item.
	LineLocation
)

func (k LineKind) String() string {
	if k == LineGroup {
		return "group"
	}
	return "location"
}

// Line is one display line. Group is set for both kinds; Location only for
// LineLocation. Open is the fold state of the header or call node.
type Line struct {
	Kind     LineKind
	Group    *locations.Group
	Location *locations.Location
	Open     bool
}

// Foldable reports whether toggling the line does anything.
func (l Line) Foldable() bool {
	return l.Kind == LineGroup || l.Location.Foldable()
}

// Snapshot is the visible content of a list, one entry per display line.
type Snapshot struct {
	Kind   protocol.Kind
	Flat   bool
	Lines  []Line
	Cursor int
}

// Len returns the number of lines.
func (s *Snapshot) Len() int {
	return len(s.Lines)
}

// At returns line i.
func (s *Snapshot) At(i int) (Line, bool) {
	if i < 0 || i >= len(s.Lines) {
		return Line{}, false
	}
	return s.Lines[i], true
}

// IndexOf returns the line showing the location with key, or -1.
func (s *Snapshot) IndexOf(key locations.Key) int {
	for i, line := range s.Lines {
		if line.Kind == LineLocation && line.Location.Key == key {
			return i
		}
	}
	return -1
}

// IndexOfGroup returns the header line of the group for filename, or -1.
func (s *Snapshot) IndexOfGroup(filename string) int {
	for i, line := range s.Lines {
		if line.Kind == LineGroup && line.Group.Filename == filename {
			return i
		}
	}
	return -1
}

// build flattens groups into lines under the current fold state.
func (l *List) build() *Snapshot {
	snap := &Snapshot{Kind: l.kind, Flat: l.flat}
	for _, group := range l.groups {
		open := l.flat || l.folds[locations.GroupKey(group.Filename)]
		if !l.flat {
			snap.Lines = append(snap.Lines, Line{Kind: LineGroup, Group: group, Open: open})
		}
		if !open {
			continue
		}
		for _, item := range group.Items {
			snap.Lines = append(snap.Lines, Line{
				Kind:     LineLocation,
				Group:    group,
				Location: item,
				Open:     l.nodeOpen(item),
			})
		}
	}
	return snap
}
