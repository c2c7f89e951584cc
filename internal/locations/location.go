// Package locations turns raw backend results into file groups of
// normalized, previewable locations.
package locations

import (
	"sort"

	"peek/internal/protocol"
)

// Key is the stable identity of a location. Locations are matched by key
// equality across list mutations, never by pointer.
type Key struct {
	URI   string
	Line  int
	Col   int
	Depth int
}

// FoldKey addresses fold state and cached subtrees. Group keys carry only
// the filename; call keys carry the request kind and the node position.
type FoldKey struct {
	Group string
	Kind  protocol.Kind
	URI   string
	Line  int
	Col   int
}

// GroupKey returns the fold key of the file group for filename.
func GroupKey(filename string) FoldKey {
	return FoldKey{Group: filename}
}

// CallKey returns the fold key of a call node.
func CallKey(kind protocol.Kind, uri string, line, col int) FoldKey {
	return FoldKey{Kind: kind, URI: uri, Line: line, Col: col}
}

// IsGroup reports whether k addresses a file group.
func (k FoldKey) IsGroup() bool {
	return k.Group != ""
}

// IsZero reports whether k is unset.
func (k FoldKey) IsZero() bool {
	return k == FoldKey{}
}

// Preview is the display text of a location split around the match.
type Preview struct {
	Before string `json:"before" yaml:"before"`
	Match  string `json:"match" yaml:"match"`
	After  string `json:"after" yaml:"after"`
}

// Text joins the preview spans.
func (p Preview) Text() string {
	return p.Before + p.Match + p.After
}

// Location is a normalized list entry. Columns are byte offsets into the
// line text. The range end is the real end, possibly on a later row than
// the preview shows.
type Location struct {
	Filename  string
	URI       string
	Buffer    int
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
	Preview   Preview
	// Unreachable is the placeholder label used when the source row could
	// not be read. It is empty for readable locations.
	Unreachable string
	Depth       int
	FoldKey     FoldKey
	IsStarting  bool
	Call        *protocol.CallRelation
	Backend     string
	Key         Key
}

// Foldable reports whether the location is a call node that can expand.
func (l *Location) Foldable() bool {
	return !l.FoldKey.IsZero()
}

// Reachable reports whether the preview was read from the source.
func (l *Location) Reachable() bool {
	return l.Unreachable == ""
}

// Text is the display text: the preview, or the unreachable label.
func (l *Location) Text() string {
	if !l.Reachable() {
		return l.Unreachable
	}
	return l.Preview.Text()
}

// Group is the ordered list of locations belonging to one file.
type Group struct {
	Filename string
	URI      string
	Items    []*Location
}

// Groups are file groups sorted by filename.
type Groups []*Group

// Find returns the group for filename.
func (g Groups) Find(filename string) *Group {
	for _, group := range g {
		if group.Filename == filename {
			return group
		}
	}
	return nil
}

// Len counts the locations across all groups.
func (g Groups) Len() int {
	n := 0
	for _, group := range g {
		n += len(group.Items)
	}
	return n
}

// Flatten returns every location in group order.
func (g Groups) Flatten() []*Location {
	out := make([]*Location, 0, g.Len())
	for _, group := range g {
		out = append(out, group.Items...)
	}
	return out
}

// Starting returns the location flagged as containing the cursor.
func (g Groups) Starting() *Location {
	for _, group := range g {
		for _, item := range group.Items {
			if item.IsStarting {
				return item
			}
		}
	}
	return nil
}

func sortGroups(groups Groups) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Filename < groups[j].Filename
	})
}
