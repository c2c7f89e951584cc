package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"peek/internal/config"
	"peek/internal/locations"
	"peek/internal/protocol"
	"peek/internal/tree"
)

func testText() *Text {
	return NewText(config.DefaultConfig().Render)
}

func groupedSnapshot() *tree.Snapshot {
	a := &locations.Location{
		Filename:  "a.go",
		StartLine: 3,
		StartCol:  4,
		Preview:   locations.Preview{Before: "x := ", Match: "helper", After: "()"},
	}
	b := &locations.Location{Filename: "b.go", StartLine: 0, StartCol: 0, Unreachable: "b.go:1:1", IsStarting: true}
	ga := &locations.Group{Filename: "a.go", Items: []*locations.Location{a}}
	gb := &locations.Group{Filename: "b.go", Items: []*locations.Location{b}}
	return &tree.Snapshot{
		Kind: protocol.KindReferences,
		Lines: []tree.Line{
			{Kind: tree.LineGroup, Group: ga, Open: true},
			{Kind: tree.LineLocation, Group: ga, Location: a},
			{Kind: tree.LineGroup, Group: gb, Open: true},
			{Kind: tree.LineLocation, Group: gb, Location: b},
		},
		Cursor: 1,
	}
}

func flatSnapshot() *tree.Snapshot {
	item := protocol.CallHierarchyItem{Name: "Caller"}
	parent := &locations.Location{
		Filename:  "a.go",
		StartLine: 9,
		StartCol:  5,
		Preview:   locations.Preview{Before: "func ", Match: "Caller", After: "() {"},
		Call:      &protocol.CallRelation{Item: item},
		FoldKey:   locations.CallKey(protocol.KindIncomingCalls, "file:///a.go", 9, 5),
	}
	child := &locations.Location{
		Filename:  "b.go",
		StartLine: 1,
		StartCol:  5,
		Depth:     1,
		Preview:   locations.Preview{Before: "func ", Match: "Outer", After: "() {"},
		Call:      &protocol.CallRelation{Item: protocol.CallHierarchyItem{Name: "Outer"}},
		FoldKey:   locations.CallKey(protocol.KindIncomingCalls, "file:///b.go", 1, 5),
	}
	g := &locations.Group{Filename: "a.go", Items: []*locations.Location{parent, child}}
	return &tree.Snapshot{
		Kind: protocol.KindIncomingCalls,
		Flat: true,
		Lines: []tree.Line{
			{Kind: tree.LineLocation, Group: g, Location: parent, Open: true},
			{Kind: tree.LineLocation, Group: g, Location: child},
		},
	}
}

func TestTextLinesGrouped(t *testing.T) {
	got := testText().Lines(groupedSnapshot())
	want := []string{
		"▼ a.go (1)",
		"│   4:5 x := helper()",
		"▼ b.go (1)",
		"│   1:1 b.go:1:1",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("Lines() =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestTextLinesFlatHasNoGuide(t *testing.T) {
	got := testText().Lines(flatSnapshot())
	want := []string{
		"▼ Caller a.go:10:6 func Caller() {",
		"  ▶ Outer b.go:2:6 func Outer() {",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("Lines() =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestWriterMarksCursorAndStopsAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, testText())
	w.Render(groupedSnapshot())
	if !strings.Contains(buf.String(), "> │   4:5 x := helper()") {
		t.Errorf("cursor line not marked:\n%s", buf.String())
	}
	w.Close()
	n := buf.Len()
	w.Render(groupedSnapshot())
	if buf.Len() != n {
		t.Error("closed writer should not print")
	}
}

func TestDocumentJSON(t *testing.T) {
	snap := groupedSnapshot()
	doc := NewDocument("id-1", "scip", snap, 2)

	var buf bytes.Buffer
	if err := Encode(&buf, FormatJSON, doc, snap, testText()); err != nil {
		t.Fatal(err)
	}
	var got struct {
		ID    string `json:"id"`
		Kind  string `json:"kind"`
		Total int    `json:"total"`
		Lines []struct {
			Kind        string             `json:"kind"`
			Line        int                `json:"line"`
			Preview     *locations.Preview `json:"preview"`
			Unreachable string             `json:"unreachable"`
			Starting    bool               `json:"starting"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if got.ID != "id-1" || got.Kind != "references" || got.Total != 2 || len(got.Lines) != 4 {
		t.Fatalf("document = %+v", got)
	}
	if got.Lines[0].Kind != "group" || got.Lines[1].Preview == nil || got.Lines[1].Preview.Match != "helper" || got.Lines[1].Line != 4 {
		t.Errorf("reachable line = %+v", got.Lines[1])
	}
	if got.Lines[3].Preview != nil || got.Lines[3].Unreachable != "b.go:1:1" || !got.Lines[3].Starting {
		t.Errorf("unreachable line = %+v", got.Lines[3])
	}
}

func TestDocumentYAMLAndText(t *testing.T) {
	snap := flatSnapshot()
	doc := NewDocument("id-2", "lsp:go", snap, 2)

	var buf bytes.Buffer
	if err := Encode(&buf, FormatYAML, doc, snap, testText()); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"kind: incoming_calls", "flat: true", "symbol: Outer", "depth: 1"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("YAML missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	doc.Messages = []string{"lsp:go: request failed"}
	if err := Encode(&buf, FormatText, doc, snap, testText()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "lsp:go: request failed\n") {
		t.Errorf("text output = %q", buf.String())
	}

	if err := Encode(&buf, "xml", doc, snap, testText()); err == nil {
		t.Error("unknown format should fail")
	}
	if ValidFormat("xml") || !ValidFormat(FormatYAML) {
		t.Error("ValidFormat misclassified")
	}
}

func TestTextEmpty(t *testing.T) {
	snap := &tree.Snapshot{Kind: protocol.KindDefinitions}
	var buf bytes.Buffer
	if err := Encode(&buf, FormatText, NewDocument("x", "", snap, 0), snap, testText()); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "No locations.\n" {
		t.Errorf("output = %q", buf.String())
	}
}
