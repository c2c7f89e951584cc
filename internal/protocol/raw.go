package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CallRelation is the call-hierarchy half of a RawLocation.
type CallRelation struct {
	Direction Direction
	// Item is the related symbol: the caller for incoming relations, the
	// callee for outgoing ones.
	Item CallHierarchyItem
	// FromRanges are the call-site ranges. They never become list locations.
	FromRanges []Range
	// Backend is the id of the backend that produced the relation.
	Backend string
}

// RawLocation is one record produced by a backend: a plain location, or a
// call relation when Call is set. For relations Location holds the related
// item's URI and selection range.
type RawLocation struct {
	Location Location
	Call     *CallRelation
}

// PlainLocation builds a RawLocation from a Location.
func PlainLocation(loc Location) RawLocation {
	return RawLocation{Location: loc}
}

// CallLocation builds a RawLocation from a related call-hierarchy item,
// using the item's declaration range rather than the call sites.
func CallLocation(dir Direction, item CallHierarchyItem, fromRanges []Range, backend string) RawLocation {
	return RawLocation{
		Location: Location{URI: item.URI, Range: item.SelectionRange},
		Call: &CallRelation{
			Direction:  dir,
			Item:       item,
			FromRanges: fromRanges,
			Backend:    backend,
		},
	}
}

// IsEmptyResult reports whether a raw response carries no data.
func IsEmptyResult(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case "", "null", "[]", "{}":
		return true
	}
	return false
}

// DecodeLocations decodes a Location, Location[], LocationLink or
// LocationLink[] response. A single object is coerced to a one-element list.
func DecodeLocations(data json.RawMessage) ([]Location, error) {
	if IsEmptyResult(data) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(data)

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode location list: %w", err)
		}
	} else {
		items = []json.RawMessage{trimmed}
	}

	locations := make([]Location, 0, len(items))
	for _, item := range items {
		var probe struct {
			URI                  string `json:"uri"`
			Range                *Range `json:"range"`
			TargetURI            string `json:"targetUri"`
			TargetSelectionRange *Range `json:"targetSelectionRange"`
			TargetRange          *Range `json:"targetRange"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		switch {
		case probe.URI != "" && probe.Range != nil:
			locations = append(locations, Location{URI: probe.URI, Range: *probe.Range})
		case probe.TargetURI != "" && probe.TargetSelectionRange != nil:
			locations = append(locations, Location{URI: probe.TargetURI, Range: *probe.TargetSelectionRange})
		case probe.TargetURI != "" && probe.TargetRange != nil:
			locations = append(locations, Location{URI: probe.TargetURI, Range: *probe.TargetRange})
		}
	}
	return locations, nil
}

// DecodeCallItems decodes a prepareCallHierarchy response.
func DecodeCallItems(data json.RawMessage) ([]CallHierarchyItem, error) {
	if IsEmptyResult(data) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(data)
	if trimmed[0] != '[' {
		var single CallHierarchyItem
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("decode call hierarchy item: %w", err)
		}
		return []CallHierarchyItem{single}, nil
	}
	var items []CallHierarchyItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decode call hierarchy items: %w", err)
	}
	return items, nil
}

// DecodeCalls decodes a directional call response into raw locations.
func DecodeCalls(dir Direction, data json.RawMessage, backend string) ([]RawLocation, error) {
	if IsEmptyResult(data) {
		return nil, nil
	}
	switch dir {
	case DirectionIncoming:
		var calls []CallHierarchyIncomingCall
		if err := json.Unmarshal(data, &calls); err != nil {
			return nil, fmt.Errorf("decode incoming calls: %w", err)
		}
		out := make([]RawLocation, 0, len(calls))
		for _, call := range calls {
			out = append(out, CallLocation(dir, call.From, call.FromRanges, backend))
		}
		return out, nil
	case DirectionOutgoing:
		var calls []CallHierarchyOutgoingCall
		if err := json.Unmarshal(data, &calls); err != nil {
			return nil, fmt.Errorf("decode outgoing calls: %w", err)
		}
		out := make([]RawLocation, 0, len(calls))
		for _, call := range calls {
			out = append(out, CallLocation(dir, call.To, call.FromRanges, backend))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown call direction %q", dir)
	}
}
