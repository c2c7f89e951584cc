package dispatch

import (
	"context"

	"peek/internal/backends"
	"peek/internal/errors"
	"peek/internal/protocol"
)

// measure starts b when it needs starting and expresses pos in the
// encoding b then reports.
func measure(ctx context.Context, b backends.Backend, pos protocol.DocumentPosition) (protocol.TextDocumentPositionParams, error) {
	if err := backends.Start(ctx, b); err != nil {
		return protocol.TextDocumentPositionParams{}, err
	}
	return pos.Params(b.PositionEncoding()), nil
}

// params builds the request params for a plain kind. References include
// the declaration.
func params(entry protocol.Method, pos protocol.TextDocumentPositionParams) any {
	if entry.Method == protocol.MethodReferences {
		return protocol.ReferenceParams{
			TextDocumentPositionParams: pos,
			Context:                    protocol.ReferenceContext{IncludeDeclaration: true},
		}
	}
	return pos
}

func plain(ctx context.Context, b backends.Backend, entry protocol.Method, pos protocol.TextDocumentPositionParams) ([]protocol.RawLocation, error) {
	data, err := b.Request(ctx, entry.Method, params(entry, pos))
	if err != nil {
		return nil, err
	}
	locs, err := protocol.DecodeLocations(data)
	if err != nil {
		return nil, errors.New(errors.BackendError, "malformed "+entry.Method+" result", err).WithBackend(string(b.ID()))
	}
	out := make([]protocol.RawLocation, 0, len(locs))
	for _, loc := range locs {
		out = append(out, protocol.PlainLocation(loc))
	}
	return out, nil
}

// hierarchy runs both phases: resolve the item under the cursor, then ask
// for its relations. Only the first prepared item is used.
func hierarchy(ctx context.Context, b backends.Backend, entry protocol.Method, pos protocol.TextDocumentPositionParams) ([]protocol.RawLocation, error) {
	data, err := b.Request(ctx, entry.Prepare, pos)
	if err != nil {
		return nil, err
	}
	items, err := protocol.DecodeCallItems(data)
	if err != nil {
		return nil, errors.New(errors.BackendError, "malformed "+entry.Prepare+" result", err).WithBackend(string(b.ID()))
	}
	if len(items) == 0 {
		return nil, nil
	}
	return relations(ctx, b, entry, items[0])
}

func relations(ctx context.Context, b backends.Backend, entry protocol.Method, item protocol.CallHierarchyItem) ([]protocol.RawLocation, error) {
	data, err := b.Request(ctx, entry.Method, protocol.CallHierarchyCallsParams{Item: item})
	if err != nil {
		return nil, err
	}
	locs, err := protocol.DecodeCalls(entry.Direction, data, string(b.ID()))
	if err != nil {
		return nil, errors.New(errors.BackendError, "malformed "+entry.Method+" result", err).WithBackend(string(b.ID()))
	}
	return locs, nil
}
