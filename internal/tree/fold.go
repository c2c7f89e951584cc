package tree

import (
	"peek/internal/locations"
	"peek/internal/protocol"
)

// nodeOpen is the displayed fold state of a call node: open once its
// children are spliced in or while they are being fetched.
func (l *List) nodeOpen(item *locations.Location) bool {
	if !item.Foldable() || !l.folds[item.FoldKey] {
		return false
	}
	return l.loaded[item.Key] || l.pending[item.Key]
}

// ToggleFold flips the fold under the cursor. It reports false when the
// line has nothing to fold.
func (l *List) ToggleFold() bool {
	line, ok := l.Current()
	if !ok {
		return false
	}
	if line.Kind == LineGroup {
		key := locations.GroupKey(line.Group.Filename)
		l.setGroup(line.Group, !l.folds[key])
		return true
	}
	item := line.Location
	if !item.Foldable() {
		return false
	}
	if l.folds[item.FoldKey] && l.loaded[item.Key] {
		l.closeNode(item)
	} else {
		l.openNode(item)
	}
	return true
}

// OpenFold opens the fold under the cursor. It reports false when there is
// nothing to open.
func (l *List) OpenFold() bool {
	line, ok := l.Current()
	if !ok {
		return false
	}
	if line.Kind == LineGroup {
		if l.folds[locations.GroupKey(line.Group.Filename)] {
			return false
		}
		l.setGroup(line.Group, true)
		return true
	}
	item := line.Location
	if !item.Foldable() || (l.folds[item.FoldKey] && l.loaded[item.Key]) {
		return false
	}
	l.openNode(item)
	return true
}

// CloseFold closes the fold under the cursor. It reports false when there
// is nothing to close.
func (l *List) CloseFold() bool {
	line, ok := l.Current()
	if !ok {
		return false
	}
	if line.Kind == LineGroup {
		if !l.folds[locations.GroupKey(line.Group.Filename)] {
			return false
		}
		l.setGroup(line.Group, false)
		return true
	}
	item := line.Location
	if !item.Foldable() || !(l.folds[item.FoldKey] && l.loaded[item.Key]) {
		return false
	}
	l.closeNode(item)
	return true
}

// setGroup changes the visibility of a group's items and keeps the cursor
// on its header.
func (l *List) setGroup(group *locations.Group, open bool) {
	if l.flat {
		return
	}
	l.folds[locations.GroupKey(group.Filename)] = open
	l.rebuild()
	l.SetCursor(l.snapshot.IndexOfGroup(group.Filename))
	l.render()
}

// openNode shows the children of a call node, from the cache when present,
// otherwise through one fetch.
func (l *List) openNode(item *locations.Location) {
	key := item.FoldKey
	l.folds[key] = true

	if cached, ok := l.cache[key]; ok {
		l.splice(item, cached)
		l.loaded[item.Key] = true
		l.rebuild()
		l.SetCursor(l.snapshot.IndexOf(item.Key))
		l.render()
		return
	}

	if l.pending[item.Key] {
		return
	}
	if l.fetcher == nil || item.Call == nil {
		l.folds[key] = false
		return
	}

	l.pending[item.Key] = true
	l.rebuild()
	l.render()

	parent, backend := item.Key, item.Backend
	err := l.fetcher.FetchChildren(l.kind, item.Call, item.Key.Depth, func(raw []protocol.RawLocation, enc protocol.PositionEncoding) {
		l.childrenFetched(parent, key, backend, raw, enc)
	})
	if err != nil {
		l.logger.Warn("Fetch children failed", "item", item.Filename, "line", item.StartLine+1, "error", err.Error())
		delete(l.pending, item.Key)
		l.folds[key] = false
		l.rebuild()
		l.render()
	}
}

// childrenFetched splices fetched children under their parent. Children
// whose parent was closed or folded away meanwhile only go to the cache.
func (l *List) childrenFetched(parentKey locations.Key, key locations.FoldKey, backend string, raw []protocol.RawLocation, enc protocol.PositionEncoding) {
	if l.destroyed || !l.pending[parentKey] {
		return
	}
	delete(l.pending, parentKey)

	children := l.normalizer.Normalize(raw, locations.Options{
		Kind:     l.kind,
		Encoding: enc,
		Backend:  backend,
		Depth:    parentKey.Depth + 1,
	}).Flatten()
	l.cache[key] = children

	group, index := l.find(parentKey)
	if group == nil || !l.folds[key] {
		l.rebuild()
		l.render()
		return
	}
	l.splice(group.Items[index], children)
	l.loaded[parentKey] = true
	l.rebuild()
	l.SetCursor(l.snapshot.IndexOf(parentKey))
	l.render()
}

// closeNode moves the contiguous deeper run after item into the cache.
func (l *List) closeNode(item *locations.Location) {
	group, index := l.find(item.Key)
	if group == nil {
		return
	}
	end := index + 1
	for end < len(group.Items) && group.Items[end].Depth > item.Depth {
		end++
	}
	run := make([]*locations.Location, end-index-1)
	copy(run, group.Items[index+1:end])

	l.cache[item.FoldKey] = run
	group.Items = append(group.Items[:index+1], group.Items[end:]...)
	l.folds[item.FoldKey] = false
	delete(l.loaded, item.Key)

	l.rebuild()
	l.SetCursor(l.snapshot.IndexOf(item.Key))
	l.render()
}

// splice inserts children right after parent in parent's group.
func (l *List) splice(parent *locations.Location, children []*locations.Location) {
	group, index := l.find(parent.Key)
	if group == nil {
		return
	}
	items := make([]*locations.Location, 0, len(group.Items)+len(children))
	items = append(items, group.Items[:index+1]...)
	items = append(items, children...)
	items = append(items, group.Items[index+1:]...)
	group.Items = items
}

// find returns the group and index of the location with key.
func (l *List) find(key locations.Key) (*locations.Group, int) {
	for _, group := range l.groups {
		for i, item := range group.Items {
			if item.Key == key {
				return group, i
			}
		}
	}
	return nil, -1
}
