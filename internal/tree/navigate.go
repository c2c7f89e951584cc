package tree

import "peek/internal/locations"

// Next moves the cursor down one line and returns the line it lands on.
// With SkipGroups, headers are stepped over and folded groups opened on
// the way; with Cycle, the cursor wraps. It returns false at the end.
func (l *List) Next(opts NavOptions) (Line, bool) {
	return l.step(1, opts)
}

// Previous is Next in the other direction.
func (l *List) Previous(opts NavOptions) (Line, bool) {
	return l.step(-1, opts)
}

// step walks the snapshot iteratively. pos accumulates the offset from the
// starting line, corrected for lines inserted by opening a group.
func (l *List) step(dir int, opts NavOptions) (Line, bool) {
	n := l.snapshot.Len()
	if n == 0 {
		return Line{}, false
	}

	pos := l.cursor
	changed := false
	defer func() {
		if changed {
			l.render()
		}
	}()
	// Each group header is visited at most twice per walk: once folded,
	// once open.
	budget := 2*n + 2*l.groups.Len() + 2
	for ; budget > 0; budget-- {
		pos += dir
		if pos < 0 || pos >= l.snapshot.Len() {
			if !opts.Cycle {
				return Line{}, false
			}
			if pos < 0 {
				pos = l.snapshot.Len() - 1
			} else {
				pos = 0
			}
		}

		line := l.snapshot.Lines[pos]
		if line.Kind != LineGroup || !opts.SkipGroups {
			l.SetCursor(pos)
			changed = true
			return line, true
		}
		if line.Open || len(line.Group.Items) == 0 {
			continue
		}

		l.folds[locations.GroupKey(line.Group.Filename)] = true
		l.rebuild()
		changed = true
		if dir < 0 {
			// Land on the group's last item on the next step back.
			pos += len(line.Group.Items) + 1
		}
	}
	return Line{}, false
}
