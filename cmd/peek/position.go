package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"peek/internal/locations"
	"peek/internal/protocol"
)

// position is a 1-based file:line:col argument. Col counts bytes.
type position struct {
	Path string
	Line int
	Col  int
}

// parsePosition parses "file:line:col" or "file:line". Colons inside the
// path are kept.
func parsePosition(arg string) (position, error) {
	parts := strings.Split(arg, ":")
	if len(parts) < 2 {
		return position{}, fmt.Errorf("position %q: want file:line[:col]", arg)
	}

	nums := []int{}
	for len(parts) > 1 && len(nums) < 2 {
		n, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			break
		}
		nums = append([]int{n}, nums...)
		parts = parts[:len(parts)-1]
	}
	if len(nums) == 0 {
		return position{}, fmt.Errorf("position %q: missing line", arg)
	}
	pos := position{Path: strings.Join(parts, ":"), Line: nums[0], Col: 1}
	if len(nums) == 2 {
		pos.Col = nums[1]
	}
	if pos.Path == "" {
		return position{}, fmt.Errorf("position %q: missing file", arg)
	}
	if pos.Line < 1 || pos.Col < 1 {
		return position{}, fmt.Errorf("position %q: line and column start at 1", arg)
	}
	return pos, nil
}

// cursor converts pos to a 0-based cursor in the workspace at root.
func (p position) cursor(root string) locations.Cursor {
	path := p.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return locations.Cursor{URI: protocol.PathToURI(path), Line: p.Line - 1, Col: p.Col - 1}
}

// lineText reads the cursor line, or "" when the file is unreadable.
func lineText(files *locations.FileReader, c locations.Cursor) string {
	rows, err := files.ReadRows(protocol.URIToPath(c.URI), []int{c.Line})
	if err != nil {
		return ""
	}
	return rows[c.Line]
}
