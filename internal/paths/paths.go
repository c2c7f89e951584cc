package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// rootMarkers identify a workspace root, checked in order.
var rootMarkers = []string{".peek", ".git", "go.mod"}

// Display returns path relative to root with forward slashes when path lies
// inside root, and the cleaned absolute path otherwise. Symlinks are
// resolved on both sides when they exist.
func Display(path, root string) string {
	if root == "" {
		return filepath.ToSlash(filepath.Clean(path))
	}
	resolved := resolve(path)
	rootResolved := resolve(root)

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	return filepath.ToSlash(rel)
}

// FindRoot walks up from start to the first directory holding a root
// marker. It returns start itself when none is found.
func FindRoot(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for dir := abs; ; {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		dir = parent
	}
}

// Resolve joins a possibly relative path onto root.
func Resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, filepath.FromSlash(path))
}

func resolve(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}
