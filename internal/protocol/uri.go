package protocol

import (
	"net/url"
	"path/filepath"
	"strings"
)

// PathToURI converts a file path to a file:// URI, making it absolute first.
func PathToURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// URIToPath converts a file:// URI to a path. Other schemes are returned
// unchanged.
func URIToPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return filepath.FromSlash(u.Path)
	}
	return strings.TrimPrefix(uri, "file://")
}

// IsFileURI reports whether uri uses the file scheme.
func IsFileURI(uri string) bool {
	return strings.HasPrefix(uri, "file:")
}
