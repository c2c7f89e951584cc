package lsp

import (
	"os"
	"path/filepath"
	"strings"

	"peek/internal/errors"
	"peek/internal/protocol"
)

var languageIDs = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".py":   "python",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".java": "java",
	".lua":  "lua",
}

// languageID returns the protocol language id for uri, falling back to the
// server's language name.
func languageID(uri, fallback string) string {
	if id, ok := languageIDs[strings.ToLower(filepath.Ext(uri))]; ok {
		return id
	}
	return fallback
}

// ensureOpen sends textDocument/didOpen for uri once per process. Servers
// answer document requests only for open documents. Non-file URIs belong to
// the server already and are skipped.
func (p *Process) ensureOpen(uri string) error {
	if uri == "" || !protocol.IsFileURI(uri) {
		return nil
	}

	p.docsMu.Lock()
	defer p.docsMu.Unlock()
	if _, ok := p.docs[uri]; ok {
		return nil
	}

	text, err := os.ReadFile(protocol.URIToPath(uri))
	if err != nil {
		return errors.New(errors.UnreadableSource, "open "+uri, err)
	}
	params := map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": languageID(uri, p.Language),
			"version":    1,
			"text":       string(text),
		},
	}
	if err := p.sendNotification("textDocument/didOpen", params); err != nil {
		return errors.New(errors.BackendUnavailable, "didOpen "+uri, err)
	}
	p.docs[uri] = 1
	return nil
}

// OpenDocuments returns the number of documents opened on the server.
func (p *Process) OpenDocuments() int {
	p.docsMu.Lock()
	defer p.docsMu.Unlock()
	return len(p.docs)
}
