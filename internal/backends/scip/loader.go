package scip

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"peek/internal/errors"
	"peek/internal/protocol"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// LoadIndex loads a SCIP index from path. Plain, zstd and gzip compressed
// indexes are accepted; the format is detected from the file header.
func LoadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.IndexMissing, fmt.Sprintf("SCIP index not found at %s", path), err)
		}
		return nil, errors.New(errors.UnreadableSource, fmt.Sprintf("failed to open SCIP index %s", path), err)
	}
	defer f.Close()

	data, err := readIndexBytes(bufio.NewReader(f))
	if err != nil {
		return nil, errors.New(errors.UnreadableSource, fmt.Sprintf("failed to read SCIP index %s", path), err)
	}

	var raw scippb.Index
	if err := proto.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(errors.UnreadableSource, fmt.Sprintf("failed to parse SCIP index %s", path), err)
	}
	return NewIndex(&raw), nil
}

func readIndexBytes(r *bufio.Reader) ([]byte, error) {
	header, _ := r.Peek(4)
	switch {
	case bytes.HasPrefix(header, zstdMagic):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	case bytes.HasPrefix(header, gzipMagic):
		dec, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return io.ReadAll(r)
	}
}

// NewIndex converts a decoded protobuf index and builds its lookup tables.
func NewIndex(raw *scippb.Index) *Index {
	idx := &Index{
		Metadata: convertMetadata(raw.Metadata),
		LoadedAt: time.Now(),
	}
	for _, doc := range raw.Documents {
		idx.Documents = append(idx.Documents, convertDocument(doc))
	}
	for _, info := range raw.ExternalSymbols {
		idx.external = append(idx.external, convertSymbolInformation(info))
	}
	idx.build()
	return idx
}

func convertMetadata(meta *scippb.Metadata) *Metadata {
	if meta == nil {
		return &Metadata{}
	}
	out := &Metadata{
		Version:     meta.Version.String(),
		ProjectRoot: meta.ProjectRoot,
	}
	if meta.ToolInfo != nil {
		out.ToolName = meta.ToolInfo.Name
		out.ToolVersion = meta.ToolInfo.Version
	}
	return out
}

func convertDocument(doc *scippb.Document) *Document {
	out := &Document{
		RelativePath: filepath.ToSlash(doc.RelativePath),
		Language:     doc.Language,
		Encoding:     convertEncoding(doc.PositionEncoding),
		Text:         doc.Text,
		Occurrences:  make([]*Occurrence, 0, len(doc.Occurrences)),
		Symbols:      make([]*SymbolInformation, 0, len(doc.Symbols)),
	}
	for _, occ := range doc.Occurrences {
		span, ok := ParseSpan(occ.Range)
		if !ok {
			continue
		}
		converted := &Occurrence{
			Span:   span,
			Symbol: occ.Symbol,
			Roles:  occ.SymbolRoles,
		}
		if enclosing, ok := ParseSpan(occ.EnclosingRange); ok {
			converted.EnclosingRange = &enclosing
		}
		out.Occurrences = append(out.Occurrences, converted)
	}
	for _, sym := range doc.Symbols {
		out.Symbols = append(out.Symbols, convertSymbolInformation(sym))
	}
	return out
}

// convertEncoding maps the document encoding. Unspecified documents are
// measured in utf-16 code units like the analysis protocol.
func convertEncoding(enc scippb.PositionEncoding) protocol.PositionEncoding {
	switch enc {
	case scippb.PositionEncoding_UTF8CodeUnitOffsetFromLineStart:
		return protocol.EncodingUTF8
	case scippb.PositionEncoding_UTF32CodeUnitOffsetFromLineStart:
		return protocol.EncodingUTF32
	default:
		return protocol.EncodingUTF16
	}
}

func convertSymbolInformation(sym *scippb.SymbolInformation) *SymbolInformation {
	out := &SymbolInformation{
		Symbol:          sym.Symbol,
		DisplayName:     sym.DisplayName,
		Kind:            int32(sym.Kind),
		EnclosingSymbol: sym.EnclosingSymbol,
		Relationships:   make([]*Relationship, 0, len(sym.Relationships)),
	}
	for _, rel := range sym.Relationships {
		out.Relationships = append(out.Relationships, &Relationship{
			Symbol:           rel.Symbol,
			IsReference:      rel.IsReference,
			IsImplementation: rel.IsImplementation,
			IsTypeDefinition: rel.IsTypeDefinition,
			IsDefinition:     rel.IsDefinition,
		})
	}
	return out
}

// IndexPath resolves the configured index path against root
func IndexPath(root string, configPath string) string {
	if filepath.IsAbs(configPath) {
		return configPath
	}
	return filepath.Join(root, configPath)
}
