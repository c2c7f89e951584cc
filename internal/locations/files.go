package locations

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"peek/internal/errors"
)

// DefaultFileCacheSize is the number of files whose rows are kept.
const DefaultFileCacheSize = 256

// fileRows is the cached part of one file: the rows read so far, valid
// while the file keeps its size and modification time.
type fileRows struct {
	modTime time.Time
	size    int64
	rows    map[int]string
	lines   int // total line count, -1 until the file was read to the end
}

// FileReader reads individual rows of files on disk without touching
// editor buffers. Rows are cached per file until the file changes.
type FileReader struct {
	mu    sync.Mutex
	cache otter.Cache[string, *fileRows]
}

// NewFileReader creates a reader caching up to size files.
func NewFileReader(size int) (*FileReader, error) {
	if size <= 0 {
		size = DefaultFileCacheSize
	}
	cache, err := otter.MustBuilder[string, *fileRows](size).Build()
	if err != nil {
		return nil, errors.New(errors.InternalError, "build file cache", err)
	}
	return &FileReader{cache: cache}, nil
}

// ReadRows returns the requested zero-based rows of the file at path. Rows
// past the end of the file are absent from the result.
func (r *FileReader) ReadRows(path string, rows []int) (map[int]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(errors.UnreadableSource, "stat "+path, err)
	}
	if info.IsDir() {
		return nil, errors.Newf(errors.UnreadableSource, "%s is a directory", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache.Get(path)
	if !ok || !entry.modTime.Equal(info.ModTime()) || entry.size != info.Size() {
		entry = &fileRows{modTime: info.ModTime(), size: info.Size(), rows: make(map[int]string), lines: -1}
	}

	var missing []int
	for _, row := range rows {
		if _, ok := entry.rows[row]; ok {
			continue
		}
		if entry.lines >= 0 && row >= entry.lines {
			continue
		}
		missing = append(missing, row)
	}
	if len(missing) > 0 {
		if err := readInto(path, missing, entry); err != nil {
			return nil, err
		}
	}
	r.cache.Set(path, entry)

	out := make(map[int]string, len(rows))
	for _, row := range rows {
		if text, ok := entry.rows[row]; ok {
			out[row] = text
		}
	}
	return out, nil
}

// Close releases the cache.
func (r *FileReader) Close() {
	r.cache.Close()
}

// readInto scans path up to the last missing row and stores the missing
// rows in entry.
func readInto(path string, missing []int, entry *fileRows) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.New(errors.UnreadableSource, "open "+path, err)
	}
	defer f.Close()

	sort.Ints(missing)
	want := make(map[int]bool, len(missing))
	for _, row := range missing {
		want[row] = true
	}
	last := missing[len(missing)-1]

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	row := 0
	for scanner.Scan() {
		if want[row] {
			entry.rows[row] = strings.TrimSuffix(scanner.Text(), "\r")
		}
		if row == last {
			return nil
		}
		row++
	}
	if err := scanner.Err(); err != nil {
		return errors.New(errors.UnreadableSource, "read "+path, err)
	}
	entry.lines = row
	return nil
}
