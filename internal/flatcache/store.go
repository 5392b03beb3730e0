// Package flatcache persists resource collections as one line-oriented file per
// kind, with freshness decided by file modification time against a per-kind TTL.
package flatcache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the freshness window used when an Entry does not set one.
const DefaultTTL = time.Hour

// fileSuffix is appended to an entry name to form its backing file.
const fileSuffix = ".cache"

// Sentinel errors for caller-checkable conditions.
var (
	ErrNotCached   = errors.New("flatcache: entry not cached")
	ErrInvalidName = errors.New("flatcache: invalid entry name")
)

// Entry describes one cached resource collection.
type Entry struct {
	// Name is the storage key; the backing file is <dir>/<Name>.cache.
	Name string
	// TTL is the maximum age before the collection is stale. Zero means DefaultTTL.
	TTL time.Duration
	// Columns names the fields of every record, in order. Records whose field
	// count differs are skipped on read.
	Columns []string
	// Stale, when set, forces a refresh within the TTL if it returns true for
	// the currently stored records.
	Stale func(records []Record) bool
}

func (e Entry) ttl() time.Duration {
	if e.TTL <= 0 {
		return DefaultTTL
	}
	return e.TTL
}

// Store reads and writes cache entries under a base directory.
// It holds no in-memory state besides its configuration.
type Store struct {
	dir string
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a time source, used by freshness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store rooted at dir. The directory is created lazily on
// the first write.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the base directory of the store.
func (s *Store) Dir() string { return s.dir }

// Age returns how long ago the entry was written. The second return is false
// when the entry has never been written.
func (s *Store) Age(e Entry) (time.Duration, bool) {
	p, err := s.path(e.Name)
	if err != nil {
		return 0, false
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, false
	}
	return s.now().Sub(info.ModTime()), true
}

// IsFresh reports whether the entry exists, is within its TTL, and its
// soft-invalidation predicate (if any) does not fire.
func (s *Store) IsFresh(e Entry) bool {
	age, ok := s.Age(e)
	if !ok || age > e.ttl() {
		return false
	}
	if e.Stale == nil {
		return true
	}
	records, err := s.Read(e)
	if err != nil {
		return false
	}
	return !e.Stale(records)
}

// Read parses the stored records of e. Header lines and malformed rows are
// skipped. Returns ErrNotCached if the entry was never written.
func (s *Store) Read(e Entry) ([]Record, error) {
	p, err := s.path(e.Name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotCached, e.Name)
		}
		return nil, fmt.Errorf("flatcache: reading %s: %w", p, err)
	}
	return parseRecords(data, len(e.Columns)), nil
}

// Write replaces the whole collection of e with records. The file is written
// to a temporary sibling and renamed into place.
func (s *Store) Write(e Entry, records []Record) error {
	p, err := s.path(e.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("flatcache: creating directory: %w", err)
	}

	var buf bytes.Buffer
	writeHeader(&buf, e, len(records), s.now())
	for _, r := range records {
		buf.WriteString(r.encode())
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(s.dir, e.Name+fileSuffix+".tmp-*")
	if err != nil {
		return fmt.Errorf("flatcache: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("flatcache: writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("flatcache: closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("flatcache: replacing %s: %w", p, err)
	}
	return nil
}

// Invalidate deletes the backing file of e. A missing file is not an error.
func (s *Store) Invalidate(e Entry) error {
	p, err := s.path(e.Name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("flatcache: removing %s: %w", p, err)
	}
	return nil
}

// InvalidateAll deletes every cache file in the store directory.
func (s *Store) InvalidateAll() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileSuffix))
	if err != nil {
		return fmt.Errorf("flatcache: listing %s: %w", s.dir, err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("flatcache: removing %s: %w", m, err)
		}
	}
	return nil
}

// path returns the backing file for an entry name.
// It rejects names that are empty, dot-segments, or contain path separators.
func (s *Store) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name+fileSuffix), nil
}

func writeHeader(buf *bytes.Buffer, e Entry, n int, now time.Time) {
	fmt.Fprintf(buf, "# gpufleet-cache v1 %s\n", e.Name)
	fmt.Fprintf(buf, "# columns: %s\n", strings.Join(e.Columns, fieldSep))
	fmt.Fprintf(buf, "# written: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(buf, "# records: %s\n", strconv.Itoa(n))
}

// parseRecords decodes data rows, skipping headers, blank lines, and rows
// whose field count differs from want. Lines have no length limit.
func parseRecords(data []byte, want int) []Record {
	var records []Record
	for raw := range bytes.Lines(data) {
		line := strings.TrimRight(string(raw), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, ok := decodeRecord(line)
		if !ok || len(r) != want {
			continue
		}
		records = append(records, r)
	}
	return records
}
