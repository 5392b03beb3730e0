package announce

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/smileynet/gpufleet/internal/fetcher"
)

// StateActive is the only lifecycle state indexed into a Lookup.
const StateActive = "ACTIVE"

// DetailFetcher returns the raw detail payload of one announcement.
// Satisfied by *oci.Client.
type DetailFetcher interface {
	GetAnnouncement(ctx context.Context, id string) ([]byte, error)
}

// Summary is one listed announcement.
type Summary struct {
	ID     string
	State  string
	Ticket string
}

// Stats counts what one Build did.
type Stats struct {
	Listed  int // unique ids listed
	Fetched int // details fetched this pass
	Skipped int // details already on disk
	Failed  int // detail fetches or parses that failed
	Active  int // ACTIVE announcements indexed
}

// Builder fetches announcement details into a directory and indexes them.
type Builder struct {
	details DetailFetcher
	dir     string
	exec    *fetcher.Executor
	log     *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithExecutor sets the pool used for detail fetches.
func WithExecutor(e *fetcher.Executor) Option {
	return func(b *Builder) {
		if e != nil {
			b.exec = e
		}
	}
}

// WithLogger sets the logger for failed details.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBuilder creates a Builder storing details as <dir>/<id>.json.
func NewBuilder(details DetailFetcher, dir string, opts ...Option) *Builder {
	b := &Builder{
		details: details,
		dir:     dir,
		exec:    fetcher.NewExecutor(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dir returns the detail directory.
func (b *Builder) Dir() string { return b.dir }

// Build fetches the detail of every listed announcement that has no
// non-empty detail file yet, then indexes the ACTIVE ones. Failed fetches
// and unparsable details are logged and skipped. Unparsable detail files are
// removed so the next Build refetches them. The error is non-nil only when
// the detail directory cannot be used.
func (b *Builder) Build(ctx context.Context, summaries []Summary) (Lookup, Stats, error) {
	var st Stats
	lookup := NewLookup()

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return lookup, st, fmt.Errorf("announce: creating detail dir: %w", err)
	}

	unique := make([]Summary, 0, len(summaries))
	seen := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		if seen[s.ID] || !validID(s.ID) {
			continue
		}
		seen[s.ID] = true
		unique = append(unique, s)
	}
	st.Listed = len(unique)

	var missing []string
	for _, s := range unique {
		if b.hasDetail(s.ID) {
			st.Skipped++
			continue
		}
		missing = append(missing, s.ID)
	}

	res := fetcher.Run(ctx, b.exec, missing, func(ctx context.Context, id string) ([]string, error) {
		raw, err := b.details.GetAnnouncement(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := b.writeDetail(id, raw); err != nil {
			return nil, err
		}
		return []string{id}, nil
	})
	st.Fetched = len(res.Items)
	st.Failed = len(res.Failed)
	for id, err := range res.Failed {
		b.log.Warn("announcement detail fetch failed", zap.String("id", id), zap.Error(err))
	}

	for _, s := range unique {
		if _, failed := res.Failed[s.ID]; failed {
			continue
		}
		raw, err := os.ReadFile(b.path(s.ID))
		if err != nil {
			st.Failed++
			b.log.Warn("announcement detail unreadable", zap.String("id", s.ID), zap.Error(err))
			continue
		}
		a, err := ParseDetail(raw)
		if err != nil {
			st.Failed++
			b.log.Warn("announcement detail unparsable", zap.String("id", s.ID), zap.Error(err))
			if err := os.Remove(b.path(s.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
				b.log.Warn("announcement detail not removed", zap.String("id", s.ID), zap.Error(err))
			}
			continue
		}
		// The list is refreshed on a TTL; detail files never are.
		state := s.State
		if state == "" {
			state = a.State
		}
		if state != StateActive {
			continue
		}
		if a.ID == "" {
			a.ID = s.ID
		}
		a.State = state
		if a.Ticket == "" {
			a.Ticket = s.Ticket
			a.ShortTicket = ShortTicket(s.Ticket)
		}
		lookup.Index(a)
		st.Active++
	}
	return lookup, st, nil
}

// ClearDetails removes every stored detail.
func (b *Builder) ClearDetails() error {
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("announce: clearing details: %w", err)
	}
	return nil
}

func (b *Builder) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

func (b *Builder) hasDetail(id string) bool {
	info, err := os.Stat(b.path(id))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// writeDetail stores raw under the id via a temp file and rename.
func (b *Builder) writeDetail(id string, raw []byte) error {
	if len(raw) == 0 {
		return ErrEmptyDetail
	}
	tmp, err := os.CreateTemp(b.dir, id+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("announce: writing detail %s: %w", id, err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("announce: writing detail %s: %w", id, err)
	}
	if err := os.Rename(tmpName, b.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("announce: writing detail %s: %w", id, err)
	}
	return nil
}

// validID rejects ids that cannot be used as a file name.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && id == filepath.Base(id)
}
