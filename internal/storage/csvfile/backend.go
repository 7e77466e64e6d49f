package csvfile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/state"
)

// File names under Options.Dir, each preceded by Options.Prefix.
const (
	ActiveFile           = "active.csv"
	BlacklistFile        = "blacklist.csv"
	RecentlyInactiveFile = "recently_inactive.csv"
)

var (
	activeHeader = []string{"identifier", "last_seen_timestamp"}
	idHeader     = []string{"identifier"}
)

// Options configures the CSV backend.
type Options struct {
	Dir    string
	Prefix string
	// Fsync syncs every append to stable storage, not just the page cache.
	Fsync bool
}

var _ state.Backend = (*Backend)(nil)

// Backend stores each classification set in its own CSV file.
type Backend struct {
	opts      Options
	logger    *zap.Logger
	active    *appender
	blacklist *appender
	inactive  *appender
}

// New builds a Backend. Files are created on first append.
func New(opts Options, logger *zap.Logger) (*Backend, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("%w: state.dir is required", harvest.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{opts: opts, logger: logger}
	b.active = newAppender(b.path(ActiveFile), activeHeader, opts.Fsync)
	b.blacklist = newAppender(b.path(BlacklistFile), idHeader, opts.Fsync)
	b.inactive = newAppender(b.path(RecentlyInactiveFile), idHeader, opts.Fsync)
	return b, nil
}

// Paths lists the three state files in a stable order.
func (b *Backend) Paths() []string {
	return []string{b.active.path, b.blacklist.path, b.inactive.path}
}

// Load reads all three files. Headerless files and legacy headers are
// accepted; rows that do not parse are skipped and counted in the log.
// Later active rows win, so a refreshed lastSeen survives a reload.
func (b *Backend) Load(context.Context) (state.Sets, error) {
	sets := state.NewSets()

	skippedActive, err := readRows(b.active.path, func(_ int, record []string) {
		if len(record) < 2 {
			return
		}
		id, ok := parseID(record[0])
		if !ok {
			return
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
		if err != nil || ts <= 0 {
			return
		}
		sets.Active[id] = time.Unix(ts, 0).UTC()
	})
	if err != nil {
		return sets, err
	}
	skippedBlack, err := readRows(b.blacklist.path, collectIDs(sets.Blacklisted))
	if err != nil {
		return sets, err
	}
	skippedInactive, err := readRows(b.inactive.path, collectIDs(sets.RecentlyInactive))
	if err != nil {
		return sets, err
	}

	if skipped := skippedActive + skippedBlack + skippedInactive; skipped > 0 {
		b.logger.Warn("skipped unreadable state rows", zap.Int("rows", skipped), zap.String("dir", b.opts.Dir))
	}
	return sets, nil
}

func collectIDs(into map[int64]struct{}) func(int, []string) {
	return func(_ int, record []string) {
		if len(record) == 0 {
			return
		}
		if id, ok := parseID(record[0]); ok {
			into[id] = struct{}{}
		}
	}
}

// Append writes one row to the file matching c and flushes it.
func (b *Backend) Append(_ context.Context, id int64, c harvest.Classification) error {
	idField := strconv.FormatInt(id, 10)
	switch c.Kind {
	case harvest.ClassActive:
		return b.active.write([]string{idField, strconv.FormatInt(c.LastSeen.Unix(), 10)})
	case harvest.ClassBlacklisted:
		return b.blacklist.write([]string{idField})
	case harvest.ClassRecentlyInactive:
		return b.inactive.write([]string{idField})
	default:
		return harvest.ErrUnclassified
	}
}

// Close flushes and closes any open files.
func (b *Backend) Close() error {
	return errors.Join(b.active.close(), b.blacklist.close(), b.inactive.close())
}

// Name implements state.Backend.
func (b *Backend) Name() string {
	return "csv"
}

func (b *Backend) path(name string) string {
	return filepath.Join(b.opts.Dir, b.opts.Prefix+name)
}
