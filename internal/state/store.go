// Package state owns the durable classification sets shared by every worker
// of a harvest run.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/metrics"
)

// Options tunes Store behavior.
type Options struct {
	// RefreshActive makes AlreadyClassified ignore the active set so active
	// identifiers are fetched again and their lastSeen refreshed.
	RefreshActive bool
}

// Store keeps the three sets in memory behind one mutex and persists every
// mutation through its Backend before applying it.
type Store struct {
	backend Backend
	opts    Options
	logger  *zap.Logger

	mu   sync.RWMutex
	sets Sets
}

// New constructs a Store. Call Load before the first run.
func New(backend Backend, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger,
		sets:    NewSets(),
	}
}

// Load replaces the in-memory sets with the backend's persisted state.
func (s *Store) Load(ctx context.Context) error {
	sets, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s state: %w", s.backend.Name(), err)
	}
	if sets.Active == nil || sets.Blacklisted == nil || sets.RecentlyInactive == nil {
		empty := NewSets()
		for id, ts := range sets.Active {
			empty.Active[id] = ts
		}
		for id := range sets.Blacklisted {
			empty.Blacklisted[id] = struct{}{}
		}
		for id := range sets.RecentlyInactive {
			empty.RecentlyInactive[id] = struct{}{}
		}
		sets = empty
	}
	if n := sets.normalize(); n > 0 {
		s.logger.Warn("identifiers found in more than one set; kept the strongest", zap.Int("conflicts", n))
	}

	s.mu.Lock()
	s.sets = sets
	sizes := sets.Sizes()
	s.mu.Unlock()

	s.publishSizes(sizes)
	s.logger.Info("state loaded",
		zap.String("backend", s.backend.Name()),
		zap.Int("active", sizes.Active),
		zap.Int("blacklisted", sizes.Blacklisted),
		zap.Int("recently_inactive", sizes.RecentlyInactive),
	)
	return nil
}

// AlreadyClassified reports whether id needs no network call this run.
func (s *Store) AlreadyClassified(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kind := s.sets.Kind(id)
	if kind == harvest.ClassActive && s.opts.RefreshActive {
		return false
	}
	return kind != harvest.ClassUnclassified
}

// Record persists c for id and then applies it in memory. An Active for an
// id that is already Active only overwrites lastSeen when it is fresher;
// otherwise the existing entry is kept and Record returns nil without
// writing. Every other transition out of a set is rejected with
// harvest.ErrAlreadyClassified.
func (s *Store) Record(ctx context.Context, id int64, c harvest.Classification) error {
	if c.Kind == harvest.ClassUnclassified {
		return fmt.Errorf("record %d: %w", id, harvest.ErrUnclassified)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.sets.Kind(id); current != harvest.ClassUnclassified {
		if current != harvest.ClassActive || c.Kind != harvest.ClassActive {
			return fmt.Errorf("record %d as %s: %w (currently %s)", id, c.Kind, harvest.ErrAlreadyClassified, current)
		}
		if !c.LastSeen.After(s.sets.Active[id]) {
			return nil
		}
	}
	if err := s.backend.Append(ctx, id, c); err != nil {
		metrics.ObservePersistError(s.backend.Name())
		return fmt.Errorf("%w: record %d in %s: %w", harvest.ErrPersistence, id, s.backend.Name(), err)
	}
	s.sets.Put(id, c)
	metrics.SetStateSize(setLabel(c.Kind), setLen(s.sets, c.Kind))
	return nil
}

// Kind returns the set currently holding id.
func (s *Store) Kind(id int64) harvest.ClassKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sets.Kind(id)
}

// LastSeen returns the recorded activity timestamp of an active identifier.
func (s *Store) LastSeen(id int64) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.sets.Active[id]
	return ts, ok
}

// Sizes returns the number of identifiers in each set.
func (s *Store) Sizes() harvest.SetSizes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sets.Sizes()
}

// Close releases the backend.
func (s *Store) Close() error {
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close %s state: %w", s.backend.Name(), err)
	}
	return nil
}

func (s *Store) publishSizes(sizes harvest.SetSizes) {
	metrics.SetStateSize(setLabel(harvest.ClassActive), sizes.Active)
	metrics.SetStateSize(setLabel(harvest.ClassBlacklisted), sizes.Blacklisted)
	metrics.SetStateSize(setLabel(harvest.ClassRecentlyInactive), sizes.RecentlyInactive)
}

func setLabel(kind harvest.ClassKind) string {
	return kind.String()
}

func setLen(sets Sets, kind harvest.ClassKind) int {
	switch kind {
	case harvest.ClassActive:
		return len(sets.Active)
	case harvest.ClassBlacklisted:
		return len(sets.Blacklisted)
	default:
		return len(sets.RecentlyInactive)
	}
}
