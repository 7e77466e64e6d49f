package state

import (
	"context"
	"time"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

// Backend persists classification sets. Append must be durable when it
// returns nil; Load must treat a missing source as empty sets.
type Backend interface {
	Load(ctx context.Context) (Sets, error)
	Append(ctx context.Context, id int64, c harvest.Classification) error
	Close() error
	// Name labels the backend in logs and metrics.
	Name() string
}

// Sets is the in-memory form of the three disjoint classification sets.
type Sets struct {
	Active           map[int64]time.Time
	Blacklisted      map[int64]struct{}
	RecentlyInactive map[int64]struct{}
}

// NewSets returns empty, non-nil sets.
func NewSets() Sets {
	return Sets{
		Active:           make(map[int64]time.Time),
		Blacklisted:      make(map[int64]struct{}),
		RecentlyInactive: make(map[int64]struct{}),
	}
}

// Put routes a classification into the matching set. Active entries replace
// any previous lastSeen.
func (s Sets) Put(id int64, c harvest.Classification) {
	switch c.Kind {
	case harvest.ClassActive:
		s.Active[id] = c.LastSeen
	case harvest.ClassBlacklisted:
		s.Blacklisted[id] = struct{}{}
	case harvest.ClassRecentlyInactive:
		s.RecentlyInactive[id] = struct{}{}
	}
}

// Kind returns which set holds id.
func (s Sets) Kind(id int64) harvest.ClassKind {
	if _, ok := s.Blacklisted[id]; ok {
		return harvest.ClassBlacklisted
	}
	if _, ok := s.Active[id]; ok {
		return harvest.ClassActive
	}
	if _, ok := s.RecentlyInactive[id]; ok {
		return harvest.ClassRecentlyInactive
	}
	return harvest.ClassUnclassified
}

// Sizes counts each set.
func (s Sets) Sizes() harvest.SetSizes {
	return harvest.SetSizes{
		Active:           len(s.Active),
		Blacklisted:      len(s.Blacklisted),
		RecentlyInactive: len(s.RecentlyInactive),
	}
}

// normalize removes ids found in more than one set. Blacklisted wins over
// active, and active wins over recently inactive.
func (s Sets) normalize() int {
	conflicts := 0
	for id := range s.Blacklisted {
		if _, ok := s.Active[id]; ok {
			delete(s.Active, id)
			conflicts++
		}
		if _, ok := s.RecentlyInactive[id]; ok {
			delete(s.RecentlyInactive, id)
			conflicts++
		}
	}
	for id := range s.Active {
		if _, ok := s.RecentlyInactive[id]; ok {
			delete(s.RecentlyInactive, id)
			conflicts++
		}
	}
	return conflicts
}
