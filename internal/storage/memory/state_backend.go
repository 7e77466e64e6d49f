// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/state"
)

// StateBackend keeps classification sets in process memory. Nothing survives
// a restart.
type StateBackend struct {
	mu      sync.RWMutex
	sets    state.Sets
	appends int
	err     error
}

// NewStateBackend constructs an empty StateBackend.
func NewStateBackend() *StateBackend {
	return &StateBackend{sets: state.NewSets()}
}

// Seed preloads a classification as if a previous run had recorded it.
func (b *StateBackend) Seed(id int64, c harvest.Classification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sets.Put(id, c)
}

// FailAppends makes subsequent Append calls return err; nil restores them.
func (b *StateBackend) FailAppends(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Load returns a copy of the stored sets.
func (b *StateBackend) Load(context.Context) (state.Sets, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := state.NewSets()
	for id, ts := range b.sets.Active {
		out.Active[id] = ts
	}
	for id := range b.sets.Blacklisted {
		out.Blacklisted[id] = struct{}{}
	}
	for id := range b.sets.RecentlyInactive {
		out.RecentlyInactive[id] = struct{}{}
	}
	return out, nil
}

// Append stores one classification.
func (b *StateBackend) Append(_ context.Context, id int64, c harvest.Classification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sets.Put(id, c)
	b.appends++
	return nil
}

// Appends returns how many writes succeeded.
func (b *StateBackend) Appends() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.appends
}

// Close implements state.Backend; it performs no action.
func (b *StateBackend) Close() error {
	return nil
}

// Name implements state.Backend.
func (b *StateBackend) Name() string {
	return "memory"
}
