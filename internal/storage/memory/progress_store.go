package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/activity-harvester/internal/store"
)

// ProgressStore implements store.ProgressRepository in memory so run history
// is browsable without Postgres.
type ProgressStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.Run
	stats map[uuid.UUID]map[string]store.CredentialStats
}

// NewProgressStore constructs a ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		runs:  make(map[uuid.UUID]store.Run),
		stats: make(map[uuid.UUID]map[string]store.CredentialStats),
	}
}

// UpsertRunStart marks the run as running.
func (s *ProgressStore) UpsertRunStart(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, StartedAt: startedAt.UTC()}
	}
	run.Status = store.RunRunning
	s.runs[runID] = run
	return nil
}

// CompleteRun records the final status.
func (s *ProgressStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	finished := finishedAt.UTC()
	run.FinishedAt = &finished
	run.Status = status
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// UpsertCredentialStats adds delta to the credential's aggregate.
func (s *ProgressStore) UpsertCredentialStats(
	_ context.Context,
	runID uuid.UUID,
	credential string,
	delta store.Delta,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCred := s.stats[runID]
	if byCred == nil {
		byCred = make(map[string]store.CredentialStats)
		s.stats[runID] = byCred
	}
	stat := byCred[credential]
	stat.RunID = runID
	stat.Credential = credential
	stat.Processed += delta.Processed
	stat.Active += delta.Active
	stat.Blacklisted += delta.Blacklisted
	stat.Inactive += delta.Inactive
	stat.Skipped += delta.Skipped
	stat.Failed += delta.Failed
	stat.Deferred += delta.Deferred
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at.UTC()
	}
	byCred[credential] = stat
	return nil
}

// GetRun fetches a run by ID.
func (s *ProgressStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *ProgressStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return page(runs, limit, offset), nil
}

// ListRunCredentials returns per-credential aggregates ordered by owner.
func (s *ProgressStore) ListRunCredentials(
	_ context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.CredentialStats, error) {
	s.mu.RLock()
	out := make([]store.CredentialStats, 0, len(s.stats[runID]))
	for _, stat := range s.stats[runID] {
		out = append(out, stat)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Credential < out[j].Credential })
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
