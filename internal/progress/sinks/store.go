package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/progress"
	"github.com/JakeFAU/activity-harvester/internal/store"
)

// StoreSink persists run history via a store.ProgressRepository. It collapses
// per-identifier events into per-credential deltas to reduce write
// amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies run lifecycle events in order and flushes the collapsed
// credential deltas. It respects ctx deadlines and returns repository errors.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			// Flush deltas first so a finished run never has stats arriving later.
			if err := s.flushStats(ctx, stats); err != nil {
				return err
			}
			if err := s.completeRun(ctx, runID, evt); err != nil {
				return err
			}
		default:
			recordCredentialStats(stats, runID, evt)
		}
	}
	return s.flushStats(ctx, stats)
}

func (s *StoreSink) completeRun(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.Note == context.Canceled.Error() {
			status = store.RunInterrupted
		}
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (s *StoreSink) flushStats(ctx context.Context, stats map[statsKey]*statsDelta) error {
	for key, delta := range stats {
		if delta.Empty() {
			continue
		}
		if err := s.repo.UpsertCredentialStats(ctx, key.runID, key.credential, delta.Delta, delta.at); err != nil {
			return fmt.Errorf("upsert credential stats: %w", err)
		}
		delete(stats, key)
	}
	return nil
}

func recordCredentialStats(stats map[statsKey]*statsDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Credential == "" {
		return
	}
	key := statsKey{runID: runID, credential: evt.Credential}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	switch evt.Stage {
	case progress.StageClassified:
		stat.Processed++
		switch evt.Classification {
		case "active":
			stat.Active++
		case "blacklisted":
			stat.Blacklisted++
		case "recently_inactive":
			stat.Inactive++
		}
	case progress.StageSkipped:
		stat.Skipped++
	case progress.StageFailed:
		stat.Failed++
	case progress.StageDeferred:
		stat.Deferred++
	}
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID      uuid.UUID
	credential string
}

type statsDelta struct {
	store.Delta
	at time.Time
}
