package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/activity-harvester/internal/progress"
	"github.com/JakeFAU/activity-harvester/internal/store"
)

// TestStoreSinkPersistsEvents ensures per-identifier events collapse per credential before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{
			RunID:          runID,
			Stage:          progress.StageClassified,
			Credential:     "alice",
			Identifier:     1,
			Classification: "active",
			TS:             now.Add(time.Second),
		},
		{
			RunID:          runID,
			Stage:          progress.StageClassified,
			Credential:     "alice",
			Identifier:     2,
			Classification: "blacklisted",
			Reason:         "no_timestamp",
			TS:             now.Add(2 * time.Second),
		},
		{RunID: runID, Stage: progress.StageSkipped, Credential: "alice", Identifier: 3, TS: now.Add(3 * time.Second)},
		{RunID: runID, Stage: progress.StageFailed, Credential: "bob", Identifier: 4, TS: now.Add(4 * time.Second)},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(5 * time.Second), Dur: 5 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunSuccess, repo.completes[0].status)
	require.Len(t, repo.stats, 2)

	byCredential := map[string]store.Delta{}
	for _, call := range repo.stats {
		require.Equal(t, runUUID, call.runID)
		byCredential[call.credential] = call.delta
	}
	require.Equal(t, store.Delta{Processed: 2, Active: 1, Blacklisted: 1, Skipped: 1}, byCredential["alice"])
	require.Equal(t, store.Delta{Failed: 1}, byCredential["bob"])
	require.Equal(t, 2, repo.statsBeforeComplete)
}

// TestStoreSinkMarksInterruptedRuns maps a cancellation note to the interrupted status.
func TestStoreSinkMarksInterruptedRuns(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunError, TS: time.Now(), Note: context.Canceled.Error()},
		{RunID: runID, Stage: progress.StageRunError, TS: time.Now(), Note: "disk full"},
	}))
	require.Len(t, repo.completes, 2)
	require.Equal(t, store.RunInterrupted, repo.completes[0].status)
	require.Equal(t, store.RunError, repo.completes[1].status)
	require.Equal(t, "disk full", *repo.completes[1].errMsg)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	errMsg *string
}

type statsCall struct {
	runID      uuid.UUID
	credential string
	delta      store.Delta
}

type fakeProgressRepo struct {
	fail                bool
	starts              []uuid.UUID
	completes           []completeCall
	stats               []statsCall
	statsBeforeComplete int
}

func (f *fakeProgressRepo) UpsertRunStart(_ context.Context, runID uuid.UUID, _ time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, runID)
	return nil
}

func (f *fakeProgressRepo) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("complete")
	}
	if len(f.completes) == 0 {
		f.statsBeforeComplete = len(f.stats)
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status, errMsg: errMsg})
	return nil
}

func (f *fakeProgressRepo) UpsertCredentialStats(
	_ context.Context,
	runID uuid.UUID,
	credential string,
	delta store.Delta,
	_ time.Time,
) error {
	if f.fail {
		return assertErr("stats")
	}
	f.stats = append(f.stats, statsCall{runID: runID, credential: credential, delta: delta})
	return nil
}

func (f *fakeProgressRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, assertErr("read")
}

func (f *fakeProgressRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, assertErr("list")
}

func (f *fakeProgressRepo) ListRunCredentials(context.Context, uuid.UUID, int, int) ([]store.CredentialStats, error) {
	return nil, assertErr("credentials")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
