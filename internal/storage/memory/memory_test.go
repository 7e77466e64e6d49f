package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/store"
)

func TestStateBackendRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewStateBackend()
	b.Seed(42, harvest.Blacklisted(harvest.ReasonTimeout))
	require.NoError(t, b.Append(ctx, 1, harvest.Active(time.Unix(100, 0))))
	require.NoError(t, b.Append(ctx, 2, harvest.RecentlyInactive()))

	sets, err := b.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, sets.Blacklisted, int64(42))
	require.Equal(t, time.Unix(100, 0).UTC(), sets.Active[1])
	require.Contains(t, sets.RecentlyInactive, int64(2))
	require.Equal(t, 2, b.Appends())

	sets.Active[99] = time.Now()
	again, err := b.Load(ctx)
	require.NoError(t, err)
	require.NotContains(t, again.Active, int64(99), "Load must return a copy")

	b.FailAppends(errors.New("disk full"))
	require.Error(t, b.Append(ctx, 3, harvest.RecentlyInactive()))
	require.Equal(t, 2, b.Appends())
}

func TestListingStore(t *testing.T) {
	t.Parallel()

	s := NewListingStore()
	require.NoError(t, s.AppendListings(context.Background(), 7, []harvest.Listing{
		{ItemName: "A", UnitPrice: 1, Quantity: 2},
		{ItemName: "B", UnitPrice: 3, Quantity: 4},
	}))
	rows := s.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, int64(7), rows[1].SellerID)
	require.Equal(t, "B", rows[1].ItemName)

	s.FailWith(errors.New("nope"))
	require.Error(t, s.AppendListings(context.Background(), 8, []harvest.Listing{{ItemName: "C"}}))
}

func TestProgressStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewProgressStore()
	older, newer := uuid.New(), uuid.New()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.UpsertRunStart(ctx, older, base))
	require.NoError(t, s.UpsertRunStart(ctx, newer, base.Add(time.Hour)))
	require.NoError(t, s.UpsertCredentialStats(ctx, newer, "bob", store.Delta{Processed: 1, Active: 1}, base))
	require.NoError(t, s.UpsertCredentialStats(ctx, newer, "alice", store.Delta{Skipped: 2}, base))
	require.NoError(t, s.UpsertCredentialStats(ctx, newer, "bob", store.Delta{Processed: 2, Blacklisted: 2}, base.Add(time.Minute)))
	require.NoError(t, s.CompleteRun(ctx, older, base.Add(time.Minute), store.RunSuccess, nil))
	require.ErrorIs(t, s.CompleteRun(ctx, uuid.New(), base, store.RunError, nil), store.ErrNotFound)

	runs, err := s.ListRuns(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, newer, runs[0].ID)

	running := store.RunRunning
	runs, err = s.ListRuns(ctx, &running, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run, err := s.GetRun(ctx, older)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)

	_, err = s.GetRun(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)

	creds, err := s.ListRunCredentials(ctx, newer, 0, 0)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	require.Equal(t, "alice", creds[0].Credential)
	require.Equal(t, int64(3), creds[1].Processed)
	require.Equal(t, int64(2), creds[1].Blacklisted)

	empty, err := s.ListRunCredentials(ctx, newer, 10, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}
