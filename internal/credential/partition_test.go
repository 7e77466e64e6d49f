package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

func TestPartitionSizesAndOrder(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		length int
		k      int
	}{
		{0, 1}, {1, 1}, {4, 2}, {10, 3}, {2, 5}, {101, 7}, {1000, 1},
	} {
		ids := make([]int64, tc.length)
		for i := range ids {
			ids[i] = int64(i + 1)
		}
		shards, err := Partition(ids, fakeFetchers(tc.k))
		require.NoError(t, err)
		require.Len(t, shards, tc.k)

		var joined []int64
		for i, s := range shards {
			if i < tc.k-1 {
				require.Len(t, s.IDs, tc.length/tc.k)
			} else {
				require.GreaterOrEqual(t, len(s.IDs), tc.length/tc.k)
			}
			joined = append(joined, s.IDs...)
		}
		if tc.length == 0 {
			require.Empty(t, joined)
			continue
		}
		require.Equal(t, ids, joined)
	}
}

func TestPartitionShardsDoNotAlias(t *testing.T) {
	t.Parallel()

	ids := []int64{1, 2, 3, 4}
	shards, err := Partition(ids, fakeFetchers(2))
	require.NoError(t, err)
	_ = append(shards[0].IDs, 99)
	require.Equal(t, []int64{3, 4}, shards[1].IDs)
}

func TestPartitionEmptyPool(t *testing.T) {
	t.Parallel()

	_, err := Partition([]int64{1}, nil)
	require.ErrorIs(t, err, harvest.ErrConfiguration)
}

func TestPoolRejectsDuplicatesAndEmpty(t *testing.T) {
	t.Parallel()

	_, err := Pool(nil, &fakeGetter{}, "u/{id}", nil)
	require.ErrorIs(t, err, harvest.ErrConfiguration)

	dup := []Credential{
		{Token: "a", Owner: "alice", CallsPerMinute: 60},
		{Token: "b", Owner: "alice", CallsPerMinute: 60},
	}
	_, err = Pool(dup, &fakeGetter{}, "u/{id}", nil)
	require.ErrorIs(t, err, harvest.ErrConfiguration)

	fetchers, err := Pool([]Credential{
		{Token: "a", Owner: "alice", CallsPerMinute: 60},
		{Token: "b", Owner: "bob", CallsPerMinute: 100},
	}, &fakeGetter{}, "u/{id}?key={key}", nil)
	require.NoError(t, err)
	require.Equal(t, "alice", fetchers[0].Owner())
	require.Equal(t, "bob", fetchers[1].Owner())
}

type nopFetcher struct{ owner string }

func (f nopFetcher) Fetch(context.Context, int64) harvest.FetchOutcome { return harvest.Success(nil) }
func (f nopFetcher) Owner() string                                     { return f.owner }
func (f nopFetcher) Calls() int64                                      { return 0 }

func fakeFetchers(k int) []harvest.Fetcher {
	out := make([]harvest.Fetcher, k)
	for i := range out {
		out[i] = nopFetcher{owner: string(rune('a' + i))}
	}
	return out
}
