package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/activity-harvester/internal/progress"
	"github.com/JakeFAU/activity-harvester/internal/publisher/memory"
)

// TestPubSubSinkPublishesSelectedKinds ensures only chosen classifications and run completion go out.
func TestPubSubSinkPublishesSelectedKinds(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPubSubSink(pub, nil, nil)
	runID := progress.UUIDToBytes(uuid.New())
	seen := time.Unix(1_700_000_000, 0).UTC()

	batch := []progress.Event{
		{RunID: runID, TS: seen, Stage: progress.StageRunStart},
		{
			RunID:          runID,
			TS:             seen,
			Stage:          progress.StageClassified,
			Credential:     "alice",
			Identifier:     1,
			Classification: "active",
			LastSeen:       seen,
		},
		{
			RunID:          runID,
			TS:             seen,
			Stage:          progress.StageClassified,
			Credential:     "alice",
			Identifier:     2,
			Classification: "blacklisted",
		},
		{RunID: runID, TS: seen, Stage: progress.StageSkipped, Credential: "alice", Identifier: 3},
		{RunID: runID, TS: seen, Stage: progress.StageRunDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	first, ok := msgs[0].Payload.(ClassificationMessage)
	require.True(t, ok)
	require.Equal(t, int64(1), first.Identifier)
	require.Equal(t, seen.Unix(), first.LastSeen)
	require.Equal(t, "active", msgs[0].Attributes["classification"])
	require.Equal(t, string(progress.StageRunDone), msgs[1].Attributes["stage"])
}

// TestPubSubSinkReturnsPublishErrors surfaces publisher failures to the hub.
func TestPubSubSinkReturnsPublishErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	sink := NewPubSubSink(pub, []string{"active", "recently_inactive"}, nil)

	err := sink.Consume(context.Background(), []progress.Event{{
		RunID:          progress.UUIDToBytes(uuid.New()),
		TS:             time.Now(),
		Stage:          progress.StageClassified,
		Credential:     "bob",
		Identifier:     9,
		Classification: "recently_inactive",
	}})
	require.ErrorContains(t, err, "unavailable")
}
