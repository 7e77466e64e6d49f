package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const jitter = 50 * time.Millisecond

func TestSpacer_FirstPermitImmediate(t *testing.T) {
	t.Parallel()

	s := NewSpacer("alice", time.Second)
	start := time.Now()
	require.NoError(t, s.Wait(context.Background()))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSpacer_SpacesConsecutivePermits(t *testing.T) {
	t.Parallel()

	// 600 calls per minute = 100ms interval.
	s := NewSpacer("fast", time.Minute/600)
	ctx := context.Background()

	start := time.Now()
	for range 10 {
		require.NoError(t, s.Wait(ctx))
	}
	require.GreaterOrEqual(t, time.Since(start), 9*s.Interval()-jitter)
}

func TestSpacer_SixtyPerMinute(t *testing.T) {
	if testing.Short() {
		t.Skip("takes nine seconds")
	}
	t.Parallel()

	s := NewSpacer("slow", time.Minute/60)
	ctx := context.Background()

	start := time.Now()
	for range 10 {
		require.NoError(t, s.Wait(ctx))
	}
	require.GreaterOrEqual(t, time.Since(start), 9*time.Second-jitter)
}

func TestSpacer_IndependentCredentials(t *testing.T) {
	t.Parallel()

	a := NewSpacer("a", time.Second)
	b := NewSpacer("b", time.Second)
	ctx := context.Background()

	require.NoError(t, a.Wait(ctx))
	start := time.Now()
	require.NoError(t, b.Wait(ctx))
	require.Less(t, time.Since(start), 100*time.Millisecond, "credential b blocked by a")
}

func TestSpacer_ContextCancelled(t *testing.T) {
	t.Parallel()

	s := NewSpacer("cancel", time.Hour)
	require.NoError(t, s.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, s.Wait(ctx))
}

func TestSpacer_WaitsUntilDeadline(t *testing.T) {
	t.Parallel()

	s := NewSpacer("deadline", time.Hour)
	require.NoError(t, s.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond-jitter)
	require.Error(t, ctx.Err(), "Wait returned before the deadline passed")
}

func TestSpacer_CancelReturnsReservation(t *testing.T) {
	t.Parallel()

	s := NewSpacer("refund", 200*time.Millisecond)
	require.NoError(t, s.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	// The cancelled call did not consume a permit, so the next one comes one
	// interval after the first rather than two.
	start := time.Now()
	require.NoError(t, s.Wait(context.Background()))
	require.Less(t, time.Since(start), 200*time.Millisecond+jitter)
}

func TestSpacer_ZeroIntervalUnlimited(t *testing.T) {
	t.Parallel()

	s := NewSpacer("free", 0)
	start := time.Now()
	for range 100 {
		require.NoError(t, s.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
