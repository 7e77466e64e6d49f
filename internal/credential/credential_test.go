package credential

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

func TestCredentialMinInterval(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, Credential{CallsPerMinute: 60}.MinInterval())
	require.Equal(t, 600*time.Millisecond, Credential{CallsPerMinute: 100}.MinInterval())
	require.Zero(t, Credential{}.MinInterval())
}

func TestCredentialValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Credential{Token: "t", Owner: "alice", CallsPerMinute: 60}.Validate())
	for _, c := range []Credential{
		{Owner: "alice", CallsPerMinute: 60},
		{Token: "t", CallsPerMinute: 60},
		{Token: "t", Owner: "alice"},
	} {
		require.ErrorIs(t, c.Validate(), harvest.ErrConfiguration)
	}
	require.NotContains(t, Credential{Token: "secret", Owner: "alice", CallsPerMinute: 60}.String(), "secret")
}

func TestLimitedMapsOutcomes(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: map[string]fakeResponse{
		"https://api.test/user/1?key=tok": {resp: harvest.Response{StatusCode: 200, Body: []byte(`{"a":1}`)}},
		"https://api.test/user/2?key=tok": {resp: harvest.Response{StatusCode: 500}},
		"https://api.test/user/3?key=tok": {err: errors.New("dial tcp: i/o timeout")},
		"https://api.test/user/4?key=tok": {resp: harvest.Response{StatusCode: 200, Body: []byte(`<html>`)}},
	}}
	l, err := NewLimited(
		Credential{Token: "tok", Owner: "alice", CallsPerMinute: 60_000},
		getter,
		"https://api.test/user/{id}?key={key}",
		nil,
	)
	require.NoError(t, err)
	ctx := context.Background()

	ok := l.Fetch(ctx, 1)
	require.Equal(t, harvest.OutcomeSuccess, ok.Kind)
	require.Contains(t, ok.Payload, "a")

	httpErr := l.Fetch(ctx, 2)
	require.Equal(t, harvest.OutcomeHTTPError, httpErr.Kind)
	require.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)

	require.Equal(t, harvest.OutcomeTimeout, l.Fetch(ctx, 3).Kind)
	require.Equal(t, harvest.OutcomeUnparseable, l.Fetch(ctx, 4).Kind)
	require.Equal(t, int64(4), l.Calls())
	require.Equal(t, "alice", l.Owner())
}

func TestLimitedCancelledWaitIsTimeout(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{}
	l, err := NewLimited(Credential{Token: "tok", Owner: "slow", CallsPerMinute: 1}, getter, "u/{id}", nil)
	require.NoError(t, err)

	_ = l.Fetch(context.Background(), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	out := l.Fetch(ctx, 2)
	require.Equal(t, harvest.OutcomeTimeout, out.Kind)
	require.ErrorIs(t, out.Err, context.DeadlineExceeded)
	require.Error(t, ctx.Err(), "a permit past the deadline is waited out, not refused early")
	require.Equal(t, int64(1), l.Calls())
}

func TestLimitedSpacesCalls(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{}
	l, err := NewLimited(Credential{Token: "tok", Owner: "fast", CallsPerMinute: 600}, getter, "u/{id}", nil)
	require.NoError(t, err)

	start := time.Now()
	for id := int64(1); id <= 10; id++ {
		l.Fetch(context.Background(), id)
	}
	require.GreaterOrEqual(t, time.Since(start), 9*100*time.Millisecond-50*time.Millisecond)
}

func TestLimitedSixtyPerMinute(t *testing.T) {
	if testing.Short() {
		t.Skip("takes nine seconds")
	}
	t.Parallel()

	getter := &fakeGetter{}
	l, err := NewLimited(Credential{Token: "tok", Owner: "sixty", CallsPerMinute: 60}, getter, "u/{id}", nil)
	require.NoError(t, err)

	start := time.Now()
	for id := int64(1); id <= 10; id++ {
		l.Fetch(context.Background(), id)
	}
	require.GreaterOrEqual(t, time.Since(start), 9*time.Second-50*time.Millisecond)
}

func TestNewLimitedRejectsBadTemplate(t *testing.T) {
	t.Parallel()

	_, err := NewLimited(Credential{Token: "t", Owner: "o", CallsPerMinute: 1}, &fakeGetter{}, "https://api.test/user", nil)
	require.ErrorIs(t, err, harvest.ErrConfiguration)
}

type fakeResponse struct {
	resp harvest.Response
	err  error
}

type fakeGetter struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	urls      []string
}

func (g *fakeGetter) Get(_ context.Context, url string) (harvest.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.urls = append(g.urls, url)
	r, ok := g.responses[url]
	if !ok {
		return harvest.Response{StatusCode: 200, Body: []byte(`{}`)}, nil
	}
	return r.resp, r.err
}
