package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/clock/system"
	"github.com/JakeFAU/activity-harvester/internal/config"
	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/storage/memory"
	"github.com/JakeFAU/activity-harvester/internal/store"
)

func TestServer_Progress_ReturnsCountersAndSets(t *testing.T) {
	t.Parallel()

	monitor := &fakeMonitor{counters: harvest.Counters{Processed: 4, Active: 1, Blacklisted: 2, Inactive: 1}}
	sizes := fakeSizes{Active: 10, Blacklisted: 5, RecentlyInactive: 3}
	server := NewServer(monitor, sizes, nil, system.NewFixed(time.Unix(100, 0)), config.ServerConfig{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, monitor.counters, body.Counters)
	require.NotNil(t, body.Sets)
	require.Equal(t, 18, body.Sets.Total())
	require.Equal(t, time.Unix(100, 0).UTC(), body.AsOf)
}

func TestServer_Progress_UnavailableWithoutMonitor(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, nil, config.ServerConfig{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Workers(t *testing.T) {
	t.Parallel()

	monitor := &fakeMonitor{workers: []harvest.WorkerStatus{
		{Owner: "alice", ShardSize: 3, Position: 2, Calls: 2},
		{Owner: "bob", ShardSize: 3, Position: 3, Calls: 1, Done: true},
	}}
	server := NewServer(monitor, fakeSizes{}, nil, nil, config.ServerConfig{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Workers []harvest.WorkerStatus `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, monitor.workers, body.Workers)
}

func TestServer_RunHistoryRoutes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewProgressStore()
	runID := uuid.New()
	started := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, repo.UpsertRunStart(ctx, runID, started))
	require.NoError(t, repo.UpsertCredentialStats(ctx, runID, "alice", store.Delta{Processed: 2, Active: 1, Skipped: 1}, started))
	require.NoError(t, repo.CompleteRun(ctx, runID, started.Add(time.Minute), store.RunSuccess, nil))

	server := NewServer(&fakeMonitor{}, fakeSizes{}, repo, nil, config.ServerConfig{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?status=success", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, runID, list.Runs[0].ID)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		Run store.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.Equal(t, store.RunSuccess, one.Run.Status)
	require.NotNil(t, one.Run.FinishedAt)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/credentials", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var creds struct {
		Credentials []store.CredentialStats `json:"credentials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &creds))
	require.Len(t, creds.Credentials, 1)
	require.Equal(t, "alice", creds.Credentials[0].Credential)
	require.Equal(t, int64(2), creds.Credentials[0].Processed)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunHistoryUnavailable(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeMonitor{}, fakeSizes{}, nil, nil, config.ServerConfig{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeMonitor{}, fakeSizes{}, nil, nil, config.ServerConfig{APIKey: "secret"}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workers?api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeMonitor{}, fakeSizes{}, nil, nil, config.ServerConfig{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeMonitor{}, fakeSizes{}, nil, nil, config.ServerConfig{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	NewServer(nil, nil, nil, nil, config.ServerConfig{}, nil).Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakeMonitor struct {
	counters harvest.Counters
	workers  []harvest.WorkerStatus
}

func (m *fakeMonitor) Snapshot() harvest.Counters { return m.counters }
func (m *fakeMonitor) Workers() []harvest.WorkerStatus { return m.workers }

type fakeSizes harvest.SetSizes

func (s fakeSizes) Sizes() harvest.SetSizes { return harvest.SetSizes(s) }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
