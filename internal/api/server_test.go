package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestServer() (*Server, *Tracker) {
	metrics.Init()
	tracker := NewTracker(&fakeClock{now: time.Unix(100, 0).UTC()})
	return NewServer(tracker, zap.NewNop()), tracker
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerStatusFollowsTracker(t *testing.T) {
	t.Parallel()

	server, tracker := newTestServer()

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var idle Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &idle))
	require.Equal(t, harvest.StageIdle, idle.Stage)
	require.False(t, idle.Terminal)

	tracker.Observe("run-1", harvest.StageAuthenticating)
	tracker.Observe("run-1", harvest.StageProbing)
	tracker.Observe("run-1", harvest.StageCompleted)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var done Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	require.Equal(t, "run-1", done.RunID)
	require.Equal(t, harvest.StageCompleted, done.Stage)
	require.True(t, done.Terminal)
	require.Len(t, done.History, 3)
	require.Equal(t, harvest.StageProbing, done.History[1].Stage)
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	server.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "harvester_http_requests_total")
}

func TestServerUnknownRoute(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDownWithContext(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	addr, errs, err := server.Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err, ok := <-errs:
		require.False(t, ok, "unexpected serve error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestTrackerSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(&fakeClock{})
	tracker.Observe("run-2", harvest.StageEnumerating)
	snap := tracker.Snapshot()
	snap.History[0].Stage = harvest.StageFailed
	require.Equal(t, harvest.StageEnumerating, tracker.Snapshot().History[0].Stage)
}
