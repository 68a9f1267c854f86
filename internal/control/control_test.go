package control

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tools.zach/dev/cutpresence/internal/engine"
	"tools.zach/dev/cutpresence/internal/fcp"
	"tools.zach/dev/cutpresence/internal/metrics"
)

type fakeController struct {
	mu       sync.Mutex
	commands []string
	status   engine.Status
}

func (c *fakeController) record(cmd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
}

func (c *fakeController) Enable()  { c.record("enable") }
func (c *fakeController) Disable() { c.record("disable") }
func (c *fakeController) Refresh() { c.record("refresh") }

func (c *fakeController) Status() engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeController) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

func newTestServer(t *testing.T, ctrl Controller, opts ServerOptions) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(ctrl, opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func activeStatus() engine.Status {
	return engine.Status{
		Enabled:    true,
		Mode:       engine.ModeActive,
		Connection: engine.Connected,
		Details:    "Editing: A001_C003",
		State:      "Event: Day 1 • Library: Client Work",
		Snapshot:   &fcp.Snapshot{Library: "Client Work", Event: "Day 1", Project: "Teaser"},
		UpdatedAt:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t, &fakeController{}, ServerOptions{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestServer_Commands(t *testing.T) {
	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl, ServerOptions{})

	for _, cmd := range []string{"enable", "disable", "refresh"} {
		resp, err := http.Post(ts.URL+"/v1/"+cmd, "", nil)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.JSONEq(t, `{"accepted":"`+cmd+`"}`, string(body))
	}
	assert.Equal(t, []string{"enable", "disable", "refresh"}, ctrl.seen())
}

func TestServer_CommandsRequirePost(t *testing.T) {
	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl, ServerOptions{})

	resp, err := http.Get(ts.URL + "/v1/enable")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Empty(t, ctrl.seen())
}

func TestServer_RateLimit(t *testing.T) {
	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl, ServerOptions{RateLimitPerMinute: 2})

	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := http.Post(ts.URL+"/v1/refresh", "", nil)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
	assert.Len(t, ctrl.seen(), 2)

	// Reads are not limited.
	resp, err := http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	rec.Published(metrics.KindActive)
	ts := newTestServer(t, &fakeController{}, ServerOptions{Gatherer: reg})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `cutpresence_publishes_total{kind="active"} 1`)
}

func TestServer_ServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(&fakeController{}, ServerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	c := NewClient(ln.Addr().String())
	require.NoError(t, c.Health(context.Background()))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServer_ListenError(t *testing.T) {
	srv := NewServer(&fakeController{}, ServerOptions{Addr: "127.0.0.1:99999"})
	err := srv.ListenAndServe(context.Background())
	assert.ErrorContains(t, err, "control listen")
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

func TestClient_Status(t *testing.T) {
	ctrl := &fakeController{status: activeStatus()}
	ts := newTestServer(t, ctrl, ServerOptions{})

	st, err := NewClient(ts.URL).Status(context.Background())
	require.NoError(t, err)

	want := activeStatus()
	assert.Equal(t, want.Mode, st.Mode)
	assert.Equal(t, want.Connection, st.Connection)
	assert.Equal(t, want.Details, st.Details)
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, "Teaser", st.Snapshot.Project)
	assert.True(t, want.UpdatedAt.Equal(st.UpdatedAt))
}

func TestClient_Commands(t *testing.T) {
	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl, ServerOptions{})
	c := NewClient(strings.TrimPrefix(ts.URL, "http://"))
	ctx := context.Background()

	require.NoError(t, c.Enable(ctx))
	require.NoError(t, c.Disable(ctx))
	require.NoError(t, c.Refresh(ctx))

	assert.Equal(t, []string{"enable", "disable", "refresh"}, ctrl.seen())
}

func TestClient_RateLimitedNotRetried(t *testing.T) {
	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl, ServerOptions{RateLimitPerMinute: 1})
	c := NewClient(ts.URL)
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))

	start := time.Now()
	err := c.Refresh(ctx)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Contains(t, se.Error(), "rate_limit_exceeded")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	}))
	defer ts.Close()

	require.NoError(t, NewClient(ts.URL).Health(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestClient_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := NewClient(addr)
	c.http.RetryMax = 0
	err = c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestStatusError_Message(t *testing.T) {
	assert.Equal(t, "daemon returned 500", (&StatusError{Code: 500}).Error())
	assert.Equal(t, "daemon returned 404: nope", (&StatusError{Code: 404, Body: "nope"}).Error())
}
