package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/events-monitor/internal/metrics"
	"github.com/pfrederiksen/events-monitor/internal/notifier"
	"github.com/pfrederiksen/events-monitor/internal/pipeline"
)

func newTestServer(t *testing.T, tracker *Tracker, next NextRunFunc) (*httptest.Server, *metrics.PrometheusSink) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg)
	ts := httptest.NewServer(New(tracker, reg, next).Handler())
	t.Cleanup(ts.Close)
	return ts, sink
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, NewTracker(), nil)

	code, body := get(t, ts.URL+"/healthz")

	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestStatus(t *testing.T) {
	tracker := NewTracker()
	started := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	tracker.Record(&pipeline.Outcome{
		RunID:     "run-b",
		Source:    "burlington",
		Kind:      pipeline.CompletedNoChange,
		Extracted: 4,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	})
	tracker.Record(&pipeline.Outcome{
		RunID:    "run-a",
		Source:   "north",
		Kind:     pipeline.CompletedWithNewEvents,
		NewCount: 2,
		Summary: notifier.Summary{Results: []notifier.ChannelResult{
			{Channel: "email", Status: notifier.Failed, Err: errors.New("smtp down")},
			{Channel: "webhook", Status: notifier.Delivered},
		}},
		StartedAt: started,
	})

	next := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	ts, _ := newTestServer(t, tracker, func() time.Time { return next })

	code, body := get(t, ts.URL+"/status")
	require.Equal(t, http.StatusOK, code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	assert.Equal(t, "degraded", resp.Status)
	require.NotNil(t, resp.NextRun)
	assert.True(t, resp.NextRun.Equal(next))
	require.Len(t, resp.Sources, 2)

	assert.Equal(t, "burlington", resp.Sources[0].Source)
	assert.Equal(t, "completed_no_change", resp.Sources[0].Outcome)
	assert.Equal(t, int64(1500), resp.Sources[0].DurationMs)

	north := resp.Sources[1]
	assert.Equal(t, "completed_with_new_events", north.Outcome)
	assert.Equal(t, 2, north.NewCount)
	assert.True(t, north.Degraded)
	require.Len(t, north.Channels, 2)
	assert.Equal(t, "failed", north.Channels[0].Status)
	assert.Equal(t, "smtp down", north.Channels[0].Error)
}

func TestStatus_Empty(t *testing.T) {
	ts, _ := newTestServer(t, NewTracker(), nil)

	code, body := get(t, ts.URL+"/status")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"sources":[]`)
	assert.NotContains(t, body, "next_run")
}

func TestTracker_KeepsLatestPerSource(t *testing.T) {
	tracker := NewTracker()
	tracker.Record(&pipeline.Outcome{RunID: "1", Source: "north", Kind: pipeline.CompletedFirstRun})
	tracker.Record(&pipeline.Outcome{RunID: "2", Source: "north", Kind: pipeline.Aborted, Reason: pipeline.FetchExhausted, Err: errors.New("503")})

	last := tracker.Last()
	require.Len(t, last, 1)
	assert.Equal(t, "2", last[0].RunID)
	assert.Equal(t, "fetch_exhausted", last[0].Reason)
	assert.Equal(t, "503", last[0].Error)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, sink := newTestServer(t, NewTracker(), nil)
	sink.RunCompleted("north", "completed_no_change", time.Second)

	code, body := get(t, ts.URL+"/metrics")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `events_monitor_runs_total{outcome="completed_no_change",source="north"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	ts, _ := newTestServer(t, NewTracker(), nil)

	code, _ := get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	s := New(NewTracker(), prometheus.NewRegistry(), nil)

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenAndServe_BadAddress(t *testing.T) {
	s := New(NewTracker(), prometheus.NewRegistry(), nil)
	err := s.ListenAndServe(context.Background(), "256.0.0.1:bad")
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "Server closed"))
}
