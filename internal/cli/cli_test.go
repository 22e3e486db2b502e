package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/events-monitor/internal/config"
	"github.com/pfrederiksen/events-monitor/internal/crypto"
	"github.com/pfrederiksen/events-monitor/internal/notifier"
	"github.com/pfrederiksen/events-monitor/internal/pipeline"
)

func TestExitCode(t *testing.T) {
	degraded := &pipeline.Outcome{Kind: pipeline.CompletedWithNewEvents, PersistenceFailed: true}
	newEvents := &pipeline.Outcome{Kind: pipeline.CompletedWithNewEvents, NewCount: 1}
	noChange := &pipeline.Outcome{Kind: pipeline.CompletedNoChange}
	firstRun := &pipeline.Outcome{Kind: pipeline.CompletedFirstRun}
	aborted := &pipeline.Outcome{Kind: pipeline.Aborted, Reason: pipeline.FetchExhausted}
	channelFailed := &pipeline.Outcome{
		Kind:    pipeline.CompletedWithNewEvents,
		Summary: notifier.Summary{Results: []notifier.ChannelResult{{Channel: "webhook", Status: notifier.Failed}}},
	}

	tests := []struct {
		name     string
		outcomes []*pipeline.Outcome
		want     int
	}{
		{"none", nil, ExitNoChange},
		{"no change", []*pipeline.Outcome{noChange}, ExitNoChange},
		{"first run", []*pipeline.Outcome{firstRun}, ExitNoChange},
		{"new events", []*pipeline.Outcome{noChange, newEvents}, ExitNewEvents},
		{"persist failed", []*pipeline.Outcome{degraded}, ExitDegraded},
		{"channel failed", []*pipeline.Outcome{channelFailed}, ExitDegraded},
		{"degraded beats new", []*pipeline.Outcome{newEvents, degraded, newEvents}, ExitDegraded},
		{"aborted beats all", []*pipeline.Outcome{degraded, aborted, newEvents}, ExitAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.outcomes))
		})
	}
}

// execute runs the root command and returns exit code, stdout and stderr
func execute(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	code := run(context.Background(), cmd)
	return code, stdout.String(), stderr.String()
}

func TestEncryptSecret(t *testing.T) {
	code, out, _ := execute(t, "", "encrypt-secret", "--key", "passphrase", "hunter2")
	require.Equal(t, ExitNoChange, code)

	secret := strings.TrimSpace(out)
	assert.True(t, crypto.IsSecret(secret))

	plain, err := crypto.NewEncryptor("passphrase").DecryptSecret(secret)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestEncryptSecret_Stdin(t *testing.T) {
	t.Setenv(config.SecretKeyEnv, "from-env")

	code, out, _ := execute(t, "smtp-password\n", "encrypt-secret")
	require.Equal(t, ExitNoChange, code)

	plain, err := crypto.NewEncryptor("from-env").DecryptSecret(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "smtp-password", plain)
}

func TestEncryptSecret_Errors(t *testing.T) {
	t.Setenv(config.SecretKeyEnv, "")

	code, _, stderr := execute(t, "", "encrypt-secret", "value")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "no passphrase")

	code, _, stderr = execute(t, "", "encrypt-secret", "--key", "k")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "empty secret")
}

// listingServer serves an events page whose items can be changed between checks
type listingServer struct {
	mu    sync.Mutex
	items []string
}

func (s *listingServer) set(items ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

func (s *listingServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<title>Events</title>\n<!-- ")
	b.WriteString(strings.Repeat("layout padding ", 40))
	b.WriteString("-->\n</head>\n<body>\n<h1>Upcoming events</h1>\n")
	b.WriteString(`<ul aria-label="Upcoming events">` + "\n")
	for _, item := range s.items {
		fmt.Fprintf(&b, "<li><h3>%s</h3><time>March 14, 2026</time></li>\n", item)
	}
	b.WriteString("</ul>\n</body>\n</html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

// writeConfig writes a config for one file-backed source; sourceExtra is
// appended to the source entry
func writeConfig(t *testing.T, url string, sourceExtra ...string) string {
	t.Helper()
	return writeConfigWith(t, url, strings.Join(sourceExtra, "\n"), "")
}

// writeConfigWith is writeConfig with extra top-level yaml
func writeConfigWith(t *testing.T, url, sourceExtra, topLevel string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`sources:
  - name: north
    url: %s
%s
max_fetch_retries: 1
backoff:
  initial_ms: 1
  max_ms: 1
storage:
  backend: file
  path: %s
logging:
  level: error
%s`, url, sourceExtra, filepath.Join(dir, "state"), topLevel)

	path := filepath.Join(dir, "events-monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestCheck_EndToEnd(t *testing.T) {
	listing := &listingServer{}
	listing.set("Spring Tournament", "Junior Clinic")
	ts := httptest.NewServer(listing)
	defer ts.Close()

	cfgPath := writeConfig(t, ts.URL+"/events")

	// First run stores a baseline without notifying
	code, out, stderr := execute(t, "", "--config", cfgPath, "check", "--format", "json")
	require.Equal(t, ExitNoChange, code, stderr)

	var first OutputResult
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	require.Len(t, first.Sources, 1)
	assert.Equal(t, "completed_first_run", first.Sources[0].Outcome)
	assert.Equal(t, 2, first.Sources[0].Extracted)
	assert.False(t, first.Sources[0].DryRun)

	// Unchanged page
	code, out, _ = execute(t, "", "--config", cfgPath, "check", "--dry-run")
	require.Equal(t, ExitNoChange, code)
	assert.Contains(t, out, "north: no new events found")

	// A new listing is reported and printed by the dry-run channel
	listing.set("Spring Tournament", "Junior Clinic", "Club Championship")
	code, out, stderr = execute(t, "", "--config", cfgPath, "check", "--dry-run")
	require.Equal(t, ExitNewEvents, code, stderr)
	assert.Contains(t, out, "north: 1 new event")
	assert.Contains(t, out, "NEW: Club Championship (March 14, 2026)")
	assert.Contains(t, out, "dry run: state not saved")
	assert.Contains(t, stderr, "Title: Club Championship")

	// The dry run left the baseline alone
	assert.Equal(t, []string{"Junior Clinic", "Spring Tournament"}, stateTitles(t, cfgPath))

	// A real check stores all three listings
	code, _, stderr = execute(t, "", "--config", cfgPath, "check")
	require.Equal(t, ExitNewEvents, code, stderr)
	assert.Equal(t, []string{"Club Championship", "Junior Clinic", "Spring Tournament"}, stateTitles(t, cfgPath))
}

// stateTitles returns the titles `state show` reports for the north source
func stateTitles(t *testing.T, cfgPath string) []string {
	t.Helper()
	code, out, stderr := execute(t, "", "--config", cfgPath, "state", "show", "--format", "json", "--sort", "title")
	require.Equal(t, ExitNoChange, code, stderr)

	var states []StateResult
	require.NoError(t, json.Unmarshal([]byte(out), &states))
	require.Len(t, states, 1)
	assert.Equal(t, "north", states[0].Source)
	assert.NotNil(t, states[0].LastCheckedAt)
	return titles(states[0].Events)
}

// webhookReceiver records every payload posted to it
type webhookReceiver struct {
	mu       sync.Mutex
	payloads []notifier.WebhookPayload
}

func (r *webhookReceiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var payload notifier.WebhookPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, payload)
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (r *webhookReceiver) received() []notifier.WebhookPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifier.WebhookPayload(nil), r.payloads...)
}

func TestCheck_DryRunDoesNotConsumeEvents(t *testing.T) {
	listing := &listingServer{}
	listing.set("Spring Tournament", "Junior Clinic")
	ts := httptest.NewServer(listing)
	defer ts.Close()

	receiver := &webhookReceiver{}
	hook := httptest.NewServer(receiver)
	defer hook.Close()

	cfgPath := writeConfigWith(t, ts.URL, "", fmt.Sprintf("webhook:\n  enabled: true\n  url: %s\n", hook.URL))

	code, _, stderr := execute(t, "", "--config", cfgPath, "check")
	require.Equal(t, ExitNoChange, code, stderr)

	listing.set("Spring Tournament", "Junior Clinic", "Club Championship")

	code, _, stderr = execute(t, "", "--config", cfgPath, "check", "--dry-run")
	require.Equal(t, ExitNewEvents, code, stderr)
	assert.Empty(t, receiver.received(), "dry run must not reach the webhook")

	// The event is still new for the next real check
	code, _, stderr = execute(t, "", "--config", cfgPath, "check")
	require.Equal(t, ExitNewEvents, code, stderr)

	payloads := receiver.received()
	require.Len(t, payloads, 1)
	assert.Equal(t, 1, payloads[0].Count)
	require.Len(t, payloads[0].Events, 1)
	assert.Equal(t, "Club Championship", payloads[0].Events[0].Title)

	code, _, stderr = execute(t, "", "--config", cfgPath, "check")
	require.Equal(t, ExitNoChange, code, stderr)
	assert.Len(t, receiver.received(), 1)
}

func TestCheck_SourceFilter(t *testing.T) {
	listing := &listingServer{}
	listing.set("Spring Tournament", "Junior Clinic")
	ts := httptest.NewServer(listing)
	defer ts.Close()

	cfgPath := writeConfig(t, ts.URL, "    filter:\n      exclude_keywords: [junior]")

	code, _, _ := execute(t, "", "--config", cfgPath, "check")
	require.Equal(t, ExitNoChange, code)

	listing.set("Spring Tournament", "Junior Clinic", "Junior Camp")
	code, out, _ := execute(t, "", "--config", cfgPath, "check", "--dry-run")
	assert.Equal(t, ExitNoChange, code)
	assert.Contains(t, out, "north: no new events found")

	code, out, _ = execute(t, "", "--config", cfgPath, "state", "show")
	require.Equal(t, ExitNoChange, code)
	assert.Contains(t, out, "north: 1 event")
	assert.NotContains(t, out, "Junior")
}

func TestCheck_FetchFailureAborts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	code, out, _ := execute(t, "", "--config", writeConfig(t, ts.URL), "check", "--dry-run")

	assert.Equal(t, ExitAborted, code)
	assert.Contains(t, out, "north: check aborted (fetch_exhausted)")
}

func TestCheck_InvalidFlags(t *testing.T) {
	cfgPath := writeConfig(t, "https://example.com/events")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"format", []string{"check", "--format", "xml"}, "invalid format"},
		{"source", []string{"check", "--source", "south"}, `unknown source "south"`},
		{"state format", []string{"state", "show", "--format", "csv"}, "invalid format"},
		{"state sort", []string{"state", "show", "--sort", "state"}, "invalid sort order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, "", append([]string{"--config", cfgPath}, tt.args...)...)
			assert.Equal(t, ExitFailure, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestCheck_MissingConfig(t *testing.T) {
	code, _, stderr := execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "check")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "loading config")
}

func TestStateShow_NoState(t *testing.T) {
	code, out, _ := execute(t, "", "--config", writeConfig(t, "https://example.com/events"), "state", "show")
	require.Equal(t, ExitNoChange, code)
	assert.Contains(t, out, "north: no state saved yet")
}

func TestSelectSources(t *testing.T) {
	cfg := config.Config{Sources: []config.SourceConfig{
		{Name: "North", URL: "https://north.example.com"},
		{Name: "South", URL: "https://south.example.com"},
	}}

	all, err := selectSources(cfg, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := selectSources(cfg, "south")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "South", one[0].Name)
}

func TestBuildChannels(t *testing.T) {
	src := notifier.Source{Name: "north"}

	dry := buildChannels(config.Config{}, src, buildOptions{dryRun: true, out: &bytes.Buffer{}})
	require.Len(t, dry, 1)
	assert.Equal(t, "dry-run", dry[0].Name())

	live := buildChannels(config.Config{}, src, buildOptions{})
	require.Len(t, live, 2)
	assert.Equal(t, "email", live[0].Name())
	assert.Equal(t, "webhook", live[1].Name())
	assert.False(t, live[0].Enabled())
	assert.False(t, live[1].Enabled())
}
