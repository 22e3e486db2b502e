package server

import (
	"sort"
	"sync"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/pipeline"
)

// ChannelStatus is the JSON form of one channel result
type ChannelStatus struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunStatus is the JSON form of the last outcome of one source
type RunStatus struct {
	Source            string          `json:"source"`
	RunID             string          `json:"run_id"`
	Outcome           string          `json:"outcome"`
	Reason            string          `json:"reason,omitempty"`
	Error             string          `json:"error,omitempty"`
	Extracted         int             `json:"extracted"`
	NewCount          int             `json:"new_count"`
	Degraded          bool            `json:"degraded"`
	StateReadCorrupt  bool            `json:"state_read_corrupt,omitempty"`
	PersistenceFailed bool            `json:"persistence_failed,omitempty"`
	Channels          []ChannelStatus `json:"channels,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	DurationMs        int64           `json:"duration_ms"`
}

// NewRunStatus converts a pipeline outcome for display
func NewRunStatus(o *pipeline.Outcome) RunStatus {
	status := RunStatus{
		Source:            o.Source,
		RunID:             o.RunID,
		Outcome:           o.Kind.String(),
		Reason:            o.Reason.String(),
		Extracted:         o.Extracted,
		NewCount:          o.NewCount,
		Degraded:          o.Degraded(),
		StateReadCorrupt:  o.StateReadCorrupt,
		PersistenceFailed: o.PersistenceFailed,
		StartedAt:         o.StartedAt,
		DurationMs:        o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		status.Error = o.Err.Error()
	}
	for _, r := range o.Summary.Results {
		cs := ChannelStatus{Channel: r.Channel, Status: r.Status.String(), Reason: r.Reason}
		if r.Err != nil {
			cs.Error = r.Err.Error()
		}
		status.Channels = append(status.Channels, cs)
	}
	return status
}

// Tracker keeps the last outcome per source. It is safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	startedAt time.Time
	last      map[string]RunStatus
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		startedAt: time.Now().UTC(),
		last:      make(map[string]RunStatus),
	}
}

// Record stores outcome as the latest for its source
func (t *Tracker) Record(o *pipeline.Outcome) {
	status := NewRunStatus(o)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[o.Source] = status
}

// Last returns the latest status of every source, sorted by source name
func (t *Tracker) Last() []RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RunStatus, 0, len(t.last))
	for _, s := range t.last {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// StartedAt returns when the tracker was created
func (t *Tracker) StartedAt() time.Time {
	return t.startedAt
}
