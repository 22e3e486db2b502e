package event

import (
	"time"
)

// PersistedState is the most recently saved snapshot of a source plus the time
// of the check that produced it
type PersistedState struct {
	Version       int       `json:"version"`
	Source        string    `json:"source,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	Records       Snapshot  `json:"records"`
}

// NewState creates an empty, never-initialized state for a source
func NewState(source string) *PersistedState {
	return &PersistedState{
		Version: StateVersion,
		Source:  source,
		Records: make(Snapshot, 0),
	}
}

// IsEmpty reports whether the state has never been saved by a completed run.
// A saved state with zero records is not empty: it is a baseline.
func (s *PersistedState) IsEmpty() bool {
	return s == nil || s.LastCheckedAt.IsZero()
}

// Len returns the number of known records
func (s *PersistedState) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// NextState builds the state that follows previous once current has been
// observed at checkedAt. Records already known keep their original ExtractedAt
// so that re-observing identical content leaves the record set unchanged.
func NextState(previous *PersistedState, source string, current Snapshot, checkedAt time.Time) *PersistedState {
	known := make(map[string]*Record)
	if previous != nil {
		for _, rec := range previous.Records {
			known[rec.Key] = rec
		}
	}

	records := make(Snapshot, 0, len(current))
	for _, rec := range current {
		next := *rec
		if prev, ok := known[rec.Key]; ok && !prev.ExtractedAt.IsZero() {
			next.ExtractedAt = prev.ExtractedAt
		}
		records = append(records, &next)
	}

	return &PersistedState{
		Version:       StateVersion,
		Source:        source,
		LastCheckedAt: checkedAt.UTC(),
		Records:       records,
	}
}

// DiffResult contains the results of comparing a persisted state with a fresh snapshot
type DiffResult struct {
	NewRecords     []*Record // in current page order
	RemovedRecords []*Record // observability only, never notified
	IsFirstRun     bool
}

// Diff compares the current snapshot against the previous state by identity key.
// On a first run every current record is structurally new; callers decide
// whether to act on that.
func Diff(previous *PersistedState, current Snapshot) *DiffResult {
	result := &DiffResult{
		NewRecords:     make([]*Record, 0),
		RemovedRecords: make([]*Record, 0),
		IsFirstRun:     previous.IsEmpty(),
	}

	var previousKeys map[string]struct{}
	if previous != nil {
		previousKeys = previous.Records.Keys()
	} else {
		previousKeys = make(map[string]struct{})
	}

	for _, rec := range current {
		if _, exists := previousKeys[rec.Key]; !exists {
			result.NewRecords = append(result.NewRecords, rec)
		}
	}

	if previous != nil {
		currentKeys := current.Keys()
		for _, rec := range previous.Records {
			if _, exists := currentKeys[rec.Key]; !exists {
				result.RemovedRecords = append(result.RemovedRecords, rec)
			}
		}
	}

	return result
}
