package pipeline

import (
	"time"

	"github.com/pfrederiksen/events-monitor/internal/event"
	"github.com/pfrederiksen/events-monitor/internal/notifier"
)

// Stage is a step of a run
type Stage int

const (
	StageFetching Stage = iota
	StageExtracting
	StageDiffing
	StageNotifying
	StagePersisting
	StageDone
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageFetching:
		return "fetching"
	case StageExtracting:
		return "extracting"
	case StageDiffing:
		return "diffing"
	case StageNotifying:
		return "notifying"
	case StagePersisting:
		return "persisting"
	case StageDone:
		return "done"
	case StageAborted:
		return "aborted"
	}
	return "unknown"
}

// OutcomeKind summarizes how a run ended
type OutcomeKind int

const (
	Aborted OutcomeKind = iota
	CompletedNoChange
	CompletedFirstRun
	CompletedWithNewEvents
)

func (k OutcomeKind) String() string {
	switch k {
	case Aborted:
		return "aborted"
	case CompletedNoChange:
		return "completed_no_change"
	case CompletedFirstRun:
		return "completed_first_run"
	case CompletedWithNewEvents:
		return "completed_with_new_events"
	}
	return "unknown"
}

// AbortReason says why an aborted run stopped
type AbortReason int

const (
	NotAborted AbortReason = iota
	FetchExhausted
	ExtractFailed
	Cancelled
)

func (r AbortReason) String() string {
	switch r {
	case NotAborted:
		return ""
	case FetchExhausted:
		return "fetch_exhausted"
	case ExtractFailed:
		return "extract_failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Outcome is the result of one run
type Outcome struct {
	RunID  string
	Source string
	Kind   OutcomeKind
	Reason AbortReason
	// Err is the cause of an abort or of a failed save
	Err error

	FetchAttempts int
	Extracted     int
	NewCount      int
	NewRecords    []*event.Record
	RemovedCount  int

	Summary           notifier.Summary
	StateReadCorrupt  bool
	PersistenceFailed bool
	// DryRun is set when the state was deliberately not saved
	DryRun bool

	StartedAt time.Time
	Duration  time.Duration
}

// Degraded reports whether the run completed but a channel or the save failed
func (o *Outcome) Degraded() bool {
	return o.Kind != Aborted && (o.Summary.Degraded() || o.PersistenceFailed)
}
