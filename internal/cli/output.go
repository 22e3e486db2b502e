package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/calendar"
	"github.com/pfrederiksen/events-monitor/internal/event"
	"github.com/pfrederiksen/events-monitor/internal/pipeline"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatICS  OutputFormat = "ics"
)

// SourceResult is the outcome of checking one source
type SourceResult struct {
	Source            string          `json:"source"`
	Outcome           string          `json:"outcome"`
	Reason            string          `json:"reason,omitempty"`
	Error             string          `json:"error,omitempty"`
	Extracted         int             `json:"extracted"`
	NewEvents         []*event.Record `json:"new_events"`
	EventCount        int             `json:"event_count"`
	Degraded          bool            `json:"degraded"`
	StateReadCorrupt  bool            `json:"state_read_corrupt,omitempty"`
	PersistenceFailed bool            `json:"persistence_failed,omitempty"`
	DryRun            bool            `json:"dry_run,omitempty"`
}

// OutputResult contains data to be output after a check
type OutputResult struct {
	CheckedAt  time.Time      `json:"checked_at"`
	Sources    []SourceResult `json:"sources"`
	EventCount int            `json:"event_count"`
}

// NewOutputResult builds the report for a set of outcomes
func NewOutputResult(outcomes []*pipeline.Outcome, checkedAt time.Time) *OutputResult {
	result := &OutputResult{CheckedAt: checkedAt.UTC(), Sources: make([]SourceResult, 0, len(outcomes))}
	for _, o := range outcomes {
		sr := SourceResult{
			Source:            sourceLabel(o.Source),
			Outcome:           o.Kind.String(),
			Reason:            o.Reason.String(),
			Extracted:         o.Extracted,
			NewEvents:         o.NewRecords,
			EventCount:        o.NewCount,
			Degraded:          o.Degraded(),
			StateReadCorrupt:  o.StateReadCorrupt,
			PersistenceFailed: o.PersistenceFailed,
			DryRun:            o.DryRun,
		}
		if sr.NewEvents == nil {
			sr.NewEvents = []*event.Record{}
		}
		if o.Err != nil {
			sr.Error = o.Err.Error()
		}
		result.Sources = append(result.Sources, sr)
		result.EventCount += o.NewCount
	}
	return result
}

// WriteOutput writes the result in the specified format
func WriteOutput(w io.Writer, result *OutputResult, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return writeText(w, result, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// writeText outputs results as human-readable text
func writeText(w io.Writer, result *OutputResult, verbose bool) error {
	for _, src := range result.Sources {
		switch src.Outcome {
		case pipeline.Aborted.String():
			fmt.Fprintf(w, "%s: check aborted (%s): %s\n", src.Source, src.Reason, src.Error)
			continue
		case pipeline.CompletedFirstRun.String():
			fmt.Fprintf(w, "%s: first run, stored baseline of %d events\n", src.Source, src.Extracted)
		case pipeline.CompletedNoChange.String():
			fmt.Fprintf(w, "%s: no new events found\n", src.Source)
		default:
			fmt.Fprintf(w, "%s: %d new %s\n", src.Source, src.EventCount, pluralEvents(src.EventCount))
			writeRecords(w, src.NewEvents, "NEW: ", verbose)
		}

		if src.DryRun {
			fmt.Fprintf(w, "  dry run: state not saved\n")
		}
		if src.StateReadCorrupt {
			fmt.Fprintf(w, "  warning: previous state was unreadable and has been replaced\n")
		}
		if src.PersistenceFailed {
			fmt.Fprintf(w, "  warning: failed to save state: %s\n", src.Error)
		}
		if src.Degraded && !src.PersistenceFailed {
			fmt.Fprintf(w, "  warning: one or more notification channels failed\n")
		}
	}

	if len(result.Sources) > 1 {
		fmt.Fprintf(w, "\nTotal: %d new %s across %d sources\n", result.EventCount, pluralEvents(result.EventCount), len(result.Sources))
	}
	return nil
}

func writeRecords(w io.Writer, records []*event.Record, prefix string, verbose bool) {
	for _, rec := range records {
		if rec.DateText != "" {
			fmt.Fprintf(w, "  %s%s (%s)\n", prefix, rec.Title, rec.DateText)
		} else {
			fmt.Fprintf(w, "  %s%s\n", prefix, rec.Title)
		}
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", rec.Key)
			if rec.Description != "" {
				fmt.Fprintf(w, "       Description: %s\n", rec.Description)
			}
			if rec.URL != "" {
				fmt.Fprintf(w, "       Link: %s\n", rec.URL)
			}
		}
	}
}

// StateResult is the persisted state of one source, for display
type StateResult struct {
	Source        string          `json:"source"`
	LastCheckedAt *time.Time      `json:"last_checked_at,omitempty"`
	EventCount    int             `json:"event_count"`
	Events        []*event.Record `json:"events"`
	Error         string          `json:"error,omitempty"`
}

// WriteStates writes persisted states in the specified format
func WriteStates(w io.Writer, states []StateResult, format OutputFormat, verbose bool, now time.Time) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, states)
	case FormatICS:
		var all []*event.Record
		for _, s := range states {
			all = append(all, s.Events...)
		}
		ics, count := calendar.GenerateICS(all, "Events Monitor", now)
		if count == 0 {
			return fmt.Errorf("no events with a recognizable date")
		}
		_, err := io.WriteString(w, ics)
		return err
	case FormatText:
		for _, s := range states {
			if s.Error != "" {
				fmt.Fprintf(w, "%s: state unreadable: %s\n", s.Source, s.Error)
				continue
			}
			if s.LastCheckedAt == nil {
				fmt.Fprintf(w, "%s: no state saved yet\n", s.Source)
				continue
			}
			fmt.Fprintf(w, "%s: %d %s, last checked %s\n", s.Source, s.EventCount, pluralEvents(s.EventCount), s.LastCheckedAt.Format(time.RFC3339))
			writeRecords(w, s.Events, "", verbose)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func pluralEvents(n int) string {
	if n == 1 {
		return "event"
	}
	return "events"
}

func sourceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
