// Package filter narrows a source's extracted events before they are diffed.
//
// A source can be restricted by keywords, excluded keywords, a date range and
// weekends only. Records that do not match never enter the persisted state,
// so they are never reported as new.
//
// Example usage:
//
//	f := &filter.Filter{Keywords: []string{"tournament"}, WeekendsOnly: true}
//	extractor := f.Wrap(scraper.NewExtractor())
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

// DateLayout is the layout of configured date bounds
const DateLayout = "2006-01-02"

// Filter represents event filtering criteria
type Filter struct {
	// DateFrom and DateTo are inclusive bounds. Records without a
	// recognizable date pass date checks.
	DateFrom *time.Time
	DateTo   *time.Time

	// Keywords: title or description must contain at least one (case-insensitive)
	Keywords []string

	// ExcludeKeywords: title or description must contain none
	ExcludeKeywords []string

	WeekendsOnly bool
}

// New builds a filter from configuration values. Date bounds use DateLayout
// and may be empty.
func New(keywords, exclude []string, from, to string, weekendsOnly bool) (*Filter, error) {
	f := &Filter{
		Keywords:        nonEmpty(keywords),
		ExcludeKeywords: nonEmpty(exclude),
		WeekendsOnly:    weekendsOnly,
	}

	var err error
	if f.DateFrom, err = ParseBound(from); err != nil {
		return nil, fmt.Errorf("date_from: %w", err)
	}
	if f.DateTo, err = ParseBound(to); err != nil {
		return nil, fmt.Errorf("date_to: %w", err)
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return nil, fmt.Errorf("date_to %s is before date_from %s", to, from)
	}
	return f, nil
}

// ParseBound parses a configured date bound; empty means unbounded
func ParseBound(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	return &t, nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IsEmpty checks if the filter has any active criteria.
// Returns true if the filter would match all records.
func (f *Filter) IsEmpty() bool {
	return f == nil || (f.DateFrom == nil &&
		f.DateTo == nil &&
		len(f.Keywords) == 0 &&
		len(f.ExcludeKeywords) == 0 &&
		!f.WeekendsOnly)
}

// Matches checks if a record matches all active filter criteria.
// An empty filter matches all records.
func (f *Filter) Matches(rec *event.Record) bool {
	if f.IsEmpty() {
		return true
	}

	if date := rec.StartDate(); !date.IsZero() {
		if f.DateFrom != nil && date.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && date.After(*f.DateTo) {
			return false
		}
		if f.WeekendsOnly && date.Weekday() != time.Saturday && date.Weekday() != time.Sunday {
			return false
		}
	}

	text := strings.ToLower(rec.Title + " " + rec.Description)

	if len(f.Keywords) > 0 && !containsAny(text, f.Keywords) {
		return false
	}
	if containsAny(text, f.ExcludeKeywords) {
		return false
	}

	return true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Apply returns the matching records in their original order.
// If the filter is empty, returns the original snapshot unchanged.
func (f *Filter) Apply(records event.Snapshot) event.Snapshot {
	if f.IsEmpty() {
		return records
	}

	filtered := make(event.Snapshot, 0, len(records))
	for _, rec := range records {
		if f.Matches(rec) {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// String returns a human-readable description of the active filter criteria.
// Format: "From: Jan 2, 2026 | To: Jan 15, 2026 | Keywords: open | Weekends only"
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "No active filters"
	}

	var parts []string

	if f.DateFrom != nil {
		parts = append(parts, fmt.Sprintf("From: %s", f.DateFrom.Format("Jan 2, 2006")))
	}
	if f.DateTo != nil {
		parts = append(parts, fmt.Sprintf("To: %s", f.DateTo.Format("Jan 2, 2006")))
	}
	if len(f.Keywords) > 0 {
		parts = append(parts, fmt.Sprintf("Keywords: %s", strings.Join(f.Keywords, ", ")))
	}
	if len(f.ExcludeKeywords) > 0 {
		parts = append(parts, fmt.Sprintf("Excluding: %s", strings.Join(f.ExcludeKeywords, ", ")))
	}
	if f.WeekendsOnly {
		parts = append(parts, "Weekends only")
	}

	return strings.Join(parts, " | ")
}

// Extractor matches pipeline.Extractor
type Extractor interface {
	Extract(raw []byte, baseURL string, extractedAt time.Time) (event.Snapshot, error)
}

type filteredExtractor struct {
	next   Extractor
	filter *Filter
}

// Wrap returns an extractor that applies the filter to next's output. An
// empty filter returns next itself.
func (f *Filter) Wrap(next Extractor) Extractor {
	if f.IsEmpty() {
		return next
	}
	return &filteredExtractor{next: next, filter: f}
}

func (e *filteredExtractor) Extract(raw []byte, baseURL string, extractedAt time.Time) (event.Snapshot, error) {
	records, err := e.next.Extract(raw, baseURL, extractedAt)
	if err != nil {
		return nil, err
	}
	return e.filter.Apply(records), nil
}
