package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByPage  SortOrder = "page"
	SortByDate  SortOrder = "date"
	SortByTitle SortOrder = "title"
)

func parseSortOrder(s string) (SortOrder, error) {
	switch order := SortOrder(strings.ToLower(strings.TrimSpace(s))); order {
	case SortByPage, SortByDate, SortByTitle:
		return order, nil
	case "":
		return SortByPage, nil
	}
	return "", fmt.Errorf("invalid sort order: %s (must be 'page', 'date' or 'title')", s)
}

// sortRecords sorts records in place. SortByPage keeps page order.
func sortRecords(records []*event.Record, order SortOrder) {
	switch order {
	case SortByDate:
		sort.SliceStable(records, func(i, j int) bool {
			return compareByDate(records[i], records[j])
		})
	case SortByTitle:
		sort.SliceStable(records, func(i, j int) bool {
			ti, tj := strings.ToLower(records[i].Title), strings.ToLower(records[j].Title)
			if ti != tj {
				return ti < tj
			}
			// If titles are equal, sort by date
			return compareByDate(records[i], records[j])
		})
	}
}

// compareByDate compares two records by their date
// Returns true if record i should come before record j
func compareByDate(i, j *event.Record) bool {
	dateI := i.StartDate()
	dateJ := j.StartDate()

	// If both dates are valid, compare them
	if !dateI.IsZero() && !dateJ.IsZero() {
		return dateI.Before(dateJ)
	}

	// If only one date is valid, put the valid one first
	if !dateI.IsZero() {
		return true
	}
	if !dateJ.IsZero() {
		return false
	}

	return strings.ToLower(i.Title) < strings.ToLower(j.Title)
}
