// Package calendar renders event records as an iCalendar (.ics) document.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

const prodID = "-//Events Monitor//events-monitor//EN"

// GenerateICS builds one calendar holding a VEVENT for each record whose date
// text can be parsed. Records without a recognizable date are left out. It
// returns the document and the number of events it contains; with no dated
// records the document is empty.
func GenerateICS(records []*event.Record, calendarName string, now time.Time) (string, int) {
	var body strings.Builder
	count := 0

	for _, rec := range records {
		start := rec.StartDate()
		if start.IsZero() {
			continue
		}
		writeEvent(&body, rec, start, now)
		count++
	}

	if count == 0 {
		return "", 0
	}

	var ics strings.Builder
	ics.WriteString("BEGIN:VCALENDAR\r\n")
	ics.WriteString("VERSION:2.0\r\n")
	ics.WriteString(fmt.Sprintf("PRODID:%s\r\n", prodID))
	ics.WriteString("CALSCALE:GREGORIAN\r\n")
	ics.WriteString("METHOD:PUBLISH\r\n")
	if calendarName != "" {
		ics.WriteString(fmt.Sprintf("X-WR-CALNAME:%s\r\n", escapeICS(calendarName)))
	}
	ics.WriteString(body.String())
	ics.WriteString("END:VCALENDAR\r\n")

	return ics.String(), count
}

// writeEvent adds an all-day VEVENT; listings rarely carry reliable times
func writeEvent(ics *strings.Builder, rec *event.Record, start, now time.Time) {
	ics.WriteString("BEGIN:VEVENT\r\n")

	// UID stays stable across runs so calendar clients update rather than duplicate
	ics.WriteString(fmt.Sprintf("UID:%s@events-monitor\r\n", rec.Key))
	ics.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", formatICSTime(now)))

	ics.WriteString(fmt.Sprintf("DTSTART;VALUE=DATE:%s\r\n", formatICSDate(start)))
	ics.WriteString(fmt.Sprintf("DTEND;VALUE=DATE:%s\r\n", formatICSDate(start.AddDate(0, 0, 1))))

	ics.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICS(rec.Title)))

	description := rec.Description
	if rec.DateText != "" {
		description = strings.TrimSpace(fmt.Sprintf("Date: %s\n%s", rec.DateText, description))
	}
	if description != "" {
		ics.WriteString(fmt.Sprintf("DESCRIPTION:%s\r\n", escapeICS(description)))
	}

	if rec.URL != "" {
		ics.WriteString(fmt.Sprintf("URL:%s\r\n", rec.URL))
	}

	ics.WriteString("STATUS:CONFIRMED\r\n")
	ics.WriteString("TRANSP:TRANSPARENT\r\n")
	ics.WriteString("END:VEVENT\r\n")
}

// formatICSTime formats a time.Time as an iCalendar datetime string
func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func formatICSDate(t time.Time) string {
	return t.Format("20060102")
}

// escapeICS escapes special characters for iCalendar format
func escapeICS(s string) string {
	// Replace special characters according to RFC 5545
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
