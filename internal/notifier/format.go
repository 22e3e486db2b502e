package notifier

import (
	"fmt"
	"strings"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

// Source describes the listing the records came from
type Source struct {
	Name string
	URL  string
}

func (s Source) label() string {
	if s.Name != "" {
		return s.Name
	}
	return "Events"
}

// Subject returns the notification headline, e.g. "North York events update - 3 new events"
func Subject(source Source, count int) string {
	noun := "events"
	if count == 1 {
		noun = "event"
	}
	if source.Name == "" {
		return fmt.Sprintf("Events update - %d new %s", count, noun)
	}
	return fmt.Sprintf("%s events update - %d new %s", source.Name, count, noun)
}

// RenderText renders the plain-text summary used by email and dry runs
func RenderText(source Source, records []*event.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Found %d new %s at %s:\n", len(records), plural(len(records), "event", "events"), source.label())
	if source.URL != "" {
		fmt.Fprintf(&b, "View events: %s\n", source.URL)
	}
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	for i, rec := range records {
		fmt.Fprintf(&b, "Event %d:\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", rec.Title)
		fmt.Fprintf(&b, "Date: %s\n", orNA(rec.DateText))
		if rec.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", rec.Description)
		}
		if rec.URL != "" {
			fmt.Fprintf(&b, "Link: %s\n", rec.URL)
		}
		b.WriteString(strings.Repeat("-", 50) + "\n\n")
	}

	return b.String()
}

// renderChatText renders the compact markdown-ish text carried in the webhook
// "text" field, which chat receivers such as Slack display directly
func renderChatText(source Source, records []*event.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*%s*\n", Subject(source, len(records)))
	for _, rec := range records {
		line := "• " + rec.Title
		if rec.DateText != "" {
			line += " (" + rec.DateText + ")"
		}
		if rec.URL != "" {
			line += " " + rec.URL
		}
		b.WriteString(line + "\n")
	}
	if source.URL != "" {
		fmt.Fprintf(&b, "View events: %s\n", source.URL)
	}

	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
