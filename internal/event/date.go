package event

import (
	"regexp"
	"strings"
	"time"
)

var (
	isoDatePattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	monthNameDate      = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`)
	numericDatePattern = regexp.MustCompile(`\b\d{1,2}[./-]\d{1,2}[./-]\d{2,4}\b`)

	ordinalSuffix = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)
	septAbbrev    = regexp.MustCompile(`(?i)\bsept\b`)
)

// dateLayouts are tried in order against a cleaned date string
var dateLayouts = []string{
	"2006-01-02",
	"Jan 2 2006",
	"January 2 2006",
	"1.2.06",
	"1.2.2006",
	"1/2/06",
	"1/2/2006",
	"1-2-06",
	"1-2-2006",
}

// yearlessLayouts lack a year; the current year is assumed
var yearlessLayouts = []string{
	"Jan 2",
	"January 2",
}

// FindDate returns the first date-like substring of text, or "" if none is found.
// Recognized forms include "2026-03-14", "March 14th, 2026", "Jan 24", "4.4.26"
// and "02/15/26".
func FindDate(text string) string {
	if match := isoDatePattern.FindString(text); match != "" {
		return match
	}
	if match := monthNameDate.FindString(text); match != "" {
		return match
	}
	if match := numericDatePattern.FindString(text); match != "" {
		return match
	}
	return ""
}

// ParseDate attempts to parse free-form date text into a time.Time.
// Returns time.Time{} (zero value) if no date can be recognized.
func ParseDate(dateText string) time.Time {
	found := FindDate(dateText)
	if found == "" {
		return time.Time{}
	}

	cleaned := ordinalSuffix.ReplaceAllString(found, "$1")
	cleaned = septAbbrev.ReplaceAllString(cleaned, "Sep")
	cleaned = strings.ReplaceAll(cleaned, ",", " ")
	if idx := strings.Index(cleaned, ". "); idx > 0 {
		// "Sep. 14" → "Sep 14"
		cleaned = cleaned[:idx] + cleaned[idx+1:]
	}
	cleaned = CollapseSpace(cleaned)

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t
		}
	}

	for _, layout := range yearlessLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			now := time.Now()
			return time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}

	return time.Time{}
}

// StartDate returns the parsed date of the record, or the zero time if the
// date text is not recognizable
func (r *Record) StartDate() time.Time {
	return ParseDate(r.DateText)
}
