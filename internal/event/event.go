package event

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"
)

// StateVersion is the current persisted state format version
const StateVersion = 1

// Record represents a single entry of an events listing
type Record struct {
	Key         string    `json:"identity_key"`
	Title       string    `json:"title"`
	DateText    string    `json:"date_text"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Snapshot is the ordered sequence of records produced by one extraction.
// Order follows the page and carries no meaning for diffing.
type Snapshot []*Record

// CollapseSpace trims s and replaces every internal whitespace run with a single space
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// GenerateKey creates the identity key for a record.
// An explicit source id takes precedence; otherwise the key is derived from the
// normalized title and date text. Descriptions never contribute to the key.
func GenerateKey(sourceID, title, dateText string) string {
	h := sha1.New()
	if id := strings.TrimSpace(sourceID); id != "" {
		h.Write([]byte("id|" + id))
		return fmt.Sprintf("%x", h.Sum(nil))
	}

	normTitle := strings.ToLower(CollapseSpace(title))
	normDate := strings.ToLower(CollapseSpace(dateText))
	h.Write([]byte(normTitle + "|" + normDate))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// NewRecord creates a Record with normalized fields and a generated identity key.
// It returns nil when the title is empty after normalization.
func NewRecord(sourceID, title, dateText, description, url string, extractedAt time.Time) *Record {
	title = CollapseSpace(title)
	if title == "" {
		return nil
	}
	dateText = CollapseSpace(dateText)

	return &Record{
		Key:         GenerateKey(sourceID, title, dateText),
		Title:       title,
		DateText:    dateText,
		Description: CollapseSpace(description),
		URL:         strings.TrimSpace(url),
		ExtractedAt: extractedAt.UTC(),
	}
}

// Dedupe drops records whose key was already seen, keeping the first occurrence
func Dedupe(records []*Record) Snapshot {
	seen := make(map[string]bool, len(records))
	unique := make(Snapshot, 0, len(records))
	for _, rec := range records {
		if rec == nil || seen[rec.Key] {
			continue
		}
		seen[rec.Key] = true
		unique = append(unique, rec)
	}
	return unique
}

// Keys returns the set of identity keys in the snapshot
func (s Snapshot) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(s))
	for _, rec := range s {
		keys[rec.Key] = struct{}{}
	}
	return keys
}
