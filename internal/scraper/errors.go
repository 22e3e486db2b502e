package scraper

import (
	"fmt"
)

// FetchErrorKind classifies fetch failures
type FetchErrorKind int

const (
	FetchTimeout FetchErrorKind = iota
	FetchHTTPStatus
	FetchNetwork
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTimeout:
		return "timeout"
	case FetchHTTPStatus:
		return "http_status"
	case FetchNetwork:
		return "network"
	}
	return "unknown"
}

// FetchError is returned by fetchers when page content could not be retrieved
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Code int // set for FetchHTTPStatus
	Err  error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetching %s: unexpected status code: %d", e.URL, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetching %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetching %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractErrorKind classifies extraction failures
type ExtractErrorKind int

const (
	NoUsableContent ExtractErrorKind = iota
)

func (k ExtractErrorKind) String() string {
	if k == NoUsableContent {
		return "no_usable_content"
	}
	return "unknown"
}

// ExtractError is returned when raw content cannot be a real events page
type ExtractError struct {
	Kind   ExtractErrorKind
	Reason string
	Err    error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extracting events: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("extracting events: %s: %s", e.Kind, e.Reason)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}
