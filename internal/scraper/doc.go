// Package scraper fetches an events listing page and extracts event records from it.
//
// Fetching and extraction are separate steps. HTTPFetcher retrieves raw page
// content with a strict timeout and a descriptive user agent, classifying
// failures as FetchError values. It never retries; retry policy belongs to the
// caller. Extractor parses the raw content with goquery using a fixed list of
// strategies (aria-labelled listings, event links, cards, and a plain-text date
// heuristic) and returns a normalized, deduplicated event.Snapshot. Pages that
// are too short, have no body text, or look like an error placeholder produce
// an ExtractError; a well-formed page without events is an empty Snapshot.
package scraper
