// Package metrics records pipeline and notification metrics.
//
// Callers depend on the Sink interface. PrometheusSink exports to a
// prometheus.Registerer; NoopSink discards everything.
package metrics

import "time"

// Sink records metrics for monitor runs.
// All methods are fire-and-forget: implementations must not block or return errors.
type Sink interface {
	// Pipeline metrics
	RunCompleted(source, outcome string, duration time.Duration)
	FetchAttempt(source string, attempt int, result string)
	RecordsExtracted(source string, count int)
	NewRecordsFound(source string, count int)
	StateReadCorrupt(source string)
	PersistFailed(source string)

	// Notifier metrics
	ChannelResult(channel, status string, duration time.Duration)
}

// Fetch results for FetchAttempt
const (
	FetchOK         = "ok"
	FetchTimeout    = "timeout"
	FetchHTTPStatus = "http_status"
	FetchNetwork    = "network"
)
