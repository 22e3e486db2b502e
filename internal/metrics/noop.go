package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunCompleted(source, outcome string, duration time.Duration)  {}
func (n *NoopSink) FetchAttempt(source string, attempt int, result string)       {}
func (n *NoopSink) RecordsExtracted(source string, count int)                    {}
func (n *NoopSink) NewRecordsFound(source string, count int)                     {}
func (n *NoopSink) StateReadCorrupt(source string)                               {}
func (n *NoopSink) PersistFailed(source string)                                  {}
func (n *NoopSink) ChannelResult(channel, status string, duration time.Duration) {}
