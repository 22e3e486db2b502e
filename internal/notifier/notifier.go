package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/event"
	"github.com/pfrederiksen/events-monitor/internal/logger"
)

// Channel delivers a batch of new records to one destination
type Channel interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, records []*event.Record) error
}

// Status is the outcome of one channel for one batch
type Status int

const (
	Delivered Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ChannelResult reports what happened on one channel
type ChannelResult struct {
	Channel  string        `json:"channel"`
	Status   Status        `json:"-"`
	Reason   string        `json:"reason,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
}

// Summary aggregates channel results in configuration order
type Summary struct {
	Results []ChannelResult
}

// Degraded reports whether at least one enabled channel failed
func (s Summary) Degraded() bool {
	for _, r := range s.Results {
		if r.Status == Failed {
			return true
		}
	}
	return false
}

// Count returns the number of results with the given status
func (s Summary) Count(status Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Err joins the errors of failed channels, or returns nil
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Status == Failed {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher fans records out to channels
type Dispatcher struct {
	channels []Channel
}

// NewDispatcher creates a dispatcher over channels, in the given order
func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels}
}

// Notify sends records to every enabled channel concurrently and waits for all
// of them. Empty input sends nothing and returns an empty Summary.
func (d *Dispatcher) Notify(ctx context.Context, records []*event.Record) Summary {
	if len(records) == 0 || len(d.channels) == 0 {
		return Summary{}
	}

	results := make([]ChannelResult, len(d.channels))
	var wg sync.WaitGroup

	for i, ch := range d.channels {
		if !ch.Enabled() {
			results[i] = ChannelResult{Channel: ch.Name(), Status: Skipped, Reason: "disabled"}
			continue
		}

		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = send(ctx, ch, records)
		}(i, ch)
	}

	wg.Wait()

	return Summary{Results: results}
}

// send runs one channel and logs its result. A panicking channel counts as failed.
func send(ctx context.Context, ch Channel, records []*event.Record) (result ChannelResult) {
	start := time.Now()
	result = ChannelResult{Channel: ch.Name()}

	defer func() {
		if r := recover(); r != nil {
			result.Status = Failed
			result.Err = channelErr(ch.Name(), FailureConnection, fmt.Errorf("panic: %v", r))
		}
		result.Duration = time.Since(start)

		fields := logger.Fields{
			"channel":     result.Channel,
			"status":      result.Status.String(),
			"records":     len(records),
			"duration_ms": result.Duration.Milliseconds(),
		}
		if result.Status == Failed {
			var chErr *ChannelError
			if errors.As(result.Err, &chErr) {
				fields["reason"] = chErr.Kind.String()
			}
			logger.Error("Notification channel failed", fields, result.Err)
		} else {
			logger.Info("Notification delivered", fields)
		}
	}()

	if err := ch.Send(ctx, records); err != nil {
		result.Status = Failed
		result.Err = err
		return result
	}

	result.Status = Delivered
	return result
}
