// Package pipeline runs one check of an events listing: fetch the page,
// extract records, diff them against the persisted state, notify about new
// records and persist the new state.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/pfrederiksen/events-monitor/internal/event"
	"github.com/pfrederiksen/events-monitor/internal/logger"
	"github.com/pfrederiksen/events-monitor/internal/metrics"
	"github.com/pfrederiksen/events-monitor/internal/notifier"
	"github.com/pfrederiksen/events-monitor/internal/scraper"
	"github.com/pfrederiksen/events-monitor/internal/storage"
)

// Extractor turns raw page content into a snapshot
type Extractor interface {
	Extract(raw []byte, baseURL string, extractedAt time.Time) (event.Snapshot, error)
}

// RetryConfig controls fetch retries
type RetryConfig struct {
	// Attempts is the total number of fetch attempts, including the first
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the retry settings used when none are configured
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:        3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          c.Multiplier,
		MaxInterval:         c.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Options configures a Pipeline
type Options struct {
	Source       notifier.Source
	FetchTimeout time.Duration
	Retry        RetryConfig
	Metrics      metrics.Sink
	// DryRun runs every stage but Persisting, so the state is left as it was
	DryRun bool
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Pipeline checks one source. Runs against the same StateStore must not overlap.
type Pipeline struct {
	fetcher    scraper.Fetcher
	extractor  Extractor
	store      storage.StateStore
	dispatcher *notifier.Dispatcher

	source  notifier.Source
	timeout time.Duration
	retry   RetryConfig
	metrics metrics.Sink
	dryRun  bool
	now     func() time.Time
}

// New creates a pipeline
func New(fetcher scraper.Fetcher, extractor Extractor, store storage.StateStore, dispatcher *notifier.Dispatcher, opts Options) *Pipeline {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = scraper.DefaultTimeout
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopSink()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if dispatcher == nil {
		dispatcher = notifier.NewDispatcher()
	}

	return &Pipeline{
		fetcher:    fetcher,
		extractor:  extractor,
		store:      store,
		dispatcher: dispatcher,
		source:     opts.Source,
		timeout:    opts.FetchTimeout,
		retry:      opts.Retry,
		metrics:    opts.Metrics,
		dryRun:     opts.DryRun,
		now:        opts.Now,
	}
}

// Run performs one check. It never returns an error: failures are reported
// in the Outcome.
func (p *Pipeline) Run(ctx context.Context) *Outcome {
	outcome := &Outcome{
		RunID:     uuid.NewString(),
		Source:    p.source.Name,
		StartedAt: p.now().UTC(),
	}
	log := logger.Default().With(logger.Fields{
		"run_id": outcome.RunID,
		"source": p.sourceLabel(),
	})

	defer func() {
		outcome.Duration = p.now().Sub(outcome.StartedAt)
		p.metrics.RunCompleted(p.sourceLabel(), outcome.Kind.String(), outcome.Duration)
	}()

	// Fetching
	p.enter(log, StageFetching, nil)
	raw, attempts, err := p.fetch(ctx, log)
	outcome.FetchAttempts = attempts
	if err != nil {
		reason := FetchExhausted
		if ctx.Err() != nil {
			reason = Cancelled
		}
		return p.abort(log, outcome, StageFetching, reason, err)
	}

	// Extracting
	p.enter(log, StageExtracting, logger.Fields{"bytes": len(raw)})
	snapshot, err := p.extractor.Extract(raw, p.source.URL, p.now())
	if err != nil {
		return p.abort(log, outcome, StageExtracting, ExtractFailed, err)
	}
	outcome.Extracted = len(snapshot)
	p.metrics.RecordsExtracted(p.sourceLabel(), len(snapshot))

	// Diffing
	p.enter(log, StageDiffing, logger.Fields{"records": len(snapshot)})
	if err := ctx.Err(); err != nil {
		return p.abort(log, outcome, StageDiffing, Cancelled, err)
	}
	previous, err := p.store.Load(ctx)
	if err != nil {
		outcome.StateReadCorrupt = true
		p.metrics.StateReadCorrupt(p.sourceLabel())
		log.Warn("Persisted state unreadable, treating run as first run", logger.Fields{
			"stage": StageDiffing.String(),
			"error": err.Error(),
		})
		previous = event.NewState(p.source.Name)
	}

	diff := event.Diff(previous, snapshot)
	outcome.RemovedCount = len(diff.RemovedRecords)
	if len(diff.RemovedRecords) > 0 {
		log.Info("Records no longer listed", logger.Fields{
			"stage":   StageDiffing.String(),
			"removed": len(diff.RemovedRecords),
		})
	}

	switch {
	case diff.IsFirstRun:
		outcome.Kind = CompletedFirstRun
		log.Info("First run, storing baseline without notifying", logger.Fields{
			"stage":    StageDiffing.String(),
			"baseline": len(snapshot),
		})
	case len(diff.NewRecords) == 0:
		outcome.Kind = CompletedNoChange
	default:
		outcome.Kind = CompletedWithNewEvents
		outcome.NewCount = len(diff.NewRecords)
		outcome.NewRecords = diff.NewRecords
		p.metrics.NewRecordsFound(p.sourceLabel(), outcome.NewCount)

		// Notifying
		p.enter(log, StageNotifying, logger.Fields{"new_records": outcome.NewCount})
		outcome.Summary = p.dispatcher.Notify(ctx, diff.NewRecords)
		for _, r := range outcome.Summary.Results {
			p.metrics.ChannelResult(r.Channel, r.Status.String(), r.Duration)
		}
	}

	if p.dryRun {
		outcome.DryRun = true
		log.Info("Dry run, state not saved", logger.Fields{"stage": StagePersisting.String()})
		p.enter(log, StageDone, logger.Fields{"outcome": outcome.Kind.String(), "new_records": outcome.NewCount})
		return outcome
	}

	// Persisting. Notifications may already be out, so the save ignores
	// cancellation; otherwise the next run would send them again.
	p.enter(log, StagePersisting, nil)
	next := event.NextState(previous, p.source.Name, snapshot, p.now())
	if err := p.store.Save(context.WithoutCancel(ctx), next); err != nil {
		outcome.PersistenceFailed = true
		outcome.Err = err
		p.metrics.PersistFailed(p.sourceLabel())
		log.Error("Failed to persist state", logger.Fields{"stage": StagePersisting.String()}, err)
	}

	p.enter(log, StageDone, logger.Fields{
		"outcome":     outcome.Kind.String(),
		"new_records": outcome.NewCount,
		"degraded":    outcome.Degraded(),
	})
	return outcome
}

func (p *Pipeline) fetch(ctx context.Context, log *logger.Logger) ([]byte, int, error) {
	var (
		raw     []byte
		attempt int
	)

	operation := func() error {
		attempt++
		body, err := p.fetcher.Fetch(ctx, p.source.URL, p.timeout)
		if err != nil {
			p.metrics.FetchAttempt(p.sourceLabel(), attempt, fetchResult(err))
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		p.metrics.FetchAttempt(p.sourceLabel(), attempt, metrics.FetchOK)
		raw = body
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("Fetch failed, retrying", logger.Fields{
			"stage":       StageFetching.String(),
			"attempt":     attempt,
			"reason":      fetchResult(err),
			"error":       err.Error(),
			"retry_in_ms": wait.Milliseconds(),
		})
	}

	err := backoff.RetryNotify(operation, p.retry.backOff(ctx), notify)
	return raw, attempt, err
}

func (p *Pipeline) enter(log *logger.Logger, stage Stage, fields logger.Fields) {
	all := logger.Fields{"stage": stage.String()}
	for k, v := range fields {
		all[k] = v
	}
	log.Info("Entering stage", all)
}

func (p *Pipeline) abort(log *logger.Logger, outcome *Outcome, stage Stage, reason AbortReason, err error) *Outcome {
	outcome.Kind = Aborted
	outcome.Reason = reason
	outcome.Err = err
	log.Error("Run aborted", logger.Fields{
		"stage":   StageAborted.String(),
		"from":    stage.String(),
		"reason":  reason.String(),
		"attempt": outcome.FetchAttempts,
	}, err)
	return outcome
}

func (p *Pipeline) sourceLabel() string {
	if p.source.Name != "" {
		return p.source.Name
	}
	return "default"
}

func fetchResult(err error) string {
	var fetchErr *scraper.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind.String()
	}
	return metrics.FetchNetwork
}
