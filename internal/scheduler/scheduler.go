// Package scheduler runs a job immediately and then on a fixed interval,
// never letting two executions overlap.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pfrederiksen/events-monitor/internal/logger"
)

// Job is one scheduled execution. It must return once ctx is done.
type Job func(ctx context.Context)

// Scheduler runs a Job every interval
type Scheduler struct {
	interval time.Duration
	job      Job

	mu   sync.Mutex
	cron *cron.Cron
	id   cron.EntryID
}

// New creates a scheduler for job
func New(interval time.Duration, job Job) *Scheduler {
	return &Scheduler{interval: interval, job: job}
}

// Spec returns the cron spec used for the interval, e.g. "@every 24h0m0s"
func (s *Scheduler) Spec() string {
	return fmt.Sprintf("@every %s", s.interval)
}

// Run executes the job once right away, then on every tick until ctx is done.
// It waits for an in-flight execution before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid interval %s", s.interval)
	}

	log := cronLogger{}
	c := cron.New(cron.WithLogger(log))
	wrapped := cron.NewChain(cron.Recover(log), cron.SkipIfStillRunning(log)).
		Then(cron.FuncJob(func() { s.job(ctx) }))

	id, err := c.AddJob(s.Spec(), wrapped)
	if err != nil {
		return fmt.Errorf("scheduling job: %w", err)
	}

	s.mu.Lock()
	s.cron = c
	s.id = id
	s.mu.Unlock()

	logger.Info("Scheduler started", logger.Fields{"spec": s.Spec()})
	c.Start()

	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		wrapped.Run()
	}()

	<-ctx.Done()
	logger.Info("Scheduler stopping, waiting for running job", nil)

	stopped := c.Stop()
	first.Wait()
	<-stopped.Done()

	return nil
}

// NextRun returns the time of the next scheduled execution, or the zero time
// when the scheduler is not running
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.id).Next
}

// cronLogger adapts the package logger to cron.Logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, toFields(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, toFields(keysAndValues), err)
}

func toFields(keysAndValues []interface{}) logger.Fields {
	fields := make(logger.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
