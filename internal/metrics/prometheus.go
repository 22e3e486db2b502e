package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pfrederiksen/events-monitor/internal/logger"
)

const namespace = "events_monitor"

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	lastRunTimestamp *prometheus.GaugeVec
	fetchAttempts    *prometheus.CounterVec
	recordsExtracted *prometheus.GaugeVec
	newRecordsTotal  *prometheus.CounterVec
	stateReadCorrupt *prometheus.CounterVec
	persistFailures  *prometheus.CounterVec

	channelResults  *prometheus.CounterVec
	channelDuration *prometheus.HistogramVec
}

// NewPrometheusSink creates a sink registered on reg
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPipelineMetrics(reg)
	s.initNotifierMetrics(reg)
	return s
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Total number of monitor runs by outcome.",
	}, []string{"source", "outcome"})

	s.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of a full monitor run in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"source"})

	s.lastRunTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last completed run.",
	}, []string{"source"})

	s.fetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "Total number of page fetch attempts by result.",
	}, []string{"source", "attempt", "result"})

	s.recordsExtracted = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "records_extracted",
		Help:      "Number of records extracted by the last run.",
	}, []string{"source"})

	s.newRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "new_records_total",
		Help:      "Total number of new records detected.",
	}, []string{"source"})

	s.stateReadCorrupt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_read_corrupt_total",
		Help:      "Total number of unreadable persisted states.",
	}, []string{"source"})

	s.persistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Total number of failed state saves.",
	}, []string{"source"})

	s.register(reg, s.runsTotal, "runs_total")
	s.register(reg, s.runDuration, "run_duration_seconds")
	s.register(reg, s.lastRunTimestamp, "last_run_timestamp_seconds")
	s.register(reg, s.fetchAttempts, "fetch_attempts_total")
	s.register(reg, s.recordsExtracted, "records_extracted")
	s.register(reg, s.newRecordsTotal, "new_records_total")
	s.register(reg, s.stateReadCorrupt, "state_read_corrupt_total")
	s.register(reg, s.persistFailures, "persist_failures_total")
}

func (s *PrometheusSink) initNotifierMetrics(reg prometheus.Registerer) {
	s.channelResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_results_total",
		Help:      "Total number of notification channel results by status.",
	}, []string{"channel", "status"})

	s.channelDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "channel_duration_seconds",
		Help:      "Time spent sending one notification batch in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})

	s.register(reg, s.channelResults, "channel_results_total")
	s.register(reg, s.channelDuration, "channel_duration_seconds")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		logger.Warn("Failed to register metric", logger.Fields{"metric": namespace + "_" + name, "error": err.Error()})
	}
}

func (s *PrometheusSink) RunCompleted(source, outcome string, duration time.Duration) {
	s.runsTotal.WithLabelValues(source, outcome).Inc()
	s.runDuration.WithLabelValues(source).Observe(duration.Seconds())
	s.lastRunTimestamp.WithLabelValues(source).SetToCurrentTime()
}

func (s *PrometheusSink) FetchAttempt(source string, attempt int, result string) {
	s.fetchAttempts.WithLabelValues(source, strconv.Itoa(attempt), result).Inc()
}

func (s *PrometheusSink) RecordsExtracted(source string, count int) {
	s.recordsExtracted.WithLabelValues(source).Set(float64(count))
}

func (s *PrometheusSink) NewRecordsFound(source string, count int) {
	s.newRecordsTotal.WithLabelValues(source).Add(float64(count))
}

func (s *PrometheusSink) StateReadCorrupt(source string) {
	s.stateReadCorrupt.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) PersistFailed(source string) {
	s.persistFailures.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) ChannelResult(channel, status string, duration time.Duration) {
	s.channelResults.WithLabelValues(channel, status).Inc()
	if status != "skipped" {
		s.channelDuration.WithLabelValues(channel).Observe(duration.Seconds())
	}
}
