package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/config"
	"github.com/pfrederiksen/events-monitor/internal/logger"
	"github.com/pfrederiksen/events-monitor/internal/metrics"
	"github.com/pfrederiksen/events-monitor/internal/notifier"
	"github.com/pfrederiksen/events-monitor/internal/pipeline"
	"github.com/pfrederiksen/events-monitor/internal/scraper"
	"github.com/pfrederiksen/events-monitor/internal/scraper/headless"
	"github.com/pfrederiksen/events-monitor/internal/storage"
)

// monitor holds one pipeline per configured source plus the resources they share
type monitor struct {
	pipelines []*pipeline.Pipeline
	closers   []func() error
}

func (m *monitor) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			logger.Warn("Failed to release resource", logger.Fields{"error": err.Error()})
		}
	}
}

type buildOptions struct {
	dryRun  bool
	only    string
	out     io.Writer
	metrics metrics.Sink
}

// setupLogger installs the configured logger; verbose forces debug level
func setupLogger(cfg config.Config, verbose bool) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logger.LevelInfo
	}
	if verbose {
		level = logger.LevelDebug
	}
	if cfg.Logging.Development {
		logger.SetDefault(logger.NewDevelopment(level, os.Stderr))
		return
	}
	logger.SetDefault(logger.New(level, os.Stderr))
}

// selectSources returns the configured sources, or only the one named only
func selectSources(cfg config.Config, only string) ([]config.SourceConfig, error) {
	sources := cfg.ResolvedSources()
	if only == "" {
		return sources, nil
	}
	for _, s := range sources {
		if strings.EqualFold(s.Name, only) {
			return []config.SourceConfig{s}, nil
		}
	}
	return nil, fmt.Errorf("unknown source %q", only)
}

func buildMonitor(ctx context.Context, cfg config.Config, opts buildOptions) (*monitor, error) {
	sources, err := selectSources(cfg, opts.only)
	if err != nil {
		return nil, err
	}

	m := &monitor{}
	fetcher := newFetcher(cfg, m)

	retry := pipeline.RetryConfig{
		Attempts:        cfg.MaxFetchRetries,
		InitialInterval: time.Duration(cfg.Backoff.InitialMs) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Backoff.MaxMs) * time.Millisecond,
		Multiplier:      cfg.Backoff.Multiplier,
	}

	for _, src := range sources {
		store, err := openStore(ctx, cfg.Storage, src.Name)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("opening state store for %q: %w", src.URL, err)
		}
		m.closers = append(m.closers, store.Close)

		f, err := src.Filter.Build()
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("filter for %q: %w", src.URL, err)
		}
		if !f.IsEmpty() {
			logger.Info("Filtering source events", logger.Fields{"source": src.Name, "filter": f.String()})
		}

		source := notifier.Source{Name: src.Name, URL: src.URL}
		dispatcher := notifier.NewDispatcher(buildChannels(cfg, source, opts)...)

		m.pipelines = append(m.pipelines, pipeline.New(fetcher, f.Wrap(scraper.NewExtractor()), store, dispatcher, pipeline.Options{
			Source:       source,
			FetchTimeout: cfg.FetchTimeout(),
			Retry:        retry,
			Metrics:      opts.metrics,
			DryRun:       opts.dryRun,
		}))
	}

	return m, nil
}

func newFetcher(cfg config.Config, m *monitor) scraper.Fetcher {
	if cfg.Fetch.Headless {
		f := headless.New(cfg.Fetch.UserAgent)
		m.closers = append(m.closers, func() error {
			f.Close()
			return nil
		})
		return f
	}
	return scraper.NewHTTPFetcher(cfg.Fetch.UserAgent)
}

func openStore(ctx context.Context, cfg config.StorageConfig, source string) (storage.StateStore, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return storage.NewPostgresStore(ctx, cfg.PostgresDSN, source)
	case config.BackendRedis:
		return storage.NewRedisStore(ctx, cfg.RedisURL, source)
	case config.BackendGist:
		return storage.NewGistStore(cfg.GistID, cfg.GitHubToken, source, cfg.GistEncryptionKey)
	case config.BackendFile, "":
		return storage.NewFileStore(cfg.Path, source)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// buildChannels returns the configured channels in a fixed order. A dry run
// replaces them all with a single printing channel.
func buildChannels(cfg config.Config, source notifier.Source, opts buildOptions) []notifier.Channel {
	if opts.dryRun {
		return []notifier.Channel{notifier.NewDryRunChannel(source, opts.out)}
	}

	return []notifier.Channel{
		notifier.NewEmailChannel(notifier.EmailConfig{
			Enabled:        cfg.Email.Enabled,
			SMTPServer:     cfg.Email.SMTPServer,
			SMTPPort:       cfg.Email.SMTPPort,
			SenderEmail:    cfg.Email.SenderEmail,
			SenderPassword: cfg.Email.SenderPassword,
			Recipients:     cfg.Email.RecipientEmails,
			AttachCalendar: cfg.Email.AttachCalendar,
			Timeout:        cfg.FetchTimeout(),
		}, source),
		notifier.NewWebhookChannel(notifier.WebhookConfig{
			Enabled: cfg.Webhook.Enabled,
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.FetchTimeout(),
		}, source),
	}
}
