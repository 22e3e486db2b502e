// Package config loads and validates monitor configuration via Viper.
//
// Values come from defaults, an optional YAML file and EVENTS_MONITOR_*
// environment variables, in increasing precedence. Secrets may be stored as
// "enc:..." values produced by the encrypt-secret command; they are decrypted
// with the passphrase in EVENTS_MONITOR_SECRET_KEY.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pfrederiksen/events-monitor/internal/crypto"
	"github.com/pfrederiksen/events-monitor/internal/filter"
	"github.com/pfrederiksen/events-monitor/internal/logger"
	"github.com/pfrederiksen/events-monitor/internal/storage"
)

const (
	// EnvPrefix is the prefix of every configuration environment variable
	EnvPrefix = "EVENTS_MONITOR"
	// SecretKeyEnv holds the passphrase for enc: secrets
	SecretKeyEnv = "EVENTS_MONITOR_SECRET_KEY"

	defaultConfigName = "events-monitor"
)

// Storage backends
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendGist     = "gist"
)

// Config captures all monitor configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig   `mapstructure:"source"`
	Sources []SourceConfig `mapstructure:"sources"`

	Email   EmailConfig   `mapstructure:"email"`
	Webhook WebhookConfig `mapstructure:"webhook"`

	CheckIntervalHours int           `mapstructure:"check_interval_hours"`
	TimeoutSeconds     int           `mapstructure:"timeout_seconds"`
	MaxFetchRetries    int           `mapstructure:"max_fetch_retries"`
	Backoff            BackoffConfig `mapstructure:"backoff"`
	Fetch              FetchConfig   `mapstructure:"fetch"`

	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// SourceConfig identifies one events listing
type SourceConfig struct {
	Name   string       `mapstructure:"name"`
	URL    string       `mapstructure:"url"`
	Filter FilterConfig `mapstructure:"filter"`
}

// FilterConfig restricts which of a source's events are tracked. Dates use
// YYYY-MM-DD.
type FilterConfig struct {
	Keywords        []string `mapstructure:"keywords"`
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
	DateFrom        string   `mapstructure:"date_from"`
	DateTo          string   `mapstructure:"date_to"`
	WeekendsOnly    bool     `mapstructure:"weekends_only"`
}

// Build returns the filter described by the config
func (f FilterConfig) Build() (*filter.Filter, error) {
	return filter.New(f.Keywords, f.ExcludeKeywords, f.DateFrom, f.DateTo, f.WeekendsOnly)
}

// EmailConfig configures the SMTP channel
type EmailConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	SMTPServer      string   `mapstructure:"smtp_server"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	SenderEmail     string   `mapstructure:"sender_email"`
	SenderPassword  string   `mapstructure:"sender_password"`
	RecipientEmails []string `mapstructure:"recipient_emails"`
	AttachCalendar  bool     `mapstructure:"attach_calendar"`
}

// WebhookConfig configures the webhook channel
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// BackoffConfig tunes fetch retry delays
type BackoffConfig struct {
	InitialMs  int     `mapstructure:"initial_ms"`
	MaxMs      int     `mapstructure:"max_ms"`
	Multiplier float64 `mapstructure:"multiplier"`
}

// FetchConfig controls how pages are retrieved
type FetchConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	Headless  bool   `mapstructure:"headless"`
}

// StorageConfig selects and configures the state backend
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisURL    string `mapstructure:"redis_url"`
	GistID      string `mapstructure:"gist_id"`
	GitHubToken string `mapstructure:"github_token"`
	// GistEncryptionKey encrypts gist content when set
	GistEncryptionKey string `mapstructure:"gist_encryption_key"`
}

// LoggingConfig sets log verbosity and format
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ServerConfig controls the status server in run mode. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk and environment. With an empty path the
// default locations are searched and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/events-monitor")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Email.RecipientEmails = splitList(cfg.Email.RecipientEmails)
	cfg.Source.Filter.Keywords = splitList(cfg.Source.Filter.Keywords)
	cfg.Source.Filter.ExcludeKeywords = splitList(cfg.Source.Filter.ExcludeKeywords)
	for i := range cfg.Sources {
		cfg.Sources[i].Filter.Keywords = splitList(cfg.Sources[i].Filter.Keywords)
		cfg.Sources[i].Filter.ExcludeKeywords = splitList(cfg.Sources[i].Filter.ExcludeKeywords)
	}

	if err := cfg.decryptSecrets(crypto.NewEncryptor(os.Getenv(SecretKeyEnv))); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.name", "")
	v.SetDefault("source.url", "")
	v.SetDefault("source.filter.keywords", []string{})
	v.SetDefault("source.filter.exclude_keywords", []string{})
	v.SetDefault("source.filter.date_from", "")
	v.SetDefault("source.filter.date_to", "")
	v.SetDefault("source.filter.weekends_only", false)
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_server", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.sender_email", "")
	v.SetDefault("email.sender_password", "")
	v.SetDefault("email.recipient_emails", []string{})
	v.SetDefault("email.attach_calendar", false)
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("check_interval_hours", 24)
	v.SetDefault("timeout_seconds", 30)
	v.SetDefault("max_fetch_retries", 3)
	v.SetDefault("backoff.initial_ms", 2000)
	v.SetDefault("backoff.max_ms", 30000)
	v.SetDefault("backoff.multiplier", 2.0)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.headless", false)
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.path", storage.DefaultDataDir)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.gist_id", "")
	v.SetDefault("storage.github_token", "")
	v.SetDefault("storage.gist_encryption_key", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("server.addr", "")
}

// splitList flattens comma-separated entries, as environment variables carry
// lists as a single string
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) decryptSecrets(enc *crypto.Encryptor) error {
	secrets := []struct {
		key   string
		value *string
	}{
		{"email.sender_password", &c.Email.SenderPassword},
		{"webhook.secret", &c.Webhook.Secret},
		{"storage.postgres_dsn", &c.Storage.PostgresDSN},
		{"storage.redis_url", &c.Storage.RedisURL},
		{"storage.github_token", &c.Storage.GitHubToken},
		{"storage.gist_encryption_key", &c.Storage.GistEncryptionKey},
	}

	for _, s := range secrets {
		plain, err := enc.DecryptSecret(*s.value)
		if err != nil {
			if errors.Is(err, crypto.ErrNoKey) {
				return fmt.Errorf("%s is encrypted but %s is not set", s.key, SecretKeyEnv)
			}
			return fmt.Errorf("decrypting %s: %w", s.key, err)
		}
		*s.value = plain
	}
	return nil
}

// ResolvedSources returns the configured sources. A single source.* block is
// used when no sources list is given.
func (c Config) ResolvedSources() []SourceConfig {
	if len(c.Sources) > 0 {
		return c.Sources
	}
	if c.Source.URL == "" {
		return nil
	}
	return []SourceConfig{c.Source}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	sources := c.ResolvedSources()
	if len(sources) == 0 {
		return fmt.Errorf("source.url or sources must be set")
	}
	seen := make(map[string]bool, len(sources))
	for i, s := range sources {
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("source %d: url must be an absolute http(s) URL, got %q", i, s.URL)
		}
		name := storage.StateName(s.Name)
		if seen[name] {
			return fmt.Errorf("source %d: duplicate source name %q", i, s.Name)
		}
		seen[name] = true
		if _, err := s.Filter.Build(); err != nil {
			return fmt.Errorf("source %d: filter: %w", i, err)
		}
	}

	if c.CheckIntervalHours <= 0 {
		return fmt.Errorf("check_interval_hours must be > 0")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be > 0")
	}
	if c.MaxFetchRetries < 1 {
		return fmt.Errorf("max_fetch_retries must be >= 1")
	}
	if c.Backoff.InitialMs <= 0 {
		return fmt.Errorf("backoff.initial_ms must be > 0")
	}
	if c.Backoff.MaxMs < c.Backoff.InitialMs {
		return fmt.Errorf("backoff.max_ms must be >= backoff.initial_ms")
	}
	if c.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff.multiplier must be >= 1")
	}

	if c.Email.Enabled {
		if c.Email.SMTPServer == "" {
			return fmt.Errorf("email.smtp_server must be set when email is enabled")
		}
		if c.Email.SenderEmail == "" {
			return fmt.Errorf("email.sender_email must be set when email is enabled")
		}
		if len(c.Email.RecipientEmails) == 0 {
			return fmt.Errorf("email.recipient_emails must be set when email is enabled")
		}
		if c.Email.SMTPPort <= 0 || c.Email.SMTPPort > 65535 {
			return fmt.Errorf("email.smtp_port must be between 1 and 65535")
		}
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url must be set when webhook is enabled")
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path must be set for the file backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn must be set for the postgres backend")
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url must be set for the redis backend")
		}
	case BackendGist:
		if c.Storage.GistID == "" || c.Storage.GitHubToken == "" {
			return fmt.Errorf("storage.gist_id and storage.github_token must be set for the gist backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of file, postgres, redis, gist; got %q", c.Storage.Backend)
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// CheckInterval returns the run-mode interval
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalHours) * time.Hour
}

// FetchTimeout returns the per-attempt fetch timeout
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
