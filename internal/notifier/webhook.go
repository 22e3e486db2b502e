package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body
	SignatureHeader = "X-Events-Monitor-Signature"

	defaultWebhookTimeout = 30 * time.Second
)

// WebhookConfig configures the webhook channel
type WebhookConfig struct {
	Enabled bool
	URL     string
	Secret  string
	Timeout time.Duration
}

// WebhookPayload is the JSON body posted to the webhook
type WebhookPayload struct {
	Text   string         `json:"text"`
	Count  int            `json:"count"`
	Source string         `json:"source"`
	Events []WebhookEvent `json:"events"`
}

// WebhookEvent is one record in the webhook payload
type WebhookEvent struct {
	IdentityKey string `json:"identity_key"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// WebhookChannel posts new records as JSON
type WebhookChannel struct {
	cfg    WebhookConfig
	source Source
	client *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(cfg WebhookConfig, source Source) *WebhookChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	return &WebhookChannel{
		cfg:    cfg,
		source: source,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *WebhookChannel) Name() string  { return "webhook" }
func (c *WebhookChannel) Enabled() bool { return c.cfg.Enabled }

// BuildPayload assembles the webhook body for records
func BuildPayload(source Source, records []*event.Record) WebhookPayload {
	events := make([]WebhookEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, WebhookEvent{
			IdentityKey: rec.Key,
			Title:       rec.Title,
			Date:        rec.DateText,
			Description: rec.Description,
			URL:         rec.URL,
		})
	}
	return WebhookPayload{
		Text:   renderChatText(source, records),
		Count:  len(records),
		Source: source.label(),
		Events: events,
	}
}

// Send posts the payload once; retries are left to the receiver's next run
func (c *WebhookChannel) Send(ctx context.Context, records []*event.Record) error {
	target, err := url.Parse(c.cfg.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return channelErr(c.Name(), FailureBadConfig, fmt.Errorf("invalid webhook URL %q", c.cfg.URL))
	}

	body, err := json.Marshal(BuildPayload(c.source, records))
	if err != nil {
		return channelErr(c.Name(), FailureBadConfig, fmt.Errorf("encoding payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return channelErr(c.Name(), FailureBadConfig, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, ComputeSignature(c.cfg.Secret, body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return channelErr(c.Name(), FailureConnection, fmt.Errorf("sending webhook: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	// drain a little so keep-alive connections can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return channelErr(c.Name(), FailureAuth, fmt.Errorf("webhook returned status %d", resp.StatusCode))
	default:
		return channelErr(c.Name(), FailureRemoteRejected, fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}

// ComputeSignature returns the hex HMAC-SHA256 of body
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
