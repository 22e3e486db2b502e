// Package notifier delivers new-event notifications over independent channels.
//
// A Dispatcher fans a batch of new records out to every configured Channel
// concurrently and collects one ChannelResult per channel, in configuration
// order. Channels never affect each other: a failing email server does not
// stop the webhook. Failures are reported as ChannelError values classified
// as auth, connection, bad configuration or remote rejection.
//
// Channels:
//   - EmailChannel sends one plain-text summary over SMTP, upgrading with
//     STARTTLS when the server offers it, and can attach an events.ics file
//   - WebhookChannel posts a JSON payload, optionally signed with HMAC-SHA256
//   - DryRunChannel prints the rendered summary instead of sending it
package notifier
