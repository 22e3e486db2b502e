package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/calendar"
	"github.com/pfrederiksen/events-monitor/internal/event"
	"github.com/pfrederiksen/events-monitor/internal/logger"
)

const (
	defaultSMTPPort    = 587
	implicitTLSPort    = 465
	defaultSMTPTimeout = 30 * time.Second
	calendarFilename   = "events.ics"
)

// EmailConfig configures the email channel
type EmailConfig struct {
	Enabled        bool
	SMTPServer     string
	SMTPPort       int
	SenderEmail    string
	SenderPassword string
	Recipients     []string
	AttachCalendar bool
	Timeout        time.Duration
}

// smtpClient is the subset of *smtp.Client the channel uses
type smtpClient interface {
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

type dialFunc func(ctx context.Context, host string, port int, timeout time.Duration) (smtpClient, error)

// EmailChannel sends one summary message per batch over SMTP
type EmailChannel struct {
	cfg    EmailConfig
	source Source
	dial   dialFunc
	now    func() time.Time
}

// NewEmailChannel creates an email channel
func NewEmailChannel(cfg EmailConfig, source Source) *EmailChannel {
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = defaultSMTPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &EmailChannel{
		cfg:    cfg,
		source: source,
		dial:   dialSMTP,
		now:    time.Now,
	}
}

func (c *EmailChannel) Name() string  { return "email" }
func (c *EmailChannel) Enabled() bool { return c.cfg.Enabled }

// Send validates addresses, then delivers a single message to all recipients
func (c *EmailChannel) Send(ctx context.Context, records []*event.Record) error {
	from, to, err := c.addresses()
	if err != nil {
		return channelErr(c.Name(), FailureBadConfig, err)
	}

	msg, err := c.buildMessage(from, to, records)
	if err != nil {
		return channelErr(c.Name(), FailureBadConfig, fmt.Errorf("building message: %w", err))
	}

	client, err := c.dial(ctx, c.cfg.SMTPServer, c.cfg.SMTPPort, c.cfg.Timeout)
	if err != nil {
		return channelErr(c.Name(), FailureConnection, fmt.Errorf("connecting to %s: %w", c.cfg.SMTPServer, err))
	}
	defer client.Close() // nolint:errcheck

	if c.cfg.SMTPPort != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: c.cfg.SMTPServer, MinVersion: tls.VersionTLS12}); err != nil {
				return channelErr(c.Name(), FailureConnection, fmt.Errorf("starting TLS: %w", err))
			}
		}
	}

	if c.cfg.SenderPassword != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", from.Address, c.cfg.SenderPassword, c.cfg.SMTPServer)
			if err := client.Auth(auth); err != nil {
				return channelErr(c.Name(), FailureAuth, fmt.Errorf("authenticating: %w", err))
			}
		}
	}

	if err := client.Mail(from.Address); err != nil {
		return c.protocolErr("sending MAIL FROM", err)
	}
	for _, addr := range to {
		if err := client.Rcpt(addr.Address); err != nil {
			return c.protocolErr(fmt.Sprintf("adding recipient %s", addr.Address), err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return c.protocolErr("starting DATA", err)
	}
	if _, err := w.Write(msg); err != nil {
		return c.protocolErr("writing message", err)
	}
	if err := w.Close(); err != nil {
		return c.protocolErr("finishing message", err)
	}

	// the message is already accepted; a failed QUIT is not a delivery failure
	_ = client.Quit()
	return nil
}

func (c *EmailChannel) addresses() (*mail.Address, []*mail.Address, error) {
	if c.cfg.SMTPServer == "" {
		return nil, nil, errors.New("smtp server is not set")
	}
	from, err := mail.ParseAddress(c.cfg.SenderEmail)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid sender address %q: %w", c.cfg.SenderEmail, err)
	}
	if len(c.cfg.Recipients) == 0 {
		return nil, nil, errors.New("no recipients configured")
	}
	to := make([]*mail.Address, 0, len(c.cfg.Recipients))
	for _, r := range c.cfg.Recipients {
		addr, err := mail.ParseAddress(strings.TrimSpace(r))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid recipient address %q: %w", r, err)
		}
		to = append(to, addr)
	}
	return from, to, nil
}

func (c *EmailChannel) protocolErr(step string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		kind := FailureRemoteRejected
		if protoErr.Code == 530 || protoErr.Code == 535 {
			kind = FailureAuth
		}
		return channelErr(c.Name(), kind, fmt.Errorf("%s: %w", step, err))
	}
	return channelErr(c.Name(), FailureConnection, fmt.Errorf("%s: %w", step, err))
}

// buildMessage renders the RFC 5322 message. With a calendar attachment the
// body becomes multipart/mixed.
func (c *EmailChannel) buildMessage(from *mail.Address, to []*mail.Address, records []*event.Record) ([]byte, error) {
	now := c.now()
	var buf bytes.Buffer

	recipients := make([]string, len(to))
	for i, addr := range to {
		recipients[i] = addr.String()
	}

	writeHeader(&buf, "From", from.String())
	writeHeader(&buf, "To", strings.Join(recipients, ", "))
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", Subject(c.source, len(records))))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	text := RenderText(c.source, records)

	var ics string
	if c.cfg.AttachCalendar {
		var dated int
		ics, dated = calendar.GenerateICS(records, c.source.label()+" Events", now)
		if dated == 0 {
			logger.Warn("No dated events, sending email without calendar", logger.Fields{
				"source":  c.source.label(),
				"records": len(records),
			})
		}
	}

	if ics == "" {
		writeHeader(&buf, "Content-Type", `text/plain; charset="utf-8"`)
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, text); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/plain; charset="utf-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeQuotedPrintable(textPart, text); err != nil {
		return nil, err
	}

	icsPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf(`text/calendar; charset="utf-8"; method=PUBLISH; name=%q`, calendarFilename)},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", calendarFilename)},
	})
	if err != nil {
		return nil, err
	}
	if _, err := icsPart.Write(wrapBase64([]byte(ics))); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key + ": " + value + "\r\n")
}

func writeQuotedPrintable(w io.Writer, text string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(strings.ReplaceAll(text, "\n", "\r\n"))); err != nil {
		return err
	}
	return qp.Close()
}

// wrapBase64 encodes data in 76-column lines
func wrapBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	var out bytes.Buffer
	for len(encoded) > 76 {
		out.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	out.WriteString(encoded + "\r\n")
	return out.Bytes()
}

// dialSMTP connects with implicit TLS on port 465 and plain TCP otherwise
func dialSMTP(ctx context.Context, host string, port int, timeout time.Duration) (smtpClient, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close() // nolint:errcheck
		return nil, err
	}

	if port == implicitTLSPort {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close() // nolint:errcheck
			return nil, err
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close() // nolint:errcheck
		return nil, err
	}
	return client, nil
}
