package notifier

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

// DryRunChannel prints what would be sent without contacting anyone
type DryRunChannel struct {
	source Source
	out    io.Writer
}

// NewDryRunChannel creates a dry-run channel writing to out (stdout when nil)
func NewDryRunChannel(source Source, out io.Writer) *DryRunChannel {
	if out == nil {
		out = os.Stdout
	}
	return &DryRunChannel{source: source, out: out}
}

func (c *DryRunChannel) Name() string  { return "dry-run" }
func (c *DryRunChannel) Enabled() bool { return true }

// Send prints the rendered notification
func (c *DryRunChannel) Send(_ context.Context, records []*event.Record) error {
	fmt.Fprintf(c.out, "--- %s ---\n", Subject(c.source, len(records))) // nolint:errcheck
	if _, err := fmt.Fprint(c.out, RenderText(c.source, records)); err != nil {
		return channelErr(c.Name(), FailureConnection, fmt.Errorf("writing output: %w", err))
	}
	return nil
}
