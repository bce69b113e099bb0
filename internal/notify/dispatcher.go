package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"statusbot/internal/metrics"
	"statusbot/internal/registry"
)

const defaultSendTimeout = 10 * time.Second

// Sender delivers one HTML message to one chat.
type Sender interface {
	SendHTML(ctx context.Context, chatID string, text string) error
}

// Directory resolves a category to the chat ids subscribed to it.
type Directory interface {
	ListMatching(c registry.Category) []string
}

// Report summarises one dispatch. Err aggregates the per-recipient failures.
type Report struct {
	ID        string
	Attempted int
	Delivered int
	Err       error
}

func (r Report) Failed() int {
	return len(multierr.Errors(r.Err))
}

// Dispatcher fans a message out to recipients one by one. A failing recipient
// never prevents delivery to the others.
type Dispatcher struct {
	sender    Sender
	directory Directory
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewDispatcher(sender Sender, directory Directory, timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{
		sender:    sender,
		directory: directory,
		timeout:   timeout,
		metrics:   m,
		logger:    slog.Default(),
	}
}

// Dispatch sends message to every recipient in order.
func (d *Dispatcher) Dispatch(ctx context.Context, message string, recipients []string) Report {
	report := Report{ID: uuid.NewString()}
	for _, chatID := range recipients {
		if ctx.Err() != nil {
			report.Err = multierr.Append(report.Err, fmt.Errorf("chat %s: %w", chatID, ctx.Err()))
			continue
		}
		report.Attempted++
		if err := d.deliver(ctx, chatID, message); err != nil {
			d.metrics.Delivery(false)
			d.logger.Warn("failed to deliver notification", "dispatch_id", report.ID, "chat_id", chatID, "error", err)
			report.Err = multierr.Append(report.Err, fmt.Errorf("chat %s: %w", chatID, err))
			continue
		}
		d.metrics.Delivery(true)
		report.Delivered++
	}
	if len(recipients) > 0 {
		d.logger.Debug("dispatch finished",
			"dispatch_id", report.ID,
			"recipients", len(recipients),
			"delivered", report.Delivered,
		)
	}
	return report
}

// Notify dispatches message to every subscriber of category c.
func (d *Dispatcher) Notify(ctx context.Context, c registry.Category, message string) Report {
	if d.directory == nil {
		return Report{ID: uuid.NewString()}
	}
	return d.Dispatch(ctx, message, d.directory.ListMatching(c))
}

func (d *Dispatcher) deliver(ctx context.Context, chatID string, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sender.SendHTML(sendCtx, chatID, message)
}
