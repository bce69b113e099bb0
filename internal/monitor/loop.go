package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"statusbot/internal/metrics"
	"statusbot/internal/notify"
	"statusbot/internal/probe"
	"statusbot/internal/registry"
	"statusbot/internal/tier"
)

const (
	defaultInterval = 10 * time.Second
	defaultAttempts = 4
	defaultTimeout  = time.Second
)

type TargetLister interface {
	List() []registry.Target
	Get(name string) (registry.Target, bool)
}

type Prober interface {
	Probe(ctx context.Context, address string, attempts int, timeout time.Duration) probe.Result
}

type Notifier interface {
	Notify(ctx context.Context, c registry.Category, message string) notify.Report
}

type Options struct {
	Interval time.Duration
	Attempts int
	Timeout  time.Duration
	// Contact is appended to outage notices.
	Contact string
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Loop probes every registered target once per interval and notifies
// subscribers when a target's tier changes.
type Loop struct {
	targets  TargetLister
	prober   Prober
	table    *tier.Table
	notifier Notifier

	interval time.Duration
	attempts int
	timeout  time.Duration
	contact  string
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(targets TargetLister, prober Prober, table *tier.Table, notifier Notifier, opts Options) *Loop {
	l := &Loop{
		targets:  targets,
		prober:   prober,
		table:    table,
		notifier: notifier,
		interval: opts.Interval,
		attempts: opts.Attempts,
		timeout:  opts.Timeout,
		contact:  opts.Contact,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   slog.Default(),
	}
	if l.interval <= 0 {
		l.interval = defaultInterval
	}
	if l.attempts <= 0 {
		l.attempts = defaultAttempts
	}
	if l.timeout <= 0 {
		l.timeout = defaultTimeout
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	return l
}

// Run performs one iteration immediately and then one per interval until ctx
// is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := l.clock.Ticker(l.interval)
	defer ticker.Stop()

	l.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce probes and classifies every target sequentially.
func (l *Loop) RunOnce(ctx context.Context) {
	targets := l.targets.List()
	names := make([]string, 0, len(targets))
	for _, target := range targets {
		names = append(names, target.Name)
	}
	l.table.Retain(names)

	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		if err := l.check(ctx, target); err != nil {
			l.logger.Error("target check failed", "target", target.Name, "error", err)
		}
	}
}

func (l *Loop) check(ctx context.Context, target registry.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	result := l.prober.Probe(ctx, target.Address, l.attempts, l.timeout)
	if ctx.Err() != nil {
		return nil
	}
	// The target may have been removed or re-added with another address
	// while it was being probed.
	if current, ok := l.targets.Get(target.Name); !ok || current.Address != target.Address {
		l.logger.Debug("discarding result for changed target", "target", target.Name)
		return nil
	}
	current, code := l.table.Observe(target.Name, result)
	if code == tier.NoChange {
		return nil
	}

	l.metrics.TierChange(current.String())
	l.logger.Info("target tier changed",
		"target", target.Name,
		"tier", current.String(),
		"average_ms", result.AverageLatency,
		"successes", result.Successes,
	)

	category := registry.CategoryStatus
	message := StatusMessage(target.Name, current, result)
	if current == tier.Down {
		category = registry.CategoryDown
		message = DownMessage(target.Name, l.contact)
	}
	report := l.notifier.Notify(ctx, category, message)
	if report.Err != nil {
		l.logger.Warn("tier change notification partially failed",
			"target", target.Name,
			"dispatch_id", report.ID,
			"failed", report.Failed(),
			"delivered", report.Delivered,
		)
	}
	return nil
}
