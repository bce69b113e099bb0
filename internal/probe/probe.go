package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"statusbot/internal/metrics"
)

// Result is the aggregate of one probe cycle against a single address.
// Latencies are in milliseconds, in the order the probes were sent.
type Result struct {
	Attempts       int
	Successes      int
	Latencies      []float64
	AverageLatency float64
	SuccessRate    float64
	Reachable      bool
}

// Pinger sends a single echo request and returns the round-trip time.
type Pinger interface {
	Echo(ctx context.Context, address string, timeout time.Duration) (time.Duration, error)
}

type Prober struct {
	pinger  Pinger
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(pinger Pinger, m *metrics.Metrics) *Prober {
	return &Prober{
		pinger:  pinger,
		logger:  slog.Default(),
		metrics: m,
	}
}

// Probe sends attempts sequential echo requests to address. Failed or timed out
// requests are counted as failures and never returned as errors.
func (p *Prober) Probe(ctx context.Context, address string, attempts int, timeout time.Duration) Result {
	if attempts < 1 {
		attempts = 1
	}
	samples := make([]float64, 0, attempts)
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			break
		}
		rtt, err := p.echo(ctx, address, timeout)
		p.metrics.ProbeAttempt(err == nil)
		if err != nil {
			p.logger.Debug("probe failed", "address", address, "attempt", i+1, "error", err)
			continue
		}
		samples = append(samples, float64(rtt)/float64(time.Millisecond))
	}
	return Summarize(attempts, samples)
}

func (p *Prober) echo(ctx context.Context, address string, timeout time.Duration) (rtt time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("echo panicked: %v", r)
		}
	}()
	return p.pinger.Echo(ctx, address, timeout)
}

// Summarize reduces raw millisecond samples from attempts probes to a Result.
func Summarize(attempts int, samples []float64) Result {
	result := Result{
		Attempts:  attempts,
		Successes: len(samples),
		Latencies: make([]float64, 0, len(samples)),
	}
	if len(samples) == 0 {
		return result
	}
	total := 0.0
	for _, sample := range samples {
		total += sample
		result.Latencies = append(result.Latencies, round2(sample))
	}
	result.AverageLatency = round2(total / float64(len(samples)))
	if attempts > 0 {
		result.SuccessRate = float64(len(samples)) / float64(attempts)
	}
	result.Reachable = true
	return result
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
