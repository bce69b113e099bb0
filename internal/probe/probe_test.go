package probe

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

type scriptedPinger struct {
	mu      sync.Mutex
	replies []reply
	calls   int
}

type reply struct {
	rtt   time.Duration
	err   error
	panic bool
}

func (s *scriptedPinger) Echo(_ context.Context, _ string, _ time.Duration) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.replies[s.calls%len(s.replies)]
	s.calls++
	if r.panic {
		panic("boom")
	}
	return r.rtt, r.err
}

func ms(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

var errTimeout = errors.New("i/o timeout")

func TestProbeAllSuccessful(t *testing.T) {
	t.Parallel()

	pinger := &scriptedPinger{replies: []reply{{rtt: ms(50)}, {rtt: ms(55)}, {rtt: ms(52)}, {rtt: ms(53)}}}
	result := New(pinger, nil).Probe(context.Background(), "192.0.2.1", 4, time.Second)

	if result.Attempts != 4 || result.Successes != 4 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.AverageLatency != 52.5 {
		t.Fatalf("expected average 52.5, got %v", result.AverageLatency)
	}
	if result.SuccessRate != 1.0 || !result.Reachable {
		t.Fatalf("unexpected rate/reachability: %+v", result)
	}
	want := []float64{50, 55, 52, 53}
	for i, v := range want {
		if result.Latencies[i] != v {
			t.Fatalf("latency %d = %v, want %v", i, result.Latencies[i], v)
		}
	}
}

func TestProbeAllFailed(t *testing.T) {
	t.Parallel()

	for _, attempts := range []int{1, 2, 4, 7} {
		pinger := &scriptedPinger{replies: []reply{{err: errTimeout}}}
		result := New(pinger, nil).Probe(context.Background(), "192.0.2.1", attempts, time.Second)
		if result.Reachable {
			t.Fatalf("attempts=%d: expected unreachable", attempts)
		}
		if result.AverageLatency != 0 || result.SuccessRate != 0 || len(result.Latencies) != 0 {
			t.Fatalf("attempts=%d: unexpected result %+v", attempts, result)
		}
		if pinger.calls != attempts {
			t.Fatalf("attempts=%d: expected %d sequential probes, got %d", attempts, attempts, pinger.calls)
		}
	}
}

func TestProbePartialSuccess(t *testing.T) {
	t.Parallel()

	pinger := &scriptedPinger{replies: []reply{{rtt: ms(10.004)}, {err: errTimeout}, {panic: true}, {rtt: ms(20.5)}}}
	result := New(pinger, nil).Probe(context.Background(), "192.0.2.1", 4, time.Second)

	if result.Successes != 2 {
		t.Fatalf("expected 2 successes, got %d", result.Successes)
	}
	if result.SuccessRate <= 0 || result.SuccessRate > 1 {
		t.Fatalf("success rate out of range: %v", result.SuccessRate)
	}
	if result.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", result.SuccessRate)
	}
	if result.AverageLatency != 15.25 {
		t.Fatalf("expected average 15.25, got %v", result.AverageLatency)
	}
	if result.Latencies[0] != 10 {
		t.Fatalf("expected rounded latency 10, got %v", result.Latencies[0])
	}
}

func TestProbeClampsAttempts(t *testing.T) {
	t.Parallel()

	pinger := &scriptedPinger{replies: []reply{{rtt: ms(1)}}}
	result := New(pinger, nil).Probe(context.Background(), "192.0.2.1", 0, time.Second)
	if result.Attempts != 1 || pinger.calls != 1 {
		t.Fatalf("expected a single attempt, got %+v (calls=%d)", result, pinger.calls)
	}
}

func TestProbeStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pinger := &scriptedPinger{replies: []reply{{rtt: ms(1)}}}
	result := New(pinger, nil).Probe(ctx, "192.0.2.1", 4, time.Second)
	if pinger.calls != 0 {
		t.Fatalf("expected no probes after cancellation, got %d", pinger.calls)
	}
	if result.Reachable {
		t.Fatal("expected unreachable result")
	}
}

func TestSummarizeReachableRate(t *testing.T) {
	t.Parallel()

	for successes := 1; successes <= 5; successes++ {
		samples := make([]float64, successes)
		for i := range samples {
			samples[i] = float64(i + 1)
		}
		result := Summarize(5, samples)
		if !result.Reachable || result.SuccessRate <= 0 || result.SuccessRate > 1 {
			t.Fatalf("successes=%d: unexpected result %+v", successes, result)
		}
	}
}

func TestResolveLiteral(t *testing.T) {
	t.Parallel()

	ip, err := resolve(context.Background(), "192.0.2.7")
	if err != nil {
		t.Fatalf("resolve literal: %v", err)
	}
	if ip.String() != "192.0.2.7" {
		t.Fatalf("unexpected ip: %s", ip)
	}
}

func TestFamilySelection(t *testing.T) {
	t.Parallel()

	p := NewICMPPinger(false)
	if f := p.family(netIP(t, "192.0.2.1")); f.network != "udp4" || f.protocol != protocolICMP {
		t.Fatalf("unexpected ipv4 family: %+v", f)
	}
	p.Privileged = true
	if f := p.family(netIP(t, "2001:db8::1")); f.network != "ip6:ipv6-icmp" || f.protocol != protocolIPv6ICMP {
		t.Fatalf("unexpected ipv6 family: %+v", f)
	}
}

func netIP(t *testing.T, literal string) net.IP {
	t.Helper()
	ip := net.ParseIP(literal)
	if ip == nil {
		t.Fatalf("invalid literal %q", literal)
	}
	return ip
}
