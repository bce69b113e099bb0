package webhook

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const limitPeriod = time.Minute

// rateLimiter admits at most limit webhook deliveries per client in each
// fixed period. A client's budget starts with its first request.
type rateLimiter struct {
	clock  clock.Clock
	limit  int
	period time.Duration

	mu      sync.Mutex
	budgets map[string]*budget
}

type budget struct {
	resetAt time.Time
	used    int
}

func newRateLimiter(clk clock.Clock, perPeriod int) *rateLimiter {
	if perPeriod <= 0 {
		perPeriod = 1
	}
	return &rateLimiter{
		clock:   clk,
		limit:   perPeriod,
		period:  limitPeriod,
		budgets: make(map[string]*budget),
	}
}

// Allow spends one request from client's budget. When the budget is exhausted
// it returns false and the time until the budget resets.
func (l *rateLimiter) Allow(client string) (bool, time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.budgets {
		if !now.Before(b.resetAt) {
			delete(l.budgets, key)
		}
	}

	b, ok := l.budgets[client]
	if !ok {
		b = &budget{resetAt: now.Add(l.period)}
		l.budgets[client] = b
	}
	if b.used >= l.limit {
		return false, b.resetAt.Sub(now)
	}
	b.used++
	return true, 0
}
