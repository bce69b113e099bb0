package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"statusbot/internal/config"
	"statusbot/internal/metrics"
	"statusbot/internal/notify"
	"statusbot/internal/registry"
)

type fakeNotifier struct {
	mu       sync.Mutex
	category []registry.Category
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, c registry.Category, message string) notify.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.category = append(f.category, c)
	f.messages = append(f.messages, message)
	return notify.Report{ID: "test"}
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestServer(secret string, limit int) (*Server, *fakeNotifier) {
	notifier := &fakeNotifier{}
	cfg := config.Webhook{Path: "/webhook", Secret: secret, RateLimitPerMinute: limit}
	return New(cfg, "Ping @ops", notifier, nil, clock.NewMock()), notifier
}

func post(srv *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookBroadcastsRestartNotice(t *testing.T) {
	t.Parallel()

	srv, notifier := newTestServer("", 10)
	rec := post(srv, `{"ref":"refs/heads/main"}`, map[string]string{"X-GitHub-Event": "push"})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Body.String() != "Webhook processed successfully" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if notifier.count() != 1 || notifier.category[0] != registry.CategoryBroadcast {
		t.Fatalf("expected one broadcast notice, got %+v", notifier.category)
	}
	if !strings.Contains(notifier.messages[0], "restart") || !strings.Contains(notifier.messages[0], "Ping @ops") {
		t.Fatalf("unexpected notice: %q", notifier.messages[0])
	}
}

func TestWebhookPingIsNotBroadcast(t *testing.T) {
	t.Parallel()

	srv, notifier := newTestServer("", 10)
	rec := post(srv, `{}`, map[string]string{"X-GitHub-Event": "ping"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if notifier.count() != 0 {
		t.Fatal("ping event must not notify")
	}
}

func TestWebhookSignature(t *testing.T) {
	t.Parallel()

	body := `{"zen":"keep it simple"}`
	srv, notifier := newTestServer("s3cret", 10)

	if rec := post(srv, body, map[string]string{"X-GitHub-Event": "push"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: expected 401, got %d", rec.Code)
	}
	bad := map[string]string{"X-GitHub-Event": "push", "X-Hub-Signature-256": sign("other", []byte(body))}
	if rec := post(srv, body, bad); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong signature: expected 401, got %d", rec.Code)
	}
	if notifier.count() != 0 {
		t.Fatal("rejected requests must not notify")
	}

	good := map[string]string{"X-GitHub-Event": "push", "X-Hub-Signature-256": sign("s3cret", []byte(body))}
	if rec := post(srv, body, good); rec.Code != http.StatusOK {
		t.Fatalf("valid signature: expected 200, got %d", rec.Code)
	}
	if notifier.count() != 1 {
		t.Fatal("expected a notice for a signed request")
	}
}

func TestWebhookRateLimit(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer("", 2)
	headers := map[string]string{"X-GitHub-Event": "push"}
	for i := 0; i < 2; i++ {
		if rec := post(srv, `{}`, headers); rec.Code != http.StatusOK {
			t.Fatalf("request %d: unexpected status %d", i+1, rec.Code)
		}
	}
	if rec := post(srv, `{}`, headers); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer("", 10)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Delivery(true)
	srv := New(config.Webhook{Path: "/webhook"}, "", &fakeNotifier{}, reg, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "statusbot_deliveries_total") {
		t.Fatalf("metrics output missing counter: %q", rec.Body.String())
	}
}

func TestWebhookRateLimitIgnoresForwardedHeaders(t *testing.T) {
	t.Parallel()

	srv, notifier := newTestServer("", 2)
	accepted := 0
	for i := 0; i < 20; i++ {
		rec := post(srv, `{}`, map[string]string{
			"X-GitHub-Event":  "push",
			"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i+1),
			"X-Real-IP":       fmt.Sprintf("10.0.1.%d", i+1),
		})
		if rec.Code == http.StatusOK {
			accepted++
		}
	}
	if accepted != 2 || notifier.count() != 2 {
		t.Fatalf("expected 2 accepted requests from one peer, got %d (notices %d)", accepted, notifier.count())
	}
}

func TestWebhookTrustedProxyKeysOnForwardedAddress(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	cfg := config.Webhook{Path: "/webhook", RateLimitPerMinute: 1, TrustProxyHeaders: true}
	srv := New(cfg, "", notifier, nil, clock.NewMock())

	for _, client := range []string{"203.0.113.1", "203.0.113.2"} {
		rec := post(srv, `{}`, map[string]string{"X-GitHub-Event": "push", "X-Real-IP": client})
		if rec.Code != http.StatusOK {
			t.Fatalf("client %s: unexpected status %d", client, rec.Code)
		}
	}
	rec := post(srv, `{}`, map[string]string{"X-GitHub-Event": "push", "X-Real-IP": "203.0.113.1"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for a repeated forwarded client, got %d", rec.Code)
	}
}

func TestWebhookRateLimitResetsAfterPeriod(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	srv := New(config.Webhook{Path: "/webhook", RateLimitPerMinute: 1}, "", &fakeNotifier{}, nil, mock)
	headers := map[string]string{"X-GitHub-Event": "push"}

	if rec := post(srv, `{}`, headers); rec.Code != http.StatusOK {
		t.Fatalf("first request: unexpected status %d", rec.Code)
	}
	mock.Add(20 * time.Second)
	rec := post(srv, `{}`, headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("unexpected Retry-After: %q", got)
	}

	mock.Add(40 * time.Second)
	if rec := post(srv, `{}`, headers); rec.Code != http.StatusOK {
		t.Fatalf("request after reset: unexpected status %d", rec.Code)
	}
}

func TestRateLimiterBudgets(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	limiter := newRateLimiter(mock, 2)

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("192.0.2.1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
		mock.Add(10 * time.Second)
	}
	ok, wait := limiter.Allow("192.0.2.1")
	if ok || wait != 40*time.Second {
		t.Fatalf("expected rejection with 40s wait, got ok=%v wait=%s", ok, wait)
	}
	if ok, _ := limiter.Allow("192.0.2.2"); !ok {
		t.Fatal("another client has its own budget")
	}

	mock.Add(time.Minute)
	if ok, _ := limiter.Allow("192.0.2.1"); !ok {
		t.Fatal("budget should reset after the period")
	}
}
