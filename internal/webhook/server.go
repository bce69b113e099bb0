package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statusbot/internal/config"
	"statusbot/internal/notify"
	"statusbot/internal/registry"
	"statusbot/internal/util"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

type Notifier interface {
	Notify(ctx context.Context, c registry.Category, message string) notify.Report
}

// Server receives deployment webhooks and tells broadcast subscribers that
// the bot is about to restart. It also serves health and metrics endpoints.
type Server struct {
	logger     *slog.Logger
	notifier   Notifier
	secret     string
	path       string
	listenAddr string
	contact    string
	limiter    *rateLimiter
	clock      clock.Clock
	httpServer *http.Server
}

// New builds the listener. gatherer may be nil, in which case /metrics is not
// served; a nil clk means the wall clock.
func New(cfg config.Webhook, contact string, notifier Notifier, gatherer prometheus.Gatherer, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}
	srv := &Server{
		logger:     slog.Default(),
		notifier:   notifier,
		secret:     cfg.Secret,
		path:       cfg.Path,
		listenAddr: cfg.ListenAddress,
		contact:    contact,
		limiter:    newRateLimiter(clk, cfg.RateLimitPerMinute),
		clock:      clk,
	}
	if srv.path == "" {
		srv.path = "/webhook"
	}

	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Get("/healthz", srv.handleHealth)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Post(srv.path, srv.handleWebhook)

	srv.httpServer = &http.Server{
		Addr:              srv.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = s.httpServer.Shutdown(shutdownCtx)
		case <-stop:
			return
		}
	}()
	defer close(stop)

	s.logger.Info("webhook listening", "addr", s.listenAddr, "path", s.path)
	err := s.httpServer.ListenAndServe()
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.limiter.Allow(clientKey(r.RemoteAddr)); !ok {
		s.logger.Warn("webhook rate limited", "remote", r.RemoteAddr)
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(wait.Round(time.Second)/time.Second))))
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if s.secret != "" {
		if err := verifySignature(s.secret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
			s.logger.Warn("rejected webhook", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	event := strings.TrimSpace(r.Header.Get("X-GitHub-Event"))
	if event == "ping" {
		s.logger.Info("webhook ping received", "remote", r.RemoteAddr)
		_, _ = io.WriteString(w, "pong")
		return
	}

	s.logger.Info("webhook received, announcing restart", "event", event, "remote", r.RemoteAddr)
	report := s.notifier.Notify(context.WithoutCancel(r.Context()), registry.CategoryBroadcast, RestartMessage(s.contact))
	if report.Err != nil {
		s.logger.Warn("restart notice partially failed", "dispatch_id", report.ID, "failed", report.Failed())
	}
	_, _ = io.WriteString(w, "Webhook processed successfully")
}

// RestartMessage is broadcast before the process is replaced by a new build.
func RestartMessage(contact string) string {
	msg := "❕ The bot has received a new update, it will now restart!\n\nNotifications resume automatically once it is back."
	if contact = strings.TrimSpace(contact); contact != "" {
		msg += "\n" + util.HTMLEscape(contact)
	}
	return msg
}

// clientKey is the peer host of the connection, or the forwarded client
// address when proxy headers are trusted.
func clientKey(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
