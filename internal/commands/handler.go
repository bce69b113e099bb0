package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"statusbot/internal/cctv"
	"statusbot/internal/monitor"
	"statusbot/internal/notify"
	"statusbot/internal/probe"
	"statusbot/internal/registry"
	"statusbot/internal/tier"
	"statusbot/internal/util"
)

type Replier interface {
	SendHTML(ctx context.Context, chatID string, text string) error
}

type Prober interface {
	Probe(ctx context.Context, address string, attempts int, timeout time.Duration) probe.Result
}

type Broadcaster interface {
	Notify(ctx context.Context, c registry.Category, message string) notify.Report
}

// Deps are the collaborators the command surface operates on. Roster may be
// nil when the surveillance feed is disabled.
type Deps struct {
	Targets     *registry.Targets
	Subscribers *registry.Subscribers
	Table       *tier.Table
	Roster      *cctv.Roster
	Prober      Prober
	Broadcaster Broadcaster
	Replier     Replier
}

type Options struct {
	Attempts     int
	Timeout      time.Duration
	MaxPingCount int
}

type Handler struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func NewHandler(deps Deps, opts Options) *Handler {
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.MaxPingCount <= 0 {
		opts.MaxPingCount = 20
	}
	return &Handler{deps: deps, opts: opts, logger: slog.Default()}
}

func (h *Handler) HandleUpdate(ctx context.Context, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	command, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	var response string
	switch command {
	case "start", "help":
		response = helpText()
	case "chatid":
		response = fmt.Sprintf("<code>%s</code>", chatID)
	case "ping":
		response = h.pingText(ctx, args)
	case "pinginfo":
		response = h.pingInfoText(ctx, args)
	case "addhost":
		response = h.addHost(args)
	case "delhost":
		response = h.deleteHost(args)
	case "showhosts":
		response = h.hostsText()
	case "subscribe":
		response = h.subscribe(chatID, args)
	case "unsubscribe":
		response = h.unsubscribe(chatID, args)
	case "subscribers":
		response = h.subscribersText()
	case "cctv":
		response = h.cctvText()
	case "broadcast":
		response = h.broadcast(ctx, chatID, args)
	default:
		return
	}
	if response == "" {
		return
	}

	if err := h.deps.Replier.SendHTML(ctx, chatID, response); err != nil {
		h.logger.Warn("failed to send command response", "command", command, "chat_id", chatID, "error", err)
	}
}

func (h *Handler) pingText(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "Usage: /ping &lt;host&gt;"
	}
	target, ok := h.deps.Targets.Get(args[0])
	if !ok {
		return "❌ Host doesn't exist! Use /showhosts."
	}
	result := h.deps.Prober.Probe(ctx, target.Address, 1, h.opts.Timeout)
	if !result.Reachable {
		return fmt.Sprintf("Ping to <b>%s</b>: \U0001F3D3\n❌ no reply", util.HTMLEscape(target.Name))
	}
	return fmt.Sprintf("Ping to <b>%s</b>: \U0001F3D3\n%s ms", util.HTMLEscape(target.Name), monitor.FormatLatency(result.AverageLatency))
}

func (h *Handler) pingInfoText(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "Usage: /pinginfo &lt;host&gt; [count]"
	}
	count := h.opts.Attempts
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return "❌ Count must be a positive number."
		}
		count = min(n, h.opts.MaxPingCount)
	}
	target, ok := h.deps.Targets.Get(args[0])
	if !ok {
		return "❌ Host doesn't exist! Use /showhosts."
	}

	result := h.deps.Prober.Probe(ctx, target.Address, count, h.opts.Timeout)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ping to <b>%s</b>: \U0001F3D3\U0001F3D3\n", util.HTMLEscape(target.Name))
	fmt.Fprintf(&sb, "Average Ping: %s ms\n", monitor.FormatLatency(result.AverageLatency))
	fmt.Fprintf(&sb, "Ping Count: %d\n", result.Attempts)
	fmt.Fprintf(&sb, "Successes: %d\n", result.Successes)
	fmt.Fprintf(&sb, "Success Rate: %s\n", strconv.FormatFloat(result.SuccessRate, 'f', -1, 64))
	if len(result.Latencies) > 0 {
		sb.WriteString("\nPing Times:")
		for _, latency := range result.Latencies {
			fmt.Fprintf(&sb, "\n  %s ms", monitor.FormatLatency(latency))
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (h *Handler) addHost(args []string) string {
	if len(args) < 2 {
		return "Usage: /addhost &lt;host&gt; &lt;address&gt;"
	}
	target, err := h.deps.Targets.Add(args[0], args[1])
	switch {
	case errors.Is(err, registry.ErrAlreadyExists):
		return "❌ Host already exists!"
	case errors.Is(err, registry.ErrInvalid):
		return "Usage: /addhost &lt;host&gt; &lt;address&gt;"
	case err != nil:
		h.logger.Error("failed to add host", "host", args[0], "error", err)
		return "❌ Could not save the host list. Try again later."
	}
	h.logger.Info("host added", "host", target.Name, "address", target.Address)
	return fmt.Sprintf("✅ Host - IP\n<b>%s</b> - <code>%s</code>\nAdded", util.HTMLEscape(target.Name), util.HTMLEscape(target.Address))
}

func (h *Handler) deleteHost(args []string) string {
	if len(args) < 1 {
		return "Usage: /delhost &lt;host&gt;"
	}
	target, err := h.deps.Targets.Remove(args[0])
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return "❌ Host doesn't exist!"
	case err != nil:
		h.logger.Error("failed to remove host", "host", args[0], "error", err)
		return "❌ Could not save the host list. Try again later."
	}
	h.deps.Table.Forget(target.Name)
	h.logger.Info("host removed", "host", target.Name)
	return fmt.Sprintf("✅ Host\n<b>%s</b>\nRemoved", util.HTMLEscape(target.Name))
}

func (h *Handler) hostsText() string {
	targets := h.deps.Targets.List()
	if len(targets) == 0 {
		return "No hosts configured. Use /addhost."
	}
	var sb strings.Builder
	sb.WriteString("<b>Host - IP</b>\n")
	for _, target := range targets {
		icon := "⏳"
		if current, ok := h.deps.Table.Current(target.Name); ok {
			icon = current.Icon()
		}
		fmt.Fprintf(&sb, "%s %s - <code>%s</code>\n", icon, util.HTMLEscape(target.Name), util.HTMLEscape(target.Address))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (h *Handler) subscribe(chatID string, args []string) string {
	if len(args) == 0 {
		return subscribeHelp()
	}
	sub, created, err := h.deps.Subscribers.Subscribe(chatID, args)
	if err != nil {
		h.logger.Error("failed to subscribe", "chat_id", chatID, "error", err)
		return "❌ Could not save your subscription. Try again later."
	}
	if created {
		h.logger.Info("new subscriber", "chat_id", chatID)
	}
	return "\U0001F50A You are subscribed. You will receive these notifications:\n\n" +
		flagsText(sub) +
		"\n\nTo unsubscribe, type /unsubscribe"
}

func (h *Handler) unsubscribe(chatID string, args []string) string {
	if _, ok := h.deps.Subscribers.Get(chatID); !ok {
		return "❌ You are not subscribed."
	}
	if len(args) == 0 {
		return unsubscribeHelp()
	}
	sub, removed, err := h.deps.Subscribers.Unsubscribe(chatID, args)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return "❌ You are not subscribed."
	case err != nil:
		h.logger.Error("failed to unsubscribe", "chat_id", chatID, "error", err)
		return "❌ Could not save your subscription. Try again later."
	}
	if removed {
		h.logger.Info("subscriber removed", "chat_id", chatID)
		return "\U0001F507 You have been unsubscribed completely."
	}
	return "\U0001F508 You are now only subscribed to these notifications:\n\n" + flagsText(sub)
}

func (h *Handler) subscribersText() string {
	subs := h.deps.Subscribers.List()
	if len(subs) == 0 {
		return "No subscribers."
	}
	var sb strings.Builder
	sb.WriteString("\U0001F50A <b>Subscribers</b>\n")
	for _, sub := range subs {
		fmt.Fprintf(&sb, "<code>%s</code>\n", util.HTMLEscape(sub.ChatID))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (h *Handler) cctvText() string {
	if h.deps.Roster == nil {
		return "CCTV feed is not configured."
	}
	return cctv.FormatOnline(h.deps.Roster.Online())
}

func (h *Handler) broadcast(ctx context.Context, chatID string, args []string) string {
	sub, ok := h.deps.Subscribers.Get(chatID)
	if !ok || !sub.Broadcast {
		return "❌ Only broadcast subscribers can send a broadcast message."
	}
	text := strings.Join(args, " ")
	if text == "" {
		return "Usage: /broadcast &lt;message&gt;"
	}
	report := h.deps.Broadcaster.Notify(ctx, registry.CategoryBroadcast, "\U0001F509 "+util.HTMLEscape(text))
	h.logger.Info("broadcast sent", "chat_id", chatID, "dispatch_id", report.ID, "delivered", report.Delivered, "failed", report.Failed())
	return ""
}

// parseCommand splits "/cmd@bot arg1 arg2" into a lowercased command and its
// arguments.
func parseCommand(text string) (string, []string, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" || raw[0] != '/' {
		return "", nil, false
	}
	parts := strings.Fields(raw)
	command := strings.TrimPrefix(parts[0], "/")
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}
	if command == "" {
		return "", nil, false
	}
	return strings.ToLower(command), parts[1:], true
}

func flagsText(sub registry.Subscriber) string {
	lines := make([]string, 0, len(registry.Categories))
	for _, c := range registry.Categories {
		mark := "❌"
		if sub.Has(c) {
			mark = "✅"
		}
		lines = append(lines, mark+" "+string(c))
	}
	return strings.Join(lines, "\n")
}

func categoriesText() string {
	return "\U0001F4F9 cctv: CCTV login and logout notifications\n" +
		"\U0001F6A8 down: network down notifications\n" +
		"\U0001F7E2 status: internet speed notifications\n" +
		"\U0001F509 broadcast: broadcast messages"
}

func subscribeHelp() string {
	return "❗️ Type the notifications you want to receive:\n\n" +
		categoriesText() +
		"\n\U0001F44D all: every notification\n\nFor example: <code>/subscribe cctv broadcast down</code>"
}

func unsubscribeHelp() string {
	return "❗️ Type the notifications you want to stop:\n\n" +
		categoriesText() +
		"\n\U0001F44D all: every notification\n\nFor example: <code>/unsubscribe cctv status</code>\nTo stop everything: <code>/unsubscribe all</code>"
}

func helpText() string {
	return "<b>Network Status Bot</b>\n\n" +
		"\U0001F525 Popular commands\n" +
		"/cctv - online CCTV members\n" +
		"/subscribe - choose notifications\n" +
		"/unsubscribe - stop notifications\n" +
		"/broadcast &lt;message&gt; - message all broadcast subscribers\n\n" +
		"\U0001F6E0 Debugging commands\n" +
		"/ping &lt;host&gt; - one ping to a host\n" +
		"/pinginfo &lt;host&gt; [count] - detailed ping\n" +
		"/showhosts - monitored hosts\n" +
		"/addhost &lt;host&gt; &lt;address&gt; - add a host\n" +
		"/delhost &lt;host&gt; - remove a host\n" +
		"/subscribers - subscribed chats\n" +
		"/chatid - this chat's id"
}
