package cctv

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"statusbot/internal/config"
	"statusbot/internal/metrics"
	"statusbot/internal/notify"
	"statusbot/internal/registry"
)

const (
	defaultMQTTPort     = "1883"
	payloadQueueSize    = 64
	disconnectQuiesceMS = 250
)

type Notifier interface {
	Notify(ctx context.Context, c registry.Category, message string) notify.Report
}

// Feed subscribes to the surveillance server's MQTT topic and turns logout
// events into notifications for cctv subscribers.
type Feed struct {
	broker         string
	topic          string
	clientID       string
	connectTimeout time.Duration

	roster   *Roster
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewFeed(cfg config.CCTV, roster *Roster, notifier Notifier, m *metrics.Metrics) *Feed {
	return &Feed{
		broker:         BrokerURL(cfg.Broker),
		topic:          cfg.Topic,
		clientID:       cfg.ClientID,
		connectTimeout: cfg.ConnectTimeout(),
		roster:         roster,
		notifier:       notifier,
		metrics:        m,
		logger:         slog.Default(),
	}
}

// Run connects to the broker and handles events until ctx is cancelled.
// Lost connections are re-established by the client.
func (f *Feed) Run(ctx context.Context) error {
	payloads := make(chan []byte, payloadQueueSize)

	opts := mqtt.NewClientOptions().
		AddBroker(f.broker).
		SetClientID(f.clientID).
		SetConnectTimeout(f.connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		f.logger.Info("cctv feed connected", "broker", f.broker, "topic", f.topic)
		token := c.Subscribe(f.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			select {
			case payloads <- msg.Payload():
			default:
				f.logger.Warn("cctv event queue is full, dropping event", "topic", msg.Topic())
			}
		})
		go func() {
			<-token.Done()
			if err := token.Error(); err != nil {
				f.logger.Error("cctv subscribe failed", "topic", f.topic, "error", err)
			}
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		f.logger.Warn("cctv feed connection lost", "broker", f.broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-ctx.Done():
		client.Disconnect(disconnectQuiesceMS)
		return nil
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to cctv broker %s: %w", f.broker, err)
	}
	defer client.Disconnect(disconnectQuiesceMS)

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-payloads:
			f.Handle(ctx, payload)
		}
	}
}

// Handle applies one raw payload to the roster and notifies on logout.
func (f *Feed) Handle(ctx context.Context, payload []byte) {
	ev, err := ParseEvent(payload)
	if err != nil {
		f.metrics.FeedEvent("malformed")
		f.logger.Warn("dropping cctv event", "error", err)
		return
	}
	f.metrics.FeedEvent(string(ev.Direction))

	session, finished := f.roster.Apply(ev)
	if !finished {
		f.logger.Info("cctv login", "member", ev.Name)
		return
	}
	f.logger.Info("cctv logout", "member", ev.Name)
	report := f.notifier.Notify(ctx, registry.CategoryCCTV, FormatSession(session))
	if report.Err != nil {
		f.logger.Warn("cctv notification partially failed", "dispatch_id", report.ID, "failed", report.Failed())
	}
}

// BrokerURL turns a bare host into a tcp URL with the default MQTT port.
func BrokerURL(broker string) string {
	broker = strings.TrimSpace(broker)
	if broker == "" || strings.Contains(broker, "://") {
		return broker
	}
	if _, _, err := net.SplitHostPort(broker); err != nil {
		broker = net.JoinHostPort(strings.Trim(broker, "[]"), defaultMQTTPort)
	}
	return "tcp://" + broker
}
