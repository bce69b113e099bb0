package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"statusbot/internal/cctv"
	"statusbot/internal/commands"
	"statusbot/internal/config"
	"statusbot/internal/logging"
	"statusbot/internal/metrics"
	"statusbot/internal/monitor"
	"statusbot/internal/notify"
	"statusbot/internal/probe"
	"statusbot/internal/registry"
	"statusbot/internal/telegram"
	"statusbot/internal/tier"
	"statusbot/internal/webhook"
)

const updateQueueSize = 128

func main() {
	cfgPath := envOrDefault("CONFIG_PATH", "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Println("logging init error:", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("statusbot stopped with error", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	targets, err := registry.LoadTargets(cfg.Storage.HostsFile)
	if err != nil {
		return fmt.Errorf("targets init: %w", err)
	}
	subscribers, err := registry.LoadSubscribers(cfg.Storage.SubscribersFile)
	if err != nil {
		return fmt.Errorf("subscribers init: %w", err)
	}
	slog.Info("registries loaded", "targets", len(targets.List()), "subscribers", len(subscribers.List()))

	updates := make(chan *models.Update, updateQueueSize)
	client, err := telegram.New(cfg.Bot.Token, cfg.Bot.AdminChatID, func(ctx context.Context, update *models.Update) {
		select {
		case updates <- update:
		case <-ctx.Done():
		default:
			slog.Warn("dropping update due to full queue")
		}
	})
	if err != nil {
		return fmt.Errorf("bot init: %w", err)
	}

	dispatcher := notify.NewDispatcher(client, subscribers, cfg.Bot.SendTimeout(), m)
	table := tier.NewTable(tier.Thresholds{
		Amber: cfg.Monitoring.AmberThresholdMS,
		Red:   cfg.Monitoring.RedThresholdMS,
	})
	prober := probe.New(probe.NewICMPPinger(cfg.Monitoring.PrivilegedICMP), m)

	loop := monitor.New(targets, prober, table, dispatcher, monitor.Options{
		Interval: cfg.Monitoring.Interval(),
		Attempts: cfg.Monitoring.ProbeAttempts,
		Timeout:  cfg.Monitoring.ProbeTimeout(),
		Contact:  cfg.Notify.Contact,
		Metrics:  m,
	})

	var (
		roster *cctv.Roster
		feed   *cctv.Feed
	)
	if cfg.CCTV.Enabled() {
		roster = cctv.NewRoster(nil)
		feed = cctv.NewFeed(cfg.CCTV, roster, dispatcher, m)
	}

	handler := commands.NewHandler(commands.Deps{
		Targets:     targets,
		Subscribers: subscribers,
		Table:       table,
		Roster:      roster,
		Prober:      prober,
		Broadcaster: dispatcher,
		Replier:     client,
	}, commands.Options{
		Attempts:     cfg.Monitoring.ProbeAttempts,
		Timeout:      cfg.Monitoring.ProbeTimeout(),
		MaxPingCount: cfg.Monitoring.MaxPingInfoCount,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		loop.Run(ctx)
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case update := <-updates:
				handler.HandleUpdate(ctx, update)
			}
		}
	})
	if feed != nil {
		g.Go(func() error {
			return feed.Run(ctx)
		})
	}
	if cfg.Webhook.Enabled {
		srv := webhook.New(cfg.Webhook, cfg.Notify.Contact, dispatcher, reg, nil)
		g.Go(func() error {
			return srv.ListenAndServe(ctx)
		})
	}
	g.Go(func() error {
		client.Start(ctx)
		return nil
	})

	sendStatus(client, "<b>INFO</b>\nstatus bot started")
	err = g.Wait()
	sendStatus(client, "<b>INFO</b>\nstatus bot stopped")
	return err
}

func envOrDefault(name string, fallback string) string {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	return value
}

func sendStatus(client *telegram.Client, message string) {
	sendCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.SendAdminHTML(sendCtx, message); err != nil {
		slog.Warn("status message error", "error", err)
	}
}
