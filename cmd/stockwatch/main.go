package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"stockwatch/internal/adapter"
	"stockwatch/internal/api"
	"stockwatch/internal/config"
	"stockwatch/internal/engine"
	"stockwatch/internal/notify"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/storage"
	"stockwatch/internal/transition"
	"stockwatch/internal/validate"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		once       = flag.Bool("once", false, "check all active targets once and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging.Level)

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.Database.Path)
	if err != nil {
		log.Error("open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	client, err := adapter.NewClient(cfg.Monitor.TimeoutSeconds)
	if err != nil {
		log.Error("create http client", "error", err)
		os.Exit(1)
	}
	registry := adapter.NewRegistry(
		adapter.NewShopJSON(client),
		adapter.NewPage(client),
		adapter.NewFeed(client),
	)

	channels, err := buildChannels(cfg, log)
	if err != nil {
		log.Error("create notification channels", "error", err)
		os.Exit(1)
	}
	dispatcher := notify.NewDispatcher(channels, notify.Policy{
		OnAdded:   cfg.Notification.OnAdded,
		OnRemoved: cfg.Notification.OnRemoved,
		OnRestock: cfg.Notification.OnRestock,
		OnSoldOut: cfg.Notification.OnSoldOut,
		OnError:   cfg.Notification.OnError,
	}, log)

	validator := validate.New(log)
	validator.Threshold = cfg.Monitor.AnomalyThreshold
	validator.Retries = cfg.Monitor.RetryAttempts
	validator.RetryDelay = time.Duration(cfg.Monitor.RetryDelaySeconds) * time.Second

	machine := transition.Machine{Confirmations: cfg.Monitor.Confirmations}
	eng := engine.New(store, registry, validator, machine, dispatcher, log)
	sched := scheduler.New(eng.Check, time.Duration(cfg.Monitor.PaceSeconds)*time.Second, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		runOnce(ctx, store, sched, log)
		return
	}

	targets, err := store.ListActiveTargets(ctx)
	if err != nil {
		log.Error("list active targets", "error", err)
		os.Exit(1)
	}
	for _, t := range targets {
		if t.IntervalSeconds <= 0 {
			t.IntervalSeconds = cfg.Monitor.IntervalSeconds
		}
		sched.Schedule(t)
	}

	server := api.New(cfg.Web.Addr, eng, sched, store, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("http server", "error", err)
			cancel()
		}
	}()

	log.Info("stockwatch started", "targets", len(targets), "addr", cfg.Web.Addr)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	sched.Stop()
	log.Info("stopped")
}

// runOnce checks every active target sequentially and exits. Useful for
// cron-style deployments and smoke testing a new config.
func runOnce(ctx context.Context, store storage.Storage, sched *scheduler.Scheduler, log *slog.Logger) {
	targets, err := store.ListActiveTargets(ctx)
	if err != nil {
		log.Error("list active targets", "error", err)
		os.Exit(1)
	}
	for _, t := range targets {
		summary, err := sched.TriggerNow(ctx, t)
		if err != nil {
			log.Error("check", "target_id", t.ID, "error", err)
			continue
		}
		log.Info("checked", "target_id", t.ID, "success", summary.Success,
			"status", summary.Status, "events", summary.EventCount)
	}
}

func buildChannels(cfg *config.Config, log *slog.Logger) ([]notify.Channel, error) {
	var channels []notify.Channel
	if cfg.Email.Enabled {
		channels = append(channels, notify.NewEmailChannel(cfg.Email))
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramChannel(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	if cfg.Webhook.Enabled {
		channels = append(channels, notify.NewWebhookChannel(cfg.Webhook.URL))
	}
	if len(channels) == 0 {
		log.Warn("no notification channels enabled, events will only be logged")
	}
	return channels, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
