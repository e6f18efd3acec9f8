package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"groupwatch/internal/api"
	"groupwatch/internal/bot"
	"groupwatch/internal/browser"
	"groupwatch/internal/checker"
	"groupwatch/internal/config"
	"groupwatch/internal/extractor"
	"groupwatch/internal/metrics"
	"groupwatch/internal/monitor"
	"groupwatch/internal/registry"
	"groupwatch/internal/scheduler"
	"groupwatch/internal/scrape"
	"groupwatch/internal/storage"
	"groupwatch/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := run(cfg, log); err != nil {
		log.Error("groupwatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	kv, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	reg := registry.New(kv)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	strategies, err := buildStrategies(cfg, log)
	if err != nil {
		return err
	}
	mailbox := scrape.NewMailbox()
	cascade := extractor.NewCascade(log, strategies...)

	chrome, err := browser.New(browser.Config{
		ExecPath: cfg.ChromePath,
		Headless: cfg.Headless,
	}, cascade, mailbox, log)
	if err != nil {
		return err
	}
	defer func() { _ = chrome.Close() }()

	orchestrator := scrape.New(chrome, mailbox, log, m)
	orchestrator.Timeout = cfg.ScrapeTimeout
	orchestrator.SettleDelay = cfg.SettleDelay

	dispatcher := webhook.New(&http.Client{Timeout: 30 * time.Second}, webhook.Options{
		Rate:  cfg.WebhookRate,
		Burst: cfg.WebhookBurst,
	}, log, m)

	chk := checker.New(reg, orchestrator, dispatcher, log, m)

	sched := scheduler.New(chk, log)
	sched.CheckTimeout = cfg.CheckTimeout
	sched.Start()

	svc := monitor.New(reg, sched, chk, dispatcher, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := svc.Restore(ctx); err != nil {
		log.Warn("restore monitoring", "error", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(reg, chk, svc, m.Handler(), log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			cancel()
		}
	}()

	if cfg.BotEnabled() {
		b, err := bot.New(cfg.TelegramBotToken, reg, svc, cfg, log)
		if err != nil {
			return err
		}
		log.Info("starting telegram console")
		go b.Run(ctx)
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	sched.Stop(shutdownCtx)
	return nil
}

func openStore(cfg *config.Config) (storage.KV, error) {
	if cfg.StoreBackend == config.BackendRedis {
		kv, err := storage.NewRedis(storage.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return kv, nil
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	kv, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return kv, nil
}

func buildStrategies(cfg *config.Config, log *slog.Logger) ([]extractor.Strategy, error) {
	if cfg.FeedBridgeURL == "" {
		return extractor.Default(nil), nil
	}
	bridge, err := extractor.NewBridge(cfg.FeedBridgeURL, &http.Client{Timeout: 20 * time.Second}, log)
	if err != nil {
		return nil, err
	}
	return extractor.Default(bridge), nil
}
