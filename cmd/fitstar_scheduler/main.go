package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/fitstar_utilization/internal/api"
	"github.com/dgnsrekt/fitstar_utilization/internal/app"
	"github.com/dgnsrekt/fitstar_utilization/internal/config"
	"github.com/dgnsrekt/fitstar_utilization/internal/controller"
	"github.com/dgnsrekt/fitstar_utilization/internal/netutil"
	"github.com/dgnsrekt/fitstar_utilization/internal/notify"
	"github.com/dgnsrekt/fitstar_utilization/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	schedCfg, err := config.LoadScheduler()
	if err != nil {
		slog.Error("failed to load scheduler config", "error", err)
		os.Exit(1)
	}

	logger, err := app.SetupLogger(cfg.LogLevel, cfg.LogFile, os.Stdout)
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	logger.Info("scheduler config loaded",
		"bind_addr", schedCfg.BindAddr,
		"port_candidates", schedCfg.PortCandidates,
		"interval", schedCfg.Interval.String(),
		"run_on_boot", schedCfg.RunOnBoot,
		"history_dir", schedCfg.HistoryDir,
		"site_url", cfg.SiteURL,
		"influx", app.InfluxConfig(cfg).BaseURL(),
		"browser_mode", cfg.BrowserMode,
	)

	ln, err := netutil.Listen(schedCfg.BindAddr, schedCfg.PortCandidates, schedCfg.PortAutoFallback)
	if err != nil {
		logger.Error("failed to select bind address", "preferred", schedCfg.BindAddr, "error", err)
		os.Exit(1)
	}
	addr := ln.Addr().String()

	p, release, err := app.Build(cfg, os.Stdout, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer release()

	var opts []controller.Option
	if schedCfg.HistoryDir != "" {
		journal := storage.NewJournal(schedCfg.HistoryDir, 16, 10, logger)
		defer func() { _ = journal.Close() }()
		opts = append(opts, controller.WithRecorder(journal))
	}

	n := notify.New(cfg.NotifyURL, &http.Client{Timeout: 10 * time.Second})
	svc := controller.NewService(p, n, logger, opts...)
	srv := &http.Server{Handler: api.NewServer(svc, logger), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("scheduler listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("scheduler server failed", "error", err)
			stop()
		}
	}()

	svc.RunEvery(ctx, schedCfg.Interval, schedCfg.RunOnBoot)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown failed", "error", err)
	}
}
