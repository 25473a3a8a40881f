package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/fitstar_utilization/internal/app"
	"github.com/dgnsrekt/fitstar_utilization/internal/config"
	"github.com/dgnsrekt/fitstar_utilization/internal/notify"
	"github.com/dgnsrekt/fitstar_utilization/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := app.SetupLogger(cfg.LogLevel, cfg.LogFile, os.Stderr)
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	logger.Info("config loaded",
		"site_url", cfg.SiteURL,
		"filter", cfg.Filter,
		"influx", app.InfluxConfig(cfg).BaseURL(),
		"database", cfg.InfluxDatabase,
		"batch_size", cfg.BatchSize,
		"browser_mode", cfg.BrowserMode,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, release, err := app.Build(cfg, os.Stdout, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer release()

	if _, err := p.Run(ctx); err != nil {
		var ce *pipeline.CodedError
		if errors.As(err, &ce) {
			logger.Error("run failed", "code", ce.Code, "error", err)
		} else {
			logger.Error("run failed", "error", err)
		}

		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		n := notify.New(cfg.NotifyURL, &http.Client{Timeout: 10 * time.Second})
		if nerr := n.RunFailed(nctx, err); nerr != nil {
			logger.Warn("failure notification not sent", "error", nerr)
		}
		cancel()

		release()
		stop()
		os.Exit(1)
	}
}
