// Package app wires configuration into a ready pipeline for the binaries.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgnsrekt/fitstar_utilization/internal/browser"
	"github.com/dgnsrekt/fitstar_utilization/internal/config"
	"github.com/dgnsrekt/fitstar_utilization/internal/influx"
	"github.com/dgnsrekt/fitstar_utilization/internal/pipeline"
	"github.com/dgnsrekt/fitstar_utilization/internal/studio"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogger installs a text handler writing to stdout and a rotating log
// file, and returns it.
func SetupLogger(level, filename string, stdout io.Writer) (*slog.Logger, error) {
	writers := []io.Writer{}
	if stdout != nil {
		writers = append(writers, stdout)
	}
	if filename != "" {
		if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		})
	}

	h := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: slogLevel(level)})
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// InfluxConfig maps the environment settings onto the store client.
func InfluxConfig(cfg *config.Config) influx.Config {
	return influx.Config{
		Host:      cfg.InfluxHost,
		Port:      cfg.InfluxPort,
		Username:  cfg.InfluxUsername,
		Password:  cfg.InfluxPassword,
		SSL:       cfg.InfluxSSL,
		VerifySSL: cfg.InfluxVerifySSL,
		Database:  cfg.InfluxDatabase,
		Timeout:   cfg.InfluxTimeout,
	}
}

// Options maps the environment settings onto one run.
func Options(cfg *config.Config, out io.Writer) (pipeline.Options, error) {
	markup := studio.DefaultMarkup()
	if cfg.MarkupFile != "" {
		m, err := config.LoadMarkup(cfg.MarkupFile)
		if err != nil {
			return pipeline.Options{}, err
		}
		markup = ApplyMarkup(markup, m)
	}
	return pipeline.Options{
		SiteURL:        cfg.SiteURL,
		Filter:         cfg.Filter,
		ConsentTimeout: cfg.ConsentTimeout,
		Markup:         markup,
		DryRun:         cfg.DryRun,
		Output:         out,
	}, nil
}

// ApplyMarkup overrides base with every non-empty entry of m.
func ApplyMarkup(base studio.Markup, m *config.MarkupFile) studio.Markup {
	pick := func(cur browser.Locator, e config.LocatorEntry) browser.Locator {
		switch {
		case e.Expr == "":
			return cur
		case e.Strategy == "css":
			return browser.CSS(e.Expr)
		default:
			return browser.XPath(e.Expr)
		}
	}
	base.ConsentButton = pick(base.ConsentButton, m.ConsentButton)
	base.StudiosTrigger = pick(base.StudiosTrigger, m.StudiosTrigger)
	base.StudiosList = pick(base.StudiosList, m.StudiosList)
	base.StudioLink = pick(base.StudioLink, m.StudioLink)
	base.Percentage = pick(base.Percentage, m.Percentage)
	return base
}

// Build returns a pipeline and a release func for the store client.
func Build(cfg *config.Config, out io.Writer, logger *slog.Logger) (*pipeline.Pipeline, func(), error) {
	opts, err := Options(cfg, out)
	if err != nil {
		return nil, nil, err
	}
	client := influx.NewClient(InfluxConfig(cfg), logger)
	writer := influx.NewBatchWriter(client, cfg.BatchSize, logger)
	p := pipeline.New(opts, client, writer, BrowserFactory(cfg, logger), logger)
	return p, func() { _ = client.Close() }, nil
}

// BrowserFactory opens a fresh session per run. In remote mode it can also
// spawn the Chromium process the session attaches to.
func BrowserFactory(cfg *config.Config, logger *slog.Logger) pipeline.BrowserFactory {
	return func(ctx context.Context) (browser.Session, error) {
		sc := browser.SessionConfig{
			Mode:       cfg.BrowserMode,
			CDPURL:     cfg.GetCDPURL(),
			Headless:   cfg.Headless,
			NoSandbox:  cfg.NoSandbox,
			ExecPath:   cfg.BrowserPath,
			ProfileDir: cfg.ProfileDir,
		}
		if cfg.BrowserMode != browser.ModeRemote || !cfg.LaunchBrowser {
			return browser.NewChromeSession(ctx, sc, logger)
		}

		l := browser.NewLauncher(browser.LauncherConfig{
			CDPAddress:   cfg.CDPAddress,
			CDPPort:      cfg.CDPPort,
			ProfileDir:   cfg.ProfileDir,
			ExecPath:     cfg.BrowserPath,
			Headless:     cfg.Headless,
			NoSandbox:    cfg.NoSandbox,
			ReadyTimeout: cfg.BrowserTimeout,
		}, logger)
		if err := l.Launch(ctx); err != nil {
			return nil, err
		}
		sc.CDPURL = l.CDPURL()
		sess, err := browser.NewChromeSession(ctx, sc, logger)
		if err != nil {
			l.Stop()
			return nil, err
		}
		return &launchedSession{Session: sess, launcher: l}, nil
	}
}

// launchedSession stops the spawned browser after the session shuts down.
type launchedSession struct {
	browser.Session
	launcher *browser.Launcher
}

func (s *launchedSession) Shutdown() error {
	err := s.Session.Shutdown()
	s.launcher.Stop()
	return err
}
