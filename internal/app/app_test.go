package app

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/fitstar_utilization/internal/browser"
	"github.com/dgnsrekt/fitstar_utilization/internal/browser/browsertest"
	"github.com/dgnsrekt/fitstar_utilization/internal/config"
	"github.com/dgnsrekt/fitstar_utilization/internal/studio"
)

func TestSetupLoggerWritesBothSinks(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	file := filepath.Join(t.TempDir(), "logs", "run.log")
	var stdout bytes.Buffer
	logger, err := SetupLogger("warn", file, &stdout)
	if err != nil {
		t.Fatalf("SetupLogger() = %v", err)
	}

	logger.Info("hidden")
	logger.Warn("no data for studio", "studio", "Berlin")

	if strings.Contains(stdout.String(), "hidden") {
		t.Fatalf("info line emitted at warn level: %s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "studio=Berlin") {
		t.Fatalf("stdout = %q; want warning", stdout.String())
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "no data for studio") {
		t.Fatalf("log file = %q; want warning", raw)
	}
}

func TestSlogLevelDefaultsToError(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelError,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestInfluxConfigMapping(t *testing.T) {
	cfg := &config.Config{
		InfluxHost:      "db.local",
		InfluxPort:      8087,
		InfluxUsername:  "u",
		InfluxPassword:  "p",
		InfluxSSL:       true,
		InfluxVerifySSL: true,
		InfluxDatabase:  "gyms",
		InfluxTimeout:   5 * time.Second,
	}
	got := InfluxConfig(cfg)
	if got.BaseURL() != "https://db.local:8087" {
		t.Fatalf("BaseURL() = %q", got.BaseURL())
	}
	if got.Database != "gyms" || got.Username != "u" || !got.VerifySSL || got.Timeout != 5*time.Second {
		t.Fatalf("InfluxConfig() = %+v", got)
	}
}

func TestLaunchedSessionShutsDownInnerSession(t *testing.T) {
	fake := browsertest.NewSession(nil)
	s := &launchedSession{Session: fake, launcher: browser.NewLauncher(browser.LauncherConfig{}, nil)}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if !fake.IsShutdown() {
		t.Fatal("inner session not shut down")
	}
}

func TestApplyMarkupOverridesOnlySetEntries(t *testing.T) {
	base := studio.DefaultMarkup()
	got := ApplyMarkup(base, &config.MarkupFile{
		Percentage: config.LocatorEntry{Strategy: "css", Expr: "#load"},
	})
	if got.Percentage != browser.CSS("#load") {
		t.Fatalf("Percentage = %v; want css=#load", got.Percentage)
	}
	if got.ConsentButton != base.ConsentButton || got.StudioLink != base.StudioLink {
		t.Fatalf("unset entries changed: %+v", got)
	}
}

func TestOptionsReportsBadMarkupFile(t *testing.T) {
	cfg := &config.Config{MarkupFile: filepath.Join(t.TempDir(), "missing.yaml")}
	if _, err := Options(cfg, nil); err == nil {
		t.Fatal("Options() = nil error; want missing markup file")
	}
}
