package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all settings for a scrape run.
type Config struct {
	// Target site
	SiteURL        string
	Filter         string
	ConsentTimeout time.Duration
	MarkupFile     string

	// InfluxDB
	InfluxHost      string
	InfluxPort      int
	InfluxUsername  string
	InfluxPassword  string
	InfluxSSL       bool
	InfluxVerifySSL bool
	InfluxDatabase  string
	InfluxTimeout   time.Duration
	BatchSize       int

	// Browser
	BrowserMode    string
	Headless       bool
	NoSandbox      bool
	BrowserPath    string
	ProfileDir     string
	LaunchBrowser  bool
	CDPAddress     string
	CDPPort        int
	BrowserTimeout time.Duration

	// Logging and behaviour
	LogLevel  string
	LogFile   string
	DryRun    bool
	NotifyURL string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		SiteURL:         getEnvOrDefault("FITSTAR_URL", "https://www.fit-star.de"),
		Filter:          os.Getenv("FITSTAR_FILTER"),
		ConsentTimeout:  time.Duration(getEnvIntOrDefault("FITSTAR_CONSENT_TIMEOUT_SEC", 20)) * time.Second,
		MarkupFile:      os.Getenv("FITSTAR_MARKUP_FILE"),
		InfluxHost:      getEnvOrDefault("INFLUX_HOST", "localhost"),
		InfluxPort:      getEnvIntOrDefault("INFLUX_PORT", 8086),
		InfluxUsername:  getEnvOrDefault("INFLUX_USERNAME", "root"),
		InfluxPassword:  getEnvOrDefault("INFLUX_PASSWORD", "root"),
		InfluxSSL:       getEnvBoolOrDefault("INFLUX_SSL", false),
		InfluxVerifySSL: getEnvBoolOrDefault("INFLUX_VERIFY_SSL", false),
		InfluxDatabase:  getEnvOrDefault("INFLUX_DATABASE", "fitstar"),
		InfluxTimeout:   time.Duration(getEnvIntOrDefault("INFLUX_TIMEOUT_SEC", 30)) * time.Second,
		BatchSize:       getEnvIntOrDefault("FITSTAR_BATCH_SIZE", 10000),
		BrowserMode:     strings.ToLower(getEnvOrDefault("FITSTAR_BROWSER_MODE", "exec")),
		Headless:        getEnvBoolOrDefault("FITSTAR_HEADLESS", true),
		NoSandbox:       getEnvBoolOrDefault("FITSTAR_NO_SANDBOX", false),
		BrowserPath:     os.Getenv("FITSTAR_BROWSER_PATH"),
		ProfileDir:      os.Getenv("FITSTAR_PROFILE_DIR"),
		LaunchBrowser:   getEnvBoolOrDefault("FITSTAR_LAUNCH_BROWSER", true),
		CDPAddress:      getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:         getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BrowserTimeout:  time.Duration(getEnvIntOrDefault("FITSTAR_BROWSER_TIMEOUT_SEC", 15)) * time.Second,
		LogLevel:        ParseLogLevel(getEnvOrDefault("FITSTAR_LOG_LEVEL", "error")),
		LogFile:         getEnvOrDefault("FITSTAR_LOG_FILE", "logs/fitstar_utilization.log"),
		DryRun:          getEnvBoolOrDefault("FITSTAR_DRY_RUN", false),
		NotifyURL:       os.Getenv("FITSTAR_NOTIFY_URL"),
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.ConsentTimeout < time.Second {
		cfg.ConsentTimeout = time.Second
	}
	if cfg.BrowserMode != "exec" && cfg.BrowserMode != "remote" {
		return nil, fmt.Errorf("FITSTAR_BROWSER_MODE must be exec or remote, got %q", cfg.BrowserMode)
	}
	return cfg, nil
}

// GetCDPURL returns the CDP HTTP endpoint used by the remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// ParseLogLevel accepts a level name or a verbosity count
// (0 error, 1 warn, 2 info, 3 debug). Unknown values map to error.
func ParseLogLevel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "error", "warn", "info", "debug":
		return v
	case "warning":
		return "warn"
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return "error"
	}
	switch {
	case n <= 0:
		return "error"
	case n == 1:
		return "warn"
	case n == 2:
		return "info"
	default:
		return "debug"
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
