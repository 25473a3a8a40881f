package config

import (
	"os"
	"strings"
	"time"
)

// SchedulerConfig holds settings for the periodic runner and its status API.
type SchedulerConfig struct {
	Interval         time.Duration
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	RunOnBoot        bool
	// HistoryDir receives a JSONL journal of finished runs. Setting
	// SCHEDULER_HISTORY_DIR to an empty value disables it.
	HistoryDir string
}

// LoadScheduler reads scheduler configuration from environment variables.
func LoadScheduler() (*SchedulerConfig, error) {
	cfg := &SchedulerConfig{
		Interval:         time.Duration(getEnvIntOrDefault("SCHEDULER_INTERVAL_SEC", 900)) * time.Second,
		BindAddr:         getEnvOrDefault("SCHEDULER_BIND_ADDR", "127.0.0.1:8189"),
		PortCandidates:   splitList(getEnvOrDefault("SCHEDULER_PORT_CANDIDATES", "127.0.0.1:8190,127.0.0.1:8191")),
		PortAutoFallback: getEnvBoolOrDefault("SCHEDULER_PORT_AUTO_FALLBACK", true),
		RunOnBoot:        getEnvBoolOrDefault("SCHEDULER_RUN_ON_BOOT", true),
		HistoryDir:       "data/runs",
	}
	if v, ok := os.LookupEnv("SCHEDULER_HISTORY_DIR"); ok {
		cfg.HistoryDir = strings.TrimSpace(v)
	}
	if cfg.Interval < time.Minute {
		cfg.Interval = time.Minute
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
