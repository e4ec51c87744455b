package cmd

import (
	"fmt"
	"os"
	"time"

	"kimibroker/internal/broker"
	"kimibroker/internal/config"
	"kimibroker/pkg/logging"
)

// newSession loads configuration, initializes logging, and builds a broker
// session. Every subcommand funnels through here.
func newSession() (*broker.Session, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)

	return broker.NewSession(cfg), nil
}

// formatDuration renders a duration in a human-friendly way for status
// output, e.g. "1h23m" or "45s".
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
