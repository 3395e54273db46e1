package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a mend configuration from the given YAML file path.
// After parsing, it fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./mend.yaml, ~/.mend/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"mend.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".mend", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no mend config found (searched: %v)", candidates)
}

// applyDefaults fills unset fields with working defaults so a minimal config
// listing only scripts is usable as-is.
func applyDefaults(cfg *Config) {
	h := &cfg.Healing
	if h.MaxAttempts == 0 {
		h.MaxAttempts = 5
	}
	if h.AttemptTimeout == 0 {
		h.AttemptTimeout = Duration(10 * time.Minute)
	}
	if h.TotalTimeout == 0 {
		h.TotalTimeout = Duration(time.Hour)
	}
	if h.BackoffBase == 0 {
		h.BackoffBase = Duration(2 * time.Second)
	}
	if h.BackoffCap == 0 {
		h.BackoffCap = Duration(time.Minute)
	}
	if h.MinOutputRatio == 0 {
		h.MinOutputRatio = 0.08
	}
	if h.ImprovementThreshold == 0 {
		h.ImprovementThreshold = 0.3
	}
	if h.RegressionFactor == 0 {
		h.RegressionFactor = 2.0
	}
	if h.MaxContextBytes == 0 {
		h.MaxContextBytes = 64 * 1024
	}

	if cfg.Repair.Command == "" {
		cfg.Repair.Command = "claude"
	}
	if len(cfg.Repair.AllowedTools) == 0 {
		cfg.Repair.AllowedTools = []string{"Edit", "Write", "Read", "Bash"}
	}

	if cfg.Git.BranchPrefix == "" {
		cfg.Git.BranchPrefix = "mend/"
	}
	if cfg.Git.PRBase == "" {
		cfg.Git.PRBase = "main"
	}
	if cfg.Git.Remote == "" {
		cfg.Git.Remote = "origin"
	}

	if len(cfg.Notifications.NotifyOn) == 0 {
		cfg.Notifications.NotifyOn = []string{"all"}
	}
	if cfg.Notifications.MinInterval == 0 {
		cfg.Notifications.MinInterval = Duration(time.Minute)
	}

	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 90
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	for i := range cfg.Scripts {
		s := &cfg.Scripts[i]
		if s.Timeout == 0 {
			s.Timeout = h.AttemptTimeout
		}
	}
}
