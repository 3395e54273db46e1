package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level mend configuration parsed from YAML.
type Config struct {
	Scripts       []Script      `yaml:"scripts" validate:"required,min=1,dive"`
	Healing       Healing       `yaml:"healing"`
	Repair        Repair        `yaml:"repair"`
	Git           Git           `yaml:"git"`
	Notifications Notifications `yaml:"notifications"`
	Security      Security      `yaml:"security"`
	History       History       `yaml:"history"`
	Metrics       Metrics       `yaml:"metrics"`
	Logging       Logging       `yaml:"logging"`
}

// Script is one supervised script.
type Script struct {
	Name       string   `yaml:"name" validate:"required"`
	Path       string   `yaml:"path" validate:"required"`
	WorkingDir string   `yaml:"working_dir"`
	Env        []string `yaml:"env"` // KEY=VALUE entries merged over the ambient environment
	Timeout    Duration `yaml:"timeout"`
	Schedule   string   `yaml:"schedule"` // cron expression, daemon mode only
	Hints      []string `yaml:"hints"`
}

// Healing is the session budget and verification tuning.
type Healing struct {
	MaxAttempts          int      `yaml:"max_attempts" validate:"omitempty,gte=1"`
	AttemptTimeout       Duration `yaml:"attempt_timeout"`
	TotalTimeout         Duration `yaml:"total_timeout"`
	BackoffBase          Duration `yaml:"backoff_base"`
	BackoffCap           Duration `yaml:"backoff_cap"`
	RevertOnFailure      bool     `yaml:"revert_on_failure"`
	MinOutputRatio       float64  `yaml:"min_output_ratio" validate:"omitempty,gt=0,lte=1"`
	ImprovementThreshold float64  `yaml:"improvement_threshold" validate:"omitempty,gt=0,lte=1"`
	RegressionFactor     float64  `yaml:"regression_factor" validate:"omitempty,gte=1"`
	MaxContextBytes      int      `yaml:"max_context_bytes" validate:"omitempty,gte=4096"`
}

// Repair configures the fix backend.
type Repair struct {
	Command      string   `yaml:"command"`
	Model        string   `yaml:"model"`
	AllowedTools []string `yaml:"allowed_tools"`
	ExtraFlags   []string `yaml:"extra_flags"`
}

// Git configures change isolation and pull request creation.
type Git struct {
	Enabled      bool   `yaml:"enabled"`
	BranchPrefix string `yaml:"branch_prefix"`
	Push         bool   `yaml:"push"`
	CreatePR     bool   `yaml:"create_pr"`
	PRBase       string `yaml:"pr_base"`
	Remote       string `yaml:"remote"`
}

// Notifications configures outcome delivery channels.
type Notifications struct {
	Slack       Slack    `yaml:"slack"`
	Discord     Discord  `yaml:"discord"`
	Webhook     Webhook  `yaml:"webhook"`
	NotifyOn    []string `yaml:"notify_on" validate:"dive,oneof=success failure all"`
	MinInterval Duration `yaml:"min_interval"`
}

// Slack posts session outcomes to a Slack incoming webhook.
type Slack struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
	Channel    string `yaml:"channel"`
}

// Discord posts session outcomes to a Discord webhook.
type Discord struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
}

// Webhook posts the full session result as JSON to an arbitrary endpoint.
type Webhook struct {
	URL     string            `yaml:"url" validate:"omitempty,url"`
	Headers map[string]string `yaml:"headers"`
}

// Security controls what leaves the process in prompts and notifications.
type Security struct {
	RedactPatterns []string `yaml:"redact_patterns"`
	RedactEnv      bool     `yaml:"redact_env"`
}

// History configures the Postgres session archive.
type History struct {
	Enabled       bool   `yaml:"enabled"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days" validate:"omitempty,gte=1"`
}

// Metrics configures the Prometheus endpoint served in daemon mode.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Logging configures the structured logger.
type Logging struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
	File   string `yaml:"file"`
}

// FindScript returns the script entry with the given name.
func (c *Config) FindScript(name string) (Script, bool) {
	for _, s := range c.Scripts {
		if s.Name == name {
			return s, true
		}
	}
	return Script{}, false
}
