// Package config loads the dlqwatch configuration. The home directory holds
// config.toml (preferred) or config.yaml, plus the database and PID files;
// a handful of environment variables override paths for tests and packaging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvHome    = "DLQWATCH_HOME"
	EnvDBPath  = "DLQWATCH_DB_PATH"
	EnvPIDPath = "DLQWATCH_PID_PATH"
)

// Duration wraps time.Duration so config files can say "30s" or "1h".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses a duration from a YAML scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Config is the full dlqwatch configuration.
type Config struct {
	// PollInterval is the delay between backlog polling cycles.
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	// RealertWindow suppresses repeat alerts for a queue with an unchanged
	// backlog condition.
	RealertWindow Duration `toml:"realert_window" yaml:"realert_window"`
	// CooldownPeriod is the minimum gap between investigation starts per queue.
	CooldownPeriod Duration `toml:"cooldown_period" yaml:"cooldown_period"`
	// AgentTimeout bounds a single investigation's wall-clock time.
	AgentTimeout Duration `toml:"agent_timeout" yaml:"agent_timeout"`
	// SnapshotTimeout bounds one queue backlog read.
	SnapshotTimeout Duration `toml:"snapshot_timeout" yaml:"snapshot_timeout"`

	// AWSProfile and AWSRegion select the account the queue source reads.
	AWSProfile string `toml:"aws_profile" yaml:"aws_profile"`
	AWSRegion  string `toml:"aws_region" yaml:"aws_region"`

	// DLQPatterns replaces the default dead-letter queue name patterns.
	DLQPatterns []string `toml:"dlq_patterns" yaml:"dlq_patterns"`
	// WatchedQueues limits monitoring to the named queues; empty watches
	// every queue matching the DLQ patterns.
	WatchedQueues []string `toml:"watched_queues" yaml:"watched_queues"`
	// CriticalQueues are auto-investigated when they alert, and get spoken
	// announcements. Queues outside the list are report-only: the alert
	// fires but no agent is dispatched without a manual request. Empty
	// makes every watched queue eligible.
	CriticalQueues []string `toml:"critical_queues" yaml:"critical_queues"`

	// AgentCommand is the external reasoning-agent binary.
	AgentCommand string `toml:"agent_command" yaml:"agent_command"`
	// AgentWorkdir is the working directory agents are spawned in.
	AgentWorkdir string `toml:"agent_workdir" yaml:"agent_workdir"`
	// Voice selects the speech voice for critical announcements.
	Voice string `toml:"voice" yaml:"voice"`

	// NotifyDesktop and NotifySpeech toggle the side channels.
	NotifyDesktop bool `toml:"notify_desktop" yaml:"notify_desktop"`
	NotifySpeech  bool `toml:"notify_speech" yaml:"notify_speech"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		PollInterval:    Duration{30 * time.Second},
		RealertWindow:   Duration{5 * time.Minute},
		CooldownPeriod:  Duration{time.Hour},
		AgentTimeout:    Duration{30 * time.Minute},
		SnapshotTimeout: Duration{10 * time.Second},
		AgentCommand:    "claude",
		NotifyDesktop:   true,
		NotifySpeech:    true,
	}
}

// withDefaults fills zero-valued durations and commands after file parsing,
// so a partial config file only overrides what it mentions.
func (c *Config) withDefaults() {
	def := Default()
	if c.PollInterval.Duration <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RealertWindow.Duration <= 0 {
		c.RealertWindow = def.RealertWindow
	}
	if c.CooldownPeriod.Duration <= 0 {
		c.CooldownPeriod = def.CooldownPeriod
	}
	if c.AgentTimeout.Duration <= 0 {
		c.AgentTimeout = def.AgentTimeout
	}
	if c.SnapshotTimeout.Duration <= 0 {
		c.SnapshotTimeout = def.SnapshotTimeout
	}
	if c.AgentCommand == "" {
		c.AgentCommand = def.AgentCommand
	}
}

// IsCritical reports whether the queue is flagged for loud notifications.
func (c *Config) IsCritical(queueID string) bool {
	for _, q := range c.CriticalQueues {
		if q == queueID {
			return true
		}
	}
	return false
}

// AutoInvestigates reports whether an alert on the queue may be turned into
// an investigation without operator involvement. An empty critical list
// makes every watched queue eligible; otherwise unlisted queues are
// report-only.
func (c *Config) AutoInvestigates(queueID string) bool {
	if len(c.CriticalQueues) == 0 {
		return true
	}
	return c.IsCritical(queueID)
}

// Watches reports whether the queue is in scope. An empty watch list means
// every pattern-matched queue is in scope.
func (c *Config) Watches(queueID string) bool {
	if len(c.WatchedQueues) == 0 {
		return true
	}
	for _, q := range c.WatchedQueues {
		if q == queueID {
			return true
		}
	}
	return false
}

// Home returns the dlqwatch home directory (~/.dlqwatch by default).
func Home() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".dlqwatch"), nil
}

// DBPath returns the SQLite database path.
func DBPath() (string, error) {
	if p := os.Getenv(EnvDBPath); p != "" {
		return p, nil
	}
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "dlqwatch.db"), nil
}

// PIDPath returns the monitor daemon's PID file path.
func PIDPath() (string, error) {
	if p := os.Getenv(EnvPIDPath); p != "" {
		return p, nil
	}
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "dlqwatch.pid"), nil
}

// ConfigPath returns the path of the config file in the home directory:
// config.toml if present, else config.yaml, else the toml path (for error
// messages and file watching).
func ConfigPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	tomlPath := filepath.Join(home, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	yamlPath := filepath.Join(home, "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath, nil
	}
	return tomlPath, nil
}

// Load reads the configuration from the home directory. A missing file is
// not an error: defaults apply.
func Load() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile reads a specific config file. The extension selects the format.
func LoadFile(path string) (Config, error) {
	cfg := Config{NotifyDesktop: true, NotifySpeech: true}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config resolution
	if os.IsNotExist(err) {
		cfg.withDefaults()
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.withDefaults()
	return cfg, nil
}
