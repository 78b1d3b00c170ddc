// Package config loads taskpilot configuration from defaults, TOML files and
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults.
const (
	DefaultDataDir       = ".taskpilot"
	DefaultAgentBinary   = "claude"
	DefaultProfile       = "default"
	DefaultTimeoutSec    = 30 * 60
	DefaultSlowAfterSec  = 30
	DefaultStaleAfterSec = 120
	DefaultMaxSessions   = 200
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultModel         = "sonnet"
	configFileName       = "config.toml"
	userConfigSubdir     = "taskpilot"
	envPrefix            = "TASKPILOT_"
)

// Config is the merged configuration.
type Config struct {
	DataDir string `toml:"data_dir"`
	WorkDir string `toml:"work_dir"`

	Agent    AgentConfig        `toml:"agent"`
	Health   HealthConfig       `toml:"health"`
	History  HistoryConfig      `toml:"history"`
	Logging  LoggingConfig      `toml:"logging"`
	Events   EventsConfig       `toml:"events"`
	Profiles map[string]Profile `toml:"profiles"`
}

// AgentConfig controls how agent processes are launched.
type AgentConfig struct {
	Binary         string `toml:"binary"`
	DefaultProfile string `toml:"default_profile"`
	TimeoutSec     int    `toml:"timeout_sec"`
}

// HealthConfig sets the silence windows for session health.
type HealthConfig struct {
	SlowAfterSec  int `toml:"slow_after_sec"`
	StaleAfterSec int `toml:"stale_after_sec"`
}

// HistoryConfig bounds session history.
type HistoryConfig struct {
	MaxSessions int `toml:"max_sessions"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// EventsConfig controls event fan-out.
type EventsConfig struct {
	Journal     bool   `toml:"journal"`
	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`
}

// Profile is an agent profile. The orchestrator passes it to the launcher
// without interpreting it.
type Profile struct {
	Model           string   `toml:"model"`
	SystemPrompt    string   `toml:"system_prompt"`
	AllowedTools    []string `toml:"allowed_tools"`
	SkipPermissions bool     `toml:"skip_permissions"`
	Args            []string `toml:"args"`
	Binary          string   `toml:"binary"`
}

// Options locate configuration files. Empty fields use the defaults.
type Options struct {
	// ProjectDir is searched for <data_dir>/config.toml. Defaults to the
	// working directory.
	ProjectDir string
	// UserFile overrides the user config path. "-" disables it.
	UserFile string
}

// Load builds the configuration in priority order:
// 1. Defaults
// 2. User config file (~/.config/taskpilot/config.toml)
// 3. Project config file (<project>/.taskpilot/config.toml)
// 4. Environment variables (TASKPILOT_*)
// CLI flags are applied by the caller on the returned value.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	userFile := opts.UserFile
	if userFile == "" {
		userFile = findUserConfigFile()
	}
	if userFile != "" && userFile != "-" {
		if err := loadConfigFile(cfg, userFile); err != nil {
			return nil, fmt.Errorf("loading user config file %s: %w", userFile, err)
		}
	}

	projectDir := opts.ProjectDir
	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		projectDir = wd
	}
	projectFile := filepath.Join(projectDir, DefaultDataDir, configFileName)
	if err := loadConfigFile(cfg, projectFile); err != nil {
		return nil, fmt.Errorf("loading project config file %s: %w", projectFile, err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.finalize(projectDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Agent: AgentConfig{
			Binary:         DefaultAgentBinary,
			DefaultProfile: DefaultProfile,
			TimeoutSec:     DefaultTimeoutSec,
		},
		Health: HealthConfig{
			SlowAfterSec:  DefaultSlowAfterSec,
			StaleAfterSec: DefaultStaleAfterSec,
		},
		History: HistoryConfig{MaxSessions: DefaultMaxSessions},
		Logging: LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Events:  EventsConfig{Journal: true},
		Profiles: map[string]Profile{
			DefaultProfile: {Model: DefaultModel},
		},
	}
}

// loadConfigFile decodes a TOML file over cfg. A missing file is ignored.
func loadConfigFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func findUserConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, userConfigSubdir, configFileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// loadFromEnv overrides config from TASKPILOT_* environment variables.
func loadFromEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("DATA_DIR", &cfg.DataDir)
	str("WORK_DIR", &cfg.WorkDir)
	str("AGENT_BINARY", &cfg.Agent.Binary)
	str("PROFILE", &cfg.Agent.DefaultProfile)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("NATS_URL", &cfg.Events.NATSURL)
	str("NATS_SUBJECT", &cfg.Events.NATSSubject)

	for name, dst := range map[string]*int{
		"TIMEOUT_SEC":     &cfg.Agent.TimeoutSec,
		"SLOW_AFTER_SEC":  &cfg.Health.SlowAfterSec,
		"STALE_AFTER_SEC": &cfg.Health.StaleAfterSec,
		"MAX_SESSIONS":    &cfg.History.MaxSessions,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}

	if v := os.Getenv(envPrefix + "JOURNAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sJOURNAL: %w", envPrefix, err)
		}
		cfg.Events.Journal = b
	}
	return nil
}

// finalize resolves relative paths against projectDir and validates values.
func (c *Config) finalize(projectDir string) error {
	c.DataDir = expandPath(c.DataDir)
	if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(projectDir, c.DataDir)
	}
	if c.WorkDir == "" {
		c.WorkDir = projectDir
	}
	c.WorkDir = expandPath(c.WorkDir)
	if !filepath.IsAbs(c.WorkDir) {
		c.WorkDir = filepath.Join(projectDir, c.WorkDir)
	}
	return c.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Agent.TimeoutSec <= 0 {
		return fmt.Errorf("agent.timeout_sec must be positive, got %d", c.Agent.TimeoutSec)
	}
	if c.Health.SlowAfterSec < 0 || c.Health.StaleAfterSec < 0 {
		return fmt.Errorf("health thresholds must not be negative")
	}
	if c.Health.StaleAfterSec > 0 && c.Health.SlowAfterSec > c.Health.StaleAfterSec {
		return fmt.Errorf("health.slow_after_sec (%d) exceeds health.stale_after_sec (%d)",
			c.Health.SlowAfterSec, c.Health.StaleAfterSec)
	}
	if _, ok := c.Profiles[c.Agent.DefaultProfile]; !ok {
		return fmt.Errorf("default profile %q is not defined", c.Agent.DefaultProfile)
	}
	return nil
}

// Timeout returns the agent wall-clock budget.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSec) * time.Second
}

// SlowAfter returns the silence window after which a session is slow.
func (c *Config) SlowAfter() time.Duration {
	return time.Duration(c.Health.SlowAfterSec) * time.Second
}

// StaleAfter returns the silence window after which a session is stale.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Health.StaleAfterSec) * time.Second
}

// Profile resolves an agent profile by name. An empty name selects the
// default profile. Profiles without a binary inherit agent.binary.
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.Agent.DefaultProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown agent profile %q", name)
	}
	if p.Binary == "" {
		p.Binary = c.Agent.Binary
	}
	return p, nil
}

// Paths under DataDir.
func (c *Config) SessionsDir() string { return filepath.Join(c.DataDir, "sessions") }
func (c *Config) LogsDir() string     { return filepath.Join(c.DataDir, "logs") }
func (c *Config) JournalPath() string { return filepath.Join(c.DataDir, "events.jsonl") }

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
