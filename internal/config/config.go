// Package config handles configuration loading and management for teamlead.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

// Config holds all configuration for teamlead.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Claude       ClaudeConfig       `mapstructure:"claude"`
	Runtime      RuntimeConfig      `mapstructure:"runtime"`
	Defaults     DefaultsConfig     `mapstructure:"defaults"`
	Poller       PollerConfig       `mapstructure:"poller"`
	AutoComplete AutoCompleteConfig `mapstructure:"autocomplete"`
	Persistence  PersistenceConfig  `mapstructure:"persistence"`
	Tasks        TasksConfig        `mapstructure:"tasks"`
	State        StateConfig        `mapstructure:"state"`
	Log          LogConfig          `mapstructure:"log"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Naming       NamingConfig       `mapstructure:"naming"`
}

// ServerConfig holds the hook bridge and command API listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// URL returns the base URL hook commands post to.
func (s ServerConfig) URL() string {
	addr := s.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

// ClaudeConfig locates the Claude data directory (teams, tasks, transcripts).
type ClaudeConfig struct {
	Dir string `mapstructure:"dir"`
}

// RuntimeConfig holds agent runtime settings.
type RuntimeConfig struct {
	// Command is the runtime executable with any fixed arguments.
	Command string `mapstructure:"command"`
	// InterruptTimeout bounds a graceful interrupt before the hard abort.
	InterruptTimeout time.Duration `mapstructure:"interrupt_timeout"`
}

// DefaultsConfig holds default values for new sessions.
type DefaultsConfig struct {
	Model          string `mapstructure:"model"`
	PermissionMode string `mapstructure:"permission_mode"`
}

// PollerConfig holds transcript polling settings.
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// AutoCompleteConfig holds auto-completion settings.
type AutoCompleteConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
}

// PersistenceConfig holds debounced persistence settings.
type PersistenceConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// TasksConfig holds task directory settings.
type TasksConfig struct {
	Watch bool `mapstructure:"watch"`
}

// StateConfig holds the session database settings.
type StateConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// NamingConfig holds session title generation settings.
type NamingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Model      string `mapstructure:"model"`
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TEAMLEAD_*, ANTHROPIC_API_KEY)
// 2. Project config (.teamlead.yaml in current directory or parent)
// 3. User config (~/.config/teamlead/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("TEAMLEAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Claude.Dir = expandHome(cfg.Claude.Dir)
	cfg.State.Path = expandHome(cfg.State.Path)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the supervisor cannot run with.
func (c *Config) Validate() error {
	if !models.PermissionMode(c.Defaults.PermissionMode).Valid() {
		return fmt.Errorf("defaults.permission_mode: unknown mode %q", c.Defaults.PermissionMode)
	}
	switch c.State.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("state.driver: unknown driver %q", c.State.Driver)
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if c.AutoComplete.QuietPeriod <= 0 {
		return fmt.Errorf("autocomplete.quiet_period must be positive")
	}
	if c.Persistence.FlushInterval <= 0 {
		return fmt.Errorf("persistence.flush_interval must be positive")
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))
	for key, value := range cfg.Settings() {
		v.Set(key, value)
	}

	return v.WriteConfig()
}

// Settings flattens the config into dot-notation keys.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"server.addr":                c.Server.Addr,
		"claude.dir":                 c.Claude.Dir,
		"runtime.command":            c.Runtime.Command,
		"runtime.interrupt_timeout":  c.Runtime.InterruptTimeout.String(),
		"defaults.model":             c.Defaults.Model,
		"defaults.permission_mode":   c.Defaults.PermissionMode,
		"poller.interval":            c.Poller.Interval.String(),
		"autocomplete.quiet_period":  c.AutoComplete.QuietPeriod.String(),
		"persistence.flush_interval": c.Persistence.FlushInterval.String(),
		"tasks.watch":                c.Tasks.Watch,
		"state.driver":               c.State.Driver,
		"state.path":                 c.State.Path,
		"log.level":                  c.Log.Level,
		"log.file":                   c.Log.File,
		"anthropic.api_key":          c.Anthropic.APIKey,
		"naming.enabled":             c.Naming.Enabled,
		"naming.model":               c.Naming.Model,
		"naming.bedrock":             c.Naming.Bedrock,
		"naming.aws_region":          c.Naming.AWSRegion,
		"naming.aws_profile":         c.Naming.AWSProfile,
	}
}

// Set assigns one dot-notation key from its string form and revalidates.
// The config is unchanged on error.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(key)
	settings := c.Settings()
	current, ok := settings[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	var parsed any = value
	if _, isBool := current.(bool); isBool {
		b, err := cast.ToBoolE(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		parsed = b
	}

	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	v.Set(key, parsed)

	next := &Config{}
	if err := v.Unmarshal(next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = *next
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DataDir returns the XDG data directory for teamlead.
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "teamlead")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, value := range d.Settings() {
		v.SetDefault(key, value)
	}
}

// getUserConfigDir returns the XDG config directory for teamlead.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "teamlead")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "teamlead")
	}
	return filepath.Join(home, ".config", "teamlead")
}

// findProjectConfig searches for .teamlead.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".teamlead.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Default returns a Config with default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{Addr: "127.0.0.1:7421"},
		Claude: ClaudeConfig{Dir: filepath.Join(home, ".claude")},
		Runtime: RuntimeConfig{
			Command:          "claude",
			InterruptTimeout: 5 * time.Second,
		},
		Defaults: DefaultsConfig{
			Model:          "sonnet",
			PermissionMode: string(models.PermissionAcceptEdits),
		},
		Poller:       PollerConfig{Interval: 2 * time.Second},
		AutoComplete: AutoCompleteConfig{QuietPeriod: 15 * time.Second},
		Persistence:  PersistenceConfig{FlushInterval: 2 * time.Second},
		Tasks:        TasksConfig{Watch: true},
		State: StateConfig{
			Driver: "sqlite",
			Path:   filepath.Join(DataDir(), "teamlead.db"),
		},
		Log: LogConfig{Level: "info"},
		Naming: NamingConfig{
			Model: "claude-haiku-4-5",
		},
	}
}
