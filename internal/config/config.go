package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. TERMCORE_SESSION_MAX_SESSIONS.
// Field names are split on word boundaries by envconfig, never read unprefixed.
const EnvPrefix = "TERMCORE"

// Config holds all configuration for the terminal core
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server" toml:"server"`
	Session    SessionConfig    `json:"session" yaml:"session" toml:"session"`
	Dispatch   DispatchConfig   `json:"dispatch" yaml:"dispatch" toml:"dispatch"`
	Shell      ShellConfig      `json:"shell" yaml:"shell" toml:"shell"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" toml:"logging"`
	Database   DatabaseConfig   `json:"database" yaml:"database" toml:"database"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring" toml:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Version string `json:"version" yaml:"version" toml:"version"`
	Debug   bool   `json:"debug" yaml:"debug" toml:"debug"`
}

// SessionConfig holds the session store bounds
type SessionConfig struct {
	MaxSessions       int      `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions" split_words:"true"`
	MaxOutputLines    int      `json:"max_output_lines" yaml:"max_output_lines" toml:"max_output_lines" split_words:"true"`
	MaxHistoryEntries int      `json:"max_history_entries" yaml:"max_history_entries" toml:"max_history_entries" split_words:"true"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout" split_words:"true"`
	CleanupInterval   Duration `json:"cleanup_interval" yaml:"cleanup_interval" toml:"cleanup_interval" split_words:"true"`
	WorkingDir        string   `json:"working_dir" yaml:"working_dir" toml:"working_dir" split_words:"true"`
}

// DispatchConfig holds command dispatcher configuration
type DispatchConfig struct {
	QueueSize      int      `json:"queue_size" yaml:"queue_size" toml:"queue_size" split_words:"true"`
	ForwardTimeout Duration `json:"forward_timeout" yaml:"forward_timeout" toml:"forward_timeout" split_words:"true"`
	Journal        bool     `json:"journal" yaml:"journal" toml:"journal"`
}

// ShellConfig holds configuration for the PTY shell collaborator
type ShellConfig struct {
	Enable bool   `json:"enable" yaml:"enable" toml:"enable"`
	Path   string `json:"path" yaml:"path" toml:"path"`
	Term   string `json:"term" yaml:"term" toml:"term"`
	Cols   int    `json:"cols" yaml:"cols" toml:"cols"`
	Rows   int    `json:"rows" yaml:"rows" toml:"rows"`
	// Output lines longer than this are split; 0 uses the built-in limit
	MaxLineBytes int `json:"max_line_bytes" yaml:"max_line_bytes" toml:"max_line_bytes" split_words:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"` // "json" or "console"
	Output string `json:"output" yaml:"output" toml:"output"` // "stderr", "stdout", or file path
}

// DatabaseConfig holds the command journal configuration
type DatabaseConfig struct {
	Enable  bool   `json:"enable" yaml:"enable" toml:"enable"`
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir" split_words:"true"`
	// Journal entries older than this are pruned at startup; 0 keeps everything
	Retention Duration `json:"retention" yaml:"retention" toml:"retention"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	EnableMetrics bool     `json:"enable_metrics" yaml:"enable_metrics" toml:"enable_metrics" split_words:"true"`
	HealthPort    int      `json:"health_port" yaml:"health_port" toml:"health_port" split_words:"true"`
	StatsInterval Duration `json:"stats_interval" yaml:"stats_interval" toml:"stats_interval" split_words:"true"`
	EnableTracing bool     `json:"enable_tracing" yaml:"enable_tracing" toml:"enable_tracing" split_words:"true"`
	MaxSpans      int      `json:"max_spans" yaml:"max_spans" toml:"max_spans" split_words:"true"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "termcore",
			Version: "1.0.0",
			Debug:   false,
		},
		Session: SessionConfig{
			MaxSessions:       10,
			MaxOutputLines:    5000,
			MaxHistoryEntries: 1000,
			IdleTimeout:       Duration(2 * time.Hour),
			CleanupInterval:   Duration(5 * time.Minute),
			WorkingDir:        "", // Use current directory
		},
		Dispatch: DispatchConfig{
			QueueSize:      64,
			ForwardTimeout: Duration(30 * time.Second),
			Journal:        true,
		},
		Shell: ShellConfig{
			Enable: true,
			Path:   "", // Use system default
			Term:   "xterm-256color",
			Cols:   80,
			Rows:   24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Database: DatabaseConfig{
			Enable:    true,
			DataDir:   defaultDataDir(),
			Retention: Duration(30 * 24 * time.Hour),
		},
		Monitoring: MonitoringConfig{
			EnableMetrics: false,
			HealthPort:    8080,
			StatsInterval: Duration(30 * time.Second),
			EnableTracing: true,
			MaxSpans:      1000,
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".termcore")
	}
	return ".termcore"
}

// LoadConfig loads defaults, then the optional config file, then environment overrides
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile decodes the file into config; the format follows the extension
func loadFromFile(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	switch formatOf(filename) {
	case "yaml":
		return yaml.Unmarshal(data, config)
	case "toml":
		return toml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

func formatOf(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be greater than 0")
	}

	if c.Session.MaxOutputLines <= 0 {
		return fmt.Errorf("max_output_lines must be greater than 0")
	}

	if c.Session.MaxHistoryEntries <= 0 {
		return fmt.Errorf("max_history_entries must be greater than 0")
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be greater than 0")
	}

	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be greater than 0")
	}

	if c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be greater than 0")
	}

	if c.Dispatch.ForwardTimeout <= 0 {
		return fmt.Errorf("forward_timeout must be greater than 0")
	}

	if c.Database.Retention < 0 {
		return fmt.Errorf("database retention cannot be negative")
	}

	if c.Monitoring.MaxSpans < 0 {
		return fmt.Errorf("max_spans cannot be negative")
	}

	if c.Shell.Cols <= 0 || c.Shell.Rows <= 0 {
		return fmt.Errorf("shell cols and rows must be greater than 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// SaveToFile writes the configuration in the format implied by the extension
func (c *Config) SaveToFile(filename string) error {
	var (
		data []byte
		err  error
	)

	switch formatOf(filename) {
	case "yaml":
		data, err = yaml.Marshal(c)
	case "toml":
		data, err = toml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0o644)
}
