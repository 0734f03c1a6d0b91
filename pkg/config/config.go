// Package config loads the heartflot YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device/sim"
	"gopkg.in/yaml.v3"
)

// Supported BLE backends.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
	BackendSim    = "sim"
)

// Config holds application configuration
type Config struct {
	LogLevel         string        `yaml:"log_level" default:"info"`
	Backend          string        `yaml:"backend" default:"go-ble"`
	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"10s"`
	StalenessTimeout time.Duration `yaml:"staleness_timeout" default:"5s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"` // 0 waits until the user gives up
	RecentWindow     int           `yaml:"recent_window" default:"60"`
	StorePath        string        `yaml:"store_path" default:"~/.local/share/heartflot/sessions.json"`
	OverlayOnConnect bool          `yaml:"overlay_on_connect"`
	Server           ServerConfig  `yaml:"server"`
	Sim              sim.Config    `yaml:"sim"`
}

// ServerConfig holds the HTTP control surface settings.
type ServerConfig struct {
	Listen string `yaml:"listen" default:"127.0.0.1:8080"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "heartflot")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	defaults.SetDefaults(&cfg.Server)
	defaults.SetDefaults(&cfg.Sim)
	cfg.StorePath = expandTilde(cfg.StorePath)
	return cfg
}

// Load reads a YAML config file over the defaults. A missing file at the
// default path is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && path == DefaultConfigPath() {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.StorePath = expandTilde(cfg.StorePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch c.Backend {
	case BackendGoBLE, BackendTinyGo, BackendSim:
	default:
		return fmt.Errorf("backend must be %q, %q or %q, got %q", BackendGoBLE, BackendTinyGo, BackendSim, c.Backend)
	}

	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be > 0")
	}
	if c.StalenessTimeout <= 0 {
		return fmt.Errorf("staleness_timeout must be > 0")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative")
	}
	if c.RecentWindow <= 0 {
		return fmt.Errorf("recent_window must be > 0")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Backend == BackendSim && c.Sim.Interval <= 0 {
		return fmt.Errorf("sim.interval must be > 0")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
