// Package config loads bowline configuration: defaults, an optional
// bowline.yml, then environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/bowline/pkg/browser"
	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/report"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "bowline.yml"

// Default configuration values, exported for documentation and validation.
const (
	DefaultTestTimeout   = 10000 // ms; the done-watchdog window
	DefaultWaitTimeout   = 5000  // ms; element/wait polling window
	DefaultTunnelPort    = 9020
	DefaultDriver        = "static"
	DefaultBrowser       = "local"
	DefaultReporter      = "console"
	DefaultLogLevel      = "info"
	DefaultWatchDebounce = 300 // ms
)

// Config is the complete bowline configuration.
type Config struct {
	Driver    string         `yaml:"driver"`
	Browsers  []string       `yaml:"browsers"`
	Reporters []string       `yaml:"reporters"`
	Files     []string       `yaml:"files"`
	Timeouts  TimeoutConfig  `yaml:"timeouts"`
	Tunnel    TunnelConfig   `yaml:"tunnel"`
	Logging   LoggingConfig  `yaml:"logging"`
	Report    ReportConfig   `yaml:"report"`
	History   HistoryConfig  `yaml:"history"`
	Watch     WatchConfig    `yaml:"watch"`
	Advanced  map[string]any `yaml:"advanced"`
}

// TimeoutConfig holds the run timing windows, in milliseconds.
type TimeoutConfig struct {
	Test int `yaml:"test"`
	Wait int `yaml:"wait"`
}

// TunnelConfig configures both serving a tunnel and dialing one.
type TunnelConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Secret  string `yaml:"secret"`
	Browser string `yaml:"browser"`
	Binary  string `yaml:"binary"`
}

// LoggingConfig configures the structured run logs.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// ReportConfig configures reporter outputs.
type ReportConfig struct {
	Dir  string           `yaml:"dir"`
	Live LiveReportConfig `yaml:"live"`
	NATS NATSReportConfig `yaml:"nats"`
}

// LiveReportConfig configures the websocket reporter.
type LiveReportConfig struct {
	Address string `yaml:"address"`
}

// NATSReportConfig configures the NATS reporter sink.
type NATSReportConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// HistoryConfig configures the run-history store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WatchConfig configures file-watch re-runs.
type WatchConfig struct {
	Debounce int      `yaml:"debounce"`
	Paths    []string `yaml:"paths"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Driver:    DefaultDriver,
		Browsers:  []string{DefaultBrowser},
		Reporters: []string{DefaultReporter},
		Timeouts: TimeoutConfig{
			Test: DefaultTestTimeout,
			Wait: DefaultWaitTimeout,
		},
		Tunnel: TunnelConfig{
			Port:    DefaultTunnelPort,
			Browser: DefaultBrowser,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Watch: WatchConfig{
			Debounce: DefaultWatchDebounce,
		},
	}
}

// Load reads bowline.yml from the working directory when present, then
// environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := loadInto(cfg, DefaultFile); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a specific config file; the file must exist.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadInto(cfg, path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeConfigLoad, "config file not found").
				WithContext("path", path)
		}
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadInto unmarshals path over cfg. Keys absent from the file keep their
// current values, which is the whole merge strategy.
func loadInto(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "cannot read config").
			WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "cannot parse config").
			WithContext("path", path)
	}
	return nil
}

// applyEnvOverrides lets secrets and a few operational knobs come from the
// environment instead of a file on disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOWLINE_TUNNEL_SECRET"); v != "" {
		cfg.Tunnel.Secret = v
	}
	if v := os.Getenv("BOWLINE_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("BOWLINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BOWLINE_NATS_URL"); v != "" {
		cfg.Report.NATS.URL = v
	}
}

// Validate rejects configurations no run could start with.
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if level := strings.ToLower(strings.TrimSpace(c.Logging.Level)); level != "" && !validLevels[level] {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level))
	}
	if c.Timeouts.Test < 0 || c.Timeouts.Wait < 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "timeouts must not be negative")
	}
	if c.Tunnel.Port < 0 || c.Tunnel.Port > 65535 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid tunnel port: %d", c.Tunnel.Port))
	}
	if c.Watch.Debounce < 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "watch debounce must not be negative")
	}
	return nil
}

// Get resolves a dotted key ("tunnel.port", "timeouts.test") against the
// configuration. Unknown keys return nil.
func (c *Config) Get(key string) any {
	if c == nil || key == "" {
		return nil
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return nil
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil
	}

	var current any = tree
	for _, segment := range strings.Split(key, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = node[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// VerifyDrivers returns the subset of names the driver registry knows.
func (c *Config) VerifyDrivers(names []string) []string {
	return filterKnown(names, driver.Has)
}

// VerifyReporters returns the subset of names the reporter registry knows.
func (c *Config) VerifyReporters(names []string) []string {
	return filterKnown(names, report.Has)
}

// VerifyBrowsers returns the subset of names the browser registry knows.
func (c *Config) VerifyBrowsers(names []string) []string {
	return filterKnown(names, browser.Has)
}

func filterKnown(names []string, has func(string) bool) []string {
	known := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if has(name) {
			known = append(known, name)
		}
	}
	return known
}
