package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	AccessToken    string  `toml:"access_token" yaml:"access_token"`
	GraphURL       string  `toml:"graph_url" yaml:"graph_url"`
	APIVersion     string  `toml:"api_version" yaml:"api_version"`
	Delay          string  `toml:"delay" yaml:"delay"`
	RetryTimes     int     `toml:"retry_times" yaml:"retry_times"`
	IncludeHeaders *bool   `toml:"include_headers" yaml:"include_headers"`
	HTTPTimeout    string  `toml:"http_timeout" yaml:"http_timeout"`
	DrainTimeout   string  `toml:"drain_timeout" yaml:"drain_timeout"`
	RateLimit      float64 `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst" yaml:"rate_burst"`
	SpoolDir       string  `toml:"spool_dir" yaml:"spool_dir"`
	MetricsAddr    string  `toml:"metrics_addr" yaml:"metrics_addr"`
	LogLevel       string  `toml:"log_level" yaml:"log_level"`
	LogFile        string  `toml:"log_file" yaml:"log_file"`
}

// LoadFileConfig reads and parses a config file from the given path.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := toml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse toml: %w", err)
		}
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.graphbatch/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".graphbatch", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("access-token", fc.AccessToken, &cfg.AccessToken)
	s.setString("graph-url", fc.GraphURL, &cfg.GraphURL)
	s.setString("api-version", fc.APIVersion, &cfg.APIVersion)
	s.setString("spool-dir", fc.SpoolDir, &cfg.SpoolDir)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)

	if err := s.setDuration("delay", fc.Delay, &cfg.Delay); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("drain-timeout", fc.DrainTimeout, &cfg.DrainTimeout); err != nil {
		return err
	}

	s.setFloat("rate-limit", fc.RateLimit, &cfg.RateLimit)

	s.setInt("retry-times", fc.RetryTimes, &cfg.RetryTimes)
	s.setInt("rate-burst", fc.RateBurst, &cfg.RateBurst)

	s.setBool("include-headers", fc.IncludeHeaders, &cfg.IncludeHeaders)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
