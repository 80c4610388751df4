package cliconfig

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if !FileExists(path) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnvConfig applies configuration from environment variables (GRAPHBATCH_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("access-token", os.Getenv("GRAPHBATCH_ACCESS_TOKEN"), &cfg.AccessToken)
	s.setString("graph-url", os.Getenv("GRAPHBATCH_GRAPH_URL"), &cfg.GraphURL)
	s.setString("api-version", os.Getenv("GRAPHBATCH_API_VERSION"), &cfg.APIVersion)
	s.setString("spool-dir", os.Getenv("GRAPHBATCH_SPOOL_DIR"), &cfg.SpoolDir)
	s.setString("metrics-addr", os.Getenv("GRAPHBATCH_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("log-level", os.Getenv("GRAPHBATCH_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-file", os.Getenv("GRAPHBATCH_LOG_FILE"), &cfg.LogFile)

	if err := s.setDuration("delay", os.Getenv("GRAPHBATCH_DELAY"), &cfg.Delay); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("GRAPHBATCH_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("drain-timeout", os.Getenv("GRAPHBATCH_DRAIN_TIMEOUT"), &cfg.DrainTimeout); err != nil {
		return err
	}

	if err := s.setFloatFromString("rate-limit", os.Getenv("GRAPHBATCH_RATE_LIMIT"), &cfg.RateLimit); err != nil {
		return err
	}

	if err := s.setIntFromString("retry-times", os.Getenv("GRAPHBATCH_RETRY_TIMES"), &cfg.RetryTimes); err != nil {
		return err
	}
	if err := s.setIntFromString("rate-burst", os.Getenv("GRAPHBATCH_RATE_BURST"), &cfg.RateBurst); err != nil {
		return err
	}

	s.setBoolFromString("include-headers", os.Getenv("GRAPHBATCH_INCLUDE_HEADERS"), &cfg.IncludeHeaders)

	return nil
}
