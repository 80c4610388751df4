package graphbatch

import (
	"errors"
	"strings"
	"time"

	"github.com/bft-labs/graphbatch/pkg/batch"
	"github.com/bft-labs/graphbatch/pkg/graph"
)

// Config holds the configuration for a Service.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config struct {
	// AccessToken authenticates every batch call. Required.
	AccessToken string

	// GraphURL is the API host. Default: graph.DefaultBaseURL
	GraphURL string

	// APIVersion is the version path segment. Default: graph.DefaultAPIVersion
	APIVersion string

	// Delay is the interval between automatic flushes. Default: 1 second
	Delay time.Duration

	// RetryTimes is how many times a failed request may be retried. Default: 0
	RetryTimes int

	// IncludeHeaders asks the endpoint to return sub-response headers.
	// SetDefaults cannot tell false from unset, so start from DefaultConfig
	// to get the default of true.
	IncludeHeaders bool

	// HTTPTimeout bounds each batch call. Default: 30 seconds
	HTTPTimeout time.Duration

	// RateLimit caps batch calls per second. Zero disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst size. Default: 1
	RateBurst int

	// SpoolDir enables the directory intake when set.
	SpoolDir string

	// MetricsAddr serves Prometheus metrics on /metrics when set, e.g. ":9100".
	MetricsAddr string

	// DrainTimeout bounds how long Stop waits for queued requests. Default: 30 seconds
	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with default values. AccessToken must still be set.
func DefaultConfig() Config {
	return Config{
		GraphURL:       graph.DefaultBaseURL,
		APIVersion:     graph.DefaultAPIVersion,
		Delay:          batch.DefaultDelay,
		RetryTimes:     batch.DefaultRetryTimes,
		IncludeHeaders: batch.DefaultIncludeHeaders,
		HTTPTimeout:    30 * time.Second,
		RateBurst:      1,
		DrainTimeout:   30 * time.Second,
	}
}

// SetDefaults fills zero-valued fields with defaults.
func (c *Config) SetDefaults() {
	if c.GraphURL == "" {
		c.GraphURL = graph.DefaultBaseURL
	}
	c.GraphURL = strings.TrimRight(c.GraphURL, "/")
	if c.Delay == 0 {
		c.Delay = batch.DefaultDelay
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.RateBurst == 0 {
		c.RateBurst = 1
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.AccessToken == "" {
		return errors.New("graphbatch: access token is required")
	}
	if c.Delay <= 0 {
		return errors.New("graphbatch: delay must be positive")
	}
	if c.RetryTimes < 0 {
		return errors.New("graphbatch: retry times must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("graphbatch: rate limit must not be negative")
	}
	if c.RateBurst < 0 {
		return errors.New("graphbatch: rate burst must not be negative")
	}
	return nil
}
