package cliconfig

import (
	"testing"
	"time"

	"github.com/bft-labs/graphbatch/pkg/graph"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("GRAPHBATCH_ACCESS_TOKEN", "")
	cfg := DefaultConfig()

	if cfg.GraphURL != graph.DefaultBaseURL {
		t.Errorf("GraphURL = %v, want %v", cfg.GraphURL, graph.DefaultBaseURL)
	}
	if cfg.Delay != time.Second {
		t.Errorf("Delay = %v, want 1s", cfg.Delay)
	}
	if cfg.RetryTimes != 0 {
		t.Errorf("RetryTimes = %v, want 0", cfg.RetryTimes)
	}
	if !cfg.IncludeHeaders {
		t.Error("IncludeHeaders = false, want true")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name         string
		config       Config
		wantErr      bool
		wantGraphURL string
	}{
		{
			name:         "valid minimal config",
			config:       Config{AccessToken: "tok", Delay: time.Second},
			wantGraphURL: graph.DefaultBaseURL,
		},
		{
			name:    "missing access token",
			config:  Config{Delay: time.Second},
			wantErr: true,
		},
		{
			name:    "zero delay",
			config:  Config{AccessToken: "tok"},
			wantErr: true,
		},
		{
			name:    "negative retries",
			config:  Config{AccessToken: "tok", Delay: time.Second, RetryTimes: -1},
			wantErr: true,
		},
		{
			name:    "negative rate limit",
			config:  Config{AccessToken: "tok", Delay: time.Second, RateLimit: -2},
			wantErr: true,
		},
		{
			name:         "trailing slash trimmed",
			config:       Config{AccessToken: "tok", Delay: time.Second, GraphURL: "http://localhost:8080/"},
			wantGraphURL: "http://localhost:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			err := cfg.Validate()

			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && cfg.GraphURL != tt.wantGraphURL {
				t.Errorf("GraphURL = %v, want %v", cfg.GraphURL, tt.wantGraphURL)
			}
		})
	}
}

func TestConfig_Validate_RateBurst(t *testing.T) {
	cfg := Config{AccessToken: "tok", Delay: time.Second, RateLimit: 5}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.RateBurst != 1 {
		t.Errorf("RateBurst = %d, want 1", cfg.RateBurst)
	}
	if cfg.DrainTimeout != 30*time.Second {
		t.Errorf("DrainTimeout = %v, want 30s", cfg.DrainTimeout)
	}
}

func TestConfig_Masked(t *testing.T) {
	cfg := Config{AccessToken: "secret"}
	if got := cfg.Masked().AccessToken; got != "*****" {
		t.Errorf("Masked().AccessToken = %q, want *****", got)
	}
	if cfg.AccessToken != "secret" {
		t.Error("Masked() modified the receiver")
	}
}
