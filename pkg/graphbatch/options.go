package graphbatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/graphbatch/pkg/batch"
	"github.com/bft-labs/graphbatch/pkg/graph"
	"github.com/bft-labs/graphbatch/pkg/log"
)

// Option configures optional behavior of a Service.
type Option func(*options)

// options holds the optional configuration for a Service.
type options struct {
	httpClient   graph.HTTPClient
	logger       log.Logger
	eventHandler batch.EventHandler
	shouldRetry  func(batch.Failure[graph.Request]) bool
	registerer   prometheus.Registerer
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() options {
	return options{
		logger:      log.NewNoopLogger(),
		shouldRetry: graph.ShouldRetry,
	}
}

// WithHTTPClient sets a custom HTTP client for API communication.
// If not provided, a client with the configured timeout is used.
func WithHTTPClient(client graph.HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventHandler sets a handler for queue events.
// Events are called synchronously from the flushing goroutine.
func WithEventHandler(handler batch.EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithShouldRetry replaces the retry policy. Default: graph.ShouldRetry
func WithShouldRetry(fn func(batch.Failure[graph.Request]) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.shouldRetry = fn
		}
	}
}

// WithRegisterer registers queue metrics with reg. When MetricsAddr is also
// set and reg is a prometheus.Gatherer, the same registry is served.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
