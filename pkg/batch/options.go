package batch

import (
	"time"

	"github.com/bft-labs/graphbatch/pkg/log"
)

// MaxBatchSize is the largest number of requests sent in one executor call.
// Buffering this many requests triggers an immediate flush.
const MaxBatchSize = 50

// Default configuration values.
const (
	DefaultDelay          = time.Second
	DefaultRetryTimes     = 0
	DefaultIncludeHeaders = true
)

// Option configures optional behavior of a Queue.
type Option func(*options)

// options holds the optional configuration for a Queue.
type options struct {
	delay          time.Duration
	retryTimes     int
	includeHeaders bool
	shouldRetry    any
	logger         log.Logger
	events         EventHandler
}

// defaultOptions returns options with the documented defaults.
func defaultOptions() options {
	return options{
		delay:          DefaultDelay,
		retryTimes:     DefaultRetryTimes,
		includeHeaders: DefaultIncludeHeaders,
		logger:         log.NewNoopLogger(),
		events:         BaseEventHandler{},
	}
}

// WithDelay sets the interval between automatic flushes.
// Non-positive values keep the default of one second.
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithRetryTimes sets the maximum number of retries per request.
// Zero, the default, disables retries regardless of the predicate.
func WithRetryTimes(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retryTimes = n
		}
	}
}

// WithShouldRetry sets the predicate deciding whether a failed attempt is retried.
// The predicate is only consulted while retries remain. Its request type must
// match the request type of the queue it configures; New panics otherwise.
func WithShouldRetry[R any](fn func(Failure[R]) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.shouldRetry = fn
		}
	}
}

// WithIncludeHeaders controls whether per-item response headers are requested.
func WithIncludeHeaders(include bool) Option {
	return func(o *options) {
		o.includeHeaders = include
	}
}

// WithLogger sets a structured logger. If not provided, nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventHandler sets a handler for queue events.
// Handlers are called synchronously from flushing goroutines and should return quickly.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		if handler != nil {
			o.events = handler
		}
	}
}

// FlushEvent describes one executor call.
type FlushEvent struct {
	// Size is the number of requests in the batch.
	Size int

	// Duration is the time spent in the executor.
	Duration time.Duration

	// Err is the whole-batch error, if any.
	Err error
}

// RetryEvent describes a request put back in the buffer.
type RetryEvent struct {
	ID string

	// Attempt is the number of the attempt that just failed.
	Attempt int

	// Code is the failing status code, zero for whole-batch failures.
	Code int
}

// SettleEvent describes a request whose future has been settled.
type SettleEvent struct {
	ID       string
	Success  bool
	Attempts int
	Err      error
}

// EventHandler receives notifications about queue operations.
type EventHandler interface {
	OnFlush(event FlushEvent)
	OnRetry(event RetryEvent)
	OnSettle(event SettleEvent)
}

// BaseEventHandler implements EventHandler with no-ops.
// Embed it to handle only the events you care about.
type BaseEventHandler struct{}

func (BaseEventHandler) OnFlush(FlushEvent)   {}
func (BaseEventHandler) OnRetry(RetryEvent)   {}
func (BaseEventHandler) OnSettle(SettleEvent) {}

// MultiEventHandler fans events out to every handler in order.
type MultiEventHandler []EventHandler

func (m MultiEventHandler) OnFlush(event FlushEvent) {
	for _, h := range m {
		h.OnFlush(event)
	}
}

func (m MultiEventHandler) OnRetry(event RetryEvent) {
	for _, h := range m {
		h.OnRetry(event)
	}
}

func (m MultiEventHandler) OnSettle(event SettleEvent) {
	for _, h := range m {
		h.OnSettle(event)
	}
}
