// Package graphbatch coalesces individual Graph API calls into batch requests.
//
// Example usage:
//
//	client := graphbatch.NewClient(os.Getenv("PAGE_ACCESS_TOKEN"))
//	q := graphbatch.NewQueue(client, batch.WithRetryTimes(2))
//	defer q.Stop()
//
//	f := q.Enqueue(graphbatch.NewRequest(http.MethodGet, "me", nil))
//	body, err := f.Wait(ctx)
//
// For a managed service with spool intake and metrics, see [New].
package graphbatch

import (
	"github.com/bft-labs/graphbatch/pkg/batch"
	"github.com/bft-labs/graphbatch/pkg/graph"
	service "github.com/bft-labs/graphbatch/pkg/graphbatch"
)

// Request is one Graph API sub-request.
type Request = graph.Request

// Queue batches Requests.
type Queue = batch.Queue[graph.Request]

// Error is the rejection of a Request that received a non-200 sub-response.
type Error = batch.Error[graph.Request]

// Future is the pending result of an enqueued Request.
type Future = batch.Future

// Config holds the configuration for a Service.
type Config = service.Config

// Service is a managed queue with optional spool intake and metrics endpoint.
type Service = service.Service

// MaxBatchSize is the largest number of requests sent in one batch.
const MaxBatchSize = batch.MaxBatchSize

// New creates a Service. See the pkg/graphbatch package for options.
func New(cfg Config, opts ...service.Option) (*Service, error) {
	return service.New(cfg, opts...)
}

// DefaultConfig returns a Config with sensible default values.
// At minimum, you must set AccessToken before calling New.
func DefaultConfig() Config {
	return service.DefaultConfig()
}

// NewClient creates a Graph batch client.
func NewClient(accessToken string, opts ...graph.ClientOption) *graph.Client {
	return graph.NewClient(accessToken, opts...)
}

// NewRequest creates a Request.
func NewRequest(method, relativeURL string, body map[string]any) Request {
	return graph.NewRequest(method, relativeURL, body)
}

// NewQueue creates a queue that executes batches with client and retries
// with graph.ShouldRetry unless opts say otherwise.
func NewQueue(client batch.Executor[graph.Request], opts ...batch.Option) *Queue {
	opts = append([]batch.Option{batch.WithShouldRetry(graph.ShouldRetry)}, opts...)
	return batch.New[graph.Request](client, opts...)
}
