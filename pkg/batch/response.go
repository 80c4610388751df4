package batch

import (
	"context"
	"encoding/json"
	"net/http"
)

// Header is a single response header returned for a sub-request.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Response is the result of one sub-request within a batch.
type Response struct {
	// Code is the HTTP-like status code of the sub-request.
	Code int `json:"code"`

	// Headers are present only when the executor was asked to include them.
	Headers []Header `json:"headers,omitempty"`

	// Body is the parsed response body.
	Body json.RawMessage `json:"body"`
}

// OK reports whether the sub-request succeeded.
func (r Response) OK() bool {
	return r.Code == http.StatusOK
}

// Header returns the value of the first header with the given name.
func (r Response) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if http.CanonicalHeaderKey(h.Name) == http.CanonicalHeaderKey(name) {
			return h.Value, true
		}
	}
	return "", false
}

// ExecuteOptions are passed to the executor with every batch.
type ExecuteOptions struct {
	// IncludeHeaders asks the executor for per-item response headers.
	IncludeHeaders bool
}

// Executor performs the network call for a batch.
// The returned slice must have one response per request, in request order.
// Returning an error signals a failure of the whole batch.
type Executor[R any] interface {
	ExecuteBatch(ctx context.Context, requests []R, opts ExecuteOptions) ([]Response, error)
}

// ExecutorFunc adapts an ordinary function to the Executor interface.
type ExecutorFunc[R any] func(ctx context.Context, requests []R, opts ExecuteOptions) ([]Response, error)

// ExecuteBatch calls f.
func (f ExecutorFunc[R]) ExecuteBatch(ctx context.Context, requests []R, opts ExecuteOptions) ([]Response, error) {
	return f(ctx, requests, opts)
}
