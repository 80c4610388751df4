// Package graph sends batches of requests to the Graph API batch endpoint.
//
// [Client] implements [batch.Executor] for [Request] values, so it plugs
// straight into a batch queue:
//
//	client := graph.NewClient(accessToken,
//	    graph.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}),
//	    graph.WithRateLimiter(rate.NewLimiter(5, 1)),
//	)
//
//	q := batch.New[graph.Request](client,
//	    batch.WithRetryTimes(2),
//	    batch.WithShouldRetry(graph.ShouldRetry),
//	)
//
//	f := q.Enqueue(graph.NewRequest(http.MethodPost, "me/messages", map[string]any{
//	    "recipient": map[string]any{"id": psid},
//	    "message":   map[string]any{"text": "hello"},
//	}))
//
// Each batch is a single form-encoded POST carrying the access token, the
// JSON-encoded list of sub-requests and the include_headers flag. Failures of
// the whole call are returned as errors ([*APIError] for non-2xx statuses);
// failures of individual sub-requests come back as responses.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package graph
