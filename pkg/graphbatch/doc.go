// Package graphbatch provides an embeddable service that batches Graph API
// requests.
//
// A [Service] owns a [graph.Client], a [batch.Queue] feeding it, and
// optionally a spool directory intake and a Prometheus endpoint.
//
// # Basic Usage
//
//	cfg := graphbatch.DefaultConfig()
//	cfg.AccessToken = os.Getenv("PAGE_ACCESS_TOKEN")
//	cfg.RetryTimes = 2
//
//	svc, err := graphbatch.New(cfg, graphbatch.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := svc.Start(ctx); err != nil {
//	    return err
//	}
//	defer svc.Stop()
//
//	f := svc.Enqueue(graph.NewRequest(http.MethodGet, "me", nil))
//	body, err := f.Wait(ctx)
//
// # Configuration
//
// Start from [DefaultConfig]; AccessToken is the only required field. Zero
// durations are replaced by defaults in [Config.SetDefaults].
//
// # Retries
//
// Failed requests are retried up to RetryTimes when [graph.ShouldRetry]
// agrees. Replace the policy with [WithShouldRetry].
//
// # Metrics
//
// Setting MetricsAddr serves queue metrics on /metrics. Pass
// [WithRegisterer] to register them with an existing registry instead.
//
// # Lifecycle States
//
// A Service moves through Stopped, Starting, Running, Stopping and back to
// Stopped. A failed Start or an incomplete drain leaves it Crashed. Once
// stopped, its queue no longer flushes on a timer and Start returns
// [ErrClosed].
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package graphbatch
