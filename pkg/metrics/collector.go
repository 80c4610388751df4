// Package metrics exports batch queue activity as Prometheus metrics.
//
// A [Collector] implements [batch.EventHandler]; pass it to the queue with
// batch.WithEventHandler and serve the registry with promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/graphbatch/pkg/batch"
)

var _ batch.EventHandler = (*Collector)(nil)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "graphbatch"

// Collector records queue events.
type Collector struct {
	batchesTotal  *prometheus.CounterVec
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram
	retriesTotal  prometheus.Counter
	settledTotal  *prometheus.CounterVec
	attempts      prometheus.Histogram
}

// NewCollector creates a collector and registers it with reg.
// A nil reg registers nothing, which is handy in tests.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of batches sent, by result.",
			},
			[]string{"result"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of requests per batch.",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 40, 50},
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time spent executing a batch.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of requests put back for another attempt.",
			},
		),
		settledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_settled_total",
				Help:      "Total number of requests settled, by outcome.",
			},
			[]string{"outcome"},
		),
		attempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_attempts",
				Help:      "Attempts taken by a request before it settled.",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
		),
	}

	if reg != nil {
		for _, m := range []prometheus.Collector{
			c.batchesTotal, c.batchSize, c.batchDuration,
			c.retriesTotal, c.settledTotal, c.attempts,
		} {
			if err := reg.Register(m); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// OnFlush records a batch.
func (c *Collector) OnFlush(event batch.FlushEvent) {
	result := "ok"
	if event.Err != nil {
		result = "error"
	}
	c.batchesTotal.WithLabelValues(result).Inc()
	c.batchSize.Observe(float64(event.Size))
	c.batchDuration.Observe(event.Duration.Seconds())
}

// OnRetry records a retry.
func (c *Collector) OnRetry(batch.RetryEvent) {
	c.retriesTotal.Inc()
}

// OnSettle records a settled request.
func (c *Collector) OnSettle(event batch.SettleEvent) {
	outcome := "resolved"
	if !event.Success {
		outcome = "rejected"
	}
	c.settledTotal.WithLabelValues(outcome).Inc()
	c.attempts.Observe(float64(event.Attempts))
}
