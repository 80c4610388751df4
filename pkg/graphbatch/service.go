package graphbatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/bft-labs/graphbatch/internal/spool"
	"github.com/bft-labs/graphbatch/pkg/batch"
	"github.com/bft-labs/graphbatch/pkg/graph"
	"github.com/bft-labs/graphbatch/pkg/lifecycle"
	"github.com/bft-labs/graphbatch/pkg/log"
	"github.com/bft-labs/graphbatch/pkg/metrics"
)

// Service errors.
var (
	ErrNotRunning     = lifecycle.ErrNotRunning
	ErrAlreadyRunning = lifecycle.ErrAlreadyRunning
	ErrClosed         = errors.New("graphbatch: service was stopped and cannot be restarted")
)

// State is the lifecycle state of a Service.
type State = lifecycle.State

// Lifecycle states.
const (
	StateStopped  = lifecycle.StateStopped
	StateStarting = lifecycle.StateStarting
	StateRunning  = lifecycle.StateRunning
	StateStopping = lifecycle.StateStopping
	StateCrashed  = lifecycle.StateCrashed
)

const metricsShutdownTimeout = 5 * time.Second

// Service batches Graph API requests. The queue is live from New, so requests
// may be enqueued before Start; Start adds the spool intake and the metrics
// endpoint, Stop drains everything that is still queued.
type Service struct {
	config    Config
	opts      options
	lifecycle *lifecycle.DefaultManager
	client    *graph.Client
	queue     *batch.Queue[graph.Request]
	gatherer  prometheus.Gatherer
	logger    log.Logger

	mu      sync.Mutex
	spool   *spool.Watcher
	metrics *http.Server
}

// New creates a Service with the given configuration.
// The Service is created in StateStopped; call Start() to begin intake.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	logger := o.logger

	clientOpts := []graph.ClientOption{
		graph.WithHTTPClient(o.httpClient),
		graph.WithBaseURL(cfg.GraphURL),
		graph.WithAPIVersion(cfg.APIVersion),
		graph.WithLogger(logger),
	}
	if cfg.RateLimit > 0 {
		clientOpts = append(clientOpts, graph.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)))
	}
	client := graph.NewClient(cfg.AccessToken, clientOpts...)

	var handlers batch.MultiEventHandler
	if o.eventHandler != nil {
		handlers = append(handlers, o.eventHandler)
	}

	var gatherer prometheus.Gatherer
	if o.registerer != nil || cfg.MetricsAddr != "" {
		reg := o.registerer
		if reg == nil {
			r := prometheus.NewRegistry()
			reg, gatherer = r, r
		} else if g, ok := reg.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}

		collector, err := metrics.NewCollector(metrics.DefaultNamespace, reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		handlers = append(handlers, collector)
	}

	queueOpts := []batch.Option{
		batch.WithDelay(cfg.Delay),
		batch.WithRetryTimes(cfg.RetryTimes),
		batch.WithIncludeHeaders(cfg.IncludeHeaders),
		batch.WithShouldRetry(o.shouldRetry),
		batch.WithLogger(logger),
	}
	if len(handlers) > 0 {
		queueOpts = append(queueOpts, batch.WithEventHandler(handlers))
	}

	return &Service{
		config:    cfg,
		opts:      o,
		lifecycle: lifecycle.NewManager(logger, nil),
		client:    client,
		queue:     batch.New[graph.Request](client, queueOpts...),
		gatherer:  gatherer,
		logger:    logger,
	}, nil
}

// Start begins the spool intake and the metrics endpoint, when configured.
// Returns immediately; the provided context bounds the intake.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if s.queue.Stopped() {
		return ErrClosed
	}

	if err := s.lifecycle.TransitionTo(lifecycle.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.lifecycle.SetCancel(cancel)

	if s.config.MetricsAddr != "" {
		if err := s.startMetrics(); err != nil {
			cancel()
			_ = s.lifecycle.TransitionTo(lifecycle.StateCrashed, "metrics endpoint failed")
			return err
		}
	}

	if s.config.SpoolDir != "" {
		w, err := spool.New(spool.Config{Dir: s.config.SpoolDir}, s.queue, s.logger)
		if err != nil {
			cancel()
			s.stopMetrics()
			_ = s.lifecycle.TransitionTo(lifecycle.StateCrashed, "spool init failed")
			return err
		}
		s.spool = w
		s.lifecycle.Go(func() {
			if err := w.Run(runCtx); err != nil {
				s.logger.Error("spool watcher stopped", log.Err(err))
			}
		})
	}

	return s.lifecycle.TransitionTo(lifecycle.StateRunning, "service started")
}

func (s *Service) startMetrics() error {
	ln, err := net.Listen("tcp", s.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.metrics = srv

	s.logger.Info("metrics endpoint listening", log.String("addr", ln.Addr().String()))
	s.lifecycle.Go(func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics endpoint failed", log.Err(err))
		}
	})
	return nil
}

func (s *Service) stopMetrics() {
	if s.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := s.metrics.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics shutdown", log.Err(err))
	}
	s.metrics = nil
}

// Stop gracefully shuts the service down. It stops the intake, stops the
// queue timer and drains queued requests within DrainTimeout. A stopped
// Service cannot be started again.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStop() {
		return ErrNotRunning
	}
	if err := s.lifecycle.TransitionTo(lifecycle.StateStopping, "Stop() called"); err != nil {
		return err
	}

	s.lifecycle.Cancel()
	s.queue.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), s.config.DrainTimeout)
	drainErr := s.queue.Drain(drainCtx)
	cancel()
	if drainErr != nil {
		s.logger.Warn("queue not drained",
			log.Int("pending", s.queue.Pending()),
			log.Err(drainErr),
		)
		drainErr = fmt.Errorf("drain queue: %w", drainErr)
	}

	if s.spool != nil {
		s.spool.Close()
	}
	s.stopMetrics()

	waitErr := s.lifecycle.WaitWithTimeout(lifecycle.ShutdownTimeout)

	if err := errors.Join(drainErr, waitErr); err != nil {
		_ = s.lifecycle.TransitionTo(lifecycle.StateCrashed, err.Error())
		return err
	}
	return s.lifecycle.TransitionTo(lifecycle.StateStopped, "graceful shutdown")
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (s *Service) Status() State {
	return s.lifecycle.State()
}

// Queue returns the underlying batch queue.
func (s *Service) Queue() *batch.Queue[graph.Request] {
	return s.queue
}

// Client returns the Graph client the queue executes with.
func (s *Service) Client() *graph.Client {
	return s.client
}

// Enqueue adds req to the queue.
func (s *Service) Enqueue(req graph.Request) *batch.Future {
	return s.queue.Enqueue(req)
}

// Gatherer returns the registry queue metrics are registered with, or nil
// when metrics are disabled.
func (s *Service) Gatherer() prometheus.Gatherer {
	return s.gatherer
}

// validateModuleVersions checks that all module versions are compatible.
// Returns an error if any module version is below its minimum compatible version.
func validateModuleVersions() error {
	modules := map[string]struct {
		version    string
		minVersion string
	}{
		"batch":     {batch.Version, batch.MinCompatibleVersion},
		"graph":     {graph.Version, graph.MinCompatibleVersion},
		"lifecycle": {lifecycle.Version, lifecycle.MinCompatibleVersion},
		"log":       {log.Version, log.MinCompatibleVersion},
		"metrics":   {metrics.Version, metrics.MinCompatibleVersion},
	}

	for name, m := range modules {
		if !isVersionCompatible(m.version, m.minVersion) {
			return fmt.Errorf("module %s version %s is below minimum compatible version %s",
				name, m.version, m.minVersion)
		}
	}

	return nil
}

// isVersionCompatible checks if version >= minVersion using semantic versioning.
// Assumes versions are in format "major.minor.patch".
func isVersionCompatible(version, minVersion string) bool {
	var vMajor, vMinor, vPatch int
	var mMajor, mMinor, mPatch int

	_, _ = fmt.Sscanf(version, "%d.%d.%d", &vMajor, &vMinor, &vPatch)
	_, _ = fmt.Sscanf(minVersion, "%d.%d.%d", &mMajor, &mMinor, &mPatch)

	if vMajor != mMajor {
		return vMajor > mMajor
	}
	if vMinor != mMinor {
		return vMinor > mMinor
	}
	return vPatch >= mPatch
}
