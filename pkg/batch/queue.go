package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/graphbatch/pkg/log"
)

// item is one enqueued request awaiting its batch.
type item[R any] struct {
	request R
	future  *Future
	retries int
}

// Queue accumulates requests and sends them to an Executor in batches of at
// most MaxBatchSize, either every delay or as soon as the buffer is full.
// All methods are safe for concurrent use. Independent queues share no state.
type Queue[R any] struct {
	exec        Executor[R]
	opts        options
	shouldRetry func(Failure[R]) bool

	mu       sync.Mutex
	items    []*item[R]
	timer    *time.Timer
	gen      uint64 // identifies the live timer; stale timers compare unequal
	stopped  bool
	inflight int
}

// New creates a queue that sends batches through exec.
// The first automatic flush is scheduled one delay after New returns.
func New[R any](exec Executor[R], opts ...Option) *Queue[R] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	shouldRetry := func(Failure[R]) bool { return true }
	if o.shouldRetry != nil {
		fn, ok := o.shouldRetry.(func(Failure[R]) bool)
		if !ok {
			panic(fmt.Sprintf("batch: retry predicate %T does not match queue request type %T",
				o.shouldRetry, (*R)(nil)))
		}
		shouldRetry = fn
	}

	q := &Queue[R]{
		exec:        exec,
		opts:        o,
		shouldRetry: shouldRetry,
	}

	q.mu.Lock()
	q.resetTimerLocked()
	q.mu.Unlock()

	return q
}

// Enqueue adds a request to the buffer and returns its future.
// It never blocks on the network. When the buffer reaches MaxBatchSize the
// first MaxBatchSize requests are taken before Enqueue returns and sent in
// the background.
func (q *Queue[R]) Enqueue(req R) *Future {
	f := newFuture()

	q.mu.Lock()
	q.items = append(q.items, &item[R]{request: req, future: f})
	var full []*item[R]
	if len(q.items) >= MaxBatchSize {
		full = q.takeLocked()
	}
	q.mu.Unlock()

	q.opts.logger.Debug("request enqueued", log.String("id", f.ID()))

	if len(full) > 0 {
		go q.send(context.Background(), full)
	}
	return f
}

// Flush sends up to MaxBatchSize buffered requests and waits until every one
// of them is settled or put back for retry. The automatic flush timer is
// restarted whether or not anything was buffered.
func (q *Queue[R]) Flush(ctx context.Context) {
	q.mu.Lock()
	taken := q.takeLocked()
	q.mu.Unlock()

	if len(taken) == 0 {
		return
	}
	q.send(ctx, taken)
}

// Stop cancels automatic flushing. Buffered requests stay pending; call Flush
// or Drain to send them. Batches already in flight run to completion.
// Flush no longer restarts the timer after Stop.
func (q *Queue[R]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	q.resetTimerLocked()
}

// Drain flushes repeatedly until no request is buffered or in flight, so
// retried requests get their remaining attempts. It returns ctx.Err() if ctx
// ends first.
func (q *Queue[R]) Drain(ctx context.Context) error {
	b := NewBackoff(DefaultBackoffInitial, min(q.opts.delay, DefaultBackoffMax))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.Flush(ctx)
		if q.Pending() == 0 {
			return nil
		}
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
}

// Len returns the number of buffered requests.
func (q *Queue[R]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of buffered and in-flight requests.
func (q *Queue[R]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.inflight
}

// Stopped reports whether Stop has been called.
func (q *Queue[R]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// takeLocked removes up to MaxBatchSize requests from the front of the buffer
// and restarts the timer. q.mu must be held.
func (q *Queue[R]) takeLocked() []*item[R] {
	q.resetTimerLocked()

	n := min(len(q.items), MaxBatchSize)
	if n == 0 {
		return nil
	}

	taken := make([]*item[R], n)
	copy(taken, q.items)
	rest := copy(q.items, q.items[n:])
	clear(q.items[rest:])
	q.items = q.items[:rest]

	q.inflight += n
	return taken
}

// resetTimerLocked cancels the live timer and, unless stopped, schedules a
// new one. q.mu must be held.
func (q *Queue[R]) resetTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
	if q.stopped {
		return
	}

	gen := q.gen
	q.timer = time.AfterFunc(q.opts.delay, func() { q.tick(gen) })
}

func (q *Queue[R]) tick(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || q.stopped {
		q.mu.Unlock()
		return
	}
	taken := q.takeLocked()
	q.mu.Unlock()

	if len(taken) > 0 {
		q.send(context.Background(), taken)
	}
}

// send executes one batch and settles or requeues each of its items.
func (q *Queue[R]) send(ctx context.Context, items []*item[R]) {
	requests := make([]R, len(items))
	for i, it := range items {
		requests[i] = it.request
	}

	start := time.Now()
	responses, err := q.exec.ExecuteBatch(ctx, requests, ExecuteOptions{IncludeHeaders: q.opts.includeHeaders})
	duration := time.Since(start)

	if err == nil && len(responses) != len(items) {
		err = fmt.Errorf("%w: sent %d, received %d", ErrResponseMismatch, len(items), len(responses))
	}

	q.opts.events.OnFlush(FlushEvent{Size: len(items), Duration: duration, Err: err})

	var retry []*item[R]
	if err != nil {
		q.opts.logger.Warn("batch failed",
			log.Err(err),
			log.Int("size", len(items)),
			log.Duration("duration", duration),
		)
		for _, it := range items {
			f := Failure[R]{Request: it.request, Err: err, Attempt: it.retries + 1}
			if q.shouldRequeue(it, f) {
				q.noteRetry(it, 0)
				retry = append(retry, it)
				continue
			}
			q.reject(it, err)
		}
	} else {
		q.opts.logger.Debug("batch sent",
			log.Int("size", len(items)),
			log.Duration("duration", duration),
		)
		for i, it := range items {
			resp := responses[i]
			if resp.OK() {
				q.resolve(it, resp.Body)
				continue
			}
			f := Failure[R]{Request: it.request, Response: &resp, Attempt: it.retries + 1}
			if q.shouldRequeue(it, f) {
				q.noteRetry(it, resp.Code)
				retry = append(retry, it)
				continue
			}
			q.reject(it, NewError(it.request, resp))
		}
	}

	q.mu.Lock()
	for _, it := range retry {
		it.retries++
	}
	q.items = append(q.items, retry...)
	q.inflight -= len(items)
	q.mu.Unlock()
}

func (q *Queue[R]) shouldRequeue(it *item[R], f Failure[R]) bool {
	return it.retries < q.opts.retryTimes && q.shouldRetry(f)
}

func (q *Queue[R]) noteRetry(it *item[R], code int) {
	q.opts.logger.Info("request requeued",
		log.String("id", it.future.ID()),
		log.Int("attempt", it.retries+1),
		log.Int("code", code),
	)
	q.opts.events.OnRetry(RetryEvent{ID: it.future.ID(), Attempt: it.retries + 1, Code: code})
}

func (q *Queue[R]) resolve(it *item[R], body json.RawMessage) {
	if !it.future.resolve(body) {
		return
	}
	q.opts.events.OnSettle(SettleEvent{ID: it.future.ID(), Success: true, Attempts: it.retries + 1})
}

func (q *Queue[R]) reject(it *item[R], err error) {
	if !it.future.reject(err) {
		return
	}
	q.opts.logger.Warn("request rejected",
		log.String("id", it.future.ID()),
		log.Int("attempts", it.retries+1),
		log.Err(err),
	)
	q.opts.events.OnSettle(SettleEvent{ID: it.future.ID(), Success: false, Attempts: it.retries + 1, Err: err})
}
