package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an executor that records every call and answers with respond.
type recorder struct {
	mu      sync.Mutex
	calls   [][]string
	opts    []ExecuteOptions
	called  chan int
	respond func(reqs []string) ([]Response, error)
}

func newRecorder(respond func(reqs []string) ([]Response, error)) *recorder {
	return &recorder{respond: respond, called: make(chan int, 100)}
}

func (r *recorder) ExecuteBatch(_ context.Context, reqs []string, opts ExecuteOptions) ([]Response, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), reqs...))
	r.opts = append(r.opts, opts)
	r.mu.Unlock()
	select {
	case r.called <- len(reqs):
	default:
	}
	return r.respond(reqs)
}

func (r *recorder) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

// echo answers 200 with {"req": <request>} for every request.
func echo(reqs []string) ([]Response, error) {
	out := make([]Response, len(reqs))
	for i, r := range reqs {
		out[i] = Response{Code: 200, Body: json.RawMessage(fmt.Sprintf(`{"req":%q}`, r))}
	}
	return out, nil
}

func statusAll(code int, body string) func([]string) ([]Response, error) {
	return func(reqs []string) ([]Response, error) {
		out := make([]Response, len(reqs))
		for i := range reqs {
			out[i] = Response{Code: code, Body: json.RawMessage(body)}
		}
		return out, nil
	}
}

func waitResult(t *testing.T, f *Future) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	body, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future not settled in time")
	return body, err
}

func TestQueue_PositionalCorrespondence(t *testing.T) {
	rec := newRecorder(echo)
	q := New[string](rec, WithDelay(time.Hour))
	defer q.Stop()

	names := []string{"a", "b", "c", "d"}
	futures := make([]*Future, len(names))
	for i, n := range names {
		futures[i] = q.Enqueue(n)
	}

	q.Flush(context.Background())

	require.Len(t, rec.Calls(), 1)
	assert.Equal(t, names, rec.Calls()[0])
	for i, n := range names {
		body, err := futures[i].Result()
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"req":%q}`, n), string(body))
	}
}

func TestQueue_CapacityFlush(t *testing.T) {
	rec := newRecorder(echo)
	q := New[string](rec, WithDelay(time.Hour))
	defer q.Stop()

	futures := make([]*Future, MaxBatchSize+1)
	for i := range futures {
		futures[i] = q.Enqueue(fmt.Sprintf("r%d", i))
	}

	// The first 50 were taken synchronously by the 50th Enqueue.
	assert.Equal(t, 1, q.Len())

	select {
	case n := <-rec.called:
		assert.Equal(t, MaxBatchSize, n)
	case <-time.After(5 * time.Second):
		t.Fatal("capacity flush did not reach the executor")
	}

	for i := 0; i < MaxBatchSize; i++ {
		_, err := waitResult(t, futures[i])
		require.NoError(t, err)
	}
	_, err := futures[MaxBatchSize].Result()
	assert.ErrorIs(t, err, ErrPending)

	q.Flush(context.Background())
	body, err := futures[MaxBatchSize].Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"req":"r50"}`, string(body))
}

func TestQueue_FlushTakesAtMostMaxBatchSize(t *testing.T) {
	rec := newRecorder(echo)
	q := New[string](rec, WithDelay(time.Hour))
	defer q.Stop()

	// Fill past capacity without triggering the automatic take.
	q.mu.Lock()
	for i := 0; i < MaxBatchSize+10; i++ {
		q.items = append(q.items, &item[string]{request: fmt.Sprint(i), future: newFuture()})
	}
	q.mu.Unlock()

	q.Flush(context.Background())

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], MaxBatchSize)
	assert.Equal(t, "0", calls[0][0])
	assert.Equal(t, 10, q.Len())
}

func TestQueue_TimerFlush(t *testing.T) {
	rec := newRecorder(echo)
	q := New[string](rec, WithDelay(20*time.Millisecond))
	defer q.Stop()

	f := q.Enqueue("tick")
	body, err := waitResult(t, f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"req":"tick"}`, string(body))
}

func TestQueue_FlushRestartsTimer(t *testing.T) {
	q := New[string](newRecorder(echo), WithDelay(time.Hour))
	defer q.Stop()

	q.mu.Lock()
	gen := q.gen
	q.mu.Unlock()

	q.Flush(context.Background())

	q.mu.Lock()
	assert.Equal(t, gen+1, q.gen)
	assert.NotNil(t, q.timer)
	q.items = append(q.items, &item[string]{request: "x", future: newFuture()})
	q.mu.Unlock()

	// A tick from the replaced timer is a no-op.
	q.tick(gen)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_EmptyFlushSkipsExecutor(t *testing.T) {
	rec := newRecorder(echo)
	q := New[string](rec, WithDelay(time.Hour))
	defer q.Stop()

	q.Flush(context.Background())
	q.Flush(context.Background())

	assert.Empty(t, rec.Calls())
}

func TestQueue_ResolvesSuccess(t *testing.T) {
	q := New[string](newRecorder(statusAll(200, `{"x":1}`)), WithDelay(time.Hour))
	defer q.Stop()

	f := q.Enqueue("r")
	q.Flush(context.Background())

	body, err := f.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(body))
}

func TestQueue_RejectsWithError(t *testing.T) {
	q := New[string](newRecorder(statusAll(400, `{"error":{"message":"bad"}}`)), WithDelay(time.Hour))
	defer q.Stop()

	f := q.Enqueue("r")
	q.Flush(context.Background())

	_, err := f.Result()
	var batchErr *Error[string]
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 400, batchErr.StatusCode())
	assert.Equal(t, "r", batchErr.Request)
	assert.Contains(t, batchErr.Error(), "bad")
}

func TestQueue_DefaultDoesNotRetry(t *testing.T) {
	rec := newRecorder(statusAll(500, `{}`))
	q := New[string](rec, WithDelay(time.Hour))
	defer q.Stop()

	f := q.Enqueue("r")
	require.NoError(t, q.Drain(context.Background()))

	_, err := f.Result()
	var batchErr *Error[string]
	require.True(t, errors.As(err, &batchErr))
	assert.Len(t, rec.Calls(), 1)
}

func TestQueue_RetryBound(t *testing.T) {
	for _, retries := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			rec := newRecorder(statusAll(503, `{"error":{"message":"busy"}}`))
			q := New[string](rec, WithDelay(time.Hour), WithRetryTimes(retries))
			defer q.Stop()

			f := q.Enqueue("r")
			require.NoError(t, q.Drain(context.Background()))

			assert.Len(t, rec.Calls(), retries+1)
			_, err := f.Result()
			var batchErr *Error[string]
			require.True(t, errors.As(err, &batchErr))
			assert.Equal(t, 503, batchErr.StatusCode())
		})
	}
}

func TestQueue_SelectiveRetry(t *testing.T) {
	attempts := map[string]int{}
	var mu sync.Mutex
	rec := newRecorder(func(reqs []string) ([]Response, error) {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Response, len(reqs))
		for i, r := range reqs {
			attempts[r]++
			if attempts[r] == 1 {
				out[i] = Response{Code: 500, Body: json.RawMessage(`{"error":{"message":"oops"}}`)}
				continue
			}
			out[i] = Response{Code: 200, Body: json.RawMessage(`{"ok":true}`)}
		}
		return out, nil
	})

	q := New[string](rec,
		WithDelay(time.Hour),
		WithRetryTimes(1),
		WithShouldRetry(func(f Failure[string]) bool { return f.Request == "second" }),
	)
	defer q.Stop()

	first := q.Enqueue("first")
	second := q.Enqueue("second")

	q.Flush(context.Background())

	_, err := first.Result()
	var batchErr *Error[string]
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 500, batchErr.StatusCode())

	_, err = second.Result()
	assert.ErrorIs(t, err, ErrPending)
	assert.Equal(t, 1, q.Len())

	q.Flush(context.Background())

	body, err := second.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, [][]string{{"first", "second"}, {"second"}}, rec.Calls())
}

func TestQueue_RetriedItemsGoToBack(t *testing.T) {
	var q *Queue[string]
	calls := 0
	rec := newRecorder(func(reqs []string) ([]Response, error) {
		calls++
		if calls == 1 {
			// Arrives while "old" is in flight.
			q.Enqueue("new")
			return statusAll(500, `{}`)(reqs)
		}
		return echo(reqs)
	})
	q = New[string](rec, WithDelay(time.Hour), WithRetryTimes(1))
	defer q.Stop()

	q.Enqueue("old")
	q.Flush(context.Background())
	q.Flush(context.Background())

	got := rec.Calls()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"new", "old"}, got[1])
}

func TestQueue_TransportErrorRejectsRaw(t *testing.T) {
	boom := errors.New("connection reset")
	q := New[string](newRecorder(func([]string) ([]Response, error) { return nil, boom }), WithDelay(time.Hour))
	defer q.Stop()

	f1 := q.Enqueue("a")
	f2 := q.Enqueue("b")
	q.Flush(context.Background())

	for _, f := range []*Future{f1, f2} {
		_, err := f.Result()
		assert.Equal(t, boom, err)
	}
}

func TestQueue_TransportErrorRetried(t *testing.T) {
	calls := 0
	rec := newRecorder(func(reqs []string) ([]Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		return echo(reqs)
	})
	q := New[string](rec, WithDelay(time.Hour), WithRetryTimes(1), WithShouldRetry(RetryOnStatus[string]()))
	defer q.Stop()

	f := q.Enqueue("a")
	require.NoError(t, q.Drain(context.Background()))

	_, err := f.Result()
	assert.NoError(t, err)
}

func TestQueue_ResponseMismatch(t *testing.T) {
	q := New[string](newRecorder(func([]string) ([]Response, error) {
		return []Response{{Code: 200}}, nil
	}), WithDelay(time.Hour))
	defer q.Stop()

	f1 := q.Enqueue("a")
	f2 := q.Enqueue("b")
	q.Flush(context.Background())

	for _, f := range []*Future{f1, f2} {
		_, err := f.Result()
		assert.ErrorIs(t, err, ErrResponseMismatch)
	}
}

func TestQueue_IncludeHeaders(t *testing.T) {
	rec := newRecorder(echo)
	q := New[string](rec, WithDelay(time.Hour), WithIncludeHeaders(false))
	defer q.Stop()

	q.Enqueue("a")
	q.Flush(context.Background())

	require.Len(t, rec.opts, 1)
	assert.False(t, rec.opts[0].IncludeHeaders)
}

func TestQueue_Stop(t *testing.T) {
	rec := newRecorder(echo)
	q := New[string](rec, WithDelay(10*time.Millisecond))

	q.Stop()
	q.Stop()
	assert.True(t, q.Stopped())

	f := q.Enqueue("a")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.Calls(), "timer must not fire after Stop")
	assert.Equal(t, 1, q.Pending())

	q.Flush(context.Background())
	_, err := f.Result()
	require.NoError(t, err)

	q.mu.Lock()
	assert.Nil(t, q.timer, "Flush must not re-arm the timer after Stop")
	q.mu.Unlock()
}

func TestQueue_DrainHonorsContext(t *testing.T) {
	q := New[string](newRecorder(statusAll(500, `{}`)), WithDelay(time.Hour), WithRetryTimes(1000))
	defer q.Stop()

	q.Enqueue("a")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := q.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_PredicateTypeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		New[string](newRecorder(echo), WithShouldRetry(func(Failure[int]) bool { return true }))
	})
}

func TestQueue_IndependentQueues(t *testing.T) {
	r1, r2 := newRecorder(echo), newRecorder(echo)
	q1 := New[string](r1, WithDelay(time.Hour))
	q2 := New[string](r2, WithDelay(time.Hour))
	defer q1.Stop()
	defer q2.Stop()

	q1.Enqueue("one")
	q2.Enqueue("two")
	q1.Flush(context.Background())

	assert.Len(t, r1.Calls(), 1)
	assert.Empty(t, r2.Calls())
	assert.Equal(t, 1, q2.Len())
}

type recordingHandler struct {
	mu      sync.Mutex
	flushes []FlushEvent
	retries []RetryEvent
	settles []SettleEvent
}

func (h *recordingHandler) OnFlush(e FlushEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushes = append(h.flushes, e)
}

func (h *recordingHandler) OnRetry(e RetryEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, e)
}

func (h *recordingHandler) OnSettle(e SettleEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settles = append(h.settles, e)
}

func TestQueue_Events(t *testing.T) {
	h := &recordingHandler{}
	other := &recordingHandler{}
	q := New[string](newRecorder(statusAll(429, `{}`)),
		WithDelay(time.Hour),
		WithRetryTimes(2),
		WithEventHandler(MultiEventHandler{h, other}),
	)
	defer q.Stop()

	f := q.Enqueue("a")
	require.NoError(t, q.Drain(context.Background()))

	assert.Len(t, h.flushes, 3)
	require.Len(t, h.retries, 2)
	assert.Equal(t, 1, h.retries[0].Attempt)
	assert.Equal(t, 2, h.retries[1].Attempt)
	assert.Equal(t, 429, h.retries[0].Code)
	assert.Equal(t, f.ID(), h.retries[0].ID)

	require.Len(t, h.settles, 1)
	assert.False(t, h.settles[0].Success)
	assert.Equal(t, 3, h.settles[0].Attempts)

	assert.Len(t, other.settles, 1)
}
