package batch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrPending is returned by Future.Result before the future is settled.
var ErrPending = errors.New("batch: future not settled")

// Future is the pending result of an enqueued request.
// It is settled exactly once, however many attempts the request takes.
type Future struct {
	id   string
	once sync.Once
	done chan struct{}
	body json.RawMessage
	err  error
}

func newFuture() *Future {
	return &Future{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
}

// ID returns a unique identifier for the request, useful for correlating logs.
func (f *Future) ID() string {
	return f.id
}

// Done returns a channel that is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is settled or ctx is done.
// Abandoning the wait does not cancel the request.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.body, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled value without blocking.
// It returns ErrPending while the future is unsettled.
func (f *Future) Result() (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.body, f.err
	default:
		return nil, ErrPending
	}
}

func (f *Future) resolve(body json.RawMessage) bool {
	return f.settle(body, nil)
}

func (f *Future) reject(err error) bool {
	return f.settle(nil, err)
}

func (f *Future) settle(body json.RawMessage, err error) bool {
	settled := false
	f.once.Do(func() {
		f.body = body
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}
