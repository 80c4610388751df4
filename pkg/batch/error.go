package batch

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrResponseMismatch is reported for every item of a batch when the executor
// returns a different number of responses than requests were sent.
var ErrResponseMismatch = errors.New("batch: response count does not match request count")

// Error is the rejection value for a request whose sub-response indicated failure.
// It is built once when the failure is final and never modified afterwards.
type Error[R any] struct {
	// Request is the request as originally enqueued.
	Request R

	// Response is the failing sub-response.
	Response Response
}

// NewError creates an Error for the given request and response.
func NewError[R any](req R, resp Response) *Error[R] {
	return &Error[R]{Request: req, Response: resp}
}

// Message returns the nested error.message field of the response body,
// or an empty string when the body carries none.
func (e *Error[R]) Message() string {
	return errorMessage(e.Response.Body)
}

// StatusCode returns the status code of the failing sub-response.
func (e *Error[R]) StatusCode() int {
	return e.Response.Code
}

func (e *Error[R]) Error() string {
	msg := e.Message()
	if msg == "" {
		return fmt.Sprintf("batch request failed with status %d", e.Response.Code)
	}
	return fmt.Sprintf("batch request failed with status %d: %s", e.Response.Code, msg)
}

func errorMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "error.message").String()
}

// Failure describes a failed attempt and is handed to the retry predicate.
// Exactly one of Response and Err is set.
type Failure[R any] struct {
	Request R

	// Response is the failing sub-response, nil for whole-batch failures.
	Response *Response

	// Err is the executor error, nil for sub-response failures.
	Err error

	// Attempt is the 1-based number of the attempt that failed.
	Attempt int
}

// RetryOnStatus returns a predicate that retries whole-batch failures and
// sub-responses whose code is one of codes.
func RetryOnStatus[R any](codes ...int) func(Failure[R]) bool {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return func(f Failure[R]) bool {
		if f.Response == nil {
			return true
		}
		_, ok := set[f.Response.Code]
		return ok
	}
}
