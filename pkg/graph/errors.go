package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/bft-labs/graphbatch/pkg/batch"
)

// throttleCodes are platform error codes for temporary or rate-limit failures.
var throttleCodes = map[int64]struct{}{
	1:   {}, // unknown error, usually transient
	2:   {}, // service temporarily unavailable
	4:   {}, // application request limit reached
	17:  {}, // user request limit reached
	32:  {}, // page request limit reached
	341: {}, // application limit reached
	613: {}, // calls exceed rate limit
}

// APIError is returned when the batch call itself is refused.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int64
	Transient  bool
	Body       []byte
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: body}
	if gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		e.Message = r.Get("error.message").String()
		e.Type = r.Get("error.type").String()
		e.Code = r.Get("error.code").Int()
		e.Transient = r.Get("error.is_transient").Bool()
	}
	return e
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph: batch call returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph: batch call returned status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 || e.Transient {
		return true
	}
	_, ok := throttleCodes[e.Code]
	return ok
}

// ShouldRetry is a retry predicate for batch queues of Requests.
// It retries transport failures, temporary API errors, sub-requests that did
// not run, 429 and 5xx sub-responses, and bodies flagged transient or carrying
// a throttling code. Client errors such as 400 are not retried.
func ShouldRetry(f batch.Failure[Request]) bool {
	if f.Response == nil {
		if errors.Is(f.Err, context.Canceled) || errors.Is(f.Err, ErrBatchTooLarge) {
			return false
		}
		var apiErr *APIError
		if errors.As(f.Err, &apiErr) {
			return apiErr.Temporary()
		}
		return true
	}

	code := f.Response.Code
	if code == 0 || code == http.StatusTooManyRequests || code >= 500 {
		return true
	}
	return transientBody(f.Response.Body)
}

func transientBody(body []byte) bool {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return false
	}
	r := gjson.ParseBytes(body)
	if r.Get("error.is_transient").Bool() {
		return true
	}
	_, ok := throttleCodes[r.Get("error.code").Int()]
	return ok
}
