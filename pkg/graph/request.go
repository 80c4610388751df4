package graph

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Request is one sub-request of a batch.
type Request struct {
	// Method is the HTTP method, e.g. "GET" or "POST".
	Method string `json:"method"`

	// RelativeURL is the path relative to the versioned API root, e.g. "me/messages".
	RelativeURL string `json:"relative_url"`

	// Body holds the request parameters. String values are sent as-is,
	// everything else is JSON encoded.
	Body map[string]any `json:"body,omitempty"`

	// Name lets later sub-requests reference this one's result.
	Name string `json:"name,omitempty"`

	// DependsOn names a sub-request that must complete first.
	DependsOn string `json:"depends_on,omitempty"`

	// OmitResponseOnSuccess drops the body of a successful named request.
	OmitResponseOnSuccess *bool `json:"omit_response_on_success,omitempty"`
}

// NewRequest creates a Request.
func NewRequest(method, relativeURL string, body map[string]any) Request {
	return Request{
		Method:      method,
		RelativeURL: relativeURL,
		Body:        body,
	}
}

// Validate checks that the request can be sent.
func (r Request) Validate() error {
	if r.Method == "" {
		return fmt.Errorf("graph: request method is required")
	}
	if r.RelativeURL == "" {
		return fmt.Errorf("graph: request relative_url is required")
	}
	return nil
}

// wireRequest is the encoding the batch endpoint expects.
type wireRequest struct {
	Method                string `json:"method"`
	RelativeURL           string `json:"relative_url"`
	Body                  string `json:"body,omitempty"`
	Name                  string `json:"name,omitempty"`
	DependsOn             string `json:"depends_on,omitempty"`
	OmitResponseOnSuccess *bool  `json:"omit_response_on_success,omitempty"`
}

func (r Request) wire() (wireRequest, error) {
	body, err := encodeBody(r.Body)
	if err != nil {
		return wireRequest{}, err
	}
	return wireRequest{
		Method:                r.Method,
		RelativeURL:           r.RelativeURL,
		Body:                  body,
		Name:                  r.Name,
		DependsOn:             r.DependsOn,
		OmitResponseOnSuccess: r.OmitResponseOnSuccess,
	}, nil
}

// encodeBody form-encodes the body, JSON encoding non-string values.
func encodeBody(body map[string]any) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	values := make(url.Values, len(body))
	for k, v := range body {
		if s, ok := v.(string); ok {
			values.Set(k, s)
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode body field %q: %w", k, err)
		}
		values.Set(k, string(b))
	}
	return values.Encode(), nil
}
