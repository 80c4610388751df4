package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bft-labs/graphbatch/pkg/batch"
	"github.com/bft-labs/graphbatch/pkg/log"
)

// Defaults for the Graph API endpoint.
const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v19.0"
)

// ErrBatchTooLarge is returned when more requests are passed than one batch may carry.
var ErrBatchTooLarge = errors.New("graph: batch exceeds maximum size")

// Client executes batches against the Graph API batch endpoint.
// It implements batch.Executor[Request].
type Client struct {
	client      HTTPClient
	logger      log.Logger
	limiter     *rate.Limiter
	baseURL     string
	version     string
	accessToken string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
// If not provided, a client with a 30 second timeout is used.
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithBaseURL overrides the API host, mostly for testing.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithAPIVersion sets the API version path segment. An empty version is
// allowed and addresses the unversioned root.
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = strings.Trim(version, "/")
	}
}

// WithRateLimiter makes every batch wait for a token from limiter.
func WithRateLimiter(limiter *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithLogger sets a structured logger.
func WithLogger(logger log.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a batch client authenticated with accessToken.
func NewClient(accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      log.NewNoopLogger(),
		baseURL:     DefaultBaseURL,
		version:     DefaultAPIVersion,
		accessToken: accessToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL batches are posted to.
func (c *Client) Endpoint() string {
	if c.version == "" {
		return c.baseURL + "/"
	}
	return c.baseURL + "/" + c.version + "/"
}

// ExecuteBatch sends requests as one batch and returns one response per request.
func (c *Client) ExecuteBatch(ctx context.Context, requests []Request, opts batch.ExecuteOptions) ([]batch.Response, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	if len(requests) > batch.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d requests", ErrBatchTooLarge, len(requests))
	}

	items := make([]wireRequest, len(requests))
	for i, r := range requests {
		w, err := r.wire()
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		items[i] = w
	}

	batchJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	form := url.Values{}
	form.Set("access_token", c.accessToken)
	form.Set("batch", string(batchJSON))
	form.Set("include_headers", strconv.FormatBool(opts.IncludeHeaders))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("graph batch executed",
		log.Int("size", len(requests)),
		log.Int("status", resp.StatusCode),
		log.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode/100 != 2 {
		return nil, newAPIError(resp.StatusCode, body)
	}

	return decodeResponses(body)
}

// wireResponse is one element of the batch endpoint's reply.
// Body is a JSON document serialized as a string.
type wireResponse struct {
	Code    int            `json:"code"`
	Headers []batch.Header `json:"headers"`
	Body    *string        `json:"body"`
}

func decodeResponses(payload []byte) ([]batch.Response, error) {
	var raw []*wireResponse
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	out := make([]batch.Response, len(raw))
	for i, r := range raw {
		if r == nil {
			// The sub-request did not run, e.g. the batch timed out server side.
			out[i] = batch.Response{Body: json.RawMessage("null")}
			continue
		}
		out[i] = batch.Response{
			Code:    r.Code,
			Headers: r.Headers,
			Body:    decodeBody(r.Body),
		}
	}
	return out, nil
}

func decodeBody(body *string) json.RawMessage {
	if body == nil || *body == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(*body)) {
		return json.RawMessage(*body)
	}
	b, _ := json.Marshal(*body)
	return b
}
