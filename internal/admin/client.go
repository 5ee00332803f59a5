package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/nholik/lakehouse-bootstrap/internal/fault"
)

const (
	errorBodyLimit    = 1024
	responseBodyLimit = 1 << 20
)

type clientConfig struct {
	httpClient   *http.Client
	timeout      time.Duration
	rateInterval time.Duration
	rateBurst    int
}

var defaultClientConfig = clientConfig{
	timeout:      10 * time.Second,
	rateInterval: 100 * time.Millisecond,
	rateBurst:    5,
}

// Option customizes an administrative API client.
type Option func(*clientConfig)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRateLimit limits requests to one per interval with the given burst.
// A zero interval disables limiting.
func WithRateLimit(interval time.Duration, burst int) Option {
	return func(c *clientConfig) {
		c.rateInterval = interval
		if burst > 0 {
			c.rateBurst = burst
		}
	}
}

// apiClient issues single-shot JSON requests against one service and
// classifies failures. Retries are the caller's decision.
type apiClient struct {
	service string
	baseURL *url.URL
	client  *retryablehttp.Client
	timeout time.Duration
	limiter *rate.Limiter
}

type apiResponse struct {
	StatusCode int
	Status     string
	Body       []byte
}

func newAPIClient(service, baseURL string, opts ...Option) (*apiClient, error) {
	cfg := defaultClientConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse %s url: %w", service, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%s url must use http or https: %q", service, baseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%s url must include host: %q", service, baseURL)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	if cfg.httpClient != nil {
		client.HTTPClient = cfg.httpClient
	} else {
		client.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}

	var limiter *rate.Limiter
	if cfg.rateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.rateInterval), cfg.rateBurst)
	}

	return &apiClient{
		service: service,
		baseURL: parsed,
		client:  client,
		timeout: cfg.timeout,
		limiter: limiter,
	}, nil
}

// do sends one request. Transport failures and 5xx responses come back as
// classified errors; every other response is returned for the caller to
// interpret.
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, header http.Header, body any) (*apiResponse, error) {
	op := fmt.Sprintf("%s %s %s", c.service, method, path)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fault.FromTransport(op, err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", c.service, err)
		}
		payload = bytes.NewReader(encoded)
	}

	target := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(reqCtx, method, target.String(), payload)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.service, err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.FromTransport(op, fmt.Errorf("%s request failed: %w", c.service, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, fault.FromTransport(op, fmt.Errorf("read %s response: %w", c.service, err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fault.Unreachable(op, fmt.Errorf("%s server error: %s%s", c.service, resp.Status, bodySuffix(data)))
	}

	return &apiResponse{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}, nil
}

// rejected turns an unexpected response into an error carrying the
// service's own message.
func (c *apiClient) rejected(op string, resp *apiResponse) error {
	return fault.Rejected(op, fmt.Errorf("%s request failed: %s%s", c.service, resp.Status, bodySuffix(resp.Body)))
}

// decode unmarshals a JSON response body into out.
func (c *apiClient) decode(op string, resp *apiResponse, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fault.Malformed(op, fmt.Errorf("decode %s response: %w", c.service, err))
	}
	return nil
}

func bodySuffix(body []byte) string {
	if len(body) > errorBodyLimit {
		body = body[:errorBodyLimit]
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	return " (" + text + ")"
}

// tokenCache holds a session token and drops it when the service
// rejects it.
type tokenCache struct {
	mu    sync.Mutex
	token string
}

func (t *tokenCache) get(ctx context.Context, login func(context.Context) (string, error)) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" {
		return t.token, nil
	}
	token, err := login(ctx)
	if err != nil {
		return "", err
	}
	t.token = token
	return token, nil
}

func (t *tokenCache) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
}

var errUnauthorized = errors.New("credentials rejected")
