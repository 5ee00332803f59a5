package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/nholik/lakehouse-bootstrap/internal/retry"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	httpErrorBodyLimit  = 1024
	maxDeliveryAttempts = 10
)

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMaxElapsed time.Duration
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      time.Second,
	rateBurst:         1,
	backoffInitial:    time.Second,
	backoffMax:        10 * time.Second,
	backoffMaxElapsed: 30 * time.Second,
}

// httpPoster posts JSON payloads to a webhook endpoint with rate limiting
// and exponential backoff on 5xx, 429 and transport errors.
type httpPoster struct {
	logger      zerolog.Logger
	channel     string
	url         string
	contentType string
	client      *retryablehttp.Client
	timing      timingConfig
	limiter     *rate.Limiter
}

func newHTTPPoster(logger zerolog.Logger, channel, url string, timing timingConfig) *httpPoster {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &httpPoster{
		logger:      logger.With().Str("channel", channel).Logger(),
		channel:     channel,
		url:         url,
		contentType: "application/json",
		client:      client,
		timing:      timing,
		limiter:     rate.NewLimiter(rate.Every(timing.rateInterval), timing.rateBurst),
	}
}

func (p *httpPoster) waitForRateLimit(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func (p *httpPoster) post(ctx context.Context, payload []byte) error {
	schedule := retry.Policy{
		MaxAttempts:     maxDeliveryAttempts,
		BaseDelay:       p.timing.backoffInitial,
		Multiplier:      2,
		MaxDelay:        p.timing.backoffMax,
		OverallDeadline: p.timing.backoffMaxElapsed,
		Jitter:          true,
	}.BackOff()

	operation := func() error {
		err := p.postOnce(ctx, payload)
		if err == nil {
			return nil
		}
		var retryAfter *retryAfterError
		if errors.As(err, &retryAfter) {
			if !sleepWithContext(ctx, retryAfter.Duration) {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		var retryable *retryableError
		if errors.As(err, &retryable) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(schedule, ctx), func(err error, wait time.Duration) {
		p.logger.Debug().Err(err).Dur("wait", wait).Msg("notification delivery failed; retrying")
	})
}

func (p *httpPoster) postOnce(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.channel, err)
	}
	req.Header.Set("Content-Type", p.contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%s request failed: %w", p.channel, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, httpErrorBodyLimit))
	bodyText := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		limited := fmt.Errorf("%s rate limited: %s", p.channel, resp.Status)
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{Duration: wait, err: limited}
		}
		return &retryableError{err: limited}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &retryableError{err: fmt.Errorf("%s server error: %s", p.channel, resp.Status)}
	case bodyText != "":
		return fmt.Errorf("%s request failed: %s (%s)", p.channel, resp.Status, bodyText)
	default:
		return fmt.Errorf("%s request failed: %s", p.channel, resp.Status)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := time.Until(when)
	if wait <= 0 {
		return 0, false
	}
	return wait, true
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

type retryAfterError struct {
	Duration time.Duration
	err      error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited; retry after %s", e.Duration)
}

func (e *retryAfterError) Unwrap() error { return e.err }
