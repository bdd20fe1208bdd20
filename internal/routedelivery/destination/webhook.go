package destination

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nexusiot/fleetcore/internal/domain"
)

const webhookTimeout = 10 * time.Second

// MaxRetryAfter caps how long a webhook's Retry-After header is honored
// for, per spec.md §9's open-question resolution.
const MaxRetryAfter = 60 * time.Second

// RetryAfterError wraps a retryable webhook failure that carries a
// server-suggested delay (HTTP 429), capped at MaxRetryAfter.
type RetryAfterError struct {
	Cause      error
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string { return e.Cause.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Cause }

// Webhook delivers by HTTP POST; success is any 2xx response.
type Webhook struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewWebhook() *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: webhookTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "webhook-destination",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (w *Webhook) Deliver(ctx context.Context, route domain.Route, payload []byte) (Result, error) {
	url, ok := route.DestinationConfig["url"]
	if !ok || url == "" {
		return ResultPermanent, fmt.Errorf("webhook destination missing url for route %s", route.RouteID)
	}

	_, err := w.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err // network error: retryable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &RetryAfterError{Cause: fmt.Errorf("webhook %s returned 429", url), RetryAfter: retryAfterDuration(resp.Header.Get("Retry-After"))}
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
		default:
			return nil, &permanentHTTPError{status: resp.StatusCode, url: url}
		}
	})

	if err == nil {
		return ResultSuccess, nil
	}

	var perm *permanentHTTPError
	if asPermanent(err, &perm) {
		return ResultPermanent, perm
	}
	return ResultRetryable, err
}

type permanentHTTPError struct {
	status int
	url    string
}

func (e *permanentHTTPError) Error() string {
	return fmt.Sprintf("webhook %s returned non-retryable status %d", e.url, e.status)
}

func asPermanent(err error, target **permanentHTTPError) bool {
	for err != nil {
		if pe, ok := err.(*permanentHTTPError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func retryAfterDuration(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		if d > MaxRetryAfter {
			return MaxRetryAfter
		}
		return d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		if d > MaxRetryAfter {
			return MaxRetryAfter
		}
		return d
	}
	return 0
}
