package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
)

// Client is the HTTP client used for synchronous service-to-service calls.
// It retries dependency failures with exponential backoff and jitter, and
// consults a circuit breaker before each attempt.
type Client struct {
	http       *http.Client
	breaker    *CircuitBreaker
	maxRetries int
	baseDelay  time.Duration
	log        *logging.Logger
}

// NewClient creates a service-to-service client. timeout bounds each attempt.
func NewClient(timeout time.Duration, log *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logging.NewFromEnv("httpclient")
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		breaker:    NewCircuitBreaker(3, 60*time.Second),
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		log:        log,
	}
}

// GetJSON performs a GET and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, url, headers, nil, out)
}

// PostJSON performs a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, url, headers, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, url string, headers map[string]string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(delay) / 2))
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			continue
		}

		status, respBody, err := c.attempt(ctx, method, url, headers, payload)
		if err != nil {
			c.breaker.Failure()
			lastErr = apperr.Dependency(apperr.CodeDependency, "downstream call failed", err)
			continue
		}
		if status >= 500 {
			c.breaker.Failure()
			lastErr = apperr.Dependency(apperr.CodeDependency, fmt.Sprintf("downstream returned %d", status), nil)
			continue
		}

		c.breaker.Success()
		if status >= 400 {
			return decodeEnvelopeError(status, respBody)
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response body: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, url string, headers map[string]string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// decodeEnvelopeError rebuilds a structured error from a 4xx envelope so the
// caller observes the downstream service's stable code and message.
func decodeEnvelopeError(status int, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Code == 0 {
		return apperr.New(kindForStatus(status), apperr.CodeDependency, fmt.Sprintf("downstream returned %d", status))
	}
	return apperr.New(kindForStatus(status), env.Code, env.Message)
}

func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusUnauthorized:
		return apperr.KindAuthentication
	case http.StatusForbidden:
		return apperr.KindAuthorization
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	case http.StatusBadRequest:
		return apperr.KindValidation
	default:
		return apperr.KindDependency
	}
}
