package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
)

// TransportConfig carries the retry/throttle knobs, passed explicitly so
// tests can run with a deterministic transport.
type TransportConfig struct {
	// Retries is the number of additional attempts after the first.
	Retries int
	// Throttle is the base backoff delay; attempt k waits Throttle*k.
	// It also paces successive requests.
	Throttle time.Duration
	// Timeout bounds each individual request.
	Timeout time.Duration
	// UserAgent is sent on every request when non-empty.
	UserAgent string
}

// Response is the decoded outcome of a request. Any HTTP response that
// arrived, including 4xx, is returned as a Response; only network
// failures and exhausted retries surface as errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the body into v when the content type indicates
// JSON and the body is non-empty. A 204 or empty body leaves v untouched.
func (r *Response) DecodeJSON(v any) error {
	if len(r.Body) == 0 || r.StatusCode == http.StatusNoContent {
		return nil
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "" && ct != "application/json" && !isManifestMediaType(ct) {
		return fmt.Errorf("unexpected content type %q", ct)
	}
	return json.Unmarshal(r.Body, v)
}

// Transport issues HTTP requests with bounded retry and linear backoff.
// Stateless across calls apart from the pacing limiter.
type Transport struct {
	cfg     TransportConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewTransport builds a transport from the given config. Zero or
// negative values fall back to conservative defaults.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Throttle > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Throttle), 1)
	}
	return &Transport{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

// Do performs the request, retrying network failures and 5xx responses
// up to the configured attempt count. Attempt 0 fires immediately,
// attempt k waits throttle*k first. Responses with status in [400,500)
// are terminal and returned to the caller for classification.
func (t *Transport) Do(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= t.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * t.cfg.Throttle
			logger.Debug("Retrying request", "method", method, "url", url, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := t.do(ctx, method, url, headers, body)
		if err != nil {
			// Network failure or timeout: retryable.
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = &Error{Op: fmt.Sprintf("%s %s", method, url), StatusCode: resp.StatusCode}
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, url, t.cfg.Retries+1, lastErr)
}

func (t *Transport) do(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
