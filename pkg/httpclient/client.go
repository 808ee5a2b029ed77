// Package httpclient wraps net/http with the retry policy shared by every
// provider adapter: exponential backoff with jitter on rate limits, timeouts
// and transient upstream failures. Retry state is per-call and never shared.
package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/loomlabs/loom/pkg/fault"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
)

// RateLimitInfo carries upstream throttling hints parsed from response
// headers.
type RateLimitInfo struct {
	RetryAfter time.Duration
	ResetTime  int64
}

// RateLimitHeaderParser extracts throttling hints from provider headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

type Client struct {
	client       *http.Client
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	headerParser RateLimitHeaderParser
	jitter       func(time.Duration) time.Duration
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) { c.maxDelay = d }
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) { c.headerParser = parser }
}

func New(opts ...Option) *Client {
	client := &Client{
		client:      &http.Client{Timeout: 60 * time.Second},
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		jitter: func(d time.Duration) time.Duration {
			return d + time.Duration(rand.Int63n(int64(d)/4+1))
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Do executes the request, retrying retryable failures. The request must set
// GetBody so the body can be replayed. Non-2xx responses are classified into
// fault kinds; the response is returned alongside the error so callers can
// read provider error bodies.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	op := "http " + req.Method + " " + req.URL.Path

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fault.Wrap(fault.KindNetwork, op, err)
				}
				req.Body = body
			}

			delay := c.delayFor(attempt, lastErr)
			select {
			case <-req.Context().Done():
				return nil, classifyContextErr(op, req.Context().Err())
			case <-time.After(delay):
			}
			slog.Debug("Retrying request", "op", op, "attempt", attempt+1, "delay", delay)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = classifyTransportErr(op, err)
			if !fault.IsRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		lastErr = c.classifyStatus(op, resp)
		if !fault.IsRetryable(lastErr) {
			resp.Body.Close()
			return nil, lastErr
		}
		resp.Body.Close()
	}

	return nil, lastErr
}

func (c *Client) delayFor(attempt int, lastErr error) time.Duration {
	var fe *fault.Error
	if errors.As(lastErr, &fe) && fe.RetryAfter > 0 {
		return fe.RetryAfter
	}

	delay := c.baseDelay << (attempt - 1)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	return c.jitter(delay)
}

func (c *Client) classifyStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &fault.Error{
			Kind:    fault.KindAuthentication,
			Op:      op,
			Status:  resp.StatusCode,
			Message: string(body),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := info.RetryAfter
		if retryAfter == 0 && info.ResetTime > 0 {
			if until := time.Until(time.Unix(info.ResetTime, 0)); until > 0 {
				retryAfter = until
			}
		}
		return &fault.Error{
			Kind:       fault.KindRateLimited,
			Op:         op,
			Status:     resp.StatusCode,
			RetryAfter: retryAfter,
			Message:    string(body),
		}
	case resp.StatusCode == http.StatusRequestTimeout:
		return &fault.Error{Kind: fault.KindTimeout, Op: op, Status: resp.StatusCode, Message: string(body)}
	default:
		return fault.Service(op, resp.StatusCode, string(body))
	}
}

func classifyTransportErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classifyContextErr(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &fault.Error{Kind: fault.KindTimeout, Op: op, Err: err}
	}
	return &fault.Error{Kind: fault.KindNetwork, Op: op, Err: err}
}

func classifyContextErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &fault.Error{Kind: fault.KindTimeout, Op: op, Err: err}
	}
	return &fault.Error{Kind: fault.KindCancelled, Op: op, Err: err}
}
