package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"time"

	"driftd/pkg/retry"
)

// Client wraps http.Client with logging and retries.
type Client struct {
	hc               *stdhttp.Client
	log              *slog.Logger
	retries          int
	baseBackoff      time.Duration
	maxBackoff       time.Duration
	maxRetryDuration time.Duration
	headers          map[string]string
	urlRedactor      func(*url.URL) string
	retryNonIdem     bool
	maxReplayBody    int64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets per-attempt request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		if t > 0 {
			c.hc.Timeout = t
		}
	}
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries enables n retries with exponential backoff and jitter.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
		if backoff > 0 {
			c.baseBackoff = backoff
		}
	}
}

// WithMaxBackoff limits exponential backoff growth.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) { c.maxBackoff = d }
}

// WithMaxRetryDuration limits total time spent on retries.
func WithMaxRetryDuration(d time.Duration) Option {
	return func(c *Client) { c.maxRetryDuration = d }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithRetryNonIdempotent allows retries for POST and PATCH.
func WithRetryNonIdempotent(v bool) Option {
	return func(c *Client) { c.retryNonIdem = v }
}

// WithMaxReplayBodySize limits size of buffered body for retries (0 disables limit).
func WithMaxReplayBodySize(n int64) Option {
	return func(c *Client) { c.maxReplayBody = n }
}

// ErrReplayBodyTooLarge indicates request body exceeds replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// StatusError reports a retryable response status. It carries the server's
// Retry-After hint, which the retry loop uses instead of its own backoff.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	after      time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// RetryAfter returns the delay requested by the server, if any.
func (e *StatusError) RetryAfter() time.Duration { return e.after }

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 20
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   15 * time.Second,
			Transport: tr,
		},
		log:           slog.Default(),
		baseBackoff:   200 * time.Millisecond,
		maxBackoff:    10 * time.Second,
		maxReplayBody: 1 << 20,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// retryAfter parses Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func retryableStatus(code int) bool {
	switch code {
	case stdhttp.StatusRequestTimeout, stdhttp.StatusMisdirectedRequest, stdhttp.StatusTooEarly, stdhttp.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	defer req.Body.Close()

	var reader io.Reader = req.Body
	if c.maxReplayBody > 0 {
		reader = io.LimitReader(req.Body, c.maxReplayBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if c.maxReplayBody > 0 && int64(len(body)) > c.maxReplayBody {
		return ErrReplayBodyTooLarge
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	return nil
}

func (c *Client) attempts(req *stdhttp.Request) int {
	switch req.Method {
	case stdhttp.MethodPost, stdhttp.MethodPatch:
		if !c.retryNonIdem && req.Header.Get("Idempotency-Key") == "" {
			return 1
		}
	}
	return c.retries + 1
}

// Do sends HTTP request with context, logging and retries. Retryable statuses
// that persist after the last attempt are returned as *StatusError wrapped in
// *retry.RetriesExceededError.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}

	u := c.redactURL(req.URL)
	cfg := retry.Config{
		MaxAttempts:    c.attempts(req),
		InitialDelay:   c.baseBackoff,
		MaxDelay:       max(c.maxBackoff, c.baseBackoff),
		MaxElapsedTime: c.maxRetryDuration,
		Jitter:         true,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.log.Warn("http request retry",
				slog.String("method", req.Method),
				slog.String("url", u),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.Any("error", err))
		},
	}

	var resp *stdhttp.Response
	attempt := 0
	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		attempt++
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if r.GetBody != nil {
			rc, err := r.GetBody()
			if err != nil {
				return retry.Permanent(err)
			}
			r.Body = rc
		}

		st := time.Now()
		res, err := c.hc.Do(r)
		if err != nil {
			return err
		}
		if retryableStatus(res.StatusCode) {
			if res.StatusCode == stdhttp.StatusMisdirectedRequest {
				c.hc.CloseIdleConnections()
			}
			after := retryAfter(res.Header.Get("Retry-After"))
			drainAndClose(res.Body)
			return &StatusError{Method: r.Method, URL: u, StatusCode: res.StatusCode, after: after}
		}

		c.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("url", u),
			slog.Int("status", res.StatusCode),
			slog.Duration("dur", time.Since(st)),
			slog.Int("attempt", attempt))
		resp = res
		return nil
	}, func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		var se *StatusError
		return errors.As(err, &se) || retry.DefaultRetryable(err)
	})
	if err != nil {
		c.log.Warn("http request error",
			slog.String("method", req.Method),
			slog.String("url", u),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		return nil, err
	}
	return resp, nil
}
