// Package probe implements an HTTP health check as a drift.Drifter.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"driftd/internal/platform/httpclient"
	"driftd/pkg/drift"
)

// Doer performs HTTP requests. *httpclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Doer = (*httpclient.Client)(nil)

// Config describes one probe target.
type Config struct {
	Name         string
	URL          string
	Method       string
	ExpectStatus int
	Timeout      time.Duration
}

// Stats is the probe state accumulated across executions.
type Stats struct {
	Checks              uint64        `json:"checks"`
	Failures            uint64        `json:"failures"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	LastStatus          int           `json:"last_status"`
	LastLatency         time.Duration `json:"last_latency"`
	LastError           string        `json:"last_error,omitempty"`
	LastCheck           time.Time     `json:"last_check,omitzero"`
}

// ErrUnexpectedStatus is returned when the target answers with a status
// other than the expected one.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Probe checks an HTTP endpoint on every tick. One Probe is shared by all
// ticks of its schedule, so Stats survive between executions.
type Probe struct {
	cfg    Config
	client Doer

	mu    sync.Mutex
	stats Stats
}

var _ drift.Drifter = (*Probe)(nil)

// New returns a probe. Method defaults to GET and ExpectStatus to 200.
func New(client Doer, cfg Config) *Probe {
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.ExpectStatus == 0 {
		cfg.ExpectStatus = http.StatusOK
	}
	return &Probe{cfg: cfg, client: client}
}

// Execute implements drift.Drifter.
func (p *Probe) Execute(token *drift.Token) error {
	ctx := context.Context(token)
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	status, err := p.check(ctx)
	p.record(start, time.Since(start), status, err)
	return err
}

func (p *Probe) check(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, p.cfg.Method, p.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		// The client turns retryable statuses into errors; a probe may
		// legitimately expect one of them.
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			if se.StatusCode == p.cfg.ExpectStatus {
				return se.StatusCode, nil
			}
			return se.StatusCode, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedStatus, se.StatusCode, p.cfg.ExpectStatus)
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != p.cfg.ExpectStatus {
		return resp.StatusCode, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedStatus, resp.StatusCode, p.cfg.ExpectStatus)
	}
	return resp.StatusCode, nil
}

func (p *Probe) record(at time.Time, latency time.Duration, status int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Checks++
	p.stats.LastCheck = at.UTC()
	p.stats.LastLatency = latency
	p.stats.LastStatus = status
	if err != nil {
		p.stats.Failures++
		p.stats.ConsecutiveFailures++
		p.stats.LastError = err.Error()
		return
	}
	p.stats.ConsecutiveFailures = 0
	p.stats.LastError = ""
}

// Stats returns a copy of the accumulated state.
func (p *Probe) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Name returns the configured probe name.
func (p *Probe) Name() string { return p.cfg.Name }
