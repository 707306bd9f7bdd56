package drift

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForAtLeast(t *testing.T, counter *atomic.Int64, expected int64, timeout time.Duration) {
	t.Helper()

	require.Eventually(t, func() bool {
		return counter.Load() >= expected
	}, timeout, 5*time.Millisecond, "counter did not reach %d", expected)
}

func ensureNoIncrement(t *testing.T, counter *atomic.Int64, baseline int64, duration time.Duration) {
	t.Helper()

	assert.Never(t, func() bool {
		return counter.Load() > baseline
	}, duration, 10*time.Millisecond, "counter kept increasing")
}

// recorder collects events emitted by a schedule.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) byKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	return len(r.byKind(kind))
}

// counterDrifter keeps state across executions.
type counterDrifter struct {
	counter atomic.Int64
}

func (d *counterDrifter) Execute(*Token) error {
	d.counter.Add(1)
	return nil
}
