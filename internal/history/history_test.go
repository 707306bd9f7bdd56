package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftd/pkg/drift"
)

type memStore struct {
	mu      sync.Mutex
	records []Record
	batches int
	block   chan struct{}
	fail    bool
}

func (s *memStore) Insert(ctx context.Context, records []Record) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.batches++
	s.records = append(s.records, records...)
	return nil
}

func (s *memStore) Recent(ctx context.Context, schedule string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].Schedule == schedule {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFromEvent(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	instant := at.Add(time.Second)

	_, ok := FromEvent(drift.Event{Kind: drift.TickStart})
	assert.False(t, ok)

	rec, ok := FromEvent(drift.Event{
		Kind:     drift.TickFailure,
		Schedule: "api",
		Tick:     7,
		Time:     at,
		Instant:  instant,
		Elapsed:  1500 * time.Millisecond,
		Err:      errors.New("boom"),
	})
	require.True(t, ok)
	assert.Equal(t, "tick-failure", rec.Kind)
	assert.Equal(t, uint64(7), rec.Tick)
	assert.Equal(t, time.UTC, rec.At.Location())
	assert.True(t, rec.Instant.Equal(instant))
	assert.Equal(t, int64(1500), rec.ElapsedMS)
	assert.Equal(t, "boom", rec.Error)
	assert.Empty(t, rec.Reason)

	stopped, ok := FromEvent(drift.Event{Kind: drift.ScheduleStopped, Reason: drift.StopExhausted})
	require.True(t, ok)
	assert.Equal(t, "exhausted", stopped.Reason)
	assert.True(t, stopped.Instant.IsZero())
}

func TestRecorder_WritesAndFlushesOnClose(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store, Options{Logger: quiet(), BatchSize: 4})

	for i := 1; i <= 10; i++ {
		r.Observe(drift.Event{Kind: drift.TickStart, Schedule: "api", Tick: uint64(i)})
		r.Observe(drift.Event{Kind: drift.TickSuccess, Schedule: "api", Tick: uint64(i), Time: time.Now()})
	}

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 10, store.len())
	assert.Zero(t, r.Dropped())

	recent, err := r.Recent(context.Background(), "api", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(10), recent[0].Tick)

	r.Observe(drift.Event{Kind: drift.TickSuccess, Schedule: "api"})
	assert.Equal(t, int64(1), r.Dropped(), "records after Close are dropped")
	require.NoError(t, r.Close(context.Background()), "Close is idempotent")
}

func TestRecorder_ObserveNeverBlocks(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	r := NewRecorder(store, Options{Logger: quiet(), QueueSize: 2, BatchSize: 1})

	start := time.Now()
	for i := 0; i < 50; i++ {
		r.Observe(drift.Event{Kind: drift.TickSuccess, Schedule: "slow"})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Greater(t, r.Dropped(), int64(40))

	close(store.block)
	require.NoError(t, r.Close(context.Background()))
}

func TestRecorder_StoreErrorsCountAsDropped(t *testing.T) {
	store := &memStore{fail: true}
	r := NewRecorder(store, Options{Logger: quiet()})

	r.Observe(drift.Event{Kind: drift.TickSkipped, Schedule: "cron"})
	r.Observe(drift.Event{Kind: drift.TickSkipped, Schedule: "cron"})
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, int64(2), r.Dropped())
}

func TestRecorder_CloseHonoursContext(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	r := NewRecorder(store, Options{Logger: quiet()})
	r.Observe(drift.Event{Kind: drift.TickSuccess, Schedule: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)

	close(store.block)
	require.NoError(t, r.Close(context.Background()))
}
