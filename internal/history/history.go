// Package history turns scheduler events into persisted tick records.
//
// A Recorder is a drift.Observer. Observe never blocks the schedule loop:
// records go into a bounded queue drained by one goroutine that hands them
// to a Store in batches. When the queue is full the record is dropped and
// counted.
package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"driftd/pkg/drift"
)

// Record is one persisted scheduler event.
type Record struct {
	ID        int64     `json:"id"`
	Schedule  string    `json:"schedule"`
	Tick      uint64    `json:"tick"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
	Instant   time.Time `json:"instant,omitzero"`
	ElapsedMS int64     `json:"elapsed_ms"`
	WaitMS    int64     `json:"wait_ms"`
	Error     string    `json:"error,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// FromEvent converts an event. ok is false for kinds that are not stored:
// TickStart carries nothing its matching success/failure record lacks.
func FromEvent(e drift.Event) (Record, bool) {
	if e.Kind == drift.TickStart {
		return Record{}, false
	}
	r := Record{
		Schedule:  e.Schedule,
		Tick:      e.Tick,
		Kind:      e.Kind.String(),
		At:        e.Time.UTC(),
		ElapsedMS: e.Elapsed.Milliseconds(),
		WaitMS:    e.Wait.Milliseconds(),
	}
	if !e.Instant.IsZero() {
		r.Instant = e.Instant.UTC()
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}
	if e.Kind == drift.ScheduleStopped {
		r.Reason = e.Reason.String()
	}
	return r, true
}

// Store persists and reads records.
type Store interface {
	Insert(ctx context.Context, records []Record) error
	Recent(ctx context.Context, schedule string, limit int) ([]Record, error)
}

// Options configures a Recorder.
type Options struct {
	QueueSize    int
	BatchSize    int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultOptions returns the settings used by the app.
func DefaultOptions() Options {
	return Options{
		QueueSize:    1024,
		BatchSize:    64,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder queues events for a Store.
type Recorder struct {
	store   Store
	opts    Options
	log     *slog.Logger
	queue   chan Record
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewRecorder starts the drain goroutine. Call Close to flush and stop it.
func NewRecorder(store Store, opts Options) *Recorder {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	r := &Recorder{
		store: store,
		opts:  opts,
		log:   log.With(slog.String("component", "history")),
		queue: make(chan Record, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe implements drift.Observer.
func (r *Recorder) Observe(e drift.Event) {
	rec, ok := FromEvent(e)
	if !ok {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded because the queue was full
// or the recorder was closed.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Recent reads from the underlying store.
func (r *Recorder) Recent(ctx context.Context, schedule string, limit int) ([]Record, error) {
	return r.store.Recent(ctx, schedule, limit)
}

// Close stops accepting records, flushes the queue and waits for the drain
// goroutine, or until ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]Record, 0, r.opts.BatchSize)
	for rec := range r.queue {
		batch = append(batch, rec)
	drain:
		for len(batch) < r.opts.BatchSize {
			select {
			case more, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		r.flush(batch)
		batch = batch[:0]
	}
}

func (r *Recorder) flush(batch []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
	defer cancel()

	if err := r.store.Insert(ctx, batch); err != nil {
		r.dropped.Add(int64(len(batch)))
		r.log.Error("failed to write history", slog.Int("records", len(batch)), slog.Any("error", err))
	}
}
