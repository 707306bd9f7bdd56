package drift

import (
	"log/slog"
	"time"
)

// MinInterval is the smallest period an interval schedule runs with.
// Shorter (or non-positive) intervals are raised to it.
const MinInterval = time.Millisecond

// Option configures a schedule at creation time.
type Option func(*options)

type options struct {
	name         string
	policy       FailurePolicy
	initialDelay time.Duration
	observers    []Observer
	logger       *slog.Logger
	location     *time.Location
	parent       *Token
	now          func() time.Time
}

// WithName sets the schedule name reported in events.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithFailurePolicy selects what a failed execution does to the schedule.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithInitialDelay delays the first interval tick. By default it fires immediately.
func WithInitialDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.initialDelay = d
		}
	}
}

// WithObserver adds an event observer. May be given several times.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLogger sets the logger used for the built-in log observer.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLocation sets the time zone cron expressions are evaluated in (UTC by default).
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithParent derives the schedule's root token from parent, so cancelling
// parent stops the schedule.
func WithParent(parent *Token) Option {
	return func(o *options) { o.parent = parent }
}

// WithClock overrides the wall clock used to seed and compare cron instants
// and to stamp events. Execution time is always measured on the monotonic clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		policy:   ContinueOnError,
		logger:   slog.Default(),
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) observer() Observer {
	obs := make([]Observer, 0, len(o.observers)+1)
	obs = append(obs, LogObserver(o.logger))
	obs = append(obs, o.observers...)
	return Observers(obs...)
}
