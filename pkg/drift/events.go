package drift

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventKind identifies a scheduler event.
type EventKind int

const (
	TickStart EventKind = iota + 1
	TickSuccess
	TickFailure
	TickSkipped
	ScheduleStopped
)

func (k EventKind) String() string {
	switch k {
	case TickStart:
		return "tick-start"
	case TickSuccess:
		return "tick-success"
	case TickFailure:
		return "tick-failure"
	case TickSkipped:
		return "tick-skipped"
	case ScheduleStopped:
		return "schedule-stopped"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// StopReason explains why a schedule loop exited.
type StopReason int

const (
	// StopCancelled means the root token was cancelled by the caller or an ancestor.
	StopCancelled StopReason = iota + 1
	// StopFatalError means a failure under CancelOnError ended the schedule.
	StopFatalError
	// StopExhausted means the cron expression has no further fire instants.
	StopExhausted
)

func (r StopReason) String() string {
	switch r {
	case StopCancelled:
		return "cancelled"
	case StopFatalError:
		return "fatal-error"
	case StopExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Event is emitted by a schedule loop. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Schedule string
	Tick     uint64
	Time     time.Time
	// Instant is the cron fire instant the tick belongs to (cron mode only).
	Instant time.Time
	// Elapsed is the execution time of the tick.
	Elapsed time.Duration
	// Wait is the computed delay before the next tick (interval mode only).
	Wait   time.Duration
	Err    error
	Reason StopReason
}

// Observer records scheduler events. Observe is called on the schedule's own
// goroutine, between ticks, so implementations must not block.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to every non-nil observer. A panicking observer
// is isolated so it cannot take the schedule loop down.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		observeSafely(o, e)
	}
}

func observeSafely(o Observer, e Event) {
	defer func() { _ = recover() }()
	o.Observe(e)
}

// LogObserver records events with a structured logger.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return logObserver{logger: logger}
}

type logObserver struct {
	logger *slog.Logger
}

func (l logObserver) Observe(e Event) {
	ctx := context.Background()
	attrs := []slog.Attr{
		slog.String("schedule", e.Schedule),
		slog.Uint64("tick", e.Tick),
	}

	switch e.Kind {
	case TickStart:
		l.logger.LogAttrs(ctx, slog.LevelDebug, "running job", attrs...)
	case TickSuccess:
		attrs = append(attrs, slog.Int64("elapsed_ms", e.Elapsed.Milliseconds()))
		if !e.Instant.IsZero() {
			attrs = append(attrs, slog.Time("instant", e.Instant))
		} else {
			attrs = append(attrs,
				slog.Int64("wait_ms", e.Wait.Milliseconds()),
				slog.Time("next", e.Time.Add(e.Wait)),
			)
		}
		l.logger.LogAttrs(ctx, slog.LevelDebug, "job took", attrs...)
	case TickFailure:
		attrs = append(attrs,
			slog.Any("error", e.Err),
			slog.Int64("elapsed_ms", e.Elapsed.Milliseconds()),
		)
		if e.Instant.IsZero() {
			attrs = append(attrs, slog.Int64("wait_ms", e.Wait.Milliseconds()))
		}
		l.logger.LogAttrs(ctx, slog.LevelError, "job failed", attrs...)
	case TickSkipped:
		attrs = append(attrs, slog.Time("instant", e.Instant), slog.Time("now", e.Time))
		l.logger.LogAttrs(ctx, slog.LevelInfo, "job schedule was in the past, skipping iteration", attrs...)
	case ScheduleStopped:
		attrs = append(attrs, slog.String("reason", e.Reason.String()))
		switch e.Reason {
		case StopFatalError:
			attrs = append(attrs, slog.Any("error", e.Err))
			l.logger.LogAttrs(ctx, slog.LevelError, "drift job stopped after failure", attrs...)
		case StopExhausted:
			l.logger.LogAttrs(ctx, slog.LevelWarn, "drift job has no further fire instants", attrs...)
		default:
			l.logger.LogAttrs(ctx, slog.LevelDebug, "stopping drift job", attrs...)
		}
	}
}
