package drift

import (
	"time"
)

// ScheduleInterval runs fn every interval, starting immediately, until the
// returned token is cancelled.
func ScheduleInterval(interval time.Duration, fn JobFunc, opts ...Option) *Token {
	return ScheduleDrifter(interval, FromFunc(fn), opts...)
}

// ScheduleDrifter runs d every interval, starting immediately, until the
// returned token is cancelled. Execution time is subtracted from the next
// wait so tick starts keep the nominal cadence.
func ScheduleDrifter(interval time.Duration, d Drifter, opts ...Option) *Token {
	if interval < MinInterval {
		interval = MinInterval
	}

	o := newOptions(opts)
	if o.name == "" {
		o.name = "every " + interval.String()
	}

	l := newLoop(d, o)
	go l.runInterval(interval)

	return l.root
}

// NextWait returns the delay before the next tick after an execution that
// took elapsed. It never goes below zero: an overrunning tick is followed by
// exactly one immediate tick, missed periods are not replayed.
func NextWait(interval, elapsed time.Duration) time.Duration {
	if elapsed >= interval {
		return 0
	}
	if elapsed <= 0 {
		return interval
	}
	return interval - elapsed
}

func (l *loop) runInterval(interval time.Duration) {
	wait := l.opts.initialDelay

	for {
		token := l.root.Child()
		if !l.sleep(wait) {
			l.stop(StopCancelled, nil)
			return
		}

		l.tick++
		start := time.Now()
		elapsed, err := l.execute(token)
		wait = NextWait(interval, elapsed)

		if err != nil {
			if l.fail(err, elapsed, wait, time.Time{}) {
				return
			}
		} else {
			l.emit(Event{Kind: TickSuccess, Elapsed: elapsed, Wait: wait})
		}

		// Observers ran after elapsed was measured; account for them too.
		wait = NextWait(interval, time.Since(start))
	}
}
