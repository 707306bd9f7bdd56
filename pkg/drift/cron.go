package drift

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts six fields, seconds first, plus descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a six-field cron expression. Errors are *ParseError.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &ParseError{Expr: expr, Err: err}
	}
	return schedule, nil
}

// NextInstants returns the next n fire instants of expr after from, in loc
// (UTC when loc is nil).
func NextInstants(expr string, from time.Time, loc *time.Location, n int) ([]time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	up := newUpcoming(schedule, from.In(loc))
	out := make([]time.Time, 0, n)
	for len(out) < n {
		next := up.next()
		if next.IsZero() {
			break
		}
		out = append(out, next)
	}
	return out, nil
}

// ScheduleCron runs fn at every fire instant of expr until the returned
// token is cancelled. A malformed expression is reported here and no
// background loop is started.
func ScheduleCron(expr string, fn JobFunc, opts ...Option) (*Token, error) {
	return ScheduleDrifterCron(expr, FromFunc(fn), opts...)
}

// ScheduleDrifterCron runs d at every fire instant of expr until the returned
// token is cancelled. Instants already in the past when they come up are
// skipped, never executed late.
func ScheduleDrifterCron(expr string, d Drifter, opts ...Option) (*Token, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	if o.name == "" {
		o.name = expr
	}

	l := newLoop(d, o)
	up := newUpcoming(schedule, o.now().In(o.location))
	go l.runCron(up)

	return l.root, nil
}

// upcoming yields strictly increasing fire instants, each computed after the
// previous one rather than after the current time.
type upcoming struct {
	schedule cron.Schedule
	last     time.Time
}

func newUpcoming(schedule cron.Schedule, from time.Time) *upcoming {
	return &upcoming{schedule: schedule, last: from}
}

// next returns the following instant, or the zero time once the schedule
// cannot fire again.
func (u *upcoming) next() time.Time {
	t := u.schedule.Next(u.last)
	if t.IsZero() {
		return t
	}
	u.last = t
	return t
}

func (l *loop) runCron(up *upcoming) {
	for {
		instant := up.next()
		if instant.IsZero() {
			l.root.Cancel()
			l.stop(StopExhausted, nil)
			return
		}

		now := l.opts.now().In(l.opts.location)
		wait := instant.Sub(now)
		if wait <= 0 {
			if l.root.IsCancelled() {
				l.stop(StopCancelled, nil)
				return
			}
			l.emit(Event{Kind: TickSkipped, Instant: instant, Time: now})
			continue
		}

		token := l.root.Child()
		if !l.sleep(wait) {
			l.stop(StopCancelled, nil)
			return
		}

		l.tick++
		elapsed, err := l.execute(token)
		if err != nil {
			if l.fail(err, elapsed, 0, instant) {
				return
			}
			continue
		}
		l.emit(Event{Kind: TickSuccess, Elapsed: elapsed, Instant: instant})
	}
}
