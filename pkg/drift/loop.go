package drift

import "time"

// loop is the background state machine shared by interval and cron schedules.
// It owns its own reference to the root token, so dropping the handle returned
// to the caller never stops it.
type loop struct {
	root     *Token
	drifter  Drifter
	opts     options
	observer Observer
	tick     uint64
}

func newLoop(d Drifter, opts options) *loop {
	root := NewToken()
	if opts.parent != nil {
		root = opts.parent.Child()
	}
	return &loop{
		root:     root,
		drifter:  d,
		opts:     opts,
		observer: opts.observer(),
	}
}

func (l *loop) emit(e Event) {
	e.Schedule = l.opts.name
	e.Tick = l.tick
	if e.Time.IsZero() {
		e.Time = l.opts.now()
	}
	l.observer.Observe(e)
}

// sleep blocks for d or until the root token is cancelled, whichever comes
// first. It reports whether the next execution may start.
func (l *loop) sleep(d time.Duration) bool {
	if l.root.IsCancelled() {
		return false
	}
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-l.root.Done():
		return false
	case <-timer.C:
		// A cancel racing the timer still wins.
		return !l.root.IsCancelled()
	}
}

// execute runs one tick and returns its duration and normalised error.
func (l *loop) execute(token *Token) (time.Duration, error) {
	l.emit(Event{Kind: TickStart})
	start := time.Now()
	err := l.invoke(token)
	return time.Since(start), err
}

func (l *loop) invoke(token *Token) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &JobError{Err: &PanicError{Value: r}}
		}
	}()
	if execErr := l.drifter.Execute(token); execErr != nil {
		return asJobError(execErr)
	}
	return nil
}

// fail records a failed tick and applies the failure policy. It reports
// whether the loop has to exit.
func (l *loop) fail(err error, elapsed, wait time.Duration, instant time.Time) bool {
	l.emit(Event{Kind: TickFailure, Err: err, Elapsed: elapsed, Wait: wait, Instant: instant})
	if l.opts.policy != CancelOnError {
		return false
	}
	l.root.Cancel()
	l.stop(StopFatalError, err)
	return true
}

func (l *loop) stop(reason StopReason, err error) {
	l.emit(Event{Kind: ScheduleStopped, Reason: reason, Err: err})
}
