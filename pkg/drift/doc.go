// Package drift runs recurring work on a fixed interval or a cron schedule
// while compensating for execution time.
//
// Interval schedules subtract the time an execution took from the next wait,
// so tick starts track the nominal period instead of drifting by the job's
// latency. A tick that overruns the period is followed by one immediate tick;
// missed periods are never replayed. Cron schedules walk the fire instants of
// a six-field expression (seconds first, UTC by default) and skip any instant
// that is already in the past when it comes up.
//
// Every schedule owns one goroutine and a root *Token returned to the caller.
// Cancelling the token stops the schedule before its next tick; an execution
// already in flight is not interrupted but receives a per-tick child token it
// may watch. At most one execution of a schedule runs at a time.
//
// Basic usage:
//
//	token := drift.ScheduleInterval(30*time.Second, func(ctx context.Context) error {
//	    return refresh(ctx)
//	})
//	defer token.Cancel()
//
//	token, err := drift.ScheduleCron("0 */5 * * * *", job,
//	    drift.WithName("cleanup"),
//	    drift.WithFailurePolicy(drift.CancelOnError),
//	)
//
// Work that keeps state between executions implements Drifter and is passed
// to ScheduleDrifter or ScheduleDrifterCron.
//
// Failures are handled inside the loop according to the FailurePolicy
// (ContinueOnError by default). Callers observe them through Observer events
// and, under CancelOnError, through the returned token becoming cancelled.
package drift
