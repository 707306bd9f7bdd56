package drift

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"garbage", "not a cron"},
		{"five fields", "*/5 * * * *"},
		{"out of range", "61 * * * * *"},
		{"unknown descriptor", "@sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCron)

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.expr, perr.Expr)
		})
	}
}

func TestParseCron_Valid(t *testing.T) {
	for _, expr := range []string{"* * * * * *", "0 */15 * * * *", "0 0 9 * * MON-FRI", "@hourly", "@every 10s"} {
		_, err := ParseCron(expr)
		assert.NoError(t, err, expr)
	}
}

func TestScheduleCron_InvalidExpressionStartsNothing(t *testing.T) {
	var counter atomic.Int64
	token, err := ScheduleCron("*/5 * * * *", func(context.Context) error {
		counter.Add(1)
		return nil
	}, WithLogger(quietLogger()))

	require.ErrorIs(t, err, ErrInvalidCron)
	assert.Nil(t, token)
	ensureNoIncrement(t, &counter, 0, 100*time.Millisecond)
}

func TestNextInstants(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)

	got, err := NextInstants("0 */15 * * * *", from, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 10, 45, 0, 0, time.UTC),
	}, got)

	hourly, err := NextInstants("@hourly", from, time.UTC, 2)
	require.NoError(t, err)
	require.Len(t, hourly, 2)
	assert.True(t, hourly[0].Equal(time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)))
	assert.True(t, hourly[1].Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestNextInstants_Location(t *testing.T) {
	plus3 := time.FixedZone("UTC+3", 3*60*60)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := NextInstants("0 0 9 * * *", from, plus3, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)))
}

func TestNextInstants_ExactBoundaryIsExcluded(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)

	got, err := NextInstants("0 */15 * * * *", from, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), got[0])
}

func TestUpcoming_StrictlyIncreasing(t *testing.T) {
	schedule, err := ParseCron("*/7 * * * * *")
	require.NoError(t, err)

	up := newUpcoming(schedule, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	prev := up.next()
	for i := 0; i < 50; i++ {
		next := up.next()
		require.True(t, next.After(prev), "instant %d did not advance", i)
		prev = next
	}
}

func TestScheduleCron_ExhaustedScheduleStops(t *testing.T) {
	rec := &recorder{}
	var counter atomic.Int64
	token, err := ScheduleCron("0 0 0 30 2 *", func(context.Context) error {
		counter.Add(1)
		return nil
	}, WithLogger(quietLogger()), WithObserver(rec))
	require.NoError(t, err)

	require.Eventually(t, token.IsCancelled, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return rec.count(ScheduleStopped) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StopExhausted, rec.byKind(ScheduleStopped)[0].Reason)
	assert.Zero(t, counter.Load())
}

func TestScheduleCron_EverySecond(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for five seconds")
	}

	var counter atomic.Int64
	token, err := ScheduleCron("* * * * * *", func(context.Context) error {
		counter.Add(1)
		return nil
	}, WithLogger(quietLogger()))
	require.NoError(t, err)

	time.Sleep(5 * time.Second)
	token.Cancel()

	n := counter.Load()
	assert.GreaterOrEqual(t, n, int64(4))
	assert.LessOrEqual(t, n, int64(6))
}

func TestScheduleCron_CancelStops(t *testing.T) {
	rec := &recorder{}
	var counter atomic.Int64
	token, err := ScheduleCron("* * * * * *", func(context.Context) error {
		counter.Add(1)
		return nil
	}, WithLogger(quietLogger()), WithObserver(rec))
	require.NoError(t, err)

	token.Cancel()

	require.Eventually(t, func() bool {
		return rec.count(ScheduleStopped) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StopCancelled, rec.byKind(ScheduleStopped)[0].Reason)
	ensureNoIncrement(t, &counter, 0, 1200*time.Millisecond)
}

func TestScheduleCron_SkipsPastInstants(t *testing.T) {
	rec := &recorder{}
	var calls atomic.Int64
	clock := func() time.Time {
		if calls.Add(1) == 1 {
			return time.Now()
		}
		return time.Now().Add(3500 * time.Millisecond)
	}

	var counter atomic.Int64
	token, err := ScheduleCron("* * * * * *", func(context.Context) error {
		counter.Add(1)
		return nil
	}, WithLogger(quietLogger()), WithObserver(rec), WithClock(clock))
	require.NoError(t, err)
	defer token.Cancel()

	waitForAtLeast(t, &counter, 1, 3*time.Second)

	skipped := rec.byKind(TickSkipped)
	require.GreaterOrEqual(t, len(skipped), 3)
	for i := 1; i < len(skipped); i++ {
		assert.True(t, skipped[i].Instant.After(skipped[i-1].Instant))
	}
	for _, s := range skipped {
		assert.False(t, s.Instant.After(s.Time), "only instants at or before now are skipped")
	}

	success := rec.byKind(TickSuccess)
	require.NotEmpty(t, success)
	assert.True(t, success[0].Instant.After(skipped[0].Instant))
}

func TestScheduleCron_LongJobNeverOverlaps(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for several seconds")
	}

	rec := &recorder{}
	var running, maxRunning, counter atomic.Int64
	token, err := ScheduleCron("* * * * * *", func(context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		counter.Add(1)
		time.Sleep(1500 * time.Millisecond)
		return nil
	}, WithLogger(quietLogger()), WithObserver(rec))
	require.NoError(t, err)
	defer token.Cancel()

	waitForAtLeast(t, &counter, 2, 6*time.Second)

	assert.Equal(t, int64(1), maxRunning.Load())
	assert.NotEmpty(t, rec.byKind(TickSkipped), "instants passed during a long job are skipped")
}

func TestScheduleCron_CancelOnError(t *testing.T) {
	rec := &recorder{}
	var counter atomic.Int64
	token, err := ScheduleCron("* * * * * *", func(context.Context) error {
		counter.Add(1)
		return errors.New("forced failure")
	}, WithLogger(quietLogger()), WithObserver(rec), WithFailurePolicy(CancelOnError))
	require.NoError(t, err)

	require.Eventually(t, token.IsCancelled, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), counter.Load())

	stopped := rec.byKind(ScheduleStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, StopFatalError, stopped[0].Reason)

	failures := rec.byKind(TickFailure)
	require.Len(t, failures, 1)
	assert.False(t, failures[0].Instant.IsZero())
}

func TestScheduleCron_ParentCancellation(t *testing.T) {
	parent := NewToken()
	rec := &recorder{}

	token, err := ScheduleCron("@hourly", func(context.Context) error { return nil },
		WithLogger(quietLogger()), WithObserver(rec), WithParent(parent), WithName("hourly-report"))
	require.NoError(t, err)

	parent.Cancel()
	assert.True(t, token.IsCancelled())

	require.Eventually(t, func() bool {
		return rec.count(ScheduleStopped) == 1
	}, time.Second, 5*time.Millisecond)
	stopped := rec.byKind(ScheduleStopped)[0]
	assert.Equal(t, "hourly-report", stopped.Schedule)
	assert.Equal(t, StopCancelled, stopped.Reason)
}

func TestObservers_IsolatePanics(t *testing.T) {
	rec := &recorder{}
	obs := Observers(
		ObserverFunc(func(Event) { panic("observer bug") }),
		nil,
		rec,
	)

	assert.NotPanics(t, func() { obs.Observe(Event{Kind: TickStart}) })

	assert.Equal(t, 1, rec.count(TickStart))
}
