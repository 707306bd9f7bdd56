package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftd/pkg/drift"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		raw   string
		kind  ScheduleKind
		cron  string
		every time.Duration
	}{
		{"cron:0 */5 * * * *", ScheduleCron, "0 */5 * * * *", 0},
		{"0 0 9 * * MON-FRI", ScheduleCron, "0 0 9 * * MON-FRI", 0},
		{"@hourly", ScheduleCron, "@hourly", 0},
		{"@every 30s", ScheduleCron, "@every 30s", 0},
		{"every:30s", ScheduleInterval, "", 30 * time.Second},
		{"EVERY: 2h30m", ScheduleInterval, "", 2*time.Hour + 30*time.Minute},
		{"55m", ScheduleInterval, "", 55 * time.Minute},
		{"00:50", ScheduleInterval, "", 50 * time.Minute},
		{"every:02:30", ScheduleInterval, "", 2*time.Hour + 30*time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.cron, got.Cron)
			assert.Equal(t, tt.every, got.Every)
		})
	}
}

func TestParseSchedule_Errors(t *testing.T) {
	for _, raw := range []string{"", "   ", "cron:", "every:", "every:-5s", "0s", "00:75", "soon", "*/5 * * * *"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseSchedule(raw)
			assert.Error(t, err)
		})
	}
}

func TestParseSchedule_CronErrorIsParseError(t *testing.T) {
	_, err := ParseSchedule("cron:61 * * * * *")
	require.Error(t, err)
	assert.ErrorIs(t, err, drift.ErrInvalidCron)
}

func TestSchedule_String(t *testing.T) {
	assert.Equal(t, "every 30s", Schedule{Kind: ScheduleInterval, Every: 30 * time.Second}.String())
	assert.Equal(t, "@daily", Schedule{Kind: ScheduleCron, Cron: "@daily"}.String())
	assert.Equal(t, "interval", ScheduleInterval.String())
}
