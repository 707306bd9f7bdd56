package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"driftd/pkg/drift"
)

// ScheduleKind tells whether a job runs on a cron expression or a fixed interval.
type ScheduleKind int

const (
	ScheduleCron ScheduleKind = iota
	ScheduleInterval
)

func (k ScheduleKind) String() string {
	if k == ScheduleInterval {
		return "interval"
	}
	return "cron"
}

// Schedule is a parsed schedule string.
type Schedule struct {
	Kind  ScheduleKind
	Cron  string
	Every time.Duration
}

func (s Schedule) String() string {
	if s.Kind == ScheduleInterval {
		return "every " + s.Every.String()
	}
	return s.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule accepts:
//   - "cron:<expr>" or anything with whitespace or a leading '@' as a
//     six-field cron expression ("0 */5 * * * *", "@hourly")
//   - "every:<d>" or a bare Go duration ("30s", "2h30m") as an interval
//   - "HH:MM" as an interval ("00:50" is fifty minutes)
//
// Cron expressions are validated here; a bad one yields *drift.ParseError.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}

	sched, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use cron like '0 */5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
	}
	return sched, nil
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron schedule required after 'cron:'")
	}
	if _, err := drift.ParseCron(expr); err != nil {
		return Schedule{}, err
	}
	return Schedule{Kind: ScheduleCron, Cron: expr}, nil
}

func parseInterval(v string) (Schedule, error) {
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}

	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m')", v)
		}
	}

	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Schedule{Kind: ScheduleInterval, Every: d}, nil
}
