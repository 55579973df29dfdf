package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Schedule is either a cron expression or a fixed interval of the form
// "every:<duration>" (e.g. "every:30m").
type Schedule struct {
	Expr     string
	cron     *CronExpr
	interval time.Duration
}

// ParseSchedule parses a schedule definition.
func ParseSchedule(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "every:"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return nil, fmt.Errorf("schedule: invalid interval %q: %w", rest, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("schedule: interval must be positive, got %v", d)
		}
		return &Schedule{Expr: expr, interval: d}, nil
	}
	c, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	return &Schedule{Expr: expr, cron: c}, nil
}

// IsInterval reports whether the schedule is a fixed interval.
func (s *Schedule) IsInterval() bool { return s.interval > 0 }

// Interval returns the fixed interval (zero for cron schedules).
func (s *Schedule) Interval() time.Duration { return s.interval }

// First returns the first due time for a job created at t.
func (s *Schedule) First(t time.Time) time.Time {
	if s.IsInterval() {
		return t.Add(s.interval)
	}
	return s.cron.Next(t)
}

// Advance computes the next due time after a fire. Interval schedules
// advance from the previous due time, not from now, so late ticks do not
// accumulate drift; if the result is still in the past (downtime longer
// than one interval) it skips to the first future occurrence. Cron
// schedules are evaluated against the wall clock.
func (s *Schedule) Advance(prevDue, now time.Time) time.Time {
	if !s.IsInterval() {
		return s.cron.Next(now)
	}
	next := prevDue.Add(s.interval)
	for !next.After(now) {
		next = next.Add(s.interval)
	}
	return next
}
