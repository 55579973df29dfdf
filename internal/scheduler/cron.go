// Package scheduler fires persisted cron jobs and a heartbeat as synthetic
// inbound messages, giving the agent proactive turns without user input.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpr is a parsed 5-field cron expression (minute, hour, day-of-month,
// month, day-of-week). Each field is a bit set over its valid range;
// day-of-week bit 0 is Sunday.
type CronExpr struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

// cron field bounds, in field order.
var cronFields = []struct {
	name   string
	lo, hi int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseCron parses a standard 5-field cron expression. Supports *, */N, N,
// N-M, N-M/S, and comma-separated combinations. Day-of-week accepts 7 as
// an alias for Sunday.
func ParseCron(expr string) (*CronExpr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	var masks [5]uint64
	for i, spec := range cronFields {
		mask, err := parseField(fields[i], spec.lo, spec.hi)
		if err != nil {
			return nil, fmt.Errorf("cron: %s: %w", spec.name, err)
		}
		masks[i] = mask
	}

	// Fold day-of-week 7 into Sunday.
	if masks[4]&(1<<7) != 0 {
		masks[4] = masks[4]&^(1<<7) | 1
	}

	return &CronExpr{
		minute: masks[0],
		hour:   masks[1],
		dom:    masks[2],
		month:  masks[3],
		dow:    masks[4],
	}, nil
}

// parseField parses one comma-separated field into a bit set.
func parseField(field string, lo, hi int) (uint64, error) {
	var mask uint64
	for _, term := range strings.Split(field, ",") {
		m, err := parseTerm(term, lo, hi)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	if mask == 0 {
		return 0, fmt.Errorf("empty field %q", field)
	}
	return mask, nil
}

// parseTerm parses a single term: *, */N, N, N-M, or N-M/S.
func parseTerm(term string, lo, hi int) (uint64, error) {
	step := 1
	if base, stepStr, ok := strings.Cut(term, "/"); ok {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step in %q", term)
		}
		step, term = n, base
	}

	start, end := lo, hi
	switch {
	case term == "*":
		// Full range.
	case strings.Contains(term, "-"):
		first, second, _ := strings.Cut(term, "-")
		a, errA := strconv.Atoi(first)
		b, errB := strconv.Atoi(second)
		if errA != nil || errB != nil {
			return 0, fmt.Errorf("invalid range %q", term)
		}
		if a < lo || b > hi || a > b {
			return 0, fmt.Errorf("range %d-%d out of bounds [%d,%d]", a, b, lo, hi)
		}
		start, end = a, b
	default:
		v, err := strconv.Atoi(term)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", term)
		}
		if v < lo || v > hi {
			return 0, fmt.Errorf("value %d out of bounds [%d,%d]", v, lo, hi)
		}
		if step != 1 {
			return 0, fmt.Errorf("step requires a range in %q", term)
		}
		start, end = v, v
	}

	var mask uint64
	for v := start; v <= end; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

func has(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0
}

// Matches reports whether t falls within the expression.
func (c *CronExpr) Matches(t time.Time) bool {
	return has(c.minute, t.Minute()) &&
		has(c.hour, t.Hour()) &&
		has(c.dom, t.Day()) &&
		has(c.month, int(t.Month())) &&
		has(c.dow, int(t.Weekday()))
}

// matchesDay reports whether t's date fields match, ignoring the time of
// day.
func (c *CronExpr) matchesDay(t time.Time) bool {
	return has(c.month, int(t.Month())) &&
		has(c.dom, t.Day()) &&
		has(c.dow, int(t.Weekday()))
}

// Next returns the first time after t that matches the expression.
// Searches two years ahead; returns the zero time if nothing matches.
func (c *CronExpr) Next(t time.Time) time.Time {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(2, 0, 0)

	for candidate.Before(limit) {
		if !has(c.month, int(candidate.Month())) {
			// First moment of the next month.
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, candidate.Location())
			continue
		}
		if !c.matchesDay(candidate) {
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, candidate.Location())
			continue
		}
		if at, ok := c.nextWithinDay(candidate); ok {
			return at
		}
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, candidate.Location())
	}
	return time.Time{}
}

// nextWithinDay finds the first matching hour:minute at or after from,
// staying on from's date.
func (c *CronExpr) nextWithinDay(from time.Time) (time.Time, bool) {
	minute := from.Minute()
	for hour := from.Hour(); hour < 24; hour++ {
		if !has(c.hour, hour) {
			minute = 0
			continue
		}
		for ; minute < 60; minute++ {
			if has(c.minute, minute) {
				return time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location()), true
			}
		}
		minute = 0
	}
	return time.Time{}, false
}
