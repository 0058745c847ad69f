package model

import (
	"math"
	"time"
)

// Clock supplies "now" and the zone calendar dates are evaluated in.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// SystemClock uses the wall clock in loc (UTC when nil).
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{Now: time.Now, Location: loc}
}

// FixedClock always reports t; used by tests and one-shot jobs.
func FixedClock(t time.Time) Clock {
	return Clock{Now: func() time.Time { return t }, Location: time.UTC}
}

// Today returns the current calendar date in the clock's zone as UTC midnight.
func (c Clock) Today() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now().In(loc))
}

// Time returns the current instant.
func (c Clock) Time() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// OccupancyRate returns occupied/total as a percentage rounded to two
// decimals, 0 when total is zero and never above 100.
func OccupancyRate(occupied, total int) float64 {
	if total <= 0 || occupied <= 0 {
		return 0
	}
	r := float64(occupied) * 100 / float64(total)
	if r > 100 {
		r = 100
	}
	return math.Round(r*100) / 100
}
