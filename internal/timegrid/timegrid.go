// Package timegrid snaps instants onto the fixed-interval grid shared by all effect curves
package timegrid

import "time"

// Floor returns t rounded down to a multiple of interval measured from the Unix epoch.
// A non-positive interval returns t unchanged.
func Floor(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	step := int64(interval / time.Second)
	if step == 0 {
		return t
	}
	secs := t.Unix()
	floored := secs - mod(secs, step)
	return time.Unix(floored, 0).In(t.Location())
}

// Ceil returns t rounded up to a multiple of interval measured from the Unix epoch.
// A non-positive interval returns t unchanged.
func Ceil(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	floored := Floor(t, interval)
	if floored.Equal(t) {
		return floored
	}
	return floored.Add(interval)
}

// ElapsedSeconds returns the signed difference a - b in seconds
func ElapsedSeconds(a, b time.Time) float64 {
	return a.Sub(b).Seconds()
}

// ElapsedMinutes returns the signed difference a - b in minutes
func ElapsedMinutes(a, b time.Time) float64 {
	return a.Sub(b).Minutes()
}

// Range returns every grid instant from start through end inclusive, delta apart.
// Returns nil when delta is not positive or end precedes start.
func Range(start, end time.Time, delta time.Duration) []time.Time {
	if delta <= 0 || end.Before(start) {
		return nil
	}
	count := int(end.Sub(start)/delta) + 1
	dates := make([]time.Time, 0, count)
	for date := start; !date.After(end); date = date.Add(delta) {
		dates = append(dates, date)
	}
	return dates
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
