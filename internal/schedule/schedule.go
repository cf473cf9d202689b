// Package schedule implements daily therapy schedules (basal rates, carb
// ratios, sensitivities and correction ranges) keyed by time of day.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrcode/loopsim/internal/models"
)

const day = 24 * time.Hour

var (
	// ErrEmptySchedule is returned when looking up a value in a schedule with no entries
	ErrEmptySchedule = errors.New("schedule has no entries")

	// ErrNoEntry is returned when no explicit-end entry covers the queried time
	ErrNoEntry = errors.New("no schedule entry covers time")

	// ErrInvalidOffset is returned for a time-of-day offset outside [0, 24h]
	ErrInvalidOffset = errors.New("time-of-day offset out of range")
)

// Entry is one schedule item. Start and End are offsets from local midnight.
// Without an explicit end, the entry runs until the next entry's start.
type Entry[T any] struct {
	Start  time.Duration
	End    time.Duration
	HasEnd bool
	Value  T
}

// Schedule is an ordered, daily-cyclic list of entries
type Schedule[T any] struct {
	entries []Entry[T]
}

// Basal rates in U/hr
type BasalSchedule = Schedule[float64]

// Carb ratios in g/U
type CarbRatioSchedule = Schedule[float64]

// Insulin sensitivities in mg/dL/U
type SensitivitySchedule = Schedule[float64]

// Correction ranges in mg/dL
type TargetSchedule = Schedule[models.TargetRange]

// New builds a schedule whose entries end where the next one starts
func New[T any](starts []time.Duration, values []T) (Schedule[T], error) {
	if len(starts) != len(values) {
		return Schedule[T]{}, fmt.Errorf("schedule: %d starts, %d values: %w", len(starts), len(values), models.ErrShapeMismatch)
	}
	entries := make([]Entry[T], len(starts))
	for i := range starts {
		entries[i] = Entry[T]{Start: starts[i], Value: values[i]}
	}
	return fromEntries(entries)
}

// NewWithEnds builds a schedule with explicit end offsets. An end at or
// before its start wraps past midnight.
func NewWithEnds[T any](starts, ends []time.Duration, values []T) (Schedule[T], error) {
	if len(starts) != len(values) || len(ends) != len(values) {
		return Schedule[T]{}, fmt.Errorf("schedule: %d starts, %d ends, %d values: %w", len(starts), len(ends), len(values), models.ErrShapeMismatch)
	}
	entries := make([]Entry[T], len(starts))
	for i := range starts {
		if ends[i] < 0 || ends[i] > day {
			return Schedule[T]{}, fmt.Errorf("schedule: end %v: %w", ends[i], ErrInvalidOffset)
		}
		entries[i] = Entry[T]{Start: starts[i], End: ends[i], HasEnd: true, Value: values[i]}
	}
	return fromEntries(entries)
}

// Constant returns a single-entry schedule covering the whole day
func Constant[T any](value T) Schedule[T] {
	return Schedule[T]{entries: []Entry[T]{{Value: value}}}
}

func fromEntries[T any](entries []Entry[T]) (Schedule[T], error) {
	for i, e := range entries {
		if e.Start < 0 || e.Start >= day {
			return Schedule[T]{}, fmt.Errorf("schedule: start %v: %w", e.Start, ErrInvalidOffset)
		}
		if i > 0 && e.Start <= entries[i-1].Start {
			return Schedule[T]{}, fmt.Errorf("schedule: start %v after %v: %w", e.Start, entries[i-1].Start, models.ErrUnsorted)
		}
	}
	return Schedule[T]{entries: entries}, nil
}

// Len returns the number of entries
func (s Schedule[T]) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the schedule entries
func (s Schedule[T]) Entries() []Entry[T] {
	out := make([]Entry[T], len(s.entries))
	copy(out, s.entries)
	return out
}

// ValueAt returns the value in effect at t. Intervals are closed-open, so
// a query exactly on a boundary returns the later entry.
func (s Schedule[T]) ValueAt(t time.Time) (T, error) {
	var zero T
	if len(s.entries) == 0 {
		return zero, ErrEmptySchedule
	}

	offset := TimeOfDay(t)

	if s.entries[0].HasEnd {
		for _, e := range s.entries {
			if covers(e, offset) {
				return e.Value, nil
			}
		}
		return zero, fmt.Errorf("schedule: %s: %w", t.Format("15:04:05"), ErrNoEntry)
	}

	// Before the first start the previous day's last entry is still running
	idx := len(s.entries) - 1
	for i, e := range s.entries {
		if e.Start <= offset {
			idx = i
		} else {
			break
		}
	}
	return s.entries[idx].Value, nil
}

// TimeOfDay returns the offset of t from midnight in t's location
func TimeOfDay(t time.Time) time.Duration {
	year, month, dayOfMonth := t.Date()
	midnight := time.Date(year, month, dayOfMonth, 0, 0, 0, 0, t.Location())
	return t.Sub(midnight)
}

func covers[T any](e Entry[T], offset time.Duration) bool {
	end := e.End
	if end == 0 {
		end = day
	}
	if end > e.Start {
		return e.Start <= offset && offset < end
	}
	return offset >= e.Start || offset < end
}
