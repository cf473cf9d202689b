package models

import "errors"

// Boundary errors. Composers never return these for degenerate data; they
// are raised when input is structurally invalid, before any computation.
var (
	// ErrShapeMismatch is returned when parallel input sequences differ in length
	ErrShapeMismatch = errors.New("parallel sequences have unequal lengths")

	// ErrEmptyInput is returned when a required collection is empty
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidDose is returned when a dose entry violates start <= end or has a negative amount
	ErrInvalidDose = errors.New("invalid dose entry")

	// ErrInvalidCarbs is returned when a carb entry has a negative amount or absorption time
	ErrInvalidCarbs = errors.New("invalid carb entry")

	// ErrUnsorted is returned when a history is not in chronological order
	ErrUnsorted = errors.New("entries are not in chronological order")

	// ErrMissingSchedule is returned when a required therapy schedule is absent
	ErrMissingSchedule = errors.New("missing required schedule")

	// ErrInvalidSettings is returned when resolved settings fail validation
	ErrInvalidSettings = errors.New("invalid settings")
)
