package models

import (
	"fmt"
	"strings"
	"time"
)

// DoseKind identifies the type of insulin delivery record
type DoseKind int

const (
	DoseBasal DoseKind = iota
	DoseTempBasal
	DoseBolus
	DoseSuspend
	DoseResume
)

var doseKindNames = map[DoseKind]string{
	DoseBasal:     "Basal",
	DoseTempBasal: "TempBasal",
	DoseBolus:     "Bolus",
	DoseSuspend:   "Suspend",
	DoseResume:    "Resume",
}

// String returns the canonical name of the kind
func (k DoseKind) String() string {
	if name, ok := doseKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("DoseKind(%d)", int(k))
}

// ParseDoseKind accepts canonical names case-insensitively, plus a few
// pump-history spellings ("TempBasal", "temp_basal", "PumpSuspend").
func ParseDoseKind(s string) (DoseKind, error) {
	normalized := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	switch normalized {
	case "basal", "basalprofilestart":
		return DoseBasal, nil
	case "tempbasal":
		return DoseTempBasal, nil
	case "bolus":
		return DoseBolus, nil
	case "suspend", "pumpsuspend":
		return DoseSuspend, nil
	case "resume", "pumpresume":
		return DoseResume, nil
	}
	return 0, fmt.Errorf("unknown dose kind %q: %w", s, ErrInvalidDose)
}

// IsBasalLike reports whether the amount of the dose is a rate in U/hr
func (k DoseKind) IsBasalLike() bool {
	return k == DoseBasal || k == DoseTempBasal || k == DoseSuspend
}

// DoseEntry is a single insulin delivery record.
// Value is U/hr for basal-like kinds and U for a bolus.
type DoseEntry struct {
	Kind               DoseKind  `json:"kind"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	Value              float64   `json:"value"`
	ScheduledBasalRate float64   `json:"scheduledBasalRate"`
}

// NewDoseEntry builds a dose entry and validates its invariants
func NewDoseEntry(kind DoseKind, start, end time.Time, value, scheduledBasalRate float64) (DoseEntry, error) {
	d := DoseEntry{
		Kind:               kind,
		Start:              start,
		End:                end,
		Value:              value,
		ScheduledBasalRate: scheduledBasalRate,
	}
	if err := d.Validate(); err != nil {
		return DoseEntry{}, err
	}
	return d, nil
}

// Validate checks start <= end and non-negative amounts
func (d DoseEntry) Validate() error {
	if d.End.Before(d.Start) {
		return fmt.Errorf("%s at %s ends before it starts: %w", d.Kind, d.Start.Format(time.RFC3339), ErrInvalidDose)
	}
	if d.Value < 0 || d.ScheduledBasalRate < 0 {
		return fmt.Errorf("%s at %s has a negative amount: %w", d.Kind, d.Start.Format(time.RFC3339), ErrInvalidDose)
	}
	return nil
}

// Duration returns the delivery duration
func (d DoseEntry) Duration() time.Duration {
	return d.End.Sub(d.Start)
}

// Units returns the insulin actually delivered
func (d DoseEntry) Units() float64 {
	switch d.Kind {
	case DoseBolus:
		return d.Value
	case DoseBasal, DoseTempBasal:
		return d.Value * d.Duration().Hours()
	default:
		return 0
	}
}

// NetUnits returns the insulin delivered relative to the scheduled basal.
// A suspend displaces the whole scheduled rate, so its net is negative.
func (d DoseEntry) NetUnits() float64 {
	switch d.Kind {
	case DoseBolus:
		return d.Value
	case DoseBasal, DoseTempBasal:
		return (d.Value - d.ScheduledBasalRate) * d.Duration().Hours()
	case DoseSuspend:
		return -d.ScheduledBasalRate * d.Duration().Hours()
	default:
		return 0
	}
}

// AbsorptionSpeed picks one of the configured default absorption times
type AbsorptionSpeed string

const (
	SpeedFast   AbsorptionSpeed = "fast"
	SpeedMedium AbsorptionSpeed = "medium"
	SpeedSlow   AbsorptionSpeed = "slow"
)

// ParseAbsorptionSpeed accepts fast, medium or slow; empty means medium
func ParseAbsorptionSpeed(s string) (AbsorptionSpeed, error) {
	switch speed := AbsorptionSpeed(strings.ToLower(strings.TrimSpace(s))); speed {
	case "":
		return SpeedMedium, nil
	case SpeedFast, SpeedMedium, SpeedSlow:
		return speed, nil
	}
	return "", fmt.Errorf("unknown absorption speed %q: %w", s, ErrInvalidCarbs)
}

// CarbEntry is a single carbohydrate intake record.
// A zero AbsorptionTime defers to the configured default for Speed.
type CarbEntry struct {
	Start          time.Time       `json:"start"`
	Grams          float64         `json:"grams"`
	AbsorptionTime time.Duration   `json:"absorptionTime,omitempty"`
	Speed          AbsorptionSpeed `json:"speed,omitempty"`
}

// Validate checks the entry for negative amounts and unknown speeds
func (c CarbEntry) Validate() error {
	if c.Grams < 0 || c.AbsorptionTime < 0 {
		return fmt.Errorf("carbs at %s: %w", c.Start.Format(time.RFC3339), ErrInvalidCarbs)
	}
	if _, err := ParseAbsorptionSpeed(string(c.Speed)); err != nil {
		return fmt.Errorf("carbs at %s: %w", c.Start.Format(time.RFC3339), err)
	}
	return nil
}

// InsulinValue is an insulin-on-board point
type InsulinValue struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"` // U
}

// CarbValue is a carbs-on-board point
type CarbValue struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"` // g
}

// AbsorbedCarbs is grams absorbed by one entry over an interval
type AbsorbedCarbs struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Grams float64   `json:"grams"`
}
