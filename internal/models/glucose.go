// Package models contains data structures used throughout the application
package models

import "time"

// GlucoseEntry represents a single glucose reading from Nightscout
type GlucoseEntry struct {
	ID        string `json:"_id"`
	SGV       int    `json:"sgv"`  // Sensor glucose value in mg/dL
	Date      int64  `json:"date"` // Unix timestamp in milliseconds
	DateStr   string `json:"dateString"`
	Trend     int    `json:"trend"`     // Trend direction (1-7)
	Direction string `json:"direction"` // Trend direction as string
	Device    string `json:"device"`
	Type      string `json:"type"`
}

// Time returns the time of the glucose entry
func (g *GlucoseEntry) Time() time.Time {
	return time.UnixMilli(g.Date)
}

// ValueMmolL returns the glucose value in mmol/L
func (g *GlucoseEntry) ValueMmolL() float64 {
	return float64(g.SGV) / 18.0182
}

// IsCalibration reports whether the entry is a meter calibration rather than a sensor reading
func (g *GlucoseEntry) IsCalibration() bool {
	return g.Type == "mbg" || g.Type == "cal"
}

// ToSample converts the Nightscout entry into an engine glucose sample.
// The uploading device is used as provenance.
func (g *GlucoseEntry) ToSample() GlucoseSample {
	return GlucoseSample{
		Date:          g.Time(),
		Value:         float64(g.SGV),
		IsCalibration: g.IsCalibration(),
		Provenance:    g.Device,
	}
}

// GlucoseSample is a single recorded glucose value
type GlucoseSample struct {
	Date          time.Time `json:"date"`
	Value         float64   `json:"value"` // mg/dL
	IsCalibration bool      `json:"isCalibration,omitempty"`
	Provenance    string    `json:"provenance,omitempty"`
}

// GlucoseEffect is one point of a cumulative effect curve
type GlucoseEffect struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"` // mg/dL
}

// GlucoseEffectVelocity is a rate of glucose change over an interval
type GlucoseEffectVelocity struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Velocity float64   `json:"velocity"` // mg/dL/min
}

// Minutes returns the interval length in minutes
func (v GlucoseEffectVelocity) Minutes() float64 {
	return v.End.Sub(v.Start).Minutes()
}

// Effect returns the total glucose change over the interval
func (v GlucoseEffectVelocity) Effect() float64 {
	return v.Velocity * v.Minutes()
}

// GlucoseChange is a glucose delta accumulated over an interval
type GlucoseChange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Value float64   `json:"value"` // mg/dL
}

// PredictedGlucose is one point of a predicted glucose trajectory
type PredictedGlucose struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"` // mg/dL
}

// TargetRange is a correction range in mg/dL
type TargetRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Average returns the midpoint of the range
func (r TargetRange) Average() float64 {
	return (r.Min + r.Max) / 2
}
