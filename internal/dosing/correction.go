// Package dosing inverts a predicted glucose trajectory into a correction
// decision, then into temp basal and bolus recommendations bounded by the
// pump's safety limits.
package dosing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mrcode/loopsim/internal/insulin"
	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
)

// ErrNoPrediction is returned when no predicted point falls inside the insulin action window
var ErrNoPrediction = errors.New("no prediction within the insulin action window")

// useMinTargetUntil is the fraction of the action window during which the
// bottom of the correction range is targeted.
const useMinTargetUntil = 0.5

// CorrectionKind names the state reached by the correction decision
type CorrectionKind int

const (
	KindSuspend CorrectionKind = iota
	KindEntirelyBelowRange
	KindInRange
	KindAboveRange
)

// String returns the state name
func (k CorrectionKind) String() string {
	switch k {
	case KindSuspend:
		return "suspend"
	case KindEntirelyBelowRange:
		return "entirelyBelowRange"
	case KindInRange:
		return "inRange"
	case KindAboveRange:
		return "aboveRange"
	}
	return fmt.Sprintf("CorrectionKind(%d)", int(k))
}

// Correction is one of Suspend, EntirelyBelowRange, InRange or AboveRange
type Correction interface {
	Kind() CorrectionKind
	// Units is the correction insulin, zero for Suspend and InRange
	Units() float64
	isCorrection()
}

// Suspend means some predicted point is under the suspend threshold
type Suspend struct {
	Min models.PredictedGlucose
}

// EntirelyBelowRange means the minimum and eventual glucose are both under the target range
type EntirelyBelowRange struct {
	Min       models.PredictedGlucose
	MinTarget float64
	Amount    float64
}

// InRange means no correction is needed
type InRange struct{}

// AboveRange means the eventual glucose is over the target range
type AboveRange struct {
	Min        models.PredictedGlucose
	Correcting models.PredictedGlucose
	MinTarget  float64
	Amount     float64
}

func (Suspend) Kind() CorrectionKind            { return KindSuspend }
func (EntirelyBelowRange) Kind() CorrectionKind { return KindEntirelyBelowRange }
func (InRange) Kind() CorrectionKind            { return KindInRange }
func (AboveRange) Kind() CorrectionKind         { return KindAboveRange }

func (Suspend) Units() float64              { return 0 }
func (c EntirelyBelowRange) Units() float64 { return c.Amount }
func (InRange) Units() float64              { return 0 }
func (c AboveRange) Units() float64         { return c.Amount }

func (Suspend) isCorrection()            {}
func (EntirelyBelowRange) isCorrection() {}
func (InRange) isCorrection()            {}
func (AboveRange) isCorrection()         {}

// TargetGlucoseValue returns the target for a point percentEffectDuration of
// the way through the action window: the range minimum for the first half,
// rising linearly to the range maximum at the end.
func TargetGlucoseValue(percentEffectDuration, minValue, maxValue float64) float64 {
	if percentEffectDuration <= useMinTargetUntil {
		return minValue
	}
	if percentEffectDuration >= 1 {
		return maxValue
	}
	slope := (maxValue - minValue) / (1 - useMinTargetUntil)
	return minValue + slope*(percentEffectDuration-useMinTargetUntil)
}

// correctionUnits returns the dose moving from to to, or false if the sensitivity is not positive
func correctionUnits(from, to, effectedSensitivity float64) (float64, bool) {
	if effectedSensitivity <= 0 {
		return 0, false
	}
	return (from - to) / effectedSensitivity, true
}

// InsulinCorrection evaluates the prediction over [now, now+action duration]
// and decides the correction state. Suspend short-circuits all other logic.
func InsulinCorrection(prediction []models.PredictedGlucose, now time.Time, suspendThreshold float64, sensitivity schedule.SensitivitySchedule, targets schedule.TargetSchedule, model insulin.Model) (Correction, error) {
	window := insulin.TotalDuration(model)
	windowEnd := now.Add(window)

	var (
		minGlucose, eventualGlucose, correcting *models.PredictedGlucose
		minUnits                                float64
		haveUnits                               bool
	)

	for i := range prediction {
		p := &prediction[i]
		if p.Date.Before(now) || p.Date.After(windowEnd) {
			continue
		}
		if p.Value < suspendThreshold {
			return Suspend{Min: *p}, nil
		}

		if minGlucose == nil || p.Value < minGlucose.Value {
			minGlucose = p
		}
		eventualGlucose = p

		target, err := targets.ValueAt(p.Date)
		if err != nil {
			return nil, fmt.Errorf("dosing: target at %s: %w", p.Date.Format(time.RFC3339), err)
		}
		isf, err := sensitivity.ValueAt(p.Date)
		if err != nil {
			return nil, fmt.Errorf("dosing: sensitivity at %s: %w", p.Date.Format(time.RFC3339), err)
		}

		elapsed := p.Date.Sub(now)
		targetValue := TargetGlucoseValue(float64(elapsed)/float64(window), target.Min, target.Max)
		effected := (1 - insulin.PercentEffectRemainingAt(model, elapsed)) * isf
		if effected <= epsilon {
			continue
		}

		units, ok := correctionUnits(p.Value, targetValue, effected)
		if ok && units > 0 && (!haveUnits || units < minUnits) {
			minUnits = units
			correcting = p
			haveUnits = true
		}
	}

	if minGlucose == nil || eventualGlucose == nil {
		return nil, ErrNoPrediction
	}

	minTargets, err := targets.ValueAt(minGlucose.Date)
	if err != nil {
		return nil, fmt.Errorf("dosing: target at %s: %w", minGlucose.Date.Format(time.RFC3339), err)
	}
	eventualTargets, err := targets.ValueAt(eventualGlucose.Date)
	if err != nil {
		return nil, fmt.Errorf("dosing: target at %s: %w", eventualGlucose.Date.Format(time.RFC3339), err)
	}

	switch {
	case eventualGlucose.Value < minTargets.Min && minGlucose.Value < minTargets.Min:
		isf, err := sensitivity.ValueAt(minGlucose.Date)
		if err != nil {
			return nil, fmt.Errorf("dosing: sensitivity at %s: %w", minGlucose.Date.Format(time.RFC3339), err)
		}
		percentEffected := math.Max(epsilon, 1-insulin.PercentEffectRemainingAt(model, minGlucose.Date.Sub(now)))
		units, _ := correctionUnits(minGlucose.Value, minTargets.Average(), isf*percentEffected)
		return EntirelyBelowRange{Min: *minGlucose, MinTarget: minTargets.Min, Amount: units}, nil

	case eventualGlucose.Value > eventualTargets.Max && haveUnits:
		return AboveRange{Min: *minGlucose, Correcting: *correcting, MinTarget: minTargets.Min, Amount: minUnits}, nil
	}
	return InRange{}, nil
}

// epsilon is the double-precision machine epsilon
const epsilon = 2.220446049250313e-16
