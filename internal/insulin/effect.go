package insulin

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
	"github.com/mrcode/loopsim/internal/timegrid"
)

// Doses longer than this multiple of the grid delta are integrated as
// continuous delivery instead of being treated as a single bolus.
const continuousDeliveryThreshold = 1.05

// GlucoseEffects superposes every dose's activity curve into one cumulative
// glucose effect curve on the delta grid. Zero start or end default to the
// dose span, with the end extended by the model's total duration.
func GlucoseEffects(doses []models.DoseEntry, sensitivity schedule.SensitivitySchedule, model Model, delta time.Duration, start, end time.Time) ([]models.GlucoseEffect, error) {
	if len(doses) == 0 || sensitivity.Len() == 0 {
		return nil, nil
	}

	// sensitivity is fixed at each dose's start
	isfs := make([]float64, len(doses))
	for i, dose := range doses {
		isf, err := sensitivity.ValueAt(dose.Start)
		if err != nil {
			if errors.Is(err, schedule.ErrEmptySchedule) {
				return nil, nil
			}
			return nil, fmt.Errorf("insulin: sensitivity at %s: %w", dose.Start.Format(time.RFC3339), err)
		}
		isfs[i] = isf
	}

	grid := doseGrid(doses, model, delta, start, end)
	effects := make([]models.GlucoseEffect, 0, len(grid))
	for _, date := range grid {
		value := 0.0
		for i, dose := range doses {
			value += doseGlucoseEffect(dose, date, isfs[i], model, delta)
		}
		effects = append(effects, models.GlucoseEffect{Date: date, Value: value})
	}
	return effects, nil
}

// InsulinOnBoard returns the net insulin still active on the delta grid
func InsulinOnBoard(doses []models.DoseEntry, model Model, delta time.Duration, start, end time.Time) []models.InsulinValue {
	if len(doses) == 0 {
		return nil
	}

	grid := doseGrid(doses, model, delta, start, end)
	values := make([]models.InsulinValue, 0, len(grid))
	for _, date := range grid {
		value := 0.0
		for _, dose := range doses {
			value += doseInsulinOnBoard(dose, date, model, delta)
		}
		values = append(values, models.InsulinValue{Date: date, Value: value})
	}
	return values
}

func doseGrid(doses []models.DoseEntry, model Model, delta time.Duration, start, end time.Time) []time.Time {
	if start.IsZero() {
		start = doses[0].Start
		for _, d := range doses[1:] {
			if d.Start.Before(start) {
				start = d.Start
			}
		}
	}
	if end.IsZero() {
		end = doses[0].End
		for _, d := range doses[1:] {
			if d.End.After(end) {
				end = d.End
			}
		}
		end = end.Add(TotalDuration(model))
	}
	return timegrid.Range(timegrid.Floor(start, delta), timegrid.Ceil(end, delta), delta)
}

func doseGlucoseEffect(dose models.DoseEntry, date time.Time, isf float64, model Model, delta time.Duration) float64 {
	units := dose.NetUnits()
	if units == 0 {
		return 0
	}
	elapsed := timegrid.ElapsedMinutes(date, dose.Start)
	if elapsed < 0 {
		return 0
	}
	delay := model.EffectDelay().Minutes()

	if isInstantaneous(dose, delta) {
		return -units * isf * PercentEffected(model, elapsed-delay)
	}
	percent := continuousDelivery(elapsed, dose.Duration().Minutes(), delta.Minutes(), delay, func(minutes float64) float64 {
		return PercentEffected(model, minutes)
	})
	return -units * isf * percent
}

func doseInsulinOnBoard(dose models.DoseEntry, date time.Time, model Model, delta time.Duration) float64 {
	units := dose.NetUnits()
	if units == 0 {
		return 0
	}
	elapsed := timegrid.ElapsedMinutes(date, dose.Start)
	if elapsed < 0 {
		return 0
	}
	delay := model.EffectDelay().Minutes()

	if isInstantaneous(dose, delta) {
		return units * model.PercentEffectRemaining(elapsed-delay)
	}
	return units * continuousDelivery(elapsed, dose.Duration().Minutes(), delta.Minutes(), delay, model.PercentEffectRemaining)
}

func isInstantaneous(dose models.DoseEntry, delta time.Duration) bool {
	return float64(dose.Duration()) <= continuousDeliveryThreshold*float64(delta)
}

// continuousDelivery integrates curve over a dose split into delta-long
// segments, each weighted by its share of the total duration. Only
// segments delivered by elapsed are counted.
func continuousDelivery(elapsed, duration, delta, delay float64, curve func(float64) float64) float64 {
	limit := math.Min(math.Floor(elapsed/delta)*delta, duration)
	value := 0.0
	for doseDate := 0.0; ; doseDate += delta {
		var segment float64
		if doseDate+delta > duration {
			segment = math.Max(0, duration-doseDate) / duration
		} else {
			segment = delta / duration
		}
		value += segment * curve(elapsed-delay-doseDate)
		if doseDate+delta > limit {
			break
		}
	}
	return value
}
