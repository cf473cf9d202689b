package carbs

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
	"github.com/mrcode/loopsim/internal/timegrid"
)

// Settings is the subset of engine configuration the carb composers read
type Settings struct {
	Model             AbsorptionModel
	Delay             time.Duration
	AbsorptionOverrun float64
	Delta             time.Duration
}

// SettingsFrom extracts the carb composer settings from the resolved engine settings
func SettingsFrom(s *models.Settings) Settings {
	return Settings{
		Model:             ModelFor(s.CarbModel),
		Delay:             s.CarbDelay,
		AbsorptionOverrun: s.AbsorptionOverrun,
		Delta:             s.Delta,
	}
}

// CarbSensitivity returns mg/dL per gram at t
func CarbSensitivity(t time.Time, ratios schedule.CarbRatioSchedule, sensitivity schedule.SensitivitySchedule) (float64, error) {
	isf, err := sensitivity.ValueAt(t)
	if err != nil {
		return 0, err
	}
	cr, err := ratios.ValueAt(t)
	if err != nil {
		return 0, err
	}
	if cr <= 0 {
		return 0, fmt.Errorf("carbs: carb ratio %v at %s: %w", cr, t.Format(time.RFC3339), models.ErrInvalidSettings)
	}
	return isf / cr, nil
}

// absorbed returns grams absorbed from one entry at date under the static curve
func absorbed(entry models.CarbEntry, date time.Time, s Settings) float64 {
	minutes := timegrid.ElapsedMinutes(date, entry.Start) - s.Delay.Minutes()
	return AbsorbedCarbs(s.Model, entry.Grams, minutes, entry.AbsorptionTime.Minutes())
}

// onBoard returns grams remaining from one entry at date under the static curve
func onBoard(entry models.CarbEntry, date time.Time, s Settings) float64 {
	if date.Before(entry.Start) {
		return 0
	}
	minutes := timegrid.ElapsedMinutes(date, entry.Start) - s.Delay.Minutes()
	return UnabsorbedCarbs(s.Model, entry.Grams, minutes, entry.AbsorptionTime.Minutes())
}

// GlucoseEffects returns the cumulative carb effect assuming each entry
// absorbs along the static curve. Entries must have absorption times resolved.
func GlucoseEffects(entries []models.CarbEntry, ratios schedule.CarbRatioSchedule, sensitivity schedule.SensitivitySchedule, s Settings, start, end time.Time) ([]models.GlucoseEffect, error) {
	if len(entries) == 0 || ratios.Len() == 0 || sensitivity.Len() == 0 {
		return nil, nil
	}

	csfs, err := sensitivities(entries, ratios, sensitivity)
	if err != nil || csfs == nil {
		return nil, err
	}

	grid := entryGrid(entries, s, 1, start, end)
	effects := make([]models.GlucoseEffect, 0, len(grid))
	for _, date := range grid {
		value := 0.0
		for i, entry := range entries {
			value += csfs[i] * absorbed(entry, date, s)
		}
		effects = append(effects, models.GlucoseEffect{Date: date, Value: value})
	}
	return effects, nil
}

// CarbsOnBoard returns the static carbs-on-board timeline
func CarbsOnBoard(entries []models.CarbEntry, s Settings, start, end time.Time) []models.CarbValue {
	if len(entries) == 0 {
		return nil
	}

	grid := entryGrid(entries, s, 1, start, end)
	values := make([]models.CarbValue, 0, len(grid))
	for _, date := range grid {
		value := 0.0
		for _, entry := range entries {
			value += onBoard(entry, date, s)
		}
		values = append(values, models.CarbValue{Date: date, Value: value})
	}
	return values
}

func sensitivities(entries []models.CarbEntry, ratios schedule.CarbRatioSchedule, sensitivity schedule.SensitivitySchedule) ([]float64, error) {
	csfs := make([]float64, len(entries))
	for i, entry := range entries {
		csf, err := CarbSensitivity(entry.Start, ratios, sensitivity)
		if err != nil {
			if errors.Is(err, schedule.ErrEmptySchedule) {
				return nil, nil
			}
			return nil, fmt.Errorf("carbs: sensitivity at %s: %w", entry.Start.Format(time.RFC3339), err)
		}
		csfs[i] = csf
	}
	return csfs, nil
}

// entryGrid spans the entries through their absorption, scaled by overrun
func entryGrid(entries []models.CarbEntry, s Settings, overrun float64, start, end time.Time) []time.Time {
	if start.IsZero() {
		start = entries[0].Start
		for _, e := range entries[1:] {
			if e.Start.Before(start) {
				start = e.Start
			}
		}
	}
	if end.IsZero() {
		for _, e := range entries {
			entryEnd := e.Start.Add(time.Duration(float64(e.AbsorptionTime)*overrun) + s.Delay)
			if entryEnd.After(end) {
				end = entryEnd
			}
		}
	}
	return timegrid.Range(timegrid.Floor(start, s.Delta), timegrid.Ceil(end, s.Delta), s.Delta)
}
