package glucose

import (
	"time"

	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/timegrid"
)

// groupingSlack widens the summing window so the bucket's far edge is not
// lost to float drift.
const groupingSlack = 1.01

// RetrospectiveSettings configures retrospective correction
type RetrospectiveSettings struct {
	GroupingInterval time.Duration
	EffectDuration   time.Duration
	RecencyInterval  time.Duration
	Delta            time.Duration
}

// RetrospectiveResult carries the correction effect and the discrepancy that produced it
type RetrospectiveResult struct {
	Effect        []models.GlucoseEffect
	Discrepancies []models.GlucoseChange
	Current       *models.GlucoseChange
	Velocity      float64 // mg/dL/min
}

// Subtracting converts counteraction velocities to per-interval changes over
// a uniform interval and subtracts the carb effect change ending at or after
// each velocity. Carb steps that fall in a gap between velocities are
// skipped. Velocities left over after the carb effect ends are kept unadjusted.
func Subtracting(velocities []models.GlucoseEffectVelocity, carbEffects []models.GlucoseEffect, interval time.Duration) []models.GlucoseChange {
	if len(velocities) == 0 {
		return nil
	}

	others := carbEffects
	for len(others) > 0 && others[0].Date.Before(velocities[0].End) {
		others = others[1:]
	}
	effects := velocities
	if len(others) > 0 {
		for len(effects) > 0 && effects[0].End.Before(others[0].Date) {
			effects = effects[1:]
		}
	}

	minutes := interval.Minutes()
	changes := make([]models.GlucoseChange, 0, len(effects))
	idx := 0
	if len(others) > 0 {
		previous := others[0].Value
		for _, other := range others[1:] {
			if idx >= len(effects) {
				break
			}
			otherChange := other.Value - previous
			previous = other.Value
			// carb steps inside a glucose gap belong to no velocity
			if other.Date.Before(effects[idx].End) {
				continue
			}
			changes = append(changes, models.GlucoseChange{
				Start: effects[idx].Start,
				End:   other.Date,
				Value: effects[idx].Velocity*minutes - otherChange,
			})
			idx++
		}
	}
	for ; idx < len(effects); idx++ {
		changes = append(changes, models.GlucoseChange{
			Start: effects[idx].Start,
			End:   effects[idx].End,
			Value: effects[idx].Velocity * minutes,
		})
	}
	return changes
}

// CombinedSums returns, for each change, the sum of all changes ending within
// duration before it. Bucket membership is closed-open: end-duration < e <= end.
func CombinedSums(changes []models.GlucoseChange, duration time.Duration) []models.GlucoseChange {
	sums := make([]models.GlucoseChange, len(changes))
	first := 0
	for i, change := range changes {
		for first < i && !changes[first].End.After(change.End.Add(-duration)) {
			first++
		}
		sum := models.GlucoseChange{Start: change.Start, End: change.End}
		for j := first; j <= i; j++ {
			if changes[j].Start.Before(sum.Start) {
				sum.Start = changes[j].Start
			}
			sum.Value += changes[j].Value
		}
		sums[i] = sum
	}
	return sums
}

// DecayEffect projects a velocity that decays linearly to zero over
// duration, starting from the latest glucose value.
func DecayEffect(latest models.GlucoseSample, velocity float64, duration, delta time.Duration) []models.GlucoseEffect {
	start := timegrid.Floor(latest.Date, delta)
	end := timegrid.Ceil(latest.Date.Add(duration), delta)
	decayStart := start.Add(delta)

	intercept := velocity
	slope := -intercept / (duration - delta).Minutes()
	step := delta.Minutes()

	effects := []models.GlucoseEffect{{Date: start, Value: latest.Value}}
	value := latest.Value
	for date := decayStart; date.Before(end); date = date.Add(delta) {
		value += (intercept + slope*timegrid.ElapsedMinutes(date, decayStart)) * step
		effects = append(effects, models.GlucoseEffect{Date: date, Value: value})
	}
	return effects
}

// RetrospectiveCorrection projects the recent unexplained glucose change
// forward as a decaying effect. Discrepancies older than the recency
// interval produce no effect.
func RetrospectiveCorrection(latest models.GlucoseSample, velocities []models.GlucoseEffectVelocity, carbEffects []models.GlucoseEffect, s RetrospectiveSettings, now time.Time) RetrospectiveResult {
	discrepancies := Subtracting(velocities, carbEffects, s.Delta)
	summed := CombinedSums(discrepancies, time.Duration(float64(s.GroupingInterval)*groupingSlack))

	result := RetrospectiveResult{Discrepancies: summed}
	if len(summed) == 0 {
		return result
	}
	current := summed[len(summed)-1]
	if now.Sub(current.End) > s.RecencyInterval {
		return result
	}

	result.Current = &current
	result.Velocity = current.Value / s.GroupingInterval.Minutes()
	result.Effect = DecayEffect(latest, result.Velocity, s.EffectDuration, s.Delta)
	return result
}
