package carbs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
	"github.com/mrcode/loopsim/internal/timegrid"
)

// effectEpsilon absorbs float remainders when splitting observed effect (Float32 ulp of one)
const effectEpsilon = 1.1920929e-07

// AbsorbedCarbValue describes how much of an entry has been absorbed and how
// long the rest is expected to take.
type AbsorbedCarbValue struct {
	Observed                  float64       `json:"observed"` // g
	Clamped                   float64       `json:"clamped"`  // g
	Total                     float64       `json:"total"`    // g
	Remaining                 float64       `json:"remaining"`
	ObservationStart          time.Time     `json:"observationStart"`
	ObservationEnd            time.Time     `json:"observationEnd"`
	EstimatedTimeRemaining    time.Duration `json:"estimatedTimeRemaining"`
	TimeToAbsorbObservedCarbs time.Duration `json:"timeToAbsorbObservedCarbs"`
}

// EstimatedDuration is the total expected absorption time from observation start
func (v AbsorbedCarbValue) EstimatedDuration() time.Duration {
	return v.TimeToAbsorbObservedCarbs + v.EstimatedTimeRemaining
}

// Status is the dynamic absorption state of one carb entry
type Status struct {
	Entry            models.CarbEntry       `json:"entry"`
	CarbSensitivity  float64                `json:"carbSensitivity"` // mg/dL per g
	Absorption       *AbsorbedCarbValue     `json:"absorption,omitempty"`
	ObservedTimeline []models.AbsorbedCarbs `json:"observedTimeline,omitempty"`
}

// statusBuilder accumulates observed effect for one entry while walking velocities
type statusBuilder struct {
	entry             models.CarbEntry
	carbSensitivity   float64
	maxAbsorptionTime time.Duration
	delay             time.Duration
	maxEndDate        time.Time
	lastVelocityEnd   time.Time

	observedEffect   float64
	observedTimeline []models.AbsorbedCarbs
	completionDate   time.Time
	completed        bool
}

func newStatusBuilder(entry models.CarbEntry, csf float64, s Settings) *statusBuilder {
	maxAbsorption := time.Duration(float64(entry.AbsorptionTime) * s.AbsorptionOverrun)
	return &statusBuilder{
		entry:             entry,
		carbSensitivity:   csf,
		maxAbsorptionTime: maxAbsorption,
		delay:             s.Delay,
		maxEndDate:        entry.Start.Add(maxAbsorption + s.Delay),
	}
}

// entryEffect is the total glucose rise the entry is expected to cause
func (b *statusBuilder) entryEffect() float64 {
	return b.entry.Grams * b.carbSensitivity
}

func (b *statusBuilder) remainingEffect() float64 {
	return math.Max(b.entryEffect()-b.observedEffect, 0)
}

// minAbsorptionRate is in grams per minute
func (b *statusBuilder) minAbsorptionRate() float64 {
	minutes := b.maxAbsorptionTime.Minutes()
	if minutes <= 0 {
		return 0
	}
	return b.entry.Grams / minutes
}

func (b *statusBuilder) addNextEffect(effect float64, start, end time.Time) {
	if start.Before(b.entry.Start) {
		return
	}
	b.observedEffect += effect

	if b.completed {
		return
	}
	grams := 0.0
	if b.carbSensitivity > 0 {
		grams = effect / b.carbSensitivity
	}
	b.observedTimeline = append(b.observedTimeline, models.AbsorbedCarbs{Start: start, End: end, Grams: grams})
	if b.observedEffect+effectEpsilon >= b.entryEffect() {
		b.completionDate = end
		b.completed = true
	}
}

func (b *statusBuilder) lastEffectDate() time.Time {
	bound := b.maxEndDate
	if b.completed {
		bound = b.completionDate
	}
	observed := b.lastVelocityEnd
	if observed.Before(b.entry.Start) {
		observed = b.entry.Start
	}
	if bound.Before(observed) {
		return bound
	}
	return observed
}

func (b *statusBuilder) observedGrams() float64 {
	if b.carbSensitivity <= 0 {
		return 0
	}
	return b.observedEffect / b.carbSensitivity
}

// minPredictedGrams is the floor from absorbing at the minimum rate
func (b *statusBuilder) minPredictedGrams() float64 {
	minutes := timegrid.ElapsedMinutes(b.lastEffectDate(), b.entry.Start) - b.delay.Minutes()
	return AbsorbedCarbs(Linear{}, b.entry.Grams, minutes, b.maxAbsorptionTime.Minutes())
}

func (b *statusBuilder) status() Status {
	st := Status{Entry: b.entry, CarbSensitivity: b.carbSensitivity}
	if b.entryEffect() <= 0 {
		return st
	}

	observed := b.observedGrams()
	minPredicted := b.minPredictedGrams()
	clamped := math.Min(b.entry.Grams, math.Max(minPredicted, observed))

	var remaining time.Duration
	if rate := b.minAbsorptionRate(); rate > 0 {
		remaining = time.Duration((b.entry.Grams - clamped) / rate * float64(time.Minute))
	}
	lastEffect := b.lastEffectDate()
	toAbsorb := lastEffect.Sub(b.entry.Start) - b.delay
	if toAbsorb < 0 {
		toAbsorb = 0
	}

	st.Absorption = &AbsorbedCarbValue{
		Observed:                  observed,
		Clamped:                   clamped,
		Total:                     b.entry.Grams,
		Remaining:                 b.entry.Grams - clamped,
		ObservationStart:          b.entry.Start.Add(b.delay),
		ObservationEnd:            lastEffect,
		EstimatedTimeRemaining:    remaining,
		TimeToAbsorbObservedCarbs: toAbsorb,
	}
	if observed >= minPredicted {
		st.ObservedTimeline = b.observedTimeline
	}
	return st
}

// MapAbsorption attributes observed counteraction velocities to the carb
// entries absorbing at the time, in chronological order. Each interval's
// effect is split across active entries in proportion to their minimum
// absorption rates; any remainder goes to the last active entry.
// Entries must have absorption times resolved.
func MapAbsorption(entries []models.CarbEntry, velocities []models.GlucoseEffectVelocity, ratios schedule.CarbRatioSchedule, sensitivity schedule.SensitivitySchedule, s Settings) ([]Status, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if ratios.Len() == 0 || sensitivity.Len() == 0 {
		return nil, nil
	}

	builders := make([]*statusBuilder, len(entries))
	for i, entry := range entries {
		csf, err := CarbSensitivity(entry.Start, ratios, sensitivity)
		if err != nil {
			if errors.Is(err, schedule.ErrEmptySchedule) {
				return nil, nil
			}
			return nil, fmt.Errorf("carbs: sensitivity at %s: %w", entry.Start.Format(time.RFC3339), err)
		}
		builders[i] = newStatusBuilder(entry, csf, s)
		if len(velocities) > 0 {
			builders[i].lastVelocityEnd = velocities[len(velocities)-1].End
		}
	}

	active := make([]*statusBuilder, 0, len(builders))
	for _, v := range velocities {
		if !v.End.After(v.Start) {
			continue
		}

		active = active[:0]
		for _, b := range builders {
			if v.Start.Before(b.maxEndDate) && !v.Start.Before(b.entry.Start) {
				active = append(active, b)
			}
		}
		if len(active) == 0 {
			continue
		}

		// negative velocities are insulin overestimation, not carbs
		effectValue := math.Max(0, v.Effect())
		totalRate := 0.0
		for _, b := range active {
			totalRate += b.minAbsorptionRate()
		}

		last := active[len(active)-1]
		for _, b := range active {
			partial := 0.0
			if totalRate > 0 {
				partial = math.Min(b.remainingEffect(), b.minAbsorptionRate()/totalRate*effectValue)
			}
			totalRate -= b.minAbsorptionRate()
			effectValue -= partial
			b.addNextEffect(partial, v.Start, v.End)

			if b == last && effectValue > effectEpsilon {
				b.addNextEffect(effectValue, v.Start, v.End)
			}
		}
	}

	statuses := make([]Status, len(builders))
	for i, b := range builders {
		statuses[i] = b.status()
	}
	return statuses, nil
}

// DynamicCarbsOnBoard returns grams remaining for the entry at date, using
// observed absorption where it exists and falling back to the static curve.
func (st Status) DynamicCarbsOnBoard(date time.Time, s Settings) float64 {
	if date.Before(st.Entry.Start.Add(-s.Delta)) || st.Absorption == nil {
		return onBoard(st.Entry, date, s)
	}
	abs := st.Absorption

	if len(st.ObservedTimeline) == 0 {
		minutes := timegrid.ElapsedMinutes(date, st.Entry.Start) - s.Delay.Minutes()
		return UnabsorbedCarbs(Linear{}, abs.Total, minutes, abs.EstimatedDuration().Minutes())
	}

	if date.After(abs.ObservationEnd) {
		effective := date.Sub(abs.ObservationEnd) + abs.TimeToAbsorbObservedCarbs
		unabsorbed := UnabsorbedCarbs(Linear{}, abs.Total, effective.Minutes(), abs.EstimatedDuration().Minutes())
		return math.Max(unabsorbed, 0)
	}

	total := st.Entry.Grams
	for _, value := range st.ObservedTimeline {
		if !value.End.After(date) {
			total -= value.Grams
		}
	}
	return math.Max(total, 0)
}

// DynamicAbsorbedCarbs returns grams absorbed by the entry at date
func (st Status) DynamicAbsorbedCarbs(date time.Time, s Settings) float64 {
	if date.Before(st.Entry.Start) || st.Absorption == nil {
		return absorbed(st.Entry, date, s)
	}
	return st.Entry.Grams - st.DynamicCarbsOnBoard(date, s)
}

// DynamicGlucoseEffects returns the cumulative carb effect implied by the
// dynamic absorption statuses.
func DynamicGlucoseEffects(statuses []Status, s Settings, start, end time.Time) []models.GlucoseEffect {
	if len(statuses) == 0 {
		return nil
	}

	grid := entryGrid(statusEntries(statuses), s, s.AbsorptionOverrun, start, end)
	effects := make([]models.GlucoseEffect, 0, len(grid))
	for _, date := range grid {
		value := 0.0
		for _, st := range statuses {
			value += st.CarbSensitivity * st.DynamicAbsorbedCarbs(date, s)
		}
		effects = append(effects, models.GlucoseEffect{Date: date, Value: value})
	}
	return effects
}

// DynamicCarbsOnBoard returns the carbs-on-board timeline implied by the statuses
func DynamicCarbsOnBoard(statuses []Status, s Settings, start, end time.Time) []models.CarbValue {
	if len(statuses) == 0 {
		return nil
	}

	grid := entryGrid(statusEntries(statuses), s, s.AbsorptionOverrun, start, end)
	values := make([]models.CarbValue, 0, len(grid))
	for _, date := range grid {
		value := 0.0
		for _, st := range statuses {
			value += st.DynamicCarbsOnBoard(date, s)
		}
		values = append(values, models.CarbValue{Date: date, Value: value})
	}
	return values
}

func statusEntries(statuses []Status) []models.CarbEntry {
	entries := make([]models.CarbEntry, len(statuses))
	for i, st := range statuses {
		entries[i] = st.Entry
	}
	return entries
}
