package glucose

import (
	"sort"
	"time"

	"github.com/mrcode/loopsim/internal/models"
)

// PredictGlucose adds the change of each effect curve to the starting
// glucose. Each curve contributes its deltas from its own first point;
// changes at or before the starting sample are dropped.
func PredictGlucose(start models.GlucoseSample, effects ...[]models.GlucoseEffect) []models.PredictedGlucose {
	deltas := make(map[int64]float64)
	dates := make(map[int64]time.Time)

	for _, timeline := range effects {
		if len(timeline) == 0 {
			continue
		}
		previous := timeline[0].Value
		for _, effect := range timeline {
			key := effect.Date.UnixNano()
			deltas[key] += effect.Value - previous
			dates[key] = effect.Date
			previous = effect.Value
		}
	}

	keys := make([]int64, 0, len(deltas))
	for key := range deltas {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	prediction := []models.PredictedGlucose{{Date: start.Date, Value: start.Value}}
	for _, key := range keys {
		date := dates[key]
		if !date.After(start.Date) {
			continue
		}
		last := prediction[len(prediction)-1].Value
		prediction = append(prediction, models.PredictedGlucose{Date: date, Value: last + deltas[key]})
	}
	return prediction
}

// ExtendToDuration holds the final predicted value flat until the
// prediction covers duration from its first point.
func ExtendToDuration(prediction []models.PredictedGlucose, duration, delta time.Duration) []models.PredictedGlucose {
	if len(prediction) == 0 || delta <= 0 {
		return prediction
	}
	horizon := prediction[0].Date.Add(duration)
	last := prediction[len(prediction)-1]
	for date := last.Date.Add(delta); last.Date.Before(horizon); date = date.Add(delta) {
		last = models.PredictedGlucose{Date: date, Value: last.Value}
		prediction = append(prediction, last)
	}
	return prediction
}

// ThresholdTimes returns minutes from now until the prediction first
// crosses high and low, interpolating between points. -1 means no crossing.
func ThresholdTimes(prediction []models.PredictedGlucose, high, low float64, now time.Time) (highIn, lowIn float64) {
	highIn = -1
	lowIn = -1

	for i, p := range prediction {
		minutes := p.Date.Sub(now).Minutes()

		if highIn < 0 && p.Value >= high {
			if i > 0 {
				prev := prediction[i-1]
				if prev.Value < high {
					ratio := (high - prev.Value) / (p.Value - prev.Value)
					prevMin := prev.Date.Sub(now).Minutes()
					highIn = prevMin + ratio*(minutes-prevMin)
				}
			} else {
				highIn = minutes
			}
		}

		if lowIn < 0 && p.Value <= low {
			if i > 0 {
				prev := prediction[i-1]
				if prev.Value > low {
					ratio := (prev.Value - low) / (prev.Value - p.Value)
					prevMin := prev.Date.Sub(now).Minutes()
					lowIn = prevMin + ratio*(minutes-prevMin)
				}
			} else {
				lowIn = minutes
			}
		}

		if highIn >= 0 && lowIn >= 0 {
			break
		}
	}
	return highIn, lowIn
}
