package dosing

import (
	"math"
	"time"

	"github.com/mrcode/loopsim/internal/models"
)

// RoundRate rounds rate to the nearest multiple of increment by scaling
// with the reciprocal. A non-positive increment disables rounding.
func RoundRate(rate, increment float64) float64 {
	if increment <= 0 {
		return rate
	}
	factor := 1 / increment
	return math.Round(rate*factor) / factor
}

// AsTempBasal converts a correction into a temp basal delivering its units
// over duration on top of the scheduled rate. Suspend always yields zero.
func AsTempBasal(c Correction, scheduledRate, maxBasalRate float64, duration time.Duration, increment float64) models.TempBasal {
	rate := 0.0
	if c.Kind() != KindSuspend {
		rate = scheduledRate + c.Units()/duration.Hours()
	}
	rate = math.Min(maxBasalRate, math.Max(0, rate))
	rate = RoundRate(rate, increment)
	return models.TempBasal{Rate: rate, Duration: duration}
}

func matchesRate(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// IfNecessary filters a temp basal against what the pump is already doing.
// A running temp at the same rate with more than continuationInterval left
// is kept. A recommendation at the scheduled rate cancels a running temp,
// or does nothing when no temp is running.
func IfNecessary(rec models.TempBasal, now time.Time, scheduledRate float64, lastTempBasal *models.TempBasal, continuationInterval time.Duration) models.DoseRecommendation {
	if lastTempBasal != nil && lastTempBasal.End().After(now) {
		if matchesRate(rec.Rate, lastTempBasal.Rate) && lastTempBasal.End().Sub(now) > continuationInterval {
			return models.NoRecommendation()
		} else if matchesRate(rec.Rate, scheduledRate) {
			return models.CancelRecommendation()
		}
	} else if matchesRate(rec.Rate, scheduledRate) {
		return models.NoRecommendation()
	}
	return models.SetRecommendation(rec.Rate, rec.Duration)
}
