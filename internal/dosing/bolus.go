package dosing

import (
	"math"
	"time"

	"github.com/mrcode/loopsim/internal/models"
)

// volumeSlack keeps exact multiples from flooring one increment low
const volumeSlack = 1e-9

// RoundBolus rounds units down to a deliverable multiple of increment
func RoundBolus(units, increment float64) float64 {
	if increment <= 0 {
		return units
	}
	factor := 1 / increment
	return math.Floor(units*factor+volumeSlack) / factor
}

// PendingInsulin returns insulin already committed but not yet delivered:
// the remainder of a running temp basal above the scheduled rate plus any
// unconfirmed bolus.
func PendingInsulin(now time.Time, scheduledRate float64, lastTempBasal *models.TempBasal, pendingBolus float64) float64 {
	pendingTemp := 0.0
	if lastTempBasal != nil && lastTempBasal.End().After(now) {
		remaining := lastTempBasal.End().Sub(now)
		pendingTemp = math.Max(0, (lastTempBasal.Rate-scheduledRate)*remaining.Hours())
	}
	return pendingTemp + pendingBolus
}

// AsBolus converts a correction into a bolus, net of pending insulin and
// clamped to [0, maxBolus].
func AsBolus(c Correction, pendingInsulin, maxBolus, increment float64, currentGlucose *models.PredictedGlucose) models.BolusRecommendation {
	units := c.Units() - pendingInsulin
	units = math.Min(maxBolus, math.Max(0, units))
	units = RoundBolus(units, increment)

	return models.BolusRecommendation{
		Amount:         units,
		PendingInsulin: pendingInsulin,
		Notice:         bolusNotice(c, currentGlucose),
	}
}

func bolusNotice(c Correction, currentGlucose *models.PredictedGlucose) *models.BolusNotice {
	switch c := c.(type) {
	case Suspend:
		return &models.BolusNotice{Kind: models.NoticeGlucoseBelowSuspendThreshold, Glucose: c.Min}
	case EntirelyBelowRange:
		if currentGlucose != nil && currentGlucose.Value < c.MinTarget {
			return &models.BolusNotice{Kind: models.NoticeCurrentGlucoseBelowTarget, Glucose: *currentGlucose}
		}
		return &models.BolusNotice{Kind: models.NoticePredictedGlucoseBelowTarget, Glucose: c.Min}
	case AboveRange:
		if c.Min.Value < c.MinTarget {
			return &models.BolusNotice{Kind: models.NoticePredictedGlucoseBelowTarget, Glucose: c.Min}
		}
	}
	return nil
}
