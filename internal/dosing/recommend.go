package dosing

import (
	"fmt"
	"time"

	"github.com/mrcode/loopsim/internal/insulin"
	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
)

// Schedules are the therapy schedules consulted when dosing
type Schedules struct {
	Basal       schedule.BasalSchedule
	Sensitivity schedule.SensitivitySchedule
	Targets     schedule.TargetSchedule
}

// PumpState is what the pump is currently doing
type PumpState struct {
	LastTempBasal *models.TempBasal
	PendingBolus  float64
}

// RecommendTempBasal decides the correction over the prediction and turns
// it into a temp basal filtered against the running one.
func RecommendTempBasal(prediction []models.PredictedGlucose, now time.Time, s *models.Settings, sched Schedules, model insulin.Model, pump PumpState) (models.DoseRecommendation, Correction, error) {
	c, err := InsulinCorrection(prediction, now, s.SuspendThreshold, sched.Sensitivity, sched.Targets, model)
	if err != nil {
		return models.NoRecommendation(), nil, err
	}

	scheduled, err := sched.Basal.ValueAt(now)
	if err != nil {
		return models.NoRecommendation(), nil, fmt.Errorf("dosing: basal rate: %w", err)
	}

	temp := AsTempBasal(c, scheduled, s.MaxBasalRate, s.TempBasalDuration, s.RateIncrement)
	return IfNecessary(temp, now, scheduled, pump.LastTempBasal, s.ContinuationInterval), c, nil
}

// RecommendBolus decides the correction over the prediction and turns it
// into a bolus net of insulin the pump still owes.
func RecommendBolus(prediction []models.PredictedGlucose, now time.Time, s *models.Settings, sched Schedules, model insulin.Model, pump PumpState) (models.BolusRecommendation, error) {
	c, err := InsulinCorrection(prediction, now, s.SuspendThreshold, sched.Sensitivity, sched.Targets, model)
	if err != nil {
		return models.BolusRecommendation{}, err
	}

	scheduled, err := sched.Basal.ValueAt(now)
	if err != nil {
		return models.BolusRecommendation{}, fmt.Errorf("dosing: basal rate: %w", err)
	}

	var current *models.PredictedGlucose
	if len(prediction) > 0 {
		current = &prediction[0]
	}

	pending := PendingInsulin(now, scheduled, pump.LastTempBasal, pump.PendingBolus)
	return AsBolus(c, pending, s.MaxBolus, s.BolusIncrement, current), nil
}
