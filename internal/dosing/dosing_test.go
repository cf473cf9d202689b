package dosing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/loopsim/internal/insulin"
	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var (
	model       = insulin.AdultRapidActing()
	sensitivity = schedule.Constant(50.0)
	targets     = schedule.Constant(models.TargetRange{Min: 100, Max: 120})
)

func flatPrediction(value float64) []models.PredictedGlucose {
	window := insulin.TotalDuration(model)
	var prediction []models.PredictedGlucose
	for d := time.Duration(0); d <= window; d += 5 * time.Minute {
		prediction = append(prediction, models.PredictedGlucose{Date: now.Add(d), Value: value})
	}
	return prediction
}

func TestTargetGlucoseValue(t *testing.T) {
	assert.Equal(t, 100.0, TargetGlucoseValue(0, 100, 120))
	assert.Equal(t, 100.0, TargetGlucoseValue(0.5, 100, 120))
	assert.InDelta(t, 110.0, TargetGlucoseValue(0.75, 100, 120), 1e-9)
	assert.Equal(t, 120.0, TargetGlucoseValue(1, 100, 120))
	assert.Equal(t, 120.0, TargetGlucoseValue(1.2, 100, 120))
}

func TestInsulinCorrectionSuspendDominates(t *testing.T) {
	prediction := flatPrediction(250)
	prediction[40].Value = 65

	c, err := InsulinCorrection(prediction, now, 70, sensitivity, targets, model)
	require.NoError(t, err)
	require.Equal(t, KindSuspend, c.Kind())

	suspend := c.(Suspend)
	assert.Equal(t, 65.0, suspend.Min.Value)
	assert.Zero(t, c.Units())
}

func TestInsulinCorrectionInRange(t *testing.T) {
	c, err := InsulinCorrection(flatPrediction(110), now, 70, sensitivity, targets, model)
	require.NoError(t, err)
	assert.Equal(t, KindInRange, c.Kind())
	assert.Zero(t, c.Units())
}

func TestInsulinCorrectionAboveRange(t *testing.T) {
	c, err := InsulinCorrection(flatPrediction(200), now, 70, sensitivity, targets, model)
	require.NoError(t, err)
	require.Equal(t, KindAboveRange, c.Kind())

	above := c.(AboveRange)
	// the full effect at the end of the window corrects 200 to 120 at ISF 50
	assert.InDelta(t, 1.6, above.Amount, 1e-3)
	assert.Equal(t, 100.0, above.MinTarget)
	assert.True(t, above.Correcting.Date.Equal(now.Add(insulin.TotalDuration(model))))
}

func TestInsulinCorrectionEntirelyBelowRange(t *testing.T) {
	c, err := InsulinCorrection(flatPrediction(85), now, 70, sensitivity, targets, model)
	require.NoError(t, err)
	require.Equal(t, KindEntirelyBelowRange, c.Kind())

	below := c.(EntirelyBelowRange)
	assert.True(t, below.Min.Date.Equal(now))
	assert.Less(t, below.Amount, 0.0)
}

func TestInsulinCorrectionNoPrediction(t *testing.T) {
	past := []models.PredictedGlucose{{Date: now.Add(-time.Hour), Value: 150}}
	_, err := InsulinCorrection(past, now, 70, sensitivity, targets, model)
	assert.ErrorIs(t, err, ErrNoPrediction)

	_, err = InsulinCorrection(nil, now, 70, sensitivity, targets, model)
	assert.ErrorIs(t, err, ErrNoPrediction)
}

func TestRoundRate(t *testing.T) {
	increment := 0.025
	for rate := 0.0; rate < 5; rate += 0.0137 {
		rounded := RoundRate(rate, increment)
		assert.LessOrEqual(t, math.Abs(rounded-rate), increment/2+1e-12, "rate %v", rate)
		assert.Equal(t, rounded, RoundRate(rounded, increment), "rate %v", rate)
	}

	assert.Equal(t, 1.2345, RoundRate(1.2345, 0))
	assert.InDelta(t, 1.25, RoundRate(1.2375, 0.05), 1e-12)
}

func TestAsTempBasal(t *testing.T) {
	duration := 30 * time.Minute

	tests := []struct {
		name       string
		correction Correction
		expected   float64
	}{
		{"above range adds units over the duration", AboveRange{Amount: 1}, 3},
		{"clamped to max basal", AboveRange{Amount: 5}, 4},
		{"negative correction clamps to zero", EntirelyBelowRange{Amount: -2}, 0},
		{"in range keeps schedule", InRange{}, 1},
		{"suspend is zero", Suspend{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			temp := AsTempBasal(tt.correction, 1, 4, duration, 0.025)
			assert.InDelta(t, tt.expected, temp.Rate, 1e-9)
			assert.Equal(t, duration, temp.Duration)
		})
	}
}

func TestIfNecessary(t *testing.T) {
	const scheduled = 1.0
	continuation := 11 * time.Minute
	running := func(rate float64, startedAgo time.Duration) *models.TempBasal {
		return &models.TempBasal{Start: now.Add(-startedAgo), Rate: rate, Duration: 30 * time.Minute}
	}

	tests := []struct {
		name     string
		rec      models.TempBasal
		last     *models.TempBasal
		expected models.RecommendationAction
	}{
		{"running at scheduled rate is left alone", models.TempBasal{Rate: scheduled, Duration: 30 * time.Minute}, running(scheduled, 5*time.Minute), models.ActionNone},
		{"scheduled rate near expiry cancels", models.TempBasal{Rate: scheduled, Duration: 30 * time.Minute}, running(scheduled, 25*time.Minute), models.ActionCancel},
		{"return to schedule cancels", models.TempBasal{Rate: scheduled, Duration: 30 * time.Minute}, running(2, 5*time.Minute), models.ActionCancel},
		{"same rate with time left continues", models.TempBasal{Rate: 2, Duration: 30 * time.Minute}, running(2, 10*time.Minute), models.ActionNone},
		{"same rate near expiry is renewed", models.TempBasal{Rate: 2, Duration: 30 * time.Minute}, running(2, 25*time.Minute), models.ActionSet},
		{"no temp at scheduled rate", models.TempBasal{Rate: scheduled, Duration: 30 * time.Minute}, nil, models.ActionNone},
		{"expired temp is ignored", models.TempBasal{Rate: scheduled, Duration: 30 * time.Minute}, running(2, time.Hour), models.ActionNone},
		{"new rate is set", models.TempBasal{Rate: 2.5, Duration: 30 * time.Minute}, nil, models.ActionSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := IfNecessary(tt.rec, now, scheduled, tt.last, continuation)
			assert.Equal(t, tt.expected, rec.Action)
			if tt.expected == models.ActionSet {
				assert.Equal(t, tt.rec.Rate, rec.Rate)
				assert.Equal(t, tt.rec.Duration, rec.Duration)
			}
		})
	}
}

func TestPendingInsulin(t *testing.T) {
	temp := &models.TempBasal{Start: now.Add(-10 * time.Minute), Rate: 2, Duration: 40 * time.Minute}
	assert.InDelta(t, 0.8, PendingInsulin(now, 1, temp, 0.3), 1e-9)

	low := &models.TempBasal{Start: now, Rate: 0, Duration: 30 * time.Minute}
	assert.InDelta(t, 0.3, PendingInsulin(now, 1, low, 0.3), 1e-9, "a low temp never adds pending insulin")

	assert.Zero(t, PendingInsulin(now, 1, nil, 0))
}

func TestAsBolus(t *testing.T) {
	current := &models.PredictedGlucose{Date: now, Value: 180}

	rec := AsBolus(AboveRange{Min: *current, MinTarget: 100, Amount: 2}, 0.8, 10, 0.05, current)
	assert.InDelta(t, 1.2, rec.Amount, 1e-9)
	assert.Equal(t, 0.8, rec.PendingInsulin)
	assert.Nil(t, rec.Notice)

	clamped := AsBolus(AboveRange{Min: *current, MinTarget: 100, Amount: 12}, 0, 10, 0.05, current)
	assert.Equal(t, 10.0, clamped.Amount)

	covered := AsBolus(AboveRange{Min: *current, MinTarget: 100, Amount: 0.5}, 0.8, 10, 0.05, current)
	assert.Zero(t, covered.Amount)
}

func TestAsBolusNotices(t *testing.T) {
	low := models.PredictedGlucose{Date: now.Add(time.Hour), Value: 90}
	high := &models.PredictedGlucose{Date: now, Value: 150}

	suspend := AsBolus(Suspend{Min: models.PredictedGlucose{Value: 60}}, 0, 10, 0.05, high)
	require.NotNil(t, suspend.Notice)
	assert.Equal(t, models.NoticeGlucoseBelowSuspendThreshold, suspend.Notice.Kind)
	assert.Zero(t, suspend.Amount)

	dip := AsBolus(AboveRange{Min: low, MinTarget: 100, Amount: 1}, 0, 10, 0.05, high)
	require.NotNil(t, dip.Notice)
	assert.Equal(t, models.NoticePredictedGlucoseBelowTarget, dip.Notice.Kind)
	assert.Equal(t, 1.0, dip.Amount)

	currentLow := &models.PredictedGlucose{Date: now, Value: 85}
	below := AsBolus(EntirelyBelowRange{Min: *currentLow, MinTarget: 100, Amount: -1}, 0, 10, 0.05, currentLow)
	require.NotNil(t, below.Notice)
	assert.Equal(t, models.NoticeCurrentGlucoseBelowTarget, below.Notice.Kind)
	assert.Zero(t, below.Amount)
}

func TestRoundBolus(t *testing.T) {
	assert.InDelta(t, 0.05, RoundBolus(0.07, 0.05), 1e-12)
	assert.InDelta(t, 1.2, RoundBolus(1.2, 0.05), 1e-12)
	assert.Equal(t, 0.07, RoundBolus(0.07, 0))
}

func TestRecommendTempBasalAndBolus(t *testing.T) {
	settings := models.DefaultSettings()
	settings.MaxBasalRate = 5
	sched := Schedules{Basal: schedule.Constant(1.0), Sensitivity: sensitivity, Targets: targets}

	rec, c, err := RecommendTempBasal(flatPrediction(200), now, settings, sched, model, PumpState{})
	require.NoError(t, err)
	assert.Equal(t, KindAboveRange, c.Kind())
	require.Equal(t, models.ActionSet, rec.Action)
	// 1.6 U over 30 minutes on top of 1 U/hr
	assert.InDelta(t, 4.2, rec.Rate, 0.025)

	bolus, err := RecommendBolus(flatPrediction(200), now, settings, sched, model, PumpState{PendingBolus: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 1.1, bolus.Amount, 0.05+1e-9)
	assert.Equal(t, 0.5, bolus.PendingInsulin)

	rec, c, err = RecommendTempBasal(flatPrediction(60), now, settings, sched, model, PumpState{})
	require.NoError(t, err)
	assert.Equal(t, KindSuspend, c.Kind())
	assert.Equal(t, models.ActionSet, rec.Action)
	assert.Zero(t, rec.Rate)
}

func TestRecommendTempBasalAtScheduledRate(t *testing.T) {
	settings := models.DefaultSettings()
	sched := Schedules{Basal: schedule.Constant(1.0), Sensitivity: sensitivity, Targets: targets}
	pump := PumpState{LastTempBasal: &models.TempBasal{Start: now.Add(-5 * time.Minute), Rate: 1.0, Duration: 30 * time.Minute}}

	rec, _, err := RecommendTempBasal(flatPrediction(110), now, settings, sched, model, pump)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNone, rec.Action)
}
