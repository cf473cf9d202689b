package carbs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
)

var noon = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testSettings() Settings {
	return Settings{Model: Parabolic{}, Delay: 10 * time.Minute, AbsorptionOverrun: 1.5, Delta: 5 * time.Minute}
}

func velocities(start time.Time, count int, interval time.Duration, velocity float64) []models.GlucoseEffectVelocity {
	out := make([]models.GlucoseEffectVelocity, count)
	for i := range out {
		s := start.Add(time.Duration(i) * interval)
		out[i] = models.GlucoseEffectVelocity{Start: s, End: s.Add(interval), Velocity: velocity}
	}
	return out
}

func TestParabolicPercentAbsorbed(t *testing.T) {
	p := Parabolic{}
	tests := []struct {
		percentTime float64
		expected    float64
	}{
		{-0.1, 0},
		{0, 0},
		{0.25, 0.125},
		{0.5, 0.5},
		{0.75, 0.875},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.expected, p.PercentAbsorbed(tt.percentTime), 1e-12, "PercentAbsorbed(%v)", tt.percentTime)
	}

	// symmetric about the midpoint
	for _, x := range []float64{0.1, 0.2, 0.35, 0.45} {
		assert.InDelta(t, 1.0, p.PercentAbsorbed(x)+p.PercentAbsorbed(1-x), 1e-12)
	}
}

func TestLinearPercentAbsorbed(t *testing.T) {
	l := Linear{}
	assert.Equal(t, 0.0, l.PercentAbsorbed(-1))
	assert.Equal(t, 0.4, l.PercentAbsorbed(0.4))
	assert.Equal(t, 1.0, l.PercentAbsorbed(3))
	assert.Equal(t, 15.0, AbsorbedCarbs(l, 30, 90, 180))
	assert.Equal(t, 30.0, AbsorbedCarbs(l, 30, 5, 0))
	assert.Equal(t, 0.0, AbsorbedCarbs(l, 30, -5, 0))
}

func TestStaticGlucoseEffects(t *testing.T) {
	entries := []models.CarbEntry{{Start: noon, Grams: 30, AbsorptionTime: 3 * time.Hour}}
	effects, err := GlucoseEffects(entries, schedule.Constant(10.0), schedule.Constant(50.0), testSettings(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, effects)

	assert.True(t, effects[0].Date.Equal(noon))
	assert.Equal(t, 0.0, effects[2].Value, "no absorption during the delay")
	assert.InDelta(t, 150.0, effects[len(effects)-1].Value, 1e-9)
	for i := 1; i < len(effects); i++ {
		assert.Equal(t, 5*time.Minute, effects[i].Date.Sub(effects[i-1].Date))
	}
}

func TestCarbsOnBoardEmpty(t *testing.T) {
	assert.Empty(t, CarbsOnBoard(nil, testSettings(), time.Time{}, time.Time{}))

	effects, err := GlucoseEffects(nil, schedule.Constant(10.0), schedule.Constant(50.0), testSettings(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, effects)

	statuses, err := MapAbsorption(nil, nil, schedule.Constant(10.0), schedule.Constant(50.0), testSettings())
	require.NoError(t, err)
	assert.Empty(t, statuses)
	assert.Empty(t, DynamicCarbsOnBoard(statuses, testSettings(), time.Time{}, time.Time{}))
}

func TestStaticCarbsOnBoard(t *testing.T) {
	entries := []models.CarbEntry{{Start: noon, Grams: 40, AbsorptionTime: 2 * time.Hour}}
	cob := CarbsOnBoard(entries, testSettings(), noon.Add(-10*time.Minute), time.Time{})
	require.NotEmpty(t, cob)

	assert.Equal(t, 0.0, cob[0].Value, "nothing on board before the entry")
	assert.Equal(t, 40.0, cob[2].Value)
	assert.Equal(t, 0.0, cob[len(cob)-1].Value)
}

func TestMapAbsorptionSingleEntry(t *testing.T) {
	entries := []models.CarbEntry{{Start: noon, Grams: 30, AbsorptionTime: 3 * time.Hour}}
	ice := velocities(noon, 6, 30*time.Minute, 1)

	statuses, err := MapAbsorption(entries, ice, schedule.Constant(10.0), schedule.Constant(50.0), testSettings())
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	st := statuses[0]
	require.NotNil(t, st.Absorption)
	assert.Equal(t, 5.0, st.CarbSensitivity)
	assert.Len(t, st.ObservedTimeline, 5, "timeline stops once the entry is fully observed")
	assert.InDelta(t, 36.0, st.Absorption.Observed, 1e-9, "overflow still counts toward observed")
	assert.Equal(t, 30.0, st.Absorption.Clamped)
	assert.Equal(t, 0.0, st.Absorption.Remaining)
	assert.Equal(t, time.Duration(0), st.Absorption.EstimatedTimeRemaining)
	assert.True(t, st.Absorption.ObservationEnd.Equal(noon.Add(150*time.Minute)))

	s := testSettings()
	assert.InDelta(t, 18.0, st.DynamicCarbsOnBoard(noon.Add(time.Hour), s), 1e-9)
	assert.Equal(t, 0.0, st.DynamicCarbsOnBoard(noon.Add(3*time.Hour), s))
	assert.Equal(t, 0.0, st.DynamicCarbsOnBoard(noon.Add(-time.Hour), s))

	effects := DynamicGlucoseEffects(statuses, s, time.Time{}, time.Time{})
	require.NotEmpty(t, effects)
	assert.InDelta(t, 150.0, effects[len(effects)-1].Value, 1e-9)
}

func TestMapAbsorptionSplitsProportionally(t *testing.T) {
	entries := []models.CarbEntry{
		{Start: noon, Grams: 30, AbsorptionTime: 3 * time.Hour},
		{Start: noon, Grams: 60, AbsorptionTime: 3 * time.Hour},
	}
	ice := velocities(noon, 1, 30*time.Minute, 1)

	statuses, err := MapAbsorption(entries, ice, schedule.Constant(10.0), schedule.Constant(50.0), testSettings())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	first := statuses[0].Absorption.Observed * statuses[0].CarbSensitivity
	second := statuses[1].Absorption.Observed * statuses[1].CarbSensitivity
	assert.InDelta(t, 10.0, first, 1e-9)
	assert.InDelta(t, 20.0, second, 1e-9)
	assert.InDelta(t, 30.0, first+second, 1e-9, "split conserves the interval effect")
}

func TestMapAbsorptionOverflowGoesToLastEntry(t *testing.T) {
	entries := []models.CarbEntry{
		{Start: noon, Grams: 1, AbsorptionTime: 3 * time.Hour},
		{Start: noon, Grams: 1, AbsorptionTime: 3 * time.Hour},
	}
	// 40 mg/dL against two entries that can each take 5
	ice := velocities(noon, 1, 20*time.Minute, 2)

	statuses, err := MapAbsorption(entries, ice, schedule.Constant(10.0), schedule.Constant(50.0), testSettings())
	require.NoError(t, err)

	first := statuses[0].Absorption.Observed * statuses[0].CarbSensitivity
	second := statuses[1].Absorption.Observed * statuses[1].CarbSensitivity
	assert.InDelta(t, 5.0, first, 1e-9)
	assert.InDelta(t, 35.0, second, 1e-9)
	assert.InDelta(t, 40.0, first+second, 1e-9)
}

func TestMapAbsorptionIgnoresNegativeVelocity(t *testing.T) {
	entries := []models.CarbEntry{{Start: noon, Grams: 30, AbsorptionTime: 3 * time.Hour}}
	ice := velocities(noon, 1, 30*time.Minute, -2)

	statuses, err := MapAbsorption(entries, ice, schedule.Constant(10.0), schedule.Constant(50.0), testSettings())
	require.NoError(t, err)

	st := statuses[0]
	require.NotNil(t, st.Absorption)
	assert.Equal(t, 0.0, st.Absorption.Observed)
	assert.Nil(t, st.ObservedTimeline, "thin observations are not surfaced")
	assert.InDelta(t, 30*20.0/270, st.Absorption.Clamped, 1e-9, "clamped to the minimum-rate floor")
	assert.InDelta(t, 250.0, st.Absorption.EstimatedTimeRemaining.Minutes(), 1e-6)
}

func TestMapAbsorptionSkipsEntriesStartedAfterInterval(t *testing.T) {
	entries := []models.CarbEntry{{Start: noon.Add(time.Hour), Grams: 30, AbsorptionTime: 3 * time.Hour}}
	ice := velocities(noon, 2, 30*time.Minute, 1)

	statuses, err := MapAbsorption(entries, ice, schedule.Constant(10.0), schedule.Constant(50.0), testSettings())
	require.NoError(t, err)
	assert.Equal(t, 0.0, statuses[0].Absorption.Observed)
}
