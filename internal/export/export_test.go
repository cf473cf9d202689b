package export

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/loopsim/internal/dosing"
	"github.com/mrcode/loopsim/internal/loop"
	"github.com/mrcode/loopsim/internal/models"
)

func sampleResult() *loop.Result {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &loop.Result{
		RunID:   "8f14e45f-ceea-4e7a-9b1c-2d0c8e6f1a11",
		Now:     now,
		Glucose: models.GlucoseSample{Date: now, Value: 150},
		InsulinEffects: []models.GlucoseEffect{
			{Date: now, Value: 0},
			{Date: now.Add(5 * time.Minute), Value: -1.5},
		},
		InsulinOnBoard: []models.InsulinValue{{Date: now, Value: 1.2}},
		CounteractionEffects: []models.GlucoseEffectVelocity{
			{Start: now.Add(-5 * time.Minute), End: now, Velocity: 0.8},
		},
		CarbsOnBoard: []models.CarbValue{{Date: now, Value: 20}},
		Prediction: []models.PredictedGlucose{
			{Date: now, Value: 150},
			{Date: now.Add(5 * time.Minute), Value: 152},
		},
		Correction:    dosing.AboveRange{},
		TempBasal:     models.SetRecommendation(1.8, 30*time.Minute),
		Bolus:         models.BolusRecommendation{Amount: 0.4, PendingInsulin: 0.1},
		HighInMinutes: 0,
		LowInMinutes:  -1,
	}
}

func TestCurvePointStructTags(t *testing.T) {
	schema := parquet.SchemaOf(new(CurvePoint))
	require.NotNil(t, schema)

	for _, colName := range []string{"run_id", "curve", "start", "date", "value", "unit"} {
		col, ok := schema.Lookup(colName)
		require.True(t, ok, "Column %s should exist in schema", colName)
		require.NotNil(t, col, "Column %s should not be nil", colName)
	}
}

func TestRunSummaryStructTags(t *testing.T) {
	schema := parquet.SchemaOf(new(RunSummary))
	require.NotNil(t, schema)

	for _, colName := range []string{"run_id", "now", "correction", "temp_basal_rate", "bolus", "iob", "cob", "eventual_bg"} {
		_, ok := schema.Lookup(colName)
		require.True(t, ok, "Column %s should exist in schema", colName)
	}
}

func TestPoints(t *testing.T) {
	result := sampleResult()
	points := Points(result)

	require.Len(t, points, 7)
	counts := map[string]int{}
	for _, p := range points {
		assert.Equal(t, result.RunID, p.RunID)
		counts[p.Curve]++
	}
	assert.Equal(t, 2, counts[CurveInsulinEffect])
	assert.Equal(t, 2, counts[CurvePrediction])
	assert.Equal(t, 1, counts[CurveCounteraction])

	for _, p := range points {
		if p.Curve == CurveCounteraction {
			require.NotNil(t, p.Start)
			assert.Equal(t, result.Now.Add(-5*time.Minute), *p.Start)
			assert.Equal(t, "mg/dL/min", p.Unit)
		}
	}
}

func TestSummary(t *testing.T) {
	summary := Summary(sampleResult())

	assert.Equal(t, "aboveRange", summary.Correction)
	assert.Equal(t, "set", summary.TempBasal)
	require.NotNil(t, summary.TempBasalRate)
	assert.InDelta(t, 1.8, *summary.TempBasalRate, 1e-9)
	assert.InDelta(t, 1.2, summary.IOB, 1e-9)
	assert.InDelta(t, 20, summary.COB, 1e-9)
	assert.InDelta(t, 152, summary.EventualBG, 1e-9)

	result := sampleResult()
	result.TempBasal = models.NoRecommendation()
	assert.Nil(t, Summary(result).TempBasalRate)
}

func TestWriteCurves(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "curves.parquet")
	result := sampleResult()

	require.NoError(t, WriteCurves(result, outputPath))

	info, err := os.Stat(outputPath)
	require.NoError(t, err, "Output file should exist")
	assert.Greater(t, info.Size(), int64(0), "Output file should not be empty")

	file, err := os.Open(outputPath)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	reader := parquet.NewGenericReader[CurvePoint](file)
	defer func() { _ = reader.Close() }()

	readData := make([]CurvePoint, reader.NumRows())
	n, err := reader.Read(readData)
	if err != nil && err != io.EOF {
		require.NoError(t, err, "Should be able to read data")
	}

	expected := Points(result)
	require.Equal(t, len(expected), n)
	for i := range expected {
		assert.Equal(t, expected[i].Curve, readData[i].Curve)
		assert.InDelta(t, expected[i].Value, readData[i].Value, 1e-9)
		assert.WithinDuration(t, expected[i].Date, readData[i].Date, time.Nanosecond)
		if expected[i].Start == nil {
			assert.Nil(t, readData[i].Start)
		} else {
			require.NotNil(t, readData[i].Start)
		}
	}
}

func TestWriteSummaries(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "runs.parquet")
	results := []*loop.Result{sampleResult(), sampleResult()}

	require.NoError(t, WriteSummaries(results, outputPath))

	file, err := os.Open(outputPath)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	reader := parquet.NewGenericReader[RunSummary](file)
	defer func() { _ = reader.Close() }()
	assert.Equal(t, int64(2), reader.NumRows())
}

func TestWriteCurves_BadPath(t *testing.T) {
	err := WriteCurves(sampleResult(), filepath.Join(t.TempDir(), "missing", "curves.parquet"))
	assert.Error(t, err)
}
