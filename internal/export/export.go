// Package export writes engine results to Parquet files using
// github.com/parquet-go/parquet-go.
package export

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/mrcode/loopsim/internal/loop"
	"github.com/mrcode/loopsim/internal/models"
)

// Curve names used in the curve column
const (
	CurveInsulinEffect  = "insulin_effect"
	CurveInsulinOnBoard = "insulin_on_board"
	CurveCounteraction  = "counteraction"
	CurveCarbEffect     = "carb_effect"
	CurveCarbsOnBoard   = "carbs_on_board"
	CurveMomentum       = "momentum"
	CurveRetrospective  = "retrospective"
	CurveDiscrepancy    = "discrepancy"
	CurvePrediction     = "prediction"
)

// CurvePoint is one point of one curve of a run, in long format
type CurvePoint struct {
	// RunID identifies the engine run that produced the point
	RunID string `parquet:"run_id,snappy,dict"`

	// Curve names the curve the point belongs to
	Curve string `parquet:"curve,snappy,dict"`

	// Start is the beginning of the interval for interval curves (nullable)
	Start *time.Time `parquet:"start,optional,snappy"`

	// Date is the point time, or the interval end
	Date time.Time `parquet:"date,snappy"`

	// Value is in mg/dL, U, g or mg/dL/min depending on the curve
	Value float64 `parquet:"value,snappy"`

	// Unit of Value
	Unit string `parquet:"unit,snappy,dict"`
}

// RunSummary is a single row describing the decision of a run
type RunSummary struct {
	RunID          string    `parquet:"run_id,snappy"`
	Now            time.Time `parquet:"now,snappy"`
	Glucose        float64   `parquet:"glucose,snappy"`
	Correction     string    `parquet:"correction,snappy"`
	TempBasal      string    `parquet:"temp_basal,snappy"`
	TempBasalRate  *float64  `parquet:"temp_basal_rate,optional,snappy"`
	Bolus          float64   `parquet:"bolus,snappy"`
	PendingInsulin float64   `parquet:"pending_insulin,snappy"`
	IOB            float64   `parquet:"iob,snappy"`
	COB            float64   `parquet:"cob,snappy"`
	EventualBG     float64   `parquet:"eventual_bg,snappy"`
	HighInMinutes  float64   `parquet:"high_in_minutes,snappy"`
	LowInMinutes   float64   `parquet:"low_in_minutes,snappy"`
}

// Points flattens every curve of the result
func Points(result *loop.Result) []CurvePoint {
	var points []CurvePoint
	add := func(curve, unit string, start *time.Time, date time.Time, value float64) {
		points = append(points, CurvePoint{
			RunID: result.RunID,
			Curve: curve,
			Start: start,
			Date:  date,
			Value: value,
			Unit:  unit,
		})
	}

	for _, e := range result.InsulinEffects {
		add(CurveInsulinEffect, "mg/dL", nil, e.Date, e.Value)
	}
	for _, v := range result.InsulinOnBoard {
		add(CurveInsulinOnBoard, "U", nil, v.Date, v.Value)
	}
	for _, v := range result.CounteractionEffects {
		add(CurveCounteraction, "mg/dL/min", &v.Start, v.End, v.Velocity)
	}
	for _, e := range result.CarbEffects {
		add(CurveCarbEffect, "mg/dL", nil, e.Date, e.Value)
	}
	for _, v := range result.CarbsOnBoard {
		add(CurveCarbsOnBoard, "g", nil, v.Date, v.Value)
	}
	for _, e := range result.MomentumEffects {
		add(CurveMomentum, "mg/dL", nil, e.Date, e.Value)
	}
	for _, e := range result.RetrospectiveEffects {
		add(CurveRetrospective, "mg/dL", nil, e.Date, e.Value)
	}
	for _, c := range result.Discrepancies {
		add(CurveDiscrepancy, "mg/dL", &c.Start, c.End, c.Value)
	}
	for _, p := range result.Prediction {
		add(CurvePrediction, "mg/dL", nil, p.Date, p.Value)
	}
	return points
}

// Summary builds the decision row of the result
func Summary(result *loop.Result) RunSummary {
	summary := RunSummary{
		RunID:          result.RunID,
		Now:            result.Now,
		Glucose:        result.Glucose.Value,
		Correction:     result.CorrectionKind(),
		TempBasal:      result.TempBasal.Action.String(),
		Bolus:          result.Bolus.Amount,
		PendingInsulin: result.Bolus.PendingInsulin,
		IOB:            result.IOB(),
		COB:            result.COB(),
		HighInMinutes:  result.HighInMinutes,
		LowInMinutes:   result.LowInMinutes,
	}
	if result.TempBasal.Action == models.ActionSet {
		rate := result.TempBasal.Rate
		summary.TempBasalRate = &rate
	}
	if n := len(result.Prediction); n > 0 {
		summary.EventualBG = result.Prediction[n-1].Value
	}
	return summary
}

// WriteCurves writes every curve of the result to a Parquet file
func WriteCurves(result *loop.Result, outputPath string) error {
	return writeParquet(outputPath, Points(result))
}

// WriteSummaries writes one decision row per result to a Parquet file
func WriteSummaries(results []*loop.Result, outputPath string) error {
	rows := make([]RunSummary, len(results))
	for i, r := range results {
		rows[i] = Summary(r)
	}
	return writeParquet(outputPath, rows)
}

func writeParquet[T any](outputPath string, rows []T) (err error) {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()

	// The schema is derived from the struct tags
	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}
