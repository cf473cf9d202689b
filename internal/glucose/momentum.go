// Package glucose derives effects from the glucose history itself:
// short-term momentum, insulin counteraction, retrospective correction,
// and the combined prediction.
package glucose

import (
	"math"
	"time"

	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/timegrid"
)

// SampleInterval is the expected spacing between sensor readings
const SampleInterval = 5 * time.Minute

// LinearRegressionSlope returns the ordinary least squares slope of ys over xs.
// Degenerate input yields NaN or Inf, which callers must check.
func LinearRegressionSlope(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumX2 float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumX2 += xs[i] * xs[i]
	}
	return (n*sumXY - sumX*sumY) / (n*sumX2 - sumX*sumX)
}

// IsContinuous reports whether the samples span no more than interval per step
func IsContinuous(samples []models.GlucoseSample, interval time.Duration) bool {
	if len(samples) == 0 {
		return false
	}
	span := samples[len(samples)-1].Date.Sub(samples[0].Date)
	return span <= interval*time.Duration(len(samples)-1)
}

// ContainsCalibrations reports whether any sample is a calibration
func ContainsCalibrations(samples []models.GlucoseSample) bool {
	for _, s := range samples {
		if s.IsCalibration {
			return true
		}
	}
	return false
}

// HasSingleProvenance reports whether every sample came from the same source
func HasSingleProvenance(samples []models.GlucoseSample) bool {
	for _, s := range samples[1:] {
		if s.Provenance != samples[0].Provenance {
			return false
		}
	}
	return true
}

// RecentSamples returns the samples within interval of the latest one
func RecentSamples(samples []models.GlucoseSample, interval time.Duration) []models.GlucoseSample {
	if len(samples) == 0 {
		return nil
	}
	cutoff := samples[len(samples)-1].Date.Add(-interval)
	for i, s := range samples {
		if !s.Date.Before(cutoff) {
			return samples[i:]
		}
	}
	return nil
}

// MomentumEffect extrapolates the regression slope of the samples forward
// for duration. It returns nil when the samples are too few, discontinuous,
// calibrated, from mixed sources, or the slope is not finite.
func MomentumEffect(samples []models.GlucoseSample, duration, delta time.Duration) []models.GlucoseEffect {
	if len(samples) <= 2 ||
		!IsContinuous(samples, SampleInterval) ||
		ContainsCalibrations(samples) ||
		!HasSingleProvenance(samples) {
		return nil
	}

	first := samples[0]
	last := samples[len(samples)-1]

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = timegrid.ElapsedSeconds(s.Date, first.Date)
		ys[i] = s.Value
	}
	slope := LinearRegressionSlope(xs, ys)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return nil
	}

	grid := timegrid.Range(timegrid.Floor(last.Date, delta), timegrid.Ceil(last.Date.Add(duration), delta), delta)
	effects := make([]models.GlucoseEffect, 0, len(grid))
	for _, date := range grid {
		value := math.Max(0, timegrid.ElapsedSeconds(date, last.Date)) * slope
		effects = append(effects, models.GlucoseEffect{Date: date, Value: value})
	}
	return effects
}
