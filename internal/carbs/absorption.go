// Package carbs converts carbohydrate entries into glucose effects and
// carbs-on-board, either from a fixed absorption curve or from observed
// insulin counteraction.
package carbs

import "github.com/mrcode/loopsim/internal/models"

// AbsorptionModel maps elapsed fraction of the absorption time to fraction absorbed
type AbsorptionModel interface {
	PercentAbsorbed(percentTime float64) float64
}

// Linear absorbs at a constant rate
type Linear struct{}

// PercentAbsorbed clamps percentTime to [0, 1]
func (Linear) PercentAbsorbed(percentTime float64) float64 {
	switch {
	case percentTime <= 0:
		return 0
	case percentTime >= 1:
		return 1
	default:
		return percentTime
	}
}

// Parabolic accelerates over the first half and decelerates over the second
type Parabolic struct{}

// PercentAbsorbed returns the S-curve fraction absorbed
func (Parabolic) PercentAbsorbed(percentTime float64) float64 {
	switch {
	case percentTime < 0:
		return 0
	case percentTime <= 0.5:
		return 2 * percentTime * percentTime
	case percentTime < 1:
		return -1 + 2*percentTime*(2-percentTime)
	default:
		return 1
	}
}

// ModelFor returns the absorption curve for a configured kind
func ModelFor(kind models.CarbModelKind) AbsorptionModel {
	if kind == models.CarbModelLinear {
		return Linear{}
	}
	return Parabolic{}
}

// AbsorbedCarbs returns grams absorbed after minutes of an absorptionMinutes-long absorption
func AbsorbedCarbs(m AbsorptionModel, total, minutes, absorptionMinutes float64) float64 {
	if absorptionMinutes <= 0 {
		if minutes < 0 {
			return 0
		}
		return total
	}
	return total * m.PercentAbsorbed(minutes/absorptionMinutes)
}

// UnabsorbedCarbs returns grams still to be absorbed
func UnabsorbedCarbs(m AbsorptionModel, total, minutes, absorptionMinutes float64) float64 {
	return total - AbsorbedCarbs(m, total, minutes, absorptionMinutes)
}
