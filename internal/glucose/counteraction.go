package glucose

import (
	"time"

	"github.com/mrcode/loopsim/internal/models"
)

// minimumCounteractionInterval merges readings closer together than this
// into the following interval.
const minimumCounteractionInterval = 4 * time.Minute

// CounteractionEffects returns, for each pair of consecutive usable samples,
// the glucose velocity not explained by the modelled insulin effect.
// An empty insulin effect counts as no modelled change.
func CounteractionEffects(samples []models.GlucoseSample, insulinEffects []models.GlucoseEffect) []models.GlucoseEffectVelocity {
	if len(samples) == 0 {
		return nil
	}

	velocities := make([]models.GlucoseEffectVelocity, 0, len(samples)-1)
	effectIndex := 0
	start := samples[0]

	for _, end := range samples[1:] {
		interval := end.Date.Sub(start.Date)
		if interval <= minimumCounteractionInterval {
			continue
		}

		pairStart := start
		start = end
		if pairStart.Provenance != end.Provenance || pairStart.IsCalibration != end.IsCalibration {
			continue
		}

		effectChange := 0.0
		if len(insulinEffects) > 0 {
			if effectIndex >= len(insulinEffects) {
				break
			}
			var startEffect, endEffect *models.GlucoseEffect
			for i := effectIndex; i < len(insulinEffects); i++ {
				effect := &insulinEffects[i]
				if startEffect == nil && !effect.Date.Before(pairStart.Date) {
					startEffect = effect
				} else if endEffect == nil && !effect.Date.Before(end.Date) {
					endEffect = effect
					break
				}
				effectIndex++
			}
			if startEffect == nil || endEffect == nil {
				break
			}
			effectChange = endEffect.Value - startEffect.Value
		}

		discrepancy := (end.Value - pairStart.Value) - effectChange
		velocities = append(velocities, models.GlucoseEffectVelocity{
			Start:    pairStart.Date,
			End:      end.Date,
			Velocity: discrepancy / interval.Minutes(),
		})
	}
	return velocities
}
