package insulin

import (
	"math"
	"time"
)

// Walsh is the legacy piecewise quartic curve fit for 3 to 6 hour action durations
type Walsh struct {
	ActionDuration time.Duration
	Delay          time.Duration
}

// EffectDuration returns the action duration
func (m Walsh) EffectDuration() time.Duration { return m.ActionDuration }

// EffectDelay returns the onset delay
func (m Walsh) EffectDelay() time.Duration { return m.Delay }

// bucketHours clamps the action duration to the nearest fitted curve.
// Half hours round to the even bucket.
func (m Walsh) bucketHours() float64 {
	hours := m.ActionDuration.Hours()
	switch {
	case hours < 3:
		return 3
	case hours > 6:
		return 6
	default:
		return math.RoundToEven(hours)
	}
}

// PercentEffectRemaining returns the fraction of a unit dose's effect not yet manifested
func (m Walsh) PercentEffectRemaining(minutes float64) float64 {
	if minutes <= 0 {
		return 1
	}
	if minutes >= m.ActionDuration.Minutes() {
		return 0
	}

	nearest := m.bucketHours()
	// rescale onto the fitted curve's time axis
	t := minutes * nearest / m.ActionDuration.Hours()

	switch nearest {
	case 3:
		return -3.2030e-9*math.Pow(t, 4) + 1.354e-6*math.Pow(t, 3) - 1.759e-4*math.Pow(t, 2) + 9.255e-4*t + 0.99951
	case 4:
		return -3.310e-10*math.Pow(t, 4) + 2.530e-7*math.Pow(t, 3) - 5.510e-5*math.Pow(t, 2) - 9.086e-4*t + 0.99950
	case 5:
		return -2.950e-10*math.Pow(t, 4) + 2.320e-7*math.Pow(t, 3) - 5.550e-5*math.Pow(t, 2) + 4.490e-4*t + 0.99300
	default:
		return -1.493e-10*math.Pow(t, 4) + 1.413e-7*math.Pow(t, 3) - 4.095e-5*math.Pow(t, 2) + 6.365e-4*t + 0.99700
	}
}
