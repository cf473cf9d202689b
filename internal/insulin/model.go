// Package insulin models insulin activity curves and composes dose
// histories into glucose effect and insulin-on-board timelines.
package insulin

import (
	"fmt"
	"time"

	"github.com/mrcode/loopsim/internal/models"
)

// Model is an insulin activity curve. PercentEffectRemaining is evaluated
// on minutes since the onset delay has elapsed.
type Model interface {
	PercentEffectRemaining(minutes float64) float64
	EffectDuration() time.Duration
	EffectDelay() time.Duration
}

// TotalDuration is the time from delivery until a dose has no remaining effect
func TotalDuration(m Model) time.Duration {
	return m.EffectDuration() + m.EffectDelay()
}

// PercentEffectRemainingAt evaluates the curve at elapsed time since delivery, honouring the delay
func PercentEffectRemainingAt(m Model, elapsed time.Duration) float64 {
	return m.PercentEffectRemaining((elapsed - m.EffectDelay()).Minutes())
}

// PercentEffected is the fraction of a dose's effect already manifested
func PercentEffected(m Model, minutes float64) float64 {
	return 1 - m.PercentEffectRemaining(minutes)
}

// FromSettings builds the model selected in the resolved settings
func FromSettings(s models.InsulinModelSettings) (Model, error) {
	switch s.Kind {
	case models.InsulinModelExponential:
		return Exponential{ActionDuration: s.ActionDuration, PeakActivity: s.PeakActivity, Delay: s.Delay}, nil
	case models.InsulinModelWalsh:
		return Walsh{ActionDuration: s.ActionDuration, Delay: s.Delay}, nil
	}
	return nil, fmt.Errorf("insulin model %q: %w", s.Kind, models.ErrInvalidSettings)
}
