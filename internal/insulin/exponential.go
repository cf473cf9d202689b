package insulin

import (
	"math"
	"time"
)

// Exponential is the exponential insulin activity curve parameterised by
// action duration and time to peak activity.
type Exponential struct {
	ActionDuration time.Duration
	PeakActivity   time.Duration
	Delay          time.Duration
}

// AdultRapidActing is the preset for Humalog/Novolog in adults
func AdultRapidActing() Exponential {
	return Exponential{ActionDuration: 360 * time.Minute, PeakActivity: 75 * time.Minute, Delay: 10 * time.Minute}
}

// ChildRapidActing is the preset for Humalog/Novolog in children
func ChildRapidActing() Exponential {
	return Exponential{ActionDuration: 360 * time.Minute, PeakActivity: 65 * time.Minute, Delay: 10 * time.Minute}
}

// Fiasp is the preset for ultra-rapid insulin
func Fiasp() Exponential {
	return Exponential{ActionDuration: 360 * time.Minute, PeakActivity: 55 * time.Minute, Delay: 10 * time.Minute}
}

// EffectDuration returns the action duration
func (m Exponential) EffectDuration() time.Duration { return m.ActionDuration }

// EffectDelay returns the onset delay
func (m Exponential) EffectDelay() time.Duration { return m.Delay }

// PercentEffectRemaining returns the fraction of a unit dose's effect not yet manifested
func (m Exponential) PercentEffectRemaining(minutes float64) float64 {
	td := m.ActionDuration.Minutes()
	tp := m.PeakActivity.Minutes()

	switch {
	case minutes <= 0:
		return 1
	case minutes >= td:
		return 0
	}

	tau := tp * (1 - tp/td) / (1 - 2*tp/td)
	a := 2 * tau / td
	s := 1 / (1 - a + (1+a)*math.Exp(-td/tau))

	return 1 - s*(1-a)*((math.Pow(minutes, 2)/(tau*td*(1-a))-minutes/tau-1)*math.Exp(-minutes/tau)+1)
}
