package models

import (
	"fmt"
	"time"
)

// InsulinModelKind selects the insulin activity curve family
type InsulinModelKind string

const (
	InsulinModelExponential InsulinModelKind = "exponential"
	InsulinModelWalsh       InsulinModelKind = "walsh"
)

// CarbModelKind selects the non-dynamic absorption curve
type CarbModelKind string

const (
	CarbModelParabolic CarbModelKind = "parabolic"
	CarbModelLinear    CarbModelKind = "linear"
)

// InsulinModelSettings describes the insulin curve chosen for a run
type InsulinModelSettings struct {
	Kind           InsulinModelKind `json:"kind"`
	ActionDuration time.Duration    `json:"actionDuration"`
	PeakActivity   time.Duration    `json:"peakActivity"` // exponential only
	Delay          time.Duration    `json:"delay"`
}

// AbsorptionTimes are the default carb absorption times by speed
type AbsorptionTimes struct {
	Fast   time.Duration `json:"fast"`
	Medium time.Duration `json:"medium"`
	Slow   time.Duration `json:"slow"`
}

// Settings is the fully resolved configuration for one engine run.
// Every default has been applied; composers read it without fallbacks.
type Settings struct {
	// Grid
	Delta time.Duration `json:"delta"`

	// Insulin
	InsulinModel InsulinModelSettings `json:"insulinModel"`

	// Carbs
	CarbModel             CarbModelKind   `json:"carbModel"`
	CarbDelay             time.Duration   `json:"carbDelay"`
	AbsorptionTimes       AbsorptionTimes `json:"absorptionTimes"`
	AbsorptionOverrun     float64         `json:"absorptionOverrun"`
	DynamicCarbAbsorption bool            `json:"dynamicCarbAbsorption"`

	// Momentum
	MomentumDataInterval time.Duration `json:"momentumDataInterval"`
	MomentumDuration     time.Duration `json:"momentumDuration"`

	// Retrospective correction
	RetrospectiveCorrection       bool          `json:"retrospectiveCorrection"`
	RetrospectiveGroupingInterval time.Duration `json:"retrospectiveGroupingInterval"`
	RetrospectiveEffectDuration   time.Duration `json:"retrospectiveEffectDuration"`
	RecencyInterval               time.Duration `json:"recencyInterval"`

	// Dosing limits
	SuspendThreshold     float64       `json:"suspendThreshold"` // mg/dL
	MaxBasalRate         float64       `json:"maxBasalRate"`     // U/hr
	MaxBolus             float64       `json:"maxBolus"`         // U
	TempBasalDuration    time.Duration `json:"tempBasalDuration"`
	ContinuationInterval time.Duration `json:"continuationInterval"`
	RateIncrement        float64       `json:"rateIncrement"`  // U/hr, 0 disables rounding
	BolusIncrement       float64       `json:"bolusIncrement"` // U, 0 disables rounding
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	return &Settings{
		Delta: 5 * time.Minute,

		InsulinModel: InsulinModelSettings{
			Kind:           InsulinModelExponential,
			ActionDuration: 360 * time.Minute,
			PeakActivity:   75 * time.Minute, // rapid-acting adult
			Delay:          10 * time.Minute,
		},

		CarbModel: CarbModelParabolic,
		CarbDelay: 10 * time.Minute,
		AbsorptionTimes: AbsorptionTimes{
			Fast:   2 * time.Hour,
			Medium: 3 * time.Hour,
			Slow:   4 * time.Hour,
		},
		AbsorptionOverrun:     1.5,
		DynamicCarbAbsorption: true,

		MomentumDataInterval: 15 * time.Minute,
		MomentumDuration:     30 * time.Minute,

		RetrospectiveCorrection:       true,
		RetrospectiveGroupingInterval: 30 * time.Minute,
		RetrospectiveEffectDuration:   60 * time.Minute,
		RecencyInterval:               15 * time.Minute,

		SuspendThreshold:     70,
		MaxBasalRate:         3,
		MaxBolus:             10,
		TempBasalDuration:    30 * time.Minute,
		ContinuationInterval: 11 * time.Minute,
		RateIncrement:        0.025,
		BolusIncrement:       0.05,
	}
}

// Clone creates a copy of the settings
func (s *Settings) Clone() *Settings {
	clone := *s
	return &clone
}

// DefaultAbsorptionTime is the absorption time applied to entries without one
func (s *Settings) DefaultAbsorptionTime() time.Duration {
	return s.AbsorptionTimes.Medium
}

// AbsorptionTimeFor returns the configured absorption time for speed.
// An empty or unknown speed uses the medium time.
func (s *Settings) AbsorptionTimeFor(speed AbsorptionSpeed) time.Duration {
	switch speed {
	case SpeedFast:
		return s.AbsorptionTimes.Fast
	case SpeedSlow:
		return s.AbsorptionTimes.Slow
	default:
		return s.DefaultAbsorptionTime()
	}
}

// ResolveCarbEntry fills in the absorption time for the entry's speed
func (s *Settings) ResolveCarbEntry(entry CarbEntry) CarbEntry {
	if entry.AbsorptionTime <= 0 {
		entry.AbsorptionTime = s.AbsorptionTimeFor(entry.Speed)
	}
	return entry
}

// Validate checks that the settings can drive a run
func (s *Settings) Validate() error {
	switch {
	case s.Delta <= 0:
		return fmt.Errorf("delta must be positive: %w", ErrInvalidSettings)
	case s.InsulinModel.ActionDuration <= 0:
		return fmt.Errorf("insulin action duration must be positive: %w", ErrInvalidSettings)
	case s.InsulinModel.Kind == InsulinModelExponential &&
		(s.InsulinModel.PeakActivity <= 0 || s.InsulinModel.PeakActivity*2 >= s.InsulinModel.ActionDuration):
		return fmt.Errorf("insulin peak must be within (0, duration/2): %w", ErrInvalidSettings)
	case s.InsulinModel.Kind != InsulinModelExponential && s.InsulinModel.Kind != InsulinModelWalsh:
		return fmt.Errorf("unknown insulin model %q: %w", s.InsulinModel.Kind, ErrInvalidSettings)
	case s.CarbModel != CarbModelParabolic && s.CarbModel != CarbModelLinear:
		return fmt.Errorf("unknown carb model %q: %w", s.CarbModel, ErrInvalidSettings)
	case s.AbsorptionTimes.Fast <= 0 || s.AbsorptionTimes.Medium <= 0 || s.AbsorptionTimes.Slow <= 0:
		return fmt.Errorf("absorption times must be positive: %w", ErrInvalidSettings)
	case s.AbsorptionOverrun < 1:
		return fmt.Errorf("absorption overrun must be at least 1: %w", ErrInvalidSettings)
	case s.MaxBasalRate < 0 || s.MaxBolus < 0:
		return fmt.Errorf("maximum rates must not be negative: %w", ErrInvalidSettings)
	case s.TempBasalDuration <= 0:
		return fmt.Errorf("temp basal duration must be positive: %w", ErrInvalidSettings)
	case s.RateIncrement < 0 || s.BolusIncrement < 0:
		return fmt.Errorf("rounding increments must not be negative: %w", ErrInvalidSettings)
	case s.RetrospectiveGroupingInterval <= 0 || s.RetrospectiveEffectDuration <= s.Delta:
		return fmt.Errorf("retrospective intervals out of range: %w", ErrInvalidSettings)
	}
	return nil
}
