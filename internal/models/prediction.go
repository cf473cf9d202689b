package models

import (
	"fmt"
	"time"
)

// TempBasal is a temporary basal rate, either recommended or currently running
type TempBasal struct {
	Start    time.Time     `json:"start,omitzero"`
	Rate     float64       `json:"rate"` // U/hr
	Duration time.Duration `json:"duration"`
}

// End returns when the temp basal stops
func (t TempBasal) End() time.Time {
	return t.Start.Add(t.Duration)
}

// RecommendationAction is the outcome of a temp basal decision
type RecommendationAction int

const (
	// ActionNone leaves the current delivery unchanged
	ActionNone RecommendationAction = iota
	// ActionCancel stops the running temp basal and returns to schedule
	ActionCancel
	// ActionSet starts a new temp basal
	ActionSet
)

// String returns the action name
func (a RecommendationAction) String() string {
	switch a {
	case ActionCancel:
		return "cancel"
	case ActionSet:
		return "set"
	default:
		return "none"
	}
}

// DoseRecommendation is None, Cancel, or Set{Rate, Duration}.
// Rate and Duration are only meaningful for ActionSet.
type DoseRecommendation struct {
	Action   RecommendationAction `json:"action"`
	Rate     float64              `json:"rate,omitempty"`
	Duration time.Duration        `json:"duration,omitempty"`
}

// NoRecommendation leaves delivery unchanged
func NoRecommendation() DoseRecommendation {
	return DoseRecommendation{Action: ActionNone}
}

// CancelRecommendation returns delivery to the scheduled basal
func CancelRecommendation() DoseRecommendation {
	return DoseRecommendation{Action: ActionCancel}
}

// SetRecommendation starts a temp basal
func SetRecommendation(rate float64, duration time.Duration) DoseRecommendation {
	return DoseRecommendation{Action: ActionSet, Rate: rate, Duration: duration}
}

// String formats the recommendation for display
func (r DoseRecommendation) String() string {
	if r.Action == ActionSet {
		return fmt.Sprintf("set %.3f U/hr for %s", r.Rate, r.Duration)
	}
	return r.Action.String()
}

// BolusNoticeKind names a diagnostic attached to a bolus recommendation
type BolusNoticeKind string

const (
	NoticeGlucoseBelowSuspendThreshold BolusNoticeKind = "glucoseBelowSuspendThreshold"
	NoticeCurrentGlucoseBelowTarget    BolusNoticeKind = "currentGlucoseBelowTarget"
	NoticePredictedGlucoseBelowTarget  BolusNoticeKind = "predictedGlucoseBelowTarget"
)

// BolusNotice explains why a bolus recommendation was reduced
type BolusNotice struct {
	Kind    BolusNoticeKind  `json:"kind"`
	Glucose PredictedGlucose `json:"glucose"`
}

// BolusRecommendation is a recommended bolus with its diagnostic breakdown
type BolusRecommendation struct {
	Amount         float64      `json:"amount"`         // U, after pending insulin and clamping
	PendingInsulin float64      `json:"pendingInsulin"` // U subtracted from the correction
	Notice         *BolusNotice `json:"notice,omitempty"`
}
