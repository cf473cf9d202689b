package models

import "time"

// Treatment represents a treatment entry from Nightscout (insulin, carbs, etc.)
type Treatment struct {
	ID             string  `json:"_id"`
	EventType      string  `json:"eventType"`
	Date           int64   `json:"date"` // Unix timestamp in milliseconds
	CreatedAt      string  `json:"created_at"`
	Insulin        float64 `json:"insulin"`        // Units of insulin
	Carbs          float64 `json:"carbs"`          // Grams of carbohydrates
	AbsorptionTime float64 `json:"absorptionTime"` // Minutes, as uploaded by Loop
	Duration       float64 `json:"duration"`       // Duration in minutes (for temp basals, etc.)
	EnteredBy      string  `json:"enteredBy"`

	// For basal changes
	Percent  *float64 `json:"percent,omitempty"`  // Basal change in percent
	Absolute *float64 `json:"absolute,omitempty"` // Basal change in absolute value
	Reason   string   `json:"reason"`
}

// Time returns the time of the treatment
func (t *Treatment) Time() time.Time {
	if t.Date > 0 {
		return time.UnixMilli(t.Date)
	}
	// Fallback to created_at
	parsed, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// HasInsulin returns true if this treatment includes insulin
func (t *Treatment) HasInsulin() bool {
	return t.Insulin > 0
}

// HasCarbs returns true if this treatment includes carbohydrates
func (t *Treatment) HasCarbs() bool {
	return t.Carbs > 0
}

// IsBolus returns true if this is a bolus treatment
func (t *Treatment) IsBolus() bool {
	bolusTypes := map[string]bool{
		TreatmentEventTypes.SnackBolus:      true,
		TreatmentEventTypes.MealBolus:       true,
		TreatmentEventTypes.CorrectionBolus: true,
		TreatmentEventTypes.BolusWizard:     true,
		"Bolus":                             true,
	}
	return bolusTypes[t.EventType] || (t.HasInsulin() && t.EventType != TreatmentEventTypes.TempBasal)
}

// IsTempBasal returns true for a temp basal treatment with a duration
func (t *Treatment) IsTempBasal() bool {
	return t.EventType == TreatmentEventTypes.TempBasal && t.Duration > 0
}

// TempBasalRate resolves the absolute rate of a temp basal. Percent temp
// basals are relative to the scheduled rate.
func (t *Treatment) TempBasalRate(scheduledRate float64) float64 {
	switch {
	case t.Absolute != nil:
		return *t.Absolute
	case t.Percent != nil:
		return scheduledRate * (1 + *t.Percent/100)
	default:
		return scheduledRate
	}
}

// ToDose converts the treatment into a dose entry. The second result is
// false when the treatment carries no insulin delivery.
func (t *Treatment) ToDose(scheduledRate float64) (DoseEntry, bool) {
	start := t.Time()
	switch {
	case t.EventType == TreatmentEventTypes.SuspendPump:
		end := start.Add(time.Duration(t.Duration * float64(time.Minute)))
		return DoseEntry{Kind: DoseSuspend, Start: start, End: end, ScheduledBasalRate: scheduledRate}, true
	case t.EventType == TreatmentEventTypes.ResumePump:
		return DoseEntry{Kind: DoseResume, Start: start, End: start, ScheduledBasalRate: scheduledRate}, true
	case t.IsTempBasal():
		end := start.Add(time.Duration(t.Duration * float64(time.Minute)))
		rate := max(0, t.TempBasalRate(scheduledRate))
		return DoseEntry{Kind: DoseTempBasal, Start: start, End: end, Value: rate, ScheduledBasalRate: scheduledRate}, true
	case t.IsBolus() && t.HasInsulin():
		return DoseEntry{Kind: DoseBolus, Start: start, End: start, Value: t.Insulin, ScheduledBasalRate: scheduledRate}, true
	}
	return DoseEntry{}, false
}

// ToCarb converts the treatment into a carb entry. Snacks without an
// uploaded absorption time absorb at the fast default.
func (t *Treatment) ToCarb() (CarbEntry, bool) {
	if !t.HasCarbs() {
		return CarbEntry{}, false
	}
	speed := SpeedMedium
	if t.EventType == TreatmentEventTypes.SnackBolus {
		speed = SpeedFast
	}
	return CarbEntry{
		Start:          t.Time(),
		Grams:          t.Carbs,
		AbsorptionTime: time.Duration(t.AbsorptionTime * float64(time.Minute)),
		Speed:          speed,
	}, true
}

// TreatmentEventTypes contains common Nightscout event types
var TreatmentEventTypes = struct {
	BGCheck         string
	SnackBolus      string
	MealBolus       string
	CorrectionBolus string
	CarbCorrection  string
	TempBasal       string
	SuspendPump     string
	ResumePump      string
	BolusWizard     string
}{
	BGCheck:         "BG Check",
	SnackBolus:      "Snack Bolus",
	MealBolus:       "Meal Bolus",
	CorrectionBolus: "Correction Bolus",
	CarbCorrection:  "Carb Correction",
	TempBasal:       "Temp Basal",
	SuspendPump:     "Suspend Pump",
	ResumePump:      "Resume Pump",
	BolusWizard:     "Bolus Wizard",
}
