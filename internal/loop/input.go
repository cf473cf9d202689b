package loop

import (
	"fmt"
	"time"

	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
)

// Input is one snapshot of history, schedules and pump state. Histories
// must be sorted chronologically and free of overlaps.
type Input struct {
	Now     time.Time
	Glucose []models.GlucoseSample
	Doses   []models.DoseEntry
	Carbs   []models.CarbEntry

	Basal       schedule.BasalSchedule
	CarbRatios  schedule.CarbRatioSchedule
	Sensitivity schedule.SensitivitySchedule
	Targets     schedule.TargetSchedule

	LastTempBasal *models.TempBasal
	PendingBolus  float64
}

// Validate checks structural preconditions before any computation
func (in *Input) Validate() error {
	if len(in.Glucose) == 0 {
		return fmt.Errorf("glucose history: %w", models.ErrEmptyInput)
	}

	for i := 1; i < len(in.Glucose); i++ {
		if in.Glucose[i].Date.Before(in.Glucose[i-1].Date) {
			return fmt.Errorf("glucose sample %d at %s: %w", i, in.Glucose[i].Date.Format(time.RFC3339), models.ErrUnsorted)
		}
	}
	for i, dose := range in.Doses {
		if err := dose.Validate(); err != nil {
			return fmt.Errorf("dose %d: %w", i, err)
		}
		if i > 0 && dose.Start.Before(in.Doses[i-1].Start) {
			return fmt.Errorf("dose %d at %s: %w", i, dose.Start.Format(time.RFC3339), models.ErrUnsorted)
		}
	}
	for i, entry := range in.Carbs {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("carb entry %d: %w", i, err)
		}
		if i > 0 && entry.Start.Before(in.Carbs[i-1].Start) {
			return fmt.Errorf("carb entry %d at %s: %w", i, entry.Start.Format(time.RFC3339), models.ErrUnsorted)
		}
	}

	switch {
	case in.Basal.Len() == 0:
		return fmt.Errorf("basal schedule: %w", models.ErrMissingSchedule)
	case in.Sensitivity.Len() == 0:
		return fmt.Errorf("sensitivity schedule: %w", models.ErrMissingSchedule)
	case in.Targets.Len() == 0:
		return fmt.Errorf("target schedule: %w", models.ErrMissingSchedule)
	case len(in.Carbs) > 0 && in.CarbRatios.Len() == 0:
		return fmt.Errorf("carb ratio schedule: %w", models.ErrMissingSchedule)
	}

	if in.PendingBolus < 0 {
		return fmt.Errorf("pending bolus %v: %w", in.PendingBolus, models.ErrInvalidDose)
	}
	if in.LastTempBasal != nil && in.LastTempBasal.Rate < 0 {
		return fmt.Errorf("last temp basal rate %v: %w", in.LastTempBasal.Rate, models.ErrInvalidDose)
	}
	return nil
}

// evaluationTime is Now, or the latest glucose sample when Now is unset
func (in *Input) evaluationTime() time.Time {
	if !in.Now.IsZero() {
		return in.Now
	}
	return in.Glucose[len(in.Glucose)-1].Date
}
