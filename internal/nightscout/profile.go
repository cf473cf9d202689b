package nightscout

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
)

// mgdlPerMmol converts mmol/L profile values to mg/dL
const mgdlPerMmol = 18.0182

// ProfileSet is one profile document as stored by Nightscout
type ProfileSet struct {
	ID             string             `json:"_id"`
	DefaultProfile string             `json:"defaultProfile"`
	StartDate      string             `json:"startDate"`
	Units          string             `json:"units"`
	Store          map[string]Profile `json:"store"`
}

// Profile is a named therapy profile
type Profile struct {
	DIA        float64        `json:"dia"` // hours
	Timezone   string         `json:"timezone"`
	Units      string         `json:"units"`
	Basal      []ProfileValue `json:"basal"`
	CarbRatio  []ProfileValue `json:"carbratio"`
	Sens       []ProfileValue `json:"sens"`
	TargetLow  []ProfileValue `json:"target_low"`
	TargetHigh []ProfileValue `json:"target_high"`
}

// ProfileValue is one schedule item of a profile
type ProfileValue struct {
	Time          string  `json:"time"` // "HH:MM"
	Value         float64 `json:"value"`
	TimeAsSeconds *int    `json:"timeAsSeconds,omitempty"`
}

// Offset returns the start of the item as an offset from midnight
func (v ProfileValue) Offset() (time.Duration, error) {
	if v.TimeAsSeconds != nil {
		return time.Duration(*v.TimeAsSeconds) * time.Second, nil
	}
	parts := strings.Split(v.Time, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("profile time %q: %w", v.Time, schedule.ErrInvalidOffset)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("profile time %q: %w", v.Time, schedule.ErrInvalidOffset)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("profile time %q: %w", v.Time, schedule.ErrInvalidOffset)
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}

// Active returns the default profile of the set
func (p *ProfileSet) Active() (*Profile, error) {
	name := p.DefaultProfile
	profile, ok := p.Store[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not in store: %w", name, models.ErrMissingSchedule)
	}
	if profile.Units == "" {
		profile.Units = p.Units
	}
	return &profile, nil
}

// Schedules are the therapy schedules of a profile, in mg/dL
type Schedules struct {
	Basal       schedule.BasalSchedule
	CarbRatios  schedule.CarbRatioSchedule
	Sensitivity schedule.SensitivitySchedule
	Targets     schedule.TargetSchedule
	Location    *time.Location
}

// Schedules converts the profile into engine schedules
func (p *Profile) Schedules() (*Schedules, error) {
	scale := 1.0
	if strings.HasPrefix(strings.ToLower(p.Units), "mmol") {
		scale = mgdlPerMmol
	}

	basal, err := buildSchedule(p.Basal, 1)
	if err != nil {
		return nil, fmt.Errorf("basal: %w", err)
	}
	ratios, err := buildSchedule(p.CarbRatio, 1)
	if err != nil {
		return nil, fmt.Errorf("carb ratio: %w", err)
	}
	sens, err := buildSchedule(p.Sens, scale)
	if err != nil {
		return nil, fmt.Errorf("sensitivity: %w", err)
	}
	targets, err := buildTargets(p.TargetLow, p.TargetHigh, scale)
	if err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}

	loc := time.UTC
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}

	return &Schedules{Basal: basal, CarbRatios: ratios, Sensitivity: sens, Targets: targets, Location: loc}, nil
}

func buildSchedule(values []ProfileValue, scale float64) (schedule.Schedule[float64], error) {
	starts := make([]time.Duration, len(values))
	scaled := make([]float64, len(values))
	for i, v := range values {
		offset, err := v.Offset()
		if err != nil {
			return schedule.Schedule[float64]{}, err
		}
		starts[i] = offset
		scaled[i] = v.Value * scale
	}
	return schedule.New(starts, scaled)
}

// buildTargets pairs low and high items by position
func buildTargets(low, high []ProfileValue, scale float64) (schedule.TargetSchedule, error) {
	if len(low) != len(high) {
		return schedule.TargetSchedule{}, fmt.Errorf("%d low, %d high: %w", len(low), len(high), models.ErrShapeMismatch)
	}
	starts := make([]time.Duration, len(low))
	ranges := make([]models.TargetRange, len(low))
	for i := range low {
		offset, err := low[i].Offset()
		if err != nil {
			return schedule.TargetSchedule{}, err
		}
		starts[i] = offset
		ranges[i] = models.TargetRange{Min: low[i].Value * scale, Max: high[i].Value * scale}
	}
	return schedule.New(starts, ranges)
}
