// Package scenario reads engine inputs from JSON scenario files.
// Schedules are given as parallel arrays of clock times and values;
// histories are arrays of records.
package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mrcode/loopsim/internal/loop"
	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/schedule"
)

// File is the on-disk scenario
type File struct {
	Name string    `json:"name,omitempty"`
	Now  time.Time `json:"now,omitzero"`

	Glucose []GlucoseRecord `json:"glucose"`
	Doses   []DoseRecord    `json:"doses,omitempty"`
	Carbs   []CarbRecord    `json:"carbs,omitempty"`

	Basal       ScheduleRecord       `json:"basalSchedule"`
	CarbRatios  ScheduleRecord       `json:"carbRatioSchedule"`
	Sensitivity ScheduleRecord       `json:"sensitivitySchedule"`
	Targets     TargetScheduleRecord `json:"targetSchedule"`

	LastTempBasal *TempBasalRecord `json:"lastTempBasal,omitempty"`
	PendingBolus  float64          `json:"pendingBolus,omitempty"`
}

// GlucoseRecord is one glucose reading
type GlucoseRecord struct {
	Date        time.Time `json:"date"`
	Value       float64   `json:"value"`
	Calibration bool      `json:"calibration,omitempty"`
	Provenance  string    `json:"provenance,omitempty"`
}

// DoseRecord is one delivery. A missing scheduled rate is filled from the
// basal schedule at the dose start.
type DoseRecord struct {
	Type               string    `json:"type"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end,omitzero"`
	Value              float64   `json:"value"`
	ScheduledBasalRate *float64  `json:"scheduledBasalRate,omitempty"`
}

// CarbRecord is one carb entry. Zero absorption uses the configured
// default for speed (fast, medium or slow; medium when empty).
type CarbRecord struct {
	Date              time.Time `json:"date"`
	Grams             float64   `json:"grams"`
	AbsorptionMinutes float64   `json:"absorptionMinutes,omitempty"`
	Speed             string    `json:"speed,omitempty"`
}

// ScheduleRecord holds a schedule as parallel arrays of "HH:MM[:SS]"
// offsets and values. Ends are optional.
type ScheduleRecord struct {
	Starts []string  `json:"starts"`
	Ends   []string  `json:"ends,omitempty"`
	Values []float64 `json:"values"`
}

// TargetScheduleRecord holds correction ranges as parallel arrays
type TargetScheduleRecord struct {
	Starts    []string  `json:"starts"`
	Ends      []string  `json:"ends,omitempty"`
	MinValues []float64 `json:"minValues"`
	MaxValues []float64 `json:"maxValues"`
}

// TempBasalRecord is the temp basal currently running on the pump
type TempBasalRecord struct {
	Start           time.Time `json:"start"`
	Rate            float64   `json:"rate"`
	DurationMinutes float64   `json:"durationMinutes"`
}

// Load reads a scenario file
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scenario: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	scenario, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenario, nil
}

// Parse decodes a scenario, rejecting unknown fields
func Parse(r io.Reader) (*File, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &f, nil
}

// Save writes the scenario as indented JSON
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Input converts the scenario into engine input. Shape mismatches and
// malformed clock times fail here, before any computation.
func (f *File) Input() (loop.Input, error) {
	var in loop.Input

	basal, err := f.Basal.build("basal")
	if err != nil {
		return in, err
	}
	ratios, err := f.CarbRatios.build("carb ratio")
	if err != nil {
		return in, err
	}
	sensitivity, err := f.Sensitivity.build("sensitivity")
	if err != nil {
		return in, err
	}
	targets, err := f.Targets.build()
	if err != nil {
		return in, err
	}

	in = loop.Input{
		Now:          f.Now,
		Basal:        basal,
		CarbRatios:   ratios,
		Sensitivity:  sensitivity,
		Targets:      targets,
		PendingBolus: f.PendingBolus,
	}

	in.Glucose = make([]models.GlucoseSample, len(f.Glucose))
	for i, g := range f.Glucose {
		in.Glucose[i] = models.GlucoseSample{Date: g.Date, Value: g.Value, IsCalibration: g.Calibration, Provenance: g.Provenance}
	}

	in.Doses = make([]models.DoseEntry, 0, len(f.Doses))
	for i, d := range f.Doses {
		dose, err := d.entry(basal)
		if err != nil {
			return in, fmt.Errorf("dose %d: %w", i, err)
		}
		in.Doses = append(in.Doses, dose)
	}

	in.Carbs = make([]models.CarbEntry, len(f.Carbs))
	for i, c := range f.Carbs {
		speed, err := models.ParseAbsorptionSpeed(c.Speed)
		if err != nil {
			return in, fmt.Errorf("carb %d: %w", i, err)
		}
		in.Carbs[i] = models.CarbEntry{
			Start:          c.Date,
			Grams:          c.Grams,
			AbsorptionTime: time.Duration(c.AbsorptionMinutes * float64(time.Minute)),
			Speed:          speed,
		}
	}

	if t := f.LastTempBasal; t != nil {
		in.LastTempBasal = &models.TempBasal{
			Start:    t.Start,
			Rate:     t.Rate,
			Duration: time.Duration(t.DurationMinutes * float64(time.Minute)),
		}
	}
	return in, nil
}

func (d DoseRecord) entry(basal schedule.BasalSchedule) (models.DoseEntry, error) {
	kind, err := models.ParseDoseKind(d.Type)
	if err != nil {
		return models.DoseEntry{}, err
	}

	end := d.End
	if end.IsZero() {
		end = d.Start
	}

	var scheduled float64
	if d.ScheduledBasalRate != nil {
		scheduled = *d.ScheduledBasalRate
	} else if basal.Len() > 0 {
		scheduled, err = basal.ValueAt(d.Start)
		if err != nil {
			return models.DoseEntry{}, fmt.Errorf("scheduled basal: %w", err)
		}
	}
	return models.NewDoseEntry(kind, d.Start, end, d.Value, scheduled)
}

func (r ScheduleRecord) build(name string) (schedule.Schedule[float64], error) {
	if len(r.Starts) == 0 && len(r.Values) == 0 {
		return schedule.Schedule[float64]{}, nil
	}
	starts, ends, err := parseOffsets(r.Starts, r.Ends)
	if err != nil {
		return schedule.Schedule[float64]{}, fmt.Errorf("%s schedule: %w", name, err)
	}

	var s schedule.Schedule[float64]
	if ends == nil {
		s, err = schedule.New(starts, r.Values)
	} else {
		s, err = schedule.NewWithEnds(starts, ends, r.Values)
	}
	if err != nil {
		return s, fmt.Errorf("%s schedule: %w", name, err)
	}
	return s, nil
}

func (r TargetScheduleRecord) build() (schedule.TargetSchedule, error) {
	if len(r.Starts) == 0 && len(r.MinValues) == 0 && len(r.MaxValues) == 0 {
		return schedule.TargetSchedule{}, nil
	}
	if len(r.MinValues) != len(r.MaxValues) {
		return schedule.TargetSchedule{}, fmt.Errorf("target schedule: %d minimums, %d maximums: %w", len(r.MinValues), len(r.MaxValues), models.ErrShapeMismatch)
	}
	starts, ends, err := parseOffsets(r.Starts, r.Ends)
	if err != nil {
		return schedule.TargetSchedule{}, fmt.Errorf("target schedule: %w", err)
	}

	ranges := make([]models.TargetRange, len(r.MinValues))
	for i := range r.MinValues {
		if r.MinValues[i] > r.MaxValues[i] {
			return schedule.TargetSchedule{}, fmt.Errorf("target schedule: range %v-%v: %w", r.MinValues[i], r.MaxValues[i], models.ErrInvalidSettings)
		}
		ranges[i] = models.TargetRange{Min: r.MinValues[i], Max: r.MaxValues[i]}
	}

	var s schedule.TargetSchedule
	if ends == nil {
		s, err = schedule.New(starts, ranges)
	} else {
		s, err = schedule.NewWithEnds(starts, ends, ranges)
	}
	if err != nil {
		return s, fmt.Errorf("target schedule: %w", err)
	}
	return s, nil
}

func parseOffsets(starts, ends []string) ([]time.Duration, []time.Duration, error) {
	parsedStarts := make([]time.Duration, len(starts))
	for i, s := range starts {
		d, err := ParseClock(s)
		if err != nil {
			return nil, nil, err
		}
		parsedStarts[i] = d
	}
	if len(ends) == 0 {
		return parsedStarts, nil, nil
	}

	parsedEnds := make([]time.Duration, len(ends))
	for i, s := range ends {
		d, err := ParseClock(s)
		if err != nil {
			return nil, nil, err
		}
		parsedEnds[i] = d
	}
	return parsedStarts, parsedEnds, nil
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
// "24:00" is accepted as the end of the day.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, schedule.ErrInvalidOffset)
	}

	limits := []int{24, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var offset time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid clock time %q: %w", s, schedule.ErrInvalidOffset)
		}
		offset += time.Duration(n) * units[i]
	}
	if offset > 24*time.Hour {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, schedule.ErrInvalidOffset)
	}
	return offset, nil
}

// FromInput captures engine input as a scenario, e.g. to replay a
// Nightscout snapshot later.
func FromInput(name string, in loop.Input) *File {
	f := &File{
		Name:         name,
		Now:          in.Now,
		Basal:        scheduleRecord(in.Basal),
		CarbRatios:   scheduleRecord(in.CarbRatios),
		Sensitivity:  scheduleRecord(in.Sensitivity),
		PendingBolus: in.PendingBolus,
	}

	for _, e := range in.Targets.Entries() {
		f.Targets.Starts = append(f.Targets.Starts, FormatClock(e.Start))
		if e.HasEnd {
			f.Targets.Ends = append(f.Targets.Ends, FormatClock(e.End))
		}
		f.Targets.MinValues = append(f.Targets.MinValues, e.Value.Min)
		f.Targets.MaxValues = append(f.Targets.MaxValues, e.Value.Max)
	}

	for _, g := range in.Glucose {
		f.Glucose = append(f.Glucose, GlucoseRecord{Date: g.Date, Value: g.Value, Calibration: g.IsCalibration, Provenance: g.Provenance})
	}
	for _, d := range in.Doses {
		scheduled := d.ScheduledBasalRate
		f.Doses = append(f.Doses, DoseRecord{Type: d.Kind.String(), Start: d.Start, End: d.End, Value: d.Value, ScheduledBasalRate: &scheduled})
	}
	for _, c := range in.Carbs {
		f.Carbs = append(f.Carbs, CarbRecord{Date: c.Start, Grams: c.Grams, AbsorptionMinutes: c.AbsorptionTime.Minutes(), Speed: string(c.Speed)})
	}
	if t := in.LastTempBasal; t != nil {
		f.LastTempBasal = &TempBasalRecord{Start: t.Start, Rate: t.Rate, DurationMinutes: t.Duration.Minutes()}
	}
	return f
}

func scheduleRecord(s schedule.Schedule[float64]) ScheduleRecord {
	var r ScheduleRecord
	for _, e := range s.Entries() {
		r.Starts = append(r.Starts, FormatClock(e.Start))
		if e.HasEnd {
			r.Ends = append(r.Ends, FormatClock(e.End))
		}
		r.Values = append(r.Values, e.Value)
	}
	return r
}

// FormatClock formats an offset from midnight as "HH:MM:SS"
func FormatClock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
