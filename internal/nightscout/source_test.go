package nightscout

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrcode/loopsim/internal/models"
)

const profileJSON = `[{
	"_id": "65a0",
	"defaultProfile": "Default",
	"units": "mmol",
	"store": {
		"Default": {
			"dia": 6,
			"timezone": "UTC",
			"basal": [{"time": "00:00", "value": 0.8, "timeAsSeconds": 0}, {"time": "06:00", "value": 1.0}],
			"carbratio": [{"time": "00:00", "value": 10}],
			"sens": [{"time": "00:00", "value": 2.5}],
			"target_low": [{"time": "00:00", "value": 5.5}],
			"target_high": [{"time": "00:00", "value": 6.5}]
		}
	}
}]`

func testProfile(t *testing.T) *ProfileSet {
	t.Helper()
	var sets []ProfileSet
	if err := json.Unmarshal([]byte(profileJSON), &sets); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	return &sets[0]
}

func TestProfile_SchedulesConvertsMmol(t *testing.T) {
	profile, err := testProfile(t).Active()
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	sched, err := profile.Schedules()
	if err != nil {
		t.Fatalf("Schedules() error = %v", err)
	}

	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sens, _ := sched.Sensitivity.ValueAt(noon)
	if math.Abs(sens-2.5*mgdlPerMmol) > 1e-9 {
		t.Errorf("sensitivity = %v, want %v", sens, 2.5*mgdlPerMmol)
	}
	target, _ := sched.Targets.ValueAt(noon)
	if math.Abs(target.Min-5.5*mgdlPerMmol) > 1e-9 || math.Abs(target.Max-6.5*mgdlPerMmol) > 1e-9 {
		t.Errorf("target = %+v, want 5.5-6.5 mmol/L in mg/dL", target)
	}
	early, _ := sched.Basal.ValueAt(noon.Add(-9 * time.Hour))
	if early != 0.8 {
		t.Errorf("basal at 03:00 = %v, want 0.8", early)
	}
	ratio, _ := sched.CarbRatios.ValueAt(noon)
	if ratio != 10 {
		t.Errorf("carb ratio = %v, want 10 (not scaled)", ratio)
	}
}

func TestProfile_ActiveMissing(t *testing.T) {
	set := testProfile(t)
	set.DefaultProfile = "Weekend"
	if _, err := set.Active(); !errors.Is(err, models.ErrMissingSchedule) {
		t.Errorf("Active() error = %v, want ErrMissingSchedule", err)
	}
}

func TestProfile_TargetsShapeMismatch(t *testing.T) {
	profile, _ := testProfile(t).Active()
	profile.TargetHigh = append(profile.TargetHigh, ProfileValue{Time: "12:00", Value: 7})
	if _, err := profile.Schedules(); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Schedules() error = %v, want ErrShapeMismatch", err)
	}
}

func TestProfileValue_Offset(t *testing.T) {
	seconds := 5400
	tests := []struct {
		name     string
		value    ProfileValue
		expected time.Duration
		wantErr  bool
	}{
		{"Clock", ProfileValue{Time: "06:30"}, 6*time.Hour + 30*time.Minute, false},
		{"Seconds win", ProfileValue{Time: "06:30", TimeAsSeconds: &seconds}, 90 * time.Minute, false},
		{"Malformed", ProfileValue{Time: "noon"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, err := tt.value.Offset()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Offset() error = %v, wantErr %v", err, tt.wantErr)
			}
			if offset != tt.expected {
				t.Errorf("Offset() = %v, want %v", offset, tt.expected)
			}
		})
	}
}

func TestBuildInput(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ms := func(minutesAgo int) int64 { return now.Add(-time.Duration(minutesAgo) * time.Minute).UnixMilli() }
	absolute := 2.0

	snap := &Snapshot{
		Profile: testProfile(t),
		Entries: []models.GlucoseEntry{
			// newest first, as served
			{SGV: 150, Date: ms(0), Type: "sgv"},
			{SGV: 145, Date: ms(5), Type: "sgv"},
			{SGV: 145, Date: ms(5), Type: "sgv"},
			{SGV: 0, Date: ms(10), Type: "sgv"},
			{SGV: 140, Date: ms(15), Type: "sgv"},
		},
		Treatments: []models.Treatment{
			{EventType: "Temp Basal", Date: ms(10), Duration: 30, Absolute: &absolute},
			{EventType: "Meal Bolus", Date: ms(60), Insulin: 3, Carbs: 40},
			{EventType: "Temp Basal", Date: ms(40), Duration: 30, Absolute: &absolute},
			{EventType: "Note", Date: ms(20)},
		},
	}

	in, err := BuildInput(snap, now)
	if err != nil {
		t.Fatalf("BuildInput() error = %v", err)
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("BuildInput() produced invalid input: %v", err)
	}

	if len(in.Glucose) != 3 {
		t.Fatalf("Got %d glucose samples, want 3 (zero and duplicate dropped)", len(in.Glucose))
	}
	if in.Glucose[0].Value != 140 || in.Glucose[2].Value != 150 {
		t.Errorf("Glucose not sorted ascending: %+v", in.Glucose)
	}

	if len(in.Carbs) != 1 || in.Carbs[0].Grams != 40 {
		t.Errorf("Carbs = %+v, want one 40g entry", in.Carbs)
	}

	if len(in.Doses) != 3 {
		t.Fatalf("Got %d doses, want 3", len(in.Doses))
	}
	if in.Doses[0].Kind != models.DoseBolus {
		t.Errorf("First dose = %v, want bolus", in.Doses[0].Kind)
	}
	first := in.Doses[1]
	if !first.End.Equal(now.Add(-10 * time.Minute)) {
		t.Errorf("Earlier temp basal ends %v, want truncated at next temp %v", first.End, now.Add(-10*time.Minute))
	}
	if first.ScheduledBasalRate != 1.0 {
		t.Errorf("Scheduled rate = %v, want 1.0", first.ScheduledBasalRate)
	}
	last := in.Doses[2]
	if !last.End.Equal(now) {
		t.Errorf("Running temp basal ends %v, want trimmed to now", last.End)
	}

	if in.LastTempBasal == nil {
		t.Fatal("LastTempBasal should report the running temp")
	}
	if in.LastTempBasal.Rate != 2 || in.LastTempBasal.Duration != 30*time.Minute {
		t.Errorf("LastTempBasal = %+v, want 2 U/hr for 30m", in.LastTempBasal)
	}
}

func TestBuildInput_DropsFutureTreatments(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := &Snapshot{
		Profile: testProfile(t),
		Entries: []models.GlucoseEntry{{SGV: 120, Date: now.UnixMilli()}},
		Treatments: []models.Treatment{
			{EventType: "Correction Bolus", Date: now.Add(time.Minute).UnixMilli(), Insulin: 1},
		},
	}

	in, err := BuildInput(snap, now)
	if err != nil {
		t.Fatalf("BuildInput() error = %v", err)
	}
	if len(in.Doses) != 0 {
		t.Errorf("Got %d doses, want future bolus dropped", len(in.Doses))
	}
	if in.LastTempBasal != nil {
		t.Error("LastTempBasal should be nil without a running temp")
	}
}

func TestBuildInput_SuspendEndsAtResume(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := &Snapshot{
		Profile: testProfile(t),
		Entries: []models.GlucoseEntry{{SGV: 120, Date: now.UnixMilli()}},
		Treatments: []models.Treatment{
			{EventType: "Suspend Pump", Date: now.Add(-60 * time.Minute).UnixMilli(), Duration: 60},
			{EventType: "Resume Pump", Date: now.Add(-45 * time.Minute).UnixMilli()},
		},
	}

	in, err := BuildInput(snap, now)
	if err != nil {
		t.Fatalf("BuildInput() error = %v", err)
	}
	if len(in.Doses) != 1 {
		t.Fatalf("Got %d doses, want only the suspend", len(in.Doses))
	}
	if in.Doses[0].Duration() != 15*time.Minute {
		t.Errorf("Suspend duration = %v, want 15m", in.Doses[0].Duration())
	}
}

func TestBuildInput_OpenEndedSuspend(t *testing.T) {
	now := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		treatments []models.Treatment
		want       time.Duration
	}{
		{
			name: "Resumed",
			treatments: []models.Treatment{
				{EventType: "Suspend Pump", Date: now.Add(-60 * time.Minute).UnixMilli()},
				{EventType: "Resume Pump", Date: now.Add(-30 * time.Minute).UnixMilli()},
			},
			want: 30 * time.Minute,
		},
		{
			name: "Still suspended",
			treatments: []models.Treatment{
				{EventType: "Suspend Pump", Date: now.Add(-20 * time.Minute).UnixMilli()},
			},
			want: 20 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &Snapshot{
				Profile:    testProfile(t),
				Entries:    []models.GlucoseEntry{{SGV: 120, Date: now.UnixMilli()}},
				Treatments: tt.treatments,
			}

			in, err := BuildInput(snap, now)
			if err != nil {
				t.Fatalf("BuildInput() error = %v", err)
			}
			if len(in.Doses) != 1 {
				t.Fatalf("Got %d doses, want the suspend", len(in.Doses))
			}
			if in.Doses[0].Kind != models.DoseSuspend {
				t.Errorf("Dose kind = %v, want suspend", in.Doses[0].Kind)
			}
			if in.Doses[0].Duration() != tt.want {
				t.Errorf("Suspend duration = %v, want %v", in.Doses[0].Duration(), tt.want)
			}
			if in.LastTempBasal != nil {
				t.Errorf("LastTempBasal = %+v, want nil for a suspend", in.LastTempBasal)
			}
		})
	}
}

func TestBuildInput_RequiresProfile(t *testing.T) {
	_, err := BuildInput(&Snapshot{}, time.Now())
	if !errors.Is(err, models.ErrMissingSchedule) {
		t.Errorf("BuildInput() error = %v, want ErrMissingSchedule", err)
	}
}

func TestSource_CachesSnapshot(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/profile.json":
			_, _ = w.Write([]byte(profileJSON))
		default:
			_, _ = w.Write([]byte("[]"))
		}
	}))
	defer server.Close()

	source := NewSource(NewClient(server.URL, "", "", false), 4)
	first, err := source.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	second, err := source.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if first != second {
		t.Error("Second Snapshot() should return the cached value")
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("Server saw %d requests, want 3", got)
	}

	source.Invalidate()
	if _, err := source.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got := requests.Load(); got != 6 {
		t.Errorf("Server saw %d requests after invalidation, want 6", got)
	}
}

func TestSource_PropagatesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	source := NewSource(NewClient(server.URL, "", "", false), 4)
	if _, err := source.Snapshot(context.Background()); err == nil {
		t.Error("Expected error for 401 responses")
	}
}
