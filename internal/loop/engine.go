// Package loop runs the full pipeline: insulin effects, counteraction,
// carb absorption, momentum and retrospective correction feed a glucose
// prediction which is inverted into temp basal and bolus recommendations.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mrcode/loopsim/internal/carbs"
	"github.com/mrcode/loopsim/internal/dosing"
	"github.com/mrcode/loopsim/internal/glucose"
	"github.com/mrcode/loopsim/internal/insulin"
	"github.com/mrcode/loopsim/internal/models"
)

// Engine computes predictions and recommendations from resolved settings.
// It holds no state between calls.
type Engine struct {
	settings *models.Settings
	model    insulin.Model
	logger   *slog.Logger
}

// Result carries the prediction, recommendations and every intermediate curve
type Result struct {
	RunID string    `json:"runId"`
	Now   time.Time `json:"now"`

	Glucose models.GlucoseSample `json:"glucose"`

	InsulinEffects        []models.GlucoseEffect         `json:"insulinEffects"`
	InsulinOnBoard        []models.InsulinValue          `json:"insulinOnBoard"`
	CounteractionEffects  []models.GlucoseEffectVelocity `json:"counteractionEffects"`
	CarbEffects           []models.GlucoseEffect         `json:"carbEffects"`
	CarbsOnBoard          []models.CarbValue             `json:"carbsOnBoard"`
	CarbStatuses          []carbs.Status                 `json:"-"`
	MomentumEffects       []models.GlucoseEffect         `json:"momentumEffects"`
	RetrospectiveEffects  []models.GlucoseEffect         `json:"retrospectiveEffects"`
	Discrepancies         []models.GlucoseChange         `json:"discrepancies"`
	RetrospectiveVelocity float64                        `json:"retrospectiveVelocity"`

	Prediction []models.PredictedGlucose `json:"prediction"`

	Correction    dosing.Correction          `json:"-"`
	TempBasal     models.DoseRecommendation  `json:"tempBasal"`
	Bolus         models.BolusRecommendation `json:"bolus"`
	HighInMinutes float64                    `json:"highInMinutes"` // -1 when no crossing is predicted
	LowInMinutes  float64                    `json:"lowInMinutes"`
}

// CorrectionKind names the correction state, or "none" without a prediction window
func (r *Result) CorrectionKind() string {
	if r.Correction == nil {
		return "none"
	}
	return r.Correction.Kind().String()
}

// IOB returns insulin on board at the evaluation time
func (r *Result) IOB() float64 {
	return valueAt(r.InsulinOnBoard, r.Now, func(v models.InsulinValue) (time.Time, float64) { return v.Date, v.Value })
}

// COB returns carbs on board at the evaluation time
func (r *Result) COB() float64 {
	return valueAt(r.CarbsOnBoard, r.Now, func(v models.CarbValue) (time.Time, float64) { return v.Date, v.Value })
}

// valueAt returns the last value at or before t
func valueAt[T any](values []T, t time.Time, get func(T) (time.Time, float64)) float64 {
	result := 0.0
	for _, v := range values {
		date, value := get(v)
		if date.After(t) {
			break
		}
		result = value
	}
	return result
}

// NewEngine creates an engine for validated settings
func NewEngine(settings *models.Settings, opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	if settings == nil {
		settings = models.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	model := o.model
	if model == nil {
		var err error
		model, err = insulin.FromSettings(settings.InsulinModel)
		if err != nil {
			return nil, fmt.Errorf("insulin model: %w", err)
		}
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{settings: settings.Clone(), model: model, logger: logger}, nil
}

// Settings returns a copy of the engine settings
func (e *Engine) Settings() *models.Settings {
	return e.settings.Clone()
}

// Model returns the insulin model in use
func (e *Engine) Model() insulin.Model {
	return e.model
}

// Update recomputes every effect from scratch and produces the prediction
// and recommendations. Invalid input fails before any computation; an
// empty prediction window yields no recommendation rather than an error.
func (e *Engine) Update(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	s := e.settings
	now := in.evaluationTime()
	latest := in.Glucose[len(in.Glucose)-1]
	start := in.Glucose[0].Date
	end := now.Add(insulin.TotalDuration(e.model))

	result := &Result{
		RunID:         uuid.NewString(),
		Now:           now,
		Glucose:       latest,
		HighInMinutes: -1,
		LowInMinutes:  -1,
	}
	logger := e.logger.With("run_id", result.RunID)

	insulinEffects, err := insulin.GlucoseEffects(in.Doses, in.Sensitivity, e.model, s.Delta, start, end)
	if err != nil {
		return nil, fmt.Errorf("insulin effects: %w", err)
	}
	result.InsulinEffects = insulinEffects
	result.InsulinOnBoard = insulin.InsulinOnBoard(in.Doses, e.model, s.Delta, start, end)
	result.CounteractionEffects = glucose.CounteractionEffects(in.Glucose, insulinEffects)

	entries := make([]models.CarbEntry, len(in.Carbs))
	for i, entry := range in.Carbs {
		entries[i] = s.ResolveCarbEntry(entry)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		return e.computeCarbs(result, entries, in, start)
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		result.MomentumEffects = glucose.MomentumEffect(glucose.RecentSamples(in.Glucose, s.MomentumDataInterval), s.MomentumDuration, s.Delta)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(result.MomentumEffects) == 0 {
		logger.Info("no momentum effect", "samples", len(glucose.RecentSamples(in.Glucose, s.MomentumDataInterval)))
	}

	if s.RetrospectiveCorrection {
		retro := glucose.RetrospectiveCorrection(latest, result.CounteractionEffects, result.CarbEffects, glucose.RetrospectiveSettings{
			GroupingInterval: s.RetrospectiveGroupingInterval,
			EffectDuration:   s.RetrospectiveEffectDuration,
			RecencyInterval:  s.RecencyInterval,
			Delta:            s.Delta,
		}, now)
		result.RetrospectiveEffects = retro.Effect
		result.Discrepancies = retro.Discrepancies
		result.RetrospectiveVelocity = retro.Velocity
		if retro.Current == nil && len(retro.Discrepancies) > 0 {
			logger.Warn("retrospective discrepancy is stale", "last_end", retro.Discrepancies[len(retro.Discrepancies)-1].End)
		}
	}

	prediction := glucose.PredictGlucose(latest,
		result.MomentumEffects,
		result.CarbEffects,
		result.InsulinEffects,
		result.RetrospectiveEffects,
	)
	result.Prediction = glucose.ExtendToDuration(prediction, insulin.TotalDuration(e.model), s.Delta)

	logger.Debug("effects computed",
		"insulin", len(result.InsulinEffects),
		"counteraction", len(result.CounteractionEffects),
		"carbs", len(result.CarbEffects),
		"momentum", len(result.MomentumEffects),
		"retrospective", len(result.RetrospectiveEffects),
		"prediction", len(result.Prediction),
	)

	if err := e.recommend(result, in, now, logger); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) computeCarbs(result *Result, entries []models.CarbEntry, in Input, start time.Time) error {
	cs := carbs.SettingsFrom(e.settings)

	if e.settings.DynamicCarbAbsorption {
		statuses, err := carbs.MapAbsorption(entries, result.CounteractionEffects, in.CarbRatios, in.Sensitivity, cs)
		if err != nil {
			return fmt.Errorf("carb absorption: %w", err)
		}
		result.CarbStatuses = statuses
		result.CarbEffects = carbs.DynamicGlucoseEffects(statuses, cs, start, time.Time{})
		result.CarbsOnBoard = carbs.DynamicCarbsOnBoard(statuses, cs, start, time.Time{})
		return nil
	}

	effects, err := carbs.GlucoseEffects(entries, in.CarbRatios, in.Sensitivity, cs, start, time.Time{})
	if err != nil {
		return fmt.Errorf("carb effects: %w", err)
	}
	result.CarbEffects = effects
	result.CarbsOnBoard = carbs.CarbsOnBoard(entries, cs, start, time.Time{})
	return nil
}

func (e *Engine) recommend(result *Result, in Input, now time.Time, logger *slog.Logger) error {
	sched := dosing.Schedules{Basal: in.Basal, Sensitivity: in.Sensitivity, Targets: in.Targets}
	pump := dosing.PumpState{LastTempBasal: in.LastTempBasal, PendingBolus: in.PendingBolus}

	temp, correction, err := dosing.RecommendTempBasal(result.Prediction, now, e.settings, sched, e.model, pump)
	if errors.Is(err, dosing.ErrNoPrediction) {
		logger.Warn("no prediction in the action window, no recommendation")
		result.TempBasal = models.NoRecommendation()
		return nil
	}
	if err != nil {
		return fmt.Errorf("temp basal: %w", err)
	}
	result.Correction = correction
	result.TempBasal = temp

	bolus, err := dosing.RecommendBolus(result.Prediction, now, e.settings, sched, e.model, pump)
	if err != nil {
		return fmt.Errorf("bolus: %w", err)
	}
	result.Bolus = bolus

	target, err := in.Targets.ValueAt(now)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	result.HighInMinutes, result.LowInMinutes = glucose.ThresholdTimes(result.Prediction, target.Max, e.settings.SuspendThreshold, now)

	if correction.Kind() == dosing.KindSuspend {
		logger.Info("predicted glucose below suspend threshold", "threshold", e.settings.SuspendThreshold)
	}
	logger.Debug("recommendation",
		"correction", correction.Kind().String(),
		"temp_basal", temp.String(),
		"bolus", bolus.Amount,
	)
	return nil
}

// PredictWithScenario runs Update with a hypothetical bolus and carb entry at now
func (e *Engine) PredictWithScenario(ctx context.Context, in Input, additionalInsulin, additionalCarbs float64) (*Result, error) {
	if len(in.Glucose) == 0 {
		return nil, fmt.Errorf("glucose history: %w", models.ErrEmptyInput)
	}
	now := in.evaluationTime()

	if additionalInsulin > 0 {
		in.Doses = append(slices.Clone(in.Doses), models.DoseEntry{
			Kind:  models.DoseBolus,
			Start: now,
			End:   now,
			Value: additionalInsulin,
		})
		slices.SortStableFunc(in.Doses, func(a, b models.DoseEntry) int { return a.Start.Compare(b.Start) })
	}
	if additionalCarbs > 0 {
		in.Carbs = append(slices.Clone(in.Carbs), models.CarbEntry{Start: now, Grams: additionalCarbs})
		slices.SortStableFunc(in.Carbs, func(a, b models.CarbEntry) int { return a.Start.Compare(b.Start) })
	}
	return e.Update(ctx, in)
}
