// Package report writes engine results as tables, JSON or CSV
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/mrcode/loopsim/internal/chart"
	"github.com/mrcode/loopsim/internal/loop"
	"github.com/mrcode/loopsim/internal/models"
)

// Output formats
const (
	TextOut = "text"
	JSONOut = "json"
	CSVOut  = "csv"
)

// Options controls how a result is written
type Options struct {
	Output    string
	UseColors bool
	Step      time.Duration // spacing of prediction table rows
	Low       float64       // mg/dL, values below are shown red
	High      float64       // mg/dL, values above are shown yellow
	Sparkline bool
}

// DefaultOptions returns plain text options
func DefaultOptions() Options {
	return Options{
		Output: TextOut,
		Step:   30 * time.Minute,
		Low:    70,
		High:   180,
	}
}

type colorizer struct {
	red, green, yellow, bold func(...any) string
}

func newColorizer(enabled bool) colorizer {
	if !enabled {
		return colorizer{fmt.Sprint, fmt.Sprint, fmt.Sprint, fmt.Sprint}
	}
	return colorizer{
		red:    color.New(color.FgRed, color.Bold).SprintFunc(),
		green:  color.New(color.FgGreen).SprintFunc(),
		yellow: color.New(color.FgYellow).SprintFunc(),
		bold:   color.New(color.Bold).SprintFunc(),
	}
}

// WriteResult outputs the result, dispatching on the output format
func WriteResult(w io.Writer, result *loop.Result, opts Options) error {
	switch opts.Output {
	case JSONOut:
		if err := writeJSON(w, result); err != nil {
			return fmt.Errorf("error writing JSON output: %w", err)
		}
	case CSVOut:
		csvWriter := csv.NewWriter(w)
		if err := writeCSVPrediction(csvWriter, result); err != nil {
			return fmt.Errorf("error writing CSV output: %w", err)
		}
		csvWriter.Flush()
		return csvWriter.Error()
	default:
		if err := writeSummary(w, result, opts); err != nil {
			return err
		}
		if err := writePredictionTable(w, result, opts); err != nil {
			return err
		}
		if opts.Sparkline {
			values := make([]float64, 0, len(result.Prediction))
			for _, p := range result.Prediction {
				values = append(values, p.Value)
			}
			if spark := chart.Sparkline(values, 8); spark != "" {
				if _, err := fmt.Fprintln(w, spark); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// recommendation is the JSON shape of WriteRecommendation
type recommendation struct {
	RunID      string                     `json:"runId"`
	Now        time.Time                  `json:"now"`
	Correction string                     `json:"correction"`
	TempBasal  models.DoseRecommendation  `json:"tempBasal"`
	Bolus      models.BolusRecommendation `json:"bolus"`
}

// WriteRecommendation outputs only the temp basal and bolus decision
func WriteRecommendation(w io.Writer, result *loop.Result, opts Options) error {
	if opts.Output == JSONOut {
		return writeJSON(w, recommendation{
			RunID:      result.RunID,
			Now:        result.Now,
			Correction: result.CorrectionKind(),
			TempBasal:  result.TempBasal,
			Bolus:      result.Bolus,
		})
	}
	c := newColorizer(opts.UseColors)
	if _, err := fmt.Fprintf(w, "Temp basal: %s\n", c.bold(result.TempBasal)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Bolus: %s\n", formatBolus(result.Bolus, c))
	return err
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeSummary(w io.Writer, result *loop.Result, opts Options) error {
	c := newColorizer(opts.UseColors)
	eventual := 0.0
	if n := len(result.Prediction); n > 0 {
		eventual = result.Prediction[n-1].Value
	}

	lines := []string{
		fmt.Sprintf("Run %s at %s", result.RunID, result.Now.Format(time.RFC3339)),
		fmt.Sprintf("Glucose: %s mg/dL, eventual %s mg/dL", formatValue(result.Glucose.Value, opts, c), formatValue(eventual, opts, c)),
		fmt.Sprintf("IOB: %.2f U, COB: %.0f g", result.IOB(), result.COB()),
		fmt.Sprintf("Correction: %s", result.CorrectionKind()),
		fmt.Sprintf("Temp basal: %s", c.bold(result.TempBasal)),
		fmt.Sprintf("Bolus: %s", formatBolus(result.Bolus, c)),
		fmt.Sprintf("High in: %s, low in: %s", formatMinutes(result.HighInMinutes), formatMinutes(result.LowInMinutes)),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// writePredictionTable writes one row per step with the prediction and
// the effect components at that time.
func writePredictionTable(w io.Writer, result *loop.Result, opts Options) error {
	if len(result.Prediction) == 0 {
		_, err := fmt.Fprintln(w, "No prediction")
		return err
	}

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Time", "Glucose", "Insulin", "Carbs", "Momentum", "Retro"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	insulin := effectIndex(result.InsulinEffects)
	carbs := effectIndex(result.CarbEffects)
	momentum := effectIndex(result.MomentumEffects)
	retro := effectIndex(result.RetrospectiveEffects)

	c := newColorizer(opts.UseColors)
	step := opts.Step
	if step <= 0 {
		step = 30 * time.Minute
	}

	var data [][]string
	last := len(result.Prediction) - 1
	for i, p := range result.Prediction {
		offset := p.Date.Sub(result.Prediction[0].Date)
		if offset%step != 0 && i != last {
			continue
		}
		data = append(data, []string{
			fmt.Sprintf("+%dm", int(p.Date.Sub(result.Now).Minutes())),
			formatValue(p.Value, opts, c),
			insulin.format(p.Date),
			carbs.format(p.Date),
			momentum.format(p.Date),
			retro.format(p.Date),
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// writeCSVPrediction writes every prediction point with its components
func writeCSVPrediction(w *csv.Writer, result *loop.Result) error {
	if err := w.Write([]string{"date", "glucose", "insulin", "carbs", "momentum", "retrospective"}); err != nil {
		return err
	}

	insulin := effectIndex(result.InsulinEffects)
	carbs := effectIndex(result.CarbEffects)
	momentum := effectIndex(result.MomentumEffects)
	retro := effectIndex(result.RetrospectiveEffects)

	for _, p := range result.Prediction {
		row := []string{
			p.Date.Format(time.RFC3339),
			strconv.FormatFloat(p.Value, 'f', 2, 64),
			insulin.format(p.Date),
			carbs.format(p.Date),
			momentum.format(p.Date),
			retro.format(p.Date),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

type effectIndex []models.GlucoseEffect

// format returns the effect value at t, or "-" when the curve has no point there
func (e effectIndex) format(t time.Time) string {
	for _, effect := range e {
		if effect.Date.Equal(t) {
			return strconv.FormatFloat(effect.Value, 'f', 1, 64)
		}
	}
	return "-"
}

func formatValue(value float64, opts Options, c colorizer) string {
	s := strconv.FormatFloat(value, 'f', 0, 64)
	switch {
	case value < opts.Low:
		return c.red(s)
	case value > opts.High:
		return c.yellow(s)
	default:
		return c.green(s)
	}
}

func formatBolus(b models.BolusRecommendation, c colorizer) string {
	s := fmt.Sprintf("%.2f U (pending %.2f U)", b.Amount, b.PendingInsulin)
	if b.Notice != nil {
		s += " " + c.yellow(fmt.Sprintf("[%s at %.0f mg/dL]", b.Notice.Kind, b.Notice.Glucose.Value))
	}
	return s
}

func formatMinutes(minutes float64) string {
	if minutes < 0 {
		return "never"
	}
	return fmt.Sprintf("%.0f min", minutes)
}
