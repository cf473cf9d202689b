// Package chart renders engine results as PNG images and terminal sparklines
package chart

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mrcode/loopsim/internal/dosing"
	"github.com/mrcode/loopsim/internal/loop"
)

// ErrNothingToDraw is returned for a result without glucose or prediction
var ErrNothingToDraw = errors.New("result has no glucose or prediction to draw")

const (
	margin      = 48.0
	mgdlPerMmol = 18.0182
)

// Options controls the rendered image
type Options struct {
	Width            int
	Height           int
	Unit             string  // "mg/dL" or "mmol/L", axis labels only
	TargetMin        float64 // mg/dL, shaded band
	TargetMax        float64
	SuspendThreshold float64
	Title            string
}

// DefaultOptions returns options for an 800x400 chart
func DefaultOptions() Options {
	return Options{
		Width:            800,
		Height:           400,
		Unit:             "mg/dL",
		TargetMin:        100,
		TargetMax:        120,
		SuspendThreshold: 70,
	}
}

type plot struct {
	dc         *gg.Context
	opts       Options
	start, end time.Time
	lo, hi     float64
}

func (p *plot) x(t time.Time) float64 {
	span := p.end.Sub(p.start).Seconds()
	if span <= 0 {
		return margin
	}
	return margin + t.Sub(p.start).Seconds()/span*(float64(p.opts.Width)-2*margin)
}

func (p *plot) y(value float64) float64 {
	return float64(p.opts.Height) - margin - (value-p.lo)/(p.hi-p.lo)*(float64(p.opts.Height)-2*margin)
}

// Render draws glucose history, the prediction and the target band
func Render(result *loop.Result, opts Options) (image.Image, error) {
	if len(result.Prediction) == 0 && result.Glucose.Date.IsZero() {
		return nil, ErrNothingToDraw
	}
	if opts.Width <= int(2*margin) || opts.Height <= int(2*margin) {
		return nil, fmt.Errorf("chart size %dx%d too small", opts.Width, opts.Height)
	}

	p := &plot{dc: gg.NewContext(opts.Width, opts.Height), opts: opts}
	p.bounds(result)

	dc := p.dc
	dc.SetColor(color.White)
	dc.Clear()

	// Target band
	dc.SetRGBA255(74, 222, 128, 60)
	dc.DrawRectangle(margin, p.y(opts.TargetMax), float64(opts.Width)-2*margin, p.y(opts.TargetMin)-p.y(opts.TargetMax))
	dc.Fill()

	// Suspend threshold
	dc.SetHexColor("#ef4444")
	dc.SetLineWidth(1)
	dc.SetDash(6, 4)
	dc.DrawLine(margin, p.y(opts.SuspendThreshold), float64(opts.Width)-margin, p.y(opts.SuspendThreshold))
	dc.Stroke()
	dc.SetDash()

	// Now marker
	dc.SetRGB(0.6, 0.6, 0.6)
	dc.DrawLine(p.x(result.Now), margin, p.x(result.Now), float64(opts.Height)-margin)
	dc.Stroke()

	// Prediction
	dc.SetHexColor(correctionColor(result.Correction))
	dc.SetLineWidth(2.5)
	for i, point := range result.Prediction {
		if i == 0 {
			dc.MoveTo(p.x(point.Date), p.y(point.Value))
		} else {
			dc.LineTo(p.x(point.Date), p.y(point.Value))
		}
	}
	dc.Stroke()

	// Current glucose
	if !result.Glucose.Date.IsZero() {
		dc.SetRGB(0.1, 0.1, 0.1)
		dc.DrawCircle(p.x(result.Glucose.Date), p.y(result.Glucose.Value), 4)
		dc.Fill()
	}

	p.drawAxes(result)
	return dc.Image(), nil
}

// bounds fits the axes around everything that will be drawn
func (p *plot) bounds(result *loop.Result) {
	p.start = result.Now
	p.end = result.Now
	p.lo = math.Min(p.opts.SuspendThreshold, p.opts.TargetMin)
	p.hi = p.opts.TargetMax

	include := func(t time.Time, v float64) {
		if t.Before(p.start) {
			p.start = t
		}
		if t.After(p.end) {
			p.end = t
		}
		p.lo = math.Min(p.lo, v)
		p.hi = math.Max(p.hi, v)
	}
	if !result.Glucose.Date.IsZero() {
		include(result.Glucose.Date, result.Glucose.Value)
	}
	for _, point := range result.Prediction {
		include(point.Date, point.Value)
	}

	// Dynamic scaling with buffer
	buffer := 20.0
	p.lo = math.Max(0, p.lo-buffer)
	p.hi += buffer
}

func (p *plot) drawAxes(result *loop.Result) {
	dc := p.dc
	if err := loadFont(dc, 12); err != nil {
		return
	}
	dc.SetColor(color.Black)

	for _, value := range []float64{p.opts.SuspendThreshold, p.opts.TargetMin, p.opts.TargetMax, p.hi - 20} {
		dc.DrawStringAnchored(p.formatValue(value), margin-6, p.y(value), 1, 0.5)
	}
	for t := result.Now; !t.After(p.end); t = t.Add(time.Hour) {
		label := fmt.Sprintf("+%dh", int(t.Sub(result.Now).Hours()))
		dc.DrawStringAnchored(label, p.x(t), float64(p.opts.Height)-margin+16, 0.5, 0.5)
	}

	title := p.opts.Title
	if title == "" {
		title = fmt.Sprintf("Prediction: %s", result.CorrectionKind())
	}
	if err := loadFont(dc, 16); err == nil {
		dc.DrawStringAnchored(title, float64(p.opts.Width)/2, margin/2, 0.5, 0.5)
	}
}

func (p *plot) formatValue(mgdl float64) string {
	if p.opts.Unit == "mmol/L" {
		return fmt.Sprintf("%.1f", mgdl/mgdlPerMmol)
	}
	return fmt.Sprintf("%.0f", mgdl)
}

// loadFont helper to load font safely
func loadFont(dc *gg.Context, size float64) error {
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	face := truetype.NewFace(font, &truetype.Options{Size: size})
	dc.SetFontFace(face)
	return nil
}

// correctionColor returns the line color for the correction state
func correctionColor(c dosing.Correction) string {
	if c == nil {
		return "#808080" // Gray for unknown
	}
	switch c.Kind() {
	case dosing.KindSuspend:
		return "#ef4444" // Red
	case dosing.KindEntirelyBelowRange:
		return "#f97316" // Orange
	case dosing.KindAboveRange:
		return "#eab308" // Yellow
	default:
		return "#22c55e" // Green
	}
}

// WritePNG renders the result and encodes it as PNG
func WritePNG(w io.Writer, result *loop.Result, opts Options) error {
	img, err := Render(result, opts)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// SavePNG renders the result into a PNG file
func SavePNG(path string, result *loop.Result, opts Options) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WritePNG(f, result, opts)
}
