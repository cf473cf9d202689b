package loop

import (
	"log/slog"

	"github.com/mrcode/loopsim/internal/insulin"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	logger *slog.Logger
	model  insulin.Model
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithInsulinModel replaces the model built from the settings, e.g. with a preset.
func WithInsulinModel(model insulin.Model) Option {
	return func(o *resolvedOptions) { o.model = model }
}
