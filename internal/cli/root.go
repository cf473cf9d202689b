package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrcode/loopsim/internal/config"
	"github.com/mrcode/loopsim/internal/loop"
	"github.com/mrcode/loopsim/internal/models"
	"github.com/mrcode/loopsim/internal/report"
	"github.com/mrcode/loopsim/internal/scenario"
)

// All linker flags will be set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCtx is the root context for all operations.
var rootCtx = context.Background()

// cfg will hold the validated, final configuration.
var cfg = &config.Config{}

// rootCmd is the command-line entrypoint for all other commands.
var rootCmd = &cobra.Command{
	Use:           "loopsim",
	Short:         "Predict glucose and recommend insulin dosing from history and therapy settings.",
	Long:          `loopsim composes insulin, carb, momentum and retrospective effects into a glucose prediction and turns it into temp basal and bolus recommendations.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.Configure(viper.GetViper(), viper.GetString("config"))
}

// sharedSetup unmarshals config, runs validation and installs the logger.
func sharedSetup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	*cfg = *loaded

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))
	slog.Debug("configuration loaded", settingsSummary(cfg.Settings)...)
	return nil
}

// newLogger builds the process logger. Logs go to stderr so stdout only
// carries command output.
func newLogger(w io.Writer, c *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// useColors interprets the color flag (yes/no/true/false/1/0)
func useColors() bool {
	switch strings.ToLower(viper.GetString("color")) {
	case "no", "false", "0", "off":
		return false
	}
	return true
}

// reportOptions derives output options from the configuration and the
// correction range in effect at the evaluation time.
func reportOptions(in loop.Input, result *loop.Result) report.Options {
	opts := report.DefaultOptions()
	opts.Output = cfg.Output
	opts.UseColors = useColors()
	opts.Sparkline = viper.GetBool("sparkline")
	opts.Low = cfg.Settings.SuspendThreshold
	if target, err := in.Targets.ValueAt(result.Now); err == nil {
		opts.High = target.Max
	}
	return opts
}

// newEngine creates an engine from the loaded settings
func newEngine() (*loop.Engine, error) {
	return loop.NewEngine(cfg.Settings, loop.WithLogger(slog.Default()))
}

// runScenario loads a scenario file and runs the engine over it
func runScenario(path string) (loop.Input, *loop.Result, error) {
	file, err := scenario.Load(path)
	if err != nil {
		return loop.Input{}, nil, err
	}
	in, err := file.Input()
	if err != nil {
		return loop.Input{}, nil, fmt.Errorf("scenario %s: %w", path, err)
	}

	engine, err := newEngine()
	if err != nil {
		return loop.Input{}, nil, err
	}

	bolus := viper.GetFloat64("add-insulin")
	carbs := viper.GetFloat64("add-carbs")
	var result *loop.Result
	if bolus != 0 || carbs != 0 {
		result, err = engine.PredictWithScenario(rootCtx, in, bolus, carbs)
	} else {
		result, err = engine.Update(rootCtx, in)
	}
	if err != nil {
		return loop.Input{}, nil, err
	}

	slog.Debug("scenario evaluated",
		"scenario", file.Name,
		"run_id", result.RunID,
		"correction", result.CorrectionKind(),
	)
	return in, result, nil
}

// Execute runs the root command.
func Execute() error {
	// Credentials for Nightscout may live in a .env file
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rootCtx = ctx
	return rootCmd.ExecuteContext(ctx)
}

// settingsSummary is logged once per command at debug level
func settingsSummary(s *models.Settings) []any {
	return []any{
		"insulin_model", s.InsulinModel.Kind,
		"insulin_duration", s.InsulinModel.ActionDuration,
		"dynamic_carbs", s.DynamicCarbAbsorption,
		"retrospective", s.RetrospectiveCorrection,
		"max_basal", s.MaxBasalRate,
		"max_bolus", s.MaxBolus,
	}
}
