// Package cli defines the command-line interface for loopsim.
package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrcode/loopsim/internal/config"
	"github.com/mrcode/loopsim/internal/models"
)

func init() {
	// Call initConfig on Cobra's initialization
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(chartCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(nightscoutCmd)
	rootCmd.AddCommand(versionCmd)

	d := models.DefaultSettings()

	// Bind all persistent flags of rootCmd to Viper
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("output", config.TextOut, "Output format: text or json or csv")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().String("color", "yes", "Enable colored output (yes/no/true/false/1/0)")
	rootCmd.PersistentFlags().String("insulin-model", string(d.InsulinModel.Kind), "Insulin model: exponential or walsh")
	rootCmd.PersistentFlags().String("insulin-preset", "", "Insulin preset: adult, child or fiasp")
	rootCmd.PersistentFlags().Duration("insulin-duration", d.InsulinModel.ActionDuration, "Insulin action duration")
	rootCmd.PersistentFlags().Bool("dynamic-carbs", d.DynamicCarbAbsorption, "Use observed carb absorption")
	rootCmd.PersistentFlags().Bool("retrospective", d.RetrospectiveCorrection, "Apply retrospective correction")
	rootCmd.PersistentFlags().Float64("suspend-threshold", d.SuspendThreshold, "Suspend threshold in mg/dL")
	rootCmd.PersistentFlags().Float64("max-basal", d.MaxBasalRate, "Maximum temp basal rate in U/hr")
	rootCmd.PersistentFlags().Float64("max-bolus", d.MaxBolus, "Maximum bolus in U")
	rootCmd.PersistentFlags().Float64("add-insulin", 0, "What-if bolus in U given at the evaluation time")
	rootCmd.PersistentFlags().Float64("add-carbs", 0, "What-if carbs in g eaten at the evaluation time")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fatal("Error binding root flags", err)
	}

	// Bind all flags of predictCmd to Viper
	predictCmd.Flags().Bool("sparkline", false, "Print a sparkline of the prediction")
	if err := viper.BindPFlags(predictCmd.Flags()); err != nil {
		fatal("Error binding predict flags", err)
	}

	chartCmd.Flags().StringP("out", "o", "prediction.png", "PNG file to write")
	chartCmd.Flags().Int("width", 800, "Image width in pixels")
	chartCmd.Flags().Int("height", 400, "Image height in pixels")

	exportCmd.Flags().StringP("out", "o", "curves.parquet", "Parquet file to write")
	exportCmd.Flags().String("summary", "", "Optional Parquet file for the run summary")

	// Bind all flags of nightscoutCmd to Viper
	nightscoutCmd.Flags().String("nightscout-url", "", "Nightscout site URL")
	nightscoutCmd.Flags().String("nightscout-secret", "", "Nightscout API secret")
	nightscoutCmd.Flags().String("nightscout-token", "", "Nightscout access token")
	nightscoutCmd.Flags().Int("nightscout-hours", 8, "Hours of history to fetch")
	nightscoutCmd.Flags().Bool("alerts", false, "Send desktop notifications for suspends and predicted lows")
	nightscoutCmd.Flags().String("alert-unit", config.UnitMgdL, "Glucose unit used in alerts (mg/dL or mmol/L)")
	nightscoutCmd.Flags().Bool("alert-high", false, "Also alert when a high is predicted")
	nightscoutCmd.Flags().Duration("alert-repeat", 30*time.Minute, "Minimum time between repeats of the same alert, 0 to alert once")
	nightscoutCmd.Flags().Duration("alert-horizon", time.Hour, "Ignore predicted lows further out than this")
	if err := viper.BindPFlags(nightscoutCmd.Flags()); err != nil {
		fatal("Error binding nightscout flags", err)
	}
	nightscoutCmd.Flags().Duration("watch", 0, "Re-run at this interval until interrupted")
	nightscoutCmd.Flags().String("save", "", "Write the fetched input as a scenario file")
	nightscoutCmd.Flags().Bool("test-alert", false, "Send a test notification and exit")
}

// fatal logs the error and exits; only used while wiring flags
func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
