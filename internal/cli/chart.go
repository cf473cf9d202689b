package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrcode/loopsim/internal/chart"
	"github.com/mrcode/loopsim/internal/export"
	"github.com/mrcode/loopsim/internal/loop"
)

// chartCmd renders the prediction of a scenario to a PNG file.
var chartCmd = &cobra.Command{
	Use:     "chart <scenario.json>",
	Short:   "Render the prediction of a scenario as a PNG chart.",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, result, err := runScenario(args[0])
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		opts := chart.DefaultOptions()
		opts.Width, _ = cmd.Flags().GetInt("width")
		opts.Height, _ = cmd.Flags().GetInt("height")
		opts.SuspendThreshold = cfg.Settings.SuspendThreshold
		if target, err := in.Targets.ValueAt(result.Now); err == nil {
			opts.TargetMin, opts.TargetMax = target.Min, target.Max
		}

		if err := chart.SavePNG(out, result, opts); err != nil {
			return fmt.Errorf("rendering chart: %w", err)
		}
		cmd.Printf("Wrote %s\n", out)
		return nil
	},
}

// exportCmd writes every effect curve of a scenario run to Parquet.
var exportCmd = &cobra.Command{
	Use:     "export <scenario.json>",
	Short:   "Export all effect curves of a scenario run to Parquet.",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, result, err := runScenario(args[0])
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if err := export.WriteCurves(result, out); err != nil {
			return err
		}
		cmd.Printf("Wrote %d points to %s\n", len(export.Points(result)), out)

		if summary, _ := cmd.Flags().GetString("summary"); summary != "" {
			if err := export.WriteSummaries([]*loop.Result{result}, summary); err != nil {
				return err
			}
			cmd.Printf("Wrote run summary to %s\n", summary)
		}
		return nil
	},
}
