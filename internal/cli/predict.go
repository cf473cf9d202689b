package cli

import (
	"github.com/spf13/cobra"

	"github.com/mrcode/loopsim/internal/report"
)

// predictCmd runs the full pipeline over a scenario file.
var predictCmd = &cobra.Command{
	Use:   "predict <scenario.json>",
	Short: "Predict glucose for a scenario and show every effect.",
	Long: `Run the engine over a scenario file and print the prediction with its
insulin, carb, momentum and retrospective components, followed by the
temp basal and bolus recommendations.

Examples:
  # Table with the prediction every 30 minutes
  loopsim predict lunch.json

  # What if I eat 20 g now?
  loopsim predict lunch.json --add-carbs 20

  # Full result as JSON
  loopsim predict lunch.json --output json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, result, err := runScenario(args[0])
		if err != nil {
			return err
		}
		return report.WriteResult(cmd.OutOrStdout(), result, reportOptions(in, result))
	},
}

// recommendCmd prints only the dosing decision.
var recommendCmd = &cobra.Command{
	Use:     "recommend <scenario.json>",
	Short:   "Print the temp basal and bolus recommendation for a scenario.",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, result, err := runScenario(args[0])
		if err != nil {
			return err
		}
		return report.WriteRecommendation(cmd.OutOrStdout(), result, reportOptions(in, result))
	},
}
