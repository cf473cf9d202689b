package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrcode/loopsim/internal/config"
	"github.com/mrcode/loopsim/internal/loop"
	"github.com/mrcode/loopsim/internal/nightscout"
	"github.com/mrcode/loopsim/internal/notifications"
	"github.com/mrcode/loopsim/internal/report"
	"github.com/mrcode/loopsim/internal/scenario"
)

// nightscoutCmd runs the engine over live data from a Nightscout site.
var nightscoutCmd = &cobra.Command{
	Use:   "nightscout",
	Short: "Fetch recent history from Nightscout and run the engine.",
	Long: `Fetch glucose entries, treatments and the active profile from a Nightscout
site, build engine input evaluated now, and print the result.

Credentials are read from flags, LOOPSIM_NIGHTSCOUT_* environment variables,
a .env file or the config file.

Examples:
  loopsim nightscout --nightscout-url https://my.site --nightscout-token abc

  # Keep running every 5 minutes with desktop alerts
  loopsim nightscout --watch 5m --alerts

  # Alert in mmol/L, including predicted highs
  loopsim nightscout --watch 5m --alerts --alert-unit mmol/L --alert-high

  # Check that desktop notifications work
  loopsim nightscout --test-alert

  # Capture the current state as a reproducible scenario
  loopsim nightscout --save now.json`,
	Args:    cobra.NoArgs,
	PreRunE: sharedSetup,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if testAlert, _ := cmd.Flags().GetBool("test-alert"); testAlert {
			if err := newAlertManager(cfg.Alerts).SendTestNotification(); err != nil {
				return fmt.Errorf("sending test notification: %w", err)
			}
			cmd.Println("Test notification sent")
			return nil
		}
		if cfg.Nightscout.URL == "" {
			return errors.New("nightscout URL is required (--nightscout-url or LOOPSIM_NIGHTSCOUT_URL)")
		}

		ns := cfg.Nightscout
		client := nightscout.NewClient(ns.URL, ns.Secret, ns.Token, ns.Token != "")
		if err := client.TestConnection(cmd.Context()); err != nil {
			return fmt.Errorf("connecting to nightscout: %w", err)
		}

		engine, err := newEngine()
		if err != nil {
			return err
		}

		var alerts *notifications.Manager
		if cfg.Alerts.Enabled {
			alerts = newAlertManager(cfg.Alerts)
		}

		runner := &nightscoutRunner{
			source: nightscout.NewSource(client, ns.Hours),
			engine: engine,
			alerts: alerts,
			out:    cmd.OutOrStdout(),
		}
		runner.savePath, _ = cmd.Flags().GetString("save")

		watch, _ := cmd.Flags().GetDuration("watch")
		if watch <= 0 {
			return runner.runOnce(cmd.Context())
		}
		if alerts != nil && viper.ConfigFileUsed() != "" {
			viper.OnConfigChange(func(fsnotify.Event) { reloadAlerts(viper.GetViper(), alerts) })
			viper.WatchConfig()
		}
		return runner.watch(cmd.Context(), watch)
	},
}

// alertNotifier delivers alert notifications; tests replace it
var alertNotifier notifications.Notifier = notifications.DesktopNotifier

func alertSettings(c config.AlertConfig) notifications.Settings {
	s := notifications.DefaultSettings()
	s.Unit = c.Unit
	s.HighAlerts = c.High
	s.RepeatInterval = c.Repeat
	s.LowHorizon = c.Horizon
	return s
}

func newAlertManager(c config.AlertConfig) *notifications.Manager {
	return notifications.NewManagerWithNotifier(alertSettings(c), alertNotifier)
}

// reloadAlerts applies edited alert settings from the config file while
// watching. Alert state is reset so conditions are re-checked against the
// new settings. An invalid file keeps the previous settings.
func reloadAlerts(v *viper.Viper, alerts *notifications.Manager) {
	reloaded, err := config.Load(v)
	if err != nil {
		slog.Warn("ignoring invalid config change", "file", v.ConfigFileUsed(), "error", err)
		return
	}
	alerts.UpdateSettings(alertSettings(reloaded.Alerts))
	alerts.ClearAlertState("")
	slog.Info("alert settings reloaded", "unit", reloaded.Alerts.Unit, "high", reloaded.Alerts.High)
}

type nightscoutRunner struct {
	source   *nightscout.Source
	engine   *loop.Engine
	alerts   *notifications.Manager
	out      io.Writer
	savePath string
}

// runOnce fetches a snapshot, runs the engine and reports the result
func (r *nightscoutRunner) runOnce(ctx context.Context) error {
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	in, err := nightscout.BuildInput(snap, time.Now())
	if err != nil {
		return fmt.Errorf("building input: %w", err)
	}

	if r.savePath != "" {
		if err := scenario.FromInput("nightscout", in).Save(r.savePath); err != nil {
			return fmt.Errorf("saving scenario: %w", err)
		}
		slog.Info("scenario saved", "path", r.savePath)
	}

	result, err := r.engine.Update(ctx, in)
	if err != nil {
		return err
	}

	if r.alerts != nil {
		sent, err := r.alerts.CheckRecommendation(result)
		if err != nil {
			slog.Warn("alert failed", "error", err)
		} else if sent {
			slog.Info("alert sent", "run_id", result.RunID, "correction", result.CorrectionKind())
		}
	}

	return report.WriteResult(r.out, result, reportOptions(in, result))
}

// watch repeats runOnce at the interval until ctx is cancelled. Fetch
// errors are logged and retried on the next tick.
func (r *nightscoutRunner) watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("nightscout run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.source.Invalidate()
		}
	}
}
