package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/loopsim/internal/models"
)

func newViper(t *testing.T, configFile string) *viper.Viper {
	t.Helper()
	// keep the search away from any real ~/.loopsim.yaml
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	v := viper.New()
	Configure(v, configFile)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, models.DefaultSettings(), cfg.Settings)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, TextOut, cfg.Output)
	assert.Equal(t, 8, cfg.Nightscout.Hours)
	assert.Equal(t, AlertConfig{Unit: UnitMgdL, Repeat: 30 * time.Minute, Horizon: time.Hour}, cfg.Alerts)
}

func TestLoadAlertSettings(t *testing.T) {
	v := newViper(t, "")
	v.Set("alerts", true)
	v.Set("alert-unit", "mmol")
	v.Set("alert-high", true)
	v.Set("alert-repeat", "0s")
	v.Set("alert-horizon", "45m")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, AlertConfig{Enabled: true, Unit: UnitMmol, High: true, Horizon: 45 * time.Minute}, cfg.Alerts)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopsim.yaml")
	content := `
insulin-model: walsh
insulin-duration: 4h
max-basal: 2.5
temp-basal-duration: 45m
dynamic-carbs: false
log-level: debug
output: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(newViper(t, path))
	require.NoError(t, err)

	assert.Equal(t, models.InsulinModelWalsh, cfg.Settings.InsulinModel.Kind)
	assert.Equal(t, 4*time.Hour, cfg.Settings.InsulinModel.ActionDuration)
	assert.Equal(t, 2.5, cfg.Settings.MaxBasalRate)
	assert.Equal(t, 45*time.Minute, cfg.Settings.TempBasalDuration)
	assert.False(t, cfg.Settings.DynamicCarbAbsorption)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, JSONOut, cfg.Output)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("LOOPSIM_MAX_BOLUS", "4")
	t.Setenv("LOOPSIM_CONTINUATION_INTERVAL", "20m")
	t.Setenv("LOOPSIM_NIGHTSCOUT_URL", "https://ns.example.com ")

	cfg, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 4.0, cfg.Settings.MaxBolus)
	assert.Equal(t, 20*time.Minute, cfg.Settings.ContinuationInterval)
	assert.Equal(t, "https://ns.example.com", cfg.Nightscout.URL)
}

func TestProcessAndValidatePresets(t *testing.T) {
	tests := []struct {
		preset string
		peak   time.Duration
	}{
		{PresetAdult, 75 * time.Minute},
		{PresetChild, 65 * time.Minute},
		{PresetFiasp, 55 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			v := newViper(t, "")
			v.Set("insulin-model", "walsh")
			v.Set("insulin-preset", tt.preset)

			cfg, err := Load(v)
			require.NoError(t, err)
			assert.Equal(t, models.InsulinModelExponential, cfg.Settings.InsulinModel.Kind)
			assert.Equal(t, tt.peak, cfg.Settings.InsulinModel.PeakActivity)
			assert.Equal(t, 6*time.Hour, cfg.Settings.InsulinModel.ActionDuration)
		})
	}
}

func TestProcessAndValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"unknown preset", "insulin-preset", "afrezza"},
		{"unknown insulin model", "insulin-model", "cubic"},
		{"unknown carb model", "carb-model", "cubic"},
		{"bad log level", "log-level", "loud"},
		{"bad log format", "log-format", "xml"},
		{"bad output", "output", "yaml"},
		{"negative hours", "nightscout-hours", -1},
		{"zero delta", "delta", "0s"},
		{"overrun below one", "absorption-overrun", 0.9},
		{"unknown alert unit", "alert-unit", "mmol/dL"},
		{"negative alert repeat", "alert-repeat", "-1m"},
		{"zero alert horizon", "alert-horizon", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t, "")
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			require.Error(t, err)
		})
	}
}
