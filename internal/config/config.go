// Package config resolves layered configuration (defaults, YAML file,
// LOOPSIM_* environment variables and flags) into engine settings.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mrcode/loopsim/internal/insulin"
	"github.com/mrcode/loopsim/internal/models"
)

// EnvPrefix is the prefix of environment variables read by Viper
const EnvPrefix = "LOOPSIM"

// ConfigName is the config file name searched for without extension
const ConfigName = ".loopsim"

// Insulin presets selectable with insulin-preset
const (
	PresetAdult = "adult"
	PresetChild = "child"
	PresetFiasp = "fiasp"
)

// Output formats
const (
	TextOut = "text"
	JSONOut = "json"
	CSVOut  = "csv"
)

// RawInput holds the raw, unvalidated configuration from all sources.
// Viper unmarshals into this struct.
type RawInput struct {
	Delta time.Duration `mapstructure:"delta"`

	InsulinModel    string        `mapstructure:"insulin-model"`
	InsulinPreset   string        `mapstructure:"insulin-preset"`
	InsulinDuration time.Duration `mapstructure:"insulin-duration"`
	InsulinPeak     time.Duration `mapstructure:"insulin-peak"`
	InsulinDelay    time.Duration `mapstructure:"insulin-delay"`

	CarbModel         string        `mapstructure:"carb-model"`
	CarbDelay         time.Duration `mapstructure:"carb-delay"`
	AbsorptionFast    time.Duration `mapstructure:"absorption-fast"`
	AbsorptionMedium  time.Duration `mapstructure:"absorption-medium"`
	AbsorptionSlow    time.Duration `mapstructure:"absorption-slow"`
	AbsorptionOverrun float64       `mapstructure:"absorption-overrun"`
	DynamicCarbs      bool          `mapstructure:"dynamic-carbs"`

	MomentumInterval time.Duration `mapstructure:"momentum-interval"`
	MomentumDuration time.Duration `mapstructure:"momentum-duration"`

	Retrospective         bool          `mapstructure:"retrospective"`
	RetrospectiveGrouping time.Duration `mapstructure:"retrospective-grouping"`
	RetrospectiveDuration time.Duration `mapstructure:"retrospective-duration"`
	RecencyInterval       time.Duration `mapstructure:"recency-interval"`

	SuspendThreshold     float64       `mapstructure:"suspend-threshold"`
	MaxBasal             float64       `mapstructure:"max-basal"`
	MaxBolus             float64       `mapstructure:"max-bolus"`
	TempBasalDuration    time.Duration `mapstructure:"temp-basal-duration"`
	ContinuationInterval time.Duration `mapstructure:"continuation-interval"`
	RateIncrement        float64       `mapstructure:"rate-increment"`
	BolusIncrement       float64       `mapstructure:"bolus-increment"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	Output    string `mapstructure:"output"`

	NightscoutURL    string `mapstructure:"nightscout-url"`
	NightscoutSecret string `mapstructure:"nightscout-secret"`
	NightscoutToken  string `mapstructure:"nightscout-token"`
	NightscoutHours  int    `mapstructure:"nightscout-hours"`
	Alerts           bool   `mapstructure:"alerts"`

	AlertUnit    string        `mapstructure:"alert-unit"`
	AlertHigh    bool          `mapstructure:"alert-high"`
	AlertRepeat  time.Duration `mapstructure:"alert-repeat"`
	AlertHorizon time.Duration `mapstructure:"alert-horizon"`
}

// NightscoutConfig holds the connection settings of the Nightscout source
type NightscoutConfig struct {
	URL    string
	Secret string
	Token  string
	Hours  int
}

// Alert units
const (
	UnitMgdL = "mg/dL"
	UnitMmol = "mmol/L"
)

// AlertConfig controls desktop alerts raised by the nightscout command
type AlertConfig struct {
	Enabled bool
	Unit    string
	High    bool
	Repeat  time.Duration
	Horizon time.Duration
}

// Config is the final, validated configuration
type Config struct {
	Settings   *models.Settings
	LogLevel   slog.Level
	LogFormat  string
	Output     string
	Nightscout NightscoutConfig
	Alerts     AlertConfig
}

// SetDefaults registers every key with its default so environment
// variables and config files can override it.
func SetDefaults(v *viper.Viper) {
	d := models.DefaultSettings()

	v.SetDefault("delta", d.Delta)

	v.SetDefault("insulin-model", string(d.InsulinModel.Kind))
	v.SetDefault("insulin-preset", "")
	v.SetDefault("insulin-duration", d.InsulinModel.ActionDuration)
	v.SetDefault("insulin-peak", d.InsulinModel.PeakActivity)
	v.SetDefault("insulin-delay", d.InsulinModel.Delay)

	v.SetDefault("carb-model", string(d.CarbModel))
	v.SetDefault("carb-delay", d.CarbDelay)
	v.SetDefault("absorption-fast", d.AbsorptionTimes.Fast)
	v.SetDefault("absorption-medium", d.AbsorptionTimes.Medium)
	v.SetDefault("absorption-slow", d.AbsorptionTimes.Slow)
	v.SetDefault("absorption-overrun", d.AbsorptionOverrun)
	v.SetDefault("dynamic-carbs", d.DynamicCarbAbsorption)

	v.SetDefault("momentum-interval", d.MomentumDataInterval)
	v.SetDefault("momentum-duration", d.MomentumDuration)

	v.SetDefault("retrospective", d.RetrospectiveCorrection)
	v.SetDefault("retrospective-grouping", d.RetrospectiveGroupingInterval)
	v.SetDefault("retrospective-duration", d.RetrospectiveEffectDuration)
	v.SetDefault("recency-interval", d.RecencyInterval)

	v.SetDefault("suspend-threshold", d.SuspendThreshold)
	v.SetDefault("max-basal", d.MaxBasalRate)
	v.SetDefault("max-bolus", d.MaxBolus)
	v.SetDefault("temp-basal-duration", d.TempBasalDuration)
	v.SetDefault("continuation-interval", d.ContinuationInterval)
	v.SetDefault("rate-increment", d.RateIncrement)
	v.SetDefault("bolus-increment", d.BolusIncrement)

	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("output", TextOut)

	v.SetDefault("nightscout-url", "")
	v.SetDefault("nightscout-secret", "")
	v.SetDefault("nightscout-token", "")
	v.SetDefault("nightscout-hours", 8)
	v.SetDefault("alerts", false)
	v.SetDefault("alert-unit", UnitMgdL)
	v.SetDefault("alert-high", false)
	v.SetDefault("alert-repeat", 30*time.Minute)
	v.SetDefault("alert-horizon", time.Hour)
}

// Configure points v at the config file and environment
func Configure(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
}

// Load reads the config file if present, unmarshals every source into a
// RawInput and validates it.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	input := &RawInput{}
	if err := v.Unmarshal(input); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	cfg := &Config{}
	if err := ProcessAndValidate(cfg, input); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProcessAndValidate resolves presets and enumerations in input and
// populates cfg. It is the only place defaults meet user overrides.
func ProcessAndValidate(cfg *Config, input *RawInput) error {
	insulinModel, err := resolveInsulinModel(input)
	if err != nil {
		return err
	}

	carbModel := models.CarbModelKind(strings.ToLower(input.CarbModel))
	if carbModel != models.CarbModelParabolic && carbModel != models.CarbModelLinear {
		return fmt.Errorf("invalid carb model '%s'. must be parabolic or linear", input.CarbModel)
	}

	settings := &models.Settings{
		Delta:        input.Delta,
		InsulinModel: insulinModel,
		CarbModel:    carbModel,
		CarbDelay:    input.CarbDelay,
		AbsorptionTimes: models.AbsorptionTimes{
			Fast:   input.AbsorptionFast,
			Medium: input.AbsorptionMedium,
			Slow:   input.AbsorptionSlow,
		},
		AbsorptionOverrun:     input.AbsorptionOverrun,
		DynamicCarbAbsorption: input.DynamicCarbs,

		MomentumDataInterval: input.MomentumInterval,
		MomentumDuration:     input.MomentumDuration,

		RetrospectiveCorrection:       input.Retrospective,
		RetrospectiveGroupingInterval: input.RetrospectiveGrouping,
		RetrospectiveEffectDuration:   input.RetrospectiveDuration,
		RecencyInterval:               input.RecencyInterval,

		SuspendThreshold:     input.SuspendThreshold,
		MaxBasalRate:         input.MaxBasal,
		MaxBolus:             input.MaxBolus,
		TempBasalDuration:    input.TempBasalDuration,
		ContinuationInterval: input.ContinuationInterval,
		RateIncrement:        input.RateIncrement,
		BolusIncrement:       input.BolusIncrement,
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	cfg.Settings = settings

	level, err := parseLevel(input.LogLevel)
	if err != nil {
		return err
	}
	cfg.LogLevel = level

	cfg.LogFormat = strings.ToLower(input.LogFormat)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log format '%s'. must be text or json", input.LogFormat)
	}

	cfg.Output = strings.ToLower(input.Output)
	if cfg.Output != TextOut && cfg.Output != JSONOut && cfg.Output != CSVOut {
		return fmt.Errorf("invalid output format '%s'. must be text, json or csv", input.Output)
	}

	if input.NightscoutHours < 0 {
		return fmt.Errorf("nightscout hours must not be negative (received %d)", input.NightscoutHours)
	}
	cfg.Nightscout = NightscoutConfig{
		URL:    strings.TrimSpace(input.NightscoutURL),
		Secret: input.NightscoutSecret,
		Token:  input.NightscoutToken,
		Hours:  input.NightscoutHours,
	}
	return processAlerts(cfg, input)
}

func processAlerts(cfg *Config, input *RawInput) error {
	var unit string
	switch strings.ToLower(strings.TrimSpace(input.AlertUnit)) {
	case "mg/dl", "mgdl":
		unit = UnitMgdL
	case "mmol/l", "mmol":
		unit = UnitMmol
	default:
		return fmt.Errorf("invalid alert unit '%s'. must be mg/dL or mmol/L", input.AlertUnit)
	}
	if input.AlertRepeat < 0 {
		return fmt.Errorf("alert repeat must not be negative (received %s)", input.AlertRepeat)
	}
	if input.AlertHorizon <= 0 {
		return fmt.Errorf("alert horizon must be positive (received %s)", input.AlertHorizon)
	}
	cfg.Alerts = AlertConfig{
		Enabled: input.Alerts,
		Unit:    unit,
		High:    input.AlertHigh,
		Repeat:  input.AlertRepeat,
		Horizon: input.AlertHorizon,
	}
	return nil
}

// resolveInsulinModel applies a named preset, which replaces the individual
// curve parameters.
func resolveInsulinModel(input *RawInput) (models.InsulinModelSettings, error) {
	m := models.InsulinModelSettings{
		Kind:           models.InsulinModelKind(strings.ToLower(input.InsulinModel)),
		ActionDuration: input.InsulinDuration,
		PeakActivity:   input.InsulinPeak,
		Delay:          input.InsulinDelay,
	}

	switch strings.ToLower(input.InsulinPreset) {
	case "":
	case PresetAdult:
		m = presetSettings(insulin.AdultRapidActing())
	case PresetChild:
		m = presetSettings(insulin.ChildRapidActing())
	case PresetFiasp:
		m = presetSettings(insulin.Fiasp())
	default:
		return m, fmt.Errorf("invalid insulin preset '%s'. must be adult, child or fiasp", input.InsulinPreset)
	}
	return m, nil
}

func presetSettings(e insulin.Exponential) models.InsulinModelSettings {
	return models.InsulinModelSettings{
		Kind:           models.InsulinModelExponential,
		ActionDuration: e.ActionDuration,
		PeakActivity:   e.PeakActivity,
		Delay:          e.Delay,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level '%s': %w", s, err)
	}
	return level, nil
}
