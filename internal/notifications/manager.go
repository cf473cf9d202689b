// Package notifications handles desktop alerts raised by engine results
package notifications

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/mrcode/loopsim/internal/dosing"
	"github.com/mrcode/loopsim/internal/loop"
	"github.com/mrcode/loopsim/internal/models"
)

// Alert type constants
const (
	alertSuspend       = "suspend"
	alertPredictedLow  = "predicted_low"
	alertPredictedHigh = "predicted_high"
)

const unitMmol = "mmol/L"

// Settings controls which alerts fire and how often they repeat
type Settings struct {
	Unit           string        // "mg/dL" or "mmol/L"
	RepeatInterval time.Duration // 0 alerts once until the state clears
	LowHorizon     time.Duration // predicted lows further out are ignored
	HighAlerts     bool
}

// DefaultSettings returns the alert settings used by the CLI
func DefaultSettings() Settings {
	return Settings{
		Unit:           "mg/dL",
		RepeatInterval: 30 * time.Minute,
		LowHorizon:     time.Hour,
	}
}

// Notifier delivers one notification
type Notifier func(title, message string) error

// Manager handles alerts and notifications
type Manager struct {
	settings      Settings
	lastAlertTime map[string]time.Time
	notify        Notifier
	now           func() time.Time
	mu            sync.Mutex
}

// NewManager creates a notification manager that shows desktop notifications
func NewManager(settings Settings) *Manager {
	return NewManagerWithNotifier(settings, DesktopNotifier)
}

// NewManagerWithNotifier creates a notification manager delivering through notify
func NewManagerWithNotifier(settings Settings, notify Notifier) *Manager {
	return &Manager{
		settings:      settings,
		lastAlertTime: make(map[string]time.Time),
		notify:        notify,
		now:           time.Now,
	}
}

// UpdateSettings replaces the alert settings
func (m *Manager) UpdateSettings(settings Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// CheckRecommendation sends a notification when the result recommends a
// suspend or predicts a low within the horizon. Alerts whose condition
// cleared are forgotten so the next occurrence fires immediately. It
// reports whether a notification was sent.
func (m *Manager) CheckRecommendation(result *loop.Result) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alertType := m.shouldAlert(result)
	for kind := range m.lastAlertTime {
		if kind != alertType {
			delete(m.lastAlertTime, kind)
		}
	}
	if alertType == "" {
		return false, nil
	}

	if lastTime, ok := m.lastAlertTime[alertType]; ok {
		if m.settings.RepeatInterval <= 0 || m.now().Sub(lastTime) < m.settings.RepeatInterval {
			return false, nil
		}
	}

	title, message := m.formatNotification(result, alertType)
	if err := m.notify(title, message); err != nil {
		return false, fmt.Errorf("sending %s alert: %w", alertType, err)
	}

	m.lastAlertTime[alertType] = m.now()
	return true, nil
}

// shouldAlert picks the most urgent alert for the result
func (m *Manager) shouldAlert(result *loop.Result) string {
	if result.Correction != nil && result.Correction.Kind() == dosing.KindSuspend {
		return alertSuspend
	}
	if result.LowInMinutes >= 0 && result.LowInMinutes <= m.settings.LowHorizon.Minutes() {
		return alertPredictedLow
	}
	if m.settings.HighAlerts && result.HighInMinutes >= 0 {
		return alertPredictedHigh
	}
	return ""
}

// formatNotification creates the notification title and message
func (m *Manager) formatNotification(result *loop.Result, alertType string) (string, string) {
	var title, message string

	switch alertType {
	case alertSuspend:
		title = "⚠️ Insulin Suspend Recommended"
		message = fmt.Sprintf("Predicted minimum %s. Temp basal: %s", m.formatValue(minimum(result.Prediction)), result.TempBasal)
	case alertPredictedLow:
		title = "⬇️ Low Predicted"
		message = fmt.Sprintf("Glucose %s, low in %.0f min", m.formatValue(result.Glucose.Value), result.LowInMinutes)
	case alertPredictedHigh:
		title = "⬆️ High Predicted"
		message = fmt.Sprintf("Glucose %s, high in %.0f min. Bolus: %.2f U", m.formatValue(result.Glucose.Value), result.HighInMinutes, result.Bolus.Amount)
	}

	return title, message
}

func (m *Manager) formatValue(mgdl float64) string {
	if m.settings.Unit == unitMmol {
		return fmt.Sprintf("%.1f mmol/L", mgdl/18.0182)
	}
	return fmt.Sprintf("%.0f mg/dL", mgdl)
}

func minimum(prediction []models.PredictedGlucose) float64 {
	if len(prediction) == 0 {
		return 0
	}
	lowest := prediction[0].Value
	for _, p := range prediction[1:] {
		lowest = min(lowest, p.Value)
	}
	return lowest
}

// DesktopNotifier sends a system notification
func DesktopNotifier(title, message string) error {
	// Use beeep for cross-platform notifications
	return beeep.Notify(title, message, "")
}

// ClearAlertState clears the alert state for a specific type or all types
func (m *Manager) ClearAlertState(alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alertType == "" {
		m.lastAlertTime = make(map[string]time.Time)
	} else {
		delete(m.lastAlertTime, alertType)
	}
}

// SendTestNotification sends a test notification
func (m *Manager) SendTestNotification() error {
	return m.notify("loopsim", "Test notification - alerts are working!")
}
