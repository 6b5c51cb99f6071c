package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	SourceFurnaceMonitoring = "Furnace Monitoring"
	SourceSensorNetwork     = "Sensor Network"
)

// Thresholds configures the alert rules.
type Thresholds struct {
	// FurnaceOverheatMargin is how far above target a furnace may run before alerting.
	FurnaceOverheatMargin float64
	// VibrationCritical is the vibration reading above which a sensor alerts.
	VibrationCritical float64
}

var DefaultThresholds = Thresholds{FurnaceOverheatMargin: 30, VibrationCritical: 4.5}

// FurnaceOverheatAlert derives a critical alert when newTemp exceeds the
// furnace target by more than the overheat margin. The returned alert has no ID.
func FurnaceOverheatAlert(f Furnace, newTemp float64, th Thresholds, now time.Time) (Alert, bool) {
	if newTemp <= f.TargetTemperature+th.FurnaceOverheatMargin {
		return Alert{}, false
	}

	return Alert{
		Severity: SeverityCritical,
		Title:    f.Name + " Temperature Exceeded",
		Message: fmt.Sprintf("Temperature reached %d°C (Target: %s°C)",
			int64(math.Round(newTemp)), strconv.FormatFloat(f.TargetTemperature, 'f', -1, 64)),
		Source:    SourceFurnaceMonitoring,
		Timestamp: now,
		FurnaceID: f.ID,
	}, true
}

// VibrationAlert derives a critical alert when a vibration sensor crosses the
// critical threshold. It is gated on the sensor's stored status: a sensor
// already marked critical does not alert again.
func VibrationAlert(s Sensor, newValue float64, th Thresholds, now time.Time) (Alert, bool) {
	if s.Type != SensorVibration || newValue <= th.VibrationCritical || s.Status == SensorCritical {
		return Alert{}, false
	}

	return Alert{
		Severity:  SeverityCritical,
		Title:     "High Vibration Detected",
		Message:   fmt.Sprintf("%s vibration at %s %s", s.Name, strconv.FormatFloat(newValue, 'f', 1, 64), s.Unit),
		Source:    SourceSensorNetwork,
		Timestamp: now,
		SensorID:  s.ID,
	}, true
}
