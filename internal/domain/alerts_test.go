package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFurnaceOverheatAlert(t *testing.T) {
	furnace := Furnace{ID: "F2", Name: "Machine 2", TargetTemperature: 1700}

	tests := []struct {
		name    string
		newTemp float64
		want    bool
	}{
		{"below target", 1650, false},
		{"exactly at margin", 1730, false},
		{"just above margin", 1730.01, true},
		{"far above", 1812.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := FurnaceOverheatAlert(furnace, tt.newTemp, DefaultThresholds, testNow)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestFurnaceOverheatAlert_Content(t *testing.T) {
	furnace := Furnace{ID: "F2", Name: "Machine 2", TargetTemperature: 1700}

	alert, ok := FurnaceOverheatAlert(furnace, 1745.5, DefaultThresholds, testNow)
	require.True(t, ok)

	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, "Machine 2 Temperature Exceeded", alert.Title)
	assert.Equal(t, "Temperature reached 1746°C (Target: 1700°C)", alert.Message)
	assert.Equal(t, SourceFurnaceMonitoring, alert.Source)
	assert.Equal(t, "F2", alert.FurnaceID)
	assert.Empty(t, alert.SensorID)
	assert.Empty(t, alert.ID)
	assert.False(t, alert.Acknowledged)
	assert.Equal(t, testNow, alert.Timestamp)
}

func TestFurnaceOverheatAlert_CustomMargin(t *testing.T) {
	furnace := Furnace{ID: "F6", Name: "Machine 6", TargetTemperature: 1600}
	th := Thresholds{FurnaceOverheatMargin: 5, VibrationCritical: 4.5}

	_, ok := FurnaceOverheatAlert(furnace, 1606, th, testNow)
	assert.True(t, ok)
}

func TestVibrationAlert(t *testing.T) {
	healthy := Sensor{ID: "V001", Name: "Motor 1 Vib", Type: SensorVibration, Unit: "mm/s", Status: SensorHealthy}
	critical := Sensor{ID: "V002", Name: "Motor 2 Vib", Type: SensorVibration, Unit: "mm/s", Status: SensorCritical}
	pressure := Sensor{ID: "P001", Name: "BF1 Pressure", Type: SensorPressure, Unit: "bar", Status: SensorHealthy}

	tests := []struct {
		name     string
		sensor   Sensor
		newValue float64
		want     bool
	}{
		{"healthy below threshold", healthy, 4.5, false},
		{"healthy above threshold", healthy, 4.51, true},
		{"stored critical is suppressed", critical, 5.3, false},
		{"non vibration sensor ignored", pressure, 9.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := VibrationAlert(tt.sensor, tt.newValue, DefaultThresholds, testNow)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestVibrationAlert_Content(t *testing.T) {
	s := Sensor{ID: "V001", Name: "Motor 1 Vib", Type: SensorVibration, Unit: "mm/s", Status: SensorWarning}

	alert, ok := VibrationAlert(s, 4.66, DefaultThresholds, testNow)
	require.True(t, ok)

	assert.Equal(t, "High Vibration Detected", alert.Title)
	assert.Equal(t, "Motor 1 Vib vibration at 4.7 mm/s", alert.Message)
	assert.Equal(t, SourceSensorNetwork, alert.Source)
	assert.Equal(t, "V001", alert.SensorID)
	assert.Empty(t, alert.FurnaceID)
}

func TestFurnaceApply(t *testing.T) {
	f := Furnace{ID: "F1", Temperature: 1650, Pressure: 2.8, ProductionRate: 485, EnergyConsumption: 1240, Status: FurnaceActive}
	temp := 1660.0
	rate := 490.0

	got := f.Apply(FurnaceUpdate{Temperature: &temp, ProductionRate: &rate}, testNow)

	assert.Equal(t, 1660.0, got.Temperature)
	assert.Equal(t, 490.0, got.ProductionRate)
	assert.Equal(t, 2.8, got.Pressure)
	assert.Equal(t, 1240.0, got.EnergyConsumption)
	assert.Equal(t, FurnaceActive, got.Status)
	assert.Equal(t, testNow, got.LastUpdated)
	assert.Equal(t, 1650.0, f.Temperature, "receiver must not be mutated")
}

type fixedRandom float64

func (r fixedRandom) Float64() float64 { return float64(r) }

func TestUniform(t *testing.T) {
	assert.InDelta(t, -10, Uniform(fixedRandom(0), -10, 10), 1e-9)
	assert.InDelta(t, 0, Uniform(fixedRandom(0.5), -10, 10), 1e-9)
	assert.InDelta(t, 5, Uniform(fixedRandom(0.75), -10, 10), 1e-9)
	assert.InDelta(t, 2.6, Uniform(fixedRandom(0.2), 2, 5), 1e-9)
}
