package broadcast

import (
	"time"

	"github.com/pscheid92/plantpulse/internal/domain"
)

// synthetic is a plant-wide reading that is sampled fresh for every snapshot
// and never stored.
type synthetic struct {
	id, name, unit, zone string
	typ                  domain.SensorType
	baseline, jitter     float64
	percent              bool
}

var syntheticSensors = []synthetic{
	{id: "vibration", name: "System Vibration", typ: "vibration", baseline: 5.2, jitter: 0.5, unit: "Hz", zone: "System"},
	{id: "emissions", name: "CO2 Emissions", typ: "emissions", baseline: 45, jitter: 5, unit: "ppm", zone: "Environment"},
	{id: "purity", name: "Scrap Purity", typ: "purity", baseline: 94, jitter: 1, unit: "%", zone: "Quality", percent: true},
	{id: "energy", name: "Energy Consumption", typ: "energy", baseline: 1250, jitter: 50, unit: "kW", zone: "System"},
	{id: "battery", name: "System Battery", typ: "battery", baseline: 87.9, jitter: 2.5, unit: "%", zone: "System", percent: true},
	{id: "airQuality", name: "Air Quality Index", typ: "airQuality", baseline: 48.7, jitter: 5, unit: "AQI", zone: "Environment"},
}

// scrapLevel only ever sits above its baseline.
var scrapLevel = synthetic{id: "scrapLevel", name: "Scrap Level", typ: "scrapLevel", baseline: 75, jitter: 20, unit: "%", zone: "Input", percent: true}

// SampleSynthetic draws one value for every synthetic sensor.
func SampleSynthetic(rnd domain.Random, now time.Time) []domain.Sensor {
	out := make([]domain.Sensor, 0, len(syntheticSensors)+1)
	for _, s := range syntheticSensors {
		out = append(out, s.sensor(s.baseline+domain.Uniform(rnd, -s.jitter, s.jitter), now))
	}
	out = append(out, scrapLevel.sensor(scrapLevel.baseline+domain.Uniform(rnd, 0, scrapLevel.jitter), now))
	return out
}

func (s synthetic) sensor(value float64, now time.Time) domain.Sensor {
	value = max(0, value)
	if s.percent {
		value = min(100, value)
	}
	return domain.Sensor{
		ID:          s.id,
		Name:        s.name,
		Type:        s.typ,
		Value:       value,
		Unit:        s.unit,
		Status:      domain.SensorHealthy,
		Zone:        s.zone,
		Trend:       domain.TrendStable,
		LastUpdated: now,
	}
}
