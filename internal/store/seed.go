package store

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pscheid92/plantpulse/internal/domain"
)

//go:embed seed.yaml
var seedFile []byte

// LoadSeed decodes the embedded plant dataset and stamps it with now.
// Predictions get fresh IDs on every call.
func LoadSeed(now time.Time) (domain.Dataset, error) {
	return ParseSeed(seedFile, now)
}

// ParseSeed decodes a YAML dataset and validates its identities.
func ParseSeed(raw []byte, now time.Time) (domain.Dataset, error) {
	var data domain.Dataset
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return domain.Dataset{}, fmt.Errorf("failed to decode seed dataset: %w", err)
	}

	for i := range data.Furnaces {
		data.Furnaces[i].LastUpdated = now
	}
	for i := range data.Sensors {
		data.Sensors[i].LastUpdated = now
	}
	for i := range data.Predictions {
		data.Predictions[i].ID = uuid.NewString()
		data.Predictions[i].Timestamp = now
	}
	for i := range data.Cameras {
		if data.Cameras[i].Detections == nil {
			data.Cameras[i].Detections = []domain.Detection{}
		}
		data.Cameras[i].DefectCount = len(data.Cameras[i].Detections)
		data.Cameras[i].LastUpdate = now
	}

	if err := validateSeed(data); err != nil {
		return domain.Dataset{}, err
	}
	return data, nil
}

func validateSeed(data domain.Dataset) error {
	if err := uniqueIDs("furnace", data.Furnaces, func(f domain.Furnace) string { return f.ID }); err != nil {
		return err
	}
	if err := uniqueIDs("sensor", data.Sensors, func(s domain.Sensor) string { return s.ID }); err != nil {
		return err
	}
	if err := uniqueIDs("kpi", data.KPIs, func(k domain.KPI) string { return k.Label }); err != nil {
		return err
	}
	if err := uniqueIDs("hotspot", data.Hotspots, func(h domain.Hotspot) string { return h.ID }); err != nil {
		return err
	}
	if err := uniqueIDs("camera", data.Cameras, func(c domain.CameraFeed) string { return c.ID }); err != nil {
		return err
	}

	for _, s := range data.Sensors {
		switch s.Type {
		case domain.SensorTemperature, domain.SensorPressure, domain.SensorVibration,
			domain.SensorChemical, domain.SensorFlow, domain.SensorLevel:
		default:
			return fmt.Errorf("sensor %s has unknown type %q", s.ID, s.Type)
		}
	}
	return nil
}

func uniqueIDs[T any](kind string, items []T, id func(T) string) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		key := id(item)
		if key == "" {
			return fmt.Errorf("%s without identity in seed dataset", kind)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate %s %q in seed dataset", kind, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
