package domain

import (
	"slices"
	"time"
)

type FurnaceStatus string

const (
	FurnaceActive      FurnaceStatus = "active"
	FurnaceIdle        FurnaceStatus = "idle"
	FurnaceMaintenance FurnaceStatus = "maintenance"
	FurnaceOffline     FurnaceStatus = "offline"
)

// Composition is the melt chemistry in percent. The parts are not forced to sum to 100.
type Composition struct {
	Carbon    float64 `json:"carbon" yaml:"carbon"`
	Silicon   float64 `json:"silicon" yaml:"silicon"`
	Manganese float64 `json:"manganese" yaml:"manganese"`
	Iron      float64 `json:"iron" yaml:"iron"`
}

type Furnace struct {
	ID                string        `json:"id" yaml:"id"`
	Name              string        `json:"name" yaml:"name"`
	Status            FurnaceStatus `json:"status" yaml:"status"`
	Temperature       float64       `json:"temperature" yaml:"temperature"`
	TargetTemperature float64       `json:"targetTemperature" yaml:"targetTemperature"`
	Pressure          float64       `json:"pressure" yaml:"pressure"`
	TargetPressure    float64       `json:"targetPressure" yaml:"targetPressure"`
	ProductionRate    float64       `json:"productionRate" yaml:"productionRate"`
	EnergyConsumption float64       `json:"energyConsumption" yaml:"energyConsumption"`
	Composition       Composition   `json:"composition" yaml:"composition"`
	LastUpdated       time.Time     `json:"lastUpdated" yaml:"-"`
}

// FurnaceUpdate is a partial furnace write. Nil fields are left untouched.
type FurnaceUpdate struct {
	Status            *FurnaceStatus
	Temperature       *float64
	Pressure          *float64
	ProductionRate    *float64
	EnergyConsumption *float64
}

// Apply merges u into f and stamps LastUpdated.
func (f Furnace) Apply(u FurnaceUpdate, now time.Time) Furnace {
	if u.Status != nil {
		f.Status = *u.Status
	}
	if u.Temperature != nil {
		f.Temperature = *u.Temperature
	}
	if u.Pressure != nil {
		f.Pressure = *u.Pressure
	}
	if u.ProductionRate != nil {
		f.ProductionRate = *u.ProductionRate
	}
	if u.EnergyConsumption != nil {
		f.EnergyConsumption = *u.EnergyConsumption
	}
	f.LastUpdated = now
	return f
}

type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorPressure    SensorType = "pressure"
	SensorVibration   SensorType = "vibration"
	SensorChemical    SensorType = "chemical"
	SensorFlow        SensorType = "flow"
	SensorLevel       SensorType = "level"
)

type SensorStatus string

const (
	SensorHealthy  SensorStatus = "healthy"
	SensorWarning  SensorStatus = "warning"
	SensorCritical SensorStatus = "critical"
	SensorOffline  SensorStatus = "offline"
)

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

type Sensor struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Type        SensorType   `json:"type" yaml:"type"`
	Value       float64      `json:"value" yaml:"value"`
	Unit        string       `json:"unit" yaml:"unit"`
	Status      SensorStatus `json:"status" yaml:"status"`
	Zone        string       `json:"zone" yaml:"zone"`
	Trend       Trend        `json:"trend" yaml:"trend"`
	LastUpdated time.Time    `json:"lastUpdated" yaml:"-"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

type Alert struct {
	ID           string    `json:"id"`
	Severity     Severity  `json:"severity"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
	FurnaceID    string    `json:"furnaceId,omitempty"`
	SensorID     string    `json:"sensorId,omitempty"`
}

type ProductionMetric struct {
	Timestamp         time.Time `json:"timestamp"`
	Throughput        float64   `json:"throughput"`
	DefectRate        float64   `json:"defectRate"`
	EnergyConsumption float64   `json:"energyConsumption"`
	OEE               float64   `json:"oee"`
	Quality           float64   `json:"quality"`
}

type KPIStatus string

const (
	KPIGood     KPIStatus = "good"
	KPIWarning  KPIStatus = "warning"
	KPICritical KPIStatus = "critical"
)

// KPI is identified by its Label.
type KPI struct {
	Label  string    `json:"label" yaml:"label"`
	Value  float64   `json:"value" yaml:"value"`
	Unit   string    `json:"unit" yaml:"unit"`
	Change float64   `json:"change" yaml:"change"`
	Trend  Trend     `json:"trend" yaml:"trend"`
	Status KPIStatus `json:"status" yaml:"status"`
}

type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

type HotspotSensor struct {
	Name   string  `json:"name" yaml:"name"`
	Value  float64 `json:"value" yaml:"value"`
	Unit   string  `json:"unit" yaml:"unit"`
	Status string  `json:"status" yaml:"status"`
}

type Hotspot struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Position Position        `json:"position" yaml:"position"`
	Sensors  []HotspotSensor `json:"sensors" yaml:"sensors"`
	Status   string          `json:"status" yaml:"status"`
}

type Prediction struct {
	ID             string    `json:"id" yaml:"-"`
	Type           string    `json:"type" yaml:"type"`
	Title          string    `json:"title" yaml:"title"`
	Description    string    `json:"description" yaml:"description"`
	Confidence     float64   `json:"confidence" yaml:"confidence"`
	Impact         string    `json:"impact" yaml:"impact"`
	Recommendation string    `json:"recommendation" yaml:"recommendation"`
	Timestamp      time.Time `json:"timestamp" yaml:"-"`
}

type BoundingBox struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

type Detection struct {
	ID          string      `json:"id" yaml:"id"`
	Type        string      `json:"type" yaml:"type"`
	Confidence  float64     `json:"confidence" yaml:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox" yaml:"boundingBox"`
}

type CameraFeed struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Location    string      `json:"location" yaml:"location"`
	Status      string      `json:"status" yaml:"status"`
	Detections  []Detection `json:"detections" yaml:"detections"`
	DefectCount int         `json:"defectCount" yaml:"-"`
	LastUpdate  time.Time   `json:"lastUpdate" yaml:"-"`
}

// WithDetections replaces the detections and keeps DefectCount in step.
func (c CameraFeed) WithDetections(detections []Detection, now time.Time) CameraFeed {
	c.Detections = slices.Clone(detections)
	if c.Detections == nil {
		c.Detections = []Detection{}
	}
	c.DefectCount = len(c.Detections)
	c.LastUpdate = now
	return c
}

// Dataset is the initial plant state a backing is seeded with.
type Dataset struct {
	Furnaces    []Furnace    `yaml:"furnaces"`
	Sensors     []Sensor     `yaml:"sensors"`
	KPIs        []KPI        `yaml:"kpis"`
	Hotspots    []Hotspot    `yaml:"hotspots"`
	Predictions []Prediction `yaml:"predictions"`
	Cameras     []CameraFeed `yaml:"cameras"`
}
