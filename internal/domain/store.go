package domain

import "context"

// Store owns every plant collection. Reads return copies; callers never hold
// references into backing state. Unknown ids or labels fail with ErrNotFound,
// backing failures with ErrStoreUnavailable.
type Store interface {
	ListFurnaces(ctx context.Context) ([]Furnace, error)
	GetFurnace(ctx context.Context, id string) (Furnace, error)
	UpdateFurnace(ctx context.Context, id string, update FurnaceUpdate) (Furnace, error)

	ListSensors(ctx context.Context) ([]Sensor, error)
	GetSensor(ctx context.Context, id string) (Sensor, error)
	UpdateSensorValue(ctx context.Context, id string, value float64) (Sensor, error)

	ListAlerts(ctx context.Context) ([]Alert, error)
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) (Alert, error)

	AddProductionMetric(ctx context.Context, metric ProductionMetric) error
	RecentProductionMetrics(ctx context.Context) ([]ProductionMetric, error)

	ListKPIs(ctx context.Context) ([]KPI, error)
	UpdateKPI(ctx context.Context, label string, value, change float64) error

	ListHotspots(ctx context.Context) ([]Hotspot, error)

	ListPredictions(ctx context.Context) ([]Prediction, error)
	CreatePrediction(ctx context.Context, prediction Prediction) (Prediction, error)

	ListCameraFeeds(ctx context.Context) ([]CameraFeed, error)
	UpdateCameraDetections(ctx context.Context, id string, detections []Detection) (CameraFeed, error)
}

// Seeder is implemented by backings that can be populated from a Dataset.
type Seeder interface {
	Seed(ctx context.Context, data Dataset) error
}

// Pinger is implemented by backings with a remote dependency worth probing.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricRetention bounds the production metric history. When the history
// grows beyond Cap it is cut down to the newest Trim samples. Recent is the
// window returned by RecentProductionMetrics, oldest first.
type MetricRetention struct {
	Cap    int
	Trim   int
	Recent int
}

var DefaultMetricRetention = MetricRetention{Cap: 1000, Trim: 500, Recent: 24}
