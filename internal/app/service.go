package app

import (
	"context"
	"time"

	"github.com/pscheid92/plantpulse/internal/domain"
)

// Service serves the read and acknowledge use cases behind the REST API.
// Every store call runs under its own timeout.
type Service struct {
	store   domain.Store
	timeout time.Duration
}

func NewService(store domain.Store, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Service{store: store, timeout: timeout}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func (s *Service) Furnaces(ctx context.Context) ([]domain.Furnace, error) {
	return call(ctx, s.timeout, s.store.ListFurnaces)
}

func (s *Service) Furnace(ctx context.Context, id string) (domain.Furnace, error) {
	return call(ctx, s.timeout, func(ctx context.Context) (domain.Furnace, error) {
		return s.store.GetFurnace(ctx, id)
	})
}

func (s *Service) Sensors(ctx context.Context) ([]domain.Sensor, error) {
	return call(ctx, s.timeout, s.store.ListSensors)
}

func (s *Service) Sensor(ctx context.Context, id string) (domain.Sensor, error) {
	return call(ctx, s.timeout, func(ctx context.Context) (domain.Sensor, error) {
		return s.store.GetSensor(ctx, id)
	})
}

func (s *Service) Alerts(ctx context.Context) ([]domain.Alert, error) {
	return call(ctx, s.timeout, s.store.ListAlerts)
}

// AcknowledgeAlert is idempotent.
func (s *Service) AcknowledgeAlert(ctx context.Context, id string) (domain.Alert, error) {
	return call(ctx, s.timeout, func(ctx context.Context) (domain.Alert, error) {
		return s.store.AcknowledgeAlert(ctx, id)
	})
}

// ProductionMetrics returns the recent window, oldest first.
func (s *Service) ProductionMetrics(ctx context.Context) ([]domain.ProductionMetric, error) {
	return call(ctx, s.timeout, s.store.RecentProductionMetrics)
}

func (s *Service) Predictions(ctx context.Context) ([]domain.Prediction, error) {
	return call(ctx, s.timeout, s.store.ListPredictions)
}

func (s *Service) CameraFeeds(ctx context.Context) ([]domain.CameraFeed, error) {
	return call(ctx, s.timeout, s.store.ListCameraFeeds)
}

func (s *Service) KPIs(ctx context.Context) ([]domain.KPI, error) {
	return call(ctx, s.timeout, s.store.ListKPIs)
}

func (s *Service) Hotspots(ctx context.Context) ([]domain.Hotspot, error) {
	return call(ctx, s.timeout, s.store.ListHotspots)
}
