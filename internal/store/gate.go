package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/platform/retry"
)

// ErrPromotionPending is reported by Check while a persistent backing is still connecting.
var ErrPromotionPending = errors.New("store promotion pending")

// Connector opens a persistent backing.
type Connector func(ctx context.Context) (domain.Store, error)

type backing struct {
	name  string
	store domain.Store
}

// Gate is the Store every component holds. It serves from an already seeded
// backing from the first call and switches atomically once a persistent
// backing has connected and been seeded. Nothing ever observes an
// uninitialized store.
type Gate struct {
	current atomic.Pointer[backing]
	pending atomic.Bool
}

var _ domain.Store = (*Gate)(nil)

func NewGate(name string, initial domain.Store) *Gate {
	g := &Gate{}
	g.current.Store(&backing{name: name, store: initial})
	return g
}

// Backend names the backing currently serving calls.
func (g *Gate) Backend() string {
	return g.current.Load().name
}

// Ready reports whether no promotion is in flight.
func (g *Gate) Ready() bool {
	return !g.pending.Load()
}

// Check is the readiness probe: it fails while a promotion is pending and
// pings the active backing when it supports it.
func (g *Gate) Check(ctx context.Context) error {
	if g.pending.Load() {
		return ErrPromotionPending
	}
	if p, ok := g.active().(domain.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s ping: %w", g.Backend(), err)
		}
	}
	return nil
}

// Promote connects (retrying per policy) and seeds a persistent backing in the
// background, then swaps it in. On failure the current backing stays active.
// The returned channel yields the outcome exactly once.
func (g *Gate) Promote(ctx context.Context, name string, connect Connector, data domain.Dataset, policy retry.Policy) <-chan error {
	done := make(chan error, 1)
	g.pending.Store(true)

	go func() {
		defer g.pending.Store(false)

		err := g.promote(ctx, name, connect, data, policy)
		if err != nil {
			slog.ErrorContext(ctx, "Store promotion failed, staying on current backing",
				"target", name, "backend", g.Backend(), "error", err)
		} else {
			slog.InfoContext(ctx, "Store promoted", "backend", name)
		}
		done <- err
	}()

	return done
}

func (g *Gate) promote(ctx context.Context, name string, connect Connector, data domain.Dataset, policy retry.Policy) error {
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
			slog.WarnContext(ctx, "Persistent store not reachable yet",
				"target", name, "attempt", attempt, "backoff", backoff, "error", err)
		}
	}

	next, err := retry.Do(ctx, policy, retry.Transient, func(ctx context.Context) (domain.Store, error) {
		return connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}

	if seeder, ok := next.(domain.Seeder); ok {
		if err := seeder.Seed(ctx, data); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}

	g.current.Store(&backing{name: name, store: next})
	return nil
}

func (g *Gate) active() domain.Store {
	return g.current.Load().store
}

func (g *Gate) ListFurnaces(ctx context.Context) ([]domain.Furnace, error) {
	return g.active().ListFurnaces(ctx)
}

func (g *Gate) GetFurnace(ctx context.Context, id string) (domain.Furnace, error) {
	return g.active().GetFurnace(ctx, id)
}

func (g *Gate) UpdateFurnace(ctx context.Context, id string, update domain.FurnaceUpdate) (domain.Furnace, error) {
	return g.active().UpdateFurnace(ctx, id, update)
}

func (g *Gate) ListSensors(ctx context.Context) ([]domain.Sensor, error) {
	return g.active().ListSensors(ctx)
}

func (g *Gate) GetSensor(ctx context.Context, id string) (domain.Sensor, error) {
	return g.active().GetSensor(ctx, id)
}

func (g *Gate) UpdateSensorValue(ctx context.Context, id string, value float64) (domain.Sensor, error) {
	return g.active().UpdateSensorValue(ctx, id, value)
}

func (g *Gate) ListAlerts(ctx context.Context) ([]domain.Alert, error) {
	return g.active().ListAlerts(ctx)
}

func (g *Gate) CreateAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	return g.active().CreateAlert(ctx, alert)
}

func (g *Gate) AcknowledgeAlert(ctx context.Context, id string) (domain.Alert, error) {
	return g.active().AcknowledgeAlert(ctx, id)
}

func (g *Gate) AddProductionMetric(ctx context.Context, metric domain.ProductionMetric) error {
	return g.active().AddProductionMetric(ctx, metric)
}

func (g *Gate) RecentProductionMetrics(ctx context.Context) ([]domain.ProductionMetric, error) {
	return g.active().RecentProductionMetrics(ctx)
}

func (g *Gate) ListKPIs(ctx context.Context) ([]domain.KPI, error) {
	return g.active().ListKPIs(ctx)
}

func (g *Gate) UpdateKPI(ctx context.Context, label string, value, change float64) error {
	return g.active().UpdateKPI(ctx, label, value, change)
}

func (g *Gate) ListHotspots(ctx context.Context) ([]domain.Hotspot, error) {
	return g.active().ListHotspots(ctx)
}

func (g *Gate) ListPredictions(ctx context.Context) ([]domain.Prediction, error) {
	return g.active().ListPredictions(ctx)
}

func (g *Gate) CreatePrediction(ctx context.Context, prediction domain.Prediction) (domain.Prediction, error) {
	return g.active().CreatePrediction(ctx, prediction)
}

func (g *Gate) ListCameraFeeds(ctx context.Context) ([]domain.CameraFeed, error) {
	return g.active().ListCameraFeeds(ctx)
}

func (g *Gate) UpdateCameraDetections(ctx context.Context, id string, detections []domain.Detection) (domain.CameraFeed, error) {
	return g.active().UpdateCameraDetections(ctx, id, detections)
}
