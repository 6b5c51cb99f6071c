package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/plantpulse/internal/domain"
)

// collection keeps entities by identity and remembers insertion order so
// listings are stable across calls.
type collection[T any] struct {
	order []string
	items map[string]T
}

func newCollection[T any]() collection[T] {
	return collection[T]{items: make(map[string]T)}
}

func (c *collection[T]) put(id string, item T) {
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = item
}

func (c *collection[T]) get(id string) (T, bool) {
	item, ok := c.items[id]
	return item, ok
}

func (c *collection[T]) list(clone func(T) T) []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, clone(c.items[id]))
	}
	return out
}

func identity[T any](v T) T { return v }

// Memory is the process-local backing. Readers run concurrently, writers are
// serialized. Every value leaving the store is a copy.
type Memory struct {
	clock     clockwork.Clock
	retention domain.MetricRetention

	mu          sync.RWMutex
	furnaces    collection[domain.Furnace]
	sensors     collection[domain.Sensor]
	alerts      collection[domain.Alert]
	kpis        collection[domain.KPI]
	cameras     collection[domain.CameraFeed]
	hotspots    []domain.Hotspot
	predictions []domain.Prediction
	metrics     []domain.ProductionMetric
}

var (
	_ domain.Store  = (*Memory)(nil)
	_ domain.Seeder = (*Memory)(nil)
)

func NewMemory(clock clockwork.Clock, retention domain.MetricRetention) *Memory {
	return &Memory{
		clock:     clock,
		retention: retention,
		furnaces:  newCollection[domain.Furnace](),
		sensors:   newCollection[domain.Sensor](),
		alerts:    newCollection[domain.Alert](),
		kpis:      newCollection[domain.KPI](),
		cameras:   newCollection[domain.CameraFeed](),
	}
}

// Seed replaces the seedable collections. Alerts and metric history are kept.
func (m *Memory) Seed(_ context.Context, data domain.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.furnaces = newCollection[domain.Furnace]()
	for _, f := range data.Furnaces {
		m.furnaces.put(f.ID, f)
	}
	m.sensors = newCollection[domain.Sensor]()
	for _, s := range data.Sensors {
		m.sensors.put(s.ID, s)
	}
	m.kpis = newCollection[domain.KPI]()
	for _, k := range data.KPIs {
		m.kpis.put(k.Label, k)
	}
	m.cameras = newCollection[domain.CameraFeed]()
	for _, c := range data.Cameras {
		m.cameras.put(c.ID, cloneCamera(c))
	}

	m.hotspots = make([]domain.Hotspot, 0, len(data.Hotspots))
	for _, h := range data.Hotspots {
		m.hotspots = append(m.hotspots, cloneHotspot(h))
	}
	m.predictions = slices.Clone(data.Predictions)
	return nil
}

func (m *Memory) ListFurnaces(_ context.Context) ([]domain.Furnace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.furnaces.list(identity), nil
}

func (m *Memory) GetFurnace(_ context.Context, id string) (domain.Furnace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.furnaces.get(id)
	if !ok {
		return domain.Furnace{}, fmt.Errorf("furnace %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

func (m *Memory) UpdateFurnace(_ context.Context, id string, update domain.FurnaceUpdate) (domain.Furnace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.furnaces.get(id)
	if !ok {
		return domain.Furnace{}, fmt.Errorf("furnace %s: %w", id, domain.ErrNotFound)
	}
	f = f.Apply(update, m.clock.Now())
	m.furnaces.put(id, f)
	return f, nil
}

func (m *Memory) ListSensors(_ context.Context) ([]domain.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sensors.list(identity), nil
}

func (m *Memory) GetSensor(_ context.Context, id string) (domain.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sensors.get(id)
	if !ok {
		return domain.Sensor{}, fmt.Errorf("sensor %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (m *Memory) UpdateSensorValue(_ context.Context, id string, value float64) (domain.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sensors.get(id)
	if !ok {
		return domain.Sensor{}, fmt.Errorf("sensor %s: %w", id, domain.ErrNotFound)
	}
	s.Value = value
	s.LastUpdated = m.clock.Now()
	m.sensors.put(id, s)
	return s, nil
}

func (m *Memory) ListAlerts(_ context.Context) ([]domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alerts.list(identity), nil
}

func (m *Memory) CreateAlert(_ context.Context, alert domain.Alert) (domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert.ID = uuid.NewString()
	m.alerts.put(alert.ID, alert)
	return alert, nil
}

func (m *Memory) AcknowledgeAlert(_ context.Context, id string) (domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts.get(id)
	if !ok {
		return domain.Alert{}, fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	a.Acknowledged = true
	m.alerts.put(id, a)
	return a, nil
}

func (m *Memory) AddProductionMetric(_ context.Context, metric domain.ProductionMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics = append(m.metrics, metric)
	if len(m.metrics) > m.retention.Cap {
		m.metrics = slices.Clone(m.metrics[len(m.metrics)-m.retention.Trim:])
	}
	return nil
}

func (m *Memory) RecentProductionMetrics(_ context.Context) ([]domain.ProductionMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := max(0, len(m.metrics)-m.retention.Recent)
	return slices.Clone(m.metrics[start:]), nil
}

// historyLen is used by tests to observe trimming.
func (m *Memory) historyLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.metrics)
}

func (m *Memory) ListKPIs(_ context.Context) ([]domain.KPI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kpis.list(identity), nil
}

func (m *Memory) UpdateKPI(_ context.Context, label string, value, change float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.kpis.get(label)
	if !ok {
		return fmt.Errorf("kpi %q: %w", label, domain.ErrNotFound)
	}
	k.Value = value
	k.Change = change
	m.kpis.put(label, k)
	return nil
}

func (m *Memory) ListHotspots(_ context.Context) ([]domain.Hotspot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Hotspot, 0, len(m.hotspots))
	for _, h := range m.hotspots {
		out = append(out, cloneHotspot(h))
	}
	return out, nil
}

func (m *Memory) ListPredictions(_ context.Context) ([]domain.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.predictions), nil
}

func (m *Memory) CreatePrediction(_ context.Context, prediction domain.Prediction) (domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prediction.ID = uuid.NewString()
	m.predictions = append(m.predictions, prediction)
	return prediction, nil
}

func (m *Memory) ListCameraFeeds(_ context.Context) ([]domain.CameraFeed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cameras.list(cloneCamera), nil
}

func (m *Memory) UpdateCameraDetections(_ context.Context, id string, detections []domain.Detection) (domain.CameraFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cameras.get(id)
	if !ok {
		return domain.CameraFeed{}, fmt.Errorf("camera %s: %w", id, domain.ErrNotFound)
	}
	c = c.WithDetections(detections, m.clock.Now())
	m.cameras.put(id, c)
	return cloneCamera(c), nil
}

func cloneCamera(c domain.CameraFeed) domain.CameraFeed {
	c.Detections = slices.Clone(c.Detections)
	return c
}

func cloneHotspot(h domain.Hotspot) domain.Hotspot {
	h.Sensors = slices.Clone(h.Sensors)
	return h
}
