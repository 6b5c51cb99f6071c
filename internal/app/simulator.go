package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/platform/correlation"
)

const (
	defaultTickInterval = 2 * time.Second
	defaultStoreTimeout = 2 * time.Second
)

type SimulatorConfig struct {
	Interval     time.Duration
	StoreTimeout time.Duration
	Thresholds   domain.Thresholds
	// DeduplicateAlerts raises an alert once per excursion instead of on every tick.
	DeduplicateAlerts bool
	// Leader, when set, gates ticking so that replicas sharing a backing do
	// not advance it concurrently.
	Leader interface{ IsLeader() bool }
}

// TickResult summarizes one simulation step.
type TickResult struct {
	FurnacesAdvanced int
	SensorsAdvanced  int
	KPIsAdvanced     int
	AlertsRaised     int
	Failures         int
}

// Simulator advances the plant state once per interval: active furnaces drift
// toward target, live sensors jitter, KPIs wander and one production metric
// sample is recorded. Alerts are derived from the new values.
type Simulator struct {
	store   domain.Store
	clock   clockwork.Clock
	rnd     domain.Random
	metrics *metrics.SimulationMetrics
	cfg     SimulatorConfig

	mu       sync.Mutex
	excursed map[string]struct{}
}

func NewSimulator(store domain.Store, clock clockwork.Clock, rnd domain.Random, m *metrics.SimulationMetrics, cfg SimulatorConfig) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultTickInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	return &Simulator{
		store:    store,
		clock:    clock,
		rnd:      rnd,
		metrics:  m,
		cfg:      cfg,
		excursed: make(map[string]struct{}),
	}
}

// Run ticks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "Simulator started", "interval", s.cfg.Interval, "deduplicate_alerts", s.cfg.DeduplicateAlerts)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Simulator stopped")
			return
		case <-ticker.Chan():
			if s.cfg.Leader != nil && !s.cfg.Leader.IsLeader() {
				s.metrics.SkippedTicks.Inc()
				continue
			}
			s.Tick(ctx)
		}
	}
}

// Tick advances the world once. Per-entity failures are logged and counted;
// they never abort the tick.
func (s *Simulator) Tick(ctx context.Context) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, _ = correlation.WithNewID(ctx, correlation.ScopeTick)
	start := s.clock.Now()
	var res TickResult

	furnaces, ok := s.advanceFurnaces(ctx, &res)
	s.advanceSensors(ctx, &res)
	s.advanceKPIs(ctx, &res)
	if ok {
		s.recordProductionMetric(ctx, furnaces, &res)
	}

	s.metrics.Ticks.Inc()
	s.metrics.TickDuration.Observe(s.clock.Since(start).Seconds())
	slog.DebugContext(ctx, "Simulation tick",
		"furnaces", res.FurnacesAdvanced, "sensors", res.SensorsAdvanced, "kpis", res.KPIsAdvanced,
		"alerts", res.AlertsRaised, "failures", res.Failures)
	return res
}

// advanceFurnaces returns every furnace as it stands after the tick. The bool
// is false when the furnaces could not be listed at all.
func (s *Simulator) advanceFurnaces(ctx context.Context, res *TickResult) ([]domain.Furnace, bool) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	list, err := s.store.ListFurnaces(callCtx)
	cancel()
	if err != nil {
		slog.ErrorContext(ctx, "Simulator: list furnaces failed", "error", err)
		s.fail(res, "furnace")
		return nil, false
	}

	out := make([]domain.Furnace, 0, len(list))
	for _, f := range list {
		if f.Status != domain.FurnaceActive {
			out = append(out, f)
			continue
		}

		update := driftFurnace(f, s.rnd)
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		updated, err := s.store.UpdateFurnace(callCtx, f.ID, update)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "Simulator: furnace update failed", "furnace", f.ID, "error", err)
			s.fail(res, "furnace")
			out = append(out, f)
			continue
		}
		out = append(out, updated)
		res.FurnacesAdvanced++
		s.metrics.EntityUpdates.WithLabelValues("furnace").Inc()

		alert, raised := domain.FurnaceOverheatAlert(f, *update.Temperature, s.cfg.Thresholds, s.clock.Now())
		s.derive(ctx, "furnace:"+f.ID+":overheat", alert, raised, res)
	}
	return out, true
}

func driftFurnace(f domain.Furnace, rnd domain.Random) domain.FurnaceUpdate {
	tempChange := domain.Uniform(rnd, -10, 10) + 0.1*(f.TargetTemperature-f.Temperature)
	temp := max(0, f.Temperature+tempChange)
	pressure := max(0, f.Pressure+domain.Uniform(rnd, -0.1, 0.1))
	rate := max(0, f.ProductionRate+domain.Uniform(rnd, -5, 5))

	var energy float64
	if f.TargetTemperature != 0 {
		energy = temp / f.TargetTemperature * 1300
	}
	energy = max(0, energy+rate/500*200)

	return domain.FurnaceUpdate{
		Temperature:       &temp,
		Pressure:          &pressure,
		ProductionRate:    &rate,
		EnergyConsumption: &energy,
	}
}

func (s *Simulator) advanceSensors(ctx context.Context, res *TickResult) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	list, err := s.store.ListSensors(callCtx)
	cancel()
	if err != nil {
		slog.ErrorContext(ctx, "Simulator: list sensors failed", "error", err)
		s.fail(res, "sensor")
		return
	}

	for _, sensor := range list {
		if sensor.Status == domain.SensorOffline {
			continue
		}

		value := max(0, sensor.Value+sensorChange(sensor, s.rnd))
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		_, err := s.store.UpdateSensorValue(callCtx, sensor.ID, value)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "Simulator: sensor update failed", "sensor", sensor.ID, "error", err)
			s.fail(res, "sensor")
			continue
		}
		res.SensorsAdvanced++
		s.metrics.EntityUpdates.WithLabelValues("sensor").Inc()

		// Gated on the status stored before this tick.
		alert, raised := domain.VibrationAlert(sensor, value, s.cfg.Thresholds, s.clock.Now())
		s.derive(ctx, "sensor:"+sensor.ID+":vibration", alert, raised, res)
	}
}

func sensorChange(s domain.Sensor, rnd domain.Random) float64 {
	switch s.Type {
	case domain.SensorTemperature:
		return domain.Uniform(rnd, -0.01, 0.01) * s.Value
	case domain.SensorPressure:
		return domain.Uniform(rnd, -0.15, 0.15)
	case domain.SensorVibration:
		return domain.Uniform(rnd, -0.25, 0.25)
	case domain.SensorChemical:
		return domain.Uniform(rnd, -0.05, 0.05)
	case domain.SensorFlow:
		return domain.Uniform(rnd, -0.025, 0.025) * s.Value
	case domain.SensorLevel:
		return domain.Uniform(rnd, -1, 1)
	default:
		return 0
	}
}

func (s *Simulator) advanceKPIs(ctx context.Context, res *TickResult) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	list, err := s.store.ListKPIs(callCtx)
	cancel()
	if err != nil {
		slog.ErrorContext(ctx, "Simulator: list kpis failed", "error", err)
		s.fail(res, "kpi")
		return
	}

	for _, k := range list {
		delta := domain.Uniform(s.rnd, -0.01, 0.01) * k.Value
		var change float64
		if k.Value != 0 {
			change = delta / k.Value * 100
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err := s.store.UpdateKPI(callCtx, k.Label, k.Value+delta, change)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "Simulator: kpi update failed", "kpi", k.Label, "error", err)
			s.fail(res, "kpi")
			continue
		}
		res.KPIsAdvanced++
		s.metrics.EntityUpdates.WithLabelValues("kpi").Inc()
	}
}

func (s *Simulator) recordProductionMetric(ctx context.Context, furnaces []domain.Furnace, res *TickResult) {
	var throughput, energy float64
	for _, f := range furnaces {
		if f.Status == domain.FurnaceActive {
			throughput += f.ProductionRate
		}
		energy += f.EnergyConsumption
	}

	metric := domain.ProductionMetric{
		Timestamp:         s.clock.Now(),
		Throughput:        throughput,
		DefectRate:        2 + domain.Uniform(s.rnd, 0, 3),
		EnergyConsumption: energy / 1000,
		OEE:               85 + domain.Uniform(s.rnd, 0, 10),
		Quality:           90 + domain.Uniform(s.rnd, 0, 8),
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.store.AddProductionMetric(callCtx, metric); err != nil {
		slog.WarnContext(ctx, "Simulator: production metric append failed", "error", err)
		s.fail(res, "metric")
		return
	}
	s.metrics.EntityUpdates.WithLabelValues("metric").Inc()
}

// derive persists a freshly derived alert. With deduplication enabled an
// alert is raised only on the first tick of an excursion; the excursion ends
// once the rule stops firing for that entity.
func (s *Simulator) derive(ctx context.Context, key string, alert domain.Alert, raised bool, res *TickResult) {
	if !raised {
		delete(s.excursed, key)
		return
	}
	if s.cfg.DeduplicateAlerts {
		if _, seen := s.excursed[key]; seen {
			return
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	created, err := s.store.CreateAlert(callCtx, alert)
	cancel()
	if err != nil {
		slog.WarnContext(ctx, "Simulator: alert append failed", "title", alert.Title, "error", err)
		s.fail(res, "alert")
		return
	}

	s.excursed[key] = struct{}{}
	res.AlertsRaised++
	s.metrics.AlertsRaised.WithLabelValues(created.Source).Inc()
	slog.InfoContext(ctx, "Alert raised", "alert_id", created.ID, "title", created.Title, "severity", created.Severity)
}

func (s *Simulator) fail(res *TickResult, kind string) {
	res.Failures++
	s.metrics.EntityErrors.WithLabelValues(kind).Inc()
}
