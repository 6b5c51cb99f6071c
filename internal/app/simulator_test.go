package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/store"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// fixedRandom returns the same draw every time. 0.5 maps every symmetric
// jitter range to zero.
type fixedRandom float64

func (r fixedRandom) Float64() float64 { return float64(r) }

func newSeededStore(t *testing.T, clock clockwork.Clock) *store.Memory {
	t.Helper()
	mem := store.NewMemory(clock, domain.DefaultMetricRetention)
	data, err := store.LoadSeed(clock.Now())
	require.NoError(t, err)
	require.NoError(t, mem.Seed(context.Background(), data))
	return mem
}

func newStoreWith(t *testing.T, clock clockwork.Clock, data domain.Dataset) *store.Memory {
	t.Helper()
	mem := store.NewMemory(clock, domain.DefaultMetricRetention)
	require.NoError(t, mem.Seed(context.Background(), data))
	return mem
}

func newTestSimulator(s domain.Store, clock clockwork.Clock, r float64, dedup bool) (*Simulator, *metrics.SimulationMetrics) {
	m := metrics.NewSimulationMetrics(prometheus.NewRegistry())
	sim := NewSimulator(s, clock, fixedRandom(r), m, SimulatorConfig{
		Interval:          2 * time.Second,
		StoreTimeout:      time.Second,
		Thresholds:        domain.DefaultThresholds,
		DeduplicateAlerts: dedup,
	})
	return sim, m
}

// failingStore injects errors into selected calls of an otherwise working store.
type failingStore struct {
	domain.Store
	failFurnace   string
	failList      bool
	failAlertOnce bool
}

var errBackendDown = fmt.Errorf("redis: %w", domain.ErrStoreUnavailable)

func (f *failingStore) ListFurnaces(ctx context.Context) ([]domain.Furnace, error) {
	if f.failList {
		return nil, errBackendDown
	}
	return f.Store.ListFurnaces(ctx)
}

func (f *failingStore) UpdateFurnace(ctx context.Context, id string, u domain.FurnaceUpdate) (domain.Furnace, error) {
	if id == f.failFurnace {
		return domain.Furnace{}, errBackendDown
	}
	return f.Store.UpdateFurnace(ctx, id, u)
}

func (f *failingStore) CreateAlert(ctx context.Context, a domain.Alert) (domain.Alert, error) {
	if f.failAlertOnce {
		f.failAlertOnce = false
		return domain.Alert{}, errBackendDown
	}
	return f.Store.CreateAlert(ctx, a)
}

func TestSimulator_Tick_AdvancesSeedAtMidpoint(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	sim, m := newTestSimulator(mem, clock, 0.5, false)
	ctx := context.Background()

	res := sim.Tick(ctx)

	assert.Equal(t, TickResult{FurnacesAdvanced: 4, SensorsAdvanced: 16, KPIsAdvanced: 4}, res)

	f1, err := mem.GetFurnace(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, 1655.0, f1.Temperature)
	assert.Equal(t, 2.8, f1.Pressure)
	assert.Equal(t, 485.0, f1.ProductionRate)
	assert.InDelta(t, 1655.0/1700*1300+485.0/500*200, f1.EnergyConsumption, 1e-9)

	f4, err := mem.GetFurnace(ctx, "F4")
	require.NoError(t, err)
	assert.Equal(t, 850.0, f4.Temperature, "idle furnaces are not advanced")
	assert.Equal(t, 120.0, f4.EnergyConsumption)

	furnaces, err := mem.ListFurnaces(ctx)
	require.NoError(t, err)
	var energy float64
	for _, f := range furnaces {
		energy += f.EnergyConsumption
	}

	recent, err := mem.RecentProductionMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 1662.0, recent[0].Throughput)
	assert.Equal(t, 3.5, recent[0].DefectRate)
	assert.Equal(t, 90.0, recent[0].OEE)
	assert.Equal(t, 94.0, recent[0].Quality)
	assert.InDelta(t, energy/1000, recent[0].EnergyConsumption, 1e-9)
	assert.Equal(t, testNow, recent[0].Timestamp)

	alerts, err := mem.ListAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 16.0, testutil.ToFloat64(m.EntityUpdates.WithLabelValues("sensor")))
}

func TestSimulator_Tick_JitterAndKPIChange(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	sim, _ := newTestSimulator(mem, clock, 0.75, false)
	ctx := context.Background()

	sim.Tick(ctx)

	t001, err := mem.GetSensor(ctx, "T001")
	require.NoError(t, err)
	assert.InDelta(t, 1650*1.005, t001.Value, 1e-9)
	assert.Equal(t, domain.TrendStable, t001.Trend, "trend is not recomputed")

	t004, err := mem.GetSensor(ctx, "T004")
	require.NoError(t, err)
	assert.Equal(t, 850.0, t004.Value, "offline sensors are frozen")
	assert.True(t, t004.LastUpdated.Equal(testNow))

	kpis, err := mem.ListKPIs(ctx)
	require.NoError(t, err)
	for _, k := range kpis {
		assert.InDelta(t, 0.5, k.Change, 1e-9, k.Label)
	}
	assert.InDelta(t, 2847*1.005, kpis[0].Value, 1e-9)
}

func TestSimulator_Tick_ZeroValuedKPIHasZeroChange(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newStoreWith(t, clock, domain.Dataset{
		KPIs: []domain.KPI{{Label: "Downtime", Value: 0, Unit: "h", Change: 3}},
	})
	sim, _ := newTestSimulator(mem, clock, 0.9, false)

	sim.Tick(context.Background())

	kpis, err := mem.ListKPIs(context.Background())
	require.NoError(t, err)
	require.Len(t, kpis, 1)
	assert.Equal(t, 0.0, kpis[0].Value)
	assert.Equal(t, 0.0, kpis[0].Change)
}

func TestSimulator_Tick_ClampsAtZero(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newStoreWith(t, clock, domain.Dataset{
		Furnaces: []domain.Furnace{{ID: "F0", Name: "Cold", Status: domain.FurnaceActive, Temperature: 0, Pressure: 0.01, ProductionRate: 1}},
		Sensors:  []domain.Sensor{{ID: "L1", Name: "Tank", Type: domain.SensorLevel, Value: 0.2, Status: domain.SensorHealthy}},
	})
	sim, _ := newTestSimulator(mem, clock, 0, false)

	sim.Tick(context.Background())

	f, err := mem.GetFurnace(context.Background(), "F0")
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.Temperature)
	assert.Equal(t, 0.0, f.Pressure)
	assert.Equal(t, 0.0, f.ProductionRate)
	assert.Equal(t, 0.0, f.EnergyConsumption, "no temperature term with zero target")

	s, err := mem.GetSensor(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Value)
}

func overheatingDataset() domain.Dataset {
	return domain.Dataset{
		Furnaces: []domain.Furnace{{
			ID: "F9", Name: "Machine 9", Status: domain.FurnaceActive,
			Temperature: 1800, TargetTemperature: 1700, Pressure: 3, TargetPressure: 3, ProductionRate: 100,
		}},
	}
}

func TestSimulator_Tick_RaisesOverheatAlertEveryTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newStoreWith(t, clock, overheatingDataset())
	sim, m := newTestSimulator(mem, clock, 0.5, false)
	ctx := context.Background()

	res := sim.Tick(ctx)
	assert.Equal(t, 1, res.AlertsRaised)
	sim.Tick(ctx)

	alerts, err := mem.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	first := alerts[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, domain.SeverityCritical, first.Severity)
	assert.Equal(t, "Machine 9 Temperature Exceeded", first.Title)
	assert.Equal(t, "Temperature reached 1790°C (Target: 1700°C)", first.Message)
	assert.Equal(t, domain.SourceFurnaceMonitoring, first.Source)
	assert.Equal(t, "F9", first.FurnaceID)
	assert.False(t, first.Acknowledged)
	assert.Equal(t, "Temperature reached 1781°C (Target: 1700°C)", alerts[1].Message)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsRaised.WithLabelValues(domain.SourceFurnaceMonitoring)))
}

func TestSimulator_Tick_DeduplicatesWithinExcursion(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newStoreWith(t, clock, overheatingDataset())
	sim, _ := newTestSimulator(mem, clock, 0.5, true)
	ctx := context.Background()

	for range 3 {
		sim.Tick(ctx)
	}

	alerts, err := mem.ListAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestSimulator_Tick_RaisesVibrationAlertEveryTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newStoreWith(t, clock, domain.Dataset{
		Sensors: []domain.Sensor{{ID: "V009", Name: "Motor 9 Vib", Type: domain.SensorVibration, Value: 4.6, Unit: "mm/s", Status: domain.SensorHealthy}},
	})
	sim, _ := newTestSimulator(mem, clock, 0.5, false)
	ctx := context.Background()

	for range 3 {
		sim.Tick(ctx)
	}

	alerts, err := mem.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	for _, a := range alerts {
		assert.Equal(t, "V009", a.SensorID)
		assert.Equal(t, domain.SourceSensorNetwork, a.Source)
	}

	s, err := mem.GetSensor(ctx, "V009")
	require.NoError(t, err)
	assert.Equal(t, domain.SensorHealthy, s.Status, "status is stored data, not derived")
}

func TestSimulator_Tick_VibrationAlertRearmsAfterRecovery(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newStoreWith(t, clock, domain.Dataset{
		Sensors: []domain.Sensor{{ID: "V009", Name: "Motor 9 Vib", Type: domain.SensorVibration, Value: 4.6, Unit: "mm/s", Status: domain.SensorHealthy}},
	})
	sim, _ := newTestSimulator(mem, clock, 0.5, true)
	ctx := context.Background()

	sim.Tick(ctx)
	sim.Tick(ctx)

	alerts, err := mem.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "High Vibration Detected", alerts[0].Title)
	assert.Equal(t, "Motor 9 Vib vibration at 4.6 mm/s", alerts[0].Message)
	assert.Equal(t, "V009", alerts[0].SensorID)
	assert.Equal(t, domain.SourceSensorNetwork, alerts[0].Source)

	_, err = mem.UpdateSensorValue(ctx, "V009", 1.2)
	require.NoError(t, err)
	sim.Tick(ctx)

	_, err = mem.UpdateSensorValue(ctx, "V009", 4.6)
	require.NoError(t, err)
	sim.Tick(ctx)

	alerts, err = mem.ListAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestSimulator_Tick_CriticalVibrationSensorDoesNotAlert(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	sim, _ := newTestSimulator(mem, clock, 0.5, false)

	sim.Tick(context.Background())

	v002, err := mem.GetSensor(context.Background(), "V002")
	require.NoError(t, err)
	assert.Equal(t, 4.8, v002.Value)
	alerts, err := mem.ListAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestSimulator_Tick_FurnaceWriteFailureUsesStoredValues(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	failing := &failingStore{Store: mem, failFurnace: "F2"}
	sim, m := newTestSimulator(failing, clock, 0.75, false)
	ctx := context.Background()

	res := sim.Tick(ctx)

	assert.Equal(t, 3, res.FurnacesAdvanced)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 16, res.SensorsAdvanced, "later phases still run")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntityErrors.WithLabelValues("furnace")))

	f2, err := mem.GetFurnace(ctx, "F2")
	require.NoError(t, err)
	assert.Equal(t, 1720.0, f2.Temperature)

	recent, err := mem.RecentProductionMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.InDelta(t, 487.5+502+497.5+182.5, recent[0].Throughput, 1e-9)
}

func TestSimulator_Tick_FurnaceListFailureSkipsPhase(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	sim, _ := newTestSimulator(&failingStore{Store: mem, failList: true}, clock, 0.5, false)
	ctx := context.Background()

	res := sim.Tick(ctx)

	assert.Equal(t, 0, res.FurnacesAdvanced)
	assert.Equal(t, 16, res.SensorsAdvanced)
	assert.Equal(t, 4, res.KPIsAdvanced)
	assert.Equal(t, 1, res.Failures)

	recent, err := mem.RecentProductionMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, recent, "no sample without furnace data")
}

func TestSimulator_Tick_AlertFailureIsRetriedNextTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newStoreWith(t, clock, overheatingDataset())
	failing := &failingStore{Store: mem, failAlertOnce: true}
	sim, _ := newTestSimulator(failing, clock, 0.5, true)
	ctx := context.Background()

	res := sim.Tick(ctx)
	assert.Equal(t, 0, res.AlertsRaised)
	assert.Equal(t, 1, res.Failures)

	res = sim.Tick(ctx)
	assert.Equal(t, 1, res.AlertsRaised, "a lost alert does not count as raised")
}

func TestSimulator_Tick_UnknownIDIsTolerated(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	sim, _ := newTestSimulator(&vanishingStore{Store: mem}, clock, 0.5, false)

	res := sim.Tick(context.Background())

	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 15, res.SensorsAdvanced)
}

// vanishingStore lists a sensor that no longer exists.
type vanishingStore struct {
	domain.Store
}

func (v *vanishingStore) ListSensors(ctx context.Context) ([]domain.Sensor, error) {
	sensors, err := v.Store.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	sensors[0].ID = "GONE"
	return sensors, nil
}

func TestSimulator_Run_TicksOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	sim, m := newTestSimulator(mem, clock, 0.5, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Ticks) == 1
	}, time.Second, 5*time.Millisecond)

	clock.Advance(2 * time.Second)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Ticks) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	recent, err := mem.RecentProductionMetrics(context.Background())
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

type staticLeader bool

func (l staticLeader) IsLeader() bool { return bool(l) }

func TestSimulator_Run_SkipsTicksWhenNotLeader(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	m := metrics.NewSimulationMetrics(prometheus.NewRegistry())
	sim := NewSimulator(mem, clock, fixedRandom(0.5), m, SimulatorConfig{
		Interval: 2 * time.Second,
		Leader:   staticLeader(false),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SkippedTicks) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Zero(t, testutil.ToFloat64(m.Ticks))
	recent, err := mem.RecentProductionMetrics(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestSimulator_DefaultsApplied(t *testing.T) {
	sim := NewSimulator(nil, clockwork.NewFakeClock(), fixedRandom(0.5), metrics.NewSimulationMetrics(prometheus.NewRegistry()), SimulatorConfig{})
	assert.Equal(t, defaultTickInterval, sim.cfg.Interval)
	assert.Equal(t, defaultStoreTimeout, sim.cfg.StoreTimeout)
}

func TestSensorChange_PerType(t *testing.T) {
	r := fixedRandom(1)
	tests := []struct {
		typ   domain.SensorType
		value float64
		want  float64
	}{
		{domain.SensorTemperature, 1000, 10},
		{domain.SensorPressure, 3, 0.15},
		{domain.SensorVibration, 3, 0.25},
		{domain.SensorChemical, 0.5, 0.05},
		{domain.SensorFlow, 100, 2.5},
		{domain.SensorLevel, 50, 1},
		{"unknown", 50, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got := sensorChange(domain.Sensor{Type: tt.typ, Value: tt.value}, r)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
