package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/store"
)

func newSeededStore(t *testing.T, clock clockwork.Clock) *store.Memory {
	t.Helper()
	mem := store.NewMemory(clock, domain.DefaultMetricRetention)
	data, err := store.LoadSeed(clock.Now())
	require.NoError(t, err)
	require.NoError(t, mem.Seed(context.Background(), data))
	return mem
}

// blockingSource counts furnace reads and holds them until released.
type blockingSource struct {
	Source
	reads   atomic.Int32
	release chan struct{}
}

func (b *blockingSource) ListFurnaces(ctx context.Context) ([]domain.Furnace, error) {
	b.reads.Add(1)
	<-b.release
	return b.Source.ListFurnaces(ctx)
}

type brokenSource struct {
	Source
}

func (brokenSource) ListKPIs(context.Context) ([]domain.KPI, error) {
	return nil, fmt.Errorf("kpis: %w", domain.ErrStoreUnavailable)
}

func TestSnapshotter_Build(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	snap := NewSnapshotter(newSeededStore(t, clock), clock, fixedRandom(0.5), time.Second)

	update, err := snap.Build(context.Background())
	require.NoError(t, err)

	assert.Len(t, update.Furnaces, 6)
	assert.Len(t, update.Sensors, 18+7)
	assert.Len(t, update.KPIs, 4)
	assert.Equal(t, testNow, update.Timestamp)
	assert.Equal(t, "T001", update.Sensors[0].ID)
	assert.Equal(t, "vibration", update.Sensors[18].ID, "synthetic sensors follow stored ones")
}

func TestSnapshotter_Build_SyntheticSensorsStayOutOfStore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	mem := newSeededStore(t, clock)
	snap := NewSnapshotter(mem, clock, fixedRandom(0.5), time.Second)
	ctx := context.Background()
	synthetic := []string{"vibration", "emissions", "purity", "energy", "battery", "airQuality", "scrapLevel"}

	assertStoreUntouched := func() {
		t.Helper()
		sensors, err := mem.ListSensors(ctx)
		require.NoError(t, err)
		assert.Len(t, sensors, 18)
		for _, id := range synthetic {
			_, err := mem.GetSensor(ctx, id)
			assert.ErrorIs(t, err, domain.ErrNotFound, id)
		}
	}

	assertStoreUntouched()
	update, err := snap.Build(ctx)
	require.NoError(t, err)
	for _, id := range synthetic {
		assert.True(t, slices.ContainsFunc(update.Sensors, func(s domain.Sensor) bool { return s.ID == id }), id)
	}
	assertStoreUntouched()
}

func TestSnapshotter_WireShape(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	snap := NewSnapshotter(newSeededStore(t, clock), clock, fixedRandom(0.5), time.Second)

	update, err := snap.Build(context.Background())
	require.NoError(t, err)
	raw, err := json.Marshal(Message{Type: messageTypeUpdate, Data: update})
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "update", msg["type"])

	data := msg["data"].(map[string]any)
	assert.Contains(t, data, "furnaces")
	assert.Contains(t, data, "sensors")
	assert.Contains(t, data, "kpis")
	assert.Equal(t, "2025-03-14T09:30:00Z", data["timestamp"])

	furnace := data["furnaces"].([]any)[0].(map[string]any)
	assert.Equal(t, "F1", furnace["id"])
	assert.Contains(t, furnace, "targetTemperature")
	assert.Contains(t, furnace, "composition")
}

func TestSnapshotter_ReadFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	snap := NewSnapshotter(brokenSource{Source: newSeededStore(t, clock)}, clock, fixedRandom(0.5), time.Second)

	_, err := snap.Build(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestSnapshotter_CoalescesConcurrentReads(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	src := &blockingSource{Source: newSeededStore(t, clock), release: make(chan struct{})}
	snap := NewSnapshotter(src, clock, fixedRandom(0.5), 5*time.Second)

	var wg sync.WaitGroup
	results := make([]Update, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := snap.Build(context.Background())
			assert.NoError(t, err)
			results[i] = u
		}()
	}

	require.Eventually(t, func() bool { return src.reads.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.reads.Load())
	for _, u := range results {
		assert.Len(t, u.Sensors, 25, "synthetic sensors are appended per caller")
	}
}

func TestSnapshotter_CallerCancellation(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	src := &blockingSource{Source: newSeededStore(t, clock), release: make(chan struct{})}
	snap := NewSnapshotter(src, clock, fixedRandom(0.5), 5*time.Second)
	defer close(src.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := snap.Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
