package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/plantpulse/internal/domain"
)

const (
	keyFurnaces    = "plant:furnace"
	keySensors     = "plant:sensor"
	keyKPIs        = "plant:kpi"
	keyHotspots    = "plant:hotspot"
	keyPredictions = "plant:prediction"
	keyCameras     = "plant:camera"
	keyAlerts      = "plant:alert"
	keyMetrics     = "plant:metrics"

	maxTxRetries = 16
)

func orderKey(hash string) string { return hash + ":order" }

var errTxConflict = errors.New("transaction retries exhausted")

// Store keeps every entity as a JSON document in a per-kind hash. A companion
// list per kind records insertion order. Single-entity updates are optimistic
// WATCH transactions.
type Store struct {
	rdb       *goredis.Client
	clock     clockwork.Clock
	retention domain.MetricRetention
}

var (
	_ domain.Store  = (*Store)(nil)
	_ domain.Seeder = (*Store)(nil)
	_ domain.Pinger = (*Store)(nil)
)

func NewStore(rdb *goredis.Client, clock clockwork.Clock, retention domain.MetricRetention) *Store {
	return &Store{rdb: rdb, clock: clock, retention: retention}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Seed inserts every entity of data that is not stored yet. Existing
// documents keep their current state.
func (s *Store) Seed(ctx context.Context, data domain.Dataset) error {
	steps := []func() error{
		func() error { return insertAll(ctx, s.rdb, keyFurnaces, data.Furnaces, func(f domain.Furnace) string { return f.ID }) },
		func() error { return insertAll(ctx, s.rdb, keySensors, data.Sensors, func(x domain.Sensor) string { return x.ID }) },
		func() error { return insertAll(ctx, s.rdb, keyKPIs, data.KPIs, func(k domain.KPI) string { return k.Label }) },
		func() error { return insertAll(ctx, s.rdb, keyHotspots, data.Hotspots, func(h domain.Hotspot) string { return h.ID }) },
		func() error {
			return insertAll(ctx, s.rdb, keyPredictions, data.Predictions, func(p domain.Prediction) string { return p.ID })
		},
		func() error { return insertAll(ctx, s.rdb, keyCameras, data.Cameras, func(c domain.CameraFeed) string { return c.ID }) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("seed redis: %w", err)
		}
	}
	return nil
}

// Seeded predictions get fresh ids on every boot, so a prediction already
// stored under another id would be duplicated. Predictions are therefore
// only seeded into an empty collection.
func insertAll[T any](ctx context.Context, rdb *goredis.Client, hash string, items []T, id func(T) string) error {
	if hash == keyPredictions {
		n, err := rdb.HLen(ctx, hash).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}

	for _, item := range items {
		if _, err := insert(ctx, rdb, hash, id(item), item); err != nil {
			return err
		}
	}
	return nil
}

func insert[T any](ctx context.Context, rdb *goredis.Client, hash, id string, item T) (bool, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("encode %s %s: %w", hash, id, err)
	}
	added, err := insertScript.Run(ctx, rdb, []string{hash, orderKey(hash)}, id, body).Int()
	if err != nil {
		return false, fmt.Errorf("insert %s %s: %w", hash, id, err)
	}
	return added == 1, nil
}

func list[T any](ctx context.Context, rdb *goredis.Client, hash string) ([]T, error) {
	ids, err := rdb.LRange(ctx, orderKey(hash), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", hash, err)
	}
	out := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	bodies, err := rdb.HMGet(ctx, hash, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", hash, err)
	}
	for i, raw := range bodies {
		body, ok := raw.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", hash, ids[i], err)
		}
		out = append(out, item)
	}
	return out, nil
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
}

func get[T any](ctx context.Context, rdb hashGetter, hash, kind, id string) (T, error) {
	var item T
	body, err := rdb.HGet(ctx, hash, id).Result()
	if errors.Is(err, goredis.Nil) {
		return item, fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	if err != nil {
		return item, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return item, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return item, nil
}

// update runs a read-modify-write of one document under WATCH, retrying when
// a concurrent writer touched the hash.
func update[T any](ctx context.Context, rdb *goredis.Client, hash, kind, id string, mutate func(T) T) (T, error) {
	var out T
	txf := func(tx *goredis.Tx) error {
		current, err := get[T](ctx, tx, hash, kind, id)
		if err != nil {
			return err
		}
		next := mutate(current)
		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", kind, id, err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, hash, id, body)
			return nil
		}); err != nil {
			return err
		}
		out = next
		return nil
	}

	for range maxTxRetries {
		err := rdb.Watch(ctx, txf, hash)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return out, err
		}
		return out, nil
	}
	return out, fmt.Errorf("update %s %s: %w: %w", kind, id, domain.ErrStoreUnavailable, errTxConflict)
}

func (s *Store) ListFurnaces(ctx context.Context) ([]domain.Furnace, error) {
	return list[domain.Furnace](ctx, s.rdb, keyFurnaces)
}

func (s *Store) GetFurnace(ctx context.Context, id string) (domain.Furnace, error) {
	return get[domain.Furnace](ctx, s.rdb, keyFurnaces, "furnace", id)
}

func (s *Store) UpdateFurnace(ctx context.Context, id string, u domain.FurnaceUpdate) (domain.Furnace, error) {
	now := s.clock.Now()
	return update(ctx, s.rdb, keyFurnaces, "furnace", id, func(f domain.Furnace) domain.Furnace {
		return f.Apply(u, now)
	})
}

func (s *Store) ListSensors(ctx context.Context) ([]domain.Sensor, error) {
	return list[domain.Sensor](ctx, s.rdb, keySensors)
}

func (s *Store) GetSensor(ctx context.Context, id string) (domain.Sensor, error) {
	return get[domain.Sensor](ctx, s.rdb, keySensors, "sensor", id)
}

func (s *Store) UpdateSensorValue(ctx context.Context, id string, value float64) (domain.Sensor, error) {
	now := s.clock.Now()
	return update(ctx, s.rdb, keySensors, "sensor", id, func(x domain.Sensor) domain.Sensor {
		x.Value = value
		x.LastUpdated = now
		return x
	})
}

func (s *Store) ListAlerts(ctx context.Context) ([]domain.Alert, error) {
	return list[domain.Alert](ctx, s.rdb, keyAlerts)
}

func (s *Store) CreateAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	alert.ID = uuid.NewString()
	if _, err := insert(ctx, s.rdb, keyAlerts, alert.ID, alert); err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id string) (domain.Alert, error) {
	return update(ctx, s.rdb, keyAlerts, "alert", id, func(a domain.Alert) domain.Alert {
		a.Acknowledged = true
		return a
	})
}

func (s *Store) AddProductionMetric(ctx context.Context, metric domain.ProductionMetric) error {
	body, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("encode production metric: %w", err)
	}
	err = appendMetricScript.Run(ctx, s.rdb, []string{keyMetrics},
		body, strconv.Itoa(s.retention.Cap), strconv.Itoa(s.retention.Trim)).Err()
	if err != nil {
		return fmt.Errorf("append production metric: %w", err)
	}
	return nil
}

func (s *Store) RecentProductionMetrics(ctx context.Context) ([]domain.ProductionMetric, error) {
	bodies, err := s.rdb.LRange(ctx, keyMetrics, -int64(s.retention.Recent), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent production metrics: %w", err)
	}
	out := make([]domain.ProductionMetric, 0, len(bodies))
	for _, body := range bodies {
		var m domain.ProductionMetric
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("decode production metric: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// historyLen is used by tests to observe trimming.
func (s *Store) historyLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, keyMetrics).Result()
}

func (s *Store) ListKPIs(ctx context.Context) ([]domain.KPI, error) {
	return list[domain.KPI](ctx, s.rdb, keyKPIs)
}

func (s *Store) UpdateKPI(ctx context.Context, label string, value, change float64) error {
	_, err := update(ctx, s.rdb, keyKPIs, "kpi", label, func(k domain.KPI) domain.KPI {
		k.Value = value
		k.Change = change
		return k
	})
	return err
}

func (s *Store) ListHotspots(ctx context.Context) ([]domain.Hotspot, error) {
	return list[domain.Hotspot](ctx, s.rdb, keyHotspots)
}

func (s *Store) ListPredictions(ctx context.Context) ([]domain.Prediction, error) {
	return list[domain.Prediction](ctx, s.rdb, keyPredictions)
}

func (s *Store) CreatePrediction(ctx context.Context, prediction domain.Prediction) (domain.Prediction, error) {
	prediction.ID = uuid.NewString()
	if _, err := insert(ctx, s.rdb, keyPredictions, prediction.ID, prediction); err != nil {
		return domain.Prediction{}, err
	}
	return prediction, nil
}

func (s *Store) ListCameraFeeds(ctx context.Context) ([]domain.CameraFeed, error) {
	return list[domain.CameraFeed](ctx, s.rdb, keyCameras)
}

func (s *Store) UpdateCameraDetections(ctx context.Context, id string, detections []domain.Detection) (domain.CameraFeed, error) {
	now := s.clock.Now()
	return update(ctx, s.rdb, keyCameras, "camera", id, func(c domain.CameraFeed) domain.CameraFeed {
		return c.WithDetections(detections, now)
	})
}
