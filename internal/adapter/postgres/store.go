package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/domain"
)

const (
	kindFurnace    = "furnace"
	kindSensor     = "sensor"
	kindKPI        = "kpi"
	kindHotspot    = "hotspot"
	kindPrediction = "prediction"
	kindCamera     = "camera"
	kindAlert      = "alert"
)

const (
	listDocumentsQuery = `SELECT body FROM documents WHERE kind = $1 ORDER BY seq`
	getDocumentQuery   = `SELECT body FROM documents WHERE kind = $1 AND id = $2`
	lockDocumentQuery  = `SELECT body FROM documents WHERE kind = $1 AND id = $2 FOR UPDATE`
	updateDocumentSQL  = `UPDATE documents SET body = $3, updated_at = now() WHERE kind = $1 AND id = $2`
	insertDocumentSQL  = `INSERT INTO documents (kind, id, body) VALUES ($1, $2, $3) ON CONFLICT (kind, id) DO NOTHING`
	countDocumentsSQL  = `SELECT count(*) FROM documents WHERE kind = $1`

	insertMetricSQL  = `INSERT INTO production_metrics (body) VALUES ($1)`
	countMetricsSQL  = `SELECT count(*) FROM production_metrics`
	trimMetricsSQL   = `DELETE FROM production_metrics WHERE seq <= (SELECT seq FROM production_metrics ORDER BY seq DESC OFFSET $1 LIMIT 1)`
	recentMetricsSQL = `SELECT body FROM (SELECT seq, body FROM production_metrics ORDER BY seq DESC LIMIT $1) recent ORDER BY seq`
)

// Store keeps each entity as a JSONB document keyed by (kind, id). Listing
// order is insertion order. Updates lock the row for the read-modify-write.
type Store struct {
	pool      *pgxpool.Pool
	breaker   *breaker
	clock     clockwork.Clock
	retention domain.MetricRetention
}

var (
	_ domain.Store  = (*Store)(nil)
	_ domain.Seeder = (*Store)(nil)
	_ domain.Pinger = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool, clock clockwork.Clock, m *metrics.StoreMetrics, retention domain.MetricRetention, breakerDelay time.Duration) *Store {
	return &Store{
		pool:      pool,
		breaker:   newBreaker(m, breakerDelay),
		clock:     clock,
		retention: retention,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.breaker.do("ping", func() error { return s.pool.Ping(ctx) })
}

func (s *Store) Close() {
	s.pool.Close()
}

type document struct {
	id   string
	body any
}

func documentsOf[T any](items []T, id func(T) string) []document {
	docs := make([]document, 0, len(items))
	for _, item := range items {
		docs = append(docs, document{id: id(item), body: item})
	}
	return docs
}

// Seed inserts every entity of data whose id is not stored yet. Predictions
// carry fresh ids per boot and are only seeded into an empty table.
func (s *Store) Seed(ctx context.Context, data domain.Dataset) error {
	groups := []struct {
		kind string
		docs []document
	}{
		{kindFurnace, documentsOf(data.Furnaces, func(f domain.Furnace) string { return f.ID })},
		{kindSensor, documentsOf(data.Sensors, func(x domain.Sensor) string { return x.ID })},
		{kindKPI, documentsOf(data.KPIs, func(k domain.KPI) string { return k.Label })},
		{kindHotspot, documentsOf(data.Hotspots, func(h domain.Hotspot) string { return h.ID })},
		{kindPrediction, documentsOf(data.Predictions, func(p domain.Prediction) string { return p.ID })},
		{kindCamera, documentsOf(data.Cameras, func(c domain.CameraFeed) string { return c.ID })},
	}

	return s.breaker.do("seed", func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, g := range groups {
				if g.kind == kindPrediction {
					var n int
					if err := tx.QueryRow(ctx, countDocumentsSQL, kindPrediction).Scan(&n); err != nil {
						return fmt.Errorf("count predictions: %w", err)
					}
					if n > 0 {
						continue
					}
				}
				for _, d := range g.docs {
					body, err := json.Marshal(d.body)
					if err != nil {
						return fmt.Errorf("encode %s %s: %w", g.kind, d.id, err)
					}
					batch.Queue(insertDocumentSQL, g.kind, d.id, body)
				}
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
}

func list[T any](ctx context.Context, s *Store, kind string) ([]T, error) {
	out := []T{}
	err := s.breaker.do("list "+kind, func() error {
		rows, err := s.pool.Query(ctx, listDocumentsQuery, kind)
		if err != nil {
			return err
		}
		items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
			var body []byte
			var item T
			if err := row.Scan(&body); err != nil {
				return item, err
			}
			return item, json.Unmarshal(body, &item)
		})
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	return out, err
}

func get[T any](ctx context.Context, s *Store, kind, id string) (T, error) {
	var item T
	err := s.breaker.do("get "+kind, func() error {
		var body []byte
		err := s.pool.QueryRow(ctx, getDocumentQuery, kind, id).Scan(&body)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &item)
	})
	return item, err
}

func update[T any](ctx context.Context, s *Store, kind, id string, mutate func(T) T) (T, error) {
	var out T
	err := s.breaker.do("update "+kind, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var body []byte
			err := tx.QueryRow(ctx, lockDocumentQuery, kind, id).Scan(&body)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
			}
			if err != nil {
				return err
			}

			var current T
			if err := json.Unmarshal(body, &current); err != nil {
				return fmt.Errorf("decode %s %s: %w", kind, id, err)
			}
			next := mutate(current)
			encoded, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode %s %s: %w", kind, id, err)
			}
			if _, err := tx.Exec(ctx, updateDocumentSQL, kind, id, encoded); err != nil {
				return err
			}
			out = next
			return nil
		})
	})
	return out, err
}

func insert[T any](ctx context.Context, s *Store, kind, id string, item T) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	return s.breaker.do("insert "+kind, func() error {
		_, err := s.pool.Exec(ctx, insertDocumentSQL, kind, id, body)
		return err
	})
}

func (s *Store) ListFurnaces(ctx context.Context) ([]domain.Furnace, error) {
	return list[domain.Furnace](ctx, s, kindFurnace)
}

func (s *Store) GetFurnace(ctx context.Context, id string) (domain.Furnace, error) {
	return get[domain.Furnace](ctx, s, kindFurnace, id)
}

func (s *Store) UpdateFurnace(ctx context.Context, id string, u domain.FurnaceUpdate) (domain.Furnace, error) {
	now := s.clock.Now()
	return update(ctx, s, kindFurnace, id, func(f domain.Furnace) domain.Furnace {
		return f.Apply(u, now)
	})
}

func (s *Store) ListSensors(ctx context.Context) ([]domain.Sensor, error) {
	return list[domain.Sensor](ctx, s, kindSensor)
}

func (s *Store) GetSensor(ctx context.Context, id string) (domain.Sensor, error) {
	return get[domain.Sensor](ctx, s, kindSensor, id)
}

func (s *Store) UpdateSensorValue(ctx context.Context, id string, value float64) (domain.Sensor, error) {
	now := s.clock.Now()
	return update(ctx, s, kindSensor, id, func(x domain.Sensor) domain.Sensor {
		x.Value = value
		x.LastUpdated = now
		return x
	})
}

func (s *Store) ListAlerts(ctx context.Context) ([]domain.Alert, error) {
	return list[domain.Alert](ctx, s, kindAlert)
}

func (s *Store) CreateAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	alert.ID = uuid.NewString()
	if err := insert(ctx, s, kindAlert, alert.ID, alert); err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id string) (domain.Alert, error) {
	return update(ctx, s, kindAlert, id, func(a domain.Alert) domain.Alert {
		a.Acknowledged = true
		return a
	})
}

// AddProductionMetric appends a sample and, once the history exceeds the
// retention cap, deletes everything but the newest Trim samples.
func (s *Store) AddProductionMetric(ctx context.Context, metric domain.ProductionMetric) error {
	body, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("encode production metric: %w", err)
	}

	return s.breaker.do("append metric", func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, insertMetricSQL, body); err != nil {
				return err
			}
			var n int
			if err := tx.QueryRow(ctx, countMetricsSQL).Scan(&n); err != nil {
				return err
			}
			if n <= s.retention.Cap {
				return nil
			}
			_, err := tx.Exec(ctx, trimMetricsSQL, s.retention.Trim)
			return err
		})
	})
}

func (s *Store) RecentProductionMetrics(ctx context.Context) ([]domain.ProductionMetric, error) {
	out := []domain.ProductionMetric{}
	err := s.breaker.do("recent metrics", func() error {
		rows, err := s.pool.Query(ctx, recentMetricsSQL, s.retention.Recent)
		if err != nil {
			return err
		}
		samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProductionMetric, error) {
			var body []byte
			var m domain.ProductionMetric
			if err := row.Scan(&body); err != nil {
				return m, err
			}
			return m, json.Unmarshal(body, &m)
		})
		if err != nil {
			return err
		}
		out = samples
		return nil
	})
	return out, err
}

func (s *Store) ListKPIs(ctx context.Context) ([]domain.KPI, error) {
	return list[domain.KPI](ctx, s, kindKPI)
}

func (s *Store) UpdateKPI(ctx context.Context, label string, value, change float64) error {
	_, err := update(ctx, s, kindKPI, label, func(k domain.KPI) domain.KPI {
		k.Value = value
		k.Change = change
		return k
	})
	return err
}

func (s *Store) ListHotspots(ctx context.Context) ([]domain.Hotspot, error) {
	return list[domain.Hotspot](ctx, s, kindHotspot)
}

func (s *Store) ListPredictions(ctx context.Context) ([]domain.Prediction, error) {
	return list[domain.Prediction](ctx, s, kindPrediction)
}

func (s *Store) CreatePrediction(ctx context.Context, prediction domain.Prediction) (domain.Prediction, error) {
	prediction.ID = uuid.NewString()
	if err := insert(ctx, s, kindPrediction, prediction.ID, prediction); err != nil {
		return domain.Prediction{}, err
	}
	return prediction, nil
}

func (s *Store) ListCameraFeeds(ctx context.Context) ([]domain.CameraFeed, error) {
	return list[domain.CameraFeed](ctx, s, kindCamera)
}

func (s *Store) UpdateCameraDetections(ctx context.Context, id string, detections []domain.Detection) (domain.CameraFeed, error) {
	now := s.clock.Now()
	return update(ctx, s, kindCamera, id, func(c domain.CameraFeed) domain.CameraFeed {
		return c.WithDetections(detections, now)
	})
}
