package broadcast

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/plantpulse/internal/domain"
)

const messageTypeUpdate = "update"

// Source is the slice of the store a snapshot reads.
type Source interface {
	ListFurnaces(ctx context.Context) ([]domain.Furnace, error)
	ListSensors(ctx context.Context) ([]domain.Sensor, error)
	ListKPIs(ctx context.Context) ([]domain.KPI, error)
}

type Update struct {
	Furnaces  []domain.Furnace `json:"furnaces"`
	Sensors   []domain.Sensor  `json:"sensors"`
	KPIs      []domain.KPI     `json:"kpis"`
	Timestamp time.Time        `json:"timestamp"`
}

// Message is the envelope written to viewers.
type Message struct {
	Type string `json:"type"`
	Data Update `json:"data"`
}

type stored struct {
	furnaces []domain.Furnace
	sensors  []domain.Sensor
	kpis     []domain.KPI
}

// Snapshotter assembles the viewer payload. Viewers whose tickers fire
// together share a single round of store reads.
type Snapshotter struct {
	source  Source
	clock   clockwork.Clock
	rnd     domain.Random
	timeout time.Duration
	group   singleflight.Group
}

func NewSnapshotter(source Source, clock clockwork.Clock, rnd domain.Random, timeout time.Duration) *Snapshotter {
	return &Snapshotter{source: source, clock: clock, rnd: rnd, timeout: timeout}
}

// Build reads furnaces, sensors and KPIs (independently, with no cross-entity
// consistency) and appends freshly sampled synthetic sensors. Timestamp is
// the build time; sessions make it monotonic per viewer.
func (s *Snapshotter) Build(ctx context.Context) (Update, error) {
	ch := s.group.DoChan("snapshot", func() (any, error) {
		return s.read(context.WithoutCancel(ctx))
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
	if res.Err != nil {
		return Update{}, res.Err
	}

	st := res.Val.(stored)
	now := s.clock.Now()
	return Update{
		Furnaces:  st.furnaces,
		Sensors:   slices.Concat(st.sensors, SampleSynthetic(s.rnd, now)),
		KPIs:      st.kpis,
		Timestamp: now,
	}, nil
}

func (s *Snapshotter) read(ctx context.Context) (stored, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var st stored
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st.furnaces, err = s.source.ListFurnaces(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		st.sensors, err = s.source.ListSensors(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		st.kpis, err = s.source.ListKPIs(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return stored{}, fmt.Errorf("read snapshot: %w", err)
	}
	return st, nil
}
