package app

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/plantpulse/internal/domain"
)

const defaultLeaseInterval = 5 * time.Second

// Lease is a single-holder lock shared by every instance on the same persistent backing.
type Lease interface {
	// TryAcquire returns true if this instance now holds the lease.
	TryAcquire(ctx context.Context) (bool, error)
	// Renew extends a held lease. It returns domain.ErrNotLeader once the lease is lost.
	Renew(ctx context.Context) error
	// Release gives the lease up so another instance can take over right away.
	Release(ctx context.Context) error
}

type leaseHolder struct {
	lease Lease
}

// Leadership decides whether this instance should drive the simulation.
// Until a lease is attached every instance works on its own memory backing
// and counts as leader.
type Leadership struct {
	clock    clockwork.Clock
	interval time.Duration

	current atomic.Pointer[leaseHolder]
	held    atomic.Bool
	wake    chan struct{}
}

func NewLeadership(clock clockwork.Clock, interval time.Duration) *Leadership {
	if interval <= 0 {
		interval = defaultLeaseInterval
	}
	return &Leadership{
		clock:    clock,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Attach hands over the lease of the backing that was just promoted. The
// instance stops counting as leader until it has acquired the lease.
func (l *Leadership) Attach(lease Lease) {
	l.held.Store(false)
	l.current.Store(&leaseHolder{lease: lease})
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Leadership) IsLeader() bool {
	if l.current.Load() == nil {
		return true
	}
	return l.held.Load()
}

// Run keeps the attached lease acquired or renewed until ctx is cancelled and
// releases it on the way out.
func (l *Leadership) Run(ctx context.Context) {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.release()
			return
		case <-l.wake:
			l.Step(ctx)
		case <-ticker.Chan():
			l.Step(ctx)
		}
	}
}

// Step performs one acquire or renew round against the attached lease.
func (l *Leadership) Step(ctx context.Context) {
	holder := l.current.Load()
	if holder == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, l.interval)
	defer cancel()

	if l.held.Load() {
		err := holder.lease.Renew(callCtx)
		if err == nil {
			return
		}
		l.held.Store(false)
		if errors.Is(err, domain.ErrNotLeader) {
			slog.WarnContext(ctx, "Leadership lost, pausing simulation")
		} else {
			slog.ErrorContext(ctx, "Leadership renewal failed, pausing simulation", "error", err)
		}
		return
	}

	acquired, err := holder.lease.TryAcquire(callCtx)
	if err != nil {
		slog.WarnContext(ctx, "Leadership acquire failed", "error", err)
		return
	}
	if acquired {
		l.held.Store(true)
		slog.InfoContext(ctx, "Leadership acquired, driving simulation")
	}
}

func (l *Leadership) release() {
	holder := l.current.Load()
	if holder == nil || !l.held.Swap(false) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.interval)
	defer cancel()
	if err := holder.lease.Release(ctx); err != nil {
		slog.Warn("Leadership release failed", "error", err)
		return
	}
	slog.Info("Leadership released")
}
