package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/domain"
)

const defaultBreakerDelay = 30 * time.Second

// CircuitBreakerHook guards every Redis command with a circuit breaker and
// reports failures as domain.ErrStoreUnavailable. A miss (redis.Nil) and a
// lost optimistic transaction are not failures.
type CircuitBreakerHook struct {
	cb      circuitbreaker.CircuitBreaker[any]
	metrics *metrics.StoreMetrics
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook opens after 3 failures among the last 5 calls, stays
// open for delay and closes again after one successful probe.
func NewCircuitBreakerHook(m *metrics.StoreMetrics, delay time.Duration) *CircuitBreakerHook {
	if delay <= 0 {
		delay = defaultBreakerDelay
	}

	h := &CircuitBreakerHook{metrics: m}
	h.cb = circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(3, 5).
		WithDelay(delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "redis",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.BreakerState.WithLabelValues("redis").Set(stateToFloat(e.NewState))
		}).
		Build()
	return h
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, unavailable("dial", circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.cb.RecordError(err)
			return nil, unavailable("dial", err)
		}
		h.cb.RecordSuccess()
		return conn, nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			h.metrics.Observe("redis", circuitbreaker.ErrOpen)
			return unavailable(cmd.Name(), circuitbreaker.ErrOpen)
		}
		return h.record(cmd.Name(), next(ctx, cmd))
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			h.metrics.Observe("redis", circuitbreaker.ErrOpen)
			return unavailable("pipeline", circuitbreaker.ErrOpen)
		}
		return h.record("pipeline", next(ctx, cmds))
	}
}

func (h *CircuitBreakerHook) record(op string, err error) error {
	if err == nil || errors.Is(err, goredis.Nil) || errors.Is(err, goredis.TxFailedErr) || goredis.HasErrorPrefix(err, "NOSCRIPT") {
		h.cb.RecordSuccess()
		h.metrics.Observe("redis", nil)
		return err
	}
	h.cb.RecordError(err)
	h.metrics.Observe("redis", err)
	return unavailable(op, err)
}

// State is exposed for tests and the readiness probe.
func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
