package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/domain"
)

const (
	breakerMinRequests  = 5
	breakerFailureRatio = 0.6
	defaultBreakerDelay = 30 * time.Second
)

// breaker guards every database round trip. Misses and caller cancellations
// are not counted against the database.
type breaker struct {
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.StoreMetrics
}

func newBreaker(m *metrics.StoreMetrics, delay time.Duration) *breaker {
	if delay <= 0 {
		delay = defaultBreakerDelay
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "postgres",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     delay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String(),
			)
			m.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &breaker{cb: cb, metrics: m}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// do runs fn through the breaker. Failures other than ErrNotFound come back
// wrapped in domain.ErrStoreUnavailable.
func (b *breaker) do(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil && errors.Is(err, domain.ErrNotFound) {
		b.metrics.Observe("postgres", nil)
		return err
	}
	b.metrics.Observe("postgres", err)
	if err != nil {
		return fmt.Errorf("postgres %s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (b *breaker) state() gobreaker.State {
	return b.cb.State()
}
