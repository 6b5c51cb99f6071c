package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/plantpulse/internal/adapter/httpserver"
	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/adapter/postgres"
	"github.com/pscheid92/plantpulse/internal/adapter/redis"
	"github.com/pscheid92/plantpulse/internal/adapter/websocket"
	"github.com/pscheid92/plantpulse/internal/app"
	"github.com/pscheid92/plantpulse/internal/broadcast"
	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/platform/config"
	"github.com/pscheid92/plantpulse/internal/platform/logging"
	"github.com/pscheid92/plantpulse/internal/platform/retry"
	"github.com/pscheid92/plantpulse/internal/platform/version"
	"github.com/pscheid92/plantpulse/internal/store"
)

const shutdownTimeout = 10 * time.Second

var promotionPolicy = retry.Policy{
	MaxAttempts:    10,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     15 * time.Second,
}

// closers collects cleanup for a backing that may be connected after main
// has moved on.
type closers struct {
	mu  sync.Mutex
	fns []func()
}

func (c *closers) add(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *closers) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fn := range c.fns {
		fn()
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func retentionFrom(cfg *config.Config) domain.MetricRetention {
	return domain.MetricRetention{
		Cap:    cfg.MetricHistoryCap,
		Trim:   cfg.MetricHistoryTrim,
		Recent: cfg.MetricRecentWindow,
	}
}

// instanceID names this process in the Redis leader lease.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()[:8]
}

// connector opens the configured persistent backing. onLease receives the
// leader lease that comes with a successful connection.
func connector(cfg *config.Config, clock clockwork.Clock, m *metrics.StoreMetrics, cleanup *closers, onLease func(app.Lease)) store.Connector {
	retention := retentionFrom(cfg)

	switch cfg.StoreBackend {
	case config.BackendRedis:
		return func(ctx context.Context) (domain.Store, error) {
			client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewCircuitBreakerHook(m, 0), redis.NewMetricsHook(m))
			if err != nil {
				return nil, err
			}
			cleanup.add(func() { _ = client.Close() })
			onLease(redis.NewLease(client, instanceID(), cfg.LeaderLeaseTTL))
			return redis.NewStore(client, clock, retention), nil
		}
	case config.BackendPostgres:
		return func(ctx context.Context) (domain.Store, error) {
			pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(m))
			if err != nil {
				return nil, err
			}
			if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
			cleanup.add(pool.Close)
			onLease(postgres.NewLease(pool))
			return postgres.NewStore(pool, clock, m, retention, 0), nil
		}
	default:
		return nil
	}
}

// setupStore returns a gate that serves the seeded memory backing at once and,
// for a persistent backend, promotes it in the background. Once promoted,
// the backing's lease is handed to leadership.
func setupStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, m *metrics.StoreMetrics, cleanup *closers, leadership *app.Leadership) *store.Gate {
	data, err := store.LoadSeed(clock.Now())
	if err != nil {
		slog.Error("Failed to load seed dataset", "error", err)
		os.Exit(1)
	}

	mem := store.NewMemory(clock, retentionFrom(cfg))
	if err := mem.Seed(ctx, data); err != nil {
		slog.Error("Failed to seed memory store", "error", err)
		os.Exit(1)
	}

	gate := store.NewGate(config.BackendMemory, mem)
	m.SetActiveBackend(config.BackendMemory)

	var lease app.Lease
	connect := connector(cfg, clock, m, cleanup, func(l app.Lease) { lease = l })
	if connect == nil {
		return gate
	}

	done := gate.Promote(ctx, cfg.StoreBackend, connect, data, promotionPolicy)
	go func() {
		if err := <-done; err != nil {
			return
		}
		m.SetActiveBackend(gate.Backend())
		if lease != nil {
			leadership.Attach(lease)
		}
	}()
	return gate
}

func runGracefulShutdown(ctx context.Context, srv *httpserver.Server, registry *broadcast.Registry) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		registry.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"backend", cfg.StoreBackend,
		"version", version.Version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(reg)

	cleanup := &closers{}
	defer cleanup.closeAll()

	leadership := app.NewLeadership(clock, cfg.LeaderLeaseTTL/3)
	leadershipDone := make(chan struct{})
	go func() {
		leadership.Run(ctx)
		close(leadershipDone)
	}()

	gate := setupStore(ctx, cfg, clock, storeMetrics, cleanup, leadership)

	rnd := domain.SystemRandom{}

	simulator := app.NewSimulator(gate, clock, rnd, metrics.NewSimulationMetrics(reg), app.SimulatorConfig{
		Interval:          cfg.SimulationInterval,
		StoreTimeout:      cfg.StoreTimeout,
		Thresholds:        domain.DefaultThresholds,
		DeduplicateAlerts: cfg.DeduplicateAlerts,
		Leader:            leadership,
	})
	go simulator.Run(ctx)

	snapshots := broadcast.NewSnapshotter(gate, clock, rnd, cfg.StoreTimeout)
	registry := broadcast.NewRegistry(snapshots, clock, metrics.NewBroadcastMetrics(reg), broadcast.RegistryConfig{
		Interval:       cfg.BroadcastInterval,
		MaxConnections: cfg.MaxWebSocketConnections,
		SendQueueSize:  cfg.SendQueueSize,
	})

	wsHandler := websocket.NewHandler(registry, websocket.NewCheckOrigin(cfg.AllowedOrigins, cfg.IsDevelopment()))
	healthChecks := []httpserver.HealthCheck{
		{Name: "store", Check: gate.Check},
	}
	srv := httpserver.NewServer(cfg, app.NewService(gate, cfg.StoreTimeout), wsHandler,
		metrics.Handler(reg), metrics.NewHTTPMetrics(reg), healthChecks)

	done := runGracefulShutdown(ctx, srv, registry)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	<-leadershipDone
}
