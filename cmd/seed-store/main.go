// Command seed-store writes the embedded plant dataset into a persistent
// backing ahead of a deployment. Entities that already exist are kept.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/adapter/postgres"
	"github.com/pscheid92/plantpulse/internal/adapter/redis"
	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/store"
)

const seedTimeout = time.Minute

func main() {
	var (
		backend     = flag.String("backend", os.Getenv("STORE_BACKEND"), "redis or postgres (or set STORE_BACKEND env)")
		redisURL    = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		dryRun      = flag.Bool("dry-run", false, "Print what would be seeded without writing")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	clock := clockwork.NewRealClock()
	data, err := store.LoadSeed(clock.Now())
	if err != nil {
		log.Fatalf("Failed to load seed dataset: %v", err)
	}
	logDataset(data)

	if *dryRun {
		slog.Info("Dry run, nothing written")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	m := metrics.NewStoreMetrics(prometheus.NewRegistry())
	target, closeFn := connect(ctx, *backend, *redisURL, *databaseURL, clock, m)
	defer closeFn()

	start := time.Now()
	if err := target.Seed(ctx, data); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	slog.Info("Seed complete", "backend", *backend, "duration", time.Since(start))
}

func connect(ctx context.Context, backend, redisURL, databaseURL string, clock clockwork.Clock, m *metrics.StoreMetrics) (domain.Seeder, func()) {
	switch backend {
	case "redis":
		if redisURL == "" {
			log.Fatal("Redis URL required (--redis or REDIS_URL env)")
		}
		client, err := redis.NewClient(ctx, redisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		slog.Info("Connected to Redis", "url", sanitizeURL(redisURL))
		return redis.NewStore(client, clock, domain.DefaultMetricRetention), func() { _ = client.Close() }

	case "postgres":
		if databaseURL == "" {
			log.Fatal("Database URL required (--database or DATABASE_URL env)")
		}
		pool, err := postgres.Connect(ctx, databaseURL, nil)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			pool.Close()
			log.Fatalf("Failed to run migrations: %v", err)
		}
		slog.Info("Connected to Postgres", "url", sanitizeURL(databaseURL))
		return postgres.NewStore(pool, clock, m, domain.DefaultMetricRetention, 0), pool.Close

	default:
		log.Fatalf("Unknown backend %q, want redis or postgres", backend)
		return nil, nil
	}
}

func logDataset(data domain.Dataset) {
	slog.Info("Seed dataset",
		"furnaces", len(data.Furnaces),
		"sensors", len(data.Sensors),
		"kpis", len(data.KPIs),
		"hotspots", len(data.Hotspots),
		"predictions", len(data.Predictions),
		"cameras", len(data.Cameras),
	)
	for _, f := range data.Furnaces {
		slog.Debug("Furnace", "id", f.ID, "status", f.Status, "temperature", f.Temperature)
	}
	for _, s := range data.Sensors {
		slog.Debug("Sensor", "id", s.ID, "type", s.Type, "value", s.Value, "status", s.Status)
	}
}

// sanitizeURL hides the password of a connection URL for logging.
func sanitizeURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return url
	}
	user, _, hasPassword := strings.Cut(creds, ":")
	if !hasPassword {
		return url
	}
	return scheme + "://" + user + ":***@" + host
}
