package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	applicationName    = "plantpulse"
	schemaVersionTable = "public.schema_version"

	// migrationLockID is "plantp" in ASCII hex.
	migrationLockID = 0x706c616e7470
	unlockTimeout   = 5 * time.Second
)

// Connect opens a pool and pings it. A non-nil tracer is attached to every
// connection. The pool identifies itself as application_name=plantpulse unless
// the URL already sets one.
func Connect(ctx context.Context, databaseURL string, tracer pgx.QueryTracer) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if tracer != nil {
		poolCfg.ConnConfig.Tracer = tracer
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("Postgres connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"sslmode", sslMode(databaseURL),
		"max_conns", poolCfg.MaxConns)
	return pool, nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	if mode := strings.ToLower(u.Query().Get("sslmode")); mode != "" {
		return mode
	}
	return "prefer"
}

// RunMigrationsWithLock applies the embedded schema. Replicas booting together
// queue on an advisory lock, so only the first one does any work.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	return withAdvisoryLock(ctx, conn.Conn(), migrationLockID, func() error {
		return migrateSchema(ctx, conn.Conn())
	})
}

func migrateSchema(ctx context.Context, conn *pgx.Conn) error {
	schema, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, schemaVersionTable)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(schema); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	migrator.OnStart = func(sequence int32, name, direction, _ string) {
		slog.Info("Applying migration", "sequence", sequence, "name", name, "direction", direction)
	}

	from, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		slog.Debug("No schema version recorded yet", "error", err)
	}
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	to := int32(len(migrator.Migrations))
	if from == to {
		slog.Debug("Schema up to date", "version", to)
	} else {
		slog.Info("Schema migrated", "from", from, "to", to)
	}
	return nil
}

// withAdvisoryLock runs fn while holding a session advisory lock on conn. The
// unlock gets its own timeout so a cancelled ctx still frees the lock.
func withAdvisoryLock(ctx context.Context, conn *pgx.Conn, id int64, fn func() error) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		return fmt.Errorf("advisory lock %#x: %w", id, err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", id); err != nil {
			slog.Error("Failed to release advisory lock", "lock", fmt.Sprintf("%#x", id), "error", err)
		}
	}()

	return fn()
}
