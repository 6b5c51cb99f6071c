package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/plantpulse/internal/domain"
)

// leaseLockID is "plsim" in ASCII hex.
const leaseLockID = 0x706c73696d

// Lease is a session advisory lock held on a dedicated pool connection. The
// lock dies with the session, so a crashed holder frees it immediately.
type Lease struct {
	pool *pgxpool.Pool

	mu   sync.Mutex
	conn *pgxpool.Conn
}

func NewLease(pool *pgxpool.Pool) *Lease {
	return &Lease{pool: pool}
}

func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lease connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", int64(leaseLockID)).Scan(&locked); err != nil {
		conn.Release()
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if !locked {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Renew checks that the session holding the lock is still alive.
func (l *Lease) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return domain.ErrNotLeader
	}
	if err := l.conn.Ping(ctx); err != nil {
		l.drop()
		return fmt.Errorf("%w: lease session lost: %w", domain.ErrNotLeader, err)
	}
	return nil
}

func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", int64(leaseLockID)); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// drop closes the session so the server forgets the lock even if the
// connection is only half broken.
func (l *Lease) drop() {
	_ = l.conn.Conn().Close(context.Background())
	l.conn.Release()
	l.conn = nil
}
