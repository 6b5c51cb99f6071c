package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/plantpulse/internal/domain"
)

func TestLease_SingleHolder(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	first := NewLease(pool)
	second := NewLease(pool)
	t.Cleanup(func() {
		_ = first.Release(ctx)
		_ = second.Release(ctx)
	})

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = first.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "acquire is idempotent for the holder")

	require.NoError(t, first.Renew(ctx))
	assert.ErrorIs(t, second.Renew(ctx), domain.ErrNotLeader)
}

func TestLease_ReleaseHandsOver(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	first := NewLease(pool)
	second := NewLease(pool)
	t.Cleanup(func() { _ = second.Release(ctx) })

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx), "release without holding is a no-op")

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLease_SessionLossFreesLock(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	first := NewLease(pool)
	second := NewLease(pool)
	t.Cleanup(func() { _ = second.Release(ctx) })

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var pid int32
	require.NoError(t, first.conn.QueryRow(ctx, "SELECT pg_backend_pid()").Scan(&pid))
	_, err = pool.Exec(ctx, "SELECT pg_terminate_backend($1)", pid)
	require.NoError(t, err)

	assert.ErrorIs(t, first.Renew(ctx), domain.ErrNotLeader)

	require.Eventually(t, func() bool {
		ok, err := second.TryAcquire(ctx)
		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond)
}
