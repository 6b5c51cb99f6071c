package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/plantpulse/internal/domain"
)

// LeaseKey is the key every instance sharing a Redis backing competes for.
const LeaseKey = "plant:simulator:leader"

// Lease is a SETNX lock with a TTL. A crashed holder loses it once the TTL runs out.
type Lease struct {
	rdb        *goredis.Client
	instanceID string
	key        string
	ttl        time.Duration
}

func NewLease(rdb *goredis.Client, instanceID string, ttl time.Duration) *Lease {
	return &Lease{rdb: rdb, instanceID: instanceID, key: LeaseKey, ttl: ttl}
}

func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewLeaseScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return domain.ErrNotLeader
	}
	return nil
}

func (l *Lease) Release(ctx context.Context) error {
	if err := releaseLeaseScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
