package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the minimal key-value surface the snapshot cache and lock
// need. SetNX is the conditional write backing the lock lease.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a key was not found. Any other error from a
// provider means the backend itself misbehaved; callers treat that as
// "cache unavailable" and proceed uncached.
var ErrCacheMiss = errors.New("cache miss")
