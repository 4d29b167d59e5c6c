package handler

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPinger adapts a Redis client to the readiness probe.
type RedisPinger struct {
	Client *redis.Client
}

// PingContext implements Pinger.
func (p RedisPinger) PingContext(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}
