// Package db provides the Redis connection used for shared caches.
// This is part of the platform layer and contains no business logic.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"relief_portal_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

// ParseRedisOptions turns a redis:// or rediss:// URL into client options.
// tlsInsecure skips certificate verification for managed instances with
// self-signed certs.
func ParseRedisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	if opt.TLSConfig != nil {
		if cfg.GetRedisTLSInsecure() {
			opt.TLSConfig.InsecureSkipVerify = true
		}
	} else if cfg.GetRedisTLSInsecure() {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return opt, nil
}

// NewRedis creates a client with conservative timeouts and verifies it with a ping.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := ParseRedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	opt.DialTimeout = 3 * time.Second
	opt.ReadTimeout = 500 * time.Millisecond
	opt.WriteTimeout = 500 * time.Millisecond
	opt.PoolSize = 20

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// RedisHealth adapts a redis client to the router's health checker.
type RedisHealth struct {
	Client *redis.Client
}

// Ping reports redis reachability. A nil client counts as healthy
// because the cache is optional.
func (h RedisHealth) Ping(ctx context.Context) error {
	if h.Client == nil {
		return nil
	}
	return h.Client.Ping(ctx).Err()
}
