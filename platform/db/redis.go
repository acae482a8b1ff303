package db

import (
	"context"
	"crypto/tls"

	"leadlock_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects to the redis instance shared by locks, dedup and asynq.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := RedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisOptions parses the configured URL, relaxing TLS verification when asked.
func RedisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig != nil {
			clone := opt.TLSConfig.Clone()
			clone.InsecureSkipVerify = true
			opt.TLSConfig = clone
		} else {
			opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}
	return opt, nil
}
