// Package cache builds the shared Redis client used for locks and lookup caches.
package cache

import (
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"acquisition_backend/platform/config"
)

// NewRedisClient parses REDIS_URL. REDIS_TLS_INSECURE skips certificate checks.
func NewRedisClient(cfg config.SchedulerConfig) (*redis.Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig != nil {
			opt.TLSConfig = opt.TLSConfig.Clone()
			opt.TLSConfig.InsecureSkipVerify = true
		} else {
			opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}
	return redis.NewClient(opt), nil
}
