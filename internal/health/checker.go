package health

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RatePinger probes the exchange-rate feed.
type RatePinger interface {
	Ping(ctx context.Context) error
}

// Dependencies probes the services a quote depends on. Redis is optional and
// its probe passes when no client is configured.
type Dependencies struct {
	Redis *redis.Client
	Rates RatePinger
}

// PingRedis implements Checker.
func (d Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// PingRateSource implements Checker.
func (d Dependencies) PingRateSource(ctx context.Context, timeout time.Duration) error {
	if d.Rates == nil {
		return errors.New("rate source not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Rates.Ping(ctx)
}
