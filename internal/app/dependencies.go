package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/duty-bot/internal/bot"
	"github.com/noah-isme/duty-bot/internal/config"
	"github.com/noah-isme/duty-bot/internal/currency"
	"github.com/noah-isme/duty-bot/internal/health"
	"github.com/noah-isme/duty-bot/internal/listing"
	"github.com/noah-isme/duty-bot/internal/lock"
	"github.com/noah-isme/duty-bot/internal/obs"
	"github.com/noah-isme/duty-bot/internal/quote"
	"github.com/noah-isme/duty-bot/internal/resilience"
)

// Upstream breaker targets, also used as metric labels.
const (
	TargetListing = "listing"
	TargetRates   = "rates"
)

// Dependencies enumerates the services shared by the api and bot binaries.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Redis     *redis.Client
	Validator *validator.Validate
	Listings  listing.Client
	Rates     currency.CBRClient
	Quotes    *quote.Service
	Health    health.Dependencies

	closers []func(context.Context) error
}

// New builds logging, metrics, tracing, Redis and the quote pipeline from cfg.
// service names the binary in logs and traces.
func New(ctx context.Context, cfg *config.Config, service string) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	d := &Dependencies{
		Config:    cfg,
		Logger:    obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Str("service", service).Logger(),
		Validator: validator.New(validator.WithRequiredStructEnabled()),
	}

	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
		resilience.MustRegisterMetrics(cfg.Obs.MetricsNamespace, nil)
	}

	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   service,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			d.Logger.Error().Err(err).Msg("initialise tracing")
		} else {
			d.closers = append(d.closers, shutdown)
		}
	}

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg.RedisURL, cfg.Obs.MetricsEnabled, d.Logger)
		if err != nil {
			_ = d.Close(ctx)
			return nil, err
		}
		d.Redis = rdb
		d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })
	} else {
		d.Logger.Warn().Msg("REDIS_URL not set, chat limits and locks are process-local")
	}

	d.Listings = listing.Client{
		HTTP:         d.upstreamClient(TargetListing),
		UserAgent:    cfg.ListingUserAgent,
		MaxBodyBytes: cfg.ListingMaxBodyBytes,
	}
	d.Rates = currency.CBRClient{
		HTTP:     d.upstreamClient(TargetRates),
		URL:      cfg.RateSourceURL,
		Currency: cfg.RateCurrency,
	}
	d.Quotes = &quote.Service{Listings: d.Listings, Rates: d.Rates}
	d.Health = health.Dependencies{Redis: d.Redis, Rates: d.Rates}
	return d, nil
}

// NewRedis connects to url, instruments the client and verifies it with PING.
func NewRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewChatLimiter builds the per-chat limiter from CHAT_RATE_LIMIT, backed by
// Redis when available and by process memory otherwise.
func (d *Dependencies) NewChatLimiter() (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(d.Config.ChatRateLimit)
	if err != nil {
		return nil, fmt.Errorf("parse CHAT_RATE_LIMIT: %w", err)
	}
	var store limiter.Store
	if d.Redis != nil {
		store, err = limiterredis.NewStoreWithOptions(d.Redis, limiter.StoreOptions{Prefix: "dutybot:chat-limit"})
		if err != nil {
			return nil, fmt.Errorf("limiter store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}
	return limiter.New(store, rate), nil
}

// ChatLocker returns a Redis lock when Redis is configured and an in-process lock otherwise.
func (d *Dependencies) ChatLocker() bot.ChatLocker {
	if d.Redis != nil {
		return lock.Locker{R: d.Redis, Prefix: "dutybot:chat-lock:"}
	}
	return &lock.Local{}
}

// Close releases resources in reverse order of creation.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) upstreamClient(target string) resilience.HTTPClient {
	cfg := d.Config
	breaker := resilience.NewBreakerFromConfig(resilience.BreakerConfig{
		Target:       target,
		MinRequests:  cfg.BreakerMinRequests,
		FailureRatio: cfg.BreakerFailureRatio,
		OpenFor:      cfg.BreakerOpenFor,
	}).WithLogger(d.Logger)
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: obs.InstrumentTransport(nil)},
		Breaker:     breaker,
		BaseBackoff: cfg.HTTPClientBackoff,
		MaxAttempts: cfg.HTTPClientMaxAttempts,
		Jitter:      0.2,
		Timeout:     cfg.HTTPClientTimeout,
	}
}
