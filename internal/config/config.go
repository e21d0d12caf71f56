package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv  string
	Port    string
	OpsPort string

	TelegramToken   string
	BotPollTimeout  time.Duration
	BotConcurrency  int
	BotQuoteTimeout time.Duration
	ChatRateLimit   string
	ChatLockTTL     time.Duration

	RedisURL string

	RateSourceURL string
	RateCurrency  string

	ListingUserAgent    string
	ListingMaxBodyBytes int64

	HTTPClientTimeout     time.Duration
	HTTPClientMaxAttempts int
	HTTPClientBackoff     time.Duration
	BreakerMinRequests    int
	BreakerFailureRatio   float64
	BreakerOpenFor        time.Duration

	APIRateLimitMax    int
	APIRateLimitWindow time.Duration
	CORSAllowedOrigins []string

	Obs ObsConfig
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:  valueOrDefault(k.String("APP_ENV"), "development"),
		Port:    valueOrDefault(k.String("PORT"), "8080"),
		OpsPort: valueOrDefault(k.String("OPS_PORT"), "9090"),

		TelegramToken:   strings.TrimSpace(k.String("TG_BOT_TOKEN")),
		BotPollTimeout:  parseDuration(k.String("BOT_POLL_TIMEOUT"), "60s"),
		BotConcurrency:  parseInt(k.String("BOT_MAX_CONCURRENCY"), 8),
		BotQuoteTimeout: parseDuration(k.String("BOT_QUOTE_TIMEOUT"), "45s"),
		ChatRateLimit:   valueOrDefault(k.String("CHAT_RATE_LIMIT"), "5-M"),
		ChatLockTTL:     parseDuration(k.String("CHAT_LOCK_TTL"), "60s"),

		RedisURL: strings.TrimSpace(k.String("REDIS_URL")),

		RateSourceURL: valueOrDefault(k.String("RATE_SOURCE_URL"), "https://www.cbr-xml-daily.ru/daily_json.js"),
		RateCurrency:  strings.ToUpper(valueOrDefault(k.String("RATE_CURRENCY"), "EUR")),

		ListingUserAgent:    strings.TrimSpace(k.String("LISTING_USER_AGENT")),
		ListingMaxBodyBytes: int64(parseInt(k.String("LISTING_MAX_BODY_BYTES"), 4<<20)),

		HTTPClientTimeout:     parseDuration(k.String("HTTP_CLIENT_TIMEOUT"), "10s"),
		HTTPClientMaxAttempts: parseInt(k.String("HTTP_CLIENT_MAX_ATTEMPTS"), 3),
		HTTPClientBackoff:     parseDuration(k.String("HTTP_CLIENT_BACKOFF"), "200ms"),
		BreakerMinRequests:    parseInt(k.String("BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio:   parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:        parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		APIRateLimitMax:    parseInt(k.String("API_RATE_LIMIT_MAX"), 60),
		APIRateLimitWindow: parseDuration(k.String("API_RATE_LIMIT_WINDOW"), "1m"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "dutybot"),
			MetricsBuckets:   strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		return nil, errors.New("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	if cfg.HTTPClientMaxAttempts < 1 {
		return nil, errors.New("HTTP_CLIENT_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.BotConcurrency < 1 {
		return nil, errors.New("BOT_MAX_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

// RequireBotToken reports an error when the Telegram token is missing. Only
// the bot binary needs it.
func (c *Config) RequireBotToken() error {
	if c.TelegramToken == "" {
		return errors.New("TG_BOT_TOKEN is required")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	return listenAddr(c.Port, "8080")
}

// OpsAddr returns the address of the bot health and metrics listener.
func (c *Config) OpsAddr() string {
	return listenAddr(c.OpsPort, "9090")
}

func listenAddr(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = fallback
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
