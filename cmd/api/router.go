package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/duty-bot/internal/app"
	"github.com/noah-isme/duty-bot/internal/health"
	"github.com/noah-isme/duty-bot/internal/obs"
	"github.com/noah-isme/duty-bot/internal/quote"
	"github.com/noah-isme/duty-bot/internal/ratelimit"
	"github.com/noah-isme/duty-bot/internal/security"
)

const maxAPIBody = 16 << 10

func newRouter(deps *app.Dependencies, quoter quote.Quoter) http.Handler {
	cfg := deps.Config
	logger := deps.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Obs.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.MetricsEnabled {
		httpMetrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	healthHandler := health.Handler{Checker: deps.Health}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	limits := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "dutybot:api-limit:"},
		Config:  ratelimit.Config{Key: ratelimit.ByClientIP, Window: cfg.APIRateLimitWindow, Max: cfg.APIRateLimitMax},
		OnError: func(r *http.Request, err error) {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("api_rate_limit_failed")
		},
	}
	quotes := quote.NewHandler(quote.HandlerConfig{Service: quoter, Validator: deps.Validator})

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: maxAPIBody}.Middleware)
		v.Use(limits.Middleware)
		v.Post("/quotes", quotes.Quote)
		v.Post("/calculations", quotes.Calculate)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
