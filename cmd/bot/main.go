package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/duty-bot/internal/app"
	"github.com/noah-isme/duty-bot/internal/bot"
	"github.com/noah-isme/duty-bot/internal/config"
	"github.com/noah-isme/duty-bot/internal/health"
	"github.com/noah-isme/duty-bot/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireBotToken(); err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, "dutybot-bot")
	if err != nil {
		panic(err)
	}
	logger := deps.Logger
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	telegram, err := bot.NewTelegram(bot.TelegramConfig{
		Token: cfg.TelegramToken,
		Client: &http.Client{
			Transport: obs.InstrumentTransport(nil),
			Timeout:   cfg.BotPollTimeout + 10*time.Second,
		},
		PollTimeout: cfg.BotPollTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect telegram")
	}
	chatLimiter, err := deps.NewChatLimiter()
	if err != nil {
		logger.Fatal().Err(err).Msg("build chat limiter")
	}

	dutyBot := bot.New(bot.Config{
		Sender:   telegram,
		Quoter:   deps.Quotes,
		Limiter:  chatLimiter,
		Locker:   deps.ChatLocker(),
		Logger:   logger,
		LockTTL:  cfg.ChatLockTTL,
		Timeout:  cfg.BotQuoteTimeout,
		Parallel: cfg.BotConcurrency,
	})

	ops := &http.Server{
		Addr:              cfg.OpsAddr(),
		Handler:           opsRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", ops.Addr).Msg("ops server starting")
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server exited unexpectedly")
		}
	}()

	logger.Info().Str("username", telegram.Username()).Msg("bot polling")
	if err := dutyBot.Run(ctx, telegram.Updates(ctx)); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("bot stopped")
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ops shutdown failed")
	}
	logger.Info().Msg("bot stopped")
}

func opsRouter(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	healthHandler := health.Handler{Checker: deps.Health}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	if deps.Config.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}
