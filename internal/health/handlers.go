package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const statusOK = "ok"

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles readiness. Binaries flip it to false when shutdown starts
// so load balancers drain traffic before listeners close.
func SetReady(v bool) {
	ready.Store(v)
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingRedis(ctx context.Context, timeout time.Duration) error
	PingRateSource(ctx context.Context, timeout time.Duration) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker           Checker
	RedisTimeout      time.Duration
	RateSourceTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(statusOK))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	status := map[string]string{
		"redis":       probe(ctx, h.Checker.PingRedis, h.redisTimeout()),
		"rate_source": probe(ctx, h.Checker.PingRateSource, h.rateSourceTimeout()),
	}
	code := http.StatusOK
	for _, v := range status {
		if v != statusOK {
			code = http.StatusServiceUnavailable
		}
	}
	writeStatus(w, code, status)
}

func probe(ctx context.Context, ping func(context.Context, time.Duration) error, timeout time.Duration) string {
	if err := ping(ctx, timeout); err != nil {
		return err.Error()
	}
	return statusOK
}

func writeStatus(w http.ResponseWriter, code int, status map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}

func (h Handler) rateSourceTimeout() time.Duration {
	if h.RateSourceTimeout <= 0 {
		return 2 * time.Second
	}
	return h.RateSourceTimeout
}
