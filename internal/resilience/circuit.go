package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses to contact an upstream.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

// Breaker positions; the values are exported as the breaker_state gauge.
const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig carries the thresholds of a breaker guarding one upstream.
type BreakerConfig struct {
	Target       string
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// outcomes counts results observed while closed.
type outcomes struct {
	ok, failed int
}

func (o outcomes) total() int { return o.ok + o.failed }

func (o outcomes) failureRatio() float64 {
	if o.total() == 0 {
		return 0
	}
	return float64(o.failed) / float64(o.total())
}

// Breaker trips when the share of failed upstream calls reaches FailureRatio
// after at least MinRequests calls. Once OpenFor has elapsed a single probe
// is let through; its outcome closes or reopens the breaker.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    State
	counts   outcomes
	openedAt time.Time
	probing  bool
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBreaker builds an unlabelled breaker. Non-positive arguments get defaults
// of one request, a 0.5 ratio and a 30s cool-off.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	return NewBreakerFromConfig(BreakerConfig{MinRequests: minRequests, FailureRatio: failureRatio, OpenFor: openFor})
}

// NewBreakerFromConfig builds a breaker labelled with cfg.Target.
func NewBreakerFromConfig(cfg BreakerConfig) *Breaker {
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	switch {
	case cfg.FailureRatio <= 0:
		cfg.FailureRatio = 0.5
	case cfg.FailureRatio > 1:
		cfg.FailureRatio = 1
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	b := &Breaker{cfg: cfg, logger: zerolog.Nop(), now: time.Now}
	b.publishState()
	return b
}

// WithTarget relabels the breaker for metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Target = strings.TrimSpace(target)
	b.publishState()
	return b
}

// WithLogger sets the fallback logger for transitions when the context carries none.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// Allow reports whether a call may proceed. Every permitted call must be
// followed by Report.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.OpenFor {
			return false
		}
		b.moveTo(ctx, HalfOpen)
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Report records the outcome of a call permitted by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.moveTo(ctx, Closed)
		} else {
			b.moveTo(ctx, Open)
		}
		return
	}

	if success {
		b.counts.ok++
	} else {
		b.counts.failed++
	}
	if b.counts.total() < b.cfg.MinRequests {
		return
	}
	if b.counts.failureRatio() >= b.cfg.FailureRatio {
		b.moveTo(ctx, Open)
		return
	}
	// keep the window short so a long healthy history cannot mask a new outage
	if b.counts.total() > 2*b.cfg.MinRequests {
		b.counts = outcomes{ok: (b.counts.ok + 1) / 2, failed: (b.counts.failed + 1) / 2}
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Target returns the upstream label, "default" when unset.
func (b *Breaker) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.label()
}

func (b *Breaker) label() string {
	if b.cfg.Target == "" {
		return "default"
	}
	return b.cfg.Target
}

func (b *Breaker) moveTo(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.counts = outcomes{}
	if next == Open {
		b.openedAt = b.now()
	}
	b.publishState()
	if breakerTransitions != nil {
		breakerTransitions.WithLabelValues(b.label(), prev.String(), next.String()).Inc()
	}

	logger := &b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = l
	}
	evt := logger.Info().Str("target", b.label()).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishState() {
	if breakerState != nil {
		breakerState.WithLabelValues(b.label()).Set(float64(b.state))
	}
}

// Backoff returns base doubled for every attempt after the first, spread by
// ±jitter (a fraction, 0.2 means 20%).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
