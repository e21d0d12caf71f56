package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteRequestsTotal counts duty quotes by channel (bot, api) and outcome.
	QuoteRequestsTotal *prometheus.CounterVec
	// QuoteDuration records end-to-end quote latency in milliseconds.
	QuoteDuration *prometheus.HistogramVec
	// UpstreamLatency records listing and exchange-rate fetch latency in milliseconds.
	UpstreamLatency *prometheus.HistogramVec
	// ChatRejectedTotal counts chat messages dropped by the rate limiter or the chat lock.
	ChatRejectedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_requests_total",
			Help:      "Count of duty quote outcomes.",
		}, []string{"channel", "result"})
		QuoteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_duration_ms",
			Help:      "Duty quote latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"channel"})
		UpstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_ms",
			Help:      "Latency of listing and exchange-rate lookups in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"upstream", "result"})
		ChatRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_rejected_total",
			Help:      "Chat messages rejected before quoting.",
		}, []string{"reason"})

		mustRegisterCollector(reg, QuoteRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteRequestsTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				QuoteDuration = v
			}
		})
		mustRegisterCollector(reg, UpstreamLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				UpstreamLatency = v
			}
		})
		mustRegisterCollector(reg, ChatRejectedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ChatRejectedTotal = v
			}
		})
	})
}

// ObserveQuote records a finished quote. It is a no-op until metrics are registered.
func ObserveQuote(channel, result string, millis float64) {
	if QuoteRequestsTotal != nil {
		QuoteRequestsTotal.WithLabelValues(channel, result).Inc()
	}
	if QuoteDuration != nil {
		QuoteDuration.WithLabelValues(channel).Observe(millis)
	}
}

// ObserveUpstream records one listing or rate lookup.
func ObserveUpstream(upstream, result string, millis float64) {
	if UpstreamLatency != nil {
		UpstreamLatency.WithLabelValues(upstream, result).Observe(millis)
	}
}

// CountChatRejected increments the rejected-message counter.
func CountChatRejected(reason string) {
	if ChatRejectedTotal != nil {
		ChatRejectedTotal.WithLabelValues(reason).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
