package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes recorded in embedrpc_bridge_calls_total.
const (
	outcomeOK          = "ok"
	outcomeRemoteError = "remote_error"
	outcomeTimeout     = "timeout"
	outcomeClosed      = "closed"
	outcomeCanceled    = "canceled"
	outcomeSendError   = "send_error"
)

// Drop reasons recorded in embedrpc_bridge_dropped_messages_total.
const (
	dropMalformed      = "malformed"
	dropForeignContext = "foreign_context"
	dropOriginMismatch = "origin_mismatch"
	dropUnknownCall    = "unknown_correlation"
	dropUnexpectedType = "unexpected_type"
	dropDuplicateReady = "duplicate_ready"
)

// Metrics exposes call counters, pending gauges, call latency and dropped inbound messages.
// A nil *Metrics disables recording.
type Metrics struct {
	calls   *prometheus.CounterVec
	pending *prometheus.GaugeVec
	latency *prometheus.HistogramVec
	dropped *prometheus.CounterVec
}

// NewMetrics registers the bridge metrics with reg (prometheus.DefaultRegisterer when nil).
// Collectors already registered on reg by an earlier call are shared, so every
// channel in a process can report into the same series.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	calls, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedrpc",
		Subsystem: "bridge",
		Name:      "calls_total",
		Help:      "Remote procedure calls by procedure and outcome",
	}, []string{"procedure", "outcome"}))
	if err != nil {
		return nil, err
	}
	pending, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "embedrpc",
		Subsystem: "bridge",
		Name:      "pending_calls",
		Help:      "Calls awaiting a result per embedded context",
	}, []string{"context_id"}))
	if err != nil {
		return nil, err
	}
	latency, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "embedrpc",
		Subsystem: "bridge",
		Name:      "call_latency_ms",
		Help:      "Time from call registration to settlement in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000, 30000},
	}, []string{"procedure"}))
	if err != nil {
		return nil, err
	}
	dropped, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedrpc",
		Subsystem: "bridge",
		Name:      "dropped_messages_total",
		Help:      "Inbound messages ignored by the channel",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}
	return &Metrics{calls: calls, pending: pending, latency: latency, dropped: dropped}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	var zero C
	return zero, fmt.Errorf("%s - failed to register metrics: %w", logPrefix, err)
}

func (m *Metrics) observeCall(procedure, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(procedure, outcome).Inc()
	m.latency.WithLabelValues(procedure).Observe(duration.Seconds() * 1000)
}

func (m *Metrics) setPending(contextID string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(contextID).Set(float64(n))
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
