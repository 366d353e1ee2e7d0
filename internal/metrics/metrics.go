// Package metrics exposes Prometheus counters/gauges for the error kinds
// in the error-handling design and for session/group cardinality. Metrics
// are disabled by default; constructors return nil receivers whose methods
// are safe no-ops, so call sites never need a nil check of their own.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ziyouwa/vnts/internal/errkind"
)

var (
	enabled  atomic.Bool
	registry = prometheus.NewRegistry()
	once     sync.Once
)

// Enable turns metrics collection on, registering the process collectors
// the same way the teacher codebase's metrics bootstrap does.
func Enable() {
	enabled.Store(true)
	once.Do(func() {
		registry.MustRegister(prometheus.NewGoCollector())
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// IsEnabled reports whether metrics collection is active.
func IsEnabled() bool { return enabled.Load() }

// GetRegistry returns the Prometheus registry metrics are collected into.
func GetRegistry() *prometheus.Registry { return registry }

// PacketMetrics counts per-error-kind packet drops and tracks cardinality
// gauges for sessions and groups.
type PacketMetrics struct {
	drops    *prometheus.CounterVec
	sessions prometheus.Gauge
	groups   prometheus.Gauge
}

var (
	packetMetrics     *PacketMetrics
	packetMetricsOnce sync.Once
)

// NewPacketMetrics returns the process-wide PacketMetrics singleton,
// registering it with GetRegistry() on first call. Returns nil if metrics
// are disabled. Call sites never construct their own CounterVec/Gauge set,
// since the underlying registry panics on duplicate registration.
func NewPacketMetrics() *PacketMetrics {
	if !IsEnabled() {
		return nil
	}
	packetMetricsOnce.Do(func() {
		packetMetrics = newPacketMetrics(registry)
	})
	return packetMetrics
}

func newPacketMetrics(reg *prometheus.Registry) *PacketMetrics {
	return &PacketMetrics{
		drops: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "vnts",
			Name:      "packet_drops_total",
			Help:      "Packets dropped, labeled by error kind.",
		}, []string{"kind"}),
		sessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "vnts",
			Name:      "active_sessions",
			Help:      "Number of address bindings currently live.",
		}),
		groups: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "vnts",
			Name:      "active_groups",
			Help:      "Number of groups currently live.",
		}),
	}
}

// RecordDrop increments the per-kind drop counter.
func (m *PacketMetrics) RecordDrop(kind errkind.Kind) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(string(kind)).Inc()
}

// SetSessionCount reports the current address-binding cardinality.
func (m *PacketMetrics) SetSessionCount(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// SetGroupCount reports the current group cardinality.
func (m *PacketMetrics) SetGroupCount(n int) {
	if m == nil {
		return
	}
	m.groups.Set(float64(n))
}
