package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ziyouwa/vnts/internal/errkind"
)

func TestDisabledByDefaultReturnsNilSafely(t *testing.T) {
	enabled.Store(false)
	m := NewPacketMetrics()
	assert.Nil(t, m)

	// Nil-receiver methods must not panic.
	m.RecordDrop(errkind.WireFormat)
	m.SetSessionCount(3)
	m.SetGroupCount(1)
}

func TestEnabledRecordsDrops(t *testing.T) {
	m := newPacketMetrics(prometheus.NewRegistry())

	m.RecordDrop(errkind.CryptoFailure)
	m.RecordDrop(errkind.CryptoFailure)
	m.RecordDrop(errkind.IpExhausted)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.drops.WithLabelValues(string(errkind.CryptoFailure))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.drops.WithLabelValues(string(errkind.IpExhausted))))
}

func TestGaugesReflectLatestSet(t *testing.T) {
	m := newPacketMetrics(prometheus.NewRegistry())

	m.SetSessionCount(42)
	m.SetGroupCount(7)

	assert.Equal(t, float64(42), testutil.ToFloat64(m.sessions))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.groups))
}

func TestNewPacketMetricsIsSingletonWhenEnabled(t *testing.T) {
	Enable()
	a := NewPacketMetrics()
	b := NewPacketMetrics()
	assert.Same(t, a, b)
}
