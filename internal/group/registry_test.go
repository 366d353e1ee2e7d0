package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ip(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestAssignLowestHost(t *testing.T) {
	r := NewRegistry()
	gateway := ip(10, 26, 0, 1)
	netmask := ip(255, 255, 255, 0)
	net := r.GetOrCreate("g", gateway, netmask)

	resA, err := net.Register("deviceA", nil, "1.1.1.1:1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, ip(10, 26, 0, 2), resA.VirtualIP)

	resB, err := net.Register("deviceB", nil, "2.2.2.2:2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, ip(10, 26, 0, 3), resB.VirtualIP)

	resA2, err := net.Register("deviceA", nil, "1.1.1.1:9", time.Now())
	require.NoError(t, err)
	assert.Equal(t, ip(10, 26, 0, 2), resA2.VirtualIP, "re-registration with the same device-id must reuse its virtual IP")
}

func TestRequestedIPHonoredWhenFree(t *testing.T) {
	r := NewRegistry()
	net := r.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 0))

	want := ip(10, 26, 0, 50)
	res, err := net.Register("deviceA", &want, "addr", time.Now())
	require.NoError(t, err)
	assert.Equal(t, want, res.VirtualIP)
}

func TestRequestedGatewayIPRejectedFallsBackToScan(t *testing.T) {
	r := NewRegistry()
	gateway := ip(10, 26, 0, 1)
	net := r.GetOrCreate("g", gateway, ip(255, 255, 255, 0))

	res, err := net.Register("deviceA", &gateway, "addr", time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, gateway, res.VirtualIP)
}

func TestIpExhausted(t *testing.T) {
	r := NewRegistry()
	net := r.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 252)) // /30: hosts .1(gw)-.2

	_, err := net.Register("d1", nil, "a1", time.Now())
	require.NoError(t, err)

	_, err = net.Register("d2", nil, "a2", time.Now())
	require.Error(t, err)
}

func TestTouchRespectsDiscriminator(t *testing.T) {
	r := NewRegistry()
	net := r.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 0))
	res, err := net.Register("d1", nil, "addr-1", time.Now())
	require.NoError(t, err)

	// A stale eviction callback carrying an old timestamp must not touch the
	// entry once it has been superseded by a newer registration.
	net.Touch(res.VirtualIP, "addr-1", res.Timestamp-1)
	c, ok := net.ClientByVIP(res.VirtualIP)
	require.True(t, ok)
	assert.True(t, c.Online)

	net.Touch(res.VirtualIP, "addr-1", res.Timestamp)
	c, ok = net.ClientByVIP(res.VirtualIP)
	require.True(t, ok)
	assert.False(t, c.Online)
}

func TestEpochMonotonic(t *testing.T) {
	r := NewRegistry()
	net := r.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 0))

	e0 := net.CurrentEpoch()
	_, err := net.Register("d1", nil, "addr-1", time.Now())
	require.NoError(t, err)
	e1 := net.CurrentEpoch()
	assert.Greater(t, e1, e0)

	_, err = net.Register("d2", nil, "addr-2", time.Now())
	require.NoError(t, err)
	e2 := net.CurrentEpoch()
	assert.Greater(t, e2, e1)
}

func TestGroupIDsAndSnapshotSorted(t *testing.T) {
	r := NewRegistry()
	net := r.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 0))
	_, err := net.Register("d2", nil, "addr-2", time.Now())
	require.NoError(t, err)
	_, err = net.Register("d1", func() *uint32 { v := ip(10, 26, 0, 5); return &v }(), "addr-1", time.Now())
	require.NoError(t, err)

	ids := r.GroupIDs()
	assert.Contains(t, ids, "g")

	snap, ok := r.Snapshot("g")
	require.True(t, ok)
	require.Len(t, snap.Clients, 2)
	assert.True(t, snap.Clients[0].VirtualIP < snap.Clients[1].VirtualIP)
}
