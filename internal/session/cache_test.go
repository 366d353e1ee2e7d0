package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziyouwa/vnts/internal/group"
)

func ip(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestLookupContextRequiresBothBindings(t *testing.T) {
	groups := group.NewRegistry()
	cache := New(groups)

	_, ok := cache.LookupContext("no-such-addr")
	assert.False(t, ok)

	net := groups.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 0))
	res, err := net.Register("dev1", nil, "1.2.3.4:9000", time.Now())
	require.NoError(t, err)

	cache.Bind("1.2.3.4:9000", "g", res.VirtualIP, res.Timestamp, nil)

	ctx, ok := cache.LookupContext("1.2.3.4:9000")
	require.True(t, ok)
	assert.Equal(t, "g", ctx.Group)
	assert.Equal(t, res.VirtualIP, ctx.VirtualIP)
}

func TestAddressEvictionMarksOffline(t *testing.T) {
	groups := group.NewRegistry()
	cache := New(groups)
	net := groups.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 0))
	res, err := net.Register("dev1", nil, "addr-1", time.Now())
	require.NoError(t, err)

	cache.addrBinding.Insert("addr-1", Binding{Group: "g", VirtualIP: res.VirtualIP, Timestamp: res.Timestamp}, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		c, ok := net.ClientByVIP(res.VirtualIP)
		return ok && !c.Online
	}, time.Second, 5*time.Millisecond)
}

func TestStaleAddressEvictionDoesNotTouchLiveEntry(t *testing.T) {
	groups := group.NewRegistry()
	cache := New(groups)
	net := groups.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 0))
	res, err := net.Register("dev1", nil, "addr-1", time.Now())
	require.NoError(t, err)

	staleTimestamp := res.Timestamp - 1
	cache.addrBinding.Insert("addr-1", Binding{Group: "g", VirtualIP: res.VirtualIP, Timestamp: staleTimestamp}, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	c, ok := net.ClientByVIP(res.VirtualIP)
	require.True(t, ok)
	assert.True(t, c.Online, "an evicted stale binding must not mark a superseding registration offline")
}

func TestIPEvictionRemovesClient(t *testing.T) {
	groups := group.NewRegistry()
	cache := New(groups)
	net := groups.GetOrCreate("g", ip(10, 26, 0, 1), ip(255, 255, 255, 0))
	res, err := net.Register("dev1", nil, "addr-1", time.Now())
	require.NoError(t, err)

	cache.ipBinding.Insert(IPKey{Group: "g", VirtualIP: res.VirtualIP}, "addr-1", 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := net.ClientByVIP(res.VirtualIP)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestAuthTokenLifecycle(t *testing.T) {
	cache := New(group.NewRegistry())
	assert.False(t, cache.ValidAuthToken("tok"))
	cache.IssueAuthToken("tok")
	assert.True(t, cache.ValidAuthToken("tok"))
}
