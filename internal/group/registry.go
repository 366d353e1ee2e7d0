// Package group implements the per-group virtual-network registry: network/
// mask/gateway, the client table, and the IP-allocation rules used at
// registration time.
package group

import (
	"sort"
	"sync"
	"time"

	"github.com/ziyouwa/vnts/internal/errkind"
	"github.com/ziyouwa/vnts/internal/expiremap"
)

const idleTTL = 7 * 24 * time.Hour

// ClientTelemetry is the optional status payload clients report on
// heartbeat.
type ClientTelemetry struct {
	UpstreamBytes   uint64
	DownstreamBytes uint64
	NATConeType     string
	Peers           []uint32
	UpdatedAt       time.Time
}

// ClientEntry is one member of a group's client table.
type ClientEntry struct {
	DeviceID          string
	Name              string
	Version           string
	Address           string // transport address in "host:port" form
	VirtualIP         uint32
	Online            bool
	JoinedAt          time.Time
	LastMessageAt     time.Time
	Timestamp         int64 // discriminator used by the session cache's eviction callbacks
	Telemetry         *ClientTelemetry
	ClientChoseSecret bool
	ServerChoseSecret bool
}

// Network is a group's descriptor: subnet, gateway, client table and epoch.
type Network struct {
	mu        sync.RWMutex
	GroupID   string
	NetworkIP uint32
	Netmask   uint32
	Gateway   uint32
	Clients   map[uint32]*ClientEntry
	Epoch     uint64
}

// Snapshot is an immutable copy of a Network suitable for admin API
// responses, sorted by virtual IP.
type Snapshot struct {
	GroupID   string
	NetworkIP uint32
	Netmask   uint32
	Gateway   uint32
	Epoch     uint64
	Clients   []ClientEntry
}

func (n *Network) snapshot() Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	clients := make([]ClientEntry, 0, len(n.Clients))
	for _, c := range n.Clients {
		clients = append(clients, *c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].VirtualIP < clients[j].VirtualIP })
	return Snapshot{
		GroupID:   n.GroupID,
		NetworkIP: n.NetworkIP,
		Netmask:   n.Netmask,
		Gateway:   n.Gateway,
		Epoch:     n.Epoch,
		Clients:   clients,
	}
}

// Registry is the keyed-by-group-id store of Networks, idle-evicted after
// 7 days with no access.
type Registry struct {
	networks *expiremap.Map[string, *Network]
}

// NewRegistry creates an empty Registry. Group eviction has no side effect
// beyond removal: a lazily created group simply stops existing.
func NewRegistry() *Registry {
	return &Registry{
		networks: expiremap.New[string, *Network](func(string, *Network) {}),
	}
}

// GetOrCreate returns the existing group or installs one built from
// (gateway, netmask), refreshing its TTL either way.
func (r *Registry) GetOrCreate(groupID string, gateway, netmask uint32) *Network {
	return r.networks.GetOrInsertWith(groupID, func() (time.Duration, *Network) {
		return idleTTL, &Network{
			GroupID:   groupID,
			NetworkIP: gateway & netmask,
			Netmask:   netmask,
			Gateway:   gateway,
			Clients:   make(map[uint32]*ClientEntry),
		}
	})
}

// LookupNetwork returns the group's Network, renewing its TTL, without
// creating it if absent. Used by the session cache's eviction callbacks,
// which must never implicitly create a group.
func (r *Registry) LookupNetwork(groupID string) (*Network, bool) {
	return r.networks.GetAndRenew(groupID)
}

// GroupCount reports the number of currently live groups, for metrics gauge
// reporting.
func (r *Registry) GroupCount() int {
	return r.networks.Size()
}

// GroupIDs returns a snapshot of all currently live group ids.
func (r *Registry) GroupIDs() []string {
	pairs := r.networks.KeyValues()
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Key)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a sorted, read-only copy of a group's descriptor and
// client list.
func (r *Registry) Snapshot(groupID string) (Snapshot, bool) {
	net, ok := r.networks.GetAndRenew(groupID)
	if !ok {
		return Snapshot{}, false
	}
	return net.snapshot(), true
}

// RegisterResult is what a successful Register call hands back to the
// server handler.
type RegisterResult struct {
	VirtualIP uint32
	Gateway   uint32
	Netmask   uint32
	Epoch     uint64
	Timestamp int64
}

// Register finds or allocates a virtual IP for (groupID, deviceID) per the
// allocation rules: device-id reuse, then a valid free-or-own requested IP,
// then the lowest free host address, else IpExhausted.
func (net *Network) Register(deviceID string, requestedIP *uint32, addr string, now time.Time) (RegisterResult, error) {
	net.mu.Lock()
	defer net.mu.Unlock()

	ts := now.UnixNano()

	// Rule 1: device-id already present.
	for vip, c := range net.Clients {
		if c.DeviceID == deviceID {
			c.Address = addr
			c.Online = true
			c.Timestamp = ts
			c.LastMessageAt = now
			net.Epoch++
			return RegisterResult{VirtualIP: vip, Gateway: net.Gateway, Netmask: net.Netmask, Epoch: net.Epoch, Timestamp: ts}, nil
		}
	}

	// Rule 2: requested IP, in subnet, not the gateway, free or owned.
	if requestedIP != nil {
		ip := *requestedIP
		if net.inSubnet(ip) && ip != net.Gateway {
			if existing, exists := net.Clients[ip]; !exists || existing.DeviceID == deviceID {
				net.installClient(ip, deviceID, addr, ts, now)
				net.Epoch++
				return RegisterResult{VirtualIP: ip, Gateway: net.Gateway, Netmask: net.Netmask, Epoch: net.Epoch, Timestamp: ts}, nil
			}
		}
	}

	// Rule 3: lowest free host address in ascending order.
	first, last := net.hostRange()
	for ip := first; ip <= last; ip++ {
		if ip == net.Gateway {
			continue
		}
		if _, exists := net.Clients[ip]; exists {
			continue
		}
		net.installClient(ip, deviceID, addr, ts, now)
		net.Epoch++
		return RegisterResult{VirtualIP: ip, Gateway: net.Gateway, Netmask: net.Netmask, Epoch: net.Epoch, Timestamp: ts}, nil
	}

	return RegisterResult{}, errkind.Newf(errkind.IpExhausted, "no free host address in group %q", net.GroupID)
}

func (net *Network) installClient(ip uint32, deviceID, addr string, ts int64, now time.Time) {
	net.Clients[ip] = &ClientEntry{
		DeviceID:      deviceID,
		Address:       addr,
		VirtualIP:     ip,
		Online:        true,
		JoinedAt:      now,
		LastMessageAt: now,
		Timestamp:     ts,
	}
}

func (net *Network) inSubnet(ip uint32) bool {
	return ip&net.Netmask == net.NetworkIP
}

func (net *Network) hostRange() (first, last uint32) {
	broadcast := net.Gateway | ^net.Netmask
	return net.NetworkIP + 1, broadcast - 1
}

// Leave removes a client immediately (voluntary departure), bumping epoch.
func (net *Network) Leave(vip uint32, addr string) {
	net.mu.Lock()
	defer net.mu.Unlock()
	if c, ok := net.Clients[vip]; ok && c.Address == addr {
		delete(net.Clients, vip)
		net.Epoch++
	}
}

// ClientByVIP returns a copy of the client entry at vip, if present.
func (net *Network) ClientByVIP(vip uint32) (ClientEntry, bool) {
	net.mu.RLock()
	defer net.mu.RUnlock()
	c, ok := net.Clients[vip]
	if !ok {
		return ClientEntry{}, false
	}
	return *c, true
}

// CurrentEpoch returns the group's current epoch.
func (net *Network) CurrentEpoch() uint64 {
	net.mu.RLock()
	defer net.mu.RUnlock()
	return net.Epoch
}

// Touch evicts the client at vip if its (address, timestamp) still match,
// marking it offline and bumping the epoch. Called by the session cache's
// address-binding eviction callback with the map's own guard already
// released.
func (net *Network) Touch(vip uint32, addr string, timestamp int64) {
	net.mu.Lock()
	defer net.mu.Unlock()
	item, ok := net.Clients[vip]
	if !ok {
		return
	}
	if item.Address != addr || item.Timestamp != timestamp {
		return
	}
	item.Online = false
	net.Epoch++
}

// UpdateTelemetry records a client's self-reported heartbeat telemetry and
// bumps its last-message timestamp. Does not bump the epoch: telemetry is
// not membership-visible state.
func (net *Network) UpdateTelemetry(vip uint32, addr string, t ClientTelemetry, now time.Time) {
	net.mu.Lock()
	defer net.mu.Unlock()
	c, ok := net.Clients[vip]
	if !ok || c.Address != addr {
		return
	}
	t.UpdatedAt = now
	c.Telemetry = &t
	c.LastMessageAt = now
}

// Remove evicts the client at vip if its address still matches, bumping the
// epoch. Called by the session cache's IP-binding eviction callback.
func (net *Network) Remove(vip uint32, addr string) {
	net.mu.Lock()
	defer net.mu.Unlock()
	if c, ok := net.Clients[vip]; ok && c.Address == addr {
		delete(net.Clients, vip)
		net.Epoch++
	}
}
