// Package dispatch implements the to-gateway routing split described in the
// system overview: a server handler for gateway-directed control traffic
// and a client handler for client-to-client data traffic, sharing one
// entrypoint per inbound frame.
package dispatch

import (
	"context"
	"sync"

	"github.com/ziyouwa/vnts/internal/cipher"
	"github.com/ziyouwa/vnts/internal/errkind"
	"github.com/ziyouwa/vnts/internal/group"
	"github.com/ziyouwa/vnts/internal/logger"
	"github.com/ziyouwa/vnts/internal/metrics"
	"github.com/ziyouwa/vnts/internal/session"
	"github.com/ziyouwa/vnts/internal/telemetry"
	"github.com/ziyouwa/vnts/internal/wire"
)

// Sender delivers a fully built frame to an arbitrary transport address.
// The relay and punch-broker paths need to send to an address other than
// the one the triggering packet arrived from; transport.Hub implements
// this over both the UDP socket and the live TCP writer channels.
type Sender interface {
	SendTo(addr string, frame []byte) error
}

// Config holds the parts of the CLI configuration the dispatcher consults
// directly: the default network a newly seen group is created with, the
// registration token whitelist, and fingerprint mode.
type Config struct {
	Gateway          uint32
	Netmask          uint32
	Whitelist        []string
	FingerMode       bool
	SupportedVersion string
}

// Dispatcher routes inbound frames to the server or client handler and
// owns the per-address reply sequence counters used to build AEAD nonces
// for server-originated packets.
type Dispatcher struct {
	cfg       Config
	whitelist map[string]struct{}
	groups    *group.Registry
	sessions  *session.Cache
	keys      *cipher.KeyPair
	metrics   *metrics.PacketMetrics

	seqMu sync.Mutex
	seq   map[string]uint8
}

// New builds a Dispatcher over the shared group registry and session
// cache. keys is the server's long-lived RSA identity.
func New(cfg Config, groups *group.Registry, sessions *session.Cache, keys *cipher.KeyPair) *Dispatcher {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, tok := range cfg.Whitelist {
		wl[tok] = struct{}{}
	}
	return &Dispatcher{
		cfg:       cfg,
		whitelist: wl,
		groups:    groups,
		sessions:  sessions,
		keys:      keys,
		metrics:   metrics.NewPacketMetrics(),
		seq:       make(map[string]uint8),
	}
}

// nextSeq returns the next sequence byte to stamp on a reply to addr. Kept
// here rather than on cipher.Session so that Session remains an immutable
// handle; rotating a client's key never needs to touch this counter.
func (d *Dispatcher) nextSeq(addr string) uint8 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	n := d.seq[addr]
	d.seq[addr] = n + 1
	return n
}

// fromGatewaySrcVIP is the sentinel source virtual IP this implementation
// stamps on every server-originated packet. group.Network.Register's
// lowest-free scan starts at NetworkIP+1 and so never hands out 0 (only a
// requested IP of 0 in a 0.0.0.0-netmask group can be assigned it), which
// keeps the AEAD nonce space for server→client packets disjoint from the
// nonce space a registered client uses for its own (SrcVIP, Seq) pairs
// sharing the same per-address session key.
const fromGatewaySrcVIP uint32 = 0

// Dispatch parses raw and routes it to the server or client handler. Every
// classified failure (malformed frame, crypto failure, missing context) is
// logged and counted here and never propagates past this call; per-packet
// errors must not affect any other packet or connection.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, addr string, sender Sender) {
	pkt, err := wire.Parse(raw)
	if err != nil {
		d.drop(ctx, addr, errkind.WireFormat, err)
		return
	}

	pc := &logger.PacketContext{PeerAddr: addr, MessageType: messageTypeName(pkt.Header.MessageType)}
	if existing := logger.FromContext(ctx); existing != nil {
		pc.ConnID = existing.ConnID
	}
	ctx = logger.WithContext(ctx, pc)

	ctx, span := telemetry.StartDispatchSpan(ctx, pc.MessageType, telemetry.PeerAddr(addr))
	defer span.End()

	if pkt.Header.IsToGateway() {
		d.handleServer(ctx, pkt, addr, sender)
	} else {
		d.handleClient(ctx, pkt, addr, sender)
	}
}

func (d *Dispatcher) drop(ctx context.Context, addr string, kind errkind.Kind, cause error) {
	d.metrics.RecordDrop(kind)
	telemetry.RecordError(ctx, cause)
	logger.DebugCtx(ctx, "dropping packet", "addr", addr, "kind", string(kind), "error", cause)
}

func (d *Dispatcher) send(ctx context.Context, sender Sender, addr string, frame []byte) {
	if err := sender.SendTo(addr, frame); err != nil {
		d.metrics.RecordDrop(errkind.TransportFatal)
		logger.WarnCtx(ctx, "send failed", "addr", addr, "error", err)
	}
}

// buildReply assembles a reply frame addressed back at dstVIP (the sending
// client's own virtual IP once known, 0 before registration), optionally
// sealing the payload under sess.
func (d *Dispatcher) buildReply(addr string, msgType wire.MessageType, dstVIP uint32, sess *cipher.Session, payload []byte) []byte {
	seq := d.nextSeq(addr)
	flags := wire.FlagReply
	if sess == nil {
		frame, _ := wire.Build(msgType, flags, fromGatewaySrcVIP, dstVIP, seq, payload)
		return frame
	}

	flags |= wire.FlagEncrypted
	header := wire.Header{Version: wire.CurrentVersion, MessageType: msgType, Flags: flags, SrcVIP: fromGatewaySrcVIP, DstVIP: dstVIP, Seq: seq}
	sealed := sess.Seal(wire.HeaderBytes(header), fromGatewaySrcVIP, seq, payload)
	frame, _ := wire.Build(msgType, flags, fromGatewaySrcVIP, dstVIP, seq, sealed)
	return frame
}

// DropAddress marks the client bound to addr offline and forgets addr's
// address binding; its IP binding and cipher session are left to expire on
// their own TTLs. Transport front-ends call this when a TCP connection is
// torn down, mirroring the explicit drop_address(addr) collaborator
// described for TCP disconnects.
func (d *Dispatcher) DropAddress(addr string) {
	if lctx, ok := d.sessions.LookupContext(addr); ok {
		if c, ok := lctx.Network.ClientByVIP(lctx.VirtualIP); ok {
			lctx.Network.Touch(lctx.VirtualIP, addr, c.Timestamp)
		}
	}
	d.sessions.DropAddress(addr)
}

func messageTypeName(t wire.MessageType) string {
	switch t {
	case wire.PublicKeyRequest:
		return "public_key_request"
	case wire.PublicKeyReply:
		return "public_key_reply"
	case wire.SecretKeyExchange:
		return "secret_key_exchange"
	case wire.SecretKeyAck:
		return "secret_key_ack"
	case wire.Registration:
		return "registration"
	case wire.RegistrationReply:
		return "registration_reply"
	case wire.PollDeviceList:
		return "poll_device_list"
	case wire.PeerListReply:
		return "peer_list_reply"
	case wire.NotModified:
		return "not_modified"
	case wire.Heartbeat:
		return "heartbeat"
	case wire.HeartbeatAck:
		return "heartbeat_ack"
	case wire.Leave:
		return "leave"
	case wire.TimeSync:
		return "time_sync"
	case wire.TimeSyncReply:
		return "time_sync_reply"
	case wire.Relay:
		return "relay"
	case wire.PunchRequest:
		return "punch_request"
	case wire.PunchReply:
		return "punch_reply"
	case wire.Unreachable:
		return "unreachable"
	case wire.ReRegister:
		return "re_register"
	case wire.RegistrationError:
		return "registration_error"
	default:
		return "unknown"
	}
}
