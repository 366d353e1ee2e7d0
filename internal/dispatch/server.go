package dispatch

import (
	"context"
	"crypto/sha256"
	"hash/fnv"
	"time"

	"github.com/ziyouwa/vnts/internal/cipher"
	"github.com/ziyouwa/vnts/internal/errkind"
	"github.com/ziyouwa/vnts/internal/group"
	"github.com/ziyouwa/vnts/internal/logger"
	"github.com/ziyouwa/vnts/internal/wire"
)

// handleServer processes a to-gateway packet: the control-plane message
// types from §4.6. Clients that have not yet registered may only reach
// PublicKeyRequest, SecretKeyExchange and TimeSync; anything else from an
// address with no binding is answered with ReRegister (or dropped, for
// messages that carry no useful reply target).
func (d *Dispatcher) handleServer(ctx context.Context, pkt *wire.Packet, addr string, sender Sender) {
	switch pkt.Header.MessageType {
	case wire.PublicKeyRequest:
		d.handlePublicKeyRequest(ctx, addr, sender)
	case wire.SecretKeyExchange:
		d.handleSecretKeyExchange(ctx, pkt, addr, sender)
	case wire.TimeSync:
		d.handleTimeSync(ctx, pkt, addr, sender)
	case wire.Registration:
		d.handleRegistration(ctx, pkt, addr, sender)
	case wire.PollDeviceList:
		d.handlePollDeviceList(ctx, pkt, addr, sender)
	case wire.Heartbeat:
		d.handleHeartbeat(ctx, pkt, addr, sender)
	case wire.Leave:
		d.handleLeave(ctx, pkt, addr)
	default:
		d.drop(ctx, addr, errkind.WireFormat, nil)
	}
}

func (d *Dispatcher) handlePublicKeyRequest(ctx context.Context, addr string, sender Sender) {
	fp := sha256.Sum256(d.keys.PublicDER)
	payload := wire.PublicKeyReplyPayload{PublicKeyDER: d.keys.PublicDER, Fingerprint: fp}.Encode()
	frame := d.buildReply(addr, wire.PublicKeyReply, 0, nil, payload)
	d.send(ctx, sender, addr, frame)
}

func (d *Dispatcher) handleSecretKeyExchange(ctx context.Context, pkt *wire.Packet, addr string, sender Sender) {
	plain, err := d.keys.Decrypt(pkt.Payload)
	if err != nil {
		d.drop(ctx, addr, errkind.CryptoFailure, err)
		return
	}
	if len(plain) != cipher.SessionKeySize+4 {
		d.drop(ctx, addr, errkind.WireFormat, nil)
		return
	}

	var sessionKey [cipher.SessionKeySize]byte
	copy(sessionKey[:], plain[:cipher.SessionKeySize])
	var finger [4]byte
	copy(finger[:], plain[cipher.SessionKeySize:])

	sess, err := cipher.NewSession(sessionKey)
	if err != nil {
		d.drop(ctx, addr, errkind.CryptoFailure, err)
		return
	}

	d.sessions.InstallCipherSession(addr, sess)
	d.sessions.InstallFingerprinter(addr, cipher.NewFingerprinter(finger))

	payload := wire.SecretKeyAckPayload{OK: true}.Encode()
	frame := d.buildReply(addr, wire.SecretKeyAck, 0, sess, payload)
	d.send(ctx, sender, addr, frame)
}

func (d *Dispatcher) handleTimeSync(ctx context.Context, pkt *wire.Packet, addr string, sender Sender) {
	payload := wire.TimeSyncPayload{Timestamp: time.Now().UnixNano()}.Encode()
	frame := d.buildReply(addr, wire.TimeSyncReply, 0, nil, payload)
	d.send(ctx, sender, addr, frame)
}

func (d *Dispatcher) handleRegistration(ctx context.Context, pkt *wire.Packet, addr string, sender Sender) {
	sess, ok := d.sessions.CipherSession(addr)
	if !ok || !pkt.Header.IsEncrypted() {
		d.drop(ctx, addr, errkind.NoContext, nil)
		return
	}

	plain, err := sess.Open(wire.HeaderBytes(pkt.Header), pkt.Header.SrcVIP, pkt.Header.Seq, pkt.Payload)
	if err != nil {
		d.drop(ctx, addr, errkind.CryptoFailure, err)
		return
	}

	reg, err := wire.DecodeRegistration(plain)
	if err != nil {
		d.drop(ctx, addr, errkind.WireFormat, err)
		return
	}

	if len(d.whitelist) > 0 {
		if _, ok := d.whitelist[reg.Token]; !ok {
			d.replyRegistrationError(ctx, addr, sender, sess, errkind.TokenRejected, "token not in whitelist")
			return
		}
	}
	if d.cfg.SupportedVersion != "" && reg.Version != d.cfg.SupportedVersion {
		d.replyRegistrationError(ctx, addr, sender, sess, errkind.VersionMismatch, "unsupported client version "+reg.Version)
		return
	}

	net := d.groups.GetOrCreate(reg.GroupID, d.cfg.Gateway, d.cfg.Netmask)

	var requestedIP *uint32
	if reg.HasRequestedIP {
		ip := reg.RequestedIP
		requestedIP = &ip
	}

	result, err := net.Register(reg.DeviceID, requestedIP, addr, time.Now())
	if err != nil {
		d.replyRegistrationError(ctx, addr, sender, sess, errkind.IpExhausted, "no free address in group")
		return
	}

	d.sessions.Bind(addr, reg.GroupID, result.VirtualIP, result.Timestamp, sess)
	logger.InfoCtx(ctx, "client registered", "group", reg.GroupID, "device_id", reg.DeviceID, "virtual_ip", result.VirtualIP)

	payload := wire.RegistrationReplyPayload{
		VirtualIP:  result.VirtualIP,
		NetworkIP:  result.Gateway & result.Netmask,
		Netmask:    result.Netmask,
		Gateway:    result.Gateway,
		Epoch:      result.Epoch,
		PeerDigest: peerDigest(net, reg.GroupID),
	}.Encode()
	frame := d.buildReply(addr, wire.RegistrationReply, result.VirtualIP, sess, payload)
	d.send(ctx, sender, addr, frame)
}

func (d *Dispatcher) replyRegistrationError(ctx context.Context, addr string, sender Sender, sess *cipher.Session, kind errkind.Kind, message string) {
	d.metrics.RecordDrop(kind)
	payload := wire.RegistrationErrorPayload{Kind: string(kind), Message: message}.Encode()
	frame := d.buildReply(addr, wire.RegistrationError, 0, sess, payload)
	d.send(ctx, sender, addr, frame)
}

func (d *Dispatcher) handlePollDeviceList(ctx context.Context, pkt *wire.Packet, addr string, sender Sender) {
	lctx, ok := d.sessions.LookupContext(addr)
	if !ok {
		d.replyReRegister(ctx, addr, sender)
		return
	}
	sess, _ := d.sessions.CipherSession(addr)

	reqPlain := pkt.Payload
	if pkt.Header.IsEncrypted() && sess != nil {
		pt, err := sess.Open(wire.HeaderBytes(pkt.Header), pkt.Header.SrcVIP, pkt.Header.Seq, pkt.Payload)
		if err != nil {
			d.drop(ctx, addr, errkind.CryptoFailure, err)
			return
		}
		reqPlain = pt
	}

	req, err := wire.DecodePollDeviceList(reqPlain)
	if err != nil {
		d.drop(ctx, addr, errkind.WireFormat, err)
		return
	}

	epoch := lctx.Network.CurrentEpoch()
	if req.Epoch == epoch {
		frame := d.buildReply(addr, wire.NotModified, lctx.VirtualIP, sess, nil)
		d.send(ctx, sender, addr, frame)
		return
	}

	snap, _ := d.groups.Snapshot(lctx.Group)
	peers := make([]wire.PeerEntry, 0, len(snap.Clients))
	for _, c := range snap.Clients {
		peers = append(peers, wire.PeerEntry{VirtualIP: c.VirtualIP, Address: c.Address, Name: c.Name, Online: c.Online})
	}
	payload := wire.PeerListReplyPayload{Epoch: snap.Epoch, Peers: peers}.Encode()
	frame := d.buildReply(addr, wire.PeerListReply, lctx.VirtualIP, sess, payload)
	d.send(ctx, sender, addr, frame)
}

func (d *Dispatcher) handleHeartbeat(ctx context.Context, pkt *wire.Packet, addr string, sender Sender) {
	lctx, ok := d.sessions.LookupContext(addr)
	if !ok {
		d.replyReRegister(ctx, addr, sender)
		return
	}
	sess, _ := d.sessions.CipherSession(addr)

	reqPlain := pkt.Payload
	if pkt.Header.IsEncrypted() && sess != nil {
		pt, err := sess.Open(wire.HeaderBytes(pkt.Header), pkt.Header.SrcVIP, pkt.Header.Seq, pkt.Payload)
		if err != nil {
			d.drop(ctx, addr, errkind.CryptoFailure, err)
			return
		}
		reqPlain = pt
	}

	hb, err := wire.DecodeHeartbeat(reqPlain)
	if err != nil {
		d.drop(ctx, addr, errkind.WireFormat, err)
		return
	}
	if hb.HasTelemetry {
		t := group.ClientTelemetry{
			UpstreamBytes:   hb.UpstreamBytes,
			DownstreamBytes: hb.DownstreamBytes,
			NATConeType:     hb.NATConeType,
			Peers:           hb.Peers,
		}
		lctx.Network.UpdateTelemetry(lctx.VirtualIP, addr, t, time.Now())
	}

	frame := d.buildReply(addr, wire.HeartbeatAck, lctx.VirtualIP, sess, nil)
	d.send(ctx, sender, addr, frame)
}

func (d *Dispatcher) handleLeave(ctx context.Context, pkt *wire.Packet, addr string) {
	lctx, ok := d.sessions.LookupContext(addr)
	if !ok {
		return
	}
	lctx.Network.Leave(lctx.VirtualIP, addr)
	d.sessions.DropAddress(addr)
	logger.DebugCtx(ctx, "client left", "group", lctx.Group, "virtual_ip", lctx.VirtualIP)
}

func (d *Dispatcher) replyReRegister(ctx context.Context, addr string, sender Sender) {
	frame := d.buildReply(addr, wire.ReRegister, 0, nil, nil)
	d.send(ctx, sender, addr, frame)
}

// peerDigest hashes the group id and the group's current epoch (which
// changes on every membership or online-state change) into a single value a
// client can compare cheaply before paying for a full PollDeviceList round
// trip; it is not part of the epoch's authority, only a hint.
func peerDigest(net *group.Network, groupID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(groupID))
	epoch := net.CurrentEpoch()
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(epoch >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}
