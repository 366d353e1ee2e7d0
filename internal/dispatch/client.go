package dispatch

import (
	"context"

	"github.com/ziyouwa/vnts/internal/cipher"
	"github.com/ziyouwa/vnts/internal/errkind"
	"github.com/ziyouwa/vnts/internal/group"
	"github.com/ziyouwa/vnts/internal/logger"
	"github.com/ziyouwa/vnts/internal/wire"
)

// handleClient processes a to-gateway=0 packet: client-to-client traffic
// per §4.7, either relayed verbatim or, for the punch-request subtype,
// consumed and answered with a pair of rendezvous replies.
func (d *Dispatcher) handleClient(ctx context.Context, pkt *wire.Packet, addr string, sender Sender) {
	lctx, ok := d.sessions.LookupContext(addr)
	if !ok {
		d.drop(ctx, addr, errkind.NoContext, nil)
		return
	}
	if pkt.Header.SrcVIP != lctx.VirtualIP {
		d.drop(ctx, addr, errkind.NoContext, nil)
		return
	}

	if d.cfg.FingerMode && !pkt.Header.IsEncrypted() {
		if !d.verifyFingerprint(ctx, addr, pkt) {
			return
		}
	}

	if pkt.Header.MessageType == wire.PunchRequest {
		d.handlePunchRequest(ctx, addr, lctx.Network, lctx.VirtualIP, pkt.Header.DstVIP, sender)
		return
	}

	dst, ok := lctx.Network.ClientByVIP(pkt.Header.DstVIP)
	if !ok || !dst.Online {
		d.replyUnreachable(ctx, addr, sender, lctx.VirtualIP, pkt.Header.DstVIP)
		return
	}

	d.send(ctx, sender, dst.Address, rebuildFrame(pkt))
}

// verifyFingerprint checks the keyed-MAC trailer appended to an
// unencrypted client-plane packet, reporting whether the packet may
// proceed.
func (d *Dispatcher) verifyFingerprint(ctx context.Context, addr string, pkt *wire.Packet) bool {
	if len(pkt.Payload) < cipher.FingerTrailerSize {
		d.drop(ctx, addr, errkind.WireFormat, nil)
		return false
	}
	fp, ok := d.sessions.Fingerprinter(addr)
	if !ok {
		d.drop(ctx, addr, errkind.NoContext, nil)
		return false
	}

	split := len(pkt.Payload) - cipher.FingerTrailerSize
	body, trailer := pkt.Payload[:split], pkt.Payload[split:]
	signed := append(wire.HeaderBytes(pkt.Header), body...)
	if err := fp.VerifyOrError(signed, trailer); err != nil {
		d.drop(ctx, addr, errkind.CryptoFailure, err)
		return false
	}
	return true
}

// handlePunchRequest brokers a hole-punch: the requester at addr (virtual
// IP selfVIP) wants to reach peerVIP. The server answers both endpoints
// with each other's last-known public address instead of forwarding
// anything, so a pair of UDP clients can punch through NAT on their own.
func (d *Dispatcher) handlePunchRequest(ctx context.Context, addr string, net *group.Network, selfVIP, peerVIP uint32, sender Sender) {
	peer, ok := net.ClientByVIP(peerVIP)
	if !ok || !peer.Online {
		d.replyUnreachable(ctx, addr, sender, selfVIP, peerVIP)
		return
	}

	selfSess, _ := d.sessions.CipherSession(addr)
	toSelf := wire.PunchReplyPayload{PeerVirtualIP: peerVIP, PeerAddress: peer.Address}.Encode()
	d.send(ctx, sender, addr, d.buildReply(addr, wire.PunchReply, selfVIP, selfSess, toSelf))

	peerSess, _ := d.sessions.CipherSession(peer.Address)
	toPeer := wire.PunchReplyPayload{PeerVirtualIP: selfVIP, PeerAddress: addr}.Encode()
	d.send(ctx, sender, peer.Address, d.buildReply(peer.Address, wire.PunchReply, peerVIP, peerSess, toPeer))

	logger.DebugCtx(ctx, "brokered punch request", "self_vip", selfVIP, "peer_vip", peerVIP)
}

// replyUnreachable answers the sender on the data plane when the
// destination virtual IP has no live binding.
func (d *Dispatcher) replyUnreachable(ctx context.Context, addr string, sender Sender, selfVIP, unreachableVIP uint32) {
	sess, _ := d.sessions.CipherSession(addr)
	payload := wire.UnreachablePayload{TargetVIP: unreachableVIP}.Encode()
	frame := d.buildReply(addr, wire.Unreachable, selfVIP, sess, payload)
	d.send(ctx, sender, addr, frame)
	logger.DebugCtx(ctx, "destination unreachable", "dst_vip", unreachableVIP)
}

func rebuildFrame(pkt *wire.Packet) []byte {
	frame, _ := wire.Build(pkt.Header.MessageType, pkt.Header.Flags, pkt.Header.SrcVIP, pkt.Header.DstVIP, pkt.Header.Seq, pkt.Payload)
	return frame
}
