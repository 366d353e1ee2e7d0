package dispatch

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ziyouwa/vnts/internal/cipher"
	"github.com/ziyouwa/vnts/internal/group"
	"github.com/ziyouwa/vnts/internal/session"
	"github.com/ziyouwa/vnts/internal/wire"
)

func ip(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// fakeSender records every frame sent to each address, standing in for
// transport.Hub in these tests.
type fakeSender struct {
	mu    sync.Mutex
	sent  map[string][][]byte
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(map[string][][]byte)} }

func (s *fakeSender) SendTo(addr string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[addr] = append(s.sent[addr], frame)
	return nil
}

func (s *fakeSender) last(addr string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sent[addr]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (s *fakeSender) count(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[addr])
}

func testKeyPair(t *testing.T) *cipher.KeyPair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	sum := sha256.Sum256(der)
	return &cipher.KeyPair{Private: priv, PublicDER: der, FingerprintHex: hex.EncodeToString(sum[:])}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *cipher.KeyPair) {
	t.Helper()
	keys := testKeyPair(t)
	groups := group.NewRegistry()
	sessions := session.New(groups)
	cfg := Config{Gateway: ip(10, 26, 0, 1), Netmask: ip(255, 255, 255, 0), SupportedVersion: "1"}
	return New(cfg, groups, sessions, keys), keys
}

// doHandshake drives PublicKeyRequest + SecretKeyExchange for addr and
// returns the resulting client-side AEAD session.
func doHandshake(t *testing.T, d *Dispatcher, keys *cipher.KeyPair, addr string, sender *fakeSender) *cipher.Session {
	t.Helper()

	reqFrame, err := wire.Build(wire.PublicKeyRequest, wire.FlagToGateway, 0, 0, 0, nil)
	require.NoError(t, err)
	d.Dispatch(context.Background(), reqFrame, addr, sender)

	replyFrame := sender.last(addr)
	require.NotNil(t, replyFrame)
	pkt, err := wire.Parse(replyFrame)
	require.NoError(t, err)
	reply, err := wire.DecodePublicKeyReply(pkt.Payload)
	require.NoError(t, err)
	require.Equal(t, keys.PublicDER, reply.PublicKeyDER)

	var sessionKey [cipher.SessionKeySize]byte
	copy(sessionKey[:], []byte("01234567890123456789012345678901"))
	var finger [4]byte
	copy(finger[:], []byte{0xde, 0xad, 0xbe, 0xef})

	plain := append(append([]byte{}, sessionKey[:]...), finger[:]...)
	pub, err := x509.ParsePKIXPublicKey(reply.PublicKeyDER)
	require.NoError(t, err)
	rsaPub := pub.(*rsa.PublicKey)
	ciphertext, err := cipher.Encrypt(rsaPub, plain)
	require.NoError(t, err)

	exchangeFrame, err := wire.Build(wire.SecretKeyExchange, wire.FlagToGateway, 0, 0, 0, ciphertext)
	require.NoError(t, err)
	d.Dispatch(context.Background(), exchangeFrame, addr, sender)

	ackFrame := sender.last(addr)
	require.NotNil(t, ackFrame)
	ackPkt, err := wire.Parse(ackFrame)
	require.NoError(t, err)
	require.True(t, ackPkt.Header.IsEncrypted())

	clientSess, err := cipher.NewSession(sessionKey)
	require.NoError(t, err)
	_, err = clientSess.Open(wire.HeaderBytes(ackPkt.Header), ackPkt.Header.SrcVIP, ackPkt.Header.Seq, ackPkt.Payload)
	require.NoError(t, err)

	return clientSess
}

func registerWithSender(t *testing.T, d *Dispatcher, sess *cipher.Session, addr, groupID, device string, seq *uint8, sender *fakeSender) wire.RegistrationReplyPayload {
	t.Helper()
	reg := wire.RegistrationPayload{Version: "1", Name: device, DeviceID: device, GroupID: groupID, Token: ""}
	plain := reg.Encode()

	header := wire.Header{Version: wire.CurrentVersion, MessageType: wire.Registration, Flags: wire.FlagToGateway | wire.FlagEncrypted, SrcVIP: 0, DstVIP: 0, Seq: *seq}
	sealed := sess.Seal(wire.HeaderBytes(header), 0, *seq, plain)
	frame, err := wire.Build(wire.Registration, header.Flags, 0, 0, *seq, sealed)
	require.NoError(t, err)
	*seq++

	d.Dispatch(context.Background(), frame, addr, sender)

	replyFrame := sender.last(addr)
	require.NotNil(t, replyFrame)
	pkt, err := wire.Parse(replyFrame)
	require.NoError(t, err)
	require.True(t, pkt.Header.IsEncrypted())
	plainReply, err := sess.Open(wire.HeaderBytes(pkt.Header), pkt.Header.SrcVIP, pkt.Header.Seq, pkt.Payload)
	require.NoError(t, err)
	out, err := wire.DecodeRegistrationReply(plainReply)
	require.NoError(t, err)
	return out
}

func TestHandshakeAndRegistrationAssignLowestHost(t *testing.T) {
	d, keys := newTestDispatcher(t)
	sender := newFakeSender()

	addrA := "1.1.1.1:9"
	sessA := doHandshake(t, d, keys, addrA, sender)
	var seqA uint8
	replyA := registerWithSender(t, d, sessA, addrA, "g", "devA", &seqA, sender)
	require.Equal(t, ip(10, 26, 0, 2), replyA.VirtualIP)

	addrB := "2.2.2.2:9"
	sessB := doHandshake(t, d, keys, addrB, sender)
	var seqB uint8
	replyB := registerWithSender(t, d, sessB, addrB, "g", "devB", &seqB, sender)
	require.Equal(t, ip(10, 26, 0, 3), replyB.VirtualIP)

	// Re-registering the same device-id reuses its virtual IP.
	replyA2 := registerWithSender(t, d, sessA, addrA, "g", "devA", &seqA, sender)
	require.Equal(t, replyA.VirtualIP, replyA2.VirtualIP)
}

func TestTokenWhitelistRejectsUnknownToken(t *testing.T) {
	keys := testKeyPair(t)
	groups := group.NewRegistry()
	sessions := session.New(groups)
	cfg := Config{Gateway: ip(10, 26, 0, 1), Netmask: ip(255, 255, 255, 0), Whitelist: []string{"alpha", "beta"}, SupportedVersion: "1"}
	d := New(cfg, groups, sessions, keys)

	sender := newFakeSender()
	addr := "3.3.3.3:9"
	sess := doHandshake(t, d, keys, addr, sender)

	reg := wire.RegistrationPayload{Version: "1", Name: "x", DeviceID: "x", GroupID: "g", Token: "gamma"}
	plain := reg.Encode()
	var seq uint8
	header := wire.Header{Version: wire.CurrentVersion, MessageType: wire.Registration, Flags: wire.FlagToGateway | wire.FlagEncrypted, Seq: seq}
	sealed := sess.Seal(wire.HeaderBytes(header), 0, seq, plain)
	frame, err := wire.Build(wire.Registration, header.Flags, 0, 0, seq, sealed)
	require.NoError(t, err)

	d.Dispatch(context.Background(), frame, addr, sender)

	replyFrame := sender.last(addr)
	require.NotNil(t, replyFrame)
	pkt, err := wire.Parse(replyFrame)
	require.NoError(t, err)
	require.Equal(t, wire.RegistrationError, pkt.Header.MessageType)
	plainReply, err := sess.Open(wire.HeaderBytes(pkt.Header), pkt.Header.SrcVIP, pkt.Header.Seq, pkt.Payload)
	require.NoError(t, err)
	errReply, err := wire.DecodeRegistrationError(plainReply)
	require.NoError(t, err)
	require.Equal(t, "token_rejected", errReply.Kind)
}

func TestRelayForwardsPacketVerbatim(t *testing.T) {
	d, keys := newTestDispatcher(t)
	sender := newFakeSender()

	addrA, addrB := "1.1.1.1:9", "2.2.2.2:9"
	sessA := doHandshake(t, d, keys, addrA, sender)
	sessB := doHandshake(t, d, keys, addrB, sender)

	var seqA, seqB uint8
	replyA := registerWithSender(t, d, sessA, addrA, "g", "devA", &seqA, sender)
	replyB := registerWithSender(t, d, sessB, addrB, "g", "devB", &seqB, sender)

	payload := []byte("hello peer")
	frame, err := wire.Build(wire.Relay, 0, replyA.VirtualIP, replyB.VirtualIP, 7, payload)
	require.NoError(t, err)

	before := sender.count(addrB)
	d.Dispatch(context.Background(), frame, addrA, sender)

	require.Equal(t, before+1, sender.count(addrB))
	forwarded := sender.last(addrB)
	pkt, err := wire.Parse(forwarded)
	require.NoError(t, err)
	require.Equal(t, payload, pkt.Payload)
	require.Equal(t, replyA.VirtualIP, pkt.Header.SrcVIP)
	require.Equal(t, replyB.VirtualIP, pkt.Header.DstVIP)
}

func TestRelayToUnknownVIPRepliesUnreachable(t *testing.T) {
	d, keys := newTestDispatcher(t)
	sender := newFakeSender()

	addrA := "1.1.1.1:9"
	sessA := doHandshake(t, d, keys, addrA, sender)
	var seqA uint8
	replyA := registerWithSender(t, d, sessA, addrA, "g", "devA", &seqA, sender)

	frame, err := wire.Build(wire.Relay, 0, replyA.VirtualIP, ip(10, 26, 0, 99), 1, []byte("x"))
	require.NoError(t, err)
	d.Dispatch(context.Background(), frame, addrA, sender)

	last := sender.last(addrA)
	require.NotNil(t, last)
	pkt, err := wire.Parse(last)
	require.NoError(t, err)
	require.Equal(t, wire.Unreachable, pkt.Header.MessageType)
}

func TestPunchRequestBrokersBothEndpoints(t *testing.T) {
	d, keys := newTestDispatcher(t)
	sender := newFakeSender()

	addrA, addrB := "1.1.1.1:9", "2.2.2.2:9"
	sessA := doHandshake(t, d, keys, addrA, sender)
	sessB := doHandshake(t, d, keys, addrB, sender)

	var seqA, seqB uint8
	replyA := registerWithSender(t, d, sessA, addrA, "g", "devA", &seqA, sender)
	replyB := registerWithSender(t, d, sessB, addrB, "g", "devB", &seqB, sender)

	frame, err := wire.Build(wire.PunchRequest, 0, replyA.VirtualIP, replyB.VirtualIP, 9, nil)
	require.NoError(t, err)
	d.Dispatch(context.Background(), frame, addrA, sender)

	toA := sender.last(addrA)
	require.NotNil(t, toA)
	pktA, err := wire.Parse(toA)
	require.NoError(t, err)
	require.Equal(t, wire.PunchReply, pktA.Header.MessageType)
	plainA, err := sessA.Open(wire.HeaderBytes(pktA.Header), pktA.Header.SrcVIP, pktA.Header.Seq, pktA.Payload)
	require.NoError(t, err)
	punchA, err := wire.DecodePunchReply(plainA)
	require.NoError(t, err)
	require.Equal(t, addrB, punchA.PeerAddress)

	toB := sender.last(addrB)
	require.NotNil(t, toB)
	pktB, err := wire.Parse(toB)
	require.NoError(t, err)
	plainB, err := sessB.Open(wire.HeaderBytes(pktB.Header), pktB.Header.SrcVIP, pktB.Header.Seq, pktB.Payload)
	require.NoError(t, err)
	punchB, err := wire.DecodePunchReply(plainB)
	require.NoError(t, err)
	require.Equal(t, addrA, punchB.PeerAddress)
}

func TestHeartbeatAndLeave(t *testing.T) {
	d, keys := newTestDispatcher(t)
	sender := newFakeSender()

	addr := "1.1.1.1:9"
	sess := doHandshake(t, d, keys, addr, sender)
	var seq uint8
	reply := registerWithSender(t, d, sess, addr, "g", "dev", &seq, sender)

	hb := wire.HeartbeatPayload{HasTelemetry: true, UpstreamBytes: 10, DownstreamBytes: 20, NATConeType: "full-cone"}
	plain := hb.Encode()
	header := wire.Header{Version: wire.CurrentVersion, MessageType: wire.Heartbeat, Flags: wire.FlagToGateway | wire.FlagEncrypted, SrcVIP: reply.VirtualIP, Seq: seq}
	sealed := sess.Seal(wire.HeaderBytes(header), reply.VirtualIP, seq, plain)
	frame, err := wire.Build(wire.Heartbeat, header.Flags, reply.VirtualIP, 0, seq, sealed)
	require.NoError(t, err)
	seq++

	d.Dispatch(context.Background(), frame, addr, sender)
	last := sender.last(addr)
	pkt, err := wire.Parse(last)
	require.NoError(t, err)
	require.Equal(t, wire.HeartbeatAck, pkt.Header.MessageType)

	leaveFrame, err := wire.Build(wire.Leave, wire.FlagToGateway, reply.VirtualIP, 0, seq, nil)
	require.NoError(t, err)
	d.Dispatch(context.Background(), leaveFrame, addr, sender)

	_, ok := d.sessions.LookupContext(addr)
	require.False(t, ok)
}
