// Package wire implements the vnts fixed-layout packet header and its
// framing on UDP (datagram-as-frame) and TCP (length-prefixed) transports.
//
// Header layout (bit positions are the compat surface; the companion
// protocol document the original source deferred to is not part of this
// repository's inputs, so the layout below is this implementation's
// authoritative choice):
//
//	offset  size  field
//	0       1     version
//	1       1     message type
//	2       1     flags (bit0 ToGateway, bit1 Encrypted, bit2 Reply)
//	3       4     source virtual IP (big-endian)
//	7       4     destination virtual IP (big-endian)
//	11      1     sequence (low byte of a per-client rolling counter; also
//	              doubles as the frame's marker byte)
//
// All integers are big-endian. Total packet length (header + payload) must
// be within [HeaderSize, MaxFrameSize].
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ziyouwa/vnts/internal/errkind"
)

const (
	// HeaderSize is the fixed header length in octets.
	HeaderSize = 12
	// MaxFrameSize is the largest total frame (header + payload) accepted.
	MaxFrameSize = 65536
	// CurrentVersion is the only protocol version this build emits.
	CurrentVersion uint8 = 1
)

// MessageType identifies the control/data meaning of a packet's payload.
type MessageType uint8

const (
	PublicKeyRequest  MessageType = 0
	PublicKeyReply    MessageType = 1
	SecretKeyExchange MessageType = 2
	SecretKeyAck      MessageType = 3
	Registration      MessageType = 4
	RegistrationReply MessageType = 5
	PollDeviceList    MessageType = 6
	PeerListReply     MessageType = 7
	NotModified       MessageType = 8
	Heartbeat         MessageType = 9
	HeartbeatAck      MessageType = 10
	Leave             MessageType = 11
	TimeSync          MessageType = 12
	TimeSyncReply     MessageType = 13
	Relay             MessageType = 14
	PunchRequest      MessageType = 15
	PunchReply        MessageType = 16
	Unreachable       MessageType = 17
	ReRegister        MessageType = 18
	RegistrationError MessageType = 19
)

// Flag bits within the header's flags octet.
const (
	FlagToGateway uint8 = 1 << 0
	FlagEncrypted uint8 = 1 << 1
	FlagReply     uint8 = 1 << 2
)

// Header is the fixed 12-octet packet header.
type Header struct {
	Version     uint8
	MessageType MessageType
	Flags       uint8
	SrcVIP      uint32
	DstVIP      uint32
	Seq         uint8
}

func (h Header) IsToGateway() bool { return h.Flags&FlagToGateway != 0 }
func (h Header) IsEncrypted() bool { return h.Flags&FlagEncrypted != 0 }
func (h Header) IsReply() bool     { return h.Flags&FlagReply != 0 }

// Packet is a parsed view over a borrowed buffer: Header plus Payload, the
// latter aliasing the tail of the original slice (the parse path is
// zero-copy by design).
type Packet struct {
	Header  Header
	Payload []byte
}

// Parse validates and decodes buf into a Packet. The returned Packet's
// Payload aliases buf; callers that need to retain it past buf's reuse must
// copy it themselves.
func Parse(buf []byte) (*Packet, error) {
	n := len(buf)
	if n < HeaderSize || n > MaxFrameSize {
		return nil, errkind.Newf(errkind.WireFormat, "frame length %d out of bounds [%d,%d]", n, HeaderSize, MaxFrameSize)
	}

	version := buf[0]
	if version != CurrentVersion {
		return nil, errkind.Newf(errkind.WireFormat, "unknown version %d", version)
	}

	msgType := MessageType(buf[1])
	if !validMessageType(msgType) {
		return nil, errkind.Newf(errkind.WireFormat, "unknown message type %d", msgType)
	}

	h := Header{
		Version:     version,
		MessageType: msgType,
		Flags:       buf[2],
		SrcVIP:      binary.BigEndian.Uint32(buf[3:7]),
		DstVIP:      binary.BigEndian.Uint32(buf[7:11]),
		Seq:         buf[11],
	}

	return &Packet{Header: h, Payload: buf[HeaderSize:]}, nil
}

func validMessageType(t MessageType) bool {
	return t <= RegistrationError
}

// Build serializes a header and payload into a single frame buffer.
func Build(msgType MessageType, flags uint8, srcVIP, dstVIP uint32, seq uint8, payload []byte) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > MaxFrameSize {
		return nil, errkind.Newf(errkind.WireFormat, "built frame length %d exceeds max %d", total, MaxFrameSize)
	}

	buf := make([]byte, total)
	buf[0] = CurrentVersion
	buf[1] = byte(msgType)
	buf[2] = flags
	binary.BigEndian.PutUint32(buf[3:7], srcVIP)
	binary.BigEndian.PutUint32(buf[7:11], dstVIP)
	buf[11] = seq
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// HeaderBytes returns the 12-byte encoded header, used as AEAD associated
// data and for rebuilding frames whose payload is replaced in place (e.g.
// after sealing).
func HeaderBytes(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = byte(h.MessageType)
	buf[2] = h.Flags
	binary.BigEndian.PutUint32(buf[3:7], h.SrcVIP)
	binary.BigEndian.PutUint32(buf[7:11], h.DstVIP)
	buf[11] = h.Seq
	return buf
}

// String renders a header for logs.
func (h Header) String() string {
	return fmt.Sprintf("v%d type=%d flags=%02x src=%d dst=%d seq=%d", h.Version, h.MessageType, h.Flags, h.SrcVIP, h.DstVIP, h.Seq)
}
