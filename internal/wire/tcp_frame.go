package wire

import (
	"encoding/binary"
	"io"

	"github.com/ziyouwa/vnts/internal/errkind"
)

// TCPPrefixSize is the length of the TCP record-marking prefix: two
// reserved octets (must be zero) followed by a big-endian uint16 length of
// the frame that follows.
const TCPPrefixSize = 4

// ReadTCPFrame reads one length-prefixed frame from r. The first two
// prefix octets are reserved and must be zero; any other value is a
// WireFormat error (resolving the original source's open question about
// those bytes in the direction its own writer already behaves).
func ReadTCPFrame(r io.Reader) ([]byte, error) {
	var prefix [TCPPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	if prefix[0] != 0 || prefix[1] != 0 {
		return nil, errkind.Newf(errkind.WireFormat, "reserved TCP prefix bytes not zero: %02x%02x", prefix[0], prefix[1])
	}

	length := binary.BigEndian.Uint16(prefix[2:4])
	if int(length) < HeaderSize || int(length) > MaxFrameSize {
		return nil, errkind.Newf(errkind.WireFormat, "frame length %d out of bounds [%d,%d]", length, HeaderSize, MaxFrameSize)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// WriteTCPFrame writes frame to w prefixed by the two reserved zero bytes
// and its big-endian uint16 length.
func WriteTCPFrame(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameSize || len(frame) > 0xFFFF {
		return errkind.Newf(errkind.WireFormat, "frame length %d too large to frame", len(frame))
	}

	var prefix [TCPPrefixSize]byte
	binary.BigEndian.PutUint16(prefix[2:4], uint16(len(frame)))

	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}
