package wire

import (
	"encoding/binary"

	"github.com/ziyouwa/vnts/internal/errkind"
)

// fieldWriter builds a control-message payload out of length-prefixed
// strings and fixed-width integers. This is this implementation's own
// payload encoding for the control messages the companion protocol document
// (out of scope for this repository, per §6) would otherwise define; the
// 12-octet header above it remains the bit-exact compat surface.
type fieldWriter struct {
	buf []byte
}

func (w *fieldWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *fieldWriter) bool(v bool)  { w.buf = append(w.buf, boolByte(v)) }
func (w *fieldWriter) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *fieldWriter) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *fieldWriter) str(s string) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *fieldWriter) bytes(b []byte) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(b)))
	w.buf = append(w.buf, b...)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// fieldReader parses a payload built by fieldWriter, returning a
// WireFormat error on truncation.
type fieldReader struct {
	buf []byte
	off int
}

func newFieldReader(buf []byte) *fieldReader { return &fieldReader{buf: buf} }

func (r *fieldReader) need(n int) error {
	if len(r.buf)-r.off < n {
		return errkind.Newf(errkind.WireFormat, "payload truncated: need %d bytes, have %d", n, len(r.buf)-r.off)
	}
	return nil
}

func (r *fieldReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *fieldReader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *fieldReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *fieldReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *fieldReader) str() (string, error) {
	if err := r.need(2); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	if err := r.need(n); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s, nil
}

func (r *fieldReader) bytesField() ([]byte, error) {
	if err := r.need(2); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := append([]byte(nil), r.buf[r.off:r.off+n]...)
	r.off += n
	return b, nil
}
