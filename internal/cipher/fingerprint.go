package cipher

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/ziyouwa/vnts/internal/errkind"
)

// FingerTrailerSize is the length of the keyed-MAC trailer appended to
// unencrypted packets in fingerprint mode.
const FingerTrailerSize = 12

// Fingerprinter signs/verifies the keyed-MAC trailer carried by packets
// that claim encrypted=0 when the server runs with finger mode enabled.
// The key is derived from the 4-octet finger value exchanged during the
// handshake, following the HMAC-based keyed-signature shape used elsewhere
// in this codebase for message authentication.
type Fingerprinter struct {
	key [sha256.Size]byte
}

// NewFingerprinter derives a Fingerprinter from the handshake's finger
// value.
func NewFingerprinter(finger [4]byte) *Fingerprinter {
	return &Fingerprinter{key: sha256.Sum256(finger[:])}
}

// Sign computes the 12-byte trailer for data (header + payload).
func (f *Fingerprinter) Sign(data []byte) [FingerTrailerSize]byte {
	mac := hmac.New(sha256.New, f.key[:])
	mac.Write(data)
	sum := mac.Sum(nil)
	var out [FingerTrailerSize]byte
	copy(out[:], sum[:FingerTrailerSize])
	return out
}

// Verify checks a received trailer against data in constant time.
func (f *Fingerprinter) Verify(data []byte, trailer []byte) bool {
	if len(trailer) != FingerTrailerSize {
		return false
	}
	want := f.Sign(data)
	return hmac.Equal(want[:], trailer)
}

// VerifyOrError is a convenience wrapper returning a classified error.
func (f *Fingerprinter) VerifyOrError(data []byte, trailer []byte) error {
	if !f.Verify(data, trailer) {
		return errkind.Newf(errkind.CryptoFailure, "fingerprint mismatch")
	}
	return nil
}
