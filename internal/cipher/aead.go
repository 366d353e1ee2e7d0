package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"github.com/ziyouwa/vnts/internal/errkind"
)

// SessionKeySize is the length of the symmetric key carried in the
// handshake's SecretKeyExchange payload.
const SessionKeySize = 32

// Session wraps an AES-256-GCM AEAD keyed by a per-client session key
// established during the handshake. It is treated as an immutable handle:
// rotating a client's key means installing a new Session in the session
// cache's cipher map, never mutating one in place.
type Session struct {
	aead cipher.AEAD
	salt [4]byte
}

// NewSession derives an AES-256-GCM AEAD from sessionKey. The 4-octet nonce
// salt is derived from the session key (SHA-256, first 4 bytes) rather than
// reusing key material directly in the nonce.
func NewSession(sessionKey [SessionKeySize]byte) (*Session, error) {
	block, err := aes.NewCipher(sessionKey[:])
	if err != nil {
		return nil, errkind.New(errkind.CryptoFailure, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errkind.New(errkind.CryptoFailure, err)
	}

	sum := sha256.Sum256(sessionKey[:])
	s := &Session{aead: aead}
	copy(s.salt[:], sum[:4])
	return s, nil
}

// nonce builds the 12-byte GCM nonce from (source virtual IP, the wire
// header's sequence byte, the session's salt), matching the header fields
// both sender and receiver already have on hand from the frame itself, so no
// extra out-of-band counter needs to travel with the packet. The wire
// header's sequence octet is narrow (one byte): within one 120-second
// cipher session that bounds the number of distinct nonces to 256. This is
// the design the source's header layout implies; a stronger nonce space
// would require widening the wire-compat sequence field, which is outside
// this component's scope.
func (s *Session) nonce(srcVIP uint32, seq uint8) [12]byte {
	var n [12]byte
	binary.BigEndian.PutUint32(n[0:4], srcVIP)
	n[7] = seq
	copy(n[8:12], s.salt[:])
	return n
}

// Seal encrypts plaintext, authenticating header as associated data, and
// returns the ciphertext with an appended 16-byte tag.
func (s *Session) Seal(header []byte, srcVIP uint32, seq uint8, plaintext []byte) []byte {
	nonce := s.nonce(srcVIP, seq)
	return s.aead.Seal(nil, nonce[:], plaintext, header)
}

// Open decrypts ciphertext sealed by the peer's matching Session, verifying
// header as associated data.
func (s *Session) Open(header []byte, srcVIP uint32, seq uint8, ciphertext []byte) ([]byte, error) {
	nonce := s.nonce(srcVIP, seq)
	pt, err := s.aead.Open(nil, nonce[:], ciphertext, header)
	if err != nil {
		return nil, errkind.New(errkind.CryptoFailure, err)
	}
	return pt, nil
}
