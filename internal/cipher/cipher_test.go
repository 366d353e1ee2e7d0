package cipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerateCreatesAndReloads(t *testing.T) {
	dir := t.TempDir()

	kp1, err := LoadOrGenerate(dir)
	require.NoError(t, err)
	require.Len(t, kp1.FingerprintHex, 64)

	kp2, err := LoadOrGenerate(dir)
	require.NoError(t, err)
	assert.Equal(t, kp1.FingerprintHex, kp2.FingerprintHex, "reloading must reproduce the same identity")
}

func TestRSARoundTrip(t *testing.T) {
	dir := t.TempDir()
	kp, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	msg := append([]byte{}, make([]byte, SessionKeySize)...)
	msg = append(msg, []byte{0xde, 0xad, 0xbe, 0xef}...)

	ct, err := Encrypt(&kp.Private.PublicKey, msg)
	require.NoError(t, err)

	pt, err := kp.Decrypt(ct)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(msg, pt))
}

func TestAEADSealOpenRoundTrip(t *testing.T) {
	var key [SessionKeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	sess, err := NewSession(key)
	require.NoError(t, err)

	header := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	plaintext := []byte("hello peer")

	ct := sess.Seal(header, 0x0a1a0002, 7, plaintext)
	pt, err := sess.Open(header, 0x0a1a0002, 7, ct)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, pt))
}

func TestAEADOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [SessionKeySize]byte
	sess, err := NewSession(key)
	require.NoError(t, err)

	header := make([]byte, 12)
	ct := sess.Seal(header, 1, 1, []byte("data"))
	ct[0] ^= 0xFF

	_, err = sess.Open(header, 1, 1, ct)
	require.Error(t, err)
}

func TestAEADOpenRejectsWrongHeader(t *testing.T) {
	var key [SessionKeySize]byte
	sess, err := NewSession(key)
	require.NoError(t, err)

	header := make([]byte, 12)
	ct := sess.Seal(header, 1, 1, []byte("data"))

	otherHeader := make([]byte, 12)
	otherHeader[0] = 1
	_, err = sess.Open(otherHeader, 1, 1, ct)
	require.Error(t, err)
}

func TestFingerprintSignVerify(t *testing.T) {
	fp := NewFingerprinter([4]byte{0xde, 0xad, 0xbe, 0xef})
	data := []byte("header+payload")
	trailer := fp.Sign(data)

	assert.True(t, fp.Verify(data, trailer[:]))
	assert.False(t, fp.Verify([]byte("tampered"), trailer[:]))
}
