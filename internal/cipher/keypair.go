// Package cipher implements the vnts cryptographic handshake: RSA keypair
// lifecycle, the per-session AES-256-GCM AEAD path, and the optional
// keyed-MAC fingerprint trailer for unencrypted packets.
package cipher

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ziyouwa/vnts/internal/errkind"
)

const (
	keyBits        = 2048
	privateKeyFile = "key.pem"
	publicKeyFile  = "key.pub"
)

// KeyPair holds the server's long-lived RSA identity.
type KeyPair struct {
	Private        *rsa.PrivateKey
	PublicDER      []byte
	FingerprintHex string
}

// LoadOrGenerate loads key.pem (PKCS#8 PEM) from dir, generating and
// persisting a fresh 2048-bit keypair (plus key.pub) if it is absent.
func LoadOrGenerate(dir string) (*KeyPair, error) {
	path := filepath.Join(dir, privateKeyFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return parsePrivateKeyPEM(data)
	case os.IsNotExist(err):
		return generateAndPersist(dir)
	default:
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("reading %s: %w", path, err))
	}
}

func parsePrivateKeyPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("no PEM block in key.pem"))
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("parsing PKCS8 private key: %w", err))
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("key.pem does not contain an RSA key"))
	}
	return newKeyPair(priv)
}

func generateAndPersist(dir string) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("generating RSA keypair: %w", err))
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("marshaling private key: %w", err))
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("creating %s: %w", dir, err))
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privPEM, 0o600); err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("writing key.pem: %w", err))
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("marshaling public key: %w", err))
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), pubPEM, 0o644); err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("writing key.pub: %w", err))
	}

	return newKeyPair(priv)
}

func newKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, fmt.Errorf("marshaling public key: %w", err))
	}
	sum := sha256.Sum256(der)
	return &KeyPair{
		Private:        priv,
		PublicDER:      der,
		FingerprintHex: hex.EncodeToString(sum[:]),
	}, nil
}

// Decrypt unwraps an RSA-PKCS1v15-sealed message with the private key.
func (kp *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, kp.Private, ciphertext)
	if err != nil {
		return nil, errkind.New(errkind.CryptoFailure, err)
	}
	return pt, nil
}

// Encrypt seals a message under an RSA public key (used by tests and by
// any in-process client stand-ins; the wire client performs the
// corresponding encryption independently).
func Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		return nil, errkind.New(errkind.CryptoFailure, err)
	}
	return ct, nil
}
