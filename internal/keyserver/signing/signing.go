// Package signing holds the ed25519 keys that sign exported key files and federation
// upload batches.
package signing

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/exposurekeys/keyserver/internal/common/keycrypt"
)

const AlgorithmEd25519 = "Ed25519"

// Signer signs opaque payloads.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	KeyID() string
	Algorithm() string
}

// Ed25519Signer signs with a single private key.
type Ed25519Signer struct {
	key   ed25519.PrivateKey
	keyID string
}

var _ Signer = (*Ed25519Signer)(nil)

func NewEd25519Signer(key ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{key: key, keyID: keyID}
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.key, data), nil
}

func (s *Ed25519Signer) KeyID() string {
	return s.keyID
}

func (s *Ed25519Signer) Algorithm() string {
	return AlgorithmEd25519
}

func (s *Ed25519Signer) Public() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// LoadSigner reads a PKCS#8 ed25519 private key in PEM form. Keys sealed by keycrypt
// are opened with passphrase.
func LoadSigner(path, passphrase, keyID string) (*Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	data, err = keycrypt.OpenPEM(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("opening signing key %s: %w", path, err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("signing key %s: %w", path, err)
	}
	return NewEd25519Signer(key, keyID), nil
}

// ParsePrivateKey decodes a PEM encoded PKCS#8 ed25519 private key.
func ParsePrivateKey(pemBytes []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an ed25519 key")
	}
	return key, nil
}

// EncodePrivateKey returns key as a PKCS#8 PEM block.
func EncodePrivateKey(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
