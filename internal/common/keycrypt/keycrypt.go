// Package keycrypt wraps private keys at rest with a passphrase. The passphrase is
// stretched with Argon2id and the key sealed with AES-GCM.
package keycrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	version = 0x01

	saltSize  = 16
	keySize   = 32
	nonceSize = 12

	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4

	headerSize = 1 + saltSize + nonceSize

	// PEMType is the block type of a sealed key file.
	PEMType = "KEYSERVER SEALED KEY"
)

var (
	ErrEmpty         = errors.New("keycrypt: nothing to seal")
	ErrMalformed     = errors.New("keycrypt: malformed sealed key")
	ErrWrongPassword = errors.New("keycrypt: wrong passphrase or corrupted key")
)

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func aead(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
	defer wipe(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext. The result is laid out as version, salt, nonce, ciphertext.
// The version byte is authenticated.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmpty
	}
	header := make([]byte, headerSize)
	header[0] = version
	if _, err := rand.Read(header[1:]); err != nil {
		return nil, fmt.Errorf("keycrypt: reading random bytes: %w", err)
	}
	gcm, err := aead(passphrase, header[1:1+saltSize])
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, header[1+saltSize:], plaintext, header[:1])
	return append(header, ciphertext...), nil
}

// Open reverses Seal.
func Open(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) <= headerSize || blob[0] != version {
		return nil, ErrMalformed
	}
	gcm, err := aead(passphrase, blob[1:1+saltSize])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, blob[1+saltSize:headerSize], blob[headerSize:], blob[:1])
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

// SealPEM seals a PEM encoded key and armors the result as a PEM block.
func SealPEM(keyPEM []byte, passphrase string) ([]byte, error) {
	blob, err := Seal(keyPEM, passphrase)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMType, Bytes: blob}), nil
}

// OpenPEM returns the PEM key inside data. Data that is not a sealed block is returned
// unchanged, so plain key files keep working.
func OpenPEM(data []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != PEMType {
		return data, nil
	}
	if passphrase == "" {
		return nil, fmt.Errorf("keycrypt: key is sealed but no passphrase is set")
	}
	return Open(block.Bytes, passphrase)
}
