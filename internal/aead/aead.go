// Package aead wraps the primitive layer the format modules are built on:
// XChaCha20-Poly1305 authenticated encryption with 24-byte IVs, BLAKE2b as
// the generic hash, and cryptographically secure random bytes.
package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

const (
	// KeySize is the XChaCha20-Poly1305 key size in bytes.
	KeySize = chacha20poly1305.KeySize // 32

	// IVSize is the XChaCha20-Poly1305 nonce size in bytes.
	IVSize = chacha20poly1305.NonceSizeX // 24

	// MACSize is the Poly1305 authentication tag size in bytes.
	MACSize = 16

	// HashSize is the default generic hash output size in bytes.
	HashSize = 32
)

// Encrypt encrypts plaintext with key and iv, binding associatedData, and
// returns ciphertext with the MAC appended.
func Encrypt(key, iv, plaintext, associatedData []byte) ([]byte, error) {
	aead, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, errdefs.InvalidArgument("invalid IV size: expected %d bytes, got %d", IVSize, len(iv))
	}
	return aead.Seal(nil, iv, plaintext, associatedData), nil
}

// Decrypt authenticates and decrypts ciphertext‖MAC produced by Encrypt.
// The returned error is the raw primitive failure; format modules wrap it
// with resource context.
func Decrypt(key, iv, ciphertext, associatedData []byte) ([]byte, error) {
	aead, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, errdefs.InvalidArgument("invalid IV size: expected %d bytes, got %d", IVSize, len(iv))
	}
	if len(ciphertext) < MACSize {
		return nil, fmt.Errorf("ciphertext shorter than MAC: %d bytes", len(ciphertext))
	}
	return aead.Open(nil, iv, ciphertext, associatedData)
}

// newCipher builds the XChaCha20-Poly1305 AEAD for key.
func newCipher(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errdefs.InvalidArgument("invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305 cipher: %w", err)
	}
	return aead, nil
}

// EncryptedSize returns the on-wire size of an encryption of clearSize bytes.
func EncryptedSize(clearSize int) int { return clearSize + MACSize }

// ClearSize returns the plaintext size recovered from encryptedSize bytes.
func ClearSize(encryptedSize int) int { return encryptedSize - MACSize }

// ExtractMAC returns the trailing MACSize bytes of buf.
func ExtractMAC(buf []byte) ([]byte, error) {
	if len(buf) < MACSize {
		return nil, errdefs.InvalidArgument("buffer too short to carry a MAC: %d bytes", len(buf))
	}
	return buf[len(buf)-MACSize:], nil
}

// Hash computes a BLAKE2b hash of size bytes over the concatenation of parts.
func Hash(size int, parts ...[]byte) ([]byte, error) {
	if size <= 0 || size > 64 {
		return nil, errdefs.InvalidArgument("invalid hash output size: %d", size)
	}
	h, err := blake2b.New(size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create hash: %w", err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil), nil
}

// Random returns n cryptographically secure random bytes.
func Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return buf, nil
}
