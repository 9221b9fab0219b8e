package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

// v3Overhead is version(1) + MAC(16).
const v3Overhead = 1 + aead.MACSize

// V3 drops the IV from the wire entirely and encrypts with a fixed
// all-zero IV. Safe only because each resource is encrypted under a fresh
// key, which callers of this format must guarantee.
type V3 struct{}

// Descriptor returns the registry entry for this version.
func (V3) Descriptor() Descriptor { return *registry[Version3] }

// Serialize packs a record into the v3 wire layout.
func (V3) Serialize(r Record) ([]byte, error) {
	buf := make([]byte, 0, 1+len(r.Ciphertext))
	buf = append(buf, Version3)
	buf = append(buf, r.Ciphertext...)
	return buf, nil
}

// Unserialize unpacks a v3 wire buffer.
func (V3) Unserialize(buf []byte) (Record, error) {
	if err := checkVersion(buf, Version3); err != nil {
		return Record{}, err
	}
	if len(buf) < v3Overhead {
		return Record{}, errdefs.DecryptionFailed("truncated v3 buffer: %d bytes", len(buf))
	}
	ciphertext := buf[1:]
	resourceID, err := macResourceID(ciphertext)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, IV: zeroIV, Ciphertext: ciphertext}, nil
}

// Encrypt encrypts clear under the fixed zero IV.
func (V3) Encrypt(key, clear []byte) (Record, error) {
	ciphertext, err := aead.Encrypt(key, zeroIV, clear, nil)
	if err != nil {
		return Record{}, err
	}
	resourceID, err := macResourceID(ciphertext)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, IV: zeroIV, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates and decrypts a v3 record.
func (V3) Decrypt(key []byte, r Record) ([]byte, error) {
	clear, err := aead.Decrypt(key, zeroIV, r.Ciphertext, nil)
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not decrypt v3 data")
	}
	return clear, nil
}

// ExtractResourceID returns the resource id of a serialized v3 buffer.
func (v V3) ExtractResourceID(buf []byte) ([]byte, error) {
	r, err := v.Unserialize(buf)
	if err != nil {
		return nil, err
	}
	return r.ResourceID, nil
}

// EncryptedSize returns the wire size for clearSize bytes of cleartext.
func (V3) EncryptedSize(clearSize int) int { return clearSize + v3Overhead }

// ClearSize returns the cleartext size recovered from a wire buffer of
// encryptedSize bytes.
func (V3) ClearSize(encryptedSize int) (int, error) {
	if encryptedSize < v3Overhead {
		return 0, errdefs.DecryptionFailed("truncated v3 buffer: %d bytes", encryptedSize)
	}
	return encryptedSize - v3Overhead, nil
}
