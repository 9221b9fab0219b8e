package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
)

// v6Overhead is version(1) + MAC(16) + the mandatory padding marker byte.
const v6Overhead = 1 + aead.MACSize + 1

// V6 is V3 plus length-hiding padding: the cleartext is marker-padded
// before encryption and the version byte is bound as associated data.
type V6 struct{}

// Descriptor returns the registry entry for this version.
func (V6) Descriptor() Descriptor { return *registry[Version6] }

// v6AAD is the associated data: just the version tag.
var v6AAD = []byte{Version6}

// Serialize packs a record into the v6 wire layout.
func (V6) Serialize(r Record) ([]byte, error) {
	buf := make([]byte, 0, 1+len(r.Ciphertext))
	buf = append(buf, Version6)
	buf = append(buf, r.Ciphertext...)
	return buf, nil
}

// Unserialize unpacks a v6 wire buffer.
func (V6) Unserialize(buf []byte) (Record, error) {
	if err := checkVersion(buf, Version6); err != nil {
		return Record{}, err
	}
	if len(buf) < v6Overhead {
		return Record{}, errdefs.DecryptionFailed("truncated v6 buffer: %d bytes", len(buf))
	}
	ciphertext := buf[1:]
	resourceID, err := macResourceID(ciphertext)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, IV: zeroIV, Ciphertext: ciphertext}, nil
}

// Encrypt pads clear under policy and encrypts it with the fixed zero IV.
func (V6) Encrypt(key, clear []byte, policy padding.Policy) (Record, error) {
	padded := padding.Pad(clear, policy)
	ciphertext, err := aead.Encrypt(key, zeroIV, padded, v6AAD)
	if err != nil {
		return Record{}, err
	}
	resourceID, err := macResourceID(ciphertext)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, IV: zeroIV, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates, decrypts, and strips the padding of a v6 record.
func (V6) Decrypt(key []byte, r Record) ([]byte, error) {
	padded, err := aead.Decrypt(key, zeroIV, r.Ciphertext, v6AAD)
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not decrypt v6 data")
	}
	clear, err := padding.Remove(padded)
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not remove padding")
	}
	return clear, nil
}

// ExtractResourceID returns the resource id of a serialized v6 buffer.
func (v V6) ExtractResourceID(buf []byte) ([]byte, error) {
	r, err := v.Unserialize(buf)
	if err != nil {
		return nil, err
	}
	return r.ResourceID, nil
}

// EncryptedSize returns the wire size for clearSize bytes of cleartext
// padded under policy.
func (V6) EncryptedSize(clearSize int, policy padding.Policy) int {
	return 1 + padding.PaddedFromClearSize(clearSize, policy) + aead.MACSize
}

// ClearSize returns the maximum cleartext size a wire buffer of
// encryptedSize bytes can hold; the actual size is only known after the
// padding is removed.
func (V6) ClearSize(encryptedSize int) (int, error) {
	if encryptedSize < v6Overhead {
		return 0, errdefs.DecryptionFailed("truncated v6 buffer: %d bytes", encryptedSize)
	}
	return encryptedSize - v6Overhead, nil
}
