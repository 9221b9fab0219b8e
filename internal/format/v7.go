package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// v7Overhead is version(1) + resourceId(16) + IV(24) + MAC(16) + the
// mandatory padding marker byte.
const v7Overhead = 1 + resourceid.SimpleSize + aead.IVSize + aead.MACSize + 1

// V7 combines V5's fixed resource id with V6's padding. Associated data is
// version ‖ resourceId.
type V7 struct{}

// Descriptor returns the registry entry for this version.
func (V7) Descriptor() Descriptor { return *registry[Version7] }

func v7AAD(resourceID []byte) []byte {
	aad := make([]byte, 0, 1+len(resourceID))
	aad = append(aad, Version7)
	aad = append(aad, resourceID...)
	return aad
}

// Serialize packs a record into the v7 wire layout.
func (V7) Serialize(r Record) ([]byte, error) {
	if err := checkFixedResourceID(r.ResourceID); err != nil {
		return nil, err
	}
	if len(r.IV) != aead.IVSize {
		return nil, errdefs.InvalidArgument("invalid IV size: expected %d bytes, got %d", aead.IVSize, len(r.IV))
	}
	buf := make([]byte, 0, 1+resourceid.SimpleSize+aead.IVSize+len(r.Ciphertext))
	buf = append(buf, Version7)
	buf = append(buf, r.ResourceID...)
	buf = append(buf, r.IV...)
	buf = append(buf, r.Ciphertext...)
	return buf, nil
}

// Unserialize unpacks a v7 wire buffer.
func (V7) Unserialize(buf []byte) (Record, error) {
	if err := checkVersion(buf, Version7); err != nil {
		return Record{}, err
	}
	if len(buf) < v7Overhead {
		return Record{}, errdefs.DecryptionFailed("truncated v7 buffer: %d bytes", len(buf))
	}
	return Record{
		ResourceID: buf[1 : 1+resourceid.SimpleSize],
		IV:         buf[1+resourceid.SimpleSize : 1+resourceid.SimpleSize+aead.IVSize],
		Ciphertext: buf[1+resourceid.SimpleSize+aead.IVSize:],
	}, nil
}

// Encrypt pads clear under policy and encrypts it bound to the
// caller-supplied resource id.
func (V7) Encrypt(key, clear, resourceID []byte, policy padding.Policy) (Record, error) {
	if err := checkFixedResourceID(resourceID); err != nil {
		return Record{}, err
	}
	iv, err := aead.Random(aead.IVSize)
	if err != nil {
		return Record{}, err
	}
	padded := padding.Pad(clear, policy)
	ciphertext, err := aead.Encrypt(key, iv, padded, v7AAD(resourceID))
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, IV: iv, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates, decrypts, and strips the padding of a v7 record.
func (V7) Decrypt(key []byte, r Record) ([]byte, error) {
	padded, err := aead.Decrypt(key, r.IV, r.Ciphertext, v7AAD(r.ResourceID))
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not decrypt v7 data")
	}
	clear, err := padding.Remove(padded)
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not remove padding")
	}
	return clear, nil
}

// ExtractResourceID returns the resource id of a serialized v7 buffer.
func (v V7) ExtractResourceID(buf []byte) ([]byte, error) {
	r, err := v.Unserialize(buf)
	if err != nil {
		return nil, err
	}
	return r.ResourceID, nil
}

// EncryptedSize returns the wire size for clearSize bytes of cleartext
// padded under policy.
func (V7) EncryptedSize(clearSize int, policy padding.Policy) int {
	return 1 + resourceid.SimpleSize + aead.IVSize + padding.PaddedFromClearSize(clearSize, policy) + aead.MACSize
}

// ClearSize returns the maximum cleartext size a wire buffer of
// encryptedSize bytes can hold.
func (V7) ClearSize(encryptedSize int) (int, error) {
	if encryptedSize < v7Overhead {
		return 0, errdefs.DecryptionFailed("truncated v7 buffer: %d bytes", encryptedSize)
	}
	return encryptedSize - v7Overhead, nil
}
