package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// v5Overhead is version(1) + resourceId(16) + IV(24) + MAC(16).
const v5Overhead = 1 + resourceid.SimpleSize + aead.IVSize + aead.MACSize

// V5 is the first fixed-resource-id format: the caller supplies the id,
// it travels in front of the IV, and it is bound into the AEAD associated
// data so it cannot be swapped without breaking the MAC.
type V5 struct{}

// Descriptor returns the registry entry for this version.
func (V5) Descriptor() Descriptor { return *registry[Version5] }

// Serialize packs a record into the v5 wire layout.
func (V5) Serialize(r Record) ([]byte, error) {
	if err := checkFixedResourceID(r.ResourceID); err != nil {
		return nil, err
	}
	if len(r.IV) != aead.IVSize {
		return nil, errdefs.InvalidArgument("invalid IV size: expected %d bytes, got %d", aead.IVSize, len(r.IV))
	}
	buf := make([]byte, 0, 1+resourceid.SimpleSize+aead.IVSize+len(r.Ciphertext))
	buf = append(buf, Version5)
	buf = append(buf, r.ResourceID...)
	buf = append(buf, r.IV...)
	buf = append(buf, r.Ciphertext...)
	return buf, nil
}

// Unserialize unpacks a v5 wire buffer.
func (V5) Unserialize(buf []byte) (Record, error) {
	if err := checkVersion(buf, Version5); err != nil {
		return Record{}, err
	}
	if len(buf) < v5Overhead {
		return Record{}, errdefs.DecryptionFailed("truncated v5 buffer: %d bytes", len(buf))
	}
	return Record{
		ResourceID: buf[1 : 1+resourceid.SimpleSize],
		IV:         buf[1+resourceid.SimpleSize : 1+resourceid.SimpleSize+aead.IVSize],
		Ciphertext: buf[1+resourceid.SimpleSize+aead.IVSize:],
	}, nil
}

// Encrypt encrypts clear bound to the caller-supplied resource id.
func (V5) Encrypt(key, clear, resourceID []byte) (Record, error) {
	if err := checkFixedResourceID(resourceID); err != nil {
		return Record{}, err
	}
	iv, err := aead.Random(aead.IVSize)
	if err != nil {
		return Record{}, err
	}
	ciphertext, err := aead.Encrypt(key, iv, clear, resourceID)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, IV: iv, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates (resource id included) and decrypts a v5 record.
func (V5) Decrypt(key []byte, r Record) ([]byte, error) {
	clear, err := aead.Decrypt(key, r.IV, r.Ciphertext, r.ResourceID)
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not decrypt v5 data")
	}
	return clear, nil
}

// ExtractResourceID returns the resource id of a serialized v5 buffer.
func (v V5) ExtractResourceID(buf []byte) ([]byte, error) {
	r, err := v.Unserialize(buf)
	if err != nil {
		return nil, err
	}
	return r.ResourceID, nil
}

// EncryptedSize returns the wire size for clearSize bytes of cleartext.
func (V5) EncryptedSize(clearSize int) int { return clearSize + v5Overhead }

// ClearSize returns the cleartext size recovered from a wire buffer of
// encryptedSize bytes.
func (V5) ClearSize(encryptedSize int) (int, error) {
	if encryptedSize < v5Overhead {
		return 0, errdefs.DecryptionFailed("truncated v5 buffer: %d bytes", encryptedSize)
	}
	return encryptedSize - v5Overhead, nil
}
