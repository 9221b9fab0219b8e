package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

// v2Overhead is version(1) + IV(24) + MAC(16).
const v2Overhead = 1 + aead.IVSize + aead.MACSize

// V2 moves the IV to the front: IV(24) ‖ ciphertext‖MAC. The resource id
// is the MAC suffix of the ciphertext.
type V2 struct{}

// Descriptor returns the registry entry for this version.
func (V2) Descriptor() Descriptor { return *registry[Version2] }

// Serialize packs a record into the v2 wire layout.
func (V2) Serialize(r Record) ([]byte, error) {
	if len(r.IV) != aead.IVSize {
		return nil, errdefs.InvalidArgument("invalid IV size: expected %d bytes, got %d", aead.IVSize, len(r.IV))
	}
	buf := make([]byte, 0, 1+aead.IVSize+len(r.Ciphertext))
	buf = append(buf, Version2)
	buf = append(buf, r.IV...)
	buf = append(buf, r.Ciphertext...)
	return buf, nil
}

// Unserialize unpacks a v2 wire buffer.
func (V2) Unserialize(buf []byte) (Record, error) {
	if err := checkVersion(buf, Version2); err != nil {
		return Record{}, err
	}
	if len(buf) < v2Overhead {
		return Record{}, errdefs.DecryptionFailed("truncated v2 buffer: %d bytes", len(buf))
	}
	ciphertext := buf[1+aead.IVSize:]
	resourceID, err := macResourceID(ciphertext)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ResourceID: resourceID,
		IV:         buf[1 : 1+aead.IVSize],
		Ciphertext: ciphertext,
	}, nil
}

// Encrypt encrypts clear with a fresh random IV.
func (V2) Encrypt(key, clear []byte) (Record, error) {
	iv, err := aead.Random(aead.IVSize)
	if err != nil {
		return Record{}, err
	}
	ciphertext, err := aead.Encrypt(key, iv, clear, nil)
	if err != nil {
		return Record{}, err
	}
	resourceID, err := macResourceID(ciphertext)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, IV: iv, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates and decrypts a v2 record.
func (V2) Decrypt(key []byte, r Record) ([]byte, error) {
	clear, err := aead.Decrypt(key, r.IV, r.Ciphertext, nil)
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not decrypt v2 data")
	}
	return clear, nil
}

// ExtractResourceID returns the resource id of a serialized v2 buffer.
func (v V2) ExtractResourceID(buf []byte) ([]byte, error) {
	r, err := v.Unserialize(buf)
	if err != nil {
		return nil, err
	}
	return r.ResourceID, nil
}

// EncryptedSize returns the wire size for clearSize bytes of cleartext.
func (V2) EncryptedSize(clearSize int) int { return clearSize + v2Overhead }

// ClearSize returns the cleartext size recovered from a wire buffer of
// encryptedSize bytes.
func (V2) ClearSize(encryptedSize int) (int, error) {
	if encryptedSize < v2Overhead {
		return 0, errdefs.DecryptionFailed("truncated v2 buffer: %d bytes", encryptedSize)
	}
	return encryptedSize - v2Overhead, nil
}
