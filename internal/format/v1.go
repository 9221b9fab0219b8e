package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

// v1Overhead is version(1) + MAC(16) + trailing IV(24).
const v1Overhead = 1 + aead.MACSize + aead.IVSize

// V1 is the oldest format: ciphertext‖MAC followed by the IV at the end of
// the buffer.
//
// Non-uniformity kept for wire compatibility: unlike every other simple
// format, the resource id is the MAC-sized suffix of the IV, not of the
// ciphertext.
type V1 struct{}

// Descriptor returns the registry entry for this version.
func (V1) Descriptor() Descriptor { return *registry[Version1] }

// Serialize packs a record into the v1 wire layout.
func (V1) Serialize(r Record) ([]byte, error) {
	if len(r.IV) != aead.IVSize {
		return nil, errdefs.InvalidArgument("invalid IV size: expected %d bytes, got %d", aead.IVSize, len(r.IV))
	}
	buf := make([]byte, 0, 1+len(r.Ciphertext)+aead.IVSize)
	buf = append(buf, Version1)
	buf = append(buf, r.Ciphertext...)
	buf = append(buf, r.IV...)
	return buf, nil
}

// Unserialize unpacks a v1 wire buffer.
func (V1) Unserialize(buf []byte) (Record, error) {
	if err := checkVersion(buf, Version1); err != nil {
		return Record{}, err
	}
	if len(buf) < v1Overhead {
		return Record{}, errdefs.DecryptionFailed("truncated v1 buffer: %d bytes", len(buf))
	}
	iv := buf[len(buf)-aead.IVSize:]
	resourceID, err := aead.ExtractMAC(iv)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ResourceID: resourceID,
		IV:         iv,
		Ciphertext: buf[1 : len(buf)-aead.IVSize],
	}, nil
}

// Encrypt encrypts clear with a fresh random IV. Zero-length messages are
// valid: the ciphertext is then just the MAC.
func (V1) Encrypt(key, clear []byte) (Record, error) {
	iv, err := aead.Random(aead.IVSize)
	if err != nil {
		return Record{}, err
	}
	ciphertext, err := aead.Encrypt(key, iv, clear, nil)
	if err != nil {
		return Record{}, err
	}
	resourceID, err := aead.ExtractMAC(iv)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, IV: iv, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates and decrypts a v1 record.
func (V1) Decrypt(key []byte, r Record) ([]byte, error) {
	clear, err := aead.Decrypt(key, r.IV, r.Ciphertext, nil)
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not decrypt v1 data")
	}
	return clear, nil
}

// ExtractResourceID returns the resource id of a serialized v1 buffer.
func (v V1) ExtractResourceID(buf []byte) ([]byte, error) {
	r, err := v.Unserialize(buf)
	if err != nil {
		return nil, err
	}
	return r.ResourceID, nil
}

// EncryptedSize returns the wire size for clearSize bytes of cleartext.
func (V1) EncryptedSize(clearSize int) int { return clearSize + v1Overhead }

// ClearSize returns the cleartext size recovered from a wire buffer of
// encryptedSize bytes.
func (V1) ClearSize(encryptedSize int) (int, error) {
	if encryptedSize < v1Overhead {
		return 0, errdefs.DecryptionFailed("truncated v1 buffer: %d bytes", encryptedSize)
	}
	return encryptedSize - v1Overhead, nil
}
