package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// v10Overhead is v9's overhead plus the mandatory padding marker byte.
const v10Overhead = v9Overhead + 1

// V10 is V9 plus length-hiding padding applied before encryption.
type V10 struct{}

// Descriptor returns the registry entry for this version.
func (V10) Descriptor() Descriptor { return *registry[Version10] }

// Serialize packs a record into the v10 wire layout.
func (V10) Serialize(r Record) ([]byte, error) {
	if err := checkSession(r.SessionID, r.Seed); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 1+resourceid.SessionIDSize+resourceid.SeedSize+len(r.Ciphertext))
	buf = append(buf, Version10)
	buf = append(buf, r.SessionID...)
	buf = append(buf, r.Seed...)
	buf = append(buf, r.Ciphertext...)
	return buf, nil
}

// Unserialize unpacks a v10 wire buffer.
func (V10) Unserialize(buf []byte) (Record, error) {
	return unserializeTransparent(buf, Version10, v10Overhead)
}

// Encrypt pads clear under policy, derives the resource key from the
// session key and a fresh seed, and encrypts.
func (V10) Encrypt(sessionKey, sessionID, clear []byte, policy padding.Policy) (Record, error) {
	seed, err := aead.Random(resourceid.SeedSize)
	if err != nil {
		return Record{}, err
	}
	if err := checkSession(sessionID, seed); err != nil {
		return Record{}, err
	}
	key, err := resourceid.DeriveSessionKey(sessionKey, seed)
	if err != nil {
		return Record{}, err
	}
	iv := sessionIV(sessionID)
	padded := padding.Pad(clear, policy)
	ciphertext, err := aead.Encrypt(key, iv, padded, transparentAAD(Version10, sessionID, seed))
	if err != nil {
		return Record{}, err
	}
	resourceID, err := compositeResourceID(sessionID, seed)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, SessionID: sessionID, Seed: seed, IV: iv, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates, decrypts, and strips the padding of a v10 record.
func (V10) Decrypt(key []byte, r Record) ([]byte, error) {
	padded, err := aead.Decrypt(key, r.IV, r.Ciphertext, transparentAAD(Version10, r.SessionID, r.Seed))
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not decrypt v10 data")
	}
	clear, err := padding.Remove(padded)
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not remove padding")
	}
	return clear, nil
}

// ExtractResourceID returns the composite resource id of a serialized v10
// buffer.
func (v V10) ExtractResourceID(buf []byte) ([]byte, error) {
	r, err := v.Unserialize(buf)
	if err != nil {
		return nil, err
	}
	return r.ResourceID, nil
}

// EncryptedSize returns the wire size for clearSize bytes of cleartext
// padded under policy.
func (V10) EncryptedSize(clearSize int, policy padding.Policy) int {
	return 1 + resourceid.SessionIDSize + resourceid.SeedSize + padding.PaddedFromClearSize(clearSize, policy) + aead.MACSize
}

// ClearSize returns the maximum cleartext size a wire buffer of
// encryptedSize bytes can hold.
func (V10) ClearSize(encryptedSize int) (int, error) {
	if encryptedSize < v10Overhead {
		return 0, errdefs.DecryptionFailed("truncated v10 buffer: %d bytes", encryptedSize)
	}
	return encryptedSize - v10Overhead, nil
}
