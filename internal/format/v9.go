package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// v9Overhead is version(1) + sessionId(16) + seed(16) + MAC(16).
const v9Overhead = 1 + resourceid.SessionIDSize + resourceid.SeedSize + aead.MACSize

// V9 is the first transparent-session format. The resource key is derived
// per message from the session key and a random seed; session id and seed
// travel in the clear and form the composite resource id. The IV is the
// session id zero-extended to IV size.
type V9 struct{}

// Descriptor returns the registry entry for this version.
func (V9) Descriptor() Descriptor { return *registry[Version9] }

// transparentAAD builds version ‖ sessionId ‖ seed, the associated data of
// the transparent formats.
func transparentAAD(version byte, sessionID, seed []byte) []byte {
	aad := make([]byte, 0, 1+len(sessionID)+len(seed))
	aad = append(aad, version)
	aad = append(aad, sessionID...)
	aad = append(aad, seed...)
	return aad
}

func checkSession(sessionID, seed []byte) error {
	if len(sessionID) != resourceid.SessionIDSize {
		return errdefs.InvalidArgument("invalid session id size: expected %d bytes, got %d", resourceid.SessionIDSize, len(sessionID))
	}
	if len(seed) != resourceid.SeedSize {
		return errdefs.InvalidArgument("invalid seed size: expected %d bytes, got %d", resourceid.SeedSize, len(seed))
	}
	return nil
}

// Serialize packs a record into the v9 wire layout.
func (V9) Serialize(r Record) ([]byte, error) {
	if err := checkSession(r.SessionID, r.Seed); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 1+resourceid.SessionIDSize+resourceid.SeedSize+len(r.Ciphertext))
	buf = append(buf, Version9)
	buf = append(buf, r.SessionID...)
	buf = append(buf, r.Seed...)
	buf = append(buf, r.Ciphertext...)
	return buf, nil
}

// Unserialize unpacks a v9 wire buffer.
func (V9) Unserialize(buf []byte) (Record, error) {
	return unserializeTransparent(buf, Version9, v9Overhead)
}

func unserializeTransparent(buf []byte, version byte, overhead int) (Record, error) {
	if err := checkVersion(buf, version); err != nil {
		return Record{}, err
	}
	if len(buf) < overhead {
		return Record{}, errdefs.DecryptionFailed("truncated v%d buffer: %d bytes", version, len(buf))
	}
	sessionID := buf[1 : 1+resourceid.SessionIDSize]
	seed := buf[1+resourceid.SessionIDSize : 1+resourceid.SessionIDSize+resourceid.SeedSize]
	resourceID, err := compositeResourceID(sessionID, seed)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ResourceID: resourceID,
		SessionID:  sessionID,
		Seed:       seed,
		IV:         sessionIV(sessionID),
		Ciphertext: buf[1+resourceid.SessionIDSize+resourceid.SeedSize:],
	}, nil
}

// Encrypt draws a fresh seed, derives the resource key from the session
// key, and encrypts clear bound to the session id and seed.
func (V9) Encrypt(sessionKey, sessionID, clear []byte) (Record, error) {
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
	ciphertext, err := aead.Encrypt(key, iv, clear, transparentAAD(Version9, sessionID, seed))
	if err != nil {
		return Record{}, err
	}
	resourceID, err := compositeResourceID(sessionID, seed)
	if err != nil {
		return Record{}, err
	}
	return Record{ResourceID: resourceID, SessionID: sessionID, Seed: seed, IV: iv, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates and decrypts a v9 record with the already-resolved
// resource key (see resourceid.KeyFromComposite).
func (V9) Decrypt(key []byte, r Record) ([]byte, error) {
	clear, err := aead.Decrypt(key, r.IV, r.Ciphertext, transparentAAD(Version9, r.SessionID, r.Seed))
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, r.ResourceID, "could not decrypt v9 data")
	}
	return clear, nil
}

// ExtractResourceID returns the composite resource id of a serialized v9
// buffer.
func (v V9) ExtractResourceID(buf []byte) ([]byte, error) {
	r, err := v.Unserialize(buf)
	if err != nil {
		return nil, err
	}
	return r.ResourceID, nil
}

// EncryptedSize returns the wire size for clearSize bytes of cleartext.
func (V9) EncryptedSize(clearSize int) int { return clearSize + v9Overhead }

// ClearSize returns the cleartext size recovered from a wire buffer of
// encryptedSize bytes.
func (V9) ClearSize(encryptedSize int) (int, error) {
	if encryptedSize < v9Overhead {
		return 0, errdefs.DecryptionFailed("truncated v9 buffer: %d bytes", encryptedSize)
	}
	return encryptedSize - v9Overhead, nil
}
