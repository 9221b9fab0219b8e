package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// Record is the structured form of a non-chunked ciphertext, between
// encrypt/decrypt and serialize/unserialize. Which fields are populated
// depends on the format family: simple formats carry ResourceID and IV,
// transparent formats carry SessionID and Seed.
type Record struct {
	ResourceID []byte
	IV         []byte
	SessionID  []byte
	Seed       []byte

	// Ciphertext always includes the trailing MAC.
	Ciphertext []byte
}

// zeroIV is the fixed all-zero IV used by the formats that rely on
// one-key-per-resource freshness (V3, V6).
var zeroIV = make([]byte, aead.IVSize)

// sessionIV zero-extends a 16-byte session id into a 24-byte IV.
func sessionIV(sessionID []byte) []byte {
	iv := make([]byte, aead.IVSize)
	copy(iv, sessionID)
	return iv
}

// macResourceID derives a simple resource id from the MAC suffix of a
// ciphertext.
func macResourceID(ciphertext []byte) ([]byte, error) {
	mac, err := aead.ExtractMAC(ciphertext)
	if err != nil {
		return nil, errdefs.DecryptionFailed("could not extract resource id: %v", err)
	}
	return mac, nil
}

// checkFixedResourceID validates a caller-supplied resource id for the
// fixed-id formats.
func checkFixedResourceID(id []byte) error {
	if len(id) != resourceid.SimpleSize {
		return errdefs.InvalidArgument("invalid resource id size: expected %d bytes, got %d", resourceid.SimpleSize, len(id))
	}
	return nil
}

// compositeResourceID serializes the session id + seed pair of a
// transparent record.
func compositeResourceID(sessionID, seed []byte) ([]byte, error) {
	return resourceid.SerializeComposite(resourceid.Composite{SessionID: sessionID, ResourceID: seed})
}
