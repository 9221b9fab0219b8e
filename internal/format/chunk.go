package format

import (
	"bytes"
	"encoding/binary"

	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// ChunkHeaderSize is the serialized size of a V4/V8 per-chunk header:
// version(1) + encryptedChunkSize(4) + resourceId(16) + ivSeed(24).
const ChunkHeaderSize = 1 + 4 + resourceid.SimpleSize + aead.IVSize

// ChunkHeader is the header prepended to every V4/V8 chunk. All chunks of
// one stream must agree on EncryptedChunkSize and ResourceID; IVSeed is
// random per chunk.
type ChunkHeader struct {
	Version            byte
	EncryptedChunkSize uint32
	ResourceID         []byte
	IVSeed             []byte
}

// Serialize packs the header into its wire form.
func (h ChunkHeader) Serialize() []byte {
	buf := make([]byte, 0, ChunkHeaderSize)
	buf = append(buf, h.Version)
	buf = binary.LittleEndian.AppendUint32(buf, h.EncryptedChunkSize)
	buf = append(buf, h.ResourceID...)
	buf = append(buf, h.IVSeed...)
	return buf
}

// parseChunkHeader unpacks and validates a chunk header of the given
// version from the front of buf.
func parseChunkHeader(buf []byte, version byte) (ChunkHeader, error) {
	if err := checkVersion(buf, version); err != nil {
		return ChunkHeader{}, err
	}
	if len(buf) < ChunkHeaderSize {
		return ChunkHeader{}, errdefs.DecryptionFailed("truncated chunk header: %d bytes", len(buf))
	}
	return ChunkHeader{
		Version:            buf[0],
		EncryptedChunkSize: binary.LittleEndian.Uint32(buf[1:5]),
		ResourceID:         buf[5 : 5+resourceid.SimpleSize],
		IVSeed:             buf[5+resourceid.SimpleSize : ChunkHeaderSize],
	}, nil
}

// ParseChunkHeader unpacks a V4 or V8 chunk header from the front of buf.
func ParseChunkHeader(buf []byte) (ChunkHeader, error) {
	if len(buf) < 1 {
		return ChunkHeader{}, errdefs.InvalidArgument("could not decode version: empty buffer")
	}
	if buf[0] != Version4 && buf[0] != Version8 {
		return ChunkHeader{}, errdefs.InvalidArgument("version %d does not carry chunk headers", buf[0])
	}
	return parseChunkHeader(buf, buf[0])
}

// Matches reports whether two headers describe the same stream: same
// version, chunk size, and resource id. IVSeed is per-chunk and excluded.
func (h ChunkHeader) Matches(other ChunkHeader) bool {
	return h.Version == other.Version &&
		h.EncryptedChunkSize == other.EncryptedChunkSize &&
		bytes.Equal(h.ResourceID, other.ResourceID)
}

// DeriveIV derives the IV of chunk index from a seed:
// hash(seed ‖ index-as-uint64-LE), IV-sized output.
func DeriveIV(seed []byte, index uint64) ([]byte, error) {
	var indexBytes [8]byte
	binary.LittleEndian.PutUint64(indexBytes[:], index)
	return aead.Hash(aead.IVSize, seed, indexBytes[:])
}

// chunkCount returns the number of chunks a payload of payloadSize bytes
// occupies when split into maxPayload-sized chunks. The final chunk is
// always short or empty: an exact multiple gets an extra terminator chunk
// so the decryptor can tell true end-of-stream from truncation.
func chunkCount(payloadSize, maxPayload int) int {
	return payloadSize/maxPayload + 1
}
