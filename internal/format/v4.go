package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

// v4Overhead is the per-chunk overhead: the chunk header plus the MAC.
const v4Overhead = ChunkHeaderSize + aead.MACSize

// V4 is the original chunked format. Every chunk carries its own full
// header (version, chunk size, resource id, IV seed) followed by
// ciphertext‖MAC; the actual IV is derived from the seed and the chunk
// index, so replayed or reordered chunks fail authentication.
type V4 struct{}

// Descriptor returns the registry entry for this version.
func (V4) Descriptor() Descriptor { return *registry[Version4] }

// MaxClearChunkSize returns the cleartext capacity of one chunk.
func (V4) MaxClearChunkSize(encryptedChunkSize int) (int, error) {
	if encryptedChunkSize <= v4Overhead {
		return 0, errdefs.InvalidArgument("chunk size %d does not exceed the per-chunk overhead %d", encryptedChunkSize, v4Overhead)
	}
	return encryptedChunkSize - v4Overhead, nil
}

// EncryptChunk encrypts one chunk at the given index and returns the fully
// serialized chunk (header ‖ ciphertext‖MAC). A fresh random IV seed is
// drawn per chunk.
func (V4) EncryptChunk(key, clear, resourceID []byte, encryptedChunkSize uint32, index uint64) ([]byte, error) {
	if err := checkFixedResourceID(resourceID); err != nil {
		return nil, err
	}
	ivSeed, err := aead.Random(aead.IVSize)
	if err != nil {
		return nil, err
	}
	header := ChunkHeader{
		Version:            Version4,
		EncryptedChunkSize: encryptedChunkSize,
		ResourceID:         resourceID,
		IVSeed:             ivSeed,
	}
	iv, err := DeriveIV(ivSeed, index)
	if err != nil {
		return nil, err
	}
	ciphertext, err := aead.Encrypt(key, iv, clear, nil)
	if err != nil {
		return nil, err
	}
	return append(header.Serialize(), ciphertext...), nil
}

// DecryptChunk authenticates and decrypts one serialized chunk at the
// given index, returning the cleartext and the parsed header so the caller
// can enforce cross-chunk header equality.
func (V4) DecryptChunk(key, chunk []byte, index uint64) ([]byte, ChunkHeader, error) {
	header, err := parseChunkHeader(chunk, Version4)
	if err != nil {
		return nil, ChunkHeader{}, err
	}
	if len(chunk) < v4Overhead {
		return nil, ChunkHeader{}, errdefs.DecryptionFailedFor(header.ResourceID, "truncated v4 chunk")
	}
	iv, err := DeriveIV(header.IVSeed, index)
	if err != nil {
		return nil, ChunkHeader{}, err
	}
	clear, err := aead.Decrypt(key, iv, chunk[ChunkHeaderSize:], nil)
	if err != nil {
		return nil, ChunkHeader{}, errdefs.DecryptionFailedWrap(err, header.ResourceID, "could not decrypt v4 chunk")
	}
	return clear, header, nil
}

// ExtractResourceID returns the resource id from the first chunk header.
func (V4) ExtractResourceID(buf []byte) ([]byte, error) {
	header, err := parseChunkHeader(buf, Version4)
	if err != nil {
		return nil, err
	}
	return header.ResourceID, nil
}

// EncryptedSize returns the total wire size of clearSize bytes chunked at
// encryptedChunkSize, including the trailing empty chunk on exact
// multiples.
func (v V4) EncryptedSize(clearSize, encryptedChunkSize int) (int, error) {
	maxClear, err := v.MaxClearChunkSize(encryptedChunkSize)
	if err != nil {
		return 0, err
	}
	chunks := chunkCount(clearSize, maxClear)
	return clearSize + chunks*v4Overhead, nil
}

// ClearSize returns the cleartext size of a whole stream of encryptedSize
// bytes chunked at encryptedChunkSize.
func (v V4) ClearSize(encryptedSize, encryptedChunkSize int) (int, error) {
	if _, err := v.MaxClearChunkSize(encryptedChunkSize); err != nil {
		return 0, err
	}
	chunks := encryptedSize / encryptedChunkSize
	last := encryptedSize % encryptedChunkSize
	if last == 0 {
		// A well-formed stream always ends in a short or empty chunk.
		return 0, errdefs.DecryptionFailed("data has been truncated")
	}
	if last < v4Overhead {
		return 0, errdefs.DecryptionFailed("truncated v4 chunk: %d bytes", last)
	}
	chunks++
	return encryptedSize - chunks*v4Overhead, nil
}
