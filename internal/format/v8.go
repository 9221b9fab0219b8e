package format

import (
	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
)

// v8Overhead is V4's per-chunk overhead plus the mandatory padding marker.
const v8Overhead = v4Overhead + 1

// V8 is the padded chunked format. Each chunk's cleartext is marker-padded
// before encryption, the global padding target is spread over the tail of
// the stream (padding-only chunks if needed), and the full chunk header is
// bound as associated data, so a chunk header cannot be transplanted
// between resources or positions.
type V8 struct{}

// Descriptor returns the registry entry for this version.
func (V8) Descriptor() Descriptor { return *registry[Version8] }

// MaxPaddedChunkSize returns the padded-content capacity of one chunk
// (cleartext plus at least one padding byte).
func (V8) MaxPaddedChunkSize(encryptedChunkSize int) (int, error) {
	if encryptedChunkSize <= v8Overhead {
		return 0, errdefs.InvalidArgument("chunk size %d does not exceed the per-chunk overhead %d", encryptedChunkSize, v8Overhead)
	}
	return encryptedChunkSize - v4Overhead, nil
}

// MaxClearChunkSize returns the cleartext capacity of one chunk.
func (v V8) MaxClearChunkSize(encryptedChunkSize int) (int, error) {
	maxPadded, err := v.MaxPaddedChunkSize(encryptedChunkSize)
	if err != nil {
		return 0, err
	}
	return maxPadded - 1, nil
}

// TailPadding returns how many padding bytes (markers included) the stream
// tail must carry once totalClear bytes have been processed, fullChunks of
// which were emitted as full chunks. At least one byte: the final data
// chunk always ends in a marker.
func (V8) TailPadding(totalClear, fullChunks int, policy padding.Policy) int {
	pad := padding.PaddedFromClearSize(totalClear, policy) - totalClear - fullChunks
	if pad < 1 {
		pad = 1
	}
	return pad
}

// EncryptChunk encrypts one already-padded chunk at the given index. The
// full chunk header doubles as associated data.
func (V8) EncryptChunk(key, padded, resourceID []byte, encryptedChunkSize uint32, index uint64) ([]byte, error) {
	if err := checkFixedResourceID(resourceID); err != nil {
		return nil, err
	}
	if len(padded) > int(encryptedChunkSize)-v4Overhead {
		return nil, errdefs.InvalidArgument("padded chunk of %d bytes exceeds chunk capacity %d", len(padded), int(encryptedChunkSize)-v4Overhead)
	}
	ivSeed, err := aead.Random(aead.IVSize)
	if err != nil {
		return nil, err
	}
	header := ChunkHeader{
		Version:            Version8,
		EncryptedChunkSize: encryptedChunkSize,
		ResourceID:         resourceID,
		IVSeed:             ivSeed,
	}
	iv, err := DeriveIV(ivSeed, index)
	if err != nil {
		return nil, err
	}
	serialized := header.Serialize()
	ciphertext, err := aead.Encrypt(key, iv, padded, serialized)
	if err != nil {
		return nil, err
	}
	return append(serialized, ciphertext...), nil
}

// DecryptChunk authenticates and decrypts one serialized chunk, returning
// the still-padded content and the parsed header. Padding removal and the
// tail rule are enforced by the stream decryptor, which sees all chunks.
func (V8) DecryptChunk(key, chunk []byte, index uint64) ([]byte, ChunkHeader, error) {
	header, err := parseChunkHeader(chunk, Version8)
	if err != nil {
		return nil, ChunkHeader{}, err
	}
	if len(chunk) < v8Overhead {
		return nil, ChunkHeader{}, errdefs.DecryptionFailedFor(header.ResourceID, "truncated v8 chunk")
	}
	iv, err := DeriveIV(header.IVSeed, index)
	if err != nil {
		return nil, ChunkHeader{}, err
	}
	padded, err := aead.Decrypt(key, iv, chunk[ChunkHeaderSize:], chunk[:ChunkHeaderSize])
	if err != nil {
		return nil, ChunkHeader{}, errdefs.DecryptionFailedWrap(err, header.ResourceID, "could not decrypt v8 chunk")
	}
	return padded, header, nil
}

// ExtractResourceID returns the resource id from the first chunk header.
func (V8) ExtractResourceID(buf []byte) ([]byte, error) {
	header, err := parseChunkHeader(buf, Version8)
	if err != nil {
		return nil, err
	}
	return header.ResourceID, nil
}

// EncryptedSize returns the total wire size of clearSize bytes chunked at
// encryptedChunkSize and padded under policy. It replays the exact layout
// the encryption stream produces.
func (v V8) EncryptedSize(clearSize, encryptedChunkSize int, policy padding.Policy) (int, error) {
	maxClear, err := v.MaxClearChunkSize(encryptedChunkSize)
	if err != nil {
		return 0, err
	}
	maxPadded := maxClear + 1
	full := clearSize / maxClear
	rest := clearSize % maxClear
	tail := rest + v.TailPadding(clearSize, full, policy)
	tailChunks := tail / maxPadded
	if tail%maxPadded == 0 {
		// Tail fills its chunks exactly: a marker-only terminator chunk
		// follows so the decryptor can detect end-of-stream.
		tail++
	}
	tailChunks++
	payload := full*maxPadded + tail
	return payload + (full+tailChunks)*v4Overhead, nil
}

// ClearSize returns the maximum cleartext size a whole stream of
// encryptedSize bytes can hold; the padding spread over the chunks is only
// known after decryption.
func (v V8) ClearSize(encryptedSize, encryptedChunkSize int) (int, error) {
	if _, err := v.MaxClearChunkSize(encryptedChunkSize); err != nil {
		return 0, err
	}
	chunks := encryptedSize / encryptedChunkSize
	last := encryptedSize % encryptedChunkSize
	if last == 0 {
		return 0, errdefs.DecryptionFailed("data has been truncated")
	}
	if last < v8Overhead {
		return 0, errdefs.DecryptionFailed("truncated v8 chunk: %d bytes", last)
	}
	chunks++
	// Every chunk carries at least one padding byte on top of the fixed
	// overhead.
	return encryptedSize - chunks*v8Overhead, nil
}
