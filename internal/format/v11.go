package format

import (
	"bytes"
	"encoding/binary"

	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// StreamHeaderSize is the serialized size of the V11 stream header:
// version(1) + sessionId(16) + seed(16) + encryptedChunkSize(4).
const StreamHeaderSize = 1 + resourceid.SessionIDSize + resourceid.SeedSize + 4

// v11ChunkOverhead is the per-chunk cost: the padding length prefix
// written by the pad stream plus the MAC.
const v11ChunkOverhead = 4 + aead.MACSize

// v11Overhead is the stream header plus one chunk's fixed cost.
const v11Overhead = StreamHeaderSize + v11ChunkOverhead

// StreamHeader is the V11 stream header, emitted once in front of the
// chunk sequence (unlike V4/V8, which repeat a header per chunk). Its
// serialized form is the associated data of every chunk.
type StreamHeader struct {
	SessionID          []byte
	Seed               []byte
	EncryptedChunkSize uint32
}

// Serialize packs the stream header into its wire form.
func (h StreamHeader) Serialize() []byte {
	buf := make([]byte, 0, StreamHeaderSize)
	buf = append(buf, Version11)
	buf = append(buf, h.SessionID...)
	buf = append(buf, h.Seed...)
	buf = binary.LittleEndian.AppendUint32(buf, h.EncryptedChunkSize)
	return buf
}

// V11 is the chunked transparent-session format: a single stream header
// carrying session id, seed, and chunk size, followed by raw
// ciphertext‖MAC chunks. Padding is the length-prefixed pad-stream scheme
// layered beneath the chunk cipher, since the padding state spans chunk
// boundaries independently of the cipher chunking.
type V11 struct{}

// Descriptor returns the registry entry for this version.
func (V11) Descriptor() Descriptor { return *registry[Version11] }

// NewStreamHeader draws a fresh seed and builds the header for a new
// stream.
func (V11) NewStreamHeader(sessionID []byte, encryptedChunkSize uint32) (StreamHeader, error) {
	if len(sessionID) != resourceid.SessionIDSize {
		return StreamHeader{}, errdefs.InvalidArgument("invalid session id size: expected %d bytes, got %d", resourceid.SessionIDSize, len(sessionID))
	}
	seed, err := aead.Random(resourceid.SeedSize)
	if err != nil {
		return StreamHeader{}, err
	}
	return StreamHeader{SessionID: sessionID, Seed: seed, EncryptedChunkSize: encryptedChunkSize}, nil
}

// ParseStreamHeader unpacks the stream header from the front of buf.
func (V11) ParseStreamHeader(buf []byte) (StreamHeader, error) {
	if err := checkVersion(buf, Version11); err != nil {
		return StreamHeader{}, err
	}
	if len(buf) < StreamHeaderSize {
		return StreamHeader{}, errdefs.DecryptionFailed("truncated v11 stream header: %d bytes", len(buf))
	}
	return StreamHeader{
		SessionID:          bytes.Clone(buf[1 : 1+resourceid.SessionIDSize]),
		Seed:               bytes.Clone(buf[1+resourceid.SessionIDSize : 1+resourceid.SessionIDSize+resourceid.SeedSize]),
		EncryptedChunkSize: binary.LittleEndian.Uint32(buf[StreamHeaderSize-4:]),
	}, nil
}

// ResourceKey derives the stream's resource key from the session key and
// the header's seed.
func (V11) ResourceKey(sessionKey []byte, header StreamHeader) ([]byte, error) {
	return resourceid.DeriveSessionKey(sessionKey, header.Seed)
}

// MaxContentChunkSize returns how many pad-stream bytes (length prefix
// included) fit in one chunk.
func (V11) MaxContentChunkSize(encryptedChunkSize int) (int, error) {
	if encryptedChunkSize <= v11ChunkOverhead {
		return 0, errdefs.InvalidArgument("chunk size %d does not exceed the per-chunk overhead %d", encryptedChunkSize, v11ChunkOverhead)
	}
	return encryptedChunkSize - aead.MACSize, nil
}

// MaxClearChunkSize returns the cleartext-plus-padding capacity of one
// chunk.
func (V11) MaxClearChunkSize(encryptedChunkSize int) (int, error) {
	if encryptedChunkSize <= v11ChunkOverhead {
		return 0, errdefs.InvalidArgument("chunk size %d does not exceed the per-chunk overhead %d", encryptedChunkSize, v11ChunkOverhead)
	}
	return encryptedChunkSize - v11ChunkOverhead, nil
}

// EncryptChunk encrypts one pad-stream chunk at the given index. The IV is
// derived from the zero-extended session id and the index; the serialized
// stream header is the associated data.
func (V11) EncryptChunk(key, content []byte, header StreamHeader, index uint64) ([]byte, error) {
	if len(content) > int(header.EncryptedChunkSize)-aead.MACSize {
		return nil, errdefs.InvalidArgument("chunk content of %d bytes exceeds chunk capacity %d", len(content), int(header.EncryptedChunkSize)-aead.MACSize)
	}
	iv, err := DeriveIV(sessionIV(header.SessionID), index)
	if err != nil {
		return nil, err
	}
	return aead.Encrypt(key, iv, content, header.Serialize())
}

// DecryptChunk authenticates and decrypts one chunk at the given index.
func (V11) DecryptChunk(key, chunk []byte, header StreamHeader, index uint64) ([]byte, error) {
	resourceID, _ := compositeResourceID(header.SessionID, header.Seed)
	if len(chunk) < aead.MACSize {
		return nil, errdefs.DecryptionFailedFor(resourceID, "truncated v11 chunk")
	}
	iv, err := DeriveIV(sessionIV(header.SessionID), index)
	if err != nil {
		return nil, err
	}
	content, err := aead.Decrypt(key, iv, chunk, header.Serialize())
	if err != nil {
		return nil, errdefs.DecryptionFailedWrap(err, resourceID, "could not decrypt v11 chunk")
	}
	return content, nil
}

// ExtractResourceID returns the composite resource id from the stream
// header.
func (v V11) ExtractResourceID(buf []byte) ([]byte, error) {
	header, err := v.ParseStreamHeader(buf)
	if err != nil {
		return nil, err
	}
	return compositeResourceID(header.SessionID, header.Seed)
}

// EncryptedSize returns the total wire size of clearSize bytes chunked at
// encryptedChunkSize and padded under policy.
func (v V11) EncryptedSize(clearSize, encryptedChunkSize int, policy padding.Policy) (int, error) {
	maxClear, err := v.MaxClearChunkSize(encryptedChunkSize)
	if err != nil {
		return 0, err
	}
	pad := padding.PaddedFromClearSize(clearSize, policy) - 1 - clearSize
	payload := clearSize + pad
	chunks := chunkCount(payload, maxClear)
	return StreamHeaderSize + payload + chunks*v11ChunkOverhead, nil
}

// ClearSize returns the maximum cleartext size a whole stream of
// encryptedSize bytes can hold; the padding share is only known after
// decryption.
func (v V11) ClearSize(encryptedSize, encryptedChunkSize int) (int, error) {
	if _, err := v.MaxClearChunkSize(encryptedChunkSize); err != nil {
		return 0, err
	}
	body := encryptedSize - StreamHeaderSize
	if body < 0 {
		return 0, errdefs.DecryptionFailed("truncated v11 stream header: %d bytes", encryptedSize)
	}
	chunks := body / encryptedChunkSize
	last := body % encryptedChunkSize
	if last == 0 {
		return 0, errdefs.DecryptionFailed("data has been truncated")
	}
	if last < v11ChunkOverhead {
		return 0, errdefs.DecryptionFailed("truncated v11 chunk: %d bytes", last)
	}
	chunks++
	return body - chunks*v11ChunkOverhead, nil
}
