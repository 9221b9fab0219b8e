package streaming

import (
	"io"

	"github.com/kenneth/e2ee-encryption-engine/internal/format"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
)

// DefaultEncryptedChunkSize is the chunk size used when the caller does
// not pick one.
const DefaultEncryptedChunkSize = 1024 * 1024

// pieceReader adapts a next-piece function into an io.Reader. It holds at
// most one produced piece, so a slow consumer stalls the producer instead
// of growing a queue, and it latches the first error.
type pieceReader struct {
	next func() ([]byte, error)
	buf  []byte
	err  error
}

// Read implements io.Reader.
func (r *pieceReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.buf, r.err = r.next()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// EncryptStreamV4 encrypts source into the chunked v4 wire format.
type EncryptStreamV4 struct {
	pieceReader
}

// NewEncryptStreamV4 builds the encrypting reader. The resource id must be
// a fixed 16-byte id owned by key.
func NewEncryptStreamV4(key, resourceID []byte, source io.Reader, encryptedChunkSize int) (*EncryptStreamV4, error) {
	var v4 format.V4
	maxClear, err := v4.MaxClearChunkSize(encryptedChunkSize)
	if err != nil {
		return nil, err
	}
	chunker := NewChunker(source, maxClear)
	var index uint64
	s := &EncryptStreamV4{}
	s.next = func() ([]byte, error) {
		chunk, _, err := chunker.Next()
		if err != nil {
			return nil, err
		}
		piece, err := v4.EncryptChunk(key, chunk, resourceID, uint32(encryptedChunkSize), index)
		if err != nil {
			return nil, err
		}
		index++
		return piece, nil
	}
	return s, nil
}

// EncryptStreamV8 encrypts source into the chunked, padded v8 wire format.
type EncryptStreamV8 struct {
	pieceReader
}

// NewEncryptStreamV8 builds the encrypting reader. Every chunk is
// marker-padded; the global padding target for policy is spread over the
// stream tail at flush, as padding-only chunks when it exceeds the last
// data chunk's capacity.
func NewEncryptStreamV8(key, resourceID []byte, source io.Reader, encryptedChunkSize int, policy padding.Policy) (*EncryptStreamV8, error) {
	var v8 format.V8
	maxClear, err := v8.MaxClearChunkSize(encryptedChunkSize)
	if err != nil {
		return nil, err
	}
	maxPadded := maxClear + 1
	chunker := NewChunker(source, maxClear)

	var (
		index      uint64
		fullChunks int
		tail       [][]byte
		flushing   bool
	)

	encryptPiece := func(content []byte) ([]byte, error) {
		piece, err := v8.EncryptChunk(key, content, resourceID, uint32(encryptedChunkSize), index)
		if err != nil {
			return nil, err
		}
		index++
		return piece, nil
	}

	// paddedContent assembles clear ‖ marker ‖ zeros, pad bytes of padding
	// in total.
	paddedContent := func(clear []byte, pad int) []byte {
		content := make([]byte, len(clear)+pad)
		copy(content, clear)
		content[len(clear)] = padding.Marker
		return content
	}

	s := &EncryptStreamV8{}
	s.next = func() ([]byte, error) {
		if flushing {
			if len(tail) == 0 {
				return nil, io.EOF
			}
			content := tail[0]
			tail = tail[1:]
			return encryptPiece(content)
		}

		chunk, final, err := chunker.Next()
		if err != nil {
			return nil, err
		}
		if !final {
			fullChunks++
			return encryptPiece(paddedContent(chunk, 1))
		}

		// Flush: distribute the remaining padding over the tail.
		flushing = true
		rest := len(chunk)
		total := fullChunks*maxClear + rest
		padLeft := v8.TailPadding(total, fullChunks, policy)

		pad := padLeft
		if room := maxPadded - rest; pad > room {
			pad = room
		}
		tail = append(tail, paddedContent(chunk, pad))
		padLeft -= pad
		for padLeft > 0 {
			pad = padLeft
			if pad > maxPadded {
				pad = maxPadded
			}
			tail = append(tail, paddedContent(nil, pad))
			padLeft -= pad
		}
		if len(tail[len(tail)-1]) == maxPadded {
			// Every tail chunk came out full-sized: terminate with a
			// marker-only chunk so the decryptor can detect end-of-stream.
			tail = append(tail, paddedContent(nil, 1))
		}

		content := tail[0]
		tail = tail[1:]
		return encryptPiece(content)
	}
	return s, nil
}

// EncryptStreamV11 encrypts source into the chunked transparent-session
// wire format: one stream header, then raw encrypted pad-stream chunks.
type EncryptStreamV11 struct {
	pieceReader
	resourceID []byte
}

// NewEncryptStreamV11 builds the encrypting reader. The per-stream
// resource key is derived from sessionKey and the fresh seed drawn for the
// stream header.
func NewEncryptStreamV11(sessionKey, sessionID []byte, source io.Reader, encryptedChunkSize int, policy padding.Policy) (*EncryptStreamV11, error) {
	var v11 format.V11
	maxClear, err := v11.MaxClearChunkSize(encryptedChunkSize)
	if err != nil {
		return nil, err
	}
	header, err := v11.NewStreamHeader(sessionID, uint32(encryptedChunkSize))
	if err != nil {
		return nil, err
	}
	key, err := v11.ResourceKey(sessionKey, header)
	if err != nil {
		return nil, err
	}
	resourceID, err := v11.ExtractResourceID(header.Serialize())
	if err != nil {
		return nil, err
	}
	padder, err := NewPadChunker(source, maxClear, policy)
	if err != nil {
		return nil, err
	}

	maxContent, err := v11.MaxContentChunkSize(encryptedChunkSize)
	if err != nil {
		return nil, err
	}

	var (
		index       uint64
		headerSent  bool
		terminated  bool
		lastContent = -1
	)
	s := &EncryptStreamV11{resourceID: resourceID}
	s.next = func() ([]byte, error) {
		if !headerSent {
			headerSent = true
			return header.Serialize(), nil
		}
		content, err := padder.Next()
		if err == io.EOF {
			if terminated {
				return nil, io.EOF
			}
			terminated = true
			if lastContent == maxContent || lastContent == -1 {
				// Exact multiple (or empty payload): emit an empty padded
				// chunk as terminator.
				piece, err := v11.EncryptChunk(key, buildPadChunk(0, nil), header, index)
				if err != nil {
					return nil, err
				}
				index++
				return piece, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		lastContent = len(content)
		piece, err := v11.EncryptChunk(key, content, header, index)
		if err != nil {
			return nil, err
		}
		index++
		return piece, nil
	}
	return s, nil
}

// ResourceID returns the composite resource id of the stream.
func (s *EncryptStreamV11) ResourceID() []byte { return s.resourceID }
