package streaming

import (
	"context"
	"errors"
	"io"

	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/format"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// DecryptStream decrypts any of the chunked wire formats back into the
// cleartext. The version tag and the first header are consumed eagerly at
// construction so the key can be resolved before any ciphertext is
// buffered.
type DecryptStream struct {
	pieceReader
	version    byte
	resourceID []byte
}

// NewDecryptStream dispatches on the version tag of source and returns the
// decrypting reader. Non-chunked versions are rejected; they decrypt as a
// whole buffer.
func NewDecryptStream(ctx context.Context, mapper resourceid.KeyMapper, source io.Reader) (*DecryptStream, error) {
	var version [1]byte
	if _, err := io.ReadFull(source, version[:]); err != nil {
		return nil, errdefs.InvalidArgument("could not decode version: empty buffer")
	}
	switch version[0] {
	case format.Version4, format.Version8:
		return newChunkedDecryptStream(ctx, mapper, source, version[0])
	case format.Version11:
		return newTransparentDecryptStream(ctx, mapper, source)
	default:
		if version[0] >= format.Version1 && version[0] <= format.Version10 {
			return nil, errdefs.InvalidArgument("version %d is not a stream format", version[0])
		}
		return nil, errdefs.InvalidArgument("unknown version %d", version[0])
	}
}

// ResourceID returns the resource id read from the stream's first header.
func (s *DecryptStream) ResourceID() []byte { return s.resourceID }

// Version returns the format version read from the stream.
func (s *DecryptStream) Version() byte { return s.version }

// windowSource cuts the remaining stream into encrypted-chunk-size
// windows. A well-formed stream always ends in a short window; running out
// of input right at a window boundary means the terminator chunk is
// missing.
type windowSource struct {
	source io.Reader
	window []byte
	// prefix counts header bytes already consumed during construction that
	// belong to the first window.
	prefix int
	ended  bool
}

// errStreamTruncated marks input that ran out exactly at a window
// boundary. Callers turn it into a DecryptionFailed bound to the stream's
// resource id.
var errStreamTruncated = errors.New("stream truncated at window boundary")

// next returns the next window and whether it is the final, short one.
func (w *windowSource) next() ([]byte, bool, error) {
	if w.ended {
		return nil, false, io.EOF
	}
	n, err := io.ReadFull(w.source, w.window[w.prefix:])
	chunk := w.window[:w.prefix+n]
	w.prefix = 0
	switch err {
	case nil:
		return chunk, false, nil
	case io.EOF, io.ErrUnexpectedEOF:
		w.ended = true
		if len(chunk) == 0 {
			return nil, false, errStreamTruncated
		}
		return chunk, true, nil
	default:
		return nil, false, err
	}
}

// newChunkedDecryptStream handles V4 and V8: every chunk repeats the full
// header, which must match the first chunk's header across the stream.
func newChunkedDecryptStream(ctx context.Context, mapper resourceid.KeyMapper, source io.Reader, version byte) (*DecryptStream, error) {
	first := make([]byte, format.ChunkHeaderSize)
	first[0] = version
	if n, err := io.ReadFull(source, first[1:]); err != nil {
		return nil, errdefs.DecryptionFailed("truncated chunk header: %d bytes", 1+n)
	}
	header, err := format.ParseChunkHeader(first)
	if err != nil {
		return nil, err
	}

	ecs := int(header.EncryptedChunkSize)
	var maxClear int
	if version == format.Version4 {
		maxClear, err = format.V4{}.MaxClearChunkSize(ecs)
	} else {
		maxClear, err = format.V8{}.MaxClearChunkSize(ecs)
	}
	if err != nil {
		return nil, err
	}

	key, err := format.LookupSimpleKey(ctx, mapper, header.ResourceID)
	if err != nil {
		return nil, err
	}

	windows := &windowSource{source: source, window: make([]byte, ecs)}
	windows.prefix = copy(windows.window, first)

	var (
		index        uint64
		boundarySeen bool
	)
	s := &DecryptStream{version: version, resourceID: header.ResourceID}
	s.next = func() ([]byte, error) {
		chunk, _, err := windows.next()
		if err != nil {
			if err == errStreamTruncated {
				return nil, errdefs.DecryptionFailedFor(header.ResourceID, "data has been truncated")
			}
			return nil, err
		}

		var (
			content []byte
			got     format.ChunkHeader
		)
		if version == format.Version4 {
			content, got, err = format.V4{}.DecryptChunk(key, chunk, index)
		} else {
			content, got, err = format.V8{}.DecryptChunk(key, chunk, index)
		}
		if err != nil {
			return nil, err
		}
		if !got.Matches(header) {
			return nil, errdefs.DecryptionFailedFor(header.ResourceID, "chunk header mismatch")
		}
		index++

		if version == format.Version4 {
			return content, nil
		}

		// V8: strip the per-chunk padding and enforce that padding only
		// occurs at the tail of the stream.
		clear, err := padding.Remove(content)
		if err != nil {
			return nil, errdefs.DecryptionFailedFor(header.ResourceID, "unable to remove padding")
		}
		if boundarySeen && len(clear) > 0 {
			return nil, errdefs.DecryptionFailedFor(header.ResourceID, "unable to remove padding")
		}
		if len(clear) < maxClear {
			boundarySeen = true
		}
		return clear, nil
	}
	return s, nil
}

// newTransparentDecryptStream handles V11: one stream header up front,
// then raw ciphertext‖MAC windows carrying the length-prefixed pad stream.
func newTransparentDecryptStream(ctx context.Context, mapper resourceid.KeyMapper, source io.Reader) (*DecryptStream, error) {
	var v11 format.V11
	serialized := make([]byte, format.StreamHeaderSize)
	serialized[0] = format.Version11
	if n, err := io.ReadFull(source, serialized[1:]); err != nil {
		return nil, errdefs.DecryptionFailed("truncated v11 stream header: %d bytes", 1+n)
	}
	header, err := v11.ParseStreamHeader(serialized)
	if err != nil {
		return nil, err
	}
	resourceID, err := v11.ExtractResourceID(serialized)
	if err != nil {
		return nil, err
	}

	ecs := int(header.EncryptedChunkSize)
	if _, err := v11.MaxClearChunkSize(ecs); err != nil {
		return nil, err
	}

	key, err := resourceid.KeyFromComposite(ctx, mapper, resourceid.Composite{
		SessionID:  header.SessionID,
		ResourceID: header.Seed,
	})
	if err != nil {
		return nil, err
	}

	windows := &windowSource{source: source, window: make([]byte, ecs)}

	var (
		index    uint64
		unpadder Unpadder
	)
	s := &DecryptStream{version: format.Version11, resourceID: resourceID}
	s.next = func() ([]byte, error) {
		chunk, _, err := windows.next()
		if err != nil {
			if err == errStreamTruncated {
				return nil, errdefs.DecryptionFailedFor(resourceID, "data has been truncated")
			}
			return nil, err
		}
		content, err := v11.DecryptChunk(key, chunk, header, index)
		if err != nil {
			return nil, err
		}
		index++
		return unpadder.Process(content)
	}
	return s, nil
}
