package streaming

import (
	"encoding/binary"
	"io"

	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
)

// PadChunker produces the length-prefixed padded chunk sequence consumed
// by the chunked transparent format. Each chunk is
// uint32-LE(paddingBytes) ‖ paddingBytes ‖ clearBytes with
// padding+clear ≤ maxClear. Data chunks carry zero padding; once the total
// input size is known (at flush) the padding target is computed with
// PaddedFromClearSize and distributed over the tail, whole chunks of pure
// padding if it exceeds one chunk.
type PadChunker struct {
	chunker  *Chunker
	maxClear int
	policy   padding.Policy

	total   int
	padLeft int

	// tailClear holds the final short input chunk until its padded chunk
	// is emitted.
	tailClear   []byte
	tailPending bool
	flushing    bool
	done        bool
	err         error
}

// NewPadChunker returns a PadChunker cutting source into padded chunks of
// at most maxClear content bytes (plus the 4-byte prefix).
func NewPadChunker(source io.Reader, maxClear int, policy padding.Policy) (*PadChunker, error) {
	if maxClear <= 0 {
		return nil, errdefs.InvalidArgument("invalid clear chunk size: %d", maxClear)
	}
	return &PadChunker{
		chunker:  NewChunker(source, maxClear),
		maxClear: maxClear,
		policy:   policy,
	}, nil
}

// Next returns the next padded chunk, or io.EOF once the padding has been
// fully distributed. The returned slice is owned by the caller.
func (p *PadChunker) Next() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.done {
		p.err = io.EOF
		return nil, io.EOF
	}

	if !p.flushing {
		chunk, final, err := p.chunker.Next()
		if err != nil {
			p.err = err
			return nil, err
		}
		p.total += len(chunk)
		if !final {
			return buildPadChunk(0, chunk), nil
		}
		p.flushing = true
		p.tailPending = true
		p.tailClear = append([]byte(nil), chunk...)
		p.padLeft = padding.PaddedFromClearSize(p.total, p.policy) - 1 - p.total
	}

	// Flush: first the chunk carrying the remaining clear bytes and as
	// much padding as fits, then pure padding chunks.
	if p.tailPending {
		clear := p.tailClear
		p.tailClear = nil
		p.tailPending = false
		pad := p.padLeft
		if room := p.maxClear - len(clear); pad > room {
			pad = room
		}
		p.padLeft -= pad
		if len(clear) == 0 && pad == 0 {
			p.done = true
			p.err = io.EOF
			return nil, io.EOF
		}
		return buildPadChunk(pad, clear), nil
	}

	if p.padLeft > 0 {
		pad := p.padLeft
		if pad > p.maxClear {
			pad = p.maxClear
		}
		p.padLeft -= pad
		return buildPadChunk(pad, nil), nil
	}

	p.done = true
	p.err = io.EOF
	return nil, io.EOF
}

// buildPadChunk assembles prefix ‖ zero padding ‖ clear.
func buildPadChunk(pad int, clear []byte) []byte {
	chunk := make([]byte, 4+pad+len(clear))
	binary.LittleEndian.PutUint32(chunk, uint32(pad))
	copy(chunk[4+pad:], clear)
	return chunk
}

// Unpadder strips the length-prefixed padding chunk by chunk and enforces
// that padding only occurs at the tail of the stream: once any chunk
// reports nonzero padding, every later chunk must carry zero clear bytes.
type Unpadder struct {
	paddingSeen bool
}

// Process strips the prefix and padding of one chunk and returns its clear
// bytes.
func (u *Unpadder) Process(content []byte) ([]byte, error) {
	if len(content) < 4 {
		return nil, errdefs.InvalidArgument("truncated padded chunk: %d bytes", len(content))
	}
	pad := int(binary.LittleEndian.Uint32(content))
	if pad > len(content)-4 {
		return nil, errdefs.InvalidArgument("padding of %d bytes exceeds chunk content of %d bytes", pad, len(content)-4)
	}
	clear := content[4+pad:]
	if u.paddingSeen && len(clear) > 0 {
		return nil, errdefs.InvalidArgument("clear data after the padding boundary")
	}
	if pad > 0 {
		u.paddingSeen = true
	}
	return clear, nil
}
