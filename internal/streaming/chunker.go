// Package streaming implements the chunked pipelines: a fixed-size
// rechunker, the padding stages, and the encrypting/decrypting stream
// readers for the chunked formats.
//
// Every stage is a pull-based transform: nothing is produced until the
// consumer asks, each stage buffers at most one clear chunk and one
// encrypted chunk, and the first error latches the stream.
package streaming

import (
	"io"
)

// Chunker rebuffers an arbitrary input stream into fixed-size chunks. The
// final chunk is short, possibly empty: when the input length is an exact
// multiple of the chunk size an empty final chunk is still delivered, so
// the chunk sequence always has a terminating short chunk.
type Chunker struct {
	source    io.Reader
	buf       []byte
	finalSent bool
	err       error
}

// NewChunker returns a Chunker cutting source into size-byte chunks.
func NewChunker(source io.Reader, size int) *Chunker {
	return &Chunker{source: source, buf: make([]byte, size)}
}

// Next returns the next chunk and whether it is the final (short or empty)
// one. The returned slice is only valid until the next call. After the
// final chunk, Next returns io.EOF.
func (c *Chunker) Next() ([]byte, bool, error) {
	if c.err != nil {
		return nil, false, c.err
	}
	if c.finalSent {
		c.err = io.EOF
		return nil, false, io.EOF
	}

	n, err := io.ReadFull(c.source, c.buf)
	switch err {
	case nil:
		return c.buf, false, nil
	case io.EOF:
		c.finalSent = true
		return c.buf[:0], true, nil
	case io.ErrUnexpectedEOF:
		c.finalSent = true
		return c.buf[:n], true, nil
	default:
		c.err = err
		return nil, false, err
	}
}
