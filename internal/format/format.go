// Package format implements the versioned ciphertext formats. Every
// independently decodable ciphertext (or stream header) starts with a
// one-byte version tag; the registry maps tags 1..11 to their immutable
// descriptors and the per-version types implement the encode/decode
// contract.
package format

import (
	"encoding/hex"

	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

// Version tags. Array index 0 is unused.
const (
	Version1  byte = 1
	Version2  byte = 2
	Version3  byte = 3
	Version4  byte = 4
	Version5  byte = 5
	Version6  byte = 6
	Version7  byte = 7
	Version8  byte = 8
	Version9  byte = 9
	Version10 byte = 10
	Version11 byte = 11

	maxVersion = 11
)

// Features describes what a format version supports.
type Features struct {
	// Chunks is set for the streaming formats: the payload is a sequence
	// of fixed-size, independently encrypted chunks.
	Chunks bool

	// FixedResourceID is set when the resource id is supplied by the
	// caller instead of being derived from the MAC.
	FixedResourceID bool

	// Padding is set when the cleartext is length-padded before
	// encryption.
	Padding bool
}

// Descriptor is the immutable description of one format version.
type Descriptor struct {
	Version  byte
	Overhead int
	Features Features
}

// registry maps version tags to descriptors; index 0 is unassigned.
var registry = [maxVersion + 1]*Descriptor{
	Version1:  {Version: Version1, Overhead: v1Overhead},
	Version2:  {Version: Version2, Overhead: v2Overhead},
	Version3:  {Version: Version3, Overhead: v3Overhead},
	Version4:  {Version: Version4, Overhead: v4Overhead, Features: Features{Chunks: true, FixedResourceID: true}},
	Version5:  {Version: Version5, Overhead: v5Overhead, Features: Features{FixedResourceID: true}},
	Version6:  {Version: Version6, Overhead: v6Overhead, Features: Features{Padding: true}},
	Version7:  {Version: Version7, Overhead: v7Overhead, Features: Features{FixedResourceID: true, Padding: true}},
	Version8:  {Version: Version8, Overhead: v8Overhead, Features: Features{Chunks: true, FixedResourceID: true, Padding: true}},
	Version9:  {Version: Version9, Overhead: v9Overhead},
	Version10: {Version: Version10, Overhead: v10Overhead, Features: Features{Padding: true}},
	Version11: {Version: Version11, Overhead: v11Overhead, Features: Features{Chunks: true, Padding: true}},
}

// SafeExtractionLength is the number of leading bytes guaranteed to be
// enough to extract a resource id without reading the whole payload. It is
// the largest simple-format overhead plus five mebibytes, covering a full
// first chunk of any reasonable chunked configuration.
const SafeExtractionLength = v7Overhead + 5*1024*1024

// Extract reads the version tag of buf and returns the matching
// descriptor. It fails when the buffer is empty, the version is
// unassigned, or the buffer is shorter than the format's overhead.
func Extract(buf []byte) (Descriptor, error) {
	if len(buf) < 1 {
		return Descriptor{}, errdefs.InvalidArgument("could not decode version: empty buffer")
	}
	version := buf[0]
	var desc *Descriptor
	if int(version) < len(registry) {
		desc = registry[version]
	}
	if desc == nil {
		dump := buf
		if len(dump) > 16 {
			dump = dump[:16]
		}
		return Descriptor{}, errdefs.InvalidArgument("unknown version %d (leading bytes: %s)", version, hex.EncodeToString(dump))
	}
	if len(buf) < desc.Overhead {
		return Descriptor{}, errdefs.DecryptionFailed("truncated buffer: got %d bytes, version %d needs at least %d", len(buf), version, desc.Overhead)
	}
	return *desc, nil
}

// IsStreamFormat reports whether d is one of the chunked formats.
func IsStreamFormat(d Descriptor) bool { return d.Features.Chunks }

// checkVersion verifies the tag byte of a serialized buffer.
func checkVersion(buf []byte, want byte) error {
	if len(buf) < 1 {
		return errdefs.InvalidArgument("could not decode version: empty buffer")
	}
	if buf[0] != want {
		return errdefs.InvalidArgument("version mismatch: expected %d, got %d", want, buf[0])
	}
	return nil
}
