// Package padding implements the length-hiding padding applied by the
// padded formats: padme size rounding, the padding policy (auto, off, or a
// fixed step), and the in-band 0x80-then-zeros marker scheme.
package padding

import (
	"math/bits"

	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

const (
	// Marker is the byte appended after the cleartext; everything after
	// it must be zero.
	Marker = 0x80

	// MinimalPadding is the smallest padded size produced by the auto
	// policy.
	MinimalPadding = 10

	stepAuto = 0
	stepOff  = -1
)

// Policy selects how much padding to add. The zero value is Auto.
type Policy struct {
	step int
}

// Auto pads to max(padme(clearSize+1), MinimalPadding).
var Auto = Policy{step: stepAuto}

// Off pads to clearSize+1: only the marker byte is added.
var Off = Policy{step: stepOff}

// Step pads to the next multiple of n that is at least clearSize+1 and at
// least n. n must be positive.
func Step(n int) (Policy, error) {
	if n <= 0 {
		return Policy{}, errdefs.InvalidArgument("padding step must be a positive integer, got %d", n)
	}
	return Policy{step: n}, nil
}

// IsOff reports whether the policy disables length hiding.
func (p Policy) IsOff() bool { return p.step == stepOff }

// Padme returns clearSize rounded up to a power-of-two-aligned boundary.
// The boundary gets coarser as clearSize grows, bounding the relative
// overhead. Returns 0 for sizes of at most 1 byte.
func Padme(clearSize int) int {
	if clearSize <= 1 {
		return 0
	}
	e := bits.Len(uint(clearSize)) - 1 // floor(log2(clearSize))
	s := bits.Len(uint(e))             // floor(log2(e)) + 1
	mask := (1 << (e - s)) - 1
	return (clearSize + mask) &^ mask
}

// PaddedFromClearSize returns the total padded size (marker included) for
// clearSize bytes of cleartext under policy. The result is always at least
// clearSize+1: padding adds a byte even when the input already sits on a
// round boundary.
func PaddedFromClearSize(clearSize int, policy Policy) int {
	switch {
	case policy.step == stepOff:
		return clearSize + 1
	case policy.step == stepAuto:
		padded := Padme(clearSize + 1)
		if padded < MinimalPadding {
			padded = MinimalPadding
		}
		return padded
	default:
		padded := policy.step
		for padded < clearSize+1 {
			padded += policy.step
		}
		return padded
	}
}

// Pad appends the marker byte and then zeros until data reaches the padded
// size for policy.
func Pad(data []byte, policy Policy) []byte {
	paddedSize := PaddedFromClearSize(len(data), policy)
	padded := make([]byte, paddedSize)
	copy(padded, data)
	padded[len(data)] = Marker
	return padded
}

// Remove strips the padding appended by Pad: it locates the last marker
// byte, verifies every byte after it is zero, and returns the prefix.
func Remove(padded []byte) ([]byte, error) {
	for i := len(padded) - 1; i >= 0; i-- {
		switch padded[i] {
		case Marker:
			return padded[:i], nil
		case 0x00:
			continue
		default:
			return nil, errdefs.DecryptionFailed("could not remove padding")
		}
	}
	return nil, errdefs.DecryptionFailed("could not remove padding")
}
