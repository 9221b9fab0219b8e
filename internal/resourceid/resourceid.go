// Package resourceid defines the two resource identifier families and the
// session-key derivation used by the transparent formats.
//
// A simple resource id is 16 bytes, derived from a MAC. A composite
// resource id carries a session id plus a per-message seed and serializes
// to a flat 33-byte buffer: a zero version byte, the session id, the seed.
package resourceid

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

const (
	// SimpleSize is the size of a MAC-derived resource id.
	SimpleSize = aead.MACSize

	// SessionIDSize is the size of a session id.
	SessionIDSize = 16

	// SeedSize is the size of a per-message seed.
	SeedSize = 16

	// CompositeVersion is the version byte prefixed to composite ids.
	CompositeVersion = 0x00

	// CompositeSize is the serialized size of a composite resource id.
	CompositeSize = 1 + SessionIDSize + SeedSize
)

// Composite is a resource id made of a session id and a per-message seed.
type Composite struct {
	SessionID  []byte
	ResourceID []byte
}

// KeyMapper resolves a resource id to its key. Returning (nil, nil) means
// the id is unknown. The mapper is caller-owned and may be invoked by
// independent decrypt operations; it is treated as side-effect-free here.
type KeyMapper func(ctx context.Context, resourceID []byte) ([]byte, error)

// DeriveSessionKey derives the per-message resource key from a session key
// and seed: hash(sessionKey ‖ seed), 32 bytes.
func DeriveSessionKey(sessionKey, seed []byte) ([]byte, error) {
	return aead.Hash(aead.KeySize, sessionKey, seed)
}

// SerializeComposite packs id into its flat 33-byte form.
func SerializeComposite(id Composite) ([]byte, error) {
	if len(id.SessionID) != SessionIDSize {
		return nil, errdefs.InvalidArgument("invalid session id size: expected %d bytes, got %d", SessionIDSize, len(id.SessionID))
	}
	if len(id.ResourceID) != SeedSize {
		return nil, errdefs.InvalidArgument("invalid seed size: expected %d bytes, got %d", SeedSize, len(id.ResourceID))
	}
	buf := make([]byte, 0, CompositeSize)
	buf = append(buf, CompositeVersion)
	buf = append(buf, id.SessionID...)
	buf = append(buf, id.ResourceID...)
	return buf, nil
}

// UnserializeComposite unpacks a 33-byte composite resource id.
func UnserializeComposite(buf []byte) (Composite, error) {
	if !IsComposite(buf) {
		return Composite{}, errdefs.InvalidArgument("not a composite resource id (%d bytes)", len(buf))
	}
	return Composite{
		SessionID:  bytes.Clone(buf[1 : 1+SessionIDSize]),
		ResourceID: bytes.Clone(buf[1+SessionIDSize:]),
	}, nil
}

// IsComposite reports whether buf has the composite length and version tag.
func IsComposite(buf []byte) bool {
	return len(buf) == CompositeSize && buf[0] == CompositeVersion
}

// KeyFromComposite resolves the resource key for a composite id. The
// session id is looked up first; on a hit the resource key is derived from
// the session key and the seed. Otherwise the seed is looked up directly,
// a legacy fallback for resources that were registered under their own id.
func KeyFromComposite(ctx context.Context, mapper KeyMapper, id Composite) ([]byte, error) {
	sessionKey, err := mapper(ctx, id.SessionID)
	if err != nil {
		return nil, errdefs.InvalidArgumentWrap(err, "session key lookup failed")
	}
	if sessionKey != nil {
		return DeriveSessionKey(sessionKey, id.ResourceID)
	}

	key, err := mapper(ctx, id.ResourceID)
	if err != nil {
		return nil, errdefs.InvalidArgumentWrap(err, "resource key lookup failed")
	}
	if key == nil {
		return nil, errdefs.InvalidArgument("no key found for session %s", base64.StdEncoding.EncodeToString(id.SessionID))
	}
	return key, nil
}

// Parsed is the result of Parse: exactly one of the fields is set.
type Parsed struct {
	Simple    []byte
	Composite *Composite
}

// Parse decodes a base64 resource id string and classifies it as simple or
// composite.
func Parse(b64 string) (Parsed, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Parsed{}, errdefs.InvalidArgumentWrap(err, "invalid base64 resource id")
	}
	switch {
	case len(raw) == SimpleSize:
		return Parsed{Simple: raw}, nil
	case IsComposite(raw):
		id, err := UnserializeComposite(raw)
		if err != nil {
			return Parsed{}, err
		}
		return Parsed{Composite: &id}, nil
	default:
		return Parsed{}, errdefs.InvalidArgument("unrecognized resource id length: %d bytes", len(raw))
	}
}
