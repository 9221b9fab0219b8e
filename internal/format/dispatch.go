package format

import (
	"context"
	"encoding/base64"

	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// ExtractResourceID reads the version tag of buf and extracts the resource
// id the way that version defines it. For V1 the buffer must be complete
// (the IV sits at the end); every other format only needs a
// SafeExtractionLength prefix.
func ExtractResourceID(buf []byte) ([]byte, error) {
	desc, err := Extract(buf)
	if err != nil {
		return nil, err
	}
	switch desc.Version {
	case Version1:
		return V1{}.ExtractResourceID(buf)
	case Version2:
		return V2{}.ExtractResourceID(buf)
	case Version3:
		return V3{}.ExtractResourceID(buf)
	case Version4:
		return V4{}.ExtractResourceID(buf)
	case Version5:
		return V5{}.ExtractResourceID(buf)
	case Version6:
		return V6{}.ExtractResourceID(buf)
	case Version7:
		return V7{}.ExtractResourceID(buf)
	case Version8:
		return V8{}.ExtractResourceID(buf)
	case Version9:
		return V9{}.ExtractResourceID(buf)
	case Version10:
		return V10{}.ExtractResourceID(buf)
	case Version11:
		return V11{}.ExtractResourceID(buf)
	default:
		return nil, errdefs.Internal("version %d registered without an extractor", desc.Version)
	}
}

// LookupSimpleKey resolves the key for a simple resource id through the
// caller's mapper.
func LookupSimpleKey(ctx context.Context, mapper resourceid.KeyMapper, id []byte) ([]byte, error) {
	key, err := mapper(ctx, id)
	if err != nil {
		return nil, errdefs.InvalidArgumentWrap(err, "resource key lookup failed")
	}
	if key == nil {
		return nil, errdefs.InvalidArgument("no key found for resource %s", base64.StdEncoding.EncodeToString(id))
	}
	return key, nil
}

// DecryptSimple decodes and decrypts a whole non-chunked ciphertext,
// resolving the key through mapper. Chunked buffers are rejected; they go
// through the stream decryptor.
func DecryptSimple(ctx context.Context, mapper resourceid.KeyMapper, buf []byte) ([]byte, error) {
	desc, err := Extract(buf)
	if err != nil {
		return nil, err
	}
	if IsStreamFormat(desc) {
		return nil, errdefs.InvalidArgument("version %d is a stream format", desc.Version)
	}

	switch desc.Version {
	case Version9, Version10:
		var r Record
		if desc.Version == Version9 {
			r, err = V9{}.Unserialize(buf)
		} else {
			r, err = V10{}.Unserialize(buf)
		}
		if err != nil {
			return nil, err
		}
		key, err := resourceid.KeyFromComposite(ctx, mapper, resourceid.Composite{SessionID: r.SessionID, ResourceID: r.Seed})
		if err != nil {
			return nil, err
		}
		if desc.Version == Version9 {
			return V9{}.Decrypt(key, r)
		}
		return V10{}.Decrypt(key, r)
	}

	var r Record
	switch desc.Version {
	case Version1:
		r, err = V1{}.Unserialize(buf)
	case Version2:
		r, err = V2{}.Unserialize(buf)
	case Version3:
		r, err = V3{}.Unserialize(buf)
	case Version5:
		r, err = V5{}.Unserialize(buf)
	case Version6:
		r, err = V6{}.Unserialize(buf)
	case Version7:
		r, err = V7{}.Unserialize(buf)
	default:
		return nil, errdefs.Internal("version %d registered without a decoder", desc.Version)
	}
	if err != nil {
		return nil, err
	}
	if r.ResourceID == nil {
		return nil, errdefs.Internal("no resource id after unserializing version %d", desc.Version)
	}

	key, err := LookupSimpleKey(ctx, mapper, r.ResourceID)
	if err != nil {
		return nil, err
	}

	switch desc.Version {
	case Version1:
		return V1{}.Decrypt(key, r)
	case Version2:
		return V2{}.Decrypt(key, r)
	case Version3:
		return V3{}.Decrypt(key, r)
	case Version5:
		return V5{}.Decrypt(key, r)
	case Version6:
		return V6{}.Decrypt(key, r)
	case Version7:
		return V7{}.Decrypt(key, r)
	}
	return nil, errdefs.Internal("unreachable")
}
