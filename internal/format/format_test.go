package format

import (
	"bytes"
	"context"
	"testing"

	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := aead.Random(aead.KeySize)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	return key
}

var clearSizes = []int{0, 1, 9, 10, 100, 1000}

// simpleFormat drives the shared round-trip test across the non-chunked
// formats that take a bare key.
type simpleFormat struct {
	version   byte
	overhead  int
	encrypt   func(key, clear []byte) (Record, error)
	serialize func(Record) ([]byte, error)
	sized     bool // true when the overhead is exact, not padding-dependent
}

func simpleFormats() []simpleFormat {
	fixedID := bytes.Repeat([]byte{0x77}, resourceid.SimpleSize)
	return []simpleFormat{
		{
			version: Version1, overhead: v1Overhead, sized: true,
			encrypt:   func(key, clear []byte) (Record, error) { return V1{}.Encrypt(key, clear) },
			serialize: func(r Record) ([]byte, error) { return V1{}.Serialize(r) },
		},
		{
			version: Version2, overhead: v2Overhead, sized: true,
			encrypt:   func(key, clear []byte) (Record, error) { return V2{}.Encrypt(key, clear) },
			serialize: func(r Record) ([]byte, error) { return V2{}.Serialize(r) },
		},
		{
			version: Version3, overhead: v3Overhead, sized: true,
			encrypt:   func(key, clear []byte) (Record, error) { return V3{}.Encrypt(key, clear) },
			serialize: func(r Record) ([]byte, error) { return V3{}.Serialize(r) },
		},
		{
			version: Version5, overhead: v5Overhead, sized: true,
			encrypt:   func(key, clear []byte) (Record, error) { return V5{}.Encrypt(key, clear, fixedID) },
			serialize: func(r Record) ([]byte, error) { return V5{}.Serialize(r) },
		},
		{
			version: Version6, overhead: v6Overhead,
			encrypt:   func(key, clear []byte) (Record, error) { return V6{}.Encrypt(key, clear, padding.Auto) },
			serialize: func(r Record) ([]byte, error) { return V6{}.Serialize(r) },
		},
		{
			version: Version7, overhead: v7Overhead,
			encrypt: func(key, clear []byte) (Record, error) {
				return V7{}.Encrypt(key, clear, fixedID, padding.Auto)
			},
			serialize: func(r Record) ([]byte, error) { return V7{}.Serialize(r) },
		},
	}
}

func TestSimpleFormatsRoundTrip(t *testing.T) {
	key := testKey(t)
	for _, f := range simpleFormats() {
		for _, size := range clearSizes {
			clear := bytes.Repeat([]byte{0x42}, size)
			record, err := f.encrypt(key, clear)
			if err != nil {
				t.Fatalf("v%d/%d: Encrypt: %v", f.version, size, err)
			}
			buf, err := f.serialize(record)
			if err != nil {
				t.Fatalf("v%d/%d: Serialize: %v", f.version, size, err)
			}
			if buf[0] != f.version {
				t.Fatalf("v%d/%d: version tag is %d", f.version, size, buf[0])
			}
			if f.sized && len(buf) != size+f.overhead {
				t.Errorf("v%d/%d: wire size %d, want %d", f.version, size, len(buf), size+f.overhead)
			}

			mapper := keyFor(record.ResourceID, key)
			got, err := DecryptSimple(context.Background(), mapper, buf)
			if err != nil {
				t.Fatalf("v%d/%d: DecryptSimple: %v", f.version, size, err)
			}
			if !bytes.Equal(got, clear) {
				t.Errorf("v%d/%d: round trip mismatch", f.version, size)
			}

			id, err := ExtractResourceID(buf)
			if err != nil {
				t.Fatalf("v%d/%d: ExtractResourceID: %v", f.version, size, err)
			}
			if !bytes.Equal(id, record.ResourceID) {
				t.Errorf("v%d/%d: extracted id differs from the record's", f.version, size)
			}
		}
	}
}

func keyFor(id, key []byte) resourceid.KeyMapper {
	return func(ctx context.Context, rid []byte) ([]byte, error) {
		if bytes.Equal(rid, id) {
			return key, nil
		}
		return nil, nil
	}
}

func TestSimpleFormatsRejectTampering(t *testing.T) {
	key := testKey(t)
	clear := []byte("the quick brown fox")
	for _, f := range simpleFormats() {
		record, err := f.encrypt(key, clear)
		if err != nil {
			t.Fatalf("v%d: Encrypt: %v", f.version, err)
		}
		buf, err := f.serialize(record)
		if err != nil {
			t.Fatalf("v%d: Serialize: %v", f.version, err)
		}
		mapper := func(ctx context.Context, rid []byte) ([]byte, error) { return key, nil }

		for i := 1; i < len(buf); i++ {
			tampered := bytes.Clone(buf)
			tampered[i] ^= 0x01
			got, err := DecryptSimple(context.Background(), mapper, tampered)
			if err == nil && bytes.Equal(got, clear) {
				// V1/V2 keep the IV outside the MAC envelope; flipping IV
				// bytes must still fail authentication, which the assertion
				// above covers by requiring an error OR different output.
				t.Fatalf("v%d: tampered byte %d decrypted to the original cleartext", f.version, i)
			}
			if err != nil && !errdefs.IsDecryptionFailed(err) && !errdefs.IsInvalidArgument(err) {
				t.Fatalf("v%d: tampered byte %d gave a non-domain error: %v", f.version, i, err)
			}
		}
	}
}

func TestResourceIDDerivationRules(t *testing.T) {
	key := testKey(t)
	clear := []byte("payload")

	t.Run("v1 id is the IV suffix", func(t *testing.T) {
		record, err := V1{}.Encrypt(key, clear)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		want := record.IV[len(record.IV)-aead.MACSize:]
		if !bytes.Equal(record.ResourceID, want) {
			t.Error("v1 resource id is not the IV suffix")
		}
	})

	t.Run("v2 v3 v6 id is the MAC suffix", func(t *testing.T) {
		for _, f := range simpleFormats() {
			if f.version != Version2 && f.version != Version3 && f.version != Version6 {
				continue
			}
			record, err := f.encrypt(key, clear)
			if err != nil {
				t.Fatalf("v%d: Encrypt: %v", f.version, err)
			}
			want := record.Ciphertext[len(record.Ciphertext)-aead.MACSize:]
			if !bytes.Equal(record.ResourceID, want) {
				t.Errorf("v%d: resource id is not the MAC suffix", f.version)
			}
		}
	})

	t.Run("v5 v7 keep the caller id", func(t *testing.T) {
		fixedID := bytes.Repeat([]byte{0x31}, resourceid.SimpleSize)
		r5, err := V5{}.Encrypt(key, clear, fixedID)
		if err != nil {
			t.Fatalf("v5: %v", err)
		}
		r7, err := V7{}.Encrypt(key, clear, fixedID, padding.Auto)
		if err != nil {
			t.Fatalf("v7: %v", err)
		}
		if !bytes.Equal(r5.ResourceID, fixedID) || !bytes.Equal(r7.ResourceID, fixedID) {
			t.Error("fixed resource id was not preserved")
		}
		if _, err := (V5{}).Encrypt(key, clear, fixedID[:8]); !errdefs.IsInvalidArgument(err) {
			t.Errorf("short fixed id: want InvalidArgument, got %v", err)
		}
	})
}

func TestTransparentFormatsRoundTrip(t *testing.T) {
	sessionKey := testKey(t)
	sessionID := bytes.Repeat([]byte{0x09}, resourceid.SessionIDSize)

	type transparent struct {
		version   byte
		encrypt   func(clear []byte) (Record, error)
		serialize func(Record) ([]byte, error)
	}
	formats := []transparent{
		{
			version:   Version9,
			encrypt:   func(clear []byte) (Record, error) { return V9{}.Encrypt(sessionKey, sessionID, clear) },
			serialize: func(r Record) ([]byte, error) { return V9{}.Serialize(r) },
		},
		{
			version: Version10,
			encrypt: func(clear []byte) (Record, error) {
				return V10{}.Encrypt(sessionKey, sessionID, clear, padding.Auto)
			},
			serialize: func(r Record) ([]byte, error) { return V10{}.Serialize(r) },
		},
	}

	mapper := keyFor(sessionID, sessionKey)
	for _, f := range formats {
		for _, size := range clearSizes {
			clear := bytes.Repeat([]byte{0x55}, size)
			record, err := f.encrypt(clear)
			if err != nil {
				t.Fatalf("v%d/%d: Encrypt: %v", f.version, size, err)
			}
			buf, err := f.serialize(record)
			if err != nil {
				t.Fatalf("v%d/%d: Serialize: %v", f.version, size, err)
			}

			got, err := DecryptSimple(context.Background(), mapper, buf)
			if err != nil {
				t.Fatalf("v%d/%d: DecryptSimple: %v", f.version, size, err)
			}
			if !bytes.Equal(got, clear) {
				t.Errorf("v%d/%d: round trip mismatch", f.version, size)
			}

			id, err := ExtractResourceID(buf)
			if err != nil {
				t.Fatalf("v%d/%d: ExtractResourceID: %v", f.version, size, err)
			}
			if !resourceid.IsComposite(id) {
				t.Fatalf("v%d/%d: id is not composite", f.version, size)
			}
			parsed, err := resourceid.UnserializeComposite(id)
			if err != nil {
				t.Fatalf("v%d/%d: UnserializeComposite: %v", f.version, size, err)
			}
			if !bytes.Equal(parsed.SessionID, sessionID) {
				t.Errorf("v%d/%d: composite id lost the session id", f.version, size)
			}
		}
	}
}

func TestTransparentSeedFallback(t *testing.T) {
	sessionKey := testKey(t)
	sessionID := bytes.Repeat([]byte{0x0A}, resourceid.SessionIDSize)
	clear := []byte("session payload")

	record, err := V10{}.Encrypt(sessionKey, sessionID, clear, padding.Auto)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	buf, err := V10{}.Serialize(record)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	// Register the derived per-message key under the seed, without the
	// session key being known.
	derived, err := resourceid.DeriveSessionKey(sessionKey, record.Seed)
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}
	mapper := keyFor(record.Seed, derived)

	got, err := DecryptSimple(context.Background(), mapper, buf)
	if err != nil {
		t.Fatalf("DecryptSimple: %v", err)
	}
	if !bytes.Equal(got, clear) {
		t.Fatal("fallback round trip mismatch")
	}
}

func TestExtract(t *testing.T) {
	if _, err := Extract(nil); !errdefs.IsInvalidArgument(err) {
		t.Errorf("empty buffer: want InvalidArgument, got %v", err)
	}
	if _, err := Extract([]byte{0x63, 1, 2, 3}); !errdefs.IsInvalidArgument(err) {
		t.Errorf("unknown version: want InvalidArgument, got %v", err)
	}
	if _, err := Extract([]byte{Version3, 1, 2}); !errdefs.IsDecryptionFailed(err) {
		t.Errorf("truncated buffer: want DecryptionFailed, got %v", err)
	}

	desc, err := Extract(append([]byte{Version3}, make([]byte, 64)...))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if desc.Version != Version3 || IsStreamFormat(desc) {
		t.Errorf("unexpected descriptor: %+v", desc)
	}

	chunked := append([]byte{Version8}, make([]byte, 128)...)
	desc, err = Extract(chunked)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !IsStreamFormat(desc) || !desc.Features.Padding {
		t.Errorf("v8 descriptor lost its features: %+v", desc)
	}
}

func TestDecryptSimpleRejectsStreamFormats(t *testing.T) {
	key := testKey(t)
	rid := bytes.Repeat([]byte{0x13}, resourceid.SimpleSize)
	chunk, err := V4{}.EncryptChunk(key, []byte("data"), rid, 256, 0)
	if err != nil {
		t.Fatalf("EncryptChunk: %v", err)
	}
	mapper := keyFor(rid, key)
	if _, err := DecryptSimple(context.Background(), mapper, chunk); !errdefs.IsInvalidArgument(err) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestDecryptSimpleUnknownKey(t *testing.T) {
	key := testKey(t)
	record, err := V3{}.Encrypt(key, []byte("data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	buf, err := V3{}.Serialize(record)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	mapper := func(ctx context.Context, rid []byte) ([]byte, error) { return nil, nil }
	if _, err := DecryptSimple(context.Background(), mapper, buf); !errdefs.IsInvalidArgument(err) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestPaddedSizesOnWire(t *testing.T) {
	key := testKey(t)
	for _, size := range clearSizes {
		clear := make([]byte, size)
		record, err := V6{}.Encrypt(key, clear, padding.Auto)
		if err != nil {
			t.Fatalf("Encrypt(%d): %v", size, err)
		}
		buf, err := V6{}.Serialize(record)
		if err != nil {
			t.Fatalf("Serialize(%d): %v", size, err)
		}
		want := V6{}.EncryptedSize(size, padding.Auto)
		if len(buf) != want {
			t.Errorf("size %d: wire %d bytes, want %d", size, len(buf), want)
		}
	}
}
