package e2ee

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/e2ee-encryption-engine/internal/aead"
	"github.com/kenneth/e2ee-encryption-engine/internal/config"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/format"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

func testEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	engine, err := New(append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return engine
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key, err := aead.Random(aead.KeySize)
	require.NoError(t, err)
	return key
}

// memoryKeyStore is the kind of mapper a real client supplies: a lookup
// into its local key material.
type memoryKeyStore map[string][]byte

func (s memoryKeyStore) mapper() KeyMapper {
	return func(ctx context.Context, resourceID []byte) ([]byte, error) {
		return s[string(resourceID)], nil
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	engine := testEngine(t)
	key := randomKey(t)
	store := memoryKeyStore{}

	for _, size := range []int{0, 1, 100, 100000} {
		clear := bytes.Repeat([]byte{0x37}, size)
		encrypted, err := engine.Encrypt(key, clear)
		require.NoError(t, err)
		require.Len(t, encrypted.ResourceID, resourceid.SimpleSize)
		assert.Equal(t, byte(format.Version6), encrypted.Ciphertext[0])

		store[string(encrypted.ResourceID)] = key
		got, err := engine.Decrypt(context.Background(), store.mapper(), encrypted.Ciphertext)
		require.NoError(t, err)
		assert.Equal(t, clear, got)
	}
}

func TestEncryptWithResourceID(t *testing.T) {
	key := randomKey(t)
	rid := bytes.Repeat([]byte{0x44}, resourceid.SimpleSize)
	clear := []byte("known id ahead of time")
	store := memoryKeyStore{string(rid): key}

	t.Run("padded", func(t *testing.T) {
		engine := testEngine(t)
		encrypted, err := engine.EncryptWithResourceID(key, clear, rid)
		require.NoError(t, err)
		assert.Equal(t, byte(format.Version7), encrypted.Ciphertext[0])
		assert.Equal(t, rid, encrypted.ResourceID)

		got, err := engine.Decrypt(context.Background(), store.mapper(), encrypted.Ciphertext)
		require.NoError(t, err)
		assert.Equal(t, clear, got)
	})

	t.Run("padding off", func(t *testing.T) {
		engine := testEngine(t, WithPadding(padding.Off))
		encrypted, err := engine.EncryptWithResourceID(key, clear, rid)
		require.NoError(t, err)
		assert.Equal(t, byte(format.Version5), encrypted.Ciphertext[0])

		got, err := engine.Decrypt(context.Background(), store.mapper(), encrypted.Ciphertext)
		require.NoError(t, err)
		assert.Equal(t, clear, got)
	})
}

func TestSessionEncrypt(t *testing.T) {
	engine := testEngine(t)
	sessionKey := randomKey(t)
	sessionID := bytes.Repeat([]byte{0x45}, resourceid.SessionIDSize)
	clear := []byte("session message")
	store := memoryKeyStore{string(sessionID): sessionKey}

	encrypted, err := engine.SessionEncrypt(sessionKey, sessionID, clear)
	require.NoError(t, err)
	assert.Equal(t, byte(format.Version10), encrypted.Ciphertext[0])
	require.True(t, resourceid.IsComposite(encrypted.ResourceID))

	// Only the session key is registered; the per-message key is derived.
	got, err := engine.Decrypt(context.Background(), store.mapper(), encrypted.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, clear, got)

	// Two messages in one session share the session id but not the seed.
	second, err := engine.SessionEncrypt(sessionKey, sessionID, clear)
	require.NoError(t, err)
	assert.NotEqual(t, encrypted.ResourceID, second.ResourceID)
}

func TestStreamRoundTrip(t *testing.T) {
	key := randomKey(t)
	rid := bytes.Repeat([]byte{0x46}, resourceid.SimpleSize)
	data := bytes.Repeat([]byte("streaming payload "), 1000)
	store := memoryKeyStore{string(rid): key}

	t.Run("padded v8", func(t *testing.T) {
		engine := testEngine(t, WithChunkSize(4096))
		s, err := engine.NewEncryptStream(key, rid, bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, rid, s.ResourceID())

		encrypted, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, byte(format.Version8), encrypted[0])

		ds, err := engine.NewDecryptStream(context.Background(), store.mapper(), bytes.NewReader(encrypted))
		require.NoError(t, err)
		assert.Equal(t, rid, ds.ResourceID())
		got, err := io.ReadAll(ds)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("unpadded v4", func(t *testing.T) {
		engine := testEngine(t, WithChunkSize(4096), WithPadding(padding.Off))
		s, err := engine.NewEncryptStream(key, rid, bytes.NewReader(data))
		require.NoError(t, err)

		encrypted, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, byte(format.Version4), encrypted[0])

		got, err := engine.Decrypt(context.Background(), store.mapper(), encrypted)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})
}

func TestSessionStreamRoundTrip(t *testing.T) {
	engine := testEngine(t, WithChunkSize(1024))
	sessionKey := randomKey(t)
	sessionID := bytes.Repeat([]byte{0x47}, resourceid.SessionIDSize)
	data := bytes.Repeat([]byte("transparent stream "), 500)
	store := memoryKeyStore{string(sessionID): sessionKey}

	s, err := engine.NewSessionEncryptStream(sessionKey, sessionID, bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, resourceid.IsComposite(s.ResourceID()))

	encrypted, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, byte(format.Version11), encrypted[0])

	got, err := engine.Decrypt(context.Background(), store.mapper(), encrypted)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecryptWholeBufferOfStreamFormat(t *testing.T) {
	engine := testEngine(t, WithChunkSize(512))
	key := randomKey(t)
	rid := bytes.Repeat([]byte{0x48}, resourceid.SimpleSize)
	data := bytes.Repeat([]byte{0xEE}, 2000)
	store := memoryKeyStore{string(rid): key}

	s, err := engine.NewEncryptStream(key, rid, bytes.NewReader(data))
	require.NoError(t, err)
	encrypted, err := io.ReadAll(s)
	require.NoError(t, err)

	got, err := engine.Decrypt(context.Background(), store.mapper(), encrypted)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestExtractResourceID(t *testing.T) {
	engine := testEngine(t)
	key := randomKey(t)

	encrypted, err := engine.Encrypt(key, []byte("some data"))
	require.NoError(t, err)

	id, err := engine.ExtractResourceID(encrypted.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, encrypted.ResourceID, id)

	_, err = engine.ExtractResourceID(nil)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestDecryptErrors(t *testing.T) {
	engine := testEngine(t)
	key := randomKey(t)
	store := memoryKeyStore{}

	encrypted, err := engine.Encrypt(key, []byte("payload"))
	require.NoError(t, err)

	t.Run("unknown resource id", func(t *testing.T) {
		_, err := engine.Decrypt(context.Background(), store.mapper(), encrypted.Ciphertext)
		assert.True(t, errdefs.IsInvalidArgument(err))
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		store[string(encrypted.ResourceID)] = key
		tampered := bytes.Clone(encrypted.Ciphertext)
		tampered[1] ^= 0x01
		_, err := engine.Decrypt(context.Background(), store.mapper(), tampered)
		assert.True(t, errdefs.IsDecryptionFailed(err) || errdefs.IsInvalidArgument(err))
	})

	t.Run("empty buffer", func(t *testing.T) {
		_, err := engine.Decrypt(context.Background(), store.mapper(), nil)
		assert.True(t, errdefs.IsInvalidArgument(err))
	})
}

func TestWithConfig(t *testing.T) {
	cfg := &config.Config{
		LogLevel:  "debug",
		LogFormat: "text",
		Encryption: config.EncryptionConfig{
			ChunkSize: 65536,
			Padding:   "off",
		},
	}
	engine, err := New(WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, 65536, engine.chunkSize)
	assert.True(t, engine.policy.IsOff())

	bad := &config.Config{
		LogLevel:   "info",
		Encryption: config.EncryptionConfig{ChunkSize: 1 << 20, Padding: "nonsense"},
	}
	_, err = New(WithConfig(bad))
	assert.Error(t, err)
}

func TestNewCachingKeyMapper(t *testing.T) {
	engine := testEngine(t)
	key := randomKey(t)
	store := memoryKeyStore{}

	encrypted, err := engine.Encrypt(key, []byte("cached lookups"))
	require.NoError(t, err)
	store[string(encrypted.ResourceID)] = key

	calls := 0
	counting := func(ctx context.Context, id []byte) ([]byte, error) {
		calls++
		return store.mapper()(ctx, id)
	}
	cached := NewCachingKeyMapper(counting, time.Minute, 16)

	for i := 0; i < 3; i++ {
		got, err := engine.Decrypt(context.Background(), cached, encrypted.Ciphertext)
		require.NoError(t, err)
		assert.Equal(t, []byte("cached lookups"), got)
	}
	assert.Equal(t, 1, calls)
}

func TestWithChunkSizeValidation(t *testing.T) {
	_, err := New(WithChunkSize(-1))
	assert.True(t, errdefs.IsInvalidArgument(err))
}
