// Package e2ee is the encryption engine facade: versioned whole-buffer and
// streaming encryption over a single AEAD primitive, with key resolution
// through a caller-supplied resource id mapper.
//
// Whole-buffer encryption produces the padded transparent formats by
// default; streaming encryption produces the chunked formats. Decryption
// dispatches on the leading version tag and accepts every format the
// engine ever wrote.
package e2ee

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/e2ee-encryption-engine/internal/config"
	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
	"github.com/kenneth/e2ee-encryption-engine/internal/format"
	"github.com/kenneth/e2ee-encryption-engine/internal/keycache"
	"github.com/kenneth/e2ee-encryption-engine/internal/metrics"
	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
	"github.com/kenneth/e2ee-encryption-engine/internal/streaming"
)

// KeyMapper resolves a resource id (or session id) to its 32-byte key.
// Returning (nil, nil) means the id is unknown.
type KeyMapper = resourceid.KeyMapper

// Encrypted is the result of a whole-buffer encryption.
type Encrypted struct {
	// Ciphertext is the complete serialized buffer, version tag included.
	Ciphertext []byte

	// ResourceID identifies the key needed to decrypt Ciphertext: 16 bytes
	// for the MAC-derived and fixed families, 33 for the composite one.
	ResourceID []byte
}

// Engine is the encryption engine. The zero value is not usable; construct
// it with New.
type Engine struct {
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	chunkSize int
	policy    padding.Policy
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger replaces the default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithChunkSize sets the encrypted chunk size of the streaming formats.
func WithChunkSize(size int) Option {
	return func(e *Engine) error {
		if size <= 0 {
			return errdefs.InvalidArgument("chunk size must be positive, got %d", size)
		}
		e.chunkSize = size
		return nil
	}
}

// WithPadding sets the length-padding policy.
func WithPadding(policy padding.Policy) Option {
	return func(e *Engine) error {
		e.policy = policy
		return nil
	}
}

// WithConfig applies a loaded configuration: chunk size, padding policy,
// and the log level and format of the engine's logger.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) error {
		policy, err := cfg.Encryption.PaddingPolicy()
		if err != nil {
			return errdefs.InvalidArgumentWrap(err, "invalid padding configuration")
		}
		e.policy = policy
		e.chunkSize = cfg.Encryption.ChunkSize

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return errdefs.InvalidArgumentWrap(err, "invalid log level")
		}
		e.logger.SetLevel(level)
		if cfg.LogFormat == "text" {
			e.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			e.logger.SetFormatter(&logrus.JSONFormatter{})
		}
		if cfg.Metrics.Enabled && e.metrics == nil {
			e.metrics = metrics.NewMetrics()
		}
		return nil
	}
}

// New builds an Engine. Defaults: JSON logging at info level, auto
// padding, 1 MiB chunks, no metrics.
func New(opts ...Option) (*Engine, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	e := &Engine{
		logger:    logger,
		chunkSize: streaming.DefaultEncryptedChunkSize,
		policy:    padding.Auto,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Encrypt encrypts clear under key. The resource id is derived from the
// MAC, so the ciphertext must exist before the id can be registered with a
// key store.
func (e *Engine) Encrypt(key, clear []byte) (Encrypted, error) {
	start := time.Now()
	var v6 format.V6
	record, err := v6.Encrypt(key, clear, e.policy)
	if err != nil {
		return Encrypted{}, e.fail("encrypt", err)
	}
	buf, err := v6.Serialize(record)
	if err != nil {
		return Encrypted{}, e.fail("encrypt", err)
	}
	e.done("encrypt", format.Version6, start, len(clear))
	return Encrypted{Ciphertext: buf, ResourceID: record.ResourceID}, nil
}

// EncryptWithResourceID encrypts clear under key with a caller-chosen
// 16-byte resource id, for flows where the id must exist before the data
// does. Padded unless the policy is off.
func (e *Engine) EncryptWithResourceID(key, clear, resourceID []byte) (Encrypted, error) {
	start := time.Now()
	if e.policy.IsOff() {
		var v5 format.V5
		record, err := v5.Encrypt(key, clear, resourceID)
		if err != nil {
			return Encrypted{}, e.fail("encrypt", err)
		}
		buf, err := v5.Serialize(record)
		if err != nil {
			return Encrypted{}, e.fail("encrypt", err)
		}
		e.done("encrypt", format.Version5, start, len(clear))
		return Encrypted{Ciphertext: buf, ResourceID: record.ResourceID}, nil
	}

	var v7 format.V7
	record, err := v7.Encrypt(key, clear, resourceID, e.policy)
	if err != nil {
		return Encrypted{}, e.fail("encrypt", err)
	}
	buf, err := v7.Serialize(record)
	if err != nil {
		return Encrypted{}, e.fail("encrypt", err)
	}
	e.done("encrypt", format.Version7, start, len(clear))
	return Encrypted{Ciphertext: buf, ResourceID: record.ResourceID}, nil
}

// SessionEncrypt encrypts clear under a session: a fresh seed is drawn,
// the resource key is derived from the session key and the seed, and the
// composite resource id (session id plus seed) is returned. Only the
// session key needs to be registered with the key store.
func (e *Engine) SessionEncrypt(sessionKey, sessionID, clear []byte) (Encrypted, error) {
	start := time.Now()
	var v10 format.V10
	record, err := v10.Encrypt(sessionKey, sessionID, clear, e.policy)
	if err != nil {
		return Encrypted{}, e.fail("encrypt", err)
	}
	buf, err := v10.Serialize(record)
	if err != nil {
		return Encrypted{}, e.fail("encrypt", err)
	}
	id, err := v10.ExtractResourceID(buf)
	if err != nil {
		return Encrypted{}, e.fail("encrypt", err)
	}
	e.done("encrypt", format.Version10, start, len(clear))
	return Encrypted{Ciphertext: buf, ResourceID: id}, nil
}

// EncryptStream is a running encryption stream. Read drains the encrypted
// bytes; production is demand-driven, so a slow reader applies
// backpressure to the source.
type EncryptStream struct {
	io.Reader
	resourceID []byte
}

// ResourceID identifies the key needed to decrypt the stream.
func (s *EncryptStream) ResourceID() []byte { return s.resourceID }

// NewEncryptStream encrypts source into the chunked format under key with
// a caller-chosen 16-byte resource id. Chunks are padded unless the policy
// is off.
func (e *Engine) NewEncryptStream(key, resourceID []byte, source io.Reader) (*EncryptStream, error) {
	var (
		reader  io.Reader
		version byte
		err     error
	)
	if e.policy.IsOff() {
		version = format.Version4
		reader, err = streaming.NewEncryptStreamV4(key, resourceID, source, e.chunkSize)
	} else {
		version = format.Version8
		reader, err = streaming.NewEncryptStreamV8(key, resourceID, source, e.chunkSize, e.policy)
	}
	if err != nil {
		return nil, e.fail("encrypt", err)
	}
	return &EncryptStream{
		Reader:     e.instrumentStream("encrypt", version, reader),
		resourceID: resourceID,
	}, nil
}

// NewSessionEncryptStream encrypts source into the chunked session format.
// The composite resource id is available immediately from the returned
// stream.
func (e *Engine) NewSessionEncryptStream(sessionKey, sessionID []byte, source io.Reader) (*EncryptStream, error) {
	s, err := streaming.NewEncryptStreamV11(sessionKey, sessionID, source, e.chunkSize, e.policy)
	if err != nil {
		return nil, e.fail("encrypt", err)
	}
	return &EncryptStream{
		Reader:     e.instrumentStream("encrypt", format.Version11, s),
		resourceID: s.ResourceID(),
	}, nil
}

// DecryptStream is a running decryption stream.
type DecryptStream struct {
	io.Reader
	resourceID []byte
}

// ResourceID is the resource id read from the stream's first header.
func (s *DecryptStream) ResourceID() []byte { return s.resourceID }

// NewDecryptStream decrypts a chunked ciphertext stream, resolving the key
// through mapper from the first header before any payload is read.
func (e *Engine) NewDecryptStream(ctx context.Context, mapper KeyMapper, source io.Reader) (*DecryptStream, error) {
	s, err := streaming.NewDecryptStream(ctx, mapper, source)
	if err != nil {
		return nil, e.fail("decrypt", err)
	}
	return &DecryptStream{
		Reader:     e.instrumentStream("decrypt", s.Version(), s),
		resourceID: s.ResourceID(),
	}, nil
}

// Decrypt decrypts a whole ciphertext buffer of any version, resolving the
// key through mapper. Chunked formats are decoded through an in-memory
// stream.
func (e *Engine) Decrypt(ctx context.Context, mapper KeyMapper, buf []byte) ([]byte, error) {
	start := time.Now()
	desc, err := format.Extract(buf)
	if err != nil {
		return nil, e.fail("decrypt", err)
	}

	if format.IsStreamFormat(desc) {
		s, err := streaming.NewDecryptStream(ctx, mapper, bytes.NewReader(buf))
		if err != nil {
			return nil, e.fail("decrypt", err)
		}
		clear, err := io.ReadAll(s)
		if err != nil {
			return nil, e.fail("decrypt", err)
		}
		e.done("decrypt", desc.Version, start, len(clear))
		return clear, nil
	}

	clear, err := format.DecryptSimple(ctx, mapper, buf)
	if err != nil {
		return nil, e.fail("decrypt", err)
	}
	e.done("decrypt", desc.Version, start, len(clear))
	return clear, nil
}

// ExtractResourceID reads the resource id out of a ciphertext prefix. A
// SafeExtractionLength prefix is always enough, except for the oldest
// format, whose id sits at the end of the buffer.
func (e *Engine) ExtractResourceID(buf []byte) ([]byte, error) {
	id, err := format.ExtractResourceID(buf)
	if err != nil {
		return nil, e.fail("extract", err)
	}
	return id, nil
}

// SafeExtractionLength is the ciphertext prefix length that guarantees
// ExtractResourceID can succeed for every format except the oldest one.
const SafeExtractionLength = format.SafeExtractionLength

// NewCachingKeyMapper wraps mapper with an in-memory TTL cache, for key
// stores where resolution crosses a process or network boundary. Negative
// lookups are never cached. Non-positive ttl or maxEntries select the
// package defaults (5 minutes, 1024 entries).
func NewCachingKeyMapper(mapper KeyMapper, ttl time.Duration, maxEntries int) KeyMapper {
	return keycache.New(mapper, ttl, maxEntries).Mapper()
}

// fail logs and counts a failed operation and returns the error unchanged.
func (e *Engine) fail(op string, err error) error {
	if e.metrics != nil {
		e.metrics.RecordError(op, err)
	}
	e.logger.WithError(err).WithField("operation", op).Warn("operation failed")
	return err
}

// done logs and counts a completed whole-buffer operation.
func (e *Engine) done(op string, version byte, start time.Time, clearBytes int) {
	if e.metrics != nil {
		e.metrics.RecordOperation(op, version, time.Since(start), int64(clearBytes))
	}
	e.logger.WithFields(logrus.Fields{
		"operation": op,
		"version":   version,
		"bytes":     clearBytes,
	}).Debug("operation completed")
}

// instrumentStream wraps a stream reader with gauge and error accounting.
func (e *Engine) instrumentStream(op string, version byte, r io.Reader) io.Reader {
	if e.metrics != nil {
		e.metrics.StreamStarted(op)
	}
	return &instrumentedStream{engine: e, op: op, version: version, inner: r, start: time.Now()}
}

// instrumentedStream tracks a stream until its first terminal Read result.
type instrumentedStream struct {
	engine  *Engine
	op      string
	version byte
	inner   io.Reader
	start   time.Time
	bytes   int64
	closed  bool
}

// Read implements io.Reader.
func (s *instrumentedStream) Read(p []byte) (int, error) {
	n, err := s.inner.Read(p)
	s.bytes += int64(n)
	if err != nil && !s.closed {
		s.closed = true
		e := s.engine
		if e.metrics != nil {
			e.metrics.StreamFinished(s.op)
		}
		if err == io.EOF {
			if e.metrics != nil {
				e.metrics.RecordOperation(s.op, s.version, time.Since(s.start), s.bytes)
			}
			e.logger.WithFields(logrus.Fields{
				"operation": s.op,
				"version":   s.version,
				"bytes":     s.bytes,
			}).Debug("stream completed")
		} else {
			if e.metrics != nil {
				e.metrics.RecordError(s.op, err)
			}
			e.logger.WithError(err).WithField("operation", s.op).Warn("stream failed")
		}
	}
	return n, err
}
