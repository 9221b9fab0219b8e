package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return newMetricsWithRegistry(prometheus.NewRegistry())
}

func TestRecordOperation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordOperation("encrypt", 6, 10*time.Millisecond, 1024)
	m.RecordOperation("encrypt", 6, 5*time.Millisecond, 512)
	m.RecordOperation("decrypt", 8, 1*time.Millisecond, 2048)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.cryptoOperations.WithLabelValues("encrypt", "6")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cryptoOperations.WithLabelValues("decrypt", "8")))
	assert.Equal(t, float64(1536), testutil.ToFloat64(m.cryptoBytes.WithLabelValues("encrypt")))
	assert.Equal(t, float64(2048), testutil.ToFloat64(m.cryptoBytes.WithLabelValues("decrypt")))
}

func TestRecordErrorClassification(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError("decrypt", errdefs.InvalidArgument("bad input"))
	m.RecordError("decrypt", errdefs.DecryptionFailed("bad MAC"))
	m.RecordError("decrypt", errdefs.DecryptionFailed("truncated"))
	m.RecordError("encrypt", errors.New("disk on fire"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.cryptoErrors.WithLabelValues("decrypt", "invalid_argument")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.cryptoErrors.WithLabelValues("decrypt", "decryption_failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cryptoErrors.WithLabelValues("encrypt", "internal")))
}

func TestActiveStreamsGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted("encrypt")
	m.StreamStarted("encrypt")
	m.StreamStarted("decrypt")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.activeStreams.WithLabelValues("encrypt")))

	m.StreamFinished("encrypt")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeStreams.WithLabelValues("encrypt")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeStreams.WithLabelValues("decrypt")))
}

func TestUpdateSystemMetrics(t *testing.T) {
	m := newTestMetrics(t)
	m.UpdateSystemMetrics()
	assert.Greater(t, testutil.ToFloat64(m.goroutines), float64(0))
	assert.Greater(t, testutil.ToFloat64(m.memoryAllocBytes), float64(0))
}

func TestHandler(t *testing.T) {
	m := newTestMetrics(t)
	require.NotNil(t, m.Handler())
}
