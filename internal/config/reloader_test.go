package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestNewConfigReloader(t *testing.T) {
	cfg := &Config{LogLevel: "info"}

	// SIGHUP-only reloader, no file watching.
	reloader, err := NewConfigReloader("", cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, reloader)
	reloader.Stop()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log_level: info\n"), 0644))

	reloader, err = NewConfigReloader(configPath, cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, reloader)
	reloader.Stop()
}

func TestConfigReloaderFileWatching(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initialYAML := `log_level: info
encryption:
  chunk_size: 1048576
  padding: auto
`
	require.NoError(t, os.WriteFile(configPath, []byte(initialYAML), 0644))

	initialConfig, err := LoadConfig(configPath)
	require.NoError(t, err)

	reloader, err := NewConfigReloader(configPath, initialConfig, quietLogger())
	require.NoError(t, err)
	defer reloader.Stop()

	var callbackCalled int64
	var firstOld, firstNew *Config
	reloader.SetOnReloadCallback(func(old, new *Config) error {
		if atomic.AddInt64(&callbackCalled, 1) == 1 {
			firstOld = old
			firstNew = new
		}
		return nil
	})

	go reloader.Start()
	time.Sleep(100 * time.Millisecond)

	// Safe change: only the log level moves.
	updatedYAML := `log_level: debug
encryption:
  chunk_size: 1048576
  padding: auto
`
	require.NoError(t, os.WriteFile(configPath, []byte(updatedYAML), 0644))
	time.Sleep(300 * time.Millisecond)

	require.GreaterOrEqual(t, atomic.LoadInt64(&callbackCalled), int64(1))
	require.NotNil(t, firstOld)
	require.NotNil(t, firstNew)
	assert.Equal(t, "info", firstOld.LogLevel)
	assert.Equal(t, "debug", firstNew.LogLevel)
	assert.Equal(t, "debug", reloader.GetCurrentConfig().LogLevel)
}

func TestConfigReloaderRejectsCryptoChanges(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initialYAML := `log_level: info
encryption:
  chunk_size: 1048576
  padding: auto
`
	require.NoError(t, os.WriteFile(configPath, []byte(initialYAML), 0644))

	initialConfig, err := LoadConfig(configPath)
	require.NoError(t, err)

	reloader, err := NewConfigReloader(configPath, initialConfig, quietLogger())
	require.NoError(t, err)
	defer reloader.Stop()

	go reloader.Start()
	time.Sleep(100 * time.Millisecond)

	// Unsafe change: the chunk size moves, which in-flight streams depend
	// on. The reload must be rejected and the old value kept.
	updatedYAML := `log_level: info
encryption:
  chunk_size: 65536
  padding: auto
`
	require.NoError(t, os.WriteFile(configPath, []byte(updatedYAML), 0644))
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, 1048576, reloader.GetCurrentConfig().Encryption.ChunkSize)
}

func TestConfigReloaderSIGHUP(t *testing.T) {
	initialConfig := &Config{
		LogLevel:   "info",
		Encryption: EncryptionConfig{ChunkSize: 1024 * 1024, Padding: "auto"},
	}
	reloader, err := NewConfigReloader("", initialConfig, quietLogger())
	require.NoError(t, err)
	defer reloader.Stop()

	go reloader.Start()
	time.Sleep(100 * time.Millisecond)

	process, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, process.Signal(syscall.SIGHUP))
	time.Sleep(200 * time.Millisecond)

	// The signal must be handled without panic; with no config path the
	// reload falls back to defaults, which differ only in safe fields.
	assert.Equal(t, 1024*1024, reloader.GetCurrentConfig().Encryption.ChunkSize)
}

func TestValidateReloadSafety(t *testing.T) {
	reloader, err := NewConfigReloader("", &Config{}, quietLogger())
	require.NoError(t, err)
	defer reloader.Stop()

	tests := []struct {
		name      string
		oldConfig *Config
		newConfig *Config
		wantErr   string
	}{
		{
			name:      "safe changes allowed",
			oldConfig: &Config{LogLevel: "info", LogFormat: "json"},
			newConfig: &Config{LogLevel: "debug", LogFormat: "text"},
		},
		{
			name:      "chunk size change rejected",
			oldConfig: &Config{Encryption: EncryptionConfig{ChunkSize: 1 << 20}},
			newConfig: &Config{Encryption: EncryptionConfig{ChunkSize: 1 << 16}},
			wantErr:   "encryption.chunk_size cannot be changed during hot reload",
		},
		{
			name:      "padding change rejected",
			oldConfig: &Config{Encryption: EncryptionConfig{Padding: "auto"}},
			newConfig: &Config{Encryption: EncryptionConfig{Padding: "off"}},
			wantErr:   "encryption.padding cannot be changed during hot reload",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reloader.validateReloadSafety(tt.oldConfig, tt.newConfig)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGetCurrentConfig(t *testing.T) {
	reloader, err := NewConfigReloader("", &Config{LogLevel: "info"}, quietLogger())
	require.NoError(t, err)
	defer reloader.Stop()

	current := reloader.GetCurrentConfig()
	assert.Equal(t, "info", current.LogLevel)

	// The returned copy must not alias internal state.
	current.LogLevel = "debug"
	assert.Equal(t, "info", reloader.GetCurrentConfig().LogLevel)
}
