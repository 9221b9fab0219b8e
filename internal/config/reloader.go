package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ConfigReloader hot-reloads the configuration on file changes and SIGHUP.
// Only operationally safe fields may change at runtime; the encryption
// parameters are fixed for the process lifetime because in-flight streams
// depend on them.
type ConfigReloader struct {
	configPath string
	logger     *logrus.Logger

	mu      sync.RWMutex
	current *Config

	onReload func(old, new *Config) error

	watcher *fsnotify.Watcher
	sighup  chan os.Signal
	done    chan struct{}
	stopped sync.Once
}

// NewConfigReloader creates a reloader seeded with the current config. An
// empty configPath disables file watching; SIGHUP reloads still work when
// a path is set later via the signal handler's LoadConfig call.
func NewConfigReloader(configPath string, current *Config, logger *logrus.Logger) (*ConfigReloader, error) {
	r := &ConfigReloader{
		configPath: configPath,
		logger:     logger,
		current:    current,
		sighup:     make(chan os.Signal, 1),
		done:       make(chan struct{}),
	}

	if configPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		// Watch the directory, not the file: editors and orchestrators
		// replace config files by rename, which drops a file-level watch.
		if err := watcher.Add(filepath.Dir(configPath)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch config directory: %w", err)
		}
		r.watcher = watcher
	}

	signal.Notify(r.sighup, syscall.SIGHUP)
	return r, nil
}

// SetOnReloadCallback registers the callback invoked after a successful
// reload, with the old and new config.
func (r *ConfigReloader) SetOnReloadCallback(cb func(old, new *Config) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = cb
}

// GetCurrentConfig returns a copy of the current configuration.
func (r *ConfigReloader) GetCurrentConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	copied := *r.current
	return &copied
}

// Start runs the reload loop until Stop is called. It is meant to run in
// its own goroutine.
func (r *ConfigReloader) Start() {
	var events chan fsnotify.Event
	var errors chan error
	if r.watcher != nil {
		events = r.watcher.Events
		errors = r.watcher.Errors
	}

	for {
		select {
		case <-r.done:
			return
		case <-r.sighup:
			r.logger.Info("received SIGHUP, reloading configuration")
			r.reload()
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.WithField("event", event.Op.String()).Debug("config file changed, reloading")
			r.reload()
		case err, ok := <-errors:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("config watcher error")
		}
	}
}

// Stop shuts down the reload loop and releases the watcher.
func (r *ConfigReloader) Stop() {
	r.stopped.Do(func() {
		close(r.done)
		signal.Stop(r.sighup)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// reload loads, validates, and swaps in the new configuration.
func (r *ConfigReloader) reload() {
	newConfig, err := LoadConfig(r.configPath)
	if err != nil {
		r.logger.WithError(err).Error("config reload failed, keeping current configuration")
		return
	}

	r.mu.Lock()
	old := r.current
	cb := r.onReload
	r.mu.Unlock()

	if err := r.validateReloadSafety(old, newConfig); err != nil {
		r.logger.WithError(err).Error("config reload rejected, keeping current configuration")
		return
	}

	if cb != nil {
		if err := cb(old, newConfig); err != nil {
			r.logger.WithError(err).Error("config reload callback failed, keeping current configuration")
			return
		}
	}

	r.mu.Lock()
	r.current = newConfig
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"log_level": newConfig.LogLevel,
	}).Info("configuration reloaded")
}

// validateReloadSafety rejects runtime changes to fields that in-flight
// streams depend on.
func (r *ConfigReloader) validateReloadSafety(old, new *Config) error {
	if old.Encryption.ChunkSize != new.Encryption.ChunkSize {
		return fmt.Errorf("encryption.chunk_size cannot be changed during hot reload")
	}
	if old.Encryption.Padding != new.Encryption.Padding {
		return fmt.Errorf("encryption.padding cannot be changed during hot reload")
	}
	return nil
}
