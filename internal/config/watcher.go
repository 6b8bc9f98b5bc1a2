package config

import (
	"context"
	"os"
	"sync"
	"time"

	"wareply/internal/models"

	"github.com/sirupsen/logrus"
)

// Watcher watches the configuration file and reloads it on change, so
// operators can flip AI/auto-reply flags or business hours without a
// restart. Consumers call Snapshot at point of use rather than caching.
type Watcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

// NewWatcher creates a new configuration watcher
func NewWatcher(configPath string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		configPath: configPath,
		interval:   5 * time.Second,
		logger:     logger,
	}
}

// NewStaticWatcher wraps an already-loaded config without file polling.
// Used in tests and for collaborators that only need Snapshot.
func NewStaticWatcher(cfg *models.Config) *Watcher {
	return &Watcher{config: cfg, logger: logrus.New()}
}

// Prime seeds the watcher with an already-loaded configuration so
// snapshots are available before Start finishes its first load.
func (w *Watcher) Prime(cfg *models.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
}

// Start loads the initial configuration and begins polling for changes.
// It blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	config, err := LoadConfig(w.configPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.config = config
	w.mu.Unlock()

	stat, err := os.Stat(w.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	w.logger.WithField("path", w.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopping")
			return nil
		case <-ticker.C:
			stat, err := os.Stat(w.configPath)
			if err != nil {
				w.logger.WithError(err).Warn("Failed to stat config file")
				continue
			}
			if !stat.ModTime().After(lastModTime) {
				continue
			}
			lastModTime = stat.ModTime()

			reloaded, err := LoadConfig(w.configPath)
			if err != nil {
				w.logger.WithError(err).Error("Failed to reload config, keeping previous")
				continue
			}

			w.mu.Lock()
			w.config = reloaded
			callbacks := make([]func(*models.Config), len(w.callbacks))
			copy(callbacks, w.callbacks)
			w.mu.Unlock()

			w.logger.Info("Configuration reloaded")
			for _, cb := range callbacks {
				cb(reloaded)
			}
		}
	}
}

// Snapshot returns the current configuration. The returned pointer must
// be treated as read-only.
func (w *Watcher) Snapshot() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnReload registers a callback invoked after each successful reload
func (w *Watcher) OnReload(cb func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}
