package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/leonardotrapani/whisperbridge/internal/logging"
)

// Manager holds the live configuration and reloads it when the file changes.
// Sessions take a snapshot at start; only the log level changes in place.
type Manager struct {
	mu       sync.RWMutex
	path     string
	config   *Config
	watcher  *fsnotify.Watcher
	wg       sync.WaitGroup
	onReload func(*Config)
}

func NewManager(path string) (*Manager, error) {
	log.Debug().Msg("Config manager: initializing configuration system")

	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	config, err := Load(path)
	if err != nil {
		log.Error().Err(err).Msg("Config manager: failed to load initial configuration")
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		path:   path,
		config: config,
		onReload: func(c *Config) {
			logging.SetLevel(c.Logging.Level)
		},
	}

	log.Debug().Str("path", path).Msg("Config manager: initialization completed")
	return m, nil
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent external modification
	configCopy := *m.config
	return &configCopy
}

// OnReload replaces the hook run after a successful reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = fn
}

func (m *Manager) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	m.watcher = watcher

	// watch the directory so editors that replace the file are seen
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}

	m.wg.Add(1)
	go m.watchLoop(ctx)

	log.Info().Str("path", m.path).Msg("Config manager: watching for changes")
	return nil
}

func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	configFileName := filepath.Base(m.path)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != configFileName {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				log.Info().Str("file", event.Name).Msg("Config manager: file change detected, reloading")
				m.reload()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")

		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reload() bool {
	newConfig, err := LoadFile(m.path)
	if err != nil {
		log.Warn().Err(err).Msg("Config manager: failed to reload config")
		return false
	}

	if err := newConfig.Validate(); err != nil {
		log.Warn().Err(err).Msg("Config manager: invalid config after reload, keeping previous")
		return false
	}

	m.mu.Lock()
	m.config = newConfig
	hook := m.onReload
	m.mu.Unlock()

	if hook != nil {
		hook(newConfig)
	}

	log.Info().Str("level", newConfig.Logging.Level).Msg("Config manager: configuration reloaded")
	return true
}
