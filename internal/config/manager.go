package config

import (
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"

	"musterd/pkg/logging"
)

// Diff describes which top-level sections changed between two Configs.
type Diff struct {
	Timeouts   bool
	Limits     bool
	Thresholds bool
	Policies   bool
	Endpoints  bool
}

// Any reports whether any section changed.
func (d Diff) Any() bool {
	return d.Timeouts || d.Limits || d.Thresholds || d.Policies || d.Endpoints
}

func computeDiff(old, next Config) Diff {
	return Diff{
		Timeouts:   !reflect.DeepEqual(old.Timeouts, next.Timeouts),
		Limits:     !reflect.DeepEqual(old.Limits, next.Limits),
		Thresholds: !reflect.DeepEqual(old.Thresholds, next.Thresholds),
		Policies:   !reflect.DeepEqual(old.Policies, next.Policies),
		Endpoints:  !reflect.DeepEqual(old.Endpoints, next.Endpoints),
	}
}

// ChangeHandler is invoked after a successful hot reload with the new
// config and a description of what changed. It must not block for long.
type ChangeHandler func(cfg Config, diff Diff)

// Manager loads a config file once and watches it for changes, re-reading
// and diffing on every write without requiring the caller to restart any
// supervised children (spec §6: "Hot reload re-reads the file and applies
// diffs without restarting children").
type Manager struct {
	mu       sync.RWMutex
	path     string
	current  Config
	watcher  *fsnotify.Watcher
	handlers []ChangeHandler
	stopCh   chan struct{}
}

// NewManager loads path and returns a Manager ready to watch it.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:    path,
		current: cfg,
		stopCh:  make(chan struct{}),
	}, nil
}

// Current returns the most recently applied configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a callback fired after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Watch starts watching the config file's directory for changes. It is
// idempotent; calling it twice is a no-op.
func (m *Manager) Watch() error {
	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.watcher = watcher
	m.mu.Unlock()

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	go m.loop()
	return nil
}

func (m *Manager) loop() {
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("config", "watcher error: %v", err)
		}
	}
}

func (m *Manager) reload() {
	next, err := Load(m.path)
	if err != nil {
		logging.Error("config", err, "hot reload failed, keeping previous configuration")
		return
	}

	m.mu.Lock()
	old := m.current
	diff := computeDiff(old, next)
	m.current = next
	handlers := append([]ChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	if !diff.Any() {
		return
	}
	logging.Info("config", "configuration reloaded from %s", m.path)
	for _, h := range handlers {
		h(next, diff)
	}
}

// Stop stops watching the config file.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return
	}
	close(m.stopCh)
	m.watcher.Close()
	m.watcher = nil
}
