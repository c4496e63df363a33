package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "megabuddies/pkg/logx"
)

// Manager holds the live configuration and reloads it when the file changes.
// Subscribers get the new snapshot; a reload that fails to parse keeps the
// previous config in place.
type Manager struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cur      *Config
	onReload []func(cfg *Config)
}

func NewManager(path string, log logx.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, log: log, cur: cfg}, nil
}

// Current returns the live snapshot. Callers must not mutate it.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// OnReload registers a callback invoked after every successful reload.
// Register before Watch starts.
func (m *Manager) OnReload(fn func(cfg *Config)) {
	m.mu.Lock()
	m.onReload = append(m.onReload, fn)
	m.mu.Unlock()
}

// Watch blocks until ctx is done, reloading the file on changes. Editors
// often replace the file, so the parent directory is watched and events are
// debounced.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", logx.Err(err))
		case <-timerC:
			timer = nil
			timerC = nil
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.log.Warn("config reload failed; keeping previous config", logx.Err(err))
		return
	}

	m.mu.Lock()
	m.cur = cfg
	callbacks := append([]func(*Config){}, m.onReload...)
	m.mu.Unlock()

	m.log.Info("config reloaded", logx.String("path", m.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
