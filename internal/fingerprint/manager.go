package fingerprint

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// How long a changed file gets to settle before it is re-read. Editors and
// config pushers write in bursts; one read after the burst is enough.
const reloadSettleDelay = 150 * time.Millisecond

// ReloadStats describes the manager's reload history.
type ReloadStats struct {
	Source      string    `json:"source"` // "embedded" or "external"
	ReloadCount int64     `json:"reloadCount"`
	LastReload  time.Time `json:"lastReload,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Manager serves the allowlists the generator draws from. The compiled-in
// pools are always the base; an external YAML file, when configured, acts as
// an overlay: any pool it sets replaces the embedded one, any pool it leaves
// empty falls through. With hot reload enabled the overlay file's parent
// directory is watched, so atomic-rename writes (the common way config is
// pushed) are picked up as reliably as in-place edits.
//
// Generate runs on every acquisition, so reads are a single atomic pointer
// load; all reload work happens off that path.
type Manager struct {
	path    string
	current atomic.Pointer[Allowlists]

	mu       sync.Mutex // serializes reloads and guards the fields below
	lastSum  [sha256.Size]byte
	reloads  int64
	lastLoad time.Time
	lastErr  error

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	watchDone chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager. With an empty externalPath only the embedded
// allowlists are served. With hotReload set, changes to the file apply at
// runtime; a broken file never displaces the lists already in use.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		path:   externalPath,
		stopCh: make(chan struct{}),
	}
	m.current.Store(Get())

	if externalPath == "" {
		return m, nil
	}

	if err := m.Reload(); err != nil {
		log.Warn().
			Err(err).
			Str("path", externalPath).
			Msg("External fingerprint allowlists unavailable, serving embedded defaults")
	}

	if hotReload {
		if err := m.startWatching(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Fingerprint hot-reload unavailable")
		} else {
			log.Info().
				Str("path", externalPath).
				Msg("Hot-reload enabled for fingerprint allowlists")
		}
	}

	return m, nil
}

// Get returns the current allowlists. Lock-free; safe for concurrent use.
func (m *Manager) Get() *Allowlists {
	return m.current.Load()
}

// Reload re-reads the overlay file and swaps in the resolved allowlists.
// Unchanged file content is a no-op. On any failure the previous allowlists
// stay in service and the error is recorded.
func (m *Manager) Reload() error {
	if m.path == "" {
		return errors.New("no external fingerprints path configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		m.lastErr = err
		return fmt.Errorf("failed to read fingerprints file: %w", err)
	}

	sum := sha256.Sum256(data)
	if sum == m.lastSum {
		log.Debug().Str("path", m.path).Msg("Fingerprints file unchanged, skipping reload")
		return nil
	}

	resolved, err := resolveOverlay(Get(), data)
	if err != nil {
		m.lastErr = err
		return err
	}

	m.current.Store(resolved)
	m.lastSum = sum
	m.reloads++
	m.lastLoad = time.Now()
	m.lastErr = nil

	log.Info().
		Int64("reload_count", m.reloads).
		Int("user_agents", len(resolved.UserAgents)).
		Int("viewports", len(resolved.Viewports)).
		Int("webgl", len(resolved.WebGL)).
		Msg("Fingerprint allowlists loaded")

	return nil
}

// resolveOverlay parses overlay YAML and lays it over the base pools.
func resolveOverlay(base *Allowlists, data []byte) (*Allowlists, error) {
	var overlay Allowlists
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse fingerprints file: %w", err)
	}

	resolved := &Allowlists{
		UserAgents: pick(overlay.UserAgents, base.UserAgents),
		Viewports:  pick(overlay.Viewports, base.Viewports),
		Locales:    pick(overlay.Locales, base.Locales),
		Timezones:  pick(overlay.Timezones, base.Timezones),
		WebGL:      pick(overlay.WebGL, base.WebGL),
	}
	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fingerprints file: %w", err)
	}
	return resolved, nil
}

// pick returns the overlay pool when it sets one, the base pool otherwise.
func pick[T any](overlay, base []T) []T {
	if len(overlay) > 0 {
		return overlay
	}
	return base
}

// Stats returns the reload history.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := ReloadStats{
		Source:      "embedded",
		ReloadCount: m.reloads,
		LastReload:  m.lastLoad,
	}
	if m.reloads > 0 {
		s.Source = "external"
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Close stops the watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		if m.watcher != nil {
			err = m.watcher.Close()
			<-m.watchDone
		}
	})
	return err
}

// startWatching watches the overlay file's parent directory. Watching the
// directory rather than the file survives the rename-over-the-top writes
// that would otherwise silently detach a file watch.
func (m *Manager) startWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	m.watcher = watcher
	m.watchDone = make(chan struct{})
	go m.watchLoop()

	return nil
}

// watchLoop reacts to changes of the overlay file. A matching event starts a
// settle window during which further events are drained, then the file is
// re-read once; the content hash in Reload makes spurious wakeups free.
func (m *Manager) watchLoop() {
	defer close(m.watchDone)

	target := filepath.Base(m.path)
	for {
		select {
		case <-m.stopCh:
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !m.settle() {
				return
			}
			if err := m.Reload(); err != nil {
				log.Warn().
					Err(err).
					Str("path", m.path).
					Msg("Fingerprint reload failed, previous allowlists stay in service")
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Fingerprint file watcher error")
		}
	}
}

// settle waits out the current write burst, discarding the events it
// produces. Returns false when the manager is closing.
func (m *Manager) settle() bool {
	timer := time.NewTimer(reloadSettleDelay)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return false
		case _, ok := <-m.watcher.Events:
			if !ok {
				return false
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return false
			}
			log.Warn().Err(err).Msg("Fingerprint file watcher error")
		case <-timer.C:
			return true
		}
	}
}
