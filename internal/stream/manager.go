// Package stream tracks the concurrently running session pipelines,
// providing register/remove/snapshot operations used by the replay
// driver and the debug API.
package stream

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/zsiec/lumen/internal/stats"
)

// Session is the per-session surface the registry needs. The pipeline
// type implements it; accepting an interface keeps the registry usable
// with stubs in tests.
type Session interface {
	Name() string
	Snapshot() stats.SessionSnapshot
	Close() error
}

// Manager is a registry of running sessions keyed by name.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewManager creates an empty registry. If log is nil, slog.Default()
// is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		sessions: make(map[string]Session),
	}
}

// Register adds a session under its name. Returns false if a session
// with this name already exists.
func (m *Manager) Register(s Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := s.Name()
	if _, ok := m.sessions[name]; ok {
		m.log.Warn("session already exists, rejecting duplicate", "name", name)
		return false
	}
	m.sessions[name] = s
	m.log.Info("session registered", "name", name)
	return true
}

// Remove unregisters a session. The caller keeps ownership of the
// session's lifecycle; removing does not close it.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	_, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()

	if ok {
		m.log.Info("session removed", "name", name)
	}
	return ok
}

// Get returns the named session.
func (m *Manager) Get(name string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Snapshots returns a point-in-time snapshot of every registered
// session, sorted by name so API responses and scrapes are stable.
func (m *Manager) Snapshots() []stats.SessionSnapshot {
	m.mu.RLock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	// Snapshot outside the lock; a session gathering its counters must
	// not block Register or Remove.
	snaps := make([]stats.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Session < snaps[j].Session })
	return snaps
}

// CloseAll closes every registered session and empties the registry.
// Close failures are logged, not returned; shutdown keeps going.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			m.log.Error("session close failed", "name", s.Name(), "error", err)
		}
	}
	if len(sessions) > 0 {
		m.log.Info("all sessions closed", "count", len(sessions))
	}
}
