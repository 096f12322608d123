// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package session

import (
	"sync"
	"time"
)

// tracked pairs a session value with the concurrency state the engine
// needs around it.
type tracked struct {
	sess  Session
	epoch uint64

	// procMu serializes submission processing for this identity so
	// verification work, including store I/O, runs outside the manager
	// lock while later submissions wait their turn.
	procMu sync.Mutex
}

// Manager tracks live sessions keyed by identity. Every session carries
// an epoch that increments whenever the identity's session is created or
// destroyed; asynchronous completions apply only when their captured
// epoch is still current, so work started for a dead session can never
// touch its successor.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*tracked
	epochs   map[string]uint64
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*tracked),
		epochs:   make(map[string]uint64),
	}
}

// Begin creates a fresh session for the identity, forcibly replacing any
// stale one. It returns the new session's epoch and whether an earlier
// session was displaced.
func (m *Manager) Begin(key, location string, now time.Time) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, replaced := m.sessions[key]
	m.epochs[key]++
	epoch := m.epochs[key]
	t := &tracked{sess: newSession(key, location, now), epoch: epoch}
	m.sessions[key] = t
	return epoch, replaced
}

// Get returns a copy of the identity's session and its epoch.
func (m *Manager) Get(key string) (Session, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.sessions[key]
	if !ok {
		return Session{}, 0, false
	}
	return t.sess, t.epoch, true
}

// Update applies fn to the identity's session if epoch is still current.
// It returns the updated session and whether the update applied.
func (m *Manager) Update(key string, epoch uint64, fn func(Session) Session) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.sessions[key]
	if !ok || t.epoch != epoch {
		return Session{}, false
	}
	t.sess = fn(t.sess)
	return t.sess, true
}

// End destroys the identity's session if epoch is still current and
// bumps the epoch so in-flight work for it is discarded.
func (m *Manager) End(key string, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.sessions[key]
	if !ok || t.epoch != epoch {
		return false
	}
	delete(m.sessions, key)
	m.epochs[key]++
	return true
}

// EndAny destroys the identity's session regardless of epoch. It is the
// disconnect path, where the caller does not hold an epoch.
func (m *Manager) EndAny(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; !ok {
		return false
	}
	delete(m.sessions, key)
	m.epochs[key]++
	return true
}

// acquire returns the tracked entry for serialization. Callers lock its
// procMu, then re-read the session via Get to see the current value.
func (m *Manager) acquire(key string) (*tracked, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.sessions[key]
	return t, ok
}

// Snapshot returns copies of all live sessions.
func (m *Manager) Snapshot() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.sessions))
	for _, t := range m.sessions {
		out = append(out, t.sess)
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
