// Package retry implements the bounded retry protocol shared by every step
// that asks a collaborator for work and then verifies it: act, verify,
// proceed on success, otherwise act again with the verifier's feedback until
// the attempt budget is spent.
//
// A Manager keeps per-key attempt bookkeeping across loops so a run can
// report how many attempts each step needed.
package retry

import (
	"sort"
	"sync"
)

// State tracks the attempts made under one key.
type State struct {
	Key       string `json:"key"`
	Attempts  int    `json:"attempts"`
	Max       int    `json:"max"`
	LastError string `json:"last_error,omitempty"`
	Succeeded bool   `json:"succeeded,omitempty"`
}

// Retries returns the number of attempts after the first.
func (s State) Retries() int {
	if s.Attempts == 0 {
		return 0
	}
	return s.Attempts - 1
}

// Exhausted reports whether the budget is spent without success.
func (s State) Exhausted() bool {
	return !s.Succeeded && s.Attempts >= s.Max
}

// Manager records attempt state per key. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{states: make(map[string]*State)}
}

// Begin starts (or restarts) bookkeeping for key with budget limit.
func (m *Manager) Begin(key string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = &State{Key: key, Max: limit}
}

// RecordAttempt counts one attempt under key. A failed attempt stores its
// feedback as the last error.
func (m *Manager) RecordAttempt(key string, success bool, feedback string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[key]
	if !ok {
		return
	}
	state.Attempts++
	if success {
		state.Succeeded = true
		state.LastError = ""
		return
	}
	state.LastError = feedback
}

// ShouldRetry reports whether key has budget left and has not succeeded.
func (m *Manager) ShouldRetry(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[key]
	if !ok {
		return false
	}
	return !state.Succeeded && state.Attempts < state.Max
}

// Get returns a copy of the state for key.
func (m *Manager) Get(key string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[key]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// Failed returns the keys whose budget ran out, sorted.
func (m *Manager) Failed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []string
	for key, state := range m.states {
		if state.Exhausted() {
			failed = append(failed, key)
		}
	}
	sort.Strings(failed)
	return failed
}

// All returns copies of every state, sorted by key.
func (m *Manager) All() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]State, 0, len(m.states))
	for _, state := range m.states {
		all = append(all, *state)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all
}

// Reset forgets key.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
}
