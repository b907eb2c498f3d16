// Package kv is the device-local key-value store: user identity, seen
// notifications, pending navigation, and the list of entries posted here.
package kv

import (
	"sort"
	"sync"
)

// Well-known keys.
const (
	KeyUserID            = "sonder-user-id"
	KeySeenNotifications = "sonder-seen-notifications"
	KeyNavLat            = "sonder-nav-lat"
	KeyNavLng            = "sonder-nav-lng"
	KeyMyEntries         = "sonder-my-entries"
)

// Store is a string key-value store. Implementations are safe for
// concurrent use. Set and Remove errors are for the caller to log; reads
// of a failing store report the key as absent.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns the stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
