// Package settings provides settings store adapters.
package settings

import (
	"maps"
	"sync"

	"github.com/jobrunner/mapshell/internal/ports/output"
)

// Memory is a SettingsStore that lives for the process only.
type Memory struct {
	mu     sync.RWMutex
	values map[string]map[string]any
}

var _ output.SettingsStore = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]map[string]any)}
}

// Value implements output.SettingsStore.
func (m *Memory) Value(category, key string, def any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[category][key]; ok {
		return v
	}
	return def
}

// SetValue implements output.SettingsStore.
func (m *Memory) SetValue(category, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set(m.values, category, key, value)
	return nil
}

// Category implements output.SettingsStore.
func (m *Memory) Category(category string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values[category]))
	maps.Copy(out, m.values[category])
	return out, nil
}

// ResetCategory implements output.SettingsStore.
func (m *Memory) ResetCategory(category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, category)
	return nil
}

func set(values map[string]map[string]any, category, key string, value any) {
	if values[category] == nil {
		values[category] = make(map[string]any)
	}
	values[category][key] = value
}
