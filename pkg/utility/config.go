package utility

import (
	"fmt"
	"sort"
	"sync"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the utility providers based on flags. The returned Map
// is only usable once lflag.Configure has run.
func Configured() *Map {
	m := NewMap()
	m.SetProvider("octopus", configuredOctopus())
	m.SetProvider("tou", configuredTOU())
	m.selected = lflag.String("utility-provider", "octopus", "Name of the price feed to use (available: octopus, tou)")
	return m
}

// Map manages multiple utility providers.
type Map struct {
	mu        sync.Mutex
	providers map[string]Provider
	selected  *string
}

// NewMap creates a new utility Map.
func NewMap() *Map {
	return &Map{
		providers: make(map[string]Provider),
	}
}

// Provider returns the provider for the given name.
func (m *Map) Provider(name string) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prov, ok := m.providers[name]; ok {
		return prov, nil
	}
	return nil, fmt.Errorf("unknown utility provider: %s", name)
}

// Selected returns the provider chosen with --utility-provider.
func (m *Map) Selected() (Provider, error) {
	if m.selected == nil {
		return nil, fmt.Errorf("no utility provider selected")
	}
	return m.Provider(*m.selected)
}

// SelectedName returns the name passed to --utility-provider.
func (m *Map) SelectedName() string {
	if m.selected == nil {
		return ""
	}
	return *m.selected
}

// SetSelected chooses the provider Selected returns.
func (m *Map) SetSelected(name string) {
	m.selected = &name
}

// Names returns the registered provider names, sorted.
func (m *Map) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetProvider sets the provider for the given name. This is primarily used for testing.
func (m *Map) SetProvider(name string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = provider
}
