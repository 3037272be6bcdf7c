// Package registry implements the Integration Registry (§4.6): an
// in-memory catalogue of installed integrations keyed by normalized id.
package registry

import (
	"strings"
	"sync"

	"github.com/reins-ai/agentd/pkg/agentderr"
	"github.com/reins-ai/agentd/pkg/integration"
)

// RegisteredIntegration pairs an integration's manifest, mutable config, and
// plug-in implementation. The Registry exclusively owns these value
// objects (§3); callers get pointers into registry-owned state, but only
// Config.Enabled is meant to be mutated, and only through Enable/Disable.
type RegisteredIntegration struct {
	Manifest integration.Manifest
	Config   integration.Config
	Plugin   integration.Plugin
}

// Registry is the Integration Registry contract.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*RegisteredIntegration
}

func New() *Registry {
	return &Registry{items: make(map[string]*RegisteredIntegration)}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register adds a new integration as disabled. Duplicate ids are refused.
func (r *Registry) Register(manifest integration.Manifest, plugin integration.Plugin) error {
	id := normalizeID(manifest.ID)
	if id == "" {
		return agentderr.New(agentderr.CodeValidation, "registry: integration id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; exists {
		return agentderr.New(agentderr.CodeValidation, "registry: integration \""+id+"\" already registered")
	}

	manifest.ID = id
	r.items[id] = &RegisteredIntegration{
		Manifest: manifest,
		Config:   integration.Config{ID: id, Enabled: false},
		Plugin:   plugin,
	}
	return nil
}

// Get returns the registered integration for id, or an error if unknown.
func (r *Registry) Get(id string) (*RegisteredIntegration, error) {
	id = normalizeID(id)
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, agentderr.New(agentderr.CodeValidation, "registry: unknown integration \""+id+"\"")
	}
	return item, nil
}

// List returns every registered integration in no particular order.
func (r *Registry) List() []*RegisteredIntegration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*RegisteredIntegration, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	return out
}

// Enable flips the config flag only; it performs no connection work (that
// is the Lifecycle Manager's responsibility).
func (r *Registry) Enable(id string) error {
	return r.setEnabled(id, true)
}

// Disable flips the config flag only.
func (r *Registry) Disable(id string) error {
	return r.setEnabled(id, false)
}

func (r *Registry) setEnabled(id string, enabled bool) error {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return agentderr.New(agentderr.CodeValidation, "registry: unknown integration \""+id+"\"")
	}
	item.Config.Enabled = enabled
	return nil
}
