// Package backend holds the descriptor set for configured upstreams and
// the two live control-plane slots: the default backend and the smart
// routing flag.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pysugar/llm-proxy/internal/config"
)

// Dialect identifies one of the three supported wire protocols.
type Dialect string

const (
	DialectMessages        Dialect = "messages"
	DialectChatCompletions Dialect = "chat-completions"
	DialectResponses       Dialect = "responses"
)

// Backend describes one upstream inference service. Immutable after load.
type Backend struct {
	Name          string
	URL           string
	Dialect       Dialect
	Specialties   []string
	ContextWindow int
	Speed         string
	Premium       bool
}

// HasSpecialty reports whether the backend declares the given tag.
func (b *Backend) HasSpecialty(tag string) bool {
	for _, s := range b.Specialties {
		if s == tag {
			return true
		}
	}
	return false
}

// Registry is the descriptor set plus the mutable default slot and smart
// routing flag. Pipeline readers take the read lease for the duration of
// a routing decision; control-plane writers hold the write lease only
// momentarily.
type Registry struct {
	mu           sync.RWMutex
	backends     map[string]*Backend
	defaultName  string
	smartRouting bool
}

// NewRegistry builds the registry from config. The default backend is
// validated at config load time; it is re-checked here as a safety net.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	backends := make(map[string]*Backend, len(cfg.Backends))
	for name, bc := range cfg.Backends {
		backends[name] = &Backend{
			Name:          name,
			URL:           bc.URL,
			Dialect:       Dialect(bc.Dialect),
			Specialties:   bc.Specialties,
			ContextWindow: bc.ContextWindow,
			Speed:         bc.Speed,
			Premium:       bc.Premium,
		}
	}
	if _, ok := backends[cfg.DefaultBackend]; !ok {
		return nil, fmt.Errorf("default backend %q not in descriptor set", cfg.DefaultBackend)
	}
	return &Registry{
		backends:     backends,
		defaultName:  cfg.DefaultBackend,
		smartRouting: cfg.Router.Enabled,
	}, nil
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Default returns the current default backend.
func (r *Registry) Default() *Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.defaultName]
}

// SetDefault switches the default backend slot. The new name must be in
// the descriptor set.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	r.defaultName = name
	return nil
}

// SmartRouting reports whether classification-based routing is enabled.
func (r *Registry) SmartRouting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.smartRouting
}

// SetSmartRouting toggles the smart routing flag.
func (r *Registry) SetSmartRouting(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.smartRouting = enabled
}

// Premium returns the premium backend, or nil if none is configured.
func (r *Registry) Premium() *Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		if b.Premium {
			return b
		}
	}
	return nil
}

// Smallest returns the backend with the smallest context window; used as
// the fast-model tier for realtime detection.
func (r *Registry) Smallest() *Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var smallest *Backend
	for _, b := range r.backends {
		if smallest == nil || b.ContextWindow < smallest.ContextWindow {
			smallest = b
		}
	}
	return smallest
}

// FirstWithWindow returns the first backend (by name order, for
// determinism) whose context window is at least tokens. Returns nil if
// none qualifies.
func (r *Registry) FirstWithWindow(tokens int) *Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if b := r.backends[name]; b.ContextWindow >= tokens {
			return b
		}
	}
	return nil
}

// Names returns all backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all backends, sorted by name.
func (r *Registry) All() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Backend, 0, len(names))
	for _, name := range names {
		out = append(out, r.backends[name])
	}
	return out
}
