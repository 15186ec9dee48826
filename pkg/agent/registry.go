package agent

import (
	"sort"
	"sync"
)

/*
Registry maps agent ids to capabilities.  It is an explicit value built at
composition time and passed into the protocol handler by dependency
injection; nothing in this repository reaches for it as ambient global
state.  Registration happens during startup, lookups happen concurrently
afterwards.
*/
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
	}
}

// Register binds an agent under the given id, replacing any previous binding.
func (r *Registry) Register(id string, ag Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = ag
}

// Lookup returns the agent bound to id, if any.
func (r *Registry) Lookup(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.agents[id]
	return ag, ok
}

// IDs returns the registered agent ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
