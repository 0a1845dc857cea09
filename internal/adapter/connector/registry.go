// Package connector holds the connector registry and the simulation
// connector used for local development and tests. Real connectors (ComfyUI,
// OpenAI, Replicate) live with the workers; the broker core only needs the
// contract, for recovery-time reconciliation.
package connector

import (
	"sync"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Registry maps service tags to connectors. Registration happens during
// startup; afterwards the registry is effectively immutable.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]domain.Connector
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]domain.Connector)}
}

// Register binds a connector to every service it advertises.
func (r *Registry) Register(c domain.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, svc := range c.Capabilities().Services {
		r.connectors[svc] = c
	}
}

// ConnectorFor resolves the connector for a service tag.
func (r *Registry) ConnectorFor(service string) (domain.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[service]
	return c, ok
}
