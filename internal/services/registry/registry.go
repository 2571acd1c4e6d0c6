// Package registry keeps track of the active strategy agents and their
// weights used by performance-based consensus weighting.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry is an in-memory agent registry.
type Registry struct {
	mu      sync.RWMutex
	weights map[string]float64
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		weights: make(map[string]float64),
		logger:  logger,
	}
}

// Register adds an agent with the given weight. Weights are clamped to [0,1].
func (r *Registry) Register(agentID string, weight float64) {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}

	r.mu.Lock()
	r.weights[agentID] = weight
	r.mu.Unlock()

	r.logger.Info("agent registered", zap.String("agent", agentID), zap.Float64("weight", weight))
}

// Deregister removes an agent from the active set.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	delete(r.weights, agentID)
	r.mu.Unlock()

	r.logger.Info("agent deregistered", zap.String("agent", agentID))
}

// ActiveAgents returns the sorted list of active agent IDs.
func (r *Registry) ActiveAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.weights))
	for id := range r.weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveCount returns the number of active agents.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.weights)
}

// IsActive reports whether the agent is in the active set.
func (r *Registry) IsActive(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.weights[agentID]
	return ok
}

// Weight returns the configured weight for the agent, zero if unknown.
func (r *Registry) Weight(agentID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.weights[agentID]
}
