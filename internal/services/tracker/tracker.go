// Package tracker records decision outcomes and derives per-agent
// performance scores consumed by the performance weighting strategy.
package tracker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const (
	// defaultScore is assumed for agents with no recorded history yet.
	defaultScore = 0.5
	// alpha is the EWMA smoothing factor for outcome updates.
	alpha = 0.2
)

// Tracker is an in-memory performance tracker using an exponentially
// weighted moving average of fill outcomes per contributing agent.
type Tracker struct {
	mu     sync.RWMutex
	scores map[string]float64
	logger *zap.Logger
}

// New creates an empty tracker.
func New(logger *zap.Logger) *Tracker {
	return &Tracker{
		scores: make(map[string]float64),
		logger: logger,
	}
}

// RecordDecision updates scores for every agent that contributed to the
// decision based on the execution result.
func (t *Tracker) RecordDecision(decision *domain.TradingDecision, result domain.ExecutionResult) {
	outcome := 0.0
	switch result.Status {
	case domain.OrderFilled, domain.OrderSubmitted:
		outcome = 1.0
	case domain.OrderPartiallyFilled:
		outcome = 0.5
	}

	t.mu.Lock()
	for _, agentID := range decision.Aggregated.Contributors {
		current, ok := t.scores[agentID]
		if !ok {
			current = defaultScore
		}
		t.scores[agentID] = current + alpha*(outcome-current)
	}
	t.mu.Unlock()

	t.logger.Debug("decision recorded",
		zap.String("decision", decision.Aggregated.ID),
		zap.String("status", string(result.Status)),
		zap.Int("agents", len(decision.Aggregated.Contributors)))
}

// PerformanceScore returns the agent's score in [0,1].
func (t *Tracker) PerformanceScore(agentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	score, ok := t.scores[agentID]
	if !ok {
		return defaultScore
	}
	return score
}
