// Package riskgate enforces the block/allow policy around the external risk
// manager at the two checkpoints of a decision's life: right after
// aggregation and right before order submission.
package riskgate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/events"
)

type riskManager interface {
	Assess(decision *domain.AggregatedDecision) domain.RiskAssessment
	CanExecute(decision *domain.TradingDecision, current domain.RiskSnapshot) bool
	CurrentPortfolioRisk() domain.RiskSnapshot
}

type publisher interface {
	Publish(topic events.Topic, payload any)
}

// TradeBlock is the payload published on trade_blocked.
type TradeBlock struct {
	DecisionID string `json:"decision_id"`
	Pair       string `json:"pair"`
	Stage      string `json:"stage"` // "pre" or "final"
	Level      string `json:"level"`
	Reason     string `json:"reason"`
}

// Gate validates decisions against portfolio risk. It owns no scoring logic;
// the risk manager does, and the gate only decides block/allow and emits
// events.
type Gate struct {
	risk   riskManager
	bus    publisher
	logger *zap.Logger

	mu        sync.RWMutex
	lastLevel domain.RiskLevel
}

// New creates a risk gate.
func New(risk riskManager, bus publisher, logger *zap.Logger) *Gate {
	return &Gate{risk: risk, bus: bus, logger: logger}
}

// PreCheck scores a freshly aggregated decision. High and critical risk
// blocks it from ever entering the queue.
func (g *Gate) PreCheck(decision *domain.AggregatedDecision) (domain.RiskAssessment, bool) {
	assessment := g.risk.Assess(decision)
	g.noteLevel(assessment.Level)

	if assessment.Level >= domain.RiskHigh {
		g.block(decision.ID, decision.Pair.String(), "pre", assessment)
		return assessment, false
	}
	return assessment, true
}

// FinalCheck re-validates a dequeued decision against fresh portfolio state.
// A previously approved decision may still be rejected here.
func (g *Gate) FinalCheck(decision *domain.TradingDecision) (domain.RiskSnapshot, bool) {
	current := g.risk.CurrentPortfolioRisk()
	g.noteLevel(current.Level)

	if !g.risk.CanExecute(decision, current) {
		g.block(decision.Aggregated.ID, decision.Aggregated.Pair.String(), "final", domain.RiskAssessment{
			Level:  current.Level,
			Reason: "portfolio risk changed since queueing",
		})
		return current, false
	}
	return current, true
}

// LastLevel returns the most recent risk level observed at either checkpoint.
func (g *Gate) LastLevel() domain.RiskLevel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastLevel
}

func (g *Gate) noteLevel(level domain.RiskLevel) {
	g.mu.Lock()
	changed := level != g.lastLevel
	g.lastLevel = level
	g.mu.Unlock()

	if changed {
		g.bus.Publish(events.TopicRiskStatusChanged, level.String())
	}
}

func (g *Gate) block(decisionID, pair, stage string, assessment domain.RiskAssessment) {
	g.logger.Warn("trade blocked",
		zap.String("decision", decisionID),
		zap.String("pair", pair),
		zap.String("stage", stage),
		zap.String("level", assessment.Level.String()),
		zap.String("reason", assessment.Reason))
	g.bus.Publish(events.TopicTradeBlocked, TradeBlock{
		DecisionID: decisionID,
		Pair:       pair,
		Stage:      stage,
		Level:      assessment.Level.String(),
		Reason:     assessment.Reason,
	})
}
