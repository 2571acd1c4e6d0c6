// Package risk provides the default portfolio risk manager consumed by the
// risk gate and the execution scheduler. Scoring is deliberately simple:
// exposure thresholds against the allocated balance. Detailed portfolio
// mathematics live with the external risk service in production setups.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// Manager scores decisions against current portfolio exposure and sizes
// positions through a risk budget.
type Manager struct {
	mu           sync.RWMutex
	balance      decimal.Decimal
	exposure     decimal.Decimal
	budget       domain.RiskBudget
	sizingFactor decimal.Decimal // 1.0 normally, shrunk under reduce-activity policy
	logger       *zap.Logger
}

// NewManager creates a risk manager allocating budgetPercent of balance per trade.
func NewManager(balance decimal.Decimal, budgetPercent float64, logger *zap.Logger) *Manager {
	return &Manager{
		balance:      balance,
		budget:       domain.NewRiskBudget(budgetPercent),
		sizingFactor: decimal.NewFromInt(1),
		logger:       logger,
	}
}

// Assess scores a single decision. Low-confidence actions and portfolio
// exposure ratios above the thresholds raise the level.
func (m *Manager) Assess(decision *domain.AggregatedDecision) domain.RiskAssessment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ratio := m.exposureRatioLocked()
	switch {
	case ratio >= 0.95:
		return domain.RiskAssessment{Level: domain.RiskCritical, Reason: "portfolio exposure exhausted"}
	case ratio >= 0.8:
		return domain.RiskAssessment{Level: domain.RiskHigh, Reason: "portfolio exposure above 80%"}
	case decision.Confidence < 0.3:
		return domain.RiskAssessment{Level: domain.RiskHigh, Reason: "low consensus confidence"}
	case ratio >= 0.5:
		return domain.RiskAssessment{Level: domain.RiskMedium, Reason: "portfolio exposure above 50%"}
	default:
		return domain.RiskAssessment{Level: domain.RiskLow, Reason: "within limits"}
	}
}

// CanExecute re-validates the decision against fresh portfolio state right
// before order submission.
func (m *Manager) CanExecute(decision *domain.TradingDecision, current domain.RiskSnapshot) bool {
	if current.Level >= domain.RiskHigh {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exposureRatioLocked() < 0.95
}

// PositionSize computes the order quantity for a decision, honoring the
// per-signal maximum size and the current sizing factor.
func (m *Manager) PositionSize(decision *domain.TradingDecision, current domain.RiskSnapshot) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := decision.Aggregated
	available := m.balance.Sub(m.exposure)
	_, amount := m.budget.Allocate(available, agg.TargetPrice, agg.MaxSize)

	amount = amount.Mul(m.sizingFactor)
	return amount
}

// CurrentPortfolioRisk returns a fresh snapshot of portfolio-level risk.
func (m *Manager) CurrentPortfolioRisk() domain.RiskSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	level := domain.RiskLow
	switch ratio := m.exposureRatioLocked(); {
	case ratio >= 0.95:
		level = domain.RiskCritical
	case ratio >= 0.8:
		level = domain.RiskHigh
	case ratio >= 0.5:
		level = domain.RiskMedium
	}

	return domain.RiskSnapshot{
		Level:    level,
		Exposure: m.exposure,
		At:       time.Now(),
	}
}

// AddExposure records value committed to an open position.
func (m *Manager) AddExposure(value decimal.Decimal) {
	m.mu.Lock()
	m.exposure = m.exposure.Add(value)
	m.mu.Unlock()
}

// ReleaseExposure returns value from a closed or cancelled position.
func (m *Manager) ReleaseExposure(value decimal.Decimal) {
	m.mu.Lock()
	m.exposure = m.exposure.Sub(value)
	if m.exposure.LessThan(decimal.Zero) {
		m.exposure = decimal.Zero
	}
	m.mu.Unlock()
}

// SetSizingFactor scales all subsequent position sizes; the halt controller
// shrinks it under the reduce-activity policy.
func (m *Manager) SetSizingFactor(factor decimal.Decimal) {
	if factor.LessThan(decimal.Zero) {
		factor = decimal.Zero
	}
	m.mu.Lock()
	m.sizingFactor = factor
	m.mu.Unlock()

	m.logger.Info("position sizing factor updated", zap.String("factor", factor.String()))
}

func (m *Manager) exposureRatioLocked() float64 {
	if m.balance.LessThanOrEqual(decimal.Zero) {
		return 1
	}
	ratio, _ := m.exposure.Div(m.balance).Float64()
	return ratio
}
