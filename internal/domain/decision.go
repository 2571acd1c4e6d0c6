package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GroupScores holds the weighted vote totals per signal type, kept for audit.
type GroupScores struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
	Hold float64 `json:"hold"`
}

// Max returns the highest of the three scores.
func (g GroupScores) Max() float64 {
	m := g.Buy
	if g.Sell > m {
		m = g.Sell
	}
	if g.Hold > m {
		m = g.Hold
	}
	return m
}

// AggregatedDecision is the single outcome produced from one decision bucket.
type AggregatedDecision struct {
	ID           string
	Pair         Pair
	Category     SignalCategory
	Type         SignalType
	Confidence   float64
	TargetPrice  decimal.Decimal
	StopLoss     decimal.Decimal // zero means not set
	TakeProfit   decimal.Decimal // zero means not set
	MaxSize      decimal.Decimal // tightest contributing limit, zero means unbounded
	Contributors []string
	Scores       GroupScores
	Forced       bool      // true when the confidence floor forced a hold
	ExpiresAt    time.Time // earliest contributing signal expiry, zero if none set
	CreatedAt    time.Time
}

// Actionable reports whether the decision should reach the execution queue.
// Hold decisions are recorded but never executed.
func (d *AggregatedDecision) Actionable() bool {
	return d.Type == SignalBuy || d.Type == SignalSell
}

// TradingDecision is a risk-approved decision owned by the execution scheduler
// from enqueue until it reaches a terminal state.
type TradingDecision struct {
	Aggregated AggregatedDecision
	Assessment RiskAssessment
	Priority   int
	RetryCount int
	CreatedAt  time.Time
}

// TimeToExpiry returns the remaining time before the decision's contributing
// signals expire, or a negative duration if already past.
func (d *TradingDecision) TimeToExpiry(now time.Time) time.Duration {
	if d.Aggregated.ExpiresAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return d.Aggregated.ExpiresAt.Sub(now)
}
