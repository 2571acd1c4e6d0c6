// Package consensus converts a bucket of agent signals into a single
// weighted trading decision.
package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// ErrNoValidSignals every signal in the bucket expired before aggregation.
var ErrNoValidSignals = errors.New("no valid signals to aggregate")

type pricer interface {
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// Aggregator performs weighted voting over a signal bucket.
type Aggregator struct {
	strategy WeightingStrategy
	pricer   pricer
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	minScore float64 // consensus floor below which the outcome is forced to hold
}

// NewAggregator creates an aggregator with the given weighting strategy and
// consensus floor.
func NewAggregator(strategy WeightingStrategy, pricer pricer, minScore float64, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		strategy: strategy,
		pricer:   pricer,
		minScore: minScore,
		logger:   logger,
		now:      time.Now,
	}
}

// MinScore returns the current consensus floor.
func (a *Aggregator) MinScore() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.minScore
}

// SetMinScore raises or lowers the consensus floor; the halt controller uses
// it for the reduce-activity policy.
func (a *Aggregator) SetMinScore(v float64) {
	a.mu.Lock()
	a.minScore = v
	a.mu.Unlock()

	a.logger.Info("consensus floor updated", zap.Float64("min_score", v))
}

// Aggregate produces one decision from a non-empty signal bucket.
// Signals that expired while the bucket waited are discarded first.
func (a *Aggregator) Aggregate(ctx context.Context, key domain.BucketKey, signals []domain.Signal) (*domain.AggregatedDecision, error) {
	now := a.now()
	valid := signals[:0:0]
	for _, s := range signals {
		if !s.Expired(now) {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoValidSignals
	}

	// weights are normalized over the whole bucket, so a group's score is the
	// weighted share of total confidence voting for that action
	weights := a.strategy.Weights(valid)

	var scores domain.GroupScores
	var buyGroup, sellGroup, holdGroup []domain.Signal
	for i, s := range valid {
		vote := weights[i] * s.Confidence
		switch s.Type {
		case domain.SignalBuy:
			scores.Buy += vote
			buyGroup = append(buyGroup, s)
		case domain.SignalSell:
			scores.Sell += vote
			sellGroup = append(sellGroup, s)
		default:
			scores.Hold += vote
			holdGroup = append(holdGroup, s)
		}
	}

	winningType, winners, forced := a.pickWinner(scores, buyGroup, sellGroup, holdGroup)

	decision := &domain.AggregatedDecision{
		ID:        uuid.NewString(),
		Category:  key.Category,
		Type:      winningType,
		Scores:    scores,
		Forced:    forced,
		CreatedAt: now,
	}
	decision.Pair = valid[0].Pair

	switch winningType {
	case domain.SignalBuy:
		decision.Confidence = clamp01(scores.Buy)
	case domain.SignalSell:
		decision.Confidence = clamp01(scores.Sell)
	default:
		decision.Confidence = clamp01(scores.Hold)
	}

	if len(winners) > 0 {
		a.fillFromGroup(decision, winners)
	} else {
		// pure-hold fallback with no hold signals: anchor on the market price
		price, err := a.pricer.GetPrice(ctx, decision.Pair)
		if err != nil {
			return nil, errors.Wrap(err, "market price fallback")
		}
		decision.TargetPrice = price
	}

	a.logger.Debug("bucket aggregated",
		zap.String("key", key.String()),
		zap.String("decision", decision.ID),
		zap.String("type", winningType.String()),
		zap.Float64("confidence", decision.Confidence),
		zap.Int("signals", len(valid)))

	return decision, nil
}

// pickWinner applies the consensus floor and the strict-maximum rule.
// Ties break in favor of buy over sell over hold.
func (a *Aggregator) pickWinner(scores domain.GroupScores, buy, sell, hold []domain.Signal) (domain.SignalType, []domain.Signal, bool) {
	if scores.Max() < a.MinScore() {
		return domain.SignalHold, hold, true
	}

	switch {
	case scores.Buy >= scores.Sell && scores.Buy >= scores.Hold:
		return domain.SignalBuy, buy, false
	case scores.Sell >= scores.Hold:
		return domain.SignalSell, sell, false
	default:
		return domain.SignalHold, hold, false
	}
}

// fillFromGroup computes confidence-weighted price targets over the winning
// group and collects contributors.
func (a *Aggregator) fillFromGroup(decision *domain.AggregatedDecision, group []domain.Signal) {
	var (
		confSum, slConfSum, tpConfSum decimal.Decimal
		priceAcc, slAcc, tpAcc        decimal.Decimal
		maxSize                       decimal.Decimal
		expiresAt                     time.Time
	)

	for _, s := range group {
		conf := decimal.NewFromFloat(s.Confidence)
		confSum = confSum.Add(conf)
		priceAcc = priceAcc.Add(s.TargetPrice.Mul(conf))

		if s.StopLoss.GreaterThan(decimal.Zero) {
			slConfSum = slConfSum.Add(conf)
			slAcc = slAcc.Add(s.StopLoss.Mul(conf))
		}
		if s.TakeProfit.GreaterThan(decimal.Zero) {
			tpConfSum = tpConfSum.Add(conf)
			tpAcc = tpAcc.Add(s.TakeProfit.Mul(conf))
		}
		if s.MaxPositionSize.GreaterThan(decimal.Zero) {
			if maxSize.IsZero() || s.MaxPositionSize.LessThan(maxSize) {
				maxSize = s.MaxPositionSize
			}
		}
		if !s.ExpiresAt.IsZero() && (expiresAt.IsZero() || s.ExpiresAt.Before(expiresAt)) {
			expiresAt = s.ExpiresAt
		}

		decision.Contributors = append(decision.Contributors, s.AgentID)
	}

	if confSum.GreaterThan(decimal.Zero) {
		decision.TargetPrice = priceAcc.Div(confSum)
	} else {
		// all-zero confidence group: plain average
		decision.TargetPrice = plainAverage(group)
	}
	if slConfSum.GreaterThan(decimal.Zero) {
		decision.StopLoss = slAcc.Div(slConfSum)
	}
	if tpConfSum.GreaterThan(decimal.Zero) {
		decision.TakeProfit = tpAcc.Div(tpConfSum)
	}
	decision.MaxSize = maxSize
	decision.ExpiresAt = expiresAt
}

func plainAverage(group []domain.Signal) decimal.Decimal {
	var sum decimal.Decimal
	for _, s := range group {
		sum = sum.Add(s.TargetPrice)
	}
	return sum.Div(decimal.NewFromInt(int64(len(group))))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
