package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SignalType is the action an agent proposes.
type SignalType int

const (
	SignalBuy SignalType = iota
	SignalSell
	SignalHold
)

const (
	signalStringBuy  = "buy"
	signalStringSell = "sell"
	signalStringHold = "hold"
)

// String returns the string representation of the signal type.
func (s SignalType) String() string {
	switch s {
	case SignalBuy:
		return signalStringBuy
	case SignalSell:
		return signalStringSell
	case SignalHold:
		return signalStringHold
	default:
		return "unknown"
	}
}

// SignalCategory groups signals by the kind of strategy that produced them.
// Signals of different categories never share a decision bucket.
type SignalCategory string

const (
	CategoryTechnical SignalCategory = "technical"
	CategorySentiment SignalCategory = "sentiment"
	CategoryArbitrage SignalCategory = "arbitrage"
)

// IsValid reports whether the category is one of the known values.
func (c SignalCategory) IsValid() bool {
	switch c {
	case CategoryTechnical, CategorySentiment, CategoryArbitrage:
		return true
	}
	return false
}

// Signal is a single agent's proposed trading action. Immutable once created.
type Signal struct {
	AgentID         string
	Pair            Pair
	Category        SignalCategory
	Type            SignalType
	Confidence      float64
	TargetPrice     decimal.Decimal
	StopLoss        decimal.Decimal // zero means not set
	TakeProfit      decimal.Decimal // zero means not set
	MaxPositionSize decimal.Decimal
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Validate checks the signal's structural invariants.
func (s *Signal) Validate() error {
	if s.AgentID == "" {
		return errors.New("agent id is required")
	}
	if s.Pair.From == "" || s.Pair.To == "" {
		return errors.New("pair is required")
	}
	if !s.Category.IsValid() {
		return fmt.Errorf("invalid signal category: %s", s.Category)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range [0,1]", s.Confidence)
	}
	if s.TargetPrice.LessThanOrEqual(decimal.Zero) {
		return errors.New("target price must be greater than 0")
	}
	return nil
}

// Expired reports whether the signal is past its expiry at the given time.
func (s *Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// BucketKey identifies the decision bucket a signal belongs to.
type BucketKey struct {
	Pair     string
	Category SignalCategory
}

// Key returns the bucket key for the signal.
func (s *Signal) Key() BucketKey {
	return BucketKey{Pair: s.Pair.String(), Category: s.Category}
}

// String returns a human-readable bucket key.
func (k BucketKey) String() string {
	return fmt.Sprintf("%s/%s", k.Pair, k.Category)
}
